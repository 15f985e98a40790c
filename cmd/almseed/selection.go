package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/almseed/internal/pipeline"
)

// selectionFlags are the --all / --item flags shared by commands that act on
// existing items.
type selectionFlags struct {
	all   bool
	items []string
}

func (f *selectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.all, "all", false, "select every item")
	cmd.Flags().StringArrayVar(&f.items, "item", nil, "select an item by name (repeatable)")
}

func (f *selectionFlags) selection() (pipeline.Selection, error) {
	switch {
	case f.all && len(f.items) > 0:
		return pipeline.Selection{}, errors.New("use either --all or --item, not both")
	case f.all:
		return pipeline.SelectAll(), nil
	case len(f.items) > 0:
		return pipeline.SelectNames(f.items...), nil
	default:
		return pipeline.Selection{}, errors.New("select items with --all or --item")
	}
}
