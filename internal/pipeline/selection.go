package pipeline

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/almseed/internal/tracker"
)

// Selection picks items of a tracker by name. The zero value selects nothing.
type Selection struct {
	All   bool     `json:"all"`
	Names []string `json:"names,omitempty"`
}

// SelectAll selects every item.
func SelectAll() Selection { return Selection{All: true} }

// SelectNames selects items whose name is one of names.
func SelectNames(names ...string) Selection { return Selection{Names: names} }

// Apply filters refs in server order. Items sharing a selected name are all kept.
func (s Selection) Apply(refs []tracker.ItemRef) []tracker.ItemRef {
	if s.All {
		return refs
	}
	want := make(map[string]struct{}, len(s.Names))
	for _, n := range s.Names {
		want[n] = struct{}{}
	}
	var out []tracker.ItemRef
	for _, r := range refs {
		if _, ok := want[r.Name]; ok {
			out = append(out, r)
		}
	}
	return out
}

// ResolveSelection reads a tracker and returns the ids of the selected items.
// It returns ErrNoItems when nothing matches.
func ResolveSelection(ctx context.Context, api tracker.PageLister, trackerID int, sel Selection) ([]int, error) {
	refs, err := tracker.ReadAllItems(ctx, api, trackerID, tracker.ReadPageSize)
	if err != nil {
		return nil, err
	}
	ids := tracker.ItemIDs(sel.Apply(refs))
	if len(ids) == 0 {
		return nil, fmt.Errorf("tracker %d: %w", trackerID, ErrNoItems)
	}
	return ids, nil
}
