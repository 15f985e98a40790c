package tracker

import (
	"context"
	"fmt"
)

// Page sizes used by the readers and the purge engine.
const (
	ReadPageSize   = 100
	DeletePageSize = 500
)

// PageLister fetches one page of a tracker's items. *Client implements it.
type PageLister interface {
	ItemsPage(ctx context.Context, trackerID, page, pageSize int) (*ItemPage, error)
}

// ReadAllItems returns every item reference of a tracker in server order.
//
// The total reported by page 1 fixes the page count; page 1 is reused and pages
// 2..P are fetched in order. Short or empty trailing pages are accepted. Any
// page failure fails the whole read.
func ReadAllItems(ctx context.Context, lister PageLister, trackerID, pageSize int) ([]ItemRef, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", pageSize)
	}

	first, err := lister.ItemsPage(ctx, trackerID, 1, pageSize)
	if err != nil {
		return nil, fmt.Errorf("read tracker %d page 1: %w", trackerID, err)
	}

	pages := (first.Total + pageSize - 1) / pageSize
	all := make([]ItemRef, 0, max(first.Total, len(first.ItemRefs)))
	all = append(all, first.ItemRefs...)

	for page := 2; page <= pages; page++ {
		p, err := lister.ItemsPage(ctx, trackerID, page, pageSize)
		if err != nil {
			return nil, fmt.Errorf("read tracker %d page %d: %w", trackerID, page, err)
		}
		all = append(all, p.ItemRefs...)
	}
	return all, nil
}

// ItemIDs returns the ids of refs in order.
func ItemIDs(refs []ItemRef) []int {
	ids := make([]int, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	return ids
}
