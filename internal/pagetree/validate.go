package pagetree

import (
	"fmt"
	"sort"

	"go-pagewatch/internal/data"

	"github.com/hashicorp/go-multierror"
)

// validate decodes records and checks that they form a single tree rooted at
// data.RootID. All violations are collected before giving up.
func validate(records []data.Record) (map[string]data.Item, error) {
	var result *multierror.Error

	items := make(map[string]data.Item, len(records))
	for _, rec := range records {
		item, err := data.DecodeItem(rec)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if item.ItemID() != rec.ID {
			result = multierror.Append(result, fmt.Errorf("record %s holds item %s", rec.ID, item.ItemID()))
			continue
		}
		if _, dup := items[rec.ID]; dup {
			result = multierror.Append(result, fmt.Errorf("duplicate item id %s", rec.ID))
			continue
		}
		items[rec.ID] = item
	}

	root, ok := items[data.RootID].(*data.Folder)
	if !ok {
		result = multierror.Append(result, fmt.Errorf("root folder %s is missing", data.RootID))
		return nil, result.ErrorOrNil()
	}
	if root.ParentID != "" {
		result = multierror.Append(result, fmt.Errorf("root folder has parent %s", root.ParentID))
	}

	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		item := items[id]
		if id != data.RootID {
			parent, ok := items[item.ItemParentID()].(*data.Folder)
			if !ok {
				result = multierror.Append(result, fmt.Errorf("item %s references missing parent folder %s", id, item.ItemParentID()))
			} else if n := count(parent.ChildIDs, id); n != 1 {
				result = multierror.Append(result, fmt.Errorf("item %s is listed %d times by its parent %s", id, n, parent.ID))
			}
		}

		folder, ok := item.(*data.Folder)
		if !ok {
			continue
		}
		for _, childID := range folder.ChildIDs {
			child, ok := items[childID]
			if !ok {
				result = multierror.Append(result, fmt.Errorf("folder %s lists missing child %s", id, childID))
				continue
			}
			if child.ItemParentID() != id {
				result = multierror.Append(result, fmt.Errorf("folder %s lists child %s owned by %s", id, childID, child.ItemParentID()))
			}
		}
	}

	// Everything must be reachable from the root exactly once.
	seen := make(map[string]bool, len(items))
	var walk func(id string)
	walk = func(id string) {
		if seen[id] {
			result = multierror.Append(result, fmt.Errorf("item %s is reachable more than once", id))
			return
		}
		seen[id] = true
		if f, ok := items[id].(*data.Folder); ok {
			for _, childID := range f.ChildIDs {
				if _, exists := items[childID]; exists {
					walk(childID)
				}
			}
		}
	}
	walk(data.RootID)
	for _, id := range ids {
		if !seen[id] {
			result = multierror.Append(result, fmt.Errorf("item %s is not reachable from the root", id))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return items, nil
}

func count(ids []string, id string) int {
	n := 0
	for _, v := range ids {
		if v == id {
			n++
		}
	}
	return n
}
