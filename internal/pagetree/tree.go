// Package pagetree keeps the hierarchy of monitored pages and folders in
// memory and mirrors every mutation to a data.Store.
package pagetree

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-pagewatch/internal/data"
	"go-pagewatch/internal/logger"

	"github.com/google/uuid"
)

// ErrInvalidMove is returned when an item would be moved into itself or one
// of its descendants, or when the root is moved or deleted.
var ErrInvalidMove = errors.New("invalid move")

// Change describes a committed page mutation. Old is nil for a created page,
// New is nil for a deleted page.
type Change struct {
	Old *data.Page
	New *data.Page
}

// StateChanged reports whether the change affects what the badge shows: the
// page appeared, disappeared, or its change type or flag differ.
func (c Change) StateChanged() bool {
	if c.Old == nil || c.New == nil {
		return true
	}
	return c.Old.ChangeType != c.New.ChangeType || c.Old.ChangeFlagged != c.New.ChangeFlagged
}

// Observer is called synchronously after every committed page mutation.
type Observer func(pageID string, change Change)

// Tree is the in-memory page tree. Items are kept in id-indexed maps; folder
// child order lives in Folder.ChildIDs. Stored values are never mutated in
// place: every mutation builds copies, commits them, then swaps them in.
type Tree struct {
	mu      sync.RWMutex
	store   data.Store
	log     logger.Logger
	pages   map[string]*data.Page
	folders map[string]*data.Folder

	obsMu     sync.RWMutex
	observers []Observer

	newID func() string
}

// Load reconstructs the tree from the store. An empty store gets a fresh
// root folder. A persisted shape that violates the tree invariant yields a
// *data.StoreCorruptError.
func Load(ctx context.Context, store data.Store, log logger.Logger) (*Tree, error) {
	t := &Tree{
		store:   store,
		log:     log.With(map[string]interface{}{"component": "pagetree"}),
		pages:   make(map[string]*data.Page),
		folders: make(map[string]*data.Folder),
		newID:   uuid.NewString,
	}

	records, err := store.LoadRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load page tree: %w", err)
	}

	if len(records) == 0 {
		root := &data.Folder{ID: data.RootID, Title: "Root", ChildIDs: []string{}}
		var b data.Batch
		if err := b.PutItems(root); err != nil {
			return nil, err
		}
		if err := t.commit(ctx, "create root", b); err != nil {
			return nil, err
		}
		t.folders[root.ID] = root
		t.log.Info("Created empty page tree")
		return t, nil
	}

	items, err := validate(records)
	if err != nil {
		return nil, &data.StoreCorruptError{Err: err}
	}
	for id, item := range items {
		switch v := item.(type) {
		case *data.Page:
			t.pages[id] = v
		case *data.Folder:
			if v.ChildIDs == nil {
				v.ChildIDs = []string{}
			}
			t.folders[id] = v
		}
	}
	t.log.Info(fmt.Sprintf("Loaded page tree with %d pages and %d folders", len(t.pages), len(t.folders)))
	return t, nil
}

// BindPageUpdate registers an observer. Observers cannot be removed.
func (t *Tree) BindPageUpdate(observer Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, observer)
}

func (t *Tree) emit(pageID string, change Change) {
	t.obsMu.RLock()
	observers := append([]Observer(nil), t.observers...)
	t.obsMu.RUnlock()

	for _, observer := range observers {
		observer(pageID, change)
	}
}

// commit persists a batch, converting failures into *data.PersistError.
func (t *Tree) commit(ctx context.Context, op string, b data.Batch) error {
	if err := t.store.Commit(ctx, b); err != nil {
		t.log.Error(err, fmt.Sprintf("Failed to persist %s", op))
		return &data.PersistError{Op: op, Err: err}
	}
	return nil
}

// CreatePage adds a page as the last child of parentID.
func (t *Tree) CreatePage(ctx context.Context, parentID, url, title string) (*data.Page, error) {
	page := &data.Page{
		ParentID:   parentID,
		URL:        url,
		Title:      title,
		ChangeType: data.ChangeNone,
	}

	t.mu.Lock()
	page.ID = t.newID()
	if err := t.insertLocked(ctx, page); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	t.mu.Unlock()

	t.emit(page.ID, Change{New: page.Clone()})
	return page.Clone(), nil
}

// CreateWebsitePage adds the first-run page directly under the root.
func (t *Tree) CreateWebsitePage(ctx context.Context, url, title string) (*data.Page, error) {
	return t.CreatePage(ctx, data.RootID, url, title)
}

// CreateFolder adds a folder as the last child of parentID.
func (t *Tree) CreateFolder(ctx context.Context, parentID, title string) (*data.Folder, error) {
	folder := &data.Folder{ParentID: parentID, Title: title, ChildIDs: []string{}}

	t.mu.Lock()
	defer t.mu.Unlock()

	folder.ID = t.newID()
	if err := t.insertLocked(ctx, folder); err != nil {
		return nil, err
	}
	return folder.Clone(), nil
}

func (t *Tree) insertLocked(ctx context.Context, item data.Item) error {
	parent, ok := t.folders[item.ItemParentID()]
	if !ok {
		return &data.ParentNotFoundError{ParentID: item.ItemParentID()}
	}
	newParent := parent.Clone()
	newParent.ChildIDs = append(newParent.ChildIDs, item.ItemID())

	var b data.Batch
	if err := b.PutItems(item, newParent); err != nil {
		return err
	}
	if err := t.commit(ctx, "create "+string(item.ItemType()), b); err != nil {
		return err
	}

	t.folders[newParent.ID] = newParent
	switch v := item.(type) {
	case *data.Page:
		t.pages[v.ID] = v
	case *data.Folder:
		t.folders[v.ID] = v
	}
	return nil
}

// DeletePage removes a page.
func (t *Tree) DeletePage(ctx context.Context, id string) error {
	t.mu.Lock()
	page, ok := t.pages[id]
	if !ok {
		t.mu.Unlock()
		return &data.ItemNotFoundError{ID: id}
	}
	deleted, err := t.removeLocked(ctx, page)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	t.emitDeleted(deleted)
	return nil
}

// DeleteFolder removes a folder and, in the same commit, everything below it.
func (t *Tree) DeleteFolder(ctx context.Context, id string) error {
	t.mu.Lock()
	folder, ok := t.folders[id]
	if !ok {
		t.mu.Unlock()
		return &data.ItemNotFoundError{ID: id}
	}
	if id == data.RootID {
		t.mu.Unlock()
		return fmt.Errorf("cannot delete the root folder: %w", ErrInvalidMove)
	}
	deleted, err := t.removeLocked(ctx, folder)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	t.emitDeleted(deleted)
	return nil
}

func (t *Tree) emitDeleted(pages []*data.Page) {
	for _, p := range pages {
		t.emit(p.ID, Change{Old: p.Clone()})
	}
}

// removeLocked deletes item and its descendants and returns the deleted pages.
func (t *Tree) removeLocked(ctx context.Context, item data.Item) ([]*data.Page, error) {
	var ids []string
	var pages []*data.Page
	t.walkLocked(item.ItemID(), func(it data.Item) {
		ids = append(ids, it.ItemID())
		if p, ok := it.(*data.Page); ok {
			pages = append(pages, p)
		}
	})

	parent := t.folders[item.ItemParentID()].Clone()
	parent.ChildIDs = without(parent.ChildIDs, item.ItemID())

	b := data.Batch{Delete: ids}
	if err := b.PutItems(parent); err != nil {
		return nil, err
	}
	if err := t.commit(ctx, "delete "+string(item.ItemType()), b); err != nil {
		return nil, err
	}

	t.folders[parent.ID] = parent
	for _, id := range ids {
		delete(t.pages, id)
		delete(t.folders, id)
	}
	return pages, nil
}

// walkLocked visits id and its descendants in pre-order.
func (t *Tree) walkLocked(id string, visit func(data.Item)) {
	if p, ok := t.pages[id]; ok {
		visit(p)
		return
	}
	f, ok := t.folders[id]
	if !ok {
		return
	}
	visit(f)
	for _, child := range f.ChildIDs {
		t.walkLocked(child, visit)
	}
}

// GetItem returns a copy of the page or folder with the given id.
func (t *Tree) GetItem(id string) (data.Item, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if p, ok := t.pages[id]; ok {
		return p.Clone(), nil
	}
	if f, ok := t.folders[id]; ok {
		return f.Clone(), nil
	}
	return nil, &data.ItemNotFoundError{ID: id}
}

// GetPage returns a copy of the page with the given id.
func (t *Tree) GetPage(id string) (*data.Page, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.pages[id]
	if !ok {
		return nil, &data.ItemNotFoundError{ID: id}
	}
	return p.Clone(), nil
}

// GetFolder returns a copy of the folder with the given id.
func (t *Tree) GetFolder(id string) (*data.Folder, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	f, ok := t.folders[id]
	if !ok {
		return nil, &data.ItemNotFoundError{ID: id}
	}
	return f.Clone(), nil
}

// Items returns every item reachable from the root in pre-order.
func (t *Tree) Items() []data.Item {
	t.mu.RLock()
	defer t.mu.RUnlock()

	items := make([]data.Item, 0, len(t.pages)+len(t.folders))
	t.walkLocked(data.RootID, func(it data.Item) {
		switch v := it.(type) {
		case *data.Page:
			items = append(items, v.Clone())
		case *data.Folder:
			items = append(items, v.Clone())
		}
	})
	return items
}

// GetPageList returns all pages.
func (t *Tree) GetPageList() []*data.Page {
	pages, _ := t.GetDescendantPages(data.RootID)
	return pages
}

// GetChangedPageList returns all pages with an unacknowledged change.
func (t *Tree) GetChangedPageList() []*data.Page {
	var changed []*data.Page
	for _, p := range t.GetPageList() {
		if p.ChangeFlagged {
			changed = append(changed, p)
		}
	}
	return changed
}

// FlaggedCount returns the number of pages with an unacknowledged change.
func (t *Tree) FlaggedCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, p := range t.pages {
		if p.ChangeFlagged {
			n++
		}
	}
	return n
}

// GetDescendantPages returns the pages below a folder in pre-order, or the
// page itself when id is a page.
func (t *Tree) GetDescendantPages(id string) ([]*data.Page, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.pages[id]; !ok {
		if _, ok := t.folders[id]; !ok {
			return nil, &data.ItemNotFoundError{ID: id}
		}
	}
	var pages []*data.Page
	t.walkLocked(id, func(it data.Item) {
		if p, ok := it.(*data.Page); ok {
			pages = append(pages, p.Clone())
		}
	})
	return pages, nil
}

// updatePage commits a new version of a page built by fn from the current
// one. The in-memory page is only replaced once the commit succeeded.
func (t *Tree) updatePage(ctx context.Context, op, id string, fn func(old *data.Page) (*data.Page, error)) (*data.Page, error) {
	t.mu.Lock()
	old, ok := t.pages[id]
	if !ok {
		t.mu.Unlock()
		return nil, &data.ItemNotFoundError{ID: id}
	}
	updated, err := fn(old)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}

	var b data.Batch
	if err := b.PutItems(updated); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	if err := t.commit(ctx, op, b); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	t.pages[id] = updated
	t.mu.Unlock()

	t.emit(id, Change{Old: old.Clone(), New: updated.Clone()})
	return updated.Clone(), nil
}

// MarkViewed acknowledges a page's change. Stored content is left alone.
func (t *Tree) MarkViewed(ctx context.Context, id string) (*data.Page, error) {
	return t.updatePage(ctx, "mark viewed", id, func(old *data.Page) (*data.Page, error) {
		p := old.Clone()
		p.ChangeType = data.ChangeNone
		p.ChangeFlagged = false
		return p, nil
	})
}

// PageUpdate holds the user-editable page settings. Nil fields are left
// unchanged.
type PageUpdate struct {
	Title               *string
	URL                 *string
	ScanIntervalMinutes *int
}

// UpdatePage edits a page's settings. Changing the URL discards the stored
// snapshots so that the next scan takes a new baseline.
func (t *Tree) UpdatePage(ctx context.Context, id string, u PageUpdate) (*data.Page, error) {
	return t.updatePage(ctx, "update page", id, func(old *data.Page) (*data.Page, error) {
		p := old.Clone()
		if u.Title != nil {
			p.Title = *u.Title
		}
		if u.ScanIntervalMinutes != nil {
			p.ScanIntervalMinutes = *u.ScanIntervalMinutes
		}
		if u.URL != nil && *u.URL != old.URL {
			p.URL = *u.URL
			p.CurrentContent = ""
			p.PreviousContent = ""
			p.LastScanTime = time.Time{}
			p.LastError = ""
			p.ChangeType = data.ChangeNone
			p.ChangeFlagged = false
		}
		return p, nil
	})
}

// MoveItem moves an item under newParentID at position. A negative or too
// large position appends.
func (t *Tree) MoveItem(ctx context.Context, id, newParentID string, position int) error {
	t.mu.Lock()

	if id == data.RootID {
		t.mu.Unlock()
		return fmt.Errorf("cannot move the root folder: %w", ErrInvalidMove)
	}
	var item data.Item
	if p, ok := t.pages[id]; ok {
		item = p
	} else if f, ok := t.folders[id]; ok {
		item = f
	} else {
		t.mu.Unlock()
		return &data.ItemNotFoundError{ID: id}
	}
	if _, ok := t.folders[newParentID]; !ok {
		t.mu.Unlock()
		return &data.ParentNotFoundError{ParentID: newParentID}
	}
	if item.ItemType() == data.TypeFolder {
		inside := false
		t.walkLocked(id, func(it data.Item) {
			if it.ItemID() == newParentID {
				inside = true
			}
		})
		if inside {
			t.mu.Unlock()
			return fmt.Errorf("cannot move folder %s into itself: %w", id, ErrInvalidMove)
		}
	}

	oldParent := t.folders[item.ItemParentID()].Clone()
	oldParent.ChildIDs = without(oldParent.ChildIDs, id)
	newParent := oldParent
	if newParentID != oldParent.ID {
		newParent = t.folders[newParentID].Clone()
	}
	newParent.ChildIDs = insertAt(newParent.ChildIDs, id, position)

	var moved data.Item
	var oldPage, newPage *data.Page
	switch v := item.(type) {
	case *data.Page:
		oldPage = v
		newPage = v.Clone()
		newPage.ParentID = newParentID
		moved = newPage
	case *data.Folder:
		f := v.Clone()
		f.ParentID = newParentID
		moved = f
	}

	var b data.Batch
	parents := []data.Item{oldParent}
	if newParent != oldParent {
		parents = append(parents, newParent)
	}
	if err := b.PutItems(append(parents, moved)...); err != nil {
		t.mu.Unlock()
		return err
	}
	if err := t.commit(ctx, "move item", b); err != nil {
		t.mu.Unlock()
		return err
	}

	t.folders[oldParent.ID] = oldParent
	t.folders[newParent.ID] = newParent
	switch v := moved.(type) {
	case *data.Page:
		t.pages[v.ID] = v
	case *data.Folder:
		t.folders[v.ID] = v
	}
	t.mu.Unlock()

	if newPage != nil {
		t.emit(id, Change{Old: oldPage.Clone(), New: newPage.Clone()})
	}
	return nil
}

// RefreshFolderState recomputes every folder's HasChanges flag from its
// descendant pages and persists the folders whose flag changed.
func (t *Tree) RefreshFolderState(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var changed []*data.Folder
	var visit func(id string) bool
	visit = func(id string) bool {
		if p, ok := t.pages[id]; ok {
			return p.ChangeFlagged
		}
		f := t.folders[id]
		has := false
		for _, child := range f.ChildIDs {
			// Every child is visited so that nested folders are refreshed too.
			if visit(child) {
				has = true
			}
		}
		if has != f.HasChanges {
			c := f.Clone()
			c.HasChanges = has
			changed = append(changed, c)
		}
		return has
	}
	visit(data.RootID)

	if len(changed) == 0 {
		return nil
	}
	var b data.Batch
	for _, f := range changed {
		if err := b.PutItems(f); err != nil {
			return err
		}
	}
	if err := t.commit(ctx, "refresh folder state", b); err != nil {
		return err
	}
	for _, f := range changed {
		t.folders[f.ID] = f
	}
	return nil
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func insertAt(ids []string, id string, position int) []string {
	if position < 0 || position >= len(ids) {
		return append(ids, id)
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:position]...)
	out = append(out, id)
	return append(out, ids[position:]...)
}
