//go:build unit

package pagetree

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go-pagewatch/internal/data"
	"go-pagewatch/internal/logger"

	"github.com/stretchr/testify/require"
)

// flakyStore wraps a store and fails commits while fail is set.
type flakyStore struct {
	data.Store
	mu   sync.Mutex
	fail bool
}

func (s *flakyStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *flakyStore) Commit(ctx context.Context, b data.Batch) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return s.Store.Commit(ctx, b)
}

// setupTreeTest loads a tree on top of an in-memory store.
func setupTreeTest(t *testing.T) (*Tree, *flakyStore, func()) {
	t.Helper()
	store := &flakyStore{Store: data.NewMemoryStore()}
	tree, err := Load(context.Background(), store, logger.Nop())
	require.NoError(t, err)
	return tree, store, func() { store.Close() }
}

func ids(pages []*data.Page) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.ID
	}
	return out
}

func TestLoad_EmptyStoreCreatesRoot(t *testing.T) {
	tree, store, teardown := setupTreeTest(t)
	defer teardown()

	root, err := tree.GetFolder(data.RootID)
	require.NoError(t, err)
	require.Empty(t, root.ChildIDs)

	records, err := store.LoadRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	tree, store, teardown := setupTreeTest(t)
	defer teardown()

	f, err := tree.CreateFolder(ctx, data.RootID, "News")
	require.NoError(t, err)
	p1, err := tree.CreatePage(ctx, f.ID, "https://a.example", "A")
	require.NoError(t, err)
	p2, err := tree.CreatePage(ctx, data.RootID, "https://b.example", "B")
	require.NoError(t, err)

	reloaded, err := Load(ctx, store, logger.Nop())
	require.NoError(t, err)
	require.Equal(t, []string{p1.ID, p2.ID}, ids(reloaded.GetPageList()))

	page, err := reloaded.GetPage(p1.ID)
	require.NoError(t, err)
	require.Equal(t, f.ID, page.ParentID)
}

func TestLoad_CorruptShapes(t *testing.T) {
	page := func(id, parent string) data.Item {
		return &data.Page{ID: id, ParentID: parent, ChangeType: data.ChangeNone}
	}
	folder := func(id, parent string, children ...string) data.Item {
		return &data.Folder{ID: id, ParentID: parent, ChildIDs: children}
	}

	tests := []struct {
		name  string
		items []data.Item
	}{
		{"missing root", []data.Item{page("p1", "f1")}},
		{"root is a page", []data.Item{page(data.RootID, "")}},
		{"orphan page", []data.Item{folder(data.RootID, ""), page("p1", "gone")}},
		{"child not listed", []data.Item{folder(data.RootID, ""), page("p1", data.RootID)}},
		{"child listed twice", []data.Item{folder(data.RootID, "", "p1", "p1"), page("p1", data.RootID)}},
		{"missing child", []data.Item{folder(data.RootID, "", "p1")}},
		{"parent is a page", []data.Item{folder(data.RootID, "", "p1"), page("p1", data.RootID), page("p2", "p1")}},
		{"cycle", []data.Item{
			folder(data.RootID, ""),
			folder("a", "b", "b"),
			folder("b", "a", "a"),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := data.NewMemoryStore()
			var b data.Batch
			require.NoError(t, b.PutItems(tt.items...))
			require.NoError(t, store.Commit(context.Background(), b))

			_, err := Load(context.Background(), store, logger.Nop())
			var corrupt *data.StoreCorruptError
			require.ErrorAs(t, err, &corrupt)
		})
	}
}

func TestLoad_UndecodableRecord(t *testing.T) {
	store := data.NewMemoryStore()
	var b data.Batch
	require.NoError(t, b.PutItems(&data.Folder{ID: data.RootID}))
	b.Put = append(b.Put, data.Record{ID: "x", Type: data.TypePage, Body: []byte("{")})
	require.NoError(t, store.Commit(context.Background(), b))

	_, err := Load(context.Background(), store, logger.Nop())
	var corrupt *data.StoreCorruptError
	require.ErrorAs(t, err, &corrupt)
}

func TestCreatePage_UnknownParent(t *testing.T) {
	ctx := context.Background()
	tree, _, teardown := setupTreeTest(t)
	defer teardown()

	_, err := tree.CreatePage(ctx, "nope", "https://a.example", "A")
	var notFound *data.ParentNotFoundError
	require.ErrorAs(t, err, &notFound)

	p, err := tree.CreatePage(ctx, data.RootID, "https://a.example", "A")
	require.NoError(t, err)

	// A page cannot be a parent.
	_, err = tree.CreatePage(ctx, p.ID, "https://b.example", "B")
	require.ErrorAs(t, err, &notFound)
}

func TestGetDescendantPages_PreOrder(t *testing.T) {
	ctx := context.Background()
	tree, _, teardown := setupTreeTest(t)
	defer teardown()

	p1, _ := tree.CreatePage(ctx, data.RootID, "https://1.example", "1")
	f1, _ := tree.CreateFolder(ctx, data.RootID, "F1")
	p2, _ := tree.CreatePage(ctx, f1.ID, "https://2.example", "2")
	f2, _ := tree.CreateFolder(ctx, f1.ID, "F2")
	p3, _ := tree.CreatePage(ctx, f2.ID, "https://3.example", "3")
	p4, _ := tree.CreatePage(ctx, f1.ID, "https://4.example", "4")

	pages, err := tree.GetDescendantPages(data.RootID)
	require.NoError(t, err)
	require.Equal(t, []string{p1.ID, p2.ID, p3.ID, p4.ID}, ids(pages))

	pages, err = tree.GetDescendantPages(f1.ID)
	require.NoError(t, err)
	require.Equal(t, []string{p2.ID, p3.ID, p4.ID}, ids(pages))

	pages, err = tree.GetDescendantPages(p3.ID)
	require.NoError(t, err)
	require.Equal(t, []string{p3.ID}, ids(pages))

	_, err = tree.GetDescendantPages("missing")
	var notFound *data.ItemNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestDeleteFolder_Cascades(t *testing.T) {
	ctx := context.Background()
	tree, store, teardown := setupTreeTest(t)
	defer teardown()

	f, _ := tree.CreateFolder(ctx, data.RootID, "F")
	p1, _ := tree.CreatePage(ctx, f.ID, "https://1.example", "P1")
	p2, _ := tree.CreatePage(ctx, f.ID, "https://2.example", "P2")
	f2, _ := tree.CreateFolder(ctx, f.ID, "F2")
	p3, _ := tree.CreatePage(ctx, f2.ID, "https://3.example", "P3")
	keep, _ := tree.CreatePage(ctx, data.RootID, "https://keep.example", "Keep")

	var deleted []string
	tree.BindPageUpdate(func(id string, c Change) {
		if c.New == nil {
			deleted = append(deleted, id)
		}
	})

	require.NoError(t, tree.DeleteFolder(ctx, f.ID))
	require.ElementsMatch(t, []string{p1.ID, p2.ID, p3.ID}, deleted)

	for _, id := range []string{f.ID, p1.ID, p2.ID, f2.ID, p3.ID} {
		_, err := tree.GetItem(id)
		var notFound *data.ItemNotFoundError
		require.ErrorAs(t, err, &notFound, id)
	}

	reloaded, err := Load(ctx, store, logger.Nop())
	require.NoError(t, err)
	require.Equal(t, []string{keep.ID}, ids(reloaded.GetPageList()))

	require.ErrorIs(t, tree.DeleteFolder(ctx, data.RootID), ErrInvalidMove)
}

func TestDeletePage_WrongKind(t *testing.T) {
	ctx := context.Background()
	tree, _, teardown := setupTreeTest(t)
	defer teardown()

	f, _ := tree.CreateFolder(ctx, data.RootID, "F")
	var notFound *data.ItemNotFoundError
	require.ErrorAs(t, tree.DeletePage(ctx, f.ID), &notFound)
}

func TestApplyScanResult_Flagging(t *testing.T) {
	ctx := context.Background()
	tree, _, teardown := setupTreeTest(t)
	defer teardown()

	p, _ := tree.CreatePage(ctx, data.RootID, "https://a.example", "https://a.example")
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// Baseline.
	got, err := tree.ApplyScanResult(ctx, p.ID, ScanResult{Content: "v1", ChangeType: data.ChangeNone, Title: "Site A", ScannedAt: at})
	require.NoError(t, err)
	require.Equal(t, "v1", got.CurrentContent)
	require.Equal(t, "Site A", got.Title)
	require.False(t, got.ChangeFlagged)

	// Unchanged.
	at = at.Add(time.Hour)
	got, err = tree.ApplyScanResult(ctx, p.ID, ScanResult{Content: "v1", ChangeType: data.ChangeNone, ScannedAt: at})
	require.NoError(t, err)
	require.False(t, got.ChangeFlagged)
	require.Equal(t, at, got.LastScanTime)

	// Minor then major: flagged, severity goes up.
	got, err = tree.ApplyScanResult(ctx, p.ID, ScanResult{Content: "v1 ", ChangeType: data.ChangeMinor, ScannedAt: at})
	require.NoError(t, err)
	require.True(t, got.ChangeFlagged)
	require.Equal(t, data.ChangeMinor, got.ChangeType)
	require.Equal(t, "v1", got.PreviousContent)

	got, err = tree.ApplyScanResult(ctx, p.ID, ScanResult{Content: "v2", ChangeType: data.ChangeMajor, ScannedAt: at})
	require.NoError(t, err)
	require.True(t, got.ChangeFlagged)
	require.Equal(t, data.ChangeMajor, got.ChangeType)

	// A pending major is not downgraded, nor cleared by an unchanged scan.
	got, err = tree.ApplyScanResult(ctx, p.ID, ScanResult{Content: "v2 ", ChangeType: data.ChangeMinor, ScannedAt: at})
	require.NoError(t, err)
	require.Equal(t, data.ChangeMajor, got.ChangeType)
	got, err = tree.ApplyScanResult(ctx, p.ID, ScanResult{Content: "v2 ", ChangeType: data.ChangeNone, ScannedAt: at})
	require.NoError(t, err)
	require.True(t, got.ChangeFlagged)
	require.Equal(t, data.ChangeMajor, got.ChangeType)
	require.Equal(t, 1, tree.FlaggedCount())

	// Errors touch only the error and scan time.
	at = at.Add(time.Hour)
	got, err = tree.ApplyScanResult(ctx, p.ID, ScanResult{Err: errors.New("HTTP 500"), ScannedAt: at})
	require.NoError(t, err)
	require.Equal(t, "HTTP 500", got.LastError)
	require.Equal(t, "v2 ", got.CurrentContent)
	require.Equal(t, data.ChangeMajor, got.ChangeType)
	require.Equal(t, at, got.LastScanTime)

	got, err = tree.MarkViewed(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, got.ChangeFlagged)
	require.Equal(t, data.ChangeNone, got.ChangeType)
	require.Equal(t, "v2 ", got.CurrentContent)
	require.Len(t, tree.GetChangedPageList(), 0)
}

func TestApplyScanResult_PersistFailureLeavesPageUntouched(t *testing.T) {
	ctx := context.Background()
	tree, store, teardown := setupTreeTest(t)
	defer teardown()

	p, _ := tree.CreatePage(ctx, data.RootID, "https://a.example", "A")
	_, err := tree.ApplyScanResult(ctx, p.ID, ScanResult{Content: "v1", ChangeType: data.ChangeNone, ScannedAt: time.Now()})
	require.NoError(t, err)
	before, _ := tree.GetPage(p.ID)

	notified := false
	tree.BindPageUpdate(func(string, Change) { notified = true })

	store.setFail(true)
	_, err = tree.ApplyScanResult(ctx, p.ID, ScanResult{Content: "v2", ChangeType: data.ChangeMajor, ScannedAt: time.Now()})
	var persist *data.PersistError
	require.ErrorAs(t, err, &persist)
	require.False(t, notified)

	after, _ := tree.GetPage(p.ID)
	require.Equal(t, before, after)

	// Retrying once the store recovers succeeds.
	store.setFail(false)
	got, err := tree.ApplyScanResult(ctx, p.ID, ScanResult{Content: "v2", ChangeType: data.ChangeMajor, ScannedAt: time.Now()})
	require.NoError(t, err)
	require.True(t, got.ChangeFlagged)
	require.True(t, notified)
}

func TestCreatePage_PersistFailure(t *testing.T) {
	ctx := context.Background()
	tree, store, teardown := setupTreeTest(t)
	defer teardown()

	store.setFail(true)
	_, err := tree.CreatePage(ctx, data.RootID, "https://a.example", "A")
	var persist *data.PersistError
	require.ErrorAs(t, err, &persist)
	require.Empty(t, tree.GetPageList())

	root, _ := tree.GetFolder(data.RootID)
	require.Empty(t, root.ChildIDs)
}

func TestChange_StateChanged(t *testing.T) {
	a := &data.Page{ChangeType: data.ChangeNone}
	b := &data.Page{ChangeType: data.ChangeNone, Title: "renamed"}
	c := &data.Page{ChangeType: data.ChangeMajor, ChangeFlagged: true}

	require.False(t, Change{Old: a, New: b}.StateChanged())
	require.True(t, Change{Old: a, New: c}.StateChanged())
	require.True(t, Change{New: a}.StateChanged())
	require.True(t, Change{Old: a}.StateChanged())
}

func TestRefreshFolderState(t *testing.T) {
	ctx := context.Background()
	tree, _, teardown := setupTreeTest(t)
	defer teardown()

	f1, _ := tree.CreateFolder(ctx, data.RootID, "F1")
	f2, _ := tree.CreateFolder(ctx, f1.ID, "F2")
	other, _ := tree.CreateFolder(ctx, data.RootID, "Other")
	p, _ := tree.CreatePage(ctx, f2.ID, "https://a.example", "A")

	_, err := tree.ApplyScanResult(ctx, p.ID, ScanResult{Content: "x", ChangeType: data.ChangeMajor, ScannedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, tree.RefreshFolderState(ctx))

	for id, want := range map[string]bool{data.RootID: true, f1.ID: true, f2.ID: true, other.ID: false} {
		f, err := tree.GetFolder(id)
		require.NoError(t, err)
		require.Equal(t, want, f.HasChanges, id)
	}

	_, err = tree.MarkViewed(ctx, p.ID)
	require.NoError(t, err)
	require.NoError(t, tree.RefreshFolderState(ctx))
	f, _ := tree.GetFolder(f1.ID)
	require.False(t, f.HasChanges)
}

func TestMoveItem(t *testing.T) {
	ctx := context.Background()
	tree, store, teardown := setupTreeTest(t)
	defer teardown()

	f1, _ := tree.CreateFolder(ctx, data.RootID, "F1")
	f2, _ := tree.CreateFolder(ctx, f1.ID, "F2")
	p1, _ := tree.CreatePage(ctx, data.RootID, "https://1.example", "1")
	p2, _ := tree.CreatePage(ctx, data.RootID, "https://2.example", "2")

	// Reorder within the root.
	require.NoError(t, tree.MoveItem(ctx, p2.ID, data.RootID, 0))
	root, _ := tree.GetFolder(data.RootID)
	require.Equal(t, []string{p2.ID, f1.ID, p1.ID}, root.ChildIDs)

	// Reparent.
	require.NoError(t, tree.MoveItem(ctx, p1.ID, f2.ID, -1))
	page, _ := tree.GetPage(p1.ID)
	require.Equal(t, f2.ID, page.ParentID)

	require.ErrorIs(t, tree.MoveItem(ctx, f1.ID, f2.ID, 0), ErrInvalidMove)
	require.ErrorIs(t, tree.MoveItem(ctx, f1.ID, f1.ID, 0), ErrInvalidMove)
	require.ErrorIs(t, tree.MoveItem(ctx, data.RootID, f1.ID, 0), ErrInvalidMove)

	var notFound *data.ParentNotFoundError
	require.ErrorAs(t, tree.MoveItem(ctx, p2.ID, p1.ID, 0), &notFound)

	reloaded, err := Load(ctx, store, logger.Nop())
	require.NoError(t, err)
	require.Equal(t, []string{p2.ID, p1.ID}, ids(reloaded.GetPageList()))
}

func TestUpdatePage_URLChangeResetsBaseline(t *testing.T) {
	ctx := context.Background()
	tree, _, teardown := setupTreeTest(t)
	defer teardown()

	p, _ := tree.CreatePage(ctx, data.RootID, "https://a.example", "A")
	_, err := tree.ApplyScanResult(ctx, p.ID, ScanResult{Content: "v1", ChangeType: data.ChangeNone, ScannedAt: time.Now()})
	require.NoError(t, err)

	interval := 30
	title := "Renamed"
	got, err := tree.UpdatePage(ctx, p.ID, PageUpdate{Title: &title, ScanIntervalMinutes: &interval})
	require.NoError(t, err)
	require.Equal(t, "Renamed", got.Title)
	require.Equal(t, 30, got.ScanIntervalMinutes)
	require.Equal(t, "v1", got.CurrentContent)

	url := "https://b.example"
	got, err = tree.UpdatePage(ctx, p.ID, PageUpdate{URL: &url})
	require.NoError(t, err)
	require.Empty(t, got.CurrentContent)
	require.False(t, got.Scanned())
}
