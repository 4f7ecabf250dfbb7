// Package app holds the long-lived background context that ties the page
// tree, the scheduler and the notification gateway together.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go-pagewatch/internal/autoscan"
	"go-pagewatch/internal/config"
	"go-pagewatch/internal/configstore"
	"go-pagewatch/internal/data"
	"go-pagewatch/internal/logger"
	"go-pagewatch/internal/migration"
	"go-pagewatch/internal/notify"
	"go-pagewatch/internal/pagetree"
)

// Badge is the aggregate change state shown on the host's toolbar icon.
type Badge struct {
	Text   string `json:"text"`
	Count  int    `json:"count"`
	Active bool   `json:"active"`
}

// IconSink renders the badge.
type IconSink interface {
	SetBadge(b Badge)
}

// Request is a command sent by the host UI. Implemented by ScanAllRequest
// and ScanItemRequest only.
type Request interface {
	request()
}

// ScanAllRequest scans every page.
type ScanAllRequest struct{}

// ScanItemRequest scans a page, or every page below a folder.
type ScanItemRequest struct {
	ItemID string
}

func (ScanAllRequest) request()  {}
func (ScanItemRequest) request() {}

// Deps are the components a Background coordinates.
type Deps struct {
	Tree      *pagetree.Tree
	Settings  *configstore.Store
	Migrator  *migration.Migrator
	Scheduler *autoscan.Scheduler
	Gateway   *notify.Gateway
	Icon      IconSink
	Seed      config.SeedConfig
	Autoscan  bool
	Log       logger.Logger
}

// Background is the application context. Create it with New and call Init
// once before handling requests.
type Background struct {
	Deps
	log logger.Logger

	mu     sync.Mutex
	badge  Badge
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Background.
func New(deps Deps) *Background {
	if deps.Icon == nil {
		deps.Icon = nopIcon{}
	}
	return &Background{
		Deps: deps,
		log:  deps.Log.With(map[string]interface{}{"component": "background"}),
		ctx:  context.Background(),
	}
}

type nopIcon struct{}

func (nopIcon) SetBadge(Badge) {}

// Init wires page events to the badge, refreshes derived state, seeds the
// tree on first run and starts automatic scanning.
func (b *Background) Init(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.ctx = runCtx
	b.cancel = cancel
	b.badge.Active = true
	b.mu.Unlock()

	b.Tree.BindPageUpdate(b.handlePageUpdate)
	b.refreshIcon()
	if err := b.Tree.RefreshFolderState(ctx); err != nil {
		b.log.Error(err, "Failed to refresh folder state")
	}

	if err := b.Settings.Load(ctx); err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if err := b.checkFirstRun(ctx); err != nil {
		return err
	}
	b.checkIfUpdateRequired(ctx)

	if b.Autoscan {
		b.Scheduler.OnComplete(func(ctx context.Context, n int) {
			b.Gateway.Notify(ctx, n)
		})
		b.Scheduler.Start(runCtx)
	}
	return nil
}

// Close stops automatic scanning and waits for dispatched requests.
func (b *Background) Close() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if b.Autoscan {
		b.Scheduler.Stop()
	}
	b.wg.Wait()
}

func (b *Background) handlePageUpdate(pageID string, change pagetree.Change) {
	if !change.StateChanged() {
		return
	}
	b.refreshIcon()

	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()
	if err := b.Tree.RefreshFolderState(ctx); err != nil {
		b.log.Error(err, "Failed to refresh folder state")
	}
}

func (b *Background) refreshIcon() {
	count := b.Tree.FlaggedCount()

	b.mu.Lock()
	b.badge.Count = count
	b.badge.Text = ""
	if count > 0 {
		b.badge.Text = strconv.Itoa(count)
	}
	badge := b.badge
	b.mu.Unlock()

	b.Icon.SetBadge(badge)
}

// Badge returns the current badge state.
func (b *Background) Badge() Badge {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.badge
}

// checkFirstRun creates the welcome page on a fresh install, scans it right
// away and records that seeding happened. A store that already holds pages
// is only marked as seeded.
func (b *Background) checkFirstRun(ctx context.Context) error {
	if !b.Settings.IsFirstRun() {
		return nil
	}
	if existing := len(b.Tree.GetPageList()); existing > 0 {
		b.log.Warn(fmt.Sprintf("First run flag set on a store with %d pages, not seeding", existing))
	} else {
		page, err := b.Tree.CreateWebsitePage(ctx, b.Seed.URL, b.Seed.Title)
		if err != nil {
			return fmt.Errorf("failed to create first run page: %w", err)
		}
		b.log.Info(fmt.Sprintf("First run: created page for %s", page.URL))
		b.Scheduler.ScanPages(ctx, []*data.Page{page})
	}

	if err := b.Settings.Set(configstore.KeyIsFirstRun, false); err != nil {
		return err
	}
	if err := b.Settings.Set(configstore.KeySchemaVersion, migration.LatestVersion); err != nil {
		return err
	}
	return b.Settings.Save(ctx)
}

func (b *Background) checkIfUpdateRequired(ctx context.Context) {
	if b.Migrator == nil {
		return
	}
	ok, err := b.Migrator.IsUpToDate(ctx)
	if err != nil {
		b.log.Error(err, "Failed to check data version")
		return
	}
	if !ok {
		b.log.Warn("Stored data is older than this version, an update is required")
	}
}

// Handle runs a request to completion and returns the number of major
// changes it found.
func (b *Background) Handle(ctx context.Context, req Request) (int, error) {
	switch r := req.(type) {
	case ScanAllRequest:
		return b.scanItem(ctx, data.RootID)
	case ScanItemRequest:
		return b.scanItem(ctx, r.ItemID)
	default:
		return 0, fmt.Errorf("unsupported request %T", req)
	}
}

// Dispatch validates req and runs it in the background. An unknown item id
// is reported right away.
func (b *Background) Dispatch(req Request) error {
	if r, ok := req.(ScanItemRequest); ok {
		if _, err := b.Tree.GetItem(r.ItemID); err != nil {
			return err
		}
	}

	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if _, err := b.Handle(ctx, req); err != nil && !errors.Is(err, context.Canceled) {
			b.log.Error(err, fmt.Sprintf("Request %T failed", req))
		}
	}()
	return nil
}

func (b *Background) scanItem(ctx context.Context, itemID string) (int, error) {
	pages, err := b.Tree.GetDescendantPages(itemID)
	if err != nil {
		return 0, err
	}
	b.log.Info(fmt.Sprintf("Pages to manually scan: %d", len(pages)))
	n := b.Scheduler.ScanPages(ctx, pages)
	b.log.Info(fmt.Sprintf("Manual scan complete, %d new changes detected", n))

	b.Gateway.Notify(ctx, n)
	return n, nil
}
