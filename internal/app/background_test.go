//go:build unit

package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go-pagewatch/internal/autoscan"
	"go-pagewatch/internal/config"
	"go-pagewatch/internal/configstore"
	"go-pagewatch/internal/data"
	"go-pagewatch/internal/logger"
	"go-pagewatch/internal/migration"
	"go-pagewatch/internal/notify"
	"go-pagewatch/internal/pagetree"
	"go-pagewatch/internal/scan"

	"github.com/stretchr/testify/require"
)

type iconRecorder struct {
	mu     sync.Mutex
	badges []Badge
}

func (r *iconRecorder) SetBadge(b Badge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.badges = append(r.badges, b)
}

func (r *iconRecorder) last() Badge {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.badges[len(r.badges)-1]
}

type countingNotifier struct {
	mu  sync.Mutex
	got []int
}

func (n *countingNotifier) Notify(_ context.Context, s notify.Summary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, s.Count)
	return nil
}

type testEnv struct {
	store    data.Store
	tree     *pagetree.Tree
	settings *configstore.Store
	bg       *Background
	icon     *iconRecorder
	notes    *countingNotifier
	body     atomic.Value
	hits     atomic.Int32
	srv      *httptest.Server
}

// setupBackgroundTest builds the full background stack on an in-memory store
// with a local site as the first-run page.
func setupBackgroundTest(t *testing.T, store data.Store) (*testEnv, func()) {
	t.Helper()
	ctx := context.Background()
	env := &testEnv{store: store, icon: &iconRecorder{}, notes: &countingNotifier{}}
	env.body.Store("welcome")
	env.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.hits.Add(1)
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, env.body.Load().(string))
	}))

	log := logger.Nop()
	tree, err := pagetree.Load(ctx, store, log)
	require.NoError(t, err)
	env.tree = tree
	env.settings = configstore.New(store, 60)

	scanCfg := config.ScanConfig{Concurrency: 2, FetchTimeout: 5 * time.Second, ChangeRatioThreshold: 0.05, MinChangedChars: 20}
	engine, err := scan.NewEngine(scanCfg, scan.NewFetcher(scanCfg, nil, log), tree, log)
	require.NoError(t, err)
	scheduler := autoscan.New(config.AutoscanConfig{Tick: time.Hour, MinIntervalMinutes: 1}, tree, engine, env.settings, log)

	gateway := notify.NewGateway(config.NotifyConfig{}, tree, log)
	gateway.AddNotifier(env.notes)

	env.bg = New(Deps{
		Tree:      tree,
		Settings:  env.settings,
		Migrator:  migration.New(store, env.settings, log),
		Scheduler: scheduler,
		Gateway:   gateway,
		Icon:      env.icon,
		Seed:      config.SeedConfig{URL: env.srv.URL, Title: "Welcome"},
		Log:       log,
	})
	return env, func() {
		env.bg.Close()
		env.srv.Close()
	}
}

func TestInit_FirstRunSeedsAndScansOnePage(t *testing.T) {
	ctx := context.Background()
	store := data.NewMemoryStore()
	env, teardown := setupBackgroundTest(t, store)

	require.NoError(t, env.bg.Init(ctx))

	pages := env.tree.GetPageList()
	require.Len(t, pages, 1)
	require.Equal(t, env.srv.URL, pages[0].URL)
	require.False(t, pages[0].LastScanTime.IsZero(), "seeded page is scanned immediately")
	require.Equal(t, "welcome", pages[0].CurrentContent)
	require.EqualValues(t, 1, env.hits.Load())

	require.False(t, env.settings.IsFirstRun())
	require.Equal(t, migration.LatestVersion, env.settings.SchemaVersion())
	teardown()

	// A restart on the same store does not seed again.
	env, teardown = setupBackgroundTest(t, store)
	defer teardown()
	require.NoError(t, env.bg.Init(ctx))
	require.Len(t, env.tree.GetPageList(), 1)
	require.EqualValues(t, 0, env.hits.Load())
}

func TestHandle_ScanUpdatesBadgeAndNotifies(t *testing.T) {
	ctx := context.Background()
	env, teardown := setupBackgroundTest(t, data.NewMemoryStore())
	defer teardown()
	require.NoError(t, env.bg.Init(ctx))

	require.Equal(t, Badge{Text: "", Count: 0, Active: true}, env.bg.Badge())

	env.body.Store("An entirely different welcome page with a lot more text in it.")
	n, err := env.bg.Handle(ctx, ScanAllRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Equal(t, Badge{Text: "1", Count: 1, Active: true}, env.bg.Badge())
	require.Equal(t, "1", env.icon.last().Text)
	require.Equal(t, []int{1}, env.notes.got)

	root, err := env.tree.GetFolder(data.RootID)
	require.NoError(t, err)
	require.True(t, root.HasChanges)

	// Viewing the change clears the badge.
	_, err = env.tree.MarkViewed(ctx, env.tree.GetPageList()[0].ID)
	require.NoError(t, err)
	require.Equal(t, "", env.bg.Badge().Text)
}

func TestDispatch_UnknownItem(t *testing.T) {
	env, teardown := setupBackgroundTest(t, data.NewMemoryStore())
	defer teardown()
	require.NoError(t, env.bg.Init(context.Background()))

	var notFound *data.ItemNotFoundError
	require.ErrorAs(t, env.bg.Dispatch(ScanItemRequest{ItemID: "nope"}), &notFound)

	require.NoError(t, env.bg.Dispatch(ScanItemRequest{ItemID: data.RootID}))
}

func TestInit_FirstRunFlagOnExistingPagesDoesNotSeed(t *testing.T) {
	ctx := context.Background()
	store := data.NewMemoryStore()
	tree, err := pagetree.Load(ctx, store, logger.Nop())
	require.NoError(t, err)
	_, err = tree.CreatePage(ctx, data.RootID, "https://example.com/kept", "Kept")
	require.NoError(t, err)

	env, teardown := setupBackgroundTest(t, store)
	defer teardown()
	require.True(t, env.settings.IsFirstRun())
	require.NoError(t, env.bg.Init(ctx))

	pages := env.tree.GetPageList()
	require.Len(t, pages, 1)
	require.Equal(t, "https://example.com/kept", pages[0].URL)
	require.EqualValues(t, 0, env.hits.Load())
	require.False(t, env.settings.IsFirstRun())
}
