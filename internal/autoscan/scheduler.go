// Package autoscan triggers page scans on a timer and on demand, never
// scanning the same page twice at once.
package autoscan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go-pagewatch/internal/config"
	"go-pagewatch/internal/data"
	"go-pagewatch/internal/logger"
)

// State is the scheduling state of a page.
type State int

const (
	StateIdle State = iota
	StateDue
	StateScanning
)

func (s State) String() string {
	switch s {
	case StateDue:
		return "due"
	case StateScanning:
		return "scanning"
	default:
		return "idle"
	}
}

// PageSource lists the pages to consider. *pagetree.Tree satisfies it.
type PageSource interface {
	GetPageList() []*data.Page
}

// Scanner scans a batch and returns the number of MAJOR verdicts.
// *scan.Engine satisfies it.
type Scanner interface {
	Scan(ctx context.Context, pages []*data.Page) int
}

// IntervalSource provides the global scan interval in minutes.
// *configstore.Store satisfies it.
type IntervalSource interface {
	GlobalScanIntervalMinutes() int
}

// CompletionFunc receives the MAJOR count of a finished automatic batch.
type CompletionFunc func(ctx context.Context, majorCount int)

// Scheduler runs automatic scans and coordinates them with manual ones.
type Scheduler struct {
	tick        time.Duration
	minInterval time.Duration
	pages       PageSource
	scanner     Scanner
	intervals   IntervalSource
	log         logger.Logger
	now         func() time.Time

	mu         sync.Mutex
	inflight   map[string]chan struct{}
	onComplete CompletionFunc
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a Scheduler. It does nothing until Start is called.
func New(cfg config.AutoscanConfig, pages PageSource, scanner Scanner, intervals IntervalSource, log logger.Logger) *Scheduler {
	tick := cfg.Tick
	if tick <= 0 {
		tick = time.Minute
	}
	minInterval := cfg.MinIntervalMinutes
	if minInterval <= 0 {
		minInterval = 1
	}
	return &Scheduler{
		tick:        tick,
		minInterval: time.Duration(minInterval) * time.Minute,
		pages:       pages,
		scanner:     scanner,
		intervals:   intervals,
		log:         log.With(map[string]interface{}{"component": "autoscan"}),
		now:         time.Now,
		inflight:    make(map[string]chan struct{}),
	}
}

// OnComplete sets the hook called after each automatic batch.
func (s *Scheduler) OnComplete(fn CompletionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = fn
}

// EffectiveInterval returns the page's scan interval: its own override or
// the global interval, never less than the configured minimum.
func (s *Scheduler) EffectiveInterval(page *data.Page) time.Duration {
	minutes := page.ScanIntervalMinutes
	if minutes <= 0 {
		minutes = s.intervals.GlobalScanIntervalMinutes()
	}
	interval := time.Duration(minutes) * time.Minute
	if interval < s.minInterval {
		interval = s.minInterval
	}
	return interval
}

// State reports whether a page is idle, due or being scanned.
func (s *Scheduler) State(page *data.Page) State {
	s.mu.Lock()
	_, busy := s.inflight[page.ID]
	s.mu.Unlock()
	if busy {
		return StateScanning
	}
	if page.LastScanTime.IsZero() || s.now().Sub(page.LastScanTime) >= s.EffectiveInterval(page) {
		return StateDue
	}
	return StateIdle
}

// Start runs a tick right away and then one per tick period until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()

		s.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
	s.log.Info(fmt.Sprintf("Autoscan started, checking every %s", s.tick))
}

// Stop cancels running scans and waits for the scheduler goroutines.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.log.Info("Autoscan stopped")
}

// Tick collects the due pages that are not already being scanned and scans
// them as one batch in the background.
func (s *Scheduler) Tick(ctx context.Context) {
	var due []*data.Page
	for _, page := range s.pages.GetPageList() {
		if s.State(page) == StateDue {
			due = append(due, page)
		}
	}
	claimed, _ := s.claim(due)
	if len(claimed) == 0 {
		return
	}

	s.log.Debug(fmt.Sprintf("Starting automatic scan of %d pages", len(claimed)))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(claimed)

		n := s.scanner.Scan(ctx, claimed)
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		hook := s.onComplete
		s.mu.Unlock()
		if hook != nil {
			hook(ctx, n)
		}
	}()
}

// ScanPages scans pages now regardless of their due state. Pages that are
// already being scanned are not scanned again: the call waits for their
// running scan instead. It returns the MAJOR count of the pages it scanned
// itself.
func (s *Scheduler) ScanPages(ctx context.Context, pages []*data.Page) int {
	claimed, waits := s.claim(pages)

	n := 0
	if len(claimed) > 0 {
		func() {
			defer s.release(claimed)
			n = s.scanner.Scan(ctx, claimed)
		}()
	}

	for _, done := range waits {
		select {
		case <-done:
		case <-ctx.Done():
			return n
		}
	}
	return n
}

// claim registers the pages that are not in flight and returns them along
// with the completion channels of those that are.
func (s *Scheduler) claim(pages []*data.Page) ([]*data.Page, []chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []*data.Page
	var waits []chan struct{}
	for _, page := range pages {
		if done, busy := s.inflight[page.ID]; busy {
			waits = append(waits, done)
			continue
		}
		s.inflight[page.ID] = make(chan struct{})
		claimed = append(claimed, page)
	}
	return claimed, waits
}

func (s *Scheduler) release(pages []*data.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, page := range pages {
		if done, ok := s.inflight[page.ID]; ok {
			close(done)
			delete(s.inflight, page.ID)
		}
	}
}
