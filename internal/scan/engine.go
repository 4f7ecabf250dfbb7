package scan

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go-pagewatch/internal/config"
	"go-pagewatch/internal/data"
	"go-pagewatch/internal/logger"
	"go-pagewatch/internal/pagetree"

	"golang.org/x/sync/errgroup"
)

// ResultWriter reads the stored state of a page and persists scan outcomes.
// *pagetree.Tree satisfies it.
type ResultWriter interface {
	GetPage(id string) (*data.Page, error)
	ApplyScanResult(ctx context.Context, pageID string, res pagetree.ScanResult) (*data.Page, error)
}

// Engine scans batches of pages with bounded concurrency.
type Engine struct {
	fetcher     *Fetcher
	normalizer  *Normalizer
	results     ResultWriter
	concurrency int
	log         logger.Logger
	now         func() time.Time

	mu     sync.RWMutex
	policy Policy
}

// NewEngine creates an Engine that writes its results to results.
func NewEngine(cfg config.ScanConfig, fetcher *Fetcher, results ResultWriter, log logger.Logger) (*Engine, error) {
	policy, err := PolicyFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Engine{
		fetcher:     fetcher,
		normalizer:  NewNormalizer(),
		results:     results,
		concurrency: concurrency,
		log:         log.With(map[string]interface{}{"component": "scan"}),
		now:         time.Now,
		policy:      policy,
	}, nil
}

// SetPolicy replaces the normalization and classification policy. Scans
// already running keep the policy they started with.
func (e *Engine) SetPolicy(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = p
}

// Policy returns the active policy.
func (e *Engine) Policy() Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

// Scan scans pages and returns how many of them were classified MAJOR.
// Failures are recorded on the affected page and never abort the batch.
func (e *Engine) Scan(ctx context.Context, pages []*data.Page) int {
	var majors atomic.Int64
	policy := e.Policy()

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for _, page := range pages {
		page := page
		g.Go(func() error {
			verdict, err := e.scanPage(ctx, page.ID, policy)
			if err != nil {
				return nil
			}
			if verdict == data.ChangeMajor {
				majors.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(majors.Load())
	e.log.Info(fmt.Sprintf("Scanned %d pages, %d major changes", len(pages), n))
	return n
}

// ScanPage scans a single page and returns the verdict that was stored.
// Only the page id is used: the comparison is made against the stored page.
func (e *Engine) ScanPage(ctx context.Context, page *data.Page) (data.ChangeType, error) {
	return e.scanPage(ctx, page.ID, e.Policy())
}

func (e *Engine) scanPage(ctx context.Context, id string, policy Policy) (data.ChangeType, error) {
	// The caller's copy may predate another scan of the same page.
	page, err := e.results.GetPage(id)
	if err != nil {
		e.log.Warn(fmt.Sprintf("Skipping page %s: %v", id, err))
		return "", err
	}
	log := e.log.With(map[string]interface{}{"page": page.ID, "url": page.URL})
	baseline := !page.Scanned()

	resp, err := e.fetcher.Fetch(ctx, page.ID, page.URL, !baseline)
	if ctx.Err() != nil {
		// Abandoned: nothing is written.
		return "", ctx.Err()
	}
	if err != nil {
		log.Warn(fmt.Sprintf("Scan failed: %v", err))
		e.record(ctx, log, page.ID, pagetree.ScanResult{Err: err, ScannedAt: e.now()})
		return "", err
	}

	var content, title string
	if resp.NotModified {
		content = page.CurrentContent
	} else {
		content, title, err = e.normalizer.Normalize(resp.Body, resp.ContentType, policy)
		if err != nil {
			log.Warn(fmt.Sprintf("Failed to normalize content: %v", err))
			e.record(ctx, log, page.ID, pagetree.ScanResult{Err: err, ScannedAt: e.now()})
			return "", err
		}
	}

	verdict := data.ChangeNone
	if !baseline {
		verdict = Classify(page.CurrentContent, content, policy)
	}
	res := pagetree.ScanResult{
		Content:    content,
		ChangeType: verdict,
		Title:      title,
		ScannedAt:  e.now(),
	}
	if err := e.record(ctx, log, page.ID, res); err != nil {
		return "", err
	}
	e.fetcher.Remember(resp)
	if verdict != data.ChangeNone {
		log.Info(fmt.Sprintf("Detected %s change", verdict))
	}
	return verdict, nil
}

func (e *Engine) record(ctx context.Context, log logger.Logger, pageID string, res pagetree.ScanResult) error {
	if _, err := e.results.ApplyScanResult(ctx, pageID, res); err != nil {
		log.Error(err, "Failed to store scan result")
		return err
	}
	return nil
}
