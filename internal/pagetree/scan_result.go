package pagetree

import (
	"context"
	"time"

	"go-pagewatch/internal/data"
)

// ScanResult is the outcome of scanning one page.
type ScanResult struct {
	// Content is the normalized snapshot. Ignored when Err is set.
	Content    string
	ChangeType data.ChangeType
	// Title is the title discovered in the document, if any.
	Title     string
	ScannedAt time.Time
	// Err records a failed fetch. Only the error and scan time are stored.
	Err error
}

// ApplyScanResult records a scan outcome. The new page value is committed to
// the store first and only replaces the in-memory page once that succeeded,
// so a *data.PersistError leaves the tree exactly as it was.
func (t *Tree) ApplyScanResult(ctx context.Context, pageID string, res ScanResult) (*data.Page, error) {
	return t.updatePage(ctx, "scan result", pageID, func(old *data.Page) (*data.Page, error) {
		return applyResult(old, res), nil
	})
}

func applyResult(old *data.Page, res ScanResult) *data.Page {
	p := old.Clone()
	p.LastScanTime = res.ScannedAt

	if res.Err != nil {
		p.LastError = res.Err.Error()
		return p
	}
	p.LastError = ""
	if res.Title != "" && (p.Title == "" || p.Title == p.URL) {
		p.Title = res.Title
	}

	switch res.ChangeType {
	case data.ChangeMinor, data.ChangeMajor:
		p.PreviousContent = old.CurrentContent
		p.CurrentContent = res.Content
		p.LastChangeTime = res.ScannedAt
		p.ChangeFlagged = old.ChangeFlagged || res.ChangeType != old.ChangeType
		if !old.ChangeFlagged || res.ChangeType.Severity() > old.ChangeType.Severity() {
			p.ChangeType = res.ChangeType
		}
	default:
		p.CurrentContent = res.Content
		if !old.ChangeFlagged {
			p.ChangeType = data.ChangeNone
		}
	}
	return p
}
