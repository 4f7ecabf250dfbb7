package data

import (
	"encoding/json"
	"fmt"
	"time"
)

// RootID is the well-known id of the root folder.
const RootID = "0"

// ItemType discriminates persisted records.
type ItemType string

const (
	TypePage   ItemType = "page"
	TypeFolder ItemType = "folder"
)

// ChangeType is the severity of the last detected change of a page.
type ChangeType string

const (
	ChangeNone  ChangeType = "none"
	ChangeMinor ChangeType = "minor"
	ChangeMajor ChangeType = "major"
)

// Severity orders change types so that a more severe pending change is never
// downgraded.
func (c ChangeType) Severity() int {
	switch c {
	case ChangeMinor:
		return 1
	case ChangeMajor:
		return 2
	default:
		return 0
	}
}

// Item is implemented by Page and Folder.
type Item interface {
	ItemID() string
	ItemParentID() string
	ItemType() ItemType
	ItemTitle() string
}

// Page is a single monitored URL with its stored snapshots and change status.
type Page struct {
	ID                  string     `json:"id"`
	ParentID            string     `json:"parentId"`
	URL                 string     `json:"url"`
	Title               string     `json:"title"`
	CurrentContent      string     `json:"currentContent,omitempty"`
	PreviousContent     string     `json:"previousContent,omitempty"`
	LastScanTime        time.Time  `json:"lastScanTime,omitempty"`
	LastChangeTime      time.Time  `json:"lastChangeTime,omitempty"`
	ChangeType          ChangeType `json:"changeType"`
	ChangeFlagged       bool       `json:"changeFlagged"`
	ScanIntervalMinutes int        `json:"scanIntervalMinutes,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
}

func (p *Page) ItemID() string       { return p.ID }
func (p *Page) ItemParentID() string { return p.ParentID }
func (p *Page) ItemType() ItemType   { return TypePage }
func (p *Page) ItemTitle() string    { return p.Title }

// Scanned reports whether the page has a baseline snapshot.
func (p *Page) Scanned() bool {
	return (!p.LastScanTime.IsZero() && p.LastError == "") || p.CurrentContent != ""
}

// Folder is an ordered container of pages and folders.
type Folder struct {
	ID         string   `json:"id"`
	ParentID   string   `json:"parentId,omitempty"`
	Title      string   `json:"title"`
	ChildIDs   []string `json:"childIds"`
	HasChanges bool     `json:"hasChanges"`
}

func (f *Folder) ItemID() string       { return f.ID }
func (f *Folder) ItemParentID() string { return f.ParentID }
func (f *Folder) ItemType() ItemType   { return TypeFolder }
func (f *Folder) ItemTitle() string    { return f.Title }

// Clone returns a deep copy of the folder.
func (f *Folder) Clone() *Folder {
	c := *f
	c.ChildIDs = append([]string(nil), f.ChildIDs...)
	return &c
}

// Clone returns a copy of the page.
func (p *Page) Clone() *Page {
	c := *p
	return &c
}

// Record is the persisted form of an item: its id, type and JSON body.
type Record struct {
	ID   string   `db:"id" json:"id"`
	Type ItemType `db:"item_type" json:"type"`
	Body []byte   `db:"body" json:"body"`
}

// EncodeItem converts an item into a record.
func EncodeItem(item Item) (Record, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s %s: %w", item.ItemType(), item.ItemID(), err)
	}
	return Record{ID: item.ItemID(), Type: item.ItemType(), Body: body}, nil
}

// DecodeItem converts a record back into a Page or Folder.
func DecodeItem(rec Record) (Item, error) {
	switch rec.Type {
	case TypePage:
		var p Page
		if err := json.Unmarshal(rec.Body, &p); err != nil {
			return nil, fmt.Errorf("decode page %s: %w", rec.ID, err)
		}
		if p.ChangeType == "" {
			p.ChangeType = ChangeNone
		}
		return &p, nil
	case TypeFolder:
		var f Folder
		if err := json.Unmarshal(rec.Body, &f); err != nil {
			return nil, fmt.Errorf("decode folder %s: %w", rec.ID, err)
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("record %s has unknown type %q", rec.ID, rec.Type)
	}
}
