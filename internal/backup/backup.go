// Package backup exports the page tree to YAML and imports it back.
package backup

import (
	"context"
	"fmt"
	"io"
	"time"

	"go-pagewatch/internal/data"
	"go-pagewatch/internal/pagetree"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gopkg.in/yaml.v3"
)

// FormatVersion is written to every export.
const FormatVersion = 1

// Document is the root of a backup file.
type Document struct {
	Version    int       `yaml:"version"`
	ExportedAt time.Time `yaml:"exportedAt"`
	Items      []Node    `yaml:"items"`
}

// Node is a page or a folder with its children. Snapshots and change state
// are not exported.
type Node struct {
	Type                data.ItemType `yaml:"type"`
	Title               string        `yaml:"title"`
	URL                 string        `yaml:"url,omitempty"`
	ScanIntervalMinutes int           `yaml:"scanIntervalMinutes,omitempty"`
	Children            []Node        `yaml:"children,omitempty"`
}

// Validate checks a node and its children.
func (n Node) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.Type, validation.Required, validation.In(data.TypePage, data.TypeFolder)),
		validation.Field(&n.URL,
			validation.When(n.Type == data.TypePage, validation.Required, is.URL).Else(validation.Empty)),
		validation.Field(&n.ScanIntervalMinutes, validation.Min(0)),
		validation.Field(&n.Children,
			validation.When(n.Type == data.TypePage, validation.Empty)),
	)
}

// Export writes the whole tree as YAML.
func Export(tree *pagetree.Tree, w io.Writer) error {
	root, err := tree.GetFolder(data.RootID)
	if err != nil {
		return err
	}
	items, err := exportChildren(tree, root)
	if err != nil {
		return err
	}

	doc := Document{Version: FormatVersion, ExportedAt: time.Now().UTC(), Items: items}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}
	return enc.Close()
}

func exportChildren(tree *pagetree.Tree, folder *data.Folder) ([]Node, error) {
	nodes := make([]Node, 0, len(folder.ChildIDs))
	for _, id := range folder.ChildIDs {
		item, err := tree.GetItem(id)
		if err != nil {
			return nil, err
		}
		switch v := item.(type) {
		case *data.Page:
			nodes = append(nodes, Node{
				Type:                data.TypePage,
				Title:               v.Title,
				URL:                 v.URL,
				ScanIntervalMinutes: v.ScanIntervalMinutes,
			})
		case *data.Folder:
			children, err := exportChildren(tree, v)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, Node{Type: data.TypeFolder, Title: v.Title, Children: children})
		}
	}
	return nodes, nil
}

// Result counts what an import created.
type Result struct {
	Pages   int `json:"pages"`
	Folders int `json:"folders"`
}

// Read decodes and validates a backup document.
func Read(r io.Reader) (*Document, error) {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode backup: %w", err)
	}
	if doc.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported backup version %d", doc.Version)
	}
	if err := validation.Validate(doc.Items); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Import recreates the items of doc below parentID. Imported pages start
// without a snapshot, so their first scan is a baseline. Items created
// before a failure are kept.
func Import(ctx context.Context, tree *pagetree.Tree, doc *Document, parentID string) (Result, error) {
	var res Result
	err := importNodes(ctx, tree, doc.Items, parentID, &res)
	return res, err
}

func importNodes(ctx context.Context, tree *pagetree.Tree, nodes []Node, parentID string, res *Result) error {
	for _, n := range nodes {
		switch n.Type {
		case data.TypeFolder:
			folder, err := tree.CreateFolder(ctx, parentID, n.Title)
			if err != nil {
				return err
			}
			res.Folders++
			if err := importNodes(ctx, tree, n.Children, folder.ID, res); err != nil {
				return err
			}
		case data.TypePage:
			page, err := tree.CreatePage(ctx, parentID, n.URL, n.Title)
			if err != nil {
				return err
			}
			res.Pages++
			if n.ScanIntervalMinutes > 0 {
				interval := n.ScanIntervalMinutes
				if _, err := tree.UpdatePage(ctx, page.ID, pagetree.PageUpdate{ScanIntervalMinutes: &interval}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
