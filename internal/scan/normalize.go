package scan

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"regexp"
	"strings"

	"go-pagewatch/internal/config"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Policy controls normalization and classification. It is immutable once
// built; swap it with Engine.SetPolicy.
type Policy struct {
	ContentSelector      string
	StripSelectors       []string
	IgnorePatterns       []*regexp.Regexp
	ChangeRatioThreshold float64
	MinChangedChars      int
}

// PolicyFromConfig compiles the scan settings into a Policy.
func PolicyFromConfig(cfg config.ScanConfig) (Policy, error) {
	p := Policy{
		ContentSelector:      cfg.ContentSelector,
		StripSelectors:       append([]string(nil), cfg.StripSelectors...),
		ChangeRatioThreshold: cfg.ChangeRatioThreshold,
		MinChangedChars:      cfg.MinChangedChars,
	}
	for _, pattern := range cfg.IgnorePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return Policy{}, fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
		p.IgnorePatterns = append(p.IgnorePatterns, re)
	}
	return p, nil
}

type docKind int

const (
	kindText docKind = iota
	kindHTML
	kindMarkdown
	kindFeed
)

func detectKind(contentType, body string) docKind {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "" {
		mediaType, _, _ = mime.ParseMediaType(http.DetectContentType([]byte(body)))
	}
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		return kindHTML
	case "text/markdown", "text/x-markdown":
		return kindMarkdown
	case "application/rss+xml", "application/atom+xml", "application/feed+xml", "application/xml", "text/xml":
		return kindFeed
	default:
		return kindText
	}
}

// Normalizer turns fetched documents into comparable text.
type Normalizer struct {
	sanitizer *bluemonday.Policy
	converter *md.Converter
	markdown  goldmark.Markdown
}

// NewNormalizer creates a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		sanitizer: bluemonday.UGCPolicy(),
		converter: md.NewConverter("", true, nil),
		markdown:  goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Normalize returns the normalized text of body and the document title, if
// one was found.
func (n *Normalizer) Normalize(body, contentType string, p Policy) (text, title string, err error) {
	switch detectKind(contentType, body) {
	case kindHTML:
		text, title, err = n.fromHTML(body, p)
	case kindMarkdown:
		var buf bytes.Buffer
		if err = n.markdown.Convert([]byte(body), &buf); err != nil {
			return "", "", fmt.Errorf("render markdown: %w", err)
		}
		text, _, err = n.fromHTML(buf.String(), p)
	case kindFeed:
		text, title, err = fromFeed(body)
		if err != nil {
			// Generic XML that is not a feed is compared as text.
			text, title, err = body, "", nil
		}
	default:
		text = body
	}
	if err != nil {
		return "", "", err
	}
	return finalize(text), title, nil
}

func (n *Normalizer) fromHTML(body string, p Policy) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("script, style, noscript, template").Remove()
	for _, sel := range p.StripSelectors {
		doc.Find(sel).Remove()
	}

	var fragment string
	if p.ContentSelector != "" {
		if matches := doc.Find(p.ContentSelector); matches.Length() > 0 {
			var sb strings.Builder
			matches.Each(func(_ int, s *goquery.Selection) {
				h, _ := goquery.OuterHtml(s)
				sb.WriteString(h)
				sb.WriteString("\n")
			})
			fragment = sb.String()
		}
	}
	if fragment == "" {
		fragment, err = doc.Find("body").Html()
		if err != nil {
			return "", "", fmt.Errorf("render html: %w", err)
		}
	}

	text, err := n.converter.ConvertString(n.sanitizer.Sanitize(fragment))
	if err != nil {
		return "", "", fmt.Errorf("convert html: %w", err)
	}
	return text, title, nil
}

func fromFeed(body string) (string, string, error) {
	feed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		return "", "", err
	}
	lines := make([]string, 0, len(feed.Items))
	for _, item := range feed.Items {
		line := strings.TrimSpace(item.Title)
		if item.Link != "" {
			line += " <" + item.Link + ">"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), strings.TrimSpace(feed.Title), nil
}

// finalize unifies line endings, trims trailing whitespace on each line and
// drops leading and trailing blank lines. Whitespace inside a line is kept.
func finalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	start, end := 0, len(lines)
	for start < end && lines[start] == "" {
		start++
	}
	for end > start && lines[end-1] == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}
