package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Links collects every anchor on the page with its resolved absolute URL.
type Links struct{}

func (Links) Name() string {
	return "links"
}

func (Links) Apply(doc *goquery.Document, pageURL string) (map[string]any, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	links := make([]map[string]any, 0)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		links = append(links, map[string]any{
			"text":  strings.TrimSpace(s.Text()),
			"url":   absoluteURL(base, href),
			"title": s.AttrOr("title", ""),
		})
	})

	return map[string]any{"links": links}, nil
}

// Text extracts the visible text content with script and style elements
// stripped, plus word and character counts.
type Text struct{}

func (Text) Name() string {
	return "text"
}

func (Text) Apply(doc *goquery.Document, _ string) (map[string]any, error) {
	cleaned := doc.Selection.Clone()
	cleaned.Find("script, style").Remove()

	words := strings.Fields(cleaned.Text())
	text := strings.Join(words, " ")

	return map[string]any{
		"text":       text,
		"word_count": len(words),
		"char_count": len(text),
	}, nil
}

// Images collects every image with its resolved source URL and attributes.
type Images struct{}

func (Images) Name() string {
	return "images"
}

func (Images) Apply(doc *goquery.Document, pageURL string) (map[string]any, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	images := make([]map[string]any, 0)
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		images = append(images, map[string]any{
			"src":    absoluteURL(base, src),
			"alt":    s.AttrOr("alt", ""),
			"title":  s.AttrOr("title", ""),
			"width":  s.AttrOr("width", ""),
			"height": s.AttrOr("height", ""),
		})
	})

	return map[string]any{"images": images}, nil
}

// Metadata extracts the title, meta tags, and heading outline.
type Metadata struct{}

func (Metadata) Name() string {
	return "metadata"
}

func (Metadata) Apply(doc *goquery.Document, _ string) (map[string]any, error) {
	meta := make(map[string]any)

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		meta["title"] = title
	}

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name := s.AttrOr("name", s.AttrOr("property", ""))
		content, ok := s.Attr("content")
		if name != "" && ok {
			meta[name] = content
		}
	})

	headings := make(map[string][]string)
	for _, level := range []string{"h1", "h2", "h3", "h4", "h5", "h6"} {
		var values []string
		doc.Find(level).Each(func(_ int, s *goquery.Selection) {
			values = append(values, strings.TrimSpace(s.Text()))
		})
		headings[level] = values
	}
	meta["headings"] = headings

	return map[string]any{"metadata": meta}, nil
}

// Selectors extracts named fields with CSS selectors. A selector matching a
// single node yields a string, multiple nodes a string slice.
type Selectors struct {
	Fields map[string]string
}

func (Selectors) Name() string {
	return "selectors"
}

func (e Selectors) Apply(doc *goquery.Document, _ string) (map[string]any, error) {
	out := make(map[string]any)
	for name, selector := range e.Fields {
		var values []string
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			values = append(values, strings.TrimSpace(s.Text()))
		})
		switch len(values) {
		case 0:
		case 1:
			out[name] = values[0]
		default:
			out[name] = values
		}
	}
	return out, nil
}

func absoluteURL(base *url.URL, ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}
