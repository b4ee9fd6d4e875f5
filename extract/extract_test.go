package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

const sampleHTML = `<html>
<head>
	<title>Sample Page</title>
	<meta name="description" content="A sample page">
	<meta property="og:type" content="article">
	<script>var hidden = true;</script>
	<style>body { color: red; }</style>
</head>
<body>
	<h1>Main Heading</h1>
	<h2>Sub Heading</h2>
	<p>Some body text here.</p>
	<a href="/relative">Relative Link</a>
	<a href="https://other.test/page" title="Other">Absolute Link</a>
	<img src="/logo.png" alt="Logo" width="64" height="64">
</body>
</html>`

func sampleDoc(t *testing.T) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(sampleHTML))
	if err != nil {
		t.Fatalf("parse sample html: %v", err)
	}
	return doc
}

func TestLinksExtractor(t *testing.T) {
	out, err := Links{}.Apply(sampleDoc(t), "http://example.test/dir/page")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	links, ok := out["links"].([]map[string]any)
	if !ok {
		t.Fatalf("links output has unexpected type %T", out["links"])
	}
	if len(links) != 2 {
		t.Fatalf("links = %d, want 2", len(links))
	}
	if links[0]["url"] != "http://example.test/relative" {
		t.Fatalf("relative link not resolved: %v", links[0]["url"])
	}
	if links[1]["url"] != "https://other.test/page" || links[1]["title"] != "Other" {
		t.Fatalf("absolute link mishandled: %v", links[1])
	}
}

func TestTextExtractor(t *testing.T) {
	out, err := Text{}.Apply(sampleDoc(t), "http://example.test/page")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	text, ok := out["text"].(string)
	if !ok {
		t.Fatalf("text output has unexpected type %T", out["text"])
	}
	if strings.Contains(text, "hidden") || strings.Contains(text, "color: red") {
		t.Fatalf("script/style content leaked into text: %q", text)
	}
	if !strings.Contains(text, "Some body text here.") {
		t.Fatalf("body text missing: %q", text)
	}
	if out["word_count"].(int) <= 0 {
		t.Fatalf("word count should be positive")
	}
	if out["char_count"].(int) != len(text) {
		t.Fatalf("char count = %v, want %d", out["char_count"], len(text))
	}
}

func TestTextExtractorDoesNotMutateDocument(t *testing.T) {
	doc := sampleDoc(t)
	if _, err := (Text{}).Apply(doc, "http://example.test/page"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if doc.Find("script").Length() != 1 {
		t.Fatalf("text extraction must not strip nodes from the shared document")
	}
}

func TestImagesExtractor(t *testing.T) {
	out, err := Images{}.Apply(sampleDoc(t), "http://example.test/dir/page")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	images, ok := out["images"].([]map[string]any)
	if !ok {
		t.Fatalf("images output has unexpected type %T", out["images"])
	}
	if len(images) != 1 {
		t.Fatalf("images = %d, want 1", len(images))
	}
	img := images[0]
	if img["src"] != "http://example.test/logo.png" {
		t.Fatalf("image src not resolved: %v", img["src"])
	}
	if img["alt"] != "Logo" || img["width"] != "64" {
		t.Fatalf("image attributes mishandled: %v", img)
	}
}

func TestMetadataExtractor(t *testing.T) {
	out, err := Metadata{}.Apply(sampleDoc(t), "http://example.test/page")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	meta, ok := out["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("metadata output has unexpected type %T", out["metadata"])
	}
	if meta["title"] != "Sample Page" {
		t.Fatalf("title = %v", meta["title"])
	}
	if meta["description"] != "A sample page" {
		t.Fatalf("meta name tag missing: %v", meta)
	}
	if meta["og:type"] != "article" {
		t.Fatalf("meta property tag missing: %v", meta)
	}

	headings, ok := meta["headings"].(map[string][]string)
	if !ok {
		t.Fatalf("headings have unexpected type %T", meta["headings"])
	}
	if len(headings["h1"]) != 1 || headings["h1"][0] != "Main Heading" {
		t.Fatalf("h1 headings = %v", headings["h1"])
	}
	if len(headings["h2"]) != 1 || headings["h2"][0] != "Sub Heading" {
		t.Fatalf("h2 headings = %v", headings["h2"])
	}
}

func TestSelectorsExtractor(t *testing.T) {
	e := Selectors{Fields: map[string]string{
		"heading":    "h1",
		"paragraphs": "p, h2",
		"absent":     "article",
	}}

	out, err := e.Apply(sampleDoc(t), "http://example.test/page")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if out["heading"] != "Main Heading" {
		t.Fatalf("single match should be a string: %v", out["heading"])
	}
	if values, ok := out["paragraphs"].([]string); !ok || len(values) != 2 {
		t.Fatalf("multi match should be a slice: %v", out["paragraphs"])
	}
	if _, ok := out["absent"]; ok {
		t.Fatalf("selector with no matches should produce no key")
	}
}

func TestByName(t *testing.T) {
	exts, err := ByName([]string{"links", "text", "images", "metadata"})
	if err != nil {
		t.Fatalf("by name: %v", err)
	}
	if len(exts) != 4 {
		t.Fatalf("extractors = %d, want 4", len(exts))
	}

	if _, err := ByName([]string{"nonsense"}); err == nil {
		t.Fatalf("expected error for unknown extractor")
	}
}
