package docproc

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/textutil"
)

func processHTML(raw []byte) (domain.Document, error) {
	text, title, err := HTMLText(raw)
	if err != nil {
		return domain.Document{}, corrupt(domain.FormatHTML, err)
	}
	doc := domain.Document{Text: text}
	if title != "" {
		doc.Meta = map[string]string{"title": title}
	}
	return doc, nil
}

// HTMLText strips markup and returns collapsed body text and the page title.
func HTMLText(raw []byte) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", "", err
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, template").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	// block elements would otherwise glue neighbouring words together
	root.Find("p, div, br, li, h1, h2, h3, h4, h5, h6, tr, td, th").Each(func(_ int, s *goquery.Selection) {
		s.AfterHtml(" ")
	})
	return textutil.CollapseWhitespace(root.Text()), title, nil
}
