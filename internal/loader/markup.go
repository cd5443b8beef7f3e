package loader

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"

	"github.com/BaranikumarNagarajan/RAG-Powered-Doc-Query-Agent/internal/domain"
)

var (
	skipTags = map[string]bool{
		"script": true, "style": true, "noscript": true, "template": true,
		"head": true, "svg": true, "iframe": true, "#comment": true,
	}
	headingTags = map[string]bool{"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true}
	blockTags   = map[string]bool{
		"p": true, "div": true, "section": true, "article": true, "main": true,
		"header": true, "footer": true, "nav": true, "aside": true, "blockquote": true,
		"pre": true, "table": true, "ul": true, "ol": true, "dl": true, "figure": true,
		"form": true, "hr": true, "address": true,
	}
	lineTags = map[string]bool{"li": true, "tr": true, "dt": true, "dd": true, "caption": true, "figcaption": true}
)

func extractHTML(_ context.Context, doc domain.Document) (domain.Extracted, error) {
	page, err := goquery.NewDocumentFromReader(strings.NewReader(decode(doc.Content)))
	if err != nil {
		return domain.Extracted{}, fmt.Errorf("%s: %w: parse html: %w", doc.Source, domain.ErrExtraction, err)
	}

	root := page.Find("body").First()
	if root.Length() == 0 {
		root = page.Selection
	}
	var t textBuilder
	walkHTML(root, &t)

	out := t.result()
	out.Title = strings.Join(strings.Fields(page.Find("title").First().Text()), " ")
	if out.Title == "" && len(out.Sections) > 0 {
		out.Title = out.Sections[0].Heading
	}
	return out, nil
}

func walkHTML(s *goquery.Selection, t *textBuilder) {
	s.Contents().Each(func(_ int, child *goquery.Selection) {
		name := goquery.NodeName(child)
		switch {
		case name == "#text":
			t.text(child.Text())
		case skipTags[name]:
		case headingTags[name]:
			t.section(child.Text())
			walkHTML(child, t)
			t.block()
		case name == "br":
			t.line()
		case blockTags[name]:
			t.block()
			walkHTML(child, t)
			t.block()
		case lineTags[name]:
			t.line()
			walkHTML(child, t)
			t.line()
		case name == "td" || name == "th":
			walkHTML(child, t)
			t.pendingSpace = true
		default:
			walkHTML(child, t)
		}
	})
}

func extractXML(_ context.Context, doc domain.Document) (domain.Extracted, error) {
	root, err := xmlquery.Parse(bytes.NewReader(doc.Content))
	if err != nil {
		return domain.Extracted{}, fmt.Errorf("%s: %w: parse xml: %w", doc.Source, domain.ErrExtraction, err)
	}

	var t textBuilder
	var walk func(n *xmlquery.Node)
	walk = func(n *xmlquery.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case xmlquery.TextNode, xmlquery.CharDataNode:
				t.text(c.Data)
			case xmlquery.ElementNode:
				t.line()
				walk(c)
				t.line()
			}
		}
	}
	walk(root)

	out := t.result()
	if title := xmlquery.FindOne(root, "//title"); title != nil {
		out.Title = strings.Join(strings.Fields(title.InnerText()), " ")
	}
	return out, nil
}
