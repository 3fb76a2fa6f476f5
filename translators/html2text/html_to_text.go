// Package html2text extracts the text a user can see on a page. The
// completion detector looks for success phrases in it.
package html2text

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"sentinelqa/translators"
)

type HTML2TextTranslator struct{}

func NewHTML2TextTranslator() translators.Translator {
	return &HTML2TextTranslator{}
}

func (t *HTML2TextTranslator) Translate(text string) (string, error) {
	doc, err := html.Parse(strings.NewReader(text))
	if err != nil {
		return "", fmt.Errorf("error parsing html: %w", err)
	}
	var b strings.Builder
	t.visit(&b, doc)
	return translators.Cleanup(b.String()), nil
}

var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "header": true, "footer": true,
	"main": true, "nav": true, "aside": true, "form": true, "dialog": true, "li": true,
	"ul": true, "ol": true, "table": true, "tr": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "br": true, "hr": true, "label": true, "fieldset": true,
}

func (t *HTML2TextTranslator) visit(b *strings.Builder, n *html.Node) {
	if !translators.ShouldVisitNode(n) {
		return
	}
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.CommentNode, html.DoctypeNode:
		return
	case html.ElementNode:
		block := blockElements[n.Data]
		if block {
			b.WriteString("\n")
		}
		switch n.Data {
		case "input":
			attrMap := translators.BuildAttrMapFromNode(n)
			if typ := attrMap["type"]; typ == "submit" || typ == "button" {
				b.WriteString(" " + attrMap["value"] + " ")
			}
		case "img":
			if alt := translators.BuildAttrMapFromNode(n)["alt"]; strings.TrimSpace(alt) != "" {
				b.WriteString(" " + alt + " ")
			}
		case "td", "th":
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			t.visit(b, c)
		}
		if block {
			b.WriteString("\n")
		}
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			t.visit(b, c)
		}
	}
}
