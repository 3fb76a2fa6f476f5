// Package html2ctx renders the interactive elements of a page as a compact
// HTML digest for the decision model.
package html2ctx

import (
	"fmt"
	"strings"

	"github.com/yosssi/gohtml"
	"golang.org/x/net/html"

	"sentinelqa/translators"
	"sentinelqa/utils/stringsx"
)

const (
	DefaultMaxElements       = 60
	DefaultMaxTextLength     = 30
	DefaultMaxClassLength    = 50
	DefaultMaxHrefLength     = 50
	DefaultMaxAttrTextLength = 80
)

type Options struct {
	MaxElements int
	Pretty      bool
}

type HTML2CtxTranslator struct {
	maxElements int
	pretty      bool
}

func NewHTML2CtxTranslator(options *Options) translators.Translator {
	maxElements := DefaultMaxElements
	pretty := false
	if options != nil {
		if options.MaxElements > 0 {
			maxElements = options.MaxElements
		}
		pretty = options.Pretty
	}
	return &HTML2CtxTranslator{
		maxElements: maxElements,
		pretty:      pretty,
	}
}

// digested attributes, in output order
var digestAttrs = []string{"id", "data-testid", "name", "class", "type", "placeholder", "aria-label", "title", "href", "role", "value"}

func (t *HTML2CtxTranslator) Translate(text string) (string, error) {
	doc, err := html.Parse(strings.NewReader(text))
	if err != nil {
		return "", fmt.Errorf("error parsing html: %w", err)
	}
	var lines []string
	t.visit(doc, &lines)
	digest := strings.Join(lines, "\n")
	if t.pretty {
		return gohtml.Format(digest), nil
	}
	return digest, nil
}

func (t *HTML2CtxTranslator) visit(n *html.Node, lines *[]string) {
	if len(*lines) >= t.maxElements || !translators.ShouldVisitNode(n) {
		return
	}
	if n.Type == html.ElementNode {
		attrMap := translators.BuildAttrMapFromNode(n)
		if isInteractive(n, attrMap) {
			*lines = append(*lines, renderElement(n, attrMap))
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		t.visit(c, lines)
	}
}

func isInteractive(n *html.Node, attrMap map[string]string) bool {
	switch n.Data {
	case "button", "input", "select", "textarea":
		return true
	case "a":
		return attrMap["href"] != "" || attrMap["role"] != ""
	}
	if role := attrMap["role"]; role == "button" || role == "search" || role == "link" || role == "tab" || role == "menuitem" || role == "checkbox" {
		return true
	}
	return attrMap["aria-label"] != ""
}

func renderElement(n *html.Node, attrMap map[string]string) string {
	var b strings.Builder
	b.WriteString("<" + n.Data)
	for _, key := range digestAttrs {
		value, ok := attrMap[key]
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		switch key {
		case "class":
			value = stringsx.Truncate(value, DefaultMaxClassLength, "")
		case "href":
			value = stringsx.Truncate(value, DefaultMaxHrefLength, "")
		case "value":
			if n.Data == "input" && attrMap["type"] == "password" {
				continue
			}
			value = stringsx.Truncate(value, DefaultMaxAttrTextLength, "")
		default:
			value = stringsx.Truncate(value, DefaultMaxAttrTextLength, "")
		}
		fmt.Fprintf(&b, ` %s="%s"`, key, html.EscapeString(value))
	}
	if n.Data == "input" {
		b.WriteString(">")
		return b.String()
	}
	b.WriteString(">")
	b.WriteString(html.EscapeString(stringsx.Truncate(innerText(n), DefaultMaxTextLength, "")))
	b.WriteString("</" + n.Data + ">")
	return b.String()
}

func innerText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if !translators.ShouldVisitNode(c) {
			return
		}
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteString(" ")
		}
		for child := c.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
