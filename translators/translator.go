package translators

import (
	"strings"

	"golang.org/x/net/html"

	"sentinelqa/utils/slicesx"
	"sentinelqa/utils/stringsx"
)

type Translator interface {
	Translate(text string) (string, error)
}

var hiddenStyles = []string{"opacity: 0", "opacity:0", "font-size: 0", "width: 0", "height: 0", "display: none", "display:none", "visibility: hidden", "visibility:hidden"}

var skippedElements = map[string]bool{
	"head": true, "script": true, "style": true, "noscript": true, "template": true,
	"iframe": true, "svg": true, "link": true, "meta": true,
}

// ShouldVisitNode reports whether n (and its subtree) can be seen by a user.
func ShouldVisitNode(n *html.Node) bool {
	if n == nil {
		return false
	}
	if n.Type != html.ElementNode {
		return true
	}
	if skippedElements[n.Data] {
		return false
	}
	if n.Data == "input" || n.Data == "textarea" {
		for _, attr := range n.Attr {
			if attr.Key == "type" && attr.Val == "hidden" {
				return false
			}
		}
	}
	for _, attr := range n.Attr {
		if attr.Key == "hidden" {
			return false
		}
		if attr.Key == "aria-hidden" && attr.Val == "true" {
			return false
		}
		if attr.Key == "style" {
			for _, style := range hiddenStyles {
				if strings.Contains(attr.Val, style) {
					return false
				}
			}
		}
	}
	return true
}

func BuildAttrMapFromNode(n *html.Node) map[string]string {
	attrMap := make(map[string]string)
	for _, attr := range n.Attr {
		attrMap[attr.Key] = attr.Val
	}
	return attrMap
}

func Cleanup(text string) string {
	// remove extra newlines
	s := stringsx.ReduceNewlines(text, 2)

	// remove extra spaces
	s = stringsx.CollapseSpaces(s)

	// remove trailing spaces for each line
	lines := strings.Split(s, "\n")
	s = strings.Join(slicesx.Map(lines, func(str string, _ int) string {
		return strings.TrimSpace(str)
	}), "\n")

	// remove leading or trailing spaces
	return strings.TrimSpace(s)
}
