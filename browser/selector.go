package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"sentinelqa/browser/js/primitives"
	"sentinelqa/target"
)

// normalizeSelector maps a candidate selector onto a chromedp query:
//   - tag:contains("text") becomes an exact normalize-space XPath
//   - "xpath=", "xpath:" and "//" selectors are XPath
//   - "text=Foo" matches any interactive element whose text is Foo
//   - anything else is CSS
func normalizeSelector(selector string) primitives.Query {
	s := strings.TrimSpace(selector)
	lower := strings.ToLower(s)
	if tag, text, ok := target.ParseTextSelector(s); ok {
		return primitives.Query{Selector: fmt.Sprintf(`//%s[normalize-space(.)=%s]`, tag, xpathLiteral(text)), XPath: true}
	} else if strings.HasPrefix(lower, "xpath=") || strings.HasPrefix(lower, "xpath:") {
		return primitives.Query{Selector: strings.TrimSpace(s[len("xpath="):]), XPath: true}
	} else if strings.HasPrefix(s, "//") || strings.HasPrefix(s, "(//") {
		return primitives.Query{Selector: s, XPath: true}
	} else if strings.HasPrefix(lower, "text=") {
		text := strings.Join(strings.Fields(s[len("text="):]), " ")
		return primitives.Query{
			Selector: fmt.Sprintf(`//*[self::button or self::a or self::span or self::label or @role="button" or @role="link"][normalize-space(.)=%s]`, xpathLiteral(text)),
			XPath:    true,
		}
	}
	return primitives.Query{Selector: s}
}

func queryOption(q primitives.Query) chromedp.QueryOption {
	if q.XPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	} else if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, 2*len(parts))
	for i, part := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if part != "" {
			quoted = append(quoted, `"`+part+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
