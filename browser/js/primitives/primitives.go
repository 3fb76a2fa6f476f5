package primitives

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

//go:embed primitives.js
var helpers string

// Query addresses elements either by CSS or by XPath.
type Query struct {
	Selector string
	XPath    bool
}

type ElementState struct {
	Count   int    `json:"count"`
	Visible bool   `json:"visible"`
	Enabled bool   `json:"enabled"`
	Text    string `json:"text"`
}

func literal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}

func script(body string) string {
	return fmt.Sprintf("(() => {\n%s\n%s\n})()", helpers, body)
}

func find(q Query) string {
	return fmt.Sprintf("__sentinel.find(%s, %t)", literal(q.Selector), q.XPath)
}

// Inspect reads the match count and the state of the first match.
func Inspect(q Query, state *ElementState) chromedp.Action {
	js := script(fmt.Sprintf(`const els = %s;
if (els.length === 0) {
	return { count: 0, visible: false, enabled: false, text: "" };
}
const el = els[0];
return {
	count: els.length,
	visible: els.some(e => __sentinel.visible(e)),
	enabled: __sentinel.enabled(el),
	text: __sentinel.text(el),
};`, find(q)))
	return chromedp.Evaluate(js, state)
}

func Count(q Query, n *int) chromedp.Action {
	return chromedp.Evaluate(script(fmt.Sprintf("return %s.length;", find(q))), n)
}

// SelectOption picks an option by value or visible label. result is "ok",
// "not_found" or "no_option".
func SelectOption(q Query, value string, result *string) chromedp.Action {
	js := script(fmt.Sprintf(`const els = %s;
if (els.length === 0) {
	return "not_found";
}
return __sentinel.select(els[0], %s);`, find(q), literal(value)))
	return chromedp.Evaluate(js, result)
}

// SubmitForm submits the form owning the first match, or the form owning
// the focused element when q is nil. result is "ok", "not_found" or "no_form".
func SubmitForm(q *Query, result *string) chromedp.Action {
	target := "null"
	if q != nil {
		target = fmt.Sprintf(`(() => {
	const els = %s;
	return els.length === 0 ? undefined : els[0];
})()`, find(*q))
	}
	js := script(fmt.Sprintf(`const el = %s;
if (el === undefined) {
	return "not_found";
}
return __sentinel.submit(el);`, target))
	return chromedp.Evaluate(js, result)
}

// WaitForPageLoad resolves once the current document is parsed, failing
// after ms milliseconds.
func WaitForPageLoad(ms int) chromedp.Action {
	return chromedp.Evaluate(pageLoadScript(ms), nil, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	})
}

func pageLoadScript(ms int) string {
	if ms <= 0 {
		ms = 1
	}
	return fmt.Sprintf(`new Promise((resolve, reject) => {
	const timeout = setTimeout(() => {
		reject(new Error('Timeout waiting for page load'));
	}, %d);
	if (document.readyState === 'loading') {
		document.addEventListener('DOMContentLoaded', () => {
			clearTimeout(timeout);
			resolve(true);
		});
	} else {
		clearTimeout(timeout);
		resolve(true);
	}
})`, ms)
}
