package verify

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"sentinelqa/errcode"
	"sentinelqa/target"
)

// StaticPage evaluates assertions against a fixed HTML snapshot. Visibility
// and enabled state are approximated from markup since nothing is laid out.
type StaticPage struct {
	url      string
	doc      *goquery.Document
	resolver *target.Resolver
}

func NewStaticPage(url string, page string) (*StaticPage, error) {
	doc, err := target.ParseHTML(page)
	if err != nil {
		return nil, err
	}
	return &StaticPage{url: url, doc: doc, resolver: target.NewResolver(nil)}, nil
}

func (p *StaticPage) URL(ctx context.Context) (string, error) {
	return p.url, nil
}

func (p *StaticPage) Document(ctx context.Context) (*goquery.Document, error) {
	return p.doc, nil
}

func (p *StaticPage) Count(ctx context.Context, c *target.Candidate) (int, error) {
	return p.resolver.Match(p.doc, c).Length(), nil
}

func (p *StaticPage) Visible(ctx context.Context, c *target.Candidate) (bool, error) {
	el, err := p.first(c)
	if err != nil {
		return false, err
	}
	if goquery.NodeName(el) == "input" && strings.EqualFold(el.AttrOr("type", ""), "hidden") {
		return false, nil
	}
	for s := el; s.Length() > 0; s = s.Parent() {
		if hiddenByMarkup(s) {
			return false, nil
		}
	}
	return true, nil
}

func (p *StaticPage) Enabled(ctx context.Context, c *target.Candidate) (bool, error) {
	el, err := p.first(c)
	if err != nil {
		return false, err
	}
	if _, ok := el.Attr("disabled"); ok {
		return false, nil
	}
	if strings.EqualFold(el.AttrOr("aria-disabled", ""), "true") {
		return false, nil
	}
	if el.Closest("fieldset[disabled]").Length() > 0 {
		return false, nil
	}
	return true, nil
}

func (p *StaticPage) Text(ctx context.Context, c *target.Candidate) (string, error) {
	el, err := p.first(c)
	if err != nil {
		return "", err
	}
	switch goquery.NodeName(el) {
	case "input", "textarea":
		if v, ok := el.Attr("value"); ok {
			return v, nil
		}
	}
	return strings.Join(strings.Fields(el.Text()), " "), nil
}

func (p *StaticPage) first(c *target.Candidate) (*goquery.Selection, error) {
	el := p.resolver.Match(p.doc, c)
	if el.Length() == 0 {
		return nil, errcode.Newf(errcode.ElementNotFound, "no element matches %s", c.Selector)
	}
	return el.First(), nil
}

func hiddenByMarkup(s *goquery.Selection) bool {
	if _, ok := s.Attr("hidden"); ok {
		return true
	}
	if strings.EqualFold(s.AttrOr("aria-hidden", ""), "true") {
		return true
	}
	style := strings.ToLower(strings.ReplaceAll(s.AttrOr("style", ""), " ", ""))
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}
