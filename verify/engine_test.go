package verify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinelqa/errcode"
	"sentinelqa/target"
)

const reviewPage = `<html><body>
<h1 class="title">Review your order</h1>
<div data-testid="toast" class="toast">Order placed successfully</div>
<div style="display: none" id="spinner">Loading</div>
<button id="pay" disabled>Pay</button>
<fieldset disabled><button id="coupon">Apply</button></fieldset>
<div><p>Shipping to Paris</p></div>
<input id="email" value="jane@example.com">
</body></html>`

func mustPage(t *testing.T, url string) *StaticPage {
	t.Helper()
	page, err := NewStaticPage(url, reviewPage)
	require.NoError(t, err)
	return page
}

func TestURLContains(t *testing.T) {
	page := mustPage(t, "https://shop.test/checkout/review")
	e := NewEngine(nil)

	results := e.Evaluate(context.Background(), page, []Assertion{
		{Kind: KindURLContains, Expected: "/checkout"},
		{Kind: KindURLContains, Expected: "/thank-you"},
	})
	require.Len(t, results, 2)

	assert.True(t, results[0].Passed)
	assert.Equal(t, target.ConfidenceHigh, results[0].Confidence)
	assert.Equal(t, "https://shop.test/checkout/review", results[0].Actual)

	assert.False(t, results[1].Passed)
	assert.Equal(t, target.ConfidenceHigh, results[1].Confidence)
	assert.False(t, Passed(results))
	assert.Len(t, Failed(results), 1)
}

func TestElementAssertions(t *testing.T) {
	page := mustPage(t, "https://shop.test/checkout/review")
	e := NewEngine(nil)

	tests := []struct {
		name       string
		assertion  Assertion
		passed     bool
		confidence target.Confidence
	}{
		{"exists by test id", Assertion{Kind: KindExists, Target: &target.Descriptor{TestID: "toast"}}, true, target.ConfidenceHigh},
		{"visible", Assertion{Kind: KindVisible, Target: &target.Descriptor{TestID: "toast"}}, true, target.ConfidenceHigh},
		{"hidden spinner not visible", Assertion{Kind: KindNotVisible, Target: &target.Descriptor{ID: "spinner"}}, true, target.ConfidenceHigh},
		{"hidden spinner visible", Assertion{Kind: KindVisible, Target: &target.Descriptor{ID: "spinner"}}, false, target.ConfidenceHigh},
		{"disabled button", Assertion{Kind: KindEnabled, Target: &target.Descriptor{ID: "pay"}}, false, target.ConfidenceHigh},
		{"disabled fieldset", Assertion{Kind: KindEnabled, Target: &target.Descriptor{ID: "coupon"}}, false, target.ConfidenceHigh},
		{"text contains ignores case", Assertion{Kind: KindTextContains, Target: &target.Descriptor{TestID: "toast"}, Expected: "SUCCESSFULLY"}, true, target.ConfidenceHigh},
		{"text equals", Assertion{Kind: KindTextEquals, Target: &target.Descriptor{Tag: "h1", Classes: []string{"title"}}, Expected: "review your order"}, true, target.ConfidenceMedium},
		{"text equals mismatch", Assertion{Kind: KindTextEquals, Target: &target.Descriptor{TestID: "toast"}, Expected: "Order placed"}, false, target.ConfidenceHigh},
		{"input value", Assertion{Kind: KindTextEquals, Target: &target.Descriptor{ID: "email"}, Expected: "jane@example.com"}, true, target.ConfidenceHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := e.Evaluate(context.Background(), page, []Assertion{tt.assertion})
			require.Len(t, results, 1)
			assert.Equal(t, tt.passed, results[0].Passed, results[0].Reason)
			assert.Equal(t, tt.confidence, results[0].Confidence)
			assert.Empty(t, results[0].Code)
		})
	}
}

func TestStructuralTargetHasLowConfidence(t *testing.T) {
	page := mustPage(t, "https://shop.test/")
	e := NewEngine(nil)

	results := e.Evaluate(context.Background(), page, []Assertion{
		{Kind: KindVisible, Target: &target.Descriptor{Tag: "p"}},
	})
	require.Len(t, results, 1)
	assert.True(t, results[0].Passed)
	assert.Equal(t, target.StrategyCSSPath, results[0].Strategy)
	assert.Equal(t, target.ConfidenceLow, results[0].Confidence)
}

func TestUnresolvedTargetFails(t *testing.T) {
	page := mustPage(t, "https://shop.test/")
	e := NewEngine(nil)

	for _, kind := range []Kind{KindExists, KindVisible, KindNotVisible, KindTextContains} {
		results := e.Evaluate(context.Background(), page, []Assertion{
			{Kind: kind, Target: &target.Descriptor{TestID: "missing-banner"}, Expected: "x"},
		})
		require.Len(t, results, 1)
		assert.False(t, results[0].Passed, kind)
		assert.Equal(t, target.ConfidenceLow, results[0].Confidence)
		assert.Equal(t, string(errcode.VerificationTargetUnresolved), results[0].Code)
	}
}

func TestEvaluateDoesNotShortCircuit(t *testing.T) {
	page := mustPage(t, "https://shop.test/")
	e := NewEngine(nil)

	assertions := []Assertion{
		{Kind: KindExists, Target: &target.Descriptor{ID: "nope"}},
		{Kind: KindURLContains, Expected: "shop"},
		{Kind: KindVisible, Target: &target.Descriptor{TestID: "toast"}},
	}
	first := e.Evaluate(context.Background(), page, assertions)
	require.Len(t, first, 3)
	assert.False(t, first[0].Passed)
	assert.True(t, first[1].Passed)
	assert.True(t, first[2].Passed)

	again := e.Evaluate(context.Background(), page, assertions)
	assert.Equal(t, first, again)
}

func TestRegisterChecker(t *testing.T) {
	page := mustPage(t, "https://shop.test/")
	const kindFails Kind = "always_fails"
	e := NewEngine(nil, WithChecker(kindFails, func(ctx context.Context, probe Probe, c *target.Candidate, a Assertion) (bool, string, string, error) {
		return false, "", "", errors.New("boom")
	}))

	results := e.Evaluate(context.Background(), page, []Assertion{
		{Kind: kindFails, Target: &target.Descriptor{TestID: "toast"}},
		{Kind: "unknown", Target: &target.Descriptor{TestID: "toast"}},
	})
	require.Len(t, results, 2)
	assert.False(t, results[0].Passed)
	assert.Contains(t, results[0].Reason, "boom")
	assert.Equal(t, `[data-testid="toast"]`, results[0].SelectorUsed)
	assert.False(t, results[1].Passed)
	assert.Contains(t, results[1].Reason, "unknown assertion kind")
}

// detachedPage loses every element between resolution and the text read.
type detachedPage struct {
	*StaticPage
}

func (p *detachedPage) Text(ctx context.Context, c *target.Candidate) (string, error) {
	return "", errcode.Newf(errcode.ElementDetached, "%s detached", c.Selector)
}

func TestCheckErrorKeepsStrategyConfidence(t *testing.T) {
	page := &detachedPage{StaticPage: mustPage(t, "https://shop.test/")}
	e := NewEngine(nil)

	results := e.Evaluate(context.Background(), page, []Assertion{
		{Kind: KindTextContains, Target: &target.Descriptor{TestID: "toast"}, Expected: "placed"},
		{Kind: KindTextContains, Target: &target.Descriptor{Tag: "p"}, Expected: "Paris"},
	})
	require.Len(t, results, 2)
	assert.False(t, results[0].Passed)
	assert.Equal(t, string(errcode.ElementDetached), results[0].Code)
	assert.Equal(t, target.StrategyTestID, results[0].Strategy)
	assert.Equal(t, target.ConfidenceHigh, results[0].Confidence)
	assert.False(t, results[1].Passed)
	assert.Equal(t, target.ConfidenceLow, results[1].Confidence)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("ü", maxActualLength+20)
	cut := truncate(long)
	assert.True(t, utf8.ValidString(cut))
	assert.Equal(t, maxActualLength, utf8.RuneCountInString(cut))
	assert.Equal(t, "short", truncate("short"))
}

func TestAssertionString(t *testing.T) {
	assert.Equal(t, "banner shown", Assertion{Kind: KindVisible, Description: "banner shown"}.String())
	assert.Equal(t, `url_contains "/done"`, Assertion{Kind: KindURLContains, Expected: "/done"}.String())
	assert.Equal(t, `visible [id="x"]`, Assertion{Kind: KindVisible, Target: &target.Descriptor{ID: "x"}}.String())
	assert.True(t, KindTextEquals.Valid())
	assert.False(t, Kind("bogus").Valid())
}
