package completion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sentinelqa/target"
	"sentinelqa/trajectory"
)

func TestCheckPriority(t *testing.T) {
	d := New(&Options{ExpectedURLs: []string{"/thank-you"}, MaxNumSteps: 5, Timeout: time.Minute})
	click := trajectory.NewClickAction(&target.Descriptor{Text: "Buy"}, "Buy")

	tests := []struct {
		name   string
		in     Input
		reason Reason
	}{
		{
			name:   "explicit complete wins over ceiling",
			in:     Input{Action: trajectory.NewCompleteAction("done"), Step: 9},
			reason: ReasonComplete,
		},
		{
			name: "navigation to expected target",
			in: Input{Action: click, StartURL: "https://shop.test/cart", CurURL: "https://shop.test/thank-you?order=1",
				PrevText: "Cart", CurText: "Order placed successfully"},
			reason: ReasonNavigation,
		},
		{
			name:   "navigation elsewhere is not a signal",
			in:     Input{Action: click, StartURL: "https://shop.test/cart", CurURL: "https://shop.test/login"},
			reason: ReasonNone,
		},
		{
			name:   "new success phrase",
			in:     Input{Action: click, PrevText: "Contact us", CurText: "Thank you for your message"},
			reason: ReasonPhrase,
		},
		{
			name:   "phrase already present before the action",
			in:     Input{Action: click, PrevText: "Thanks for visiting", CurText: "Thanks for visiting"},
			reason: ReasonNone,
		},
		{
			name:   "phrase inside another word does not count",
			in:     Input{Action: click, PrevText: "", CurText: "Donate sentinel consent"},
			reason: ReasonNone,
		},
		{
			name:   "step ceiling",
			in:     Input{Action: click, Step: 5},
			reason: ReasonMaxSteps,
		},
		{
			name:   "time ceiling",
			in:     Input{Action: click, Step: 1, Elapsed: 2 * time.Minute},
			reason: ReasonTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signal := d.Check(tt.in)
			assert.Equal(t, tt.reason, signal.Reason, signal.Detail)
		})
	}
}

func TestCeilingIsNeverSuccess(t *testing.T) {
	d := New(nil)
	signal := d.Check(Input{Step: DefaultMaxNumSteps})
	assert.True(t, signal.Done())
	assert.False(t, signal.Success())

	assert.True(t, Signal{Reason: ReasonPhrase}.Success())
	assert.False(t, Signal{}.Done())
}

func TestQueryChangeIsNotNavigation(t *testing.T) {
	d := New(&Options{ExpectedURLs: []string{"shop.test"}})
	signal := d.Check(Input{StartURL: "https://shop.test/cart", CurURL: "https://shop.test/cart/?step=2#top"})
	assert.Equal(t, ReasonNone, signal.Reason)
}

func TestConfigurablePhrases(t *testing.T) {
	d := New(&Options{SuccessPhrases: []string{"Welcome aboard"}})
	phrase, ok := d.NewPhrase("Sign up", "WELCOME   aboard, Jane")
	assert.True(t, ok)
	assert.Equal(t, "welcome aboard", phrase)

	_, ok = d.NewPhrase("", "Thank you")
	assert.False(t, ok)
}

func TestWithCeilings(t *testing.T) {
	d := New(nil)
	c := d.WithCeilings(3, 0)
	assert.Equal(t, 3, c.MaxNumSteps())
	assert.Equal(t, DefaultTimeout, c.Timeout())
	assert.Equal(t, DefaultMaxNumSteps, d.MaxNumSteps())
	assert.Equal(t, ReasonMaxSteps, c.Check(Input{Step: 3}).Reason)
}
