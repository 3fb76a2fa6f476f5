package recorder

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"sentinelqa/browser"
)

const bindingName = "__sentinelRecord"

//go:embed recorder.js
var recorderJS string

// Attach installs the recorder script in the browser tab, including every
// document loaded later, and feeds its events to r in order. The returned
// function stops delivery.
func Attach(ctx context.Context, b *browser.Browser, r *Recorder) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	events := make(chan RawEvent, 256)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				if _, err := r.HandleEvent(ctx, ev); err != nil {
					r.log.Debug("event not recorded", zap.String("type", string(ev.Type)), zap.Error(err))
				}
			}
		}
	}()

	chromedp.ListenTarget(b.Context(), func(ev interface{}) {
		called, ok := ev.(*runtime.EventBindingCalled)
		if !ok || called.Name != bindingName {
			return
		}
		var raw RawEvent
		if err := json.Unmarshal([]byte(called.Payload), &raw); err != nil {
			r.log.Warn("malformed recorder payload", zap.Error(err))
			return
		}
		select {
		case events <- raw:
		case <-ctx.Done():
		default:
			r.log.Warn("recorder event dropped", zap.String("type", string(raw.Type)))
		}
	})

	err := b.Exec(ctx,
		runtime.Enable(),
		runtime.AddBinding(bindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(recorderJS).Do(ctx)
			return err
		}),
		chromedp.Evaluate(recorderJS, nil),
	)
	if err != nil {
		cancel()
		wg.Wait()
		return nil, fmt.Errorf("error installing recorder: %w", err)
	}
	return func() {
		cancel()
		wg.Wait()
	}, nil
}
