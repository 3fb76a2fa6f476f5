package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinelqa/actor"
	"sentinelqa/actor/replayactor"
	"sentinelqa/browser"
	"sentinelqa/runner"
	"sentinelqa/runner/finiterunner"
	"sentinelqa/target"
	"sentinelqa/trajectory"
	"sentinelqa/verify"
)

const donePage = `<html><head><title>Done</title></head><body><p id="status">Order placed</p></body></html>`

type page struct {
	*verify.StaticPage
	url    string
	closed func()
}

func (p *page) Navigate(ctx context.Context, url string) error {
	static, err := verify.NewStaticPage(url, donePage)
	if err != nil {
		return err
	}
	p.StaticPage, p.url = static, url
	return nil
}

func (p *page) Capture(ctx context.Context) (*browser.Snapshot, error) {
	return &browser.Snapshot{URL: p.url, Title: "Done", HTML: donePage, Digest: donePage}, nil
}

func (p *page) Click(ctx context.Context, c *target.Candidate) error              { return nil }
func (p *page) Type(ctx context.Context, c *target.Candidate, value string) error { return nil }
func (p *page) Select(ctx context.Context, c *target.Candidate, value string) error {
	return nil
}
func (p *page) Submit(ctx context.Context, c *target.Candidate) error { return nil }
func (p *page) Press(ctx context.Context, key string) error           { return nil }
func (p *page) Close()                                                { p.closed() }

type store struct {
	mu     sync.Mutex
	states map[string]runner.Status
}

func (s *store) CreateSession(ctx context.Context, id string, kind string, url string, instruction string) error {
	return nil
}

func (s *store) AppendAction(ctx context.Context, id string, action trajectory.Action) error {
	return nil
}

func (s *store) SaveState(ctx context.Context, state *runner.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ID] = state.CurrentStatus()
	return nil
}

func completingActor(job *Job) (actor.Actor, error) {
	return replayactor.New(nil), nil
}

func TestPoolRunsJobsWithBoundedConcurrency(t *testing.T) {
	var active, peak, opened, closed atomic.Int32
	newPage := func(ctx context.Context) (finiterunner.Page, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		opened.Add(1)
		return &page{closed: func() {
			active.Add(-1)
			closed.Add(1)
		}}, nil
	}
	st := &store{states: map[string]runner.Status{}}
	p := New(newPage, completingActor, &Options{Concurrency: 2, Store: st})

	jobs := []*Job{
		{ID: "run_a", StartURL: "https://shop.test/a", Assertions: []verify.Assertion{{Kind: verify.KindURLContains, Expected: "/a"}}},
		{ID: "run_b", StartURL: "https://shop.test/b", Assertions: []verify.Assertion{{Kind: verify.KindTextContains, Target: &target.Descriptor{ID: "status"}, Expected: "refunded"}}},
		{ID: "run_c", StartURL: "https://shop.test/c"},
		{ID: "run_d", StartURL: "https://shop.test/d", Assertions: []verify.Assertion{{Kind: verify.KindExists, Target: &target.Descriptor{ID: "status"}}}},
	}
	results, err := p.Run(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, results, len(jobs))

	for i, r := range results {
		assert.Same(t, jobs[i], r.Job)
		require.NoError(t, r.Err)
		require.NotNil(t, r.Summary)
	}
	assert.Equal(t, runner.StatusPassed, results[0].State.CurrentStatus())
	assert.Equal(t, runner.StatusFailed, results[1].State.CurrentStatus())
	assert.Equal(t, "Verification failed", results[1].Summary.BugSummary)
	assert.Equal(t, runner.StatusPassed, results[2].State.CurrentStatus())
	assert.Equal(t, runner.StatusPassed, results[3].State.CurrentStatus())

	failed := Failed(results)
	require.Len(t, failed, 1)
	assert.Equal(t, "run_b", failed[0].Job.ID)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(4), opened.Load())
	assert.Equal(t, opened.Load(), closed.Load())
	assert.Len(t, st.states, 4)
	assert.Equal(t, runner.StatusFailed, st.states["run_b"])
}

func TestPoolKeepsGoingWhenABrowserCannotOpen(t *testing.T) {
	var calls atomic.Int32
	newPage := func(ctx context.Context) (finiterunner.Page, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("chrome not found")
		}
		return &page{closed: func() {}}, nil
	}
	p := New(newPage, completingActor, &Options{Concurrency: 1})
	results, err := p.Run(context.Background(), []*Job{
		{StartURL: "https://shop.test/a"},
		{StartURL: "https://shop.test/b"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.ErrorContains(t, results[0].Err, "chrome not found")
	assert.Nil(t, results[0].State)
	require.NoError(t, results[1].Err)
	assert.Equal(t, runner.StatusPassed, results[1].State.CurrentStatus())
	assert.Len(t, Failed(results), 1)
	assert.ErrorContains(t, Err(results), "https://shop.test/a")
}

func TestPoolCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	newPage := func(ctx context.Context) (finiterunner.Page, error) {
		t.Fatal("no browser should open after cancellation")
		return nil, nil
	}
	p := New(newPage, completingActor, nil)
	results, err := p.Run(ctx, []*Job{{StartURL: "https://shop.test/a"}})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}
