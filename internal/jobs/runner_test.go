package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedResult struct {
	job       string
	processed int
	err       error
}

type fakePublisher struct {
	mu      sync.Mutex
	results []capturedResult
}

func (f *fakePublisher) PublishJobResult(_ context.Context, job string, processed int, runErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, capturedResult{job: job, processed: processed, err: runErr})
	return nil
}

func TestNewRunnerValidation(t *testing.T) {
	noop := func(context.Context, time.Time) (int, error) { return 0, nil }

	_, err := NewRunner(nil, nil)
	assert.Error(t, err)

	_, err = NewRunner([]Job{{Name: "", Interval: time.Minute, Run: noop}}, nil)
	assert.Error(t, err)

	_, err = NewRunner([]Job{{Name: "a", Interval: 0, Run: noop}}, nil)
	assert.Error(t, err)

	_, err = NewRunner([]Job{{Name: "a", Interval: time.Minute, Run: nil}}, nil)
	assert.Error(t, err)

	_, err = NewRunner([]Job{{Name: "a", Interval: time.Minute, Run: noop}}, nil)
	assert.NoError(t, err)
}

func TestRunOnceRunsEveryJob(t *testing.T) {
	var order []string
	boom := errors.New("boom")

	runner, err := NewRunner([]Job{
		{Name: "first", Interval: time.Hour, Run: func(context.Context, time.Time) (int, error) {
			order = append(order, "first")
			return 3, nil
		}},
		{Name: "second", Interval: time.Hour, Run: func(context.Context, time.Time) (int, error) {
			order = append(order, "second")
			return 0, boom
		}},
		{Name: "third", Interval: time.Hour, Run: func(context.Context, time.Time) (int, error) {
			order = append(order, "third")
			return 1, nil
		}},
	}, nil)
	require.NoError(t, err)

	// The failing job does not stop the ones after it.
	err = runner.RunOnce(context.Background(), time.Now())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestRunOnceRecoversPanic(t *testing.T) {
	ran := false
	runner, err := NewRunner([]Job{
		{Name: "panics", Interval: time.Hour, Run: func(context.Context, time.Time) (int, error) {
			panic("unexpected")
		}},
		{Name: "survives", Interval: time.Hour, Run: func(context.Context, time.Time) (int, error) {
			ran = true
			return 0, nil
		}},
	}, nil)
	require.NoError(t, err)

	err = runner.RunOnce(context.Background(), time.Now())
	assert.Error(t, err)
	assert.True(t, ran)
}

func TestRunOncePublishesResults(t *testing.T) {
	publisher := &fakePublisher{}
	boom := errors.New("boom")

	runner, err := NewRunner([]Job{
		{Name: "ok", Interval: time.Hour, Run: func(context.Context, time.Time) (int, error) {
			return 5, nil
		}},
		{Name: "bad", Interval: time.Hour, Run: func(context.Context, time.Time) (int, error) {
			return 0, boom
		}},
	}, publisher)
	require.NoError(t, err)

	_ = runner.RunOnce(context.Background(), time.Now())

	require.Len(t, publisher.results, 2)
	assert.Equal(t, "ok", publisher.results[0].job)
	assert.Equal(t, 5, publisher.results[0].processed)
	assert.NoError(t, publisher.results[0].err)
	assert.Equal(t, "bad", publisher.results[1].job)
	assert.ErrorIs(t, publisher.results[1].err, boom)
}

func TestStartStopsOnCancel(t *testing.T) {
	var mu sync.Mutex
	runs := 0

	runner, err := NewRunner([]Job{
		{Name: "tick", Interval: 10 * time.Millisecond, Run: func(context.Context, time.Time) (int, error) {
			mu.Lock()
			defer mu.Unlock()
			runs++
			return 0, nil
		}},
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Start(ctx) }()

	// Let the immediate run plus at least one tick happen.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, runs, 2)
}
