package persist

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestQueueRunsJobs(t *testing.T) {
	q := NewQueue(2, 16, zerolog.New(io.Discard))
	var ran atomic.Int64
	for i := 0; i < 10; i++ {
		if !q.Submit("job", func(context.Context) error {
			ran.Add(1)
			return nil
		}) {
			t.Fatalf("submit %d dropped", i)
		}
	}
	q.Close()
	if got := ran.Load(); got != 10 {
		t.Errorf("ran = %d, want 10", got)
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(1, 1, zerolog.New(io.Discard))
	block := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	q.Submit("blocker", func(context.Context) error {
		defer wg.Done()
		<-block
		return nil
	})

	// Give the worker time to pick the blocker up, then fill the buffer.
	deadline := time.Now().Add(time.Second)
	for len(q.jobs) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !q.Submit("buffered", func(context.Context) error { return nil }) {
		t.Fatal("buffered submit dropped")
	}
	if q.Submit("overflow", func(context.Context) error { return nil }) {
		t.Error("overflow submit accepted")
	}

	close(block)
	wg.Wait()
	q.Close()
}

func TestQueueLogsFailuresAndContinues(t *testing.T) {
	q := NewQueue(1, 4, zerolog.New(io.Discard))
	var ran atomic.Int64
	q.Submit("failing", func(context.Context) error { return errors.New("db down") })
	q.Submit("after", func(context.Context) error {
		ran.Add(1)
		return nil
	})
	q.Close()
	if ran.Load() != 1 {
		t.Error("job after a failure did not run")
	}
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = Noop{}
	if err := r.SaveFinishedGame(context.Background(), FinishedGame{GameID: "g1"}); err != nil {
		t.Errorf("SaveFinishedGame: %v", err)
	}
	_, ok, err := r.FetchRating(context.Background(), "u1")
	if err != nil || ok {
		t.Errorf("FetchRating = %v, %v", ok, err)
	}
}
