package broadcast

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type fakeSub struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

func (f *fakeSub) ID() string { return f.id }

func (f *fakeSub) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send queue full")
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeSub) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func testHub() *Hub {
	return NewHub(zerolog.New(io.Discard))
}

type ping struct {
	Type string `json:"type"`
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := testHub()
	a := &fakeSub{id: "a"}
	b := &fakeSub{id: "b"}
	h.Subscribe(GameTopic("g1"), a, 1)
	h.Subscribe(GameTopic("g1"), b, 0)

	h.Publish(GameTopic("g1"), ping{Type: "state"})

	if a.count() != 1 || b.count() != 1 {
		t.Errorf("frames = %d/%d, want 1/1", a.count(), b.count())
	}
}

func TestPublishIsolatesTopics(t *testing.T) {
	h := testHub()
	a := &fakeSub{id: "a"}
	h.Subscribe(GameTopic("g1"), a, 0)

	h.Publish(GameTopic("g2"), ping{Type: "state"})

	if a.count() != 0 {
		t.Errorf("subscriber of g1 received g2 traffic")
	}
}

func TestPublishToPlayerSkipsSenderAndSpectators(t *testing.T) {
	h := testHub()
	sender := &fakeSub{id: "p1"}
	opponent := &fakeSub{id: "p2"}
	spectator := &fakeSub{id: "spec"}
	h.Subscribe(GameTopic("g1"), sender, 1)
	h.Subscribe(GameTopic("g1"), opponent, 2)
	h.Subscribe(GameTopic("g1"), spectator, 0)

	h.PublishToPlayer(GameTopic("g1"), 2, ping{Type: "draw-offer"})

	if opponent.count() != 1 {
		t.Errorf("opponent frames = %d, want 1", opponent.count())
	}
	if sender.count() != 0 || spectator.count() != 0 {
		t.Errorf("private offer leaked: sender=%d spectator=%d", sender.count(), spectator.count())
	}
}

func TestPublishExcept(t *testing.T) {
	h := testHub()
	a := &fakeSub{id: "a"}
	b := &fakeSub{id: "b"}
	h.Subscribe(TopicLobby, a, 0)
	h.Subscribe(TopicLobby, b, 0)

	h.PublishExcept(TopicLobby, "a", ping{Type: "lobby-update"})

	if a.count() != 0 || b.count() != 1 {
		t.Errorf("frames = %d/%d, want 0/1", a.count(), b.count())
	}
}

func TestFailedSendDoesNotStopFanOut(t *testing.T) {
	h := testHub()
	bad := &fakeSub{id: "bad", fail: true}
	good := &fakeSub{id: "good"}
	h.Subscribe(TopicLive, bad, 0)
	h.Subscribe(TopicLive, good, 0)

	h.Publish(TopicLive, ping{Type: "live-update"})

	if good.count() != 1 {
		t.Errorf("healthy subscriber starved by failing one")
	}
}

func TestUnsubscribe(t *testing.T) {
	h := testHub()
	a := &fakeSub{id: "a"}
	h.Subscribe(GameTopic("g1"), a, 0)
	h.Unsubscribe(GameTopic("g1"), "a")

	h.Publish(GameTopic("g1"), ping{Type: "state"})

	if a.count() != 0 {
		t.Error("unsubscribed subscriber still receives frames")
	}
	if h.Count(GameTopic("g1")) != 0 {
		t.Error("empty topic not dropped")
	}
}

func TestUnsubscribeAll(t *testing.T) {
	h := testHub()
	a := &fakeSub{id: "a"}
	h.Subscribe(GameTopic("g1"), a, 0)
	h.Subscribe(TopicLobby, a, 0)
	h.Subscribe(EvalTopic("g1"), a, 0)

	h.UnsubscribeAll("a")

	for _, topic := range []string{GameTopic("g1"), TopicLobby, EvalTopic("g1")} {
		if h.Count(topic) != 0 {
			t.Errorf("topic %s still has subscribers", topic)
		}
	}
}

func TestResubscribeReplaces(t *testing.T) {
	h := testHub()
	a := &fakeSub{id: "a"}
	h.Subscribe(GameTopic("g1"), a, 0)
	h.Subscribe(GameTopic("g1"), a, 2)

	if h.Count(GameTopic("g1")) != 1 {
		t.Fatalf("count = %d, want 1", h.Count(GameTopic("g1")))
	}
	h.PublishToPlayer(GameTopic("g1"), 2, ping{Type: "draw-offer"})
	if a.count() != 1 {
		t.Error("replacement subscription lost the player tag")
	}
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	h := testHub()
	subs := make([]*fakeSub, 20)
	for i := range subs {
		subs[i] = &fakeSub{id: string(rune('a' + i))}
		h.Subscribe(TopicLive, subs[i], 0)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			h.Publish(TopicLive, ping{Type: "live-update"})
		}
	}()
	go func() {
		defer wg.Done()
		for _, s := range subs {
			h.Unsubscribe(TopicLive, s.id)
		}
	}()
	wg.Wait()
	// No assertion beyond absence of races and panics.
}
