package registry

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/nmamano/wallgame-sub002/internal/protocol"
)

type fakeLink struct{ replaced bool }

func (f *fakeLink) CloseReplaced() { f.replaced = true }

func testRegistry(t *testing.T, maxClients int) *Registry {
	t.Helper()
	return New(maxClients, "official-secret", quartz.NewMock(t), zerolog.New(io.Discard))
}

func botConfig(botID, name string, opts ...func(*protocol.BotConfig)) protocol.BotConfig {
	cfg := protocol.BotConfig{
		BotID: botID,
		Name:  name,
		Variants: map[string]protocol.VariantSupport{
			"standard": {
				BoardWidth:  protocol.Range{Min: 3, Max: 9},
				BoardHeight: protocol.Range{Min: 3, Max: 9},
				Recommended: []protocol.BoardSize{
					{BoardWidth: 7, BoardHeight: 7},
					{BoardWidth: 3, BoardHeight: 3},
				},
			},
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func official(cfg *protocol.BotConfig) { cfg.OfficialToken = "official-secret" }

func privateTo(username string) func(*protocol.BotConfig) {
	return func(cfg *protocol.BotConfig) { cfg.Username = &username }
}

func TestRegisterAndFind(t *testing.T) {
	r := testRegistry(t, 10)
	replaced, err := r.Register("c1", protocol.ClientInfo{Name: "bot", Version: "1"}, []protocol.BotConfig{botConfig("b1", "Alpha")}, &fakeLink{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if replaced != nil {
		t.Fatal("fresh register reported a replacement")
	}
	bot, ok := r.FindBot("c1:b1")
	if !ok {
		t.Fatal("FindBot failed")
	}
	if bot.CompositeID != "c1:b1" || bot.IsOfficial {
		t.Errorf("bot = %+v", bot)
	}
}

func TestReplaceSameClientID(t *testing.T) {
	r := testRegistry(t, 1)
	first := &fakeLink{}
	if _, err := r.Register("c1", protocol.ClientInfo{Name: "bot", Version: "1"}, []protocol.BotConfig{botConfig("b1", "Alpha")}, first); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Cap is 1, but re-attach under the same clientId must still succeed.
	prior, err := r.Register("c1", protocol.ClientInfo{Name: "bot", Version: "2"}, []protocol.BotConfig{botConfig("b2", "Beta")}, &fakeLink{})
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if prior == nil || prior.Link != first {
		t.Fatal("prior client not returned for closing")
	}
	if _, ok := r.FindBot("c1:b1"); ok {
		t.Error("stale bot survived the replacement")
	}
	if _, ok := r.FindBot("c1:b2"); !ok {
		t.Error("new bot missing after replacement")
	}
	if r.ClientCount() != 1 {
		t.Errorf("clients = %d, want 1", r.ClientCount())
	}
}

func TestClientCap(t *testing.T) {
	r := testRegistry(t, 10)
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("c%d", i)
		if _, err := r.Register(id, protocol.ClientInfo{Name: "bot", Version: "1"}, []protocol.BotConfig{botConfig("b", "B")}, &fakeLink{}); err != nil {
			t.Fatalf("Register %s: %v", id, err)
		}
	}
	_, err := r.Register("c10", protocol.ClientInfo{Name: "bot", Version: "1"}, []protocol.BotConfig{botConfig("b", "B")}, &fakeLink{})
	if !errors.Is(err, ErrTooManyClients) {
		t.Errorf("11th client = %v, want ErrTooManyClients", err)
	}
}

func TestUnregisterRemovesBots(t *testing.T) {
	r := testRegistry(t, 10)
	r.Register("c1", protocol.ClientInfo{Name: "bot", Version: "1"}, []protocol.BotConfig{botConfig("b1", "Alpha"), botConfig("b2", "Beta")}, &fakeLink{})

	removed := r.Unregister("c1")
	if len(removed) != 2 {
		t.Fatalf("removed %d bots, want 2", len(removed))
	}
	if _, ok := r.FindBot("c1:b1"); ok {
		t.Error("bot still discoverable after unregister")
	}

	// Reconnecting restores discovery with no stale bots.
	r.Register("c1", protocol.ClientInfo{Name: "bot", Version: "1"}, []protocol.BotConfig{botConfig("b1", "Alpha")}, &fakeLink{})
	if got := len(r.ListMatching("standard", 0, 0, "")); got != 1 {
		t.Errorf("bots after reconnect = %d, want 1", got)
	}
}

func TestDiscoveryFilters(t *testing.T) {
	r := testRegistry(t, 10)
	r.Register("c1", protocol.ClientInfo{Name: "bot", Version: "1"}, []protocol.BotConfig{
		botConfig("pub", "Zeta"),
		botConfig("off", "Mid", official),
		botConfig("prv", "Priv", privateTo("Alice")),
	}, &fakeLink{})

	all := r.ListMatching("standard", 0, 0, "")
	if len(all) != 2 {
		t.Fatalf("anonymous discovery = %d bots, want 2", len(all))
	}
	if !all[0].IsOfficial {
		t.Error("official bot should sort first")
	}

	// Username match is case-insensitive.
	visible := r.ListMatching("standard", 0, 0, "alice")
	if len(visible) != 3 {
		t.Errorf("owner discovery = %d bots, want 3", len(visible))
	}

	if got := r.ListMatching("classic", 0, 0, ""); len(got) != 0 {
		t.Errorf("unsupported variant returned %d bots", len(got))
	}
	if got := r.ListMatching("standard", 12, 12, ""); len(got) != 0 {
		t.Errorf("out-of-range board returned %d bots", len(got))
	}
}

func TestListRecommendedOrdersByArea(t *testing.T) {
	r := testRegistry(t, 10)
	r.Register("c1", protocol.ClientInfo{Name: "bot", Version: "1"}, []protocol.BotConfig{botConfig("b1", "Alpha")}, &fakeLink{})

	recs := r.ListRecommended("standard", "")
	if len(recs) != 2 {
		t.Fatalf("recommendations = %d, want 2", len(recs))
	}
	if recs[0].BoardWidth != 3 || recs[1].BoardWidth != 7 {
		t.Errorf("recommendations not sorted by area: %+v", recs)
	}
}

func TestFindEvalBotWantsOfficial(t *testing.T) {
	r := testRegistry(t, 10)
	r.Register("c1", protocol.ClientInfo{Name: "bot", Version: "1"}, []protocol.BotConfig{botConfig("pub", "Alpha")}, &fakeLink{})
	if got := r.FindEvalBot("standard", 5, 5); got != nil {
		t.Errorf("unofficial bot selected for eval: %s", got.CompositeID)
	}

	r.Register("c2", protocol.ClientInfo{Name: "bot", Version: "1"}, []protocol.BotConfig{botConfig("off", "Beta", official)}, &fakeLink{})
	got := r.FindEvalBot("standard", 5, 5)
	if got == nil || got.CompositeID != "c2:off" {
		t.Errorf("FindEvalBot = %v, want c2:off", got)
	}
	if r.FindEvalBot("standard", 99, 99) != nil {
		t.Error("eval bot returned for unsupported board")
	}
}

func TestSplitCompositeID(t *testing.T) {
	clientID, botID, ok := SplitCompositeID("c1:b1")
	if !ok || clientID != "c1" || botID != "b1" {
		t.Errorf("split = %s/%s/%v", clientID, botID, ok)
	}
	if _, _, ok := SplitCompositeID("nocolon"); ok {
		t.Error("malformed composite accepted")
	}
	// Client IDs may themselves contain colons; the bot ID is the last part.
	clientID, botID, ok = SplitCompositeID("a:b:c")
	if !ok || clientID != "a:b" || botID != "c" {
		t.Errorf("split = %s/%s/%v", clientID, botID, ok)
	}
}

func TestActiveGamesMirror(t *testing.T) {
	r := testRegistry(t, 10)
	r.Register("c1", protocol.ClientInfo{Name: "bot", Version: "1"}, []protocol.BotConfig{botConfig("b1", "Alpha")}, &fakeLink{})
	bot, _ := r.FindBot("c1:b1")

	bot.AddActiveGame("g1", ActiveGame{PlayerID: 2, OpponentName: "alice"})
	if got := bot.ActiveGames(); len(got) != 1 || got["g1"].PlayerID != 2 {
		t.Errorf("active games = %+v", got)
	}
	bot.RemoveActiveGame("g1")
	if got := bot.ActiveGames(); len(got) != 0 {
		t.Errorf("active games after remove = %+v", got)
	}
}

func TestInvalidMessageCounter(t *testing.T) {
	r := testRegistry(t, 10)
	r.Register("c1", protocol.ClientInfo{Name: "bot", Version: "1"}, []protocol.BotConfig{botConfig("b1", "Alpha")}, &fakeLink{})
	c, _ := r.Client("c1")
	if got := c.CountInvalidMessage(); got != 1 {
		t.Errorf("counter = %d, want 1", got)
	}
	if got := c.CountInvalidMessage(); got != 2 {
		t.Errorf("counter = %d, want 2", got)
	}
}
