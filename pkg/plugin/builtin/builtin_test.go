package builtin

import (
	"context"
	"strings"
	"testing"

	"onebridge/pkg/config"
	"onebridge/pkg/logger"
	"onebridge/pkg/onebot"
	"onebridge/pkg/plugin"
)

func message(sender int64, text string) onebot.MessageEvent {
	return onebot.MessageEvent{Type: onebot.KindPrivate, SenderID: sender, RawText: text}
}

func newBuiltinChain(t *testing.T, cfg config.PluginsConfig) *plugin.Chain {
	t.Helper()

	registry := plugin.NewRegistry(logger.Discard())
	chain := plugin.NewChain(registry, logger.Discard())
	if err := Register(registry, chain, cfg); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	chain.Load()
	return chain
}

func TestRegisterHonorsEnabledListAndPriority(t *testing.T) {
	t.Parallel()

	chain := newBuiltinChain(t, config.PluginsConfig{
		Enabled: []string{IDKeyword, IDPing, IDBlocklist},
		Keyword: config.KeywordConfig{Replies: map[string]string{"hello": "world"}},
	})

	units := chain.Units()
	got := make([]string, len(units))
	for i, u := range units {
		got[i] = u.ID
	}
	want := []string{IDBlocklist, IDPing, IDKeyword}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("loaded = %v, want %v", got, want)
	}
}

func TestRegisterTwiceFails(t *testing.T) {
	t.Parallel()

	registry := plugin.NewRegistry(logger.Discard())
	chain := plugin.NewChain(registry, logger.Discard())
	if err := Register(registry, chain, config.PluginsConfig{}); err != nil {
		t.Fatalf("first Register error: %v", err)
	}
	if err := Register(registry, chain, config.PluginsConfig{}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestBlocklistSuppressesBeforeOtherPlugins(t *testing.T) {
	t.Parallel()

	chain := newBuiltinChain(t, config.PluginsConfig{
		Enabled:   []string{IDBlocklist, IDPing},
		Blocklist: config.BlocklistConfig{Users: []int64{7}},
	})

	result, claimant := chain.Handle(context.Background(), message(7, "/ping"))
	if !result.Suppressed() || claimant != IDBlocklist {
		t.Fatalf("result = %+v claimant = %q, want suppressed by blocklist", result, claimant)
	}

	result, claimant = chain.Handle(context.Background(), message(8, "/ping"))
	if result.Reply != "pong" || claimant != IDPing {
		t.Fatalf("result = %+v claimant = %q, want pong", result, claimant)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	p := NewPing(true)
	for text, handled := range map[string]bool{"/ping": true, "  /PING ": true, "ping": false, "/ping me": false} {
		result, err := p.Handle(context.Background(), message(1, text))
		if err != nil {
			t.Fatalf("Handle(%q) error: %v", text, err)
		}
		if result.Handled != handled {
			t.Fatalf("Handle(%q).Handled = %v, want %v", text, result.Handled, handled)
		}
	}
}

func TestHelpListsLoadedPlugins(t *testing.T) {
	t.Parallel()

	chain := newBuiltinChain(t, config.PluginsConfig{Enabled: []string{IDPing, IDHelp}})

	result, claimant := chain.Handle(context.Background(), message(1, "/help"))
	if claimant != IDHelp {
		t.Fatalf("claimant = %q, want help", claimant)
	}
	if !strings.Contains(result.Reply, "- ping: /ping replies pong") || !strings.Contains(result.Reply, "- help:") {
		t.Fatalf("reply = %q", result.Reply)
	}
	if strings.Contains(result.Reply, IDKeyword) {
		t.Fatalf("reply lists a disabled plugin: %q", result.Reply)
	}
}

func TestHelpWithoutListerErrors(t *testing.T) {
	t.Parallel()

	if _, err := NewHelp(true, nil).Handle(context.Background(), message(1, "/help")); err == nil {
		t.Fatal("expected error without unit lister")
	}
}

func TestKeyword(t *testing.T) {
	t.Parallel()

	k := NewKeyword(true, map[string]string{" Hello ": "world", "quiet": "", "": "skip"})

	result, _ := k.Handle(context.Background(), message(1, "hello"))
	if result.Reply != "world" {
		t.Fatalf("reply = %q, want world", result.Reply)
	}

	result, _ = k.Handle(context.Background(), message(1, "QUIET"))
	if !result.Suppressed() {
		t.Fatalf("result = %+v, want suppressed", result)
	}

	result, _ = k.Handle(context.Background(), message(1, "hello there"))
	if result.Handled {
		t.Fatalf("result = %+v, want pass", result)
	}
}

func TestKeywordWithoutRepliesIsDisabled(t *testing.T) {
	t.Parallel()

	if NewKeyword(true, nil).Enabled() {
		t.Fatal("keyword plugin with no replies should be disabled")
	}
}
