package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"onebridge/pkg/config"
	"onebridge/pkg/onebot"
	"onebridge/pkg/router"
)

type fakeDispatcher struct {
	outcome router.Outcome
	reply   string
	events  []onebot.MessageEvent
}

func (d *fakeDispatcher) Dispatch(_ context.Context, sender router.Sender, event onebot.MessageEvent) router.Outcome {
	d.events = append(d.events, event)
	if d.reply != "" {
		_ = sender.Send(onebot.ReplyTo(event, d.reply))
	}
	return d.outcome
}

func TestRouterDispatchReportsReply(t *testing.T) {
	d := &fakeDispatcher{outcome: router.Outcome{Route: router.RoutePlugin, PluginID: "ping"}, reply: "pong"}
	event := onebot.MessageEvent{Type: onebot.KindGroup, GroupID: 20001, SenderID: 10001, RawText: "ping"}

	reply, err := routerDispatch(d)(context.Background(), event)
	if err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	if reply.Route != "plugin" || reply.Plugin != "ping" {
		t.Fatalf("reply = %+v", reply)
	}
	if reply.Action != string(onebot.ActionSendGroup) || reply.Text != "pong" {
		t.Fatalf("reply action = %q text = %q", reply.Action, reply.Text)
	}
	if len(d.events) != 1 || d.events[0].RawText != "ping" {
		t.Fatalf("events = %+v", d.events)
	}
}

func TestRouterDispatchWithoutReply(t *testing.T) {
	d := &fakeDispatcher{outcome: router.Outcome{Route: router.RouteBlocked}}

	reply, err := routerDispatch(d)(context.Background(), onebot.MessageEvent{Type: onebot.KindGroup, GroupID: 1})
	if err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	if reply.Route != "blocked" || reply.Text != "" || reply.Action != "" {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestRouterDispatchSurfacesSendFailure(t *testing.T) {
	sendErr := errors.New("encode failed")
	d := &fakeDispatcher{outcome: router.Outcome{Route: router.RouteSendFailed, Err: sendErr}}

	if _, err := routerDispatch(d)(context.Background(), onebot.MessageEvent{Type: onebot.KindPrivate}); !errors.Is(err, sendErr) {
		t.Fatalf("error = %v, want %v", err, sendErr)
	}
}

func TestConsoleLoggerDiscardsWithoutPath(t *testing.T) {
	log, closeLog, err := consoleLogger(config.LoggingConfig{}, "")
	if err != nil {
		t.Fatalf("consoleLogger error: %v", err)
	}
	defer closeLog()
	if log == nil {
		t.Fatal("expected logger")
	}
}

func TestConsoleLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.log")
	log, closeLog, err := consoleLogger(config.LoggingConfig{Format: "json", Level: "info"}, path)
	if err != nil {
		t.Fatalf("consoleLogger error: %v", err)
	}
	log.Info("hello from console")
	closeLog()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "hello from console") {
		t.Fatalf("log file = %q", content)
	}
}
