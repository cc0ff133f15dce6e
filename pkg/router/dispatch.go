package router

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"onebridge/pkg/bus"
	"onebridge/pkg/onebot"
)

// Route names how one message was resolved.
type Route string

const (
	RouteBlocked    Route = "blocked"
	RouteSuppressed Route = "suppressed"
	RoutePlugin     Route = "plugin"
	RouteBackend    Route = "backend"
	RouteNoAnswer   Route = "no_answer"
	RouteDiscarded  Route = "discarded"
	RouteSendFailed Route = "send_failed"
)

// Outcome describes what Dispatch did with one message.
type Outcome struct {
	RequestID string
	Route     Route
	PluginID  string
	Reply     string
	Err       error
}

// Replied reports whether an action reached the sender.
func (o Outcome) Replied() bool {
	return o.Route == RoutePlugin || o.Route == RouteBackend
}

// Dispatch routes one chat message and sends at most one reply through
// sender. It never returns an error; failures are logged and reported in the
// Outcome.
func (r *Router) Dispatch(ctx context.Context, sender Sender, event onebot.MessageEvent) Outcome {
	return r.dispatch(ctx, "", r.log, sender, event)
}

// dispatch runs on a context detached from the caller: once a message is
// accepted, the gate and chain decide its fate even if the connection
// goes away mid-flight.
func (r *Router) dispatch(ctx context.Context, sessionID string, log *slog.Logger, sender Sender, event onebot.MessageEvent) Outcome {
	ctx = context.WithoutCancel(ctx)
	out := Outcome{RequestID: uuid.NewString()}
	log = log.With("request_id", out.RequestID, "message_type", string(event.Type), "sender_id", event.SenderID)
	if event.IsGroup() {
		log = log.With("group_id", event.GroupID)
	}

	base := bus.Event{
		SessionID:   sessionID,
		MessageType: string(event.Type),
		TargetID:    event.TargetID(),
		RequestID:   out.RequestID,
	}
	emit := func(eventType bus.EventType, mutate func(*bus.Event)) {
		e := base
		e.Type = eventType
		if mutate != nil {
			mutate(&e)
		}
		r.publish(ctx, e)
	}

	log.Info("Message received", "text", event.RawText)

	if event.IsGroup() && r.gate != nil && !r.gate.IsEnabled(ctx, event.GroupID) {
		log.Info("Group disabled; message ignored")
		emit(bus.EventPolicyBlocked, nil)
		out.Route = RouteBlocked
		return out
	}

	if r.chain != nil {
		result, pluginID := r.chain.Handle(ctx, event)
		if result.Handled {
			out.PluginID = pluginID
			if result.Reply == "" {
				log.Debug("Plugin suppressed reply", "plugin", pluginID)
				emit(bus.EventReplySuppressed, func(e *bus.Event) { e.PluginID = pluginID })
				out.Route = RouteSuppressed
				return out
			}

			emit(bus.EventPluginHandled, func(e *bus.Event) { e.PluginID = pluginID })
			return r.reply(ctx, log, sender, event, out, RoutePlugin, result.Reply, emit)
		}
	}

	answer, err := r.ask(ctx, log, event, emit)
	if err != nil {
		out.Route = RouteNoAnswer
		out.Err = err
		return out
	}

	if r.opts.Format != nil {
		if formatted := r.opts.Format(answer); formatted != "" {
			answer = formatted
		}
	}
	return r.reply(ctx, log, sender, event, out, RouteBackend, answer, emit)
}

var errNoAnswer = errors.New("backend returned no answer")

// ask calls the backend bounded by the configured timeout.
func (r *Router) ask(ctx context.Context, log *slog.Logger, event onebot.MessageEvent, emit func(bus.EventType, func(*bus.Event))) (string, error) {
	if r.backend == nil {
		log.Error("No valid response from backend", "error", "backend is not configured")
		emit(bus.EventBackendFailed, func(e *bus.Event) { e.Error = "backend is not configured" })
		return "", errNoAnswer
	}

	emit(bus.EventBackendStarted, nil)
	callCtx, cancel := context.WithTimeout(ctx, r.opts.BackendTimeout)
	defer cancel()

	started := time.Now()
	result, err := r.backend.SendRequest(callCtx, event.RawText, event.TargetID(), event.IsGroup())
	duration := time.Since(started)
	if err != nil {
		log.Error("No valid response from backend", "error", err, "duration", duration)
		emit(bus.EventBackendFailed, func(e *bus.Event) { e.Error = err.Error() })
		return "", err
	}

	answer, ok := r.backend.ExtractAnswer(result)
	if !ok {
		log.Error("No valid response from backend", "reason", "empty answer", "duration", duration)
		emit(bus.EventBackendEmpty, nil)
		return "", errNoAnswer
	}

	log.Debug("Backend answered", "duration", duration, "provider", result.Metadata.Provider)
	return answer, nil
}

func (r *Router) reply(ctx context.Context, log *slog.Logger, sender Sender, event onebot.MessageEvent, out Outcome, route Route, text string, emit func(bus.EventType, func(*bus.Event))) Outcome {
	out.Reply = text

	err := sender.Send(onebot.ReplyTo(event, text))
	switch {
	case errors.Is(err, ErrSessionClosed):
		log.Debug("Connection closed before reply; discarding", "route", string(route))
		emit(bus.EventReplyDiscarded, func(e *bus.Event) { e.PluginID = out.PluginID })
		out.Route = RouteDiscarded
	case err != nil:
		log.Warn("Failed to send reply", "route", string(route), "error", err)
		emit(bus.EventReplyDiscarded, func(e *bus.Event) {
			e.PluginID = out.PluginID
			e.Error = err.Error()
		})
		out.Route = RouteSendFailed
		out.Err = err
	default:
		log.Info("Reply sent", "route", string(route), "plugin", out.PluginID)
		emit(bus.EventReplySent, func(e *bus.Event) {
			e.PluginID = out.PluginID
			e.Payload = map[string]string{"route": string(route)}
		})
		out.Route = route
	}
	return out
}
