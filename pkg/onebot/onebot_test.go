package onebot

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDecodeHeartbeat(t *testing.T) {
	t.Parallel()

	frame := []byte(`{"post_type":"meta_event","meta_event_type":"heartbeat","self_id":1,"time":1700000000,"interval":5000}`)

	event, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	hb, ok := event.(HeartbeatEvent)
	if !ok {
		t.Fatalf("event = %T, want HeartbeatEvent", event)
	}
	if hb.Interval != 5*time.Second {
		t.Fatalf("interval = %s, want 5s", hb.Interval)
	}
	if hb.SelfID != 1 || hb.Time.Unix() != 1700000000 {
		t.Fatalf("heartbeat = %+v", hb)
	}
}

func TestDecodePrivateMessage(t *testing.T) {
	t.Parallel()

	frame := []byte(`{"post_type":"message","message_type":"private","message_id":7,"sender":{"user_id":42,"nickname":"ann"},"raw_message":"hi"}`)

	event, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	msg, ok := event.(MessageEvent)
	if !ok {
		t.Fatalf("event = %T, want MessageEvent", event)
	}
	if msg.Kind() != KindPrivate || msg.IsGroup() {
		t.Fatalf("kind = %q, want private", msg.Kind())
	}
	if msg.SenderID != 42 || msg.RawText != "hi" || msg.MessageID != 7 || msg.SenderNickname != "ann" {
		t.Fatalf("message = %+v", msg)
	}
	if msg.TargetID() != 42 {
		t.Fatalf("target = %d, want 42", msg.TargetID())
	}
	if msg.ConversationKey() != "private:42" {
		t.Fatalf("conversation key = %q", msg.ConversationKey())
	}
}

func TestDecodeGroupMessage(t *testing.T) {
	t.Parallel()

	frame := []byte(`{"post_type":"message","message_type":"group","group_id":"200","sender":{"user_id":"42"},"raw_message":"/ping"}`)

	event, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	msg := event.(MessageEvent)
	if !msg.IsGroup() || msg.GroupID != 200 || msg.SenderID != 42 {
		t.Fatalf("message = %+v", msg)
	}
	if msg.TargetID() != 200 || msg.ConversationKey() != "group:200" {
		t.Fatalf("target = %d key = %q", msg.TargetID(), msg.ConversationKey())
	}
}

func TestDecodeUnknownShapes(t *testing.T) {
	t.Parallel()

	frames := map[string]string{
		"notice":        `{"post_type":"notice","notice_type":"group_increase"}`,
		"lifecycle":     `{"post_type":"meta_event","meta_event_type":"lifecycle"}`,
		"other message": `{"post_type":"message","message_type":"guild","sender":{"user_id":1},"raw_message":"x"}`,
		"request":       `{"post_type":"request"}`,
	}

	for name, frame := range frames {
		event, err := Decode([]byte(frame))
		if err != nil {
			t.Fatalf("%s: Decode error: %v", name, err)
		}
		if event.Kind() != KindUnknown {
			t.Fatalf("%s: kind = %q, want unknown", name, event.Kind())
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		frame    string
		category string
	}{
		{name: "not json", frame: `{post_type`, category: ErrorInvalidJSON},
		{name: "array", frame: `[1,2]`, category: ErrorInvalidJSON},
		{name: "no post type", frame: `{"time":1}`, category: ErrorMissingField},
		{name: "no meta type", frame: `{"post_type":"meta_event"}`, category: ErrorMissingField},
		{name: "no message type", frame: `{"post_type":"message"}`, category: ErrorMissingField},
		{name: "no sender", frame: `{"post_type":"message","message_type":"private","raw_message":"x"}`, category: ErrorMissingField},
		{name: "no text", frame: `{"post_type":"message","message_type":"private","sender":{"user_id":1}}`, category: ErrorMissingField},
		{name: "no group", frame: `{"post_type":"message","message_type":"group","sender":{"user_id":1},"raw_message":"x"}`, category: ErrorMissingField},
	}

	for _, tc := range tests {
		_, err := Decode([]byte(tc.frame))
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if got := CategoryFromError(err); got != tc.category {
			t.Fatalf("%s: category = %q, want %q", tc.name, got, tc.category)
		}
	}
}

func TestReplyToPrivateEncodesWireShape(t *testing.T) {
	t.Parallel()

	action := ReplyTo(MessageEvent{Type: KindPrivate, SenderID: 42, RawText: "hi"}, "hello")

	payload, err := action.Encode()
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	want := `{"action":"send_private_msg","params":{"user_id":42,"message":"hello"},"echo":"send_private_msg"}`
	if string(payload) != want {
		t.Fatalf("payload = %s, want %s", payload, want)
	}
}

func TestReplyToGroupEncodesWireShape(t *testing.T) {
	t.Parallel()

	action := ReplyTo(MessageEvent{Type: KindGroup, SenderID: 42, GroupID: 200}, "pong")
	if action.TargetID() != 200 {
		t.Fatalf("target = %d, want 200", action.TargetID())
	}

	payload, err := action.Encode()
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	params := decoded["params"].(map[string]any)
	if decoded["action"] != "send_group_msg" || decoded["echo"] != "send_group_msg" {
		t.Fatalf("payload = %s", payload)
	}
	if params["group_id"] != float64(200) || params["message"] != "pong" {
		t.Fatalf("params = %v", params)
	}
	if _, ok := params["user_id"]; ok {
		t.Fatalf("group action must not carry user_id: %s", payload)
	}
}

func TestEncodeRejectsEmptyMessage(t *testing.T) {
	t.Parallel()

	_, err := ReplyTo(MessageEvent{Type: KindPrivate, SenderID: 1}, "").Encode()
	if CategoryFromError(err) != ErrorEncode {
		t.Fatalf("error = %v, want %s", err, ErrorEncode)
	}
}
