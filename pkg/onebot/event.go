// Package onebot classifies inbound gateway frames and encodes outbound actions.
package onebot

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

type Kind string

const (
	KindHeartbeat Kind = "heartbeat"
	KindPrivate   Kind = "private"
	KindGroup     Kind = "group"
	KindUnknown   Kind = "unknown"
)

const (
	postTypeMessage   = "message"
	postTypeMetaEvent = "meta_event"
	metaHeartbeat     = "heartbeat"
	messageTypeGroup  = "group"
	messageTypePriv   = "private"
)

// Event is exactly one of HeartbeatEvent, MessageEvent or UnknownEvent.
type Event interface {
	Kind() Kind
}

// HeartbeatEvent is a liveness pulse sent by the gateway.
type HeartbeatEvent struct {
	SelfID   int64
	Time     time.Time
	Interval time.Duration
}

func (HeartbeatEvent) Kind() Kind { return KindHeartbeat }

// MessageEvent is a private or group chat message. GroupID is zero for private messages.
type MessageEvent struct {
	Type           Kind
	MessageID      int64
	SelfID         int64
	SenderID       int64
	SenderNickname string
	GroupID        int64
	RawText        string
	Time           time.Time
}

func (e MessageEvent) Kind() Kind { return e.Type }

// IsGroup reports whether the message arrived in a group conversation.
func (e MessageEvent) IsGroup() bool { return e.Type == KindGroup }

// TargetID is the ID a reply to this message is addressed to.
func (e MessageEvent) TargetID() int64 {
	if e.IsGroup() {
		return e.GroupID
	}
	return e.SenderID
}

// ConversationKey identifies the conversation this message belongs to.
func (e MessageEvent) ConversationKey() string {
	return fmt.Sprintf("%s:%d", e.Type, e.TargetID())
}

// UnknownEvent is any well-formed frame the router does not act on.
type UnknownEvent struct {
	PostType string
	Detail   string
}

func (UnknownEvent) Kind() Kind { return KindUnknown }

var decodePaths = []string{
	"post_type",
	"meta_event_type",
	"message_type",
	"sender.user_id",
	"raw_message",
	"group_id",
	"message_id",
	"self_id",
	"time",
	"interval",
	"sender.nickname",
}

// Decode classifies one inbound frame. Malformed JSON and missing required
// fields return a categorized *Error; well-formed frames of other shapes
// decode to UnknownEvent.
func Decode(frame []byte) (Event, error) {
	if !gjson.ValidBytes(frame) {
		return nil, NewError(ErrorInvalidJSON, "frame is not valid JSON")
	}

	root := gjson.ParseBytes(frame)
	if !root.IsObject() {
		return nil, NewError(ErrorInvalidJSON, "frame is not a JSON object")
	}

	fields := gjson.GetManyBytes(frame, decodePaths...)
	postType, metaType, messageType := fields[0], fields[1], fields[2]
	userID, rawMessage, groupID := fields[3], fields[4], fields[5]
	messageID, selfID, at, interval, nickname := fields[6], fields[7], fields[8], fields[9], fields[10]

	if !postType.Exists() {
		return nil, missingField("post_type")
	}

	switch postType.String() {
	case postTypeMetaEvent:
		if !metaType.Exists() {
			return nil, missingField("meta_event_type")
		}
		if metaType.String() != metaHeartbeat {
			return UnknownEvent{PostType: postTypeMetaEvent, Detail: metaType.String()}, nil
		}
		return HeartbeatEvent{
			SelfID:   selfID.Int(),
			Time:     unixTime(at),
			Interval: time.Duration(interval.Int()) * time.Millisecond,
		}, nil

	case postTypeMessage:
		if !messageType.Exists() {
			return nil, missingField("message_type")
		}

		var kind Kind
		switch messageType.String() {
		case messageTypePriv:
			kind = KindPrivate
		case messageTypeGroup:
			kind = KindGroup
		default:
			return UnknownEvent{PostType: postTypeMessage, Detail: messageType.String()}, nil
		}

		if !userID.Exists() {
			return nil, missingField("sender.user_id")
		}
		if !rawMessage.Exists() {
			return nil, missingField("raw_message")
		}

		event := MessageEvent{
			Type:           kind,
			MessageID:      messageID.Int(),
			SelfID:         selfID.Int(),
			SenderID:       userID.Int(),
			SenderNickname: nickname.String(),
			RawText:        rawMessage.String(),
			Time:           unixTime(at),
		}
		if kind == KindGroup {
			if !groupID.Exists() {
				return nil, missingField("group_id")
			}
			event.GroupID = groupID.Int()
		}

		return event, nil

	default:
		return UnknownEvent{PostType: postType.String()}, nil
	}
}

func unixTime(value gjson.Result) time.Time {
	if !value.Exists() || value.Int() <= 0 {
		return time.Time{}
	}
	return time.Unix(value.Int(), 0).UTC()
}
