package onebot

import (
	"encoding/json"
	"errors"
)

type ActionKind string

const (
	ActionSendPrivate ActionKind = "send_private_msg"
	ActionSendGroup   ActionKind = "send_group_msg"
)

// Params is the action payload. Exactly one of UserID and GroupID is set.
type Params struct {
	UserID  int64  `json:"user_id,omitempty"`
	GroupID int64  `json:"group_id,omitempty"`
	Message string `json:"message"`
}

// Action is an outbound request to the gateway. Echo always equals Action.
type Action struct {
	Action ActionKind `json:"action"`
	Params Params     `json:"params"`
	Echo   string     `json:"echo"`
}

var errEmptyReply = errors.New("reply message is empty")

// ReplyTo builds the action answering event with message.
func ReplyTo(event MessageEvent, message string) Action {
	if event.IsGroup() {
		return Action{
			Action: ActionSendGroup,
			Params: Params{GroupID: event.GroupID, Message: message},
			Echo:   string(ActionSendGroup),
		}
	}

	return Action{
		Action: ActionSendPrivate,
		Params: Params{UserID: event.SenderID, Message: message},
		Echo:   string(ActionSendPrivate),
	}
}

// TargetID returns the user or group the action is addressed to.
func (a Action) TargetID() int64 {
	if a.Action == ActionSendGroup {
		return a.Params.GroupID
	}
	return a.Params.UserID
}

// Encode serializes the action into a text frame.
func (a Action) Encode() ([]byte, error) {
	if a.Params.Message == "" {
		return nil, &Error{Category: ErrorEncode, Detail: errEmptyReply.Error()}
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return nil, &Error{Category: ErrorEncode, Detail: err.Error()}
	}
	return payload, nil
}
