package fantasy

import (
	"strconv"
	"sync"

	core "charm.land/fantasy"
)

// maxHistory bounds the messages replayed per turn. A leading system
// message is always kept.
const maxHistory = 40

// transcripts holds one bounded message log per conversation.
type transcripts struct {
	mu   sync.RWMutex
	seq  uint64
	logs map[string][]core.Message
}

func newTranscripts() *transcripts {
	return &transcripts{logs: make(map[string][]core.Message)}
}

// open starts an empty log and returns its ID.
func (t *transcripts) open() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	id := name + "-session-" + strconv.FormatUint(t.seq, 10)
	t.logs[id] = nil
	return id
}

// replay returns a copy of the log for id.
func (t *transcripts) replay(id string) ([]core.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	log, ok := t.logs[id]
	if !ok {
		return nil, false
	}
	return append([]core.Message(nil), log...), true
}

// extend appends messages to an existing log and trims it. Unknown IDs are
// ignored.
func (t *transcripts) extend(id string, messages ...core.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if log, ok := t.logs[id]; ok {
		t.logs[id] = trimHistory(append(log, messages...))
	}
}

func (t *transcripts) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.logs)
}

// trimHistory drops the oldest turns beyond maxHistory, keeping a leading
// system message in place.
func trimHistory(history []core.Message) []core.Message {
	if len(history) <= maxHistory {
		return history
	}

	var head []core.Message
	rest := history
	if rest[0].Role == core.MessageRoleSystem {
		head, rest = rest[:1], rest[1:]
	}
	trimmed := make([]core.Message, 0, maxHistory)
	trimmed = append(trimmed, head...)
	return append(trimmed, rest[len(rest)-(maxHistory-len(head)):]...)
}

func textMessage(role core.MessageRole, text string) core.Message {
	return core.Message{Role: role, Content: []core.MessagePart{core.TextPart{Text: text}}}
}
