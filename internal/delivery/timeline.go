package delivery

import (
	"sort"

	"github.com/eldtechnologies/staffchat/internal/chat"
)

// Timeline is the client's view of one room's messages, ordered by
// creation time then id, with no duplicates regardless of whether a
// message arrived by push or poll.
type Timeline struct {
	seen     map[string]struct{}
	messages []chat.MessageView
}

// NewTimeline returns an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{seen: make(map[string]struct{})}
}

// Merge adds batch and returns the messages that were new, in order.
func (t *Timeline) Merge(batch []chat.MessageView) []chat.MessageView {
	var fresh []chat.MessageView
	for _, m := range batch {
		if _, ok := t.seen[m.ID]; ok {
			continue
		}
		t.seen[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return nil
	}

	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Before(fresh[j].ChatMessage) })
	t.messages = append(t.messages, fresh...)
	sort.SliceStable(t.messages, func(i, j int) bool { return t.messages[i].Before(t.messages[j].ChatMessage) })
	return fresh
}

// Remove drops a deleted message. It reports whether it was present.
func (t *Timeline) Remove(id string) bool {
	for i, m := range t.messages {
		if m.ID == id {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			return true
		}
	}
	return false
}

// Cursor returns the id of the newest message, or "" when empty.
func (t *Timeline) Cursor() string {
	if len(t.messages) == 0 {
		return ""
	}
	return t.messages[len(t.messages)-1].ID
}

// Messages returns a copy of the ordered messages.
func (t *Timeline) Messages() []chat.MessageView {
	out := make([]chat.MessageView, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages held.
func (t *Timeline) Len() int {
	return len(t.messages)
}
