package client

import (
	"encoding/json"

	"github.com/pkg/errors"

	"threadloom/pkg/models"
)

// LoadState mirrors the terminal states of a message-history fetch.
type LoadState string

const (
	LoadLoading LoadState = "loading"
	LoadError   LoadState = "error"
	LoadReady   LoadState = "ready"
)

// MaybeResume inspects the loaded history exactly once per mount and fires
// resume when the conversation was interrupted mid-turn: the last message
// is a user turn, or an assistant placeholder still empty of content. In
// either case the page loaded after a turn was sent but before (or while)
// the reply streamed, so the session should re-attach to the live stream
// rather than do nothing or re-send the turn.
//
// The once-only guard keeps the check from re-firing after the stream
// naturally completes and the last message becomes non-empty; ResetChat
// re-arms it for the next mount.
func (c *Controller) MaybeResume(history []models.Message, state LoadState, resume func()) bool {
	if state != LoadReady {
		return false
	}
	c.mu.Lock()
	if c.resumeChecked {
		c.mu.Unlock()
		return false
	}
	c.resumeChecked = true
	c.mu.Unlock()

	if len(history) == 0 {
		return false
	}
	last := history[len(history)-1]
	if last.Role == models.RoleUser || (last.Role == models.RoleAssistant && last.Empty()) {
		resume()
		return true
	}
	return false
}

// DataEvent is an out-of-band message from the server's data channel,
// outside the normal token stream.
type DataEvent struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

// DataAppendMessage asks the client to splice a server-injected message
// onto the end of its local history.
const DataAppendMessage = "append-message"

// ApplyDataEvent decodes an append-message event and returns the extended
// history. Events of other types leave the history untouched.
func ApplyDataEvent(history []models.Message, evt DataEvent) ([]models.Message, error) {
	if evt.Type != DataAppendMessage {
		return history, nil
	}
	var m models.Message
	if err := json.Unmarshal(evt.Message, &m); err != nil {
		return history, errors.Wrap(err, "decode appended message")
	}
	return append(history, m), nil
}
