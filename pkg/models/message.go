package models

import "encoding/json"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Part is one typed content segment of a message. The reconciliation core
// copies and clears part sequences but never inspects their content; Data
// carries provider-specific payload for part types the server does not know.
type Part struct {
	Type string          `json:"type"`
	Text string          `json:"text,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	PartText      = "text"
	PartReasoning = "reasoning"
)

type Message struct {
	// ID is the durable message id, stable across edits and retries. It is
	// distinct from the storage row key the message lives under.
	ID     string `json:"id"`
	Thread string `json:"thread"`
	Author string `json:"author,omitempty"`
	Role   Role   `json:"role"`
	Parts  []Part `json:"parts"`
	// Created/Updated timestamps (ns)
	CreatedTS int64 `json:"created_ts"`
	UpdatedTS int64 `json:"updated_ts,omitempty"`
}

// Empty reports whether the message carries no content yet. An assistant
// placeholder is created empty and filled while its reply streams.
func (m *Message) Empty() bool {
	return len(m.Parts) == 0
}

// Plain returns the concatenated text of the message's renderable parts.
// Unknown part types contribute nothing.
func (m *Message) Plain() string {
	var out string
	for _, p := range m.Parts {
		switch p.Type {
		case PartText, PartReasoning:
			out += p.Text
		default:
			// opaque payload, nothing to render as plain text
		}
	}
	return out
}
