package models

type Thread struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	// Author is an opaque identity id (clients manage meaning)
	Author string `json:"author"`
	// Slug is generated from title and id for human-friendly URLs
	Slug string `json:"slug,omitempty"`
	// Created timestamp (ns)
	CreatedTS int64 `json:"created_ts,omitempty"`
	// Updated timestamp (ns) - last time metadata or thread activity changed
	UpdatedTS int64 `json:"updated_ts,omitempty"`

	// Live streaming state. IsLive is true while an assistant reply is being
	// generated for this thread; StreamStartedTS and CurrentStreamID are set
	// iff IsLive is set. The three fields move together through
	// chat.UpdateStreamingState, never individually.
	IsLive          bool   `json:"is_live,omitempty"`
	StreamStartedTS int64  `json:"stream_started_ts,omitempty"`
	CurrentStreamID string `json:"current_stream_id,omitempty"`
}

// Streaming reports whether the thread currently has a live generation
// attached. It is the canonical read of the live invariant.
func (t *Thread) Streaming() bool {
	return t.IsLive && t.CurrentStreamID != ""
}
