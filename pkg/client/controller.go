// Package client holds the conversation controller: the client-side state
// container that decides which reconcile flow applies, pre-assigns message
// ids, tracks stream attachments, and triggers resume after a reload. It is
// constructed explicitly and injected into whatever surface renders the
// conversation; there is no ambient global instance.
package client

import (
	"sync"

	"threadloom/pkg/logger"
	"threadloom/pkg/prefs"
	"threadloom/pkg/utils"

	"github.com/google/uuid"
)

type Controller struct {
	mu    sync.Mutex
	prefs *prefs.Store

	threadID        string
	input           string
	rerenderTrigger string

	// seedNextID is a single-use id reservation: when set, the next
	// GenerateIDSeeded call returns it and clears it, so a caller can
	// pre-communicate an id to the server before the round trip without
	// risking a second, unrelated message consuming the same seed.
	seedNextID string

	attachedStreams map[string]string
	pendingStreams  map[string]bool

	editMode          bool
	editFromMessageID string

	enabledTools []string

	resumeChecked bool
}

// New builds a controller, restoring the persisted draft input and enabled
// tools. prefs may be nil (ephemeral session).
func New(p *prefs.Store) *Controller {
	c := &Controller{
		prefs:           p,
		rerenderTrigger: uuid.NewString(),
		attachedStreams: map[string]string{},
		pendingStreams:  map[string]bool{},
		enabledTools:    prefs.DefaultAIConfig().EnabledTools,
	}
	if p != nil {
		c.input = p.DraftInput()
		c.enabledTools = p.AIConfig().EnabledTools
	}
	return c
}

func (c *Controller) ThreadID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threadID
}

func (c *Controller) SetThreadID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threadID = id
}

func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// SetInput updates the pending input and persists it so an in-progress
// draft survives a refresh.
func (c *Controller) SetInput(v string) {
	c.mu.Lock()
	c.input = v
	p := c.prefs
	c.mu.Unlock()
	if p != nil {
		if err := p.SetDraftInput(v); err != nil {
			logger.Warn("persist_draft_failed", "error", err)
		}
	}
}

// RerenderTrigger returns the current token; views key recomputation on it.
func (c *Controller) RerenderTrigger() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rerenderTrigger
}

// TriggerRerender refreshes the token so dependent views recompute.
func (c *Controller) TriggerRerender() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rerenderTrigger = uuid.NewString()
}

// ReserveNextID stages an id to be consumed by the next GenerateIDSeeded
// call. Staging a new reservation replaces an unconsumed one.
func (c *Controller) ReserveNextID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seedNextID = id
}

// GenerateIDSeeded returns the reserved id if one is pending, consuming it,
// otherwise a fresh unique id. A reservation is never handed out twice.
func (c *Controller) GenerateIDSeeded() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seedNextID != "" {
		id := c.seedNextID
		c.seedNextID = ""
		return id
	}
	return utils.GenMessageID()
}

// AttachStream records which stream id the session is listening on for a
// thread.
func (c *Controller) AttachStream(threadID, streamID string) {
	if threadID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachedStreams[threadID] = streamID
}

// AttachedStream returns the stream id attached for a thread, if any.
func (c *Controller) AttachedStream(threadID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.attachedStreams[threadID]
	return id, ok
}

// SetPending flags a thread as having a turn in flight.
func (c *Controller) SetPending(threadID string, pending bool) {
	if threadID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingStreams[threadID] = pending
}

func (c *Controller) Pending(threadID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingStreams[threadID]
}

// BeginEdit arms the edit-regenerate flow for the next turn.
func (c *Controller) BeginEdit(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.editMode = true
	c.editFromMessageID = messageID
}

// EditState reports whether an edit is armed and its target message id.
func (c *Controller) EditState() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.editMode, c.editFromMessageID
}

// ClearEdit disarms the edit flow once the reconcile response is applied.
func (c *Controller) ClearEdit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.editMode = false
	c.editFromMessageID = ""
}

func (c *Controller) EnabledTools() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.enabledTools...)
}

// SetEnabledTools updates and persists the cross-conversation tool list.
func (c *Controller) SetEnabledTools(tools []string) {
	c.mu.Lock()
	c.enabledTools = append([]string(nil), tools...)
	p := c.prefs
	c.mu.Unlock()
	if p != nil {
		err := p.UpdateAIConfig(func(cfg prefs.AIConfig) prefs.AIConfig {
			cfg.EnabledTools = append([]string(nil), tools...)
			return cfg
		})
		if err != nil {
			logger.Warn("persist_tools_failed", "error", err)
		}
	}
}

// ResetChat clears transient per-conversation state while preserving
// cross-conversation preferences, refreshes the rerender token so consuming
// views remount cleanly, and re-arms the once-per-mount resume check. The
// previous thread's pending and live flags must not leak into the next
// conversation.
func (c *Controller) ResetChat() {
	c.mu.Lock()
	p := c.prefs
	c.threadID = ""
	c.input = ""
	c.seedNextID = ""
	c.attachedStreams = map[string]string{}
	c.pendingStreams = map[string]bool{}
	c.editMode = false
	c.editFromMessageID = ""
	c.rerenderTrigger = uuid.NewString()
	c.resumeChecked = false
	c.mu.Unlock()
	if p != nil {
		if err := p.ClearDraftInput(); err != nil {
			logger.Warn("clear_draft_failed", "error", err)
		}
	}
}
