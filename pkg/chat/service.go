// Package chat implements the conversation-state reconciliation core: the
// per-turn mutation that merges an incoming user message and an assistant
// placeholder into a thread's persisted history, and the streaming state
// machine that keeps client and server agreed on which reply is still
// generating.
package chat

import (
	"errors"
	"time"

	"threadloom/pkg/logger"
	"threadloom/pkg/metrics"
	"threadloom/pkg/models"
	"threadloom/pkg/store"
	"threadloom/pkg/utils"
)

var (
	// ErrBadRequest marks a caller error: reconcile was invoked without a
	// user message, so there is nothing to apply.
	ErrBadRequest = errors.New("bad_request: user message required")

	// ErrThreadLive rejects a second generation request for a thread that
	// already has one in flight. Concurrent generations on one thread are
	// unsupported; callers must stop the current stream first.
	ErrThreadLive = errors.New("thread already has a live stream")
)

var defaultTitle = "New Chat"

// SetDefaultTitle overrides the placeholder title given to new threads.
func SetDefaultTitle(t string) {
	if t != "" {
		defaultTitle = t
	}
}

// IncomingMessage is the caller-supplied user turn. ID is optional; when
// present it becomes the durable message id (stable across retries).
type IncomingMessage struct {
	ID    string        `json:"id,omitempty"`
	Role  models.Role   `json:"role"`
	Parts []models.Part `json:"parts"`
}

type ReconcileRequest struct {
	ThreadID            string
	AuthorID            string
	UserMessage         *IncomingMessage
	ProposedAssistantID string
	EditMode            bool
	EditFromMessageID   string
}

// ReconcileResult carries the identifiers the client must remember for the
// turn. AssistantRowKey is the storage row identity of the assistant
// placeholder, distinct from its durable message id.
type ReconcileResult struct {
	ThreadID           string `json:"thread_id"`
	UserMessageID      string `json:"user_message_id"`
	AssistantMessageID string `json:"assistant_message_id"`
	AssistantRowKey    string `json:"assistant_row_key"`
}

// Reconcile is the single transactional entry point invoked once per user
// turn. It decides between the new-thread, append and edit-regenerate flows,
// mutates the store atomically, and returns the ids the client must keep.
//
// A missing user message is a caller error and performs no mutation. A
// missing thread is a soft no-op: Reconcile returns (nil, nil) and the
// caller must abort the turn without retrying, because the thread may have
// been legitimately deleted in another tab.
func Reconcile(req ReconcileRequest) (*ReconcileResult, error) {
	if req.UserMessage == nil {
		metrics.ReconcileTotal.WithLabelValues(metrics.FlowBadRequest).Inc()
		return nil, ErrBadRequest
	}
	if req.ProposedAssistantID == "" {
		req.ProposedAssistantID = utils.GenMessageID()
	}
	now := time.Now().UTC().UnixNano()

	if req.ThreadID == "" {
		return createThread(req, now)
	}

	th, err := store.GetThread(req.ThreadID)
	if err != nil {
		if errors.Is(err, store.ErrThreadNotFound) {
			logger.Warn("reconcile_thread_missing", "thread", req.ThreadID)
			metrics.ReconcileTotal.WithLabelValues(metrics.FlowNoThread).Inc()
			return nil, nil
		}
		return nil, err
	}

	if req.EditMode && req.EditFromMessageID != "" {
		res, applied, err := editRegenerate(req, th, now)
		if err != nil {
			return nil, err
		}
		if applied {
			return res, nil
		}
		// Edit target not in history: treated as "nothing to edit from" and
		// the turn falls through to a normal append. Logged distinctly from
		// the designed thread-not-found case so the two stay separable in
		// diagnostics.
		logger.Warn("edit_target_missing_fallback_append",
			"thread", req.ThreadID, "edit_from", req.EditFromMessageID)
		metrics.ReconcileTotal.WithLabelValues(metrics.FlowEditFallback).Inc()
	}

	return appendTurn(req, th, now)
}

func createThread(req ReconcileRequest, now int64) (*ReconcileResult, error) {
	userMsgID := req.UserMessage.ID
	if userMsgID == "" {
		userMsgID = utils.GenMessageID()
	}
	th := models.Thread{
		ID:        utils.GenThreadID(),
		Author:    req.AuthorID,
		Title:     defaultTitle,
		CreatedTS: now,
		UpdatedTS: now,
	}
	th.Slug = utils.MakeSlug(th.Title, th.ID)

	txn, err := store.NewTxn()
	if err != nil {
		return nil, err
	}
	defer txn.Close()
	if err := txn.PutThread(th); err != nil {
		return nil, err
	}
	if _, err := txn.AppendMessage(userMessage(th.ID, userMsgID, req, now)); err != nil {
		return nil, err
	}
	rowKey, err := txn.AppendMessage(assistantPlaceholder(th.ID, req.ProposedAssistantID, now))
	if err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, err
	}

	metrics.ReconcileTotal.WithLabelValues(metrics.FlowNewThread).Inc()
	metrics.ThreadsCreated.Inc()
	metrics.MessagesWritten.Add(2)
	logger.Info("thread_created", "thread", th.ID, "author", req.AuthorID)
	return &ReconcileResult{
		ThreadID:           th.ID,
		UserMessageID:      userMsgID,
		AssistantMessageID: req.ProposedAssistantID,
		AssistantRowKey:    rowKey,
	}, nil
}

// editRegenerate rewrites the edited turn in place, discards everything
// downstream of it and inserts a fresh assistant placeholder. The placeholder
// reuses the durable id of the first assistant reply that followed the edit
// point, so a client retrying an edit keeps listening on the same logical
// reply channel instead of orphaning its subscription.
func editRegenerate(req ReconcileRequest, th models.Thread, now int64) (*ReconcileResult, bool, error) {
	recs, err := store.ListMessageRecords(th.ID)
	if err != nil {
		return nil, false, err
	}
	editIdx := -1
	for i, r := range recs {
		if r.Msg.ID == req.EditFromMessageID {
			editIdx = i
			break
		}
	}
	if editIdx < 0 {
		return nil, false, nil
	}

	after := recs[editIdx+1:]
	assistantID := req.ProposedAssistantID
	for _, r := range after {
		if r.Msg.Role == models.RoleAssistant {
			assistantID = r.Msg.ID
			break
		}
	}

	txn, err := store.NewTxn()
	if err != nil {
		return nil, false, err
	}
	defer txn.Close()
	for _, r := range after {
		if err := txn.DeleteRow(r.Key); err != nil {
			return nil, false, err
		}
	}
	edited := recs[editIdx].Msg
	edited.Parts = req.UserMessage.Parts
	edited.UpdatedTS = now
	if err := txn.PutMessageAt(recs[editIdx].Key, edited); err != nil {
		return nil, false, err
	}
	rowKey, err := txn.AppendMessage(assistantPlaceholder(th.ID, assistantID, now))
	if err != nil {
		return nil, false, err
	}
	th.UpdatedTS = now
	if err := txn.PutThread(th); err != nil {
		return nil, false, err
	}
	if err := txn.Commit(); err != nil {
		return nil, false, err
	}

	metrics.ReconcileTotal.WithLabelValues(metrics.FlowEdit).Inc()
	metrics.MessagesWritten.Add(2)
	logger.Info("turn_edited", "thread", th.ID,
		"edit_from", req.EditFromMessageID, "truncated", len(after))
	return &ReconcileResult{
		ThreadID: th.ID,
		// The edited message is reused, not recreated.
		UserMessageID:      req.EditFromMessageID,
		AssistantMessageID: assistantID,
		AssistantRowKey:    rowKey,
	}, true, nil
}

func appendTurn(req ReconcileRequest, th models.Thread, now int64) (*ReconcileResult, error) {
	userMsgID := req.UserMessage.ID
	if userMsgID == "" {
		userMsgID = utils.GenMessageID()
	}
	txn, err := store.NewTxn()
	if err != nil {
		return nil, err
	}
	defer txn.Close()
	if _, err := txn.AppendMessage(userMessage(th.ID, userMsgID, req, now)); err != nil {
		return nil, err
	}
	rowKey, err := txn.AppendMessage(assistantPlaceholder(th.ID, req.ProposedAssistantID, now))
	if err != nil {
		return nil, err
	}
	th.UpdatedTS = now
	if err := txn.PutThread(th); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, err
	}

	metrics.ReconcileTotal.WithLabelValues(metrics.FlowAppend).Inc()
	metrics.MessagesWritten.Add(2)
	return &ReconcileResult{
		ThreadID:           th.ID,
		UserMessageID:      userMsgID,
		AssistantMessageID: req.ProposedAssistantID,
		AssistantRowKey:    rowKey,
	}, nil
}

func userMessage(threadID, msgID string, req ReconcileRequest, now int64) models.Message {
	role := req.UserMessage.Role
	if role == "" {
		role = models.RoleUser
	}
	return models.Message{
		ID:        msgID,
		Thread:    threadID,
		Author:    req.AuthorID,
		Role:      role,
		Parts:     req.UserMessage.Parts,
		CreatedTS: now,
		UpdatedTS: now,
	}
}

// assistantPlaceholder builds the empty assistant message created alongside
// each user turn; the generation collaborator fills it while streaming.
func assistantPlaceholder(threadID, msgID string, now int64) models.Message {
	return models.Message{
		ID:        msgID,
		Thread:    threadID,
		Role:      models.RoleAssistant,
		Parts:     []models.Part{},
		CreatedTS: now,
		UpdatedTS: now,
	}
}
