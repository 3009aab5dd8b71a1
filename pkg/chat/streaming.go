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

// UpdateStreamingState drives the per-thread streaming state machine. The
// two states are idle (IsLive false, stream fields clear) and live (IsLive
// true, StreamStartedTS and CurrentStreamID set); the fields only ever move
// together, which is what makes resume-after-reload possible.
//
// idle -> live assigns a fresh stream id when the caller did not bring one
// and records the start timestamp. live -> idle clears both; completion,
// failure and explicit stop all route through it. live -> live is rejected
// with ErrThreadLive rather than merged last-write-wins.
func UpdateStreamingState(threadID string, isLive bool, startedAt int64, streamID string) (models.Thread, error) {
	th, err := store.GetThread(threadID)
	if err != nil {
		if errors.Is(err, store.ErrThreadNotFound) {
			logger.Warn("streaming_state_thread_missing", "thread", threadID)
		}
		return models.Thread{}, err
	}

	wasLive := th.Streaming()
	if isLive {
		if wasLive && th.CurrentStreamID != streamID {
			return models.Thread{}, ErrThreadLive
		}
		if streamID == "" {
			streamID = utils.GenStreamID()
		}
		if startedAt == 0 {
			startedAt = time.Now().UTC().UnixNano()
		}
		th.IsLive = true
		th.StreamStartedTS = startedAt
		th.CurrentStreamID = streamID
	} else {
		th.IsLive = false
		th.StreamStartedTS = 0
		th.CurrentStreamID = ""
	}
	th.UpdatedTS = time.Now().UTC().UnixNano()

	if err := store.PutThread(th); err != nil {
		return models.Thread{}, err
	}
	if !wasLive && th.IsLive {
		metrics.LiveThreads.Inc()
		logger.Info("thread_live", "thread", threadID, "stream", th.CurrentStreamID)
	}
	if wasLive && !th.IsLive {
		metrics.LiveThreads.Dec()
		logger.Info("thread_idle", "thread", threadID)
	}
	return th, nil
}

// RenameThread patches the thread title only; it is the entry point for the
// external title-generation collaborator. The slug is refreshed to follow
// the new title.
func RenameThread(threadID, name string) (models.Thread, error) {
	th, err := store.GetThread(threadID)
	if err != nil {
		return models.Thread{}, err
	}
	th.Title = name
	th.Slug = utils.MakeSlug(name, th.ID)
	if err := store.PutThread(th); err != nil {
		return models.Thread{}, err
	}
	logger.Info("thread_renamed", "thread", threadID)
	return th, nil
}

// AppendAssistantParts extends the assistant placeholder's part sequence as
// generated content lands. The core stays agnostic to part content; it only
// appends the sequence.
func AppendAssistantParts(threadID, messageID string, parts []models.Part) error {
	rec, err := store.GetMessage(threadID, messageID)
	if err != nil {
		return err
	}
	rec.Msg.Parts = append(rec.Msg.Parts, parts...)
	rec.Msg.UpdatedTS = time.Now().UTC().UnixNano()
	if err := store.PutMessageAt(rec.Key, rec.Msg); err != nil {
		return err
	}
	metrics.MessagesWritten.Inc()
	return nil
}
