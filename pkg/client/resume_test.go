package client

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"threadloom/pkg/models"
)

func userMsg(id string) models.Message {
	return models.Message{ID: id, Role: models.RoleUser,
		Parts: []models.Part{{Type: models.PartText, Text: "hi"}}}
}

func assistantMsg(id, text string) models.Message {
	m := models.Message{ID: id, Role: models.RoleAssistant}
	if text != "" {
		m.Parts = []models.Part{{Type: models.PartText, Text: text}}
	} else {
		m.Parts = []models.Part{}
	}
	return m
}

func TestMaybeResumeFiresWhenLastIsUser(t *testing.T) {
	c := New(nil)
	fired := false
	ok := c.MaybeResume([]models.Message{userMsg("u1")}, LoadReady, func() { fired = true })
	require.True(t, ok)
	require.True(t, fired)
}

func TestMaybeResumeFiresWhenLastAssistantIsEmpty(t *testing.T) {
	c := New(nil)
	fired := false
	history := []models.Message{userMsg("u1"), assistantMsg("a1", "")}
	require.True(t, c.MaybeResume(history, LoadReady, func() { fired = true }))
	require.True(t, fired)
}

func TestMaybeResumeSkipsCompletedConversation(t *testing.T) {
	c := New(nil)
	history := []models.Message{userMsg("u1"), assistantMsg("a1", "done answer")}
	require.False(t, c.MaybeResume(history, LoadReady, func() { t.Fatal("must not fire") }))
}

func TestMaybeResumeIgnoresNonReadyStates(t *testing.T) {
	c := New(nil)
	history := []models.Message{userMsg("u1")}
	require.False(t, c.MaybeResume(history, LoadLoading, func() { t.Fatal("must not fire") }))
	require.False(t, c.MaybeResume(history, LoadError, func() { t.Fatal("must not fire") }))

	// Non-ready states did not consume the once-per-mount check.
	fired := false
	require.True(t, c.MaybeResume(history, LoadReady, func() { fired = true }))
	require.True(t, fired)
}

func TestMaybeResumeChecksOncePerMount(t *testing.T) {
	c := New(nil)
	history := []models.Message{userMsg("u1")}
	require.True(t, c.MaybeResume(history, LoadReady, func() {}))
	require.False(t, c.MaybeResume(history, LoadReady, func() { t.Fatal("second check must not fire") }))

	// ResetChat re-arms the check for the next mount.
	c.ResetChat()
	fired := false
	require.True(t, c.MaybeResume(history, LoadReady, func() { fired = true }))
	require.True(t, fired)
}

func TestMaybeResumeEmptyHistory(t *testing.T) {
	c := New(nil)
	require.False(t, c.MaybeResume(nil, LoadReady, func() { t.Fatal("must not fire") }))
}

func TestApplyDataEventSplicesMessage(t *testing.T) {
	history := []models.Message{userMsg("u1")}
	injected := assistantMsg("a_sys", "system notice")
	raw, err := json.Marshal(injected)
	require.NoError(t, err)

	out, err := ApplyDataEvent(history, DataEvent{Type: DataAppendMessage, Message: raw})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "a_sys", out[1].ID)
}

func TestApplyDataEventIgnoresOtherTypes(t *testing.T) {
	history := []models.Message{userMsg("u1")}
	out, err := ApplyDataEvent(history, DataEvent{Type: "title-updated"})
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestApplyDataEventMalformedPayload(t *testing.T) {
	history := []models.Message{userMsg("u1")}
	out, err := ApplyDataEvent(history, DataEvent{Type: DataAppendMessage, Message: []byte("{broken")})
	require.Error(t, err)
	require.Len(t, out, 1)
}
