package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAIConfigRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	cfg := AIConfig{SelectedModel: "gpt-4o", EnabledTools: []string{"web_search", "calculator"}}
	require.NoError(t, s.SetAIConfig(cfg))
	require.Equal(t, cfg, s.AIConfig())
}

func TestAIConfigDefaultsWhenAbsent(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, DefaultAIConfig(), s.AIConfig())
}

func TestAIConfigDefaultsOnCorruptJSON(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	// Corruption is silent: no error surfaces, the default comes back.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ai-config.json"), []byte("{not json"), 0o600))
	require.Equal(t, DefaultAIConfig(), s.AIConfig())
}

func TestAIConfigDefaultsOnLegacyShape(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	// Valid JSON from an older version that no longer matches the schema.
	legacy := []byte(`{"model":"old-model","tools":"web_search"}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ai-config.json"), legacy, 0o600))
	require.Equal(t, DefaultAIConfig(), s.AIConfig())
}

func TestUpdateAIConfig(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.UpdateAIConfig(func(c AIConfig) AIConfig {
		c.SelectedModel = "claude-sonnet"
		return c
	}))
	got := s.AIConfig()
	require.Equal(t, "claude-sonnet", got.SelectedModel)
	require.Equal(t, DefaultAIConfig().EnabledTools, got.EnabledTools)
}

func TestDraftInputLifecycle(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.Empty(t, s.DraftInput())
	require.NoError(t, s.SetDraftInput("half a thought"))
	require.Equal(t, "half a thought", s.DraftInput())
	require.NoError(t, s.ClearDraftInput())
	require.Empty(t, s.DraftInput())

	// Clearing an already-clear draft is not an error.
	require.NoError(t, s.ClearDraftInput())
}

func TestDraftInputDefaultsOnCorruption(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "draft-input.json"), []byte(`{"draft": 42}`), 0o600))
	require.Empty(t, s.DraftInput())
}
