// Package prefs persists small client-side preferences (draft input,
// selected model, enabled tools) as JSON files under a state directory.
// Every read is schema-validated; anything corrupt or legacy-shaped is
// silently replaced by the documented default, never surfaced as an error.
package prefs

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"

	"threadloom/pkg/logger"
)

const (
	aiConfigFile   = "ai-config.json"
	draftInputFile = "draft-input.json"
)

const aiConfigSchemaJSON = `{
	"type": "object",
	"properties": {
		"selected_model": {"type": "string"},
		"enabled_tools": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["enabled_tools"]
}`

const draftInputSchemaJSON = `{"type": "string"}`

// AIConfig is the cross-conversation preference blob.
type AIConfig struct {
	SelectedModel string   `json:"selected_model,omitempty"`
	EnabledTools  []string `json:"enabled_tools"`
}

// DefaultAIConfig is what corrupt or absent stored state decays to.
func DefaultAIConfig() AIConfig {
	return AIConfig{EnabledTools: []string{"web_search"}}
}

type Store struct {
	dir         string
	aiSchema    *gojsonschema.Schema
	draftSchema *gojsonschema.Schema
}

// NewStore opens (creating if needed) a preference directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create prefs dir")
	}
	aiSchema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(aiConfigSchemaJSON))
	if err != nil {
		return nil, errors.Wrap(err, "compile ai config schema")
	}
	draftSchema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(draftInputSchemaJSON))
	if err != nil {
		return nil, errors.Wrap(err, "compile draft input schema")
	}
	return &Store{dir: dir, aiSchema: aiSchema, draftSchema: draftSchema}, nil
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// readValidated returns the raw stored bytes when they exist and pass the
// schema; ok is false otherwise.
func (s *Store) readValidated(name string, schema *gojsonschema.Schema) ([]byte, bool) {
	b, err := os.ReadFile(s.path(name))
	if err != nil {
		return nil, false
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(b))
	if err != nil || !res.Valid() {
		logger.Warn("pref_validation_failed", "file", name)
		return nil, false
	}
	return b, true
}

// AIConfig returns the stored preferences, or the default on any failure.
func (s *Store) AIConfig() AIConfig {
	b, ok := s.readValidated(aiConfigFile, s.aiSchema)
	if !ok {
		return DefaultAIConfig()
	}
	var c AIConfig
	if err := json.Unmarshal(b, &c); err != nil {
		return DefaultAIConfig()
	}
	return c
}

// SetAIConfig stores the preferences. A value that fails its own schema is
// replaced with the default rather than persisted.
func (s *Store) SetAIConfig(c AIConfig) error {
	b, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal ai config")
	}
	if res, verr := s.aiSchema.Validate(gojsonschema.NewBytesLoader(b)); verr != nil || !res.Valid() {
		logger.Warn("pref_store_invalid_replaced_with_default")
		b, _ = json.Marshal(DefaultAIConfig())
	}
	return errors.Wrap(os.WriteFile(s.path(aiConfigFile), b, 0o600), "write ai config")
}

// UpdateAIConfig applies fn to the current config and stores the result.
func (s *Store) UpdateAIConfig(fn func(AIConfig) AIConfig) error {
	return s.SetAIConfig(fn(s.AIConfig()))
}

// DraftInput returns the persisted in-progress input, or "" when absent or
// corrupt, so a draft survives a page refresh.
func (s *Store) DraftInput() string {
	b, ok := s.readValidated(draftInputFile, s.draftSchema)
	if !ok {
		return ""
	}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return ""
	}
	return v
}

// SetDraftInput persists the in-progress input.
func (s *Store) SetDraftInput(v string) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal draft input")
	}
	return errors.Wrap(os.WriteFile(s.path(draftInputFile), b, 0o600), "write draft input")
}

// ClearDraftInput removes the persisted draft.
func (s *Store) ClearDraftInput() error {
	err := os.Remove(s.path(draftInputFile))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "clear draft input")
	}
	return nil
}
