package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"homelink/internal/config"
	"homelink/internal/storage"
	"homelink/pkg"
	"homelink/src/logger"

	"gopkg.in/yaml.v3"
)

// HashKey is the Redis hash holding runtime overrides as <key>_<sub_key> fields
const HashKey = "homelink_settings"

const defaultAssistantName = "HomeLink"

type AssistantSettings struct {
	Name string `yaml:"name"`
}

type LLMSettings struct {
	ReasoningLLM      string `yaml:"reasoning_llm"`
	ReasoningLLMModel string `yaml:"reasoning_llm_model"`
	IntentLLM         string `yaml:"intent_llm"`
	IntentLLMModel    string `yaml:"intent_llm_model"`
}

type VoiceSettings struct {
	VoiceLib   string  `yaml:"voice_lib"`
	VoiceAgent string  `yaml:"voice_agent"`
	VoiceModel string  `yaml:"voice_model"`
	VoicePitch float64 `yaml:"voice_pitch"`
}

// Snapshot is an immutable, validated view of all settings
type Snapshot struct {
	Assistant AssistantSettings `yaml:"assistant"`
	LLM       LLMSettings       `yaml:"llm"`
	Voice     VoiceSettings     `yaml:"voice"`

	raw map[string]map[string]any
}

// Section returns a copy of one settings section
func (s *Snapshot) Section(key string) (map[string]any, bool) {
	row, ok := s.raw[key]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out, true
}

// Keys lists the section names in order
func (s *Snapshot) Keys() []string {
	return sortedKeys(s.raw)
}

// Store publishes settings snapshots. Readers never observe a partial update.
type Store struct {
	options map[string]any
	kv      storage.KV
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex // serializes Set
}

// Load reads settings.yml and SETTINGS_OPT.yml from dir and applies persisted overrides
func Load(ctx context.Context, dir string, kv storage.KV) (*Store, error) {
	raw, err := config.LoadSettings(filepath.Join(dir, config.SettingsFile))
	if err != nil {
		return nil, err
	}
	options, err := config.LoadSettingsOptions(filepath.Join(dir, config.SettingsOptionsFile))
	if err != nil {
		return nil, err
	}
	return New(ctx, raw, options, kv)
}

// New validates raw against options, overlays persisted overrides and publishes the first snapshot
func New(ctx context.Context, raw map[string]map[string]any, options map[string]any, kv storage.KV) (*Store, error) {
	s := &Store{options: options, kv: kv}

	snap, err := s.build(raw)
	if err != nil {
		return nil, err
	}
	s.current.Store(snap)

	if err := s.applyOverrides(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the latest published snapshot
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Options returns the allow-lists and type tags settings are validated against
func (s *Store) Options() map[string]any {
	out := make(map[string]any, len(s.options))
	for k, v := range s.options {
		out[k] = v
	}
	return out
}

// AssistantName is a convenience accessor for prompt rendering
func (s *Store) AssistantName() string {
	return s.Current().Assistant.Name
}

// Get returns one settings section
func (s *Store) Get(key string) pkg.Envelope {
	snap := s.Current()
	row, ok := snap.Section(key)
	if !ok {
		return pkg.RetryWith("Could not find setting.", map[string]any{"list_of_keys": snap.Keys()})
	}
	return pkg.Complete(row)
}

// Set changes one field. The whole settings set is re-validated before the
// change is persisted and published. Unknown keys and invalid values come back
// as retryable envelopes so an LLM caller can correct itself.
func (s *Store) Set(ctx context.Context, key, subKey, value string) (pkg.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.Current()
	row, ok := snap.raw[key]
	if !ok {
		return pkg.RetryWith("Setting does not exist", map[string]any{"list_of_keys": snap.Keys()}), nil
	}
	existing, ok := row[subKey]
	if !ok {
		return pkg.RetryWith(fmt.Sprintf("This field does not exist within `%s`", key),
			map[string]any{"list_of_fields": sortedKeys(row)}), nil
	}

	coerced, err := coerce(existing, value)
	if err != nil {
		return pkg.RetryWith("Incorrect value type", err.Error()), nil
	}

	next := cloneRaw(snap.raw)
	next[key][subKey] = coerced
	built, err := s.build(next)
	if err != nil {
		return pkg.RetryWith("Incorrect value type", err.Error()), nil
	}

	if err := s.kv.HSet(ctx, HashKey, key+"_"+subKey, value); err != nil {
		return pkg.Envelope{}, fmt.Errorf("%w: failed to persist setting: %v", pkg.ErrExternal, err)
	}
	s.current.Store(built)

	logger.Info().Str("key", key).Str("sub_key", subKey).Msg("Setting updated")
	return pkg.Complete("Updated settings"), nil
}

// build validates raw and decodes it into a snapshot. raw is owned by the result.
func (s *Store) build(raw map[string]map[string]any) (*Snapshot, error) {
	if err := ValidateOptions(raw, s.options); err != nil {
		return nil, err
	}

	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode settings: %v", pkg.ErrValidation, err)
	}
	snap := &Snapshot{}
	if err := yaml.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("%w: failed to decode settings: %v", pkg.ErrValidation, err)
	}
	if snap.LLM.ReasoningLLM == "" || snap.LLM.ReasoningLLMModel == "" {
		return nil, fmt.Errorf("%w: llm.reasoning_llm and llm.reasoning_llm_model are required", pkg.ErrValidation)
	}
	if snap.LLM.IntentLLM == "" {
		snap.LLM.IntentLLM = snap.LLM.ReasoningLLM
	}
	if snap.LLM.IntentLLMModel == "" {
		snap.LLM.IntentLLMModel = snap.LLM.ReasoningLLMModel
	}
	if snap.Voice.VoiceLib == "" {
		return nil, fmt.Errorf("%w: voice.voice_lib is required", pkg.ErrValidation)
	}
	if snap.Assistant.Name == "" {
		snap.Assistant.Name = defaultAssistantName
	}
	snap.raw = raw
	return snap, nil
}

// applyOverrides replays fields persisted by earlier Set calls. Overrides that no
// longer validate are skipped.
func (s *Store) applyOverrides(ctx context.Context) error {
	overrides, err := s.kv.HGetAll(ctx, HashKey)
	if err != nil {
		return fmt.Errorf("%w: failed to read persisted settings: %v", pkg.ErrExternal, err)
	}

	fields := make([]string, 0, len(overrides))
	for f := range overrides {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		snap := s.Current()
		key, subKey, ok := splitField(field, snap.raw)
		if !ok {
			logger.Warn().Str("field", field).Msg("Ignoring persisted setting for unknown field")
			continue
		}
		coerced, err := coerce(snap.raw[key][subKey], overrides[field])
		if err != nil {
			logger.Warn().Err(err).Str("field", field).Msg("Ignoring persisted setting")
			continue
		}
		next := cloneRaw(snap.raw)
		next[key][subKey] = coerced
		built, err := s.build(next)
		if err != nil {
			logger.Warn().Err(err).Str("field", field).Msg("Ignoring persisted setting")
			continue
		}
		s.current.Store(built)
	}
	return nil
}

// ValidateOptions checks every field against its <field>_options entry: a list is
// an allow-list, "number!" requires an integer, "float!" a number, and any other
// string must contain the value.
func ValidateOptions(raw map[string]map[string]any, options map[string]any) error {
	for _, section := range sortedKeys(raw) {
		row := raw[section]
		for _, field := range sortedKeys(row) {
			val := row[field]
			opts, ok := options[field+"_options"]
			if !ok || opts == nil {
				continue
			}

			switch o := opts.(type) {
			case []any:
				if !containsValue(o, val) {
					return fmt.Errorf("%w: Option: `%v` is not a valid option", pkg.ErrValidation, val)
				}
			case string:
				switch o {
				case "number!":
					if !isInteger(val) {
						return fmt.Errorf("%w: Option `%s` must be number", pkg.ErrValidation, field)
					}
				case "float!":
					if !isNumber(val) {
						return fmt.Errorf("%w: Option `%s` must be float", pkg.ErrValidation, field)
					}
				default:
					if !strings.Contains(o, fmt.Sprint(val)) {
						return fmt.Errorf("%w: Option: `%v` is not a valid option", pkg.ErrValidation, val)
					}
				}
			default:
				return fmt.Errorf("%w: unsupported options for `%s`", pkg.ErrValidation, field)
			}
		}
	}
	return nil
}

func containsValue(list []any, val any) bool {
	want := fmt.Sprint(val)
	for _, item := range list {
		if fmt.Sprint(item) == want {
			return true
		}
	}
	return false
}

func isInteger(v any) bool {
	switch v.(type) {
	case int, int64, int32, uint, uint64:
		return true
	}
	return false
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32:
		return true
	}
	return isInteger(v)
}

// coerce converts value to the type currently stored for the field
func coerce(existing any, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch existing.(type) {
	case float64, float32:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("`%s` is not a number", value)
		}
		return f, nil
	case int, int64, int32, uint, uint64:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("`%s` is not a whole number", value)
		}
		return n, nil
	case bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("`%s` is not true or false", value)
		}
		return b, nil
	}
	return value, nil
}

// splitField maps "<key>_<sub_key>" back to a section and field
func splitField(field string, raw map[string]map[string]any) (string, string, bool) {
	for _, key := range sortedKeys(raw) {
		prefix := key + "_"
		if !strings.HasPrefix(field, prefix) {
			continue
		}
		sub := strings.TrimPrefix(field, prefix)
		if _, ok := raw[key][sub]; ok {
			return key, sub, true
		}
	}
	return "", "", false
}

func cloneRaw(raw map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(raw))
	for k, row := range raw {
		cp := make(map[string]any, len(row))
		for f, v := range row {
			cp[f] = v
		}
		out[k] = cp
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
