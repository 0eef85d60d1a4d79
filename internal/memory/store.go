package memory

import (
	"context"
	"fmt"
	"strings"

	"homelink/internal/heal"
	"homelink/internal/llm"
	"homelink/internal/metrics"
	"homelink/internal/storage"
	"homelink/pkg"
	"homelink/src/logger"

	"github.com/bytedance/sonic"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

const (
	// Prefix namespaces every memory key in the store
	Prefix = "memory|"
	// IndexKey is the list of every memory key ever written
	IndexKey = "agent_memory"
	// KindsKey maps a namespaced key to its value kind
	KindsKey = "agent_memory_kinds"
)

const conversionFailed = "Could not convert memory to the type specified."

// Store is the only writer of the memory|* namespace
type Store struct {
	kv        storage.KV
	keyGen    llm.Generator
	reasonGen llm.Generator
	invoker   *heal.Invoker

	similarKey prompt.ChatTemplate
	ifMemory   prompt.ChatTemplate
}

// NewStore wires the store. keyGen resolves fuzzy keys; reasonGen decides what is memorable.
func NewStore(kv storage.KV, keyGen, reasonGen llm.Generator, invoker *heal.Invoker) *Store {
	return &Store{
		kv:         kv,
		keyGen:     keyGen,
		reasonGen:  reasonGen,
		invoker:    invoker,
		similarKey: llm.DetermineSimilarKey(),
		ifMemory:   llm.DetermineIfMemory(),
	}
}

// Namespace turns a bare key into its stored form
func Namespace(key string) string {
	return Prefix + key
}

// Bare strips the namespace prefix
func Bare(key string) string {
	return strings.TrimPrefix(key, Prefix)
}

func normalize(key string) string {
	return strings.ToLower(llm.Clean(Bare(strings.TrimSpace(key))))
}

// Store writes value under the resolved key. List values are merged: only
// entries not already present (case-insensitive) are appended.
func (s *Store) Store(ctx context.Context, key string, value any, kind pkg.ValueKind) (pkg.Envelope, error) {
	var (
		scalar string
		items  []string
		err    error
	)
	switch kind {
	case pkg.KindList:
		items, err = toList(value)
		if err != nil {
			return pkg.Fail(conversionFailed, err.Error()), nil
		}
	case pkg.KindScalar:
		scalar, err = toScalar(value)
		if err != nil {
			return pkg.Fail(conversionFailed, err.Error()), nil
		}
	default:
		return pkg.Fail(conversionFailed, fmt.Sprintf("unknown kind %q", kind)), nil
	}

	nk, err := s.EnsureKey(ctx, key)
	if err != nil {
		return pkg.Envelope{}, err
	}
	if err := s.dropIfKindChanged(ctx, nk, kind); err != nil {
		return pkg.Envelope{}, err
	}

	switch kind {
	case pkg.KindScalar:
		if err := s.kv.Set(ctx, nk, scalar); err != nil {
			return pkg.Envelope{}, storeErr(err)
		}
	case pkg.KindList:
		existing, err := s.kv.LRange(ctx, nk, 0, -1)
		if err != nil {
			return pkg.Envelope{}, storeErr(err)
		}
		fresh := mergeNew(existing, items)
		if len(fresh) > 0 {
			if err := s.kv.RPush(ctx, nk, fresh...); err != nil {
				return pkg.Envelope{}, storeErr(err)
			}
		}
	}

	if err := s.kv.HSet(ctx, KindsKey, nk, string(kind)); err != nil {
		return pkg.Envelope{}, storeErr(err)
	}
	if _, err := s.kv.PushIfAbsent(ctx, IndexKey, Bare(nk)); err != nil {
		return pkg.Envelope{}, storeErr(err)
	}

	metrics.MemoryOperations.WithLabelValues("store").Inc()
	logger.Debug().Str("key", nk).Str("kind", string(kind)).Msg("Memory stored")
	return pkg.Complete(Bare(nk)), nil
}

// dropIfKindChanged removes the old value when it was stored with another kind
func (s *Store) dropIfKindChanged(ctx context.Context, nk string, kind pkg.ValueKind) error {
	current, err := s.kindOf(ctx, nk)
	if err != nil {
		return err
	}
	if current == "" || current == kind {
		return nil
	}
	if _, err := s.kv.Del(ctx, nk); err != nil {
		return storeErr(err)
	}
	logger.Debug().Str("key", nk).Str("from", string(current)).Str("to", string(kind)).Msg("Memory kind changed")
	return nil
}

// kindOf reads the sidecar, falling back to the native type. "" means absent.
func (s *Store) kindOf(ctx context.Context, nk string) (pkg.ValueKind, error) {
	tag, ok, err := s.kv.HGet(ctx, KindsKey, nk)
	if err != nil {
		return "", storeErr(err)
	}
	if ok {
		if kind, err := pkg.ParseValueKind(tag); err == nil {
			exists, err := s.kv.Exists(ctx, nk)
			if err != nil {
				return "", storeErr(err)
			}
			if exists {
				return kind, nil
			}
			return "", nil
		}
	}

	typ, err := s.kv.Type(ctx, nk)
	if err != nil {
		return "", storeErr(err)
	}
	switch typ {
	case storage.TypeString:
		return pkg.KindScalar, nil
	case storage.TypeList:
		return pkg.KindList, nil
	}
	return "", nil
}

// Forget deletes the resolved key and reports whether it existed
func (s *Store) Forget(ctx context.Context, key string) (bool, error) {
	nk, err := s.EnsureKey(ctx, key)
	if err != nil {
		return false, err
	}
	n, err := s.kv.Del(ctx, nk)
	if err != nil {
		return false, storeErr(err)
	}
	if err := s.kv.HDel(ctx, KindsKey, nk); err != nil {
		return false, storeErr(err)
	}
	metrics.MemoryOperations.WithLabelValues("forget").Inc()
	logger.Debug().Str("key", nk).Bool("existed", n > 0).Msg("Memory forgotten")
	return n > 0, nil
}

// Retrieve returns up to limit list items (limit <= 0 is unbounded). A scalar is
// returned whole. A missing key is a non-retryable envelope carrying the known keys.
func (s *Store) Retrieve(ctx context.Context, key string, limit int) (pkg.Envelope, error) {
	nk, err := s.EnsureKey(ctx, key)
	if err != nil {
		return pkg.Envelope{}, err
	}
	metrics.MemoryOperations.WithLabelValues("retrieve").Inc()

	kind, err := s.kindOf(ctx, nk)
	if err != nil {
		return pkg.Envelope{}, err
	}
	switch kind {
	case pkg.KindScalar:
		v, ok, err := s.kv.Get(ctx, nk)
		if err != nil {
			return pkg.Envelope{}, storeErr(err)
		}
		if ok {
			return pkg.Complete(v), nil
		}
	case pkg.KindList:
		stop := int64(-1)
		if limit > 0 {
			stop = int64(limit) - 1
		}
		items, err := s.kv.LRange(ctx, nk, 0, stop)
		if err != nil {
			return pkg.Envelope{}, storeErr(err)
		}
		return pkg.Complete(items), nil
	}

	keys, err := s.ListOfKeys(ctx)
	if err != nil {
		return pkg.Envelope{}, err
	}
	return pkg.Fail("Memory does not exist", map[string]any{"list_of_keys": keys}), nil
}

// Exists checks the namespaced key directly, without fuzzy resolution
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.kv.Exists(ctx, Namespace(normalize(key)))
	if err != nil {
		return false, storeErr(err)
	}
	return ok, nil
}

// ListOfKeys returns every memory key currently stored, without the namespace.
// It scans the namespace rather than the side index, so forgotten keys are absent.
func (s *Store) ListOfKeys(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, Prefix)
	if err != nil {
		return nil, storeErr(err)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, Bare(k))
	}
	return out, nil
}

// EnsureKey resolves candidate to a namespaced key. An existing key is returned
// as is; otherwise the key model may map it onto a key from the side index, and
// when it cannot the candidate itself becomes a new key.
func (s *Store) EnsureKey(ctx context.Context, candidate string) (string, error) {
	key := normalize(candidate)
	if key == "" {
		return "", fmt.Errorf("%w: memory key is empty", pkg.ErrValidation)
	}

	nk := Namespace(key)
	exists, err := s.kv.Exists(ctx, nk)
	if err != nil {
		return "", storeErr(err)
	}
	if exists {
		return nk, nil
	}

	keys, err := s.indexedKeys(ctx)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return s.mint(nk), nil
	}

	known := make(map[string]bool, len(keys))
	for _, k := range keys {
		known[strings.ToLower(k)] = true
	}

	env, err := s.invoker.Invoke(ctx, heal.Request{
		Template:  s.similarKey,
		Vars:      map[string]any{"non_key": key, "list_of_keys": strings.Join(keys, ", ")},
		Generator: s.keyGen,
		Options:   []einomodel.Option{einomodel.WithTemperature(0)},
		Validate: func(ctx context.Context, out *schema.Message) pkg.Envelope {
			text := llm.Clean(out.Content)
			if llm.IsNone(text) {
				return pkg.Complete("")
			}
			if match := normalize(text); known[match] {
				return pkg.Complete(match)
			}
			return pkg.RetryWith("That key is not in the list of real keys.", map[string]any{"list_of_keys": keys})
		},
	})
	if err != nil {
		return "", err
	}
	if match := env.Text(); env.Completed && match != "" {
		logger.Debug().Str("candidate", key).Str("key", match).Msg("Memory key resolved")
		return Namespace(match), nil
	}
	return s.mint(nk), nil
}

// indexedKeys reads the append-only side index, case-insensitively unique.
// Forgotten keys stay in it, so a later store can land on the same name.
func (s *Store) indexedKeys(ctx context.Context) ([]string, error) {
	raw, err := s.kv.LRange(ctx, IndexKey, 0, -1)
	if err != nil {
		return nil, storeErr(err)
	}
	seen := make(map[string]bool, len(raw))
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if lk := strings.ToLower(k); !seen[lk] {
			seen[lk] = true
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *Store) mint(nk string) string {
	metrics.MemoryOperations.WithLabelValues("mint").Inc()
	return nk
}

// toList accepts []string, []any of strings, or a string holding a JSON array
func toList(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("list item %v is not text", item)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		var out []string
		if err := sonic.UnmarshalString(strings.TrimSpace(v), &out); err != nil {
			return nil, fmt.Errorf("%q is not a list", v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%T is not a list", value)
}

func toScalar(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case int, int64, float64, bool:
		return fmt.Sprint(v), nil
	}
	return "", fmt.Errorf("%T is not a single value", value)
}

// mergeNew returns the items not already in existing, compared case-insensitively
func mergeNew(existing, items []string) []string {
	seen := make(map[string]bool, len(existing)+len(items))
	for _, e := range existing {
		seen[strings.ToLower(e)] = true
	}
	var fresh []string
	for _, item := range items {
		item = strings.TrimSpace(item)
		k := strings.ToLower(item)
		if item == "" || seen[k] {
			continue
		}
		seen[k] = true
		fresh = append(fresh, item)
	}
	return fresh
}

func storeErr(err error) error {
	return fmt.Errorf("%w: memory store: %v", pkg.ErrExternal, err)
}
