package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"homelink/internal/llm"
	"homelink/pkg"
	"homelink/src/logger"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/sync/errgroup"
)

const noMemories = "User does not have any memories related. Request information from user, but keep it brief."

// memoryHelper builds the next round after the model asked for memory: a picker
// prompt chooses the relevant keys, their values are fetched, and the user's
// message is re-sent with a memory bank attached.
func (m *Manager) memoryHelper(ctx context.Context, rc pkg.RepairContext) ([]*schema.Message, error) {
	input := rc.OriginalInput
	last := lastUserIndex(input)
	if last < 0 {
		return input, nil
	}
	userText := input[last].Content

	keys, err := m.memory.ListOfKeys(ctx)
	if err != nil {
		return nil, err
	}

	bank := map[string]any{}
	if len(keys) > 0 {
		picked, err := m.pickKeys(ctx, userText, keys)
		if err != nil {
			return nil, err
		}
		bank, err = m.fetch(ctx, picked)
		if err != nil {
			return nil, err
		}
	}

	var payload string
	if len(bank) == 0 {
		payload = noMemories
	} else {
		payload, err = sonic.ConfigStd.MarshalToString(bank)
		if err != nil {
			return nil, fmt.Errorf("failed to encode memory bank: %w", err)
		}
	}
	logger.Debug().Int("memories", len(bank)).Msg("Memory spliced into conversation")

	next := make([]*schema.Message, len(input))
	copy(next, input)
	next[last] = schema.UserMessage(fmt.Sprintf("%s | Memory Bank: %s", userText, payload))
	return next, nil
}

func (m *Manager) pickKeys(ctx context.Context, userText string, keys []string) ([]string, error) {
	answer, err := m.picker.Invoke(ctx, map[string]any{
		"user_response": userText,
		"memories":      strings.Join(keys, ", "),
	})
	if err != nil {
		return nil, err
	}
	if llm.IsNone(answer) {
		return nil, nil
	}
	var picked []string
	for _, k := range strings.Split(answer, ",") {
		if k = strings.ToLower(llm.Clean(k)); k != "" && !llm.IsNone(k) {
			picked = append(picked, k)
		}
	}
	logger.Debug().Strs("keys", picked).Msg("Memory keys picked")
	return picked, nil
}

// fetch retrieves the picked keys concurrently; unknown keys are skipped
func (m *Manager) fetch(ctx context.Context, keys []string) (map[string]any, error) {
	var mu sync.Mutex
	bank := make(map[string]any, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		g.Go(func() error {
			ok, err := m.memory.Exists(gctx, key)
			if err != nil || !ok {
				return err
			}
			env, err := m.memory.Retrieve(gctx, key, 0)
			if err != nil {
				return err
			}
			if env.Completed {
				mu.Lock()
				bank[key] = env.Response
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bank, nil
}

func lastUserIndex(msgs []*schema.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i] != nil && msgs[i].Role == schema.User {
			return i
		}
	}
	return -1
}
