package memory

import (
	"context"
	"fmt"
	"strings"

	"homelink/internal/heal"
	"homelink/internal/llm"
	"homelink/pkg"
	"homelink/src/logger"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// command is one parsed action from the memorable-check reply
type command struct {
	key   string
	clear bool
	kind  pkg.ValueKind
	value any
}

const commandFormat = "Return `None`, `key|clear` or `key|type|memory`, separated by semicolons."

// Remember asks the reasoning model whether text holds something to remember or
// forget and applies the resulting commands. Nothing memorable is a completed
// envelope with "Nothing to remember".
func (s *Store) Remember(ctx context.Context, text string) (pkg.Envelope, error) {
	env, err := s.invoker.Invoke(ctx, heal.Request{
		Template:  s.ifMemory,
		Vars:      map[string]any{"text": text},
		Generator: s.reasonGen,
		Validate:  validateCommands,
		Options:   []einomodel.Option{einomodel.WithTemperature(0)},
	})
	if err != nil {
		return pkg.Envelope{}, err
	}
	if env.Retry {
		return pkg.Fail("Could not understand what to remember", nil), nil
	}

	cmds, _ := env.Response.([]command)
	if len(cmds) == 0 {
		return pkg.Complete("Nothing to remember"), nil
	}

	var remembered, cleared []string
	for _, cmd := range cmds {
		if cmd.clear {
			if _, err := s.Forget(ctx, cmd.key); err != nil {
				return pkg.Envelope{}, err
			}
			cleared = append(cleared, cmd.key)
			continue
		}
		stored, err := s.Store(ctx, cmd.key, cmd.value, cmd.kind)
		if err != nil {
			return pkg.Envelope{}, err
		}
		if stored.Failed() {
			logger.Warn().Str("key", cmd.key).Interface("meta", stored.Meta).Msg("Skipping memory that could not be stored")
			continue
		}
		remembered = append(remembered, stored.Text())
	}

	return pkg.Complete(fmt.Sprintf("Remembered something: %s | Forgot: %s", joinOrNull(remembered), joinOrNull(cleared))), nil
}

// validateCommands parses `none`, `key|clear` and `key|type|memory` entries
func validateCommands(ctx context.Context, out *schema.Message) pkg.Envelope {
	text := llm.Clean(out.Content)
	if llm.IsNone(text) {
		return pkg.Complete([]command(nil))
	}

	var cmds []command
	for _, raw := range strings.Split(text, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.SplitN(raw, "|", 3)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if parts[0] == "" || len(parts) < 2 {
			return pkg.RetryWith(fmt.Sprintf("`%s` is not a valid command.", raw), commandFormat)
		}

		if len(parts) == 2 {
			if strings.ToLower(parts[1]) != "clear" {
				return pkg.RetryWith(fmt.Sprintf("`%s` is missing the memory.", raw), commandFormat)
			}
			cmds = append(cmds, command{key: parts[0], clear: true})
			continue
		}

		kind, err := pkg.ParseValueKind(parts[1])
		if err != nil {
			return pkg.RetryWith(fmt.Sprintf("`%s` is not a memory type. Use list or str.", parts[1]), commandFormat)
		}
		cmd := command{key: parts[0], kind: kind, value: parts[2]}
		if kind == pkg.KindList {
			cmd.value = splitList(parts[2])
		}
		cmds = append(cmds, cmd)
	}
	if len(cmds) == 0 {
		return pkg.RetryWith("No commands found.", commandFormat)
	}
	return pkg.Complete(cmds)
}

// splitList reads "a, b" or "[a, b]" as a list
func splitList(s string) []string {
	s = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(s), "["), "]")
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.Trim(strings.TrimSpace(item), `"'`)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func joinOrNull(items []string) string {
	if len(items) == 0 {
		return "null"
	}
	return strings.Join(items, ",")
}
