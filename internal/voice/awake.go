package voice

import (
	"context"
	"fmt"
	"time"

	"homelink/pkg"
	"homelink/src/logger"
)

// AwakeRequest is the body of the server's /awake route
type AwakeRequest struct {
	Input string `json:"input"`
}

// AwakeTrigger forwards accepted phrases to the server's /awake route
func AwakeTrigger(serverURL string, timeout time.Duration) Trigger {
	http := NewRestClient(serverURL, timeout)
	return func(ctx context.Context, phrase string) error {
		var env pkg.Envelope
		resp, err := http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(AwakeRequest{Input: phrase}).
			SetResult(&env).
			Post("/awake")
		if err != nil {
			return fmt.Errorf("%w: failed to reach server: %v", pkg.ErrExternal, err)
		}
		if resp.IsError() {
			return fmt.Errorf("%w: server answered %s", pkg.ErrExternal, resp.Status())
		}
		logger.Info().Str("reply", env.Text()).Bool("completed", env.Completed).Msg("Server replied")
		return nil
	}
}
