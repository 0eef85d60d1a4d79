package voice

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"homelink/pkg"
	"homelink/src/logger"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
)

// Speaker delivers a reply to the user
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// NewRestClient is the resty client shared by the server and client sides
func NewRestClient(baseURL string, timeout time.Duration) *resty.Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout)
	c.JSONMarshal = sonic.Marshal
	c.JSONUnmarshal = sonic.Unmarshal
	return c
}

// ClientSpeaker synthesizes replies on the server and ships the audio to the listening client
type ClientSpeaker struct {
	tts  Synthesizer
	http *resty.Client
}

func NewClientSpeaker(tts Synthesizer, clientURL string) *ClientSpeaker {
	return &ClientSpeaker{
		tts:  tts,
		http: NewRestClient(clientURL, time.Minute),
	}
}

// Speak uploads the synthesized reply to /play. A reply that asks a question
// also opens the client's continuous-listen window.
func (s *ClientSpeaker) Speak(ctx context.Context, text string) error {
	audio, err := s.tts.Synthesize(ctx, text)
	if err != nil {
		return err
	}

	asks := IsQuestion(text)
	var env pkg.Envelope
	resp, err := s.http.R().
		SetContext(ctx).
		SetFileReader("file", "reply.mp3", bytes.NewReader(audio)).
		SetFormData(map[string]string{"continous": strconv.FormatBool(asks)}).
		SetResult(&env).
		Post("/play")
	if err != nil {
		return fmt.Errorf("%w: failed to send audio to client: %v", pkg.ErrExternal, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: client rejected audio: %s", pkg.ErrExternal, resp.Status())
	}
	if !env.Completed {
		logger.Warn().Str("response", env.Text()).Msg("Client could not play audio")
	}

	if asks {
		if err := s.SetContinuous(ctx); err != nil {
			return err
		}
	}
	return nil
}

// SetContinuous asks the client to accept the next phrase without a wake word
func (s *ClientSpeaker) SetContinuous(ctx context.Context) error {
	resp, err := s.http.R().SetContext(ctx).Post("/set_continous")
	if err != nil {
		return fmt.Errorf("%w: failed to set continuous listening: %v", pkg.ErrExternal, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: client rejected continuous listening: %s", pkg.ErrExternal, resp.Status())
	}
	return nil
}

// IsQuestion reports whether the reply expects an answer
func IsQuestion(text string) bool {
	return strings.HasSuffix(strings.TrimSpace(text), "?")
}
