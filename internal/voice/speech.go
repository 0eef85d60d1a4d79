package voice

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"homelink/internal/metrics"
	"homelink/internal/settings"
	"homelink/pkg"
	"homelink/src/logger"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	LibOpenAI = "openai"
	LibLocal  = "local"
)

// Synthesizer turns reply text into playable audio
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// SettingsSource exposes the live settings snapshot
type SettingsSource interface {
	Current() *settings.Snapshot
}

// OpenAISpeech synthesizes mp3 audio through the OpenAI speech endpoint.
// Voice settings are read on every call so runtime changes apply to the next reply.
type OpenAISpeech struct {
	client   openai.Client
	settings SettingsSource
}

func NewOpenAISpeech(source SettingsSource, opts ...option.RequestOption) *OpenAISpeech {
	return &OpenAISpeech{
		client:   openai.NewClient(opts...),
		settings: source,
	}
}

func (s *OpenAISpeech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: nothing to synthesize", pkg.ErrValidation)
	}
	vs := s.settings.Current().Voice
	switch vs.VoiceLib {
	case LibOpenAI:
	case LibLocal:
		return nil, fmt.Errorf("%w: local voice library is not implemented", pkg.ErrValidation)
	default:
		return nil, fmt.Errorf("%w: unknown voice library %q", pkg.ErrValidation, vs.VoiceLib)
	}

	params := openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(vs.VoiceModel),
		Voice:          openai.AudioSpeechNewParamsVoice(vs.VoiceAgent),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	}
	if vs.VoicePitch > 0 {
		params.Speed = openai.Float(vs.VoicePitch)
	}

	start := time.Now()
	resp, err := s.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to synthesize speech: %v", pkg.ErrExternal, err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read speech audio: %v", pkg.ErrExternal, err)
	}
	elapsed := time.Since(start)
	metrics.TTSDuration.Observe(elapsed.Seconds())
	logger.Debug().
		Str("voice", vs.VoiceAgent).
		Int("bytes", len(audio)).
		Dur("took", elapsed).
		Msg("Speech synthesized")
	return audio, nil
}
