package voice

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"homelink/internal/settings"
	"homelink/internal/storage"
	"homelink/pkg"

	"github.com/bytedance/sonic"
	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSettings(t *testing.T, voiceLib string) *settings.Store {
	t.Helper()
	raw := map[string]map[string]any{
		"assistant": {"name": "Jarvis"},
		"llm":       {"reasoning_llm": "openai", "reasoning_llm_model": "gpt-4o-mini"},
		"voice": {
			"voice_lib":   voiceLib,
			"voice_agent": "alloy",
			"voice_model": "tts-1",
			"voice_pitch": 1.25,
		},
	}
	store, err := settings.New(context.Background(), raw, map[string]any{}, storage.NewMemoryKV())
	require.NoError(t, err)
	return store
}

func TestOpenAISpeechUsesVoiceSettings(t *testing.T) {
	var path string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		_ = sonic.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-audio"))
	}))
	defer srv.Close()

	tts := NewOpenAISpeech(newSettings(t, LibOpenAI),
		option.WithAPIKey("test"),
		option.WithBaseURL(srv.URL+"/v1/"),
		option.WithMaxRetries(0),
	)
	audio, err := tts.Synthesize(context.Background(), "Hello there")
	require.NoError(t, err)
	assert.Equal(t, "ID3-audio", string(audio))
	assert.True(t, strings.HasSuffix(path, "/audio/speech"), path)
	assert.Equal(t, "Hello there", body["input"])
	assert.Equal(t, "tts-1", body["model"])
	assert.Equal(t, "alloy", body["voice"])
	assert.Equal(t, "mp3", body["response_format"])
	assert.Equal(t, 1.25, body["speed"])
}

func TestOpenAISpeechProviderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tts := NewOpenAISpeech(newSettings(t, LibOpenAI),
		option.WithAPIKey("test"),
		option.WithBaseURL(srv.URL+"/v1/"),
		option.WithMaxRetries(0),
	)
	_, err := tts.Synthesize(context.Background(), "Hello")
	assert.ErrorIs(t, err, pkg.ErrExternal)
}

func TestLocalVoiceLibraryIsNotImplemented(t *testing.T) {
	tts := NewOpenAISpeech(newSettings(t, LibLocal), option.WithAPIKey("test"))
	_, err := tts.Synthesize(context.Background(), "Hello")
	assert.ErrorIs(t, err, pkg.ErrValidation)
}

func TestLineRecognizerBuffersPartialLines(t *testing.T) {
	r := NewLineRecognizer()
	assert.Empty(t, r.Accept([]byte("hey jar")))
	assert.Equal(t, []string{"hey jarvis"}, r.Accept([]byte("vis\r\n\nnext")))
	assert.Equal(t, []string{"next"}, r.Accept([]byte("\n")))
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func runListener(t *testing.T, input string, trigger func(l **Listener) Trigger, opts ...ListenerOption) {
	t.Helper()
	var l *Listener
	var err error
	l, err = NewListener(ReaderSource(strings.NewReader(input)), NewLineRecognizer(),
		[]string{"Jarvis", " "}, 10*time.Second, trigger(&l), opts...)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop at end of input")
	}
}

func TestListenerRequiresWakeWord(t *testing.T) {
	var got []string
	runListener(t, "hello there\nHey Jarvis, turn on the lights\nrandom chatter\n", func(**Listener) Trigger {
		return func(ctx context.Context, phrase string) error {
			got = append(got, phrase)
			return nil
		}
	})
	assert.Equal(t, []string{"hey jarvis, turn on the lights"}, got)
}

func TestListenerContinuousWindowAcceptsOneFollowUp(t *testing.T) {
	var got []string
	runListener(t, "jarvis what's on my list\neggs and milk\nunrelated chatter\n", func(l **Listener) Trigger {
		return func(ctx context.Context, phrase string) error {
			got = append(got, phrase)
			if len(got) == 1 {
				return (*l).SetContinuous(ctx, true)
			}
			return nil
		}
	})
	assert.Equal(t, []string{"jarvis what's on my list", "eggs and milk"}, got)
}

func TestListenerContinuousWindowExpires(t *testing.T) {
	c := &clock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	var got []string
	runListener(t, "jarvis set a timer\ntoo late\n", func(l **Listener) Trigger {
		return func(ctx context.Context, phrase string) error {
			got = append(got, phrase)
			err := (*l).SetContinuous(ctx, true)
			c.Advance(11 * time.Second)
			return err
		}
	}, WithListenerClock(c.Now))
	assert.Equal(t, []string{"jarvis set a timer"}, got)
}

func TestListenerSurvivesTriggerErrors(t *testing.T) {
	var calls int32
	runListener(t, "jarvis one\njarvis two\n", func(**Listener) Trigger {
		return func(ctx context.Context, phrase string) error {
			atomic.AddInt32(&calls, 1)
			return errors.New("server down")
		}
	})
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestListenerStopsOnCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	l, err := NewListener(ReaderSource(r), NewLineRecognizer(), []string{"jarvis"}, time.Second,
		func(ctx context.Context, phrase string) error { return nil })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
	assert.Error(t, l.SetContinuous(context.Background(), true))
}

func TestNewListenerValidates(t *testing.T) {
	noop := func(ctx context.Context, phrase string) error { return nil }
	_, err := NewListener(ReaderSource(strings.NewReader("")), NewLineRecognizer(), []string{" "}, time.Second, noop)
	assert.ErrorIs(t, err, pkg.ErrValidation)
	_, err = NewListener(nil, NewLineRecognizer(), []string{"jarvis"}, time.Second, noop)
	assert.ErrorIs(t, err, pkg.ErrValidation)
}

func TestPlayerRunsCommandWithFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "played")
	p := NewPlayer([]string{"sh", "-c", `cat "$0" >> ` + out})

	require.NoError(t, p.PlayBytes(context.Background(), []byte("first"), ".mp3"))
	require.NoError(t, p.PlayBytes(context.Background(), []byte("second"), ".mp3"))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "firstsecond", string(data))
}

func TestPlayerErrors(t *testing.T) {
	p := NewPlayer([]string{"sh", "-c", "exit 3"})
	err := p.Play(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"))
	assert.ErrorIs(t, err, pkg.ErrResourceMissing)

	assert.Error(t, p.PlayBytes(context.Background(), []byte("x"), ".mp3"))
}

type fakeTTS struct{ err error }

func (f fakeTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("mp3:" + text), nil
}

type fakeClient struct {
	mu         sync.Mutex
	played     []string
	continuous int
	status     int
}

func (f *fakeClient) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.status != 0 {
			w.WriteHeader(f.status)
			return
		}
		switch r.URL.Path {
		case "/play":
			file, _, err := r.FormFile("file")
			if !assert.NoError(t, err) {
				return
			}
			data, _ := io.ReadAll(file)
			f.played = append(f.played, string(data))
		case "/set_continous":
			f.continuous++
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"Completed","completed":true,"retry":false}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientSpeakerPlaysAndOpensWindowOnQuestion(t *testing.T) {
	client := &fakeClient{}
	srv := client.server(t)
	s := NewClientSpeaker(fakeTTS{}, srv.URL)

	require.NoError(t, s.Speak(context.Background(), "The lights are on."))
	require.NoError(t, s.Speak(context.Background(), "Which room? "))

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, []string{"mp3:The lights are on.", "mp3:Which room? "}, client.played)
	assert.Equal(t, 1, client.continuous)
}

func TestClientSpeakerErrors(t *testing.T) {
	client := &fakeClient{status: http.StatusInternalServerError}
	srv := client.server(t)

	err := NewClientSpeaker(fakeTTS{}, srv.URL).Speak(context.Background(), "hi")
	assert.ErrorIs(t, err, pkg.ErrExternal)

	err = NewClientSpeaker(fakeTTS{err: pkg.ErrValidation}, srv.URL).Speak(context.Background(), "hi")
	assert.ErrorIs(t, err, pkg.ErrValidation)
}

func TestAwakeTriggerPostsPhrase(t *testing.T) {
	var got AwakeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/awake", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		_ = sonic.Unmarshal(data, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"Hi!","completed":true,"retry":false}`))
	}))
	defer srv.Close()

	require.NoError(t, AwakeTrigger(srv.URL+"/", time.Second)(context.Background(), "jarvis hello"))
	assert.Equal(t, "jarvis hello", got.Input)
}
