package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"homelink/pkg"
	"homelink/src/logger"

	"github.com/rs/zerolog"
)

const (
	SampleRate      = 48000
	FramesPerBuffer = 4800
	// 16-bit mono
	bytesPerFrame = 2
)

// AudioSource is a blocking capture stream
type AudioSource interface {
	io.ReadCloser
}

// Recognizer consumes raw capture buffers and returns the phrases it finished
type Recognizer interface {
	Accept(buf []byte) []string
}

// Trigger receives accepted phrases on the caller's goroutine
type Trigger func(ctx context.Context, phrase string) error

var errListenerStopped = errors.New("listener stopped")

type heard struct {
	phrase string
	ack    chan struct{}
}

type continuousRequest struct {
	on bool
	at time.Time
}

// Listener bridges a blocking capture loop to the caller's goroutine.
// Only the capture worker touches the continuous-listen window.
type Listener struct {
	source     AudioSource
	recognizer Recognizer
	wakeWords  []string
	window     time.Duration
	trigger    Trigger
	now        func() time.Time
	log        zerolog.Logger

	phrases    chan heard
	continuous chan continuousRequest
	done       chan struct{}
	closeOnce  sync.Once
}

type ListenerOption func(*Listener)

// WithListenerClock replaces time.Now
func WithListenerClock(now func() time.Time) ListenerOption {
	return func(l *Listener) { l.now = now }
}

func NewListener(source AudioSource, recognizer Recognizer, wakeWords []string, window time.Duration, trigger Trigger, opts ...ListenerOption) (*Listener, error) {
	if source == nil || recognizer == nil || trigger == nil {
		return nil, fmt.Errorf("%w: listener needs a source, a recognizer and a trigger", pkg.ErrValidation)
	}
	words := make([]string, 0, len(wakeWords))
	for _, w := range wakeWords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: listener needs at least one wake word", pkg.ErrValidation)
	}
	l := &Listener{
		source:     source,
		recognizer: recognizer,
		wakeWords:  words,
		window:     window,
		trigger:    trigger,
		now:        time.Now,
		log:        logger.Component("listener"),
		phrases:    make(chan heard),
		continuous: make(chan continuousRequest, 8),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// SetContinuous opens (or closes) the window in which any phrase is accepted without a wake word
func (l *Listener) SetContinuous(ctx context.Context, on bool) error {
	select {
	case <-l.done:
		return errListenerStopped
	default:
	}
	select {
	case l.continuous <- continuousRequest{on: on, at: l.now()}:
		return nil
	case <-l.done:
		return errListenerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the capture worker and delivers accepted phrases to the trigger one at a time.
// It returns when ctx is done or the source ends.
func (l *Listener) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer l.stop()

	workerErr := make(chan error, 1)
	go func() { workerErr <- l.capture(ctx) }()

	l.log.Info().Strs("wake_words", l.wakeWords).Msg("Listening for wake word")
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case err := <-workerErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case h := <-l.phrases:
			if err := l.trigger(ctx, h.phrase); err != nil {
				l.log.Error().Err(err).Str("phrase", h.phrase).Msg("Failed to hand phrase to server")
			}
			close(h.ack)
		}
	}
}

func (l *Listener) stop() {
	l.closeOnce.Do(func() {
		close(l.done)
		// unblocks a pending Read
		_ = l.source.Close()
	})
}

// capture runs on its own goroutine and owns the continuous window
func (l *Listener) capture(ctx context.Context) error {
	buf := make([]byte, FramesPerBuffer*bytesPerFrame)
	var openedAt time.Time

	for {
		n, err := l.source.Read(buf)
		if n > 0 {
			for _, phrase := range l.recognizer.Accept(buf[:n]) {
				openedAt = l.drainContinuous(openedAt)
				if !openedAt.IsZero() && l.now().Sub(openedAt) >= l.window {
					openedAt = time.Time{}
				}
				phrase = strings.ToLower(strings.TrimSpace(phrase))
				if phrase == "" {
					continue
				}
				l.log.Debug().Str("phrase", phrase).Bool("continuous", !openedAt.IsZero()).Msg("Phrase recognized")
				if !l.hasWakeWord(phrase) && openedAt.IsZero() {
					continue
				}
				// closed until the server asks again
				openedAt = time.Time{}
				if err := l.handOff(ctx, phrase); err != nil {
					return err
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

func (l *Listener) drainContinuous(openedAt time.Time) time.Time {
	for {
		select {
		case req := <-l.continuous:
			if req.on {
				openedAt = req.at
			} else {
				openedAt = time.Time{}
			}
		default:
			return openedAt
		}
	}
}

func (l *Listener) hasWakeWord(phrase string) bool {
	for _, w := range l.wakeWords {
		if strings.Contains(phrase, w) {
			return true
		}
	}
	return false
}

// handOff blocks until the loop has processed the phrase
func (l *Listener) handOff(ctx context.Context, phrase string) error {
	h := heard{phrase: phrase, ack: make(chan struct{})}
	select {
	case l.phrases <- h:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-h.ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
