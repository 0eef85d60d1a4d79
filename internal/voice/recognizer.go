package voice

import (
	"bytes"
	"io"
)

// LineRecognizer treats every newline-terminated line as a finished phrase.
// Paired with a ReaderSource it stands in for a microphone during development.
type LineRecognizer struct {
	pending []byte
}

func NewLineRecognizer() *LineRecognizer {
	return &LineRecognizer{}
}

func (r *LineRecognizer) Accept(buf []byte) []string {
	r.pending = append(r.pending, buf...)
	var phrases []string
	for {
		i := bytes.IndexByte(r.pending, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(r.pending[:i], "\r"))
		r.pending = r.pending[i+1:]
		if line != "" {
			phrases = append(phrases, line)
		}
	}
	return phrases
}

// ReaderSource adapts any reader (stdin, a file) into an AudioSource
func ReaderSource(r io.Reader) AudioSource {
	if rc, ok := r.(io.ReadCloser); ok {
		return rc
	}
	return io.NopCloser(r)
}
