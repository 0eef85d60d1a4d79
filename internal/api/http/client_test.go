package http

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"os"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeListener struct {
	calls []bool
	err   error
}

func (f *fakeListener) SetContinuous(ctx context.Context, on bool) error {
	f.calls = append(f.calls, on)
	return f.err
}

type fakePlayer struct {
	played []string
	err    error
}

func (f *fakePlayer) Play(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	f.played = append(f.played, string(data))
	return f.err
}

func newTestClient(listener *fakeListener, player *fakePlayer) *server.Hertz {
	h := server.Default(server.WithHostPorts(":0"))
	NewClient(listener, player).Register(h)
	return h
}

func upload(t *testing.T, h *server.Hertz, field string, content []byte) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "reply.mp3")
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("continous", "false"))
	require.NoError(t, mw.Close())

	w := ut.PerformRequest(h.Engine, "POST", "/play",
		&ut.Body{Body: &buf, Len: buf.Len()},
		ut.Header{Key: "Content-Type", Value: mw.FormDataContentType()})
	resp := w.Result()
	out := map[string]any{}
	_ = sonic.Unmarshal(resp.Body(), &out)
	return resp.StatusCode(), out
}

func TestClientPlaysUploadedAudio(t *testing.T) {
	player := &fakePlayer{}
	h := newTestClient(&fakeListener{}, player)

	status, body := upload(t, h, "file", []byte("ID3-audio"))
	assert.Equal(t, 200, status)
	assert.Equal(t, "Completed", body["response"])
	assert.Equal(t, true, body["completed"])
	assert.Equal(t, []string{"ID3-audio"}, player.played)
}

func TestClientPlayErrors(t *testing.T) {
	h := newTestClient(&fakeListener{}, &fakePlayer{})
	status, body := upload(t, h, "audio", []byte("x"))
	assert.Equal(t, 400, status)
	assert.Equal(t, false, body["completed"])

	h = newTestClient(&fakeListener{}, &fakePlayer{err: errors.New("no sound card")})
	status, body = upload(t, h, "file", []byte("x"))
	assert.Equal(t, 500, status)
	assert.Equal(t, "Could not play audio segment", body["response"])
}

func TestClientSetContinuous(t *testing.T) {
	listener := &fakeListener{}
	h := newTestClient(listener, &fakePlayer{})

	status, _ := perform(h, "POST", "/set_continous", "")
	assert.Equal(t, 200, status)
	assert.Equal(t, []bool{true}, listener.calls)

	listener.err = errors.New("listener stopped")
	status, body := perform(h, "POST", "/set_continous", "")
	assert.Equal(t, 503, status)
	assert.Equal(t, false, body["completed"])

	status, body = perform(h, "GET", "/", "")
	assert.Equal(t, 200, status)
	assert.Equal(t, "active", body["status"])
}
