package http

import (
	"context"
	"os"
	"path/filepath"

	"homelink/pkg"
	"homelink/src/logger"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

type ContinuousSetter interface {
	SetContinuous(ctx context.Context, on bool) error
}

type AudioPlayer interface {
	Play(ctx context.Context, path string) error
}

// Client exposes the routes the server calls on the listening device
type Client struct {
	listener ContinuousSetter
	player   AudioPlayer
}

func NewClient(listener ContinuousSetter, player AudioPlayer) *Client {
	return &Client{listener: listener, player: player}
}

func (cl *Client) Build(addr string) *server.Hertz {
	h := server.Default(server.WithHostPorts(addr))
	cl.Register(h)
	return h
}

func (cl *Client) Register(h *server.Hertz) {
	h.Use(accessLog)
	h.GET("/", cl.Root)
	h.POST("/set_continous", cl.SetContinuous)
	h.POST("/play", cl.Play)
}

// Root GET /
func (cl *Client) Root(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, map[string]string{"status": "active"})
}

// SetContinuous POST /set_continous
func (cl *Client) SetContinuous(c context.Context, ctx *app.RequestContext) {
	if err := cl.listener.SetContinuous(c, true); err != nil {
		logger.Warn().Err(err).Msg("Failed to open continuous listening")
		ctx.JSON(consts.StatusServiceUnavailable, pkg.Fail("Listener is not running", nil))
		return
	}
	ctx.JSON(consts.StatusOK, pkg.Complete("Completed"))
}

// Play POST /play (multipart "file"); responds once playback finished
func (cl *Client) Play(c context.Context, ctx *app.RequestContext) {
	file, err := ctx.FormFile("file")
	if err != nil {
		ctx.JSON(consts.StatusBadRequest, pkg.Fail("Missing audio file", err.Error()))
		return
	}

	dir, err := os.MkdirTemp("", "homelink-play-")
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, pkg.Fail("Could not store audio file", nil))
		return
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "reply"+filepath.Ext(file.Filename))
	if err := ctx.SaveUploadedFile(file, path); err != nil {
		ctx.JSON(consts.StatusInternalServerError, pkg.Fail("Could not store audio file", nil))
		return
	}

	if err := cl.player.Play(c, path); err != nil {
		logger.Error().Err(err).Msg("Failed to play audio")
		ctx.JSON(consts.StatusInternalServerError, pkg.Fail("Could not play audio segment", err.Error()))
		return
	}
	ctx.JSON(consts.StatusOK, pkg.Complete("Completed"))
}
