package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"homelink/internal/homelink"
	"homelink/internal/metrics"
	"homelink/internal/voice"
	"homelink/pkg"
	"homelink/src/logger"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

const prometheusContentType = "text/plain; version=0.0.4; charset=utf-8"

type LinkExecutor interface {
	ExecuteLink(ctx context.Context, utterance string) (homelink.Outcome, error)
}

type SettingsService interface {
	Get(key string) pkg.Envelope
	Set(ctx context.Context, key, subKey, value string) (pkg.Envelope, error)
}

type MemoryLister interface {
	ListOfKeys(ctx context.Context) ([]string, error)
}

// SettingsChange is the body of PUT /settings
type SettingsChange struct {
	Key    string `json:"key"`
	SubKey string `json:"sub_key"`
	Value  any    `json:"value"`
}

// Server exposes the HomeLink server routes
type Server struct {
	link     LinkExecutor
	settings SettingsService
	memory   MemoryLister
}

func NewServer(link LinkExecutor, settings SettingsService, memory MemoryLister) *Server {
	return &Server{link: link, settings: settings, memory: memory}
}

// Build creates the hertz server listening on addr with every route registered
func (s *Server) Build(addr string) *server.Hertz {
	h := server.Default(server.WithHostPorts(addr))
	s.Register(h)
	return h
}

func (s *Server) Register(h *server.Hertz) {
	h.Use(accessLog)
	h.GET("/", s.Root)
	h.POST("/awake", s.Awake)
	h.GET("/settings/:key", s.GetSettings)
	h.PUT("/settings", s.PutSettings)
	h.GET("/memory", s.Memory)
	h.GET("/metrics", s.Metrics)
}

// Root GET /
func (s *Server) Root(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, map[string]string{"status": "active"})
}

// Awake POST /awake {"input": "..."}
func (s *Server) Awake(c context.Context, ctx *app.RequestContext) {
	var req voice.AwakeRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, pkg.Fail("Invalid request body", err.Error()))
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		ctx.JSON(consts.StatusBadRequest, pkg.Fail("Missing input", nil))
		return
	}

	out, err := s.link.ExecuteLink(c, req.Input)
	if err != nil {
		if errors.Is(err, pkg.ErrValidation) {
			ctx.JSON(consts.StatusBadRequest, pkg.Fail(err.Error(), nil))
			return
		}
		logger.Error().Err(err).Msg("Failed to execute link")
		ctx.JSON(consts.StatusServiceUnavailable, pkg.Fail(homelink.Apology, nil))
		return
	}
	ctx.JSON(consts.StatusOK, out.Envelope())
}

// GetSettings GET /settings/:key
func (s *Server) GetSettings(c context.Context, ctx *app.RequestContext) {
	env := s.settings.Get(ctx.Param("key"))
	if !env.Completed {
		ctx.JSON(consts.StatusNotFound, env)
		return
	}
	ctx.JSON(consts.StatusOK, env)
}

// PutSettings PUT /settings {"key", "sub_key", "value"}
func (s *Server) PutSettings(c context.Context, ctx *app.RequestContext) {
	var req SettingsChange
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, pkg.Fail("Invalid request body", err.Error()))
		return
	}
	if req.Key == "" || req.SubKey == "" || req.Value == nil {
		ctx.JSON(consts.StatusBadRequest, pkg.Fail("key, sub_key and value are required", nil))
		return
	}

	env, err := s.settings.Set(c, req.Key, req.SubKey, fmt.Sprint(req.Value))
	if err != nil {
		logger.Error().Err(err).Str("key", req.Key).Msg("Failed to update setting")
		ctx.JSON(consts.StatusServiceUnavailable, pkg.Fail("Could not save that setting", nil))
		return
	}
	if !env.Completed {
		ctx.JSON(consts.StatusUnprocessableEntity, env)
		return
	}
	ctx.JSON(consts.StatusOK, env)
}

// Memory GET /memory
func (s *Server) Memory(c context.Context, ctx *app.RequestContext) {
	keys, err := s.memory.ListOfKeys(c)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list memories")
		ctx.JSON(consts.StatusServiceUnavailable, pkg.Fail("Could not list memories", nil))
		return
	}
	if keys == nil {
		keys = []string{}
	}
	ctx.JSON(consts.StatusOK, pkg.Complete(keys))
}

// Metrics GET /metrics
func (s *Server) Metrics(c context.Context, ctx *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		ctx.String(consts.StatusInternalServerError, err.Error())
		return
	}
	ctx.Data(consts.StatusOK, prometheusContentType, buf.Bytes())
}

func accessLog(c context.Context, ctx *app.RequestContext) {
	start := time.Now()
	ctx.Next(c)
	logger.Debug().
		Str("method", string(ctx.Method())).
		Str("path", string(ctx.Path())).
		Int("status", ctx.Response.StatusCode()).
		Dur("took", time.Since(start)).
		Msg("HTTP request")
}
