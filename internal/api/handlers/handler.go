package handlers

import (
	"context"
	"errors"

	"actionrecorder/backend/internal/coordinator"
	"actionrecorder/backend/internal/models"
	"actionrecorder/backend/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recorder is the part of the session coordinator the API drives.
type Recorder interface {
	SetRecording(ctx context.Context, tabID int, enabled bool) error
	SetAssertionMode(ctx context.Context, tabID int, enabled bool) error
	UpdateSettings(ctx context.Context, settings models.Settings)
	Settings() models.Settings
	Actions() []models.Action
	Status() coordinator.Status
}

// Browser manages the tabs of the recording browser.
type Browser interface {
	Tabs() []coordinator.Tab
	OpenTab(ctx context.Context, url string) (coordinator.Tab, error)
	ActivateTab(ctx context.Context, tabID int) error
	CloseTab(ctx context.Context, tabID int) error
}

type Auth struct {
	Secret       string
	ExpireTime   int
	PasswordHash string
}

type Handler struct {
	recorder Recorder
	browser  Browser
	auth     Auth
	logger   *zap.Logger
}

func New(recorder Recorder, browser Browser, auth Auth, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		recorder: recorder,
		browser:  browser,
		auth:     auth,
		logger:   logger,
	}
}

// fail maps recorder errors onto response codes.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, coordinator.ErrTabUnavailable):
		response.NotFound(c, err.Error())
	case errors.Is(err, coordinator.ErrInjectionFailed):
		response.BadGateway(c, err.Error())
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.InternalServerError(c, err.Error())
	}
}
