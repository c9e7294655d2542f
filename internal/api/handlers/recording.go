package handlers

import (
	"strconv"

	"actionrecorder/backend/internal/codegen"
	"actionrecorder/backend/internal/models"
	"actionrecorder/backend/pkg/response"

	"github.com/gin-gonic/gin"
)

type RecordingRequest struct {
	TabID int `json:"tab_id" binding:"required"`
}

type AssertionRequest struct {
	TabID   int  `json:"tab_id" binding:"required"`
	Enabled bool `json:"enabled"`
}

func (h *Handler) StartRecording(c *gin.Context) {
	h.setRecording(c, true)
}

func (h *Handler) StopRecording(c *gin.Context) {
	h.setRecording(c, false)
}

func (h *Handler) setRecording(c *gin.Context, enabled bool) {
	var req RecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.recorder.SetRecording(c.Request.Context(), req.TabID, enabled); err != nil {
		h.fail(c, err)
		return
	}

	message := "recording stopped"
	if enabled {
		message = "recording started"
	}
	response.SuccessWithMessage(c, message, h.recorder.Status())
}

func (h *Handler) GetRecordingStatus(c *gin.Context) {
	response.Success(c, h.recorder.Status())
}

// GetActions pages through the action log in append order.
func (h *Handler) GetActions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))

	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 50
	}

	actions := h.recorder.Actions()
	total := len(actions)
	start := min((page-1)*pageSize, total)
	end := min(start+pageSize, total)

	response.Page(c, actions[start:end], int64(total), page, pageSize)
}

// GetCode renders the action log as Java constants and Playwright steps.
func (h *Handler) GetCode(c *gin.Context) {
	response.Success(c, codegen.Generate(h.recorder.Actions()))
}

func (h *Handler) SetAssertionMode(c *gin.Context) {
	var req AssertionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.recorder.SetAssertionMode(c.Request.Context(), req.TabID, req.Enabled); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"tab_id": req.TabID, "enabled": req.Enabled})
}

func (h *Handler) GetSettings(c *gin.Context) {
	response.Success(c, h.recorder.Settings())
}

func (h *Handler) UpdateSettings(c *gin.Context) {
	var settings models.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	h.recorder.UpdateSettings(c.Request.Context(), settings)
	response.SuccessWithMessage(c, "settings updated", settings)
}
