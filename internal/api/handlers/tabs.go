package handlers

import (
	"strconv"

	"actionrecorder/backend/pkg/response"

	"github.com/gin-gonic/gin"
)

type OpenTabRequest struct {
	URL string `json:"url" binding:"required"`
}

func (h *Handler) GetTabs(c *gin.Context) {
	response.Success(c, h.browser.Tabs())
}

func (h *Handler) OpenTab(c *gin.Context) {
	var req OpenTabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	tab, err := h.browser.OpenTab(c.Request.Context(), req.URL)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, tab)
}

func (h *Handler) ActivateTab(c *gin.Context) {
	tabID, ok := tabParam(c)
	if !ok {
		return
	}
	if err := h.browser.ActivateTab(c.Request.Context(), tabID); err != nil {
		h.fail(c, err)
		return
	}
	response.SuccessWithMessage(c, "tab activated", gin.H{"tab_id": tabID})
}

func (h *Handler) CloseTab(c *gin.Context) {
	tabID, ok := tabParam(c)
	if !ok {
		return
	}
	if err := h.browser.CloseTab(c.Request.Context(), tabID); err != nil {
		h.fail(c, err)
		return
	}
	response.SuccessWithMessage(c, "tab closed", gin.H{"tab_id": tabID})
}

func tabParam(c *gin.Context) (int, bool) {
	tabID, err := strconv.Atoi(c.Param("id"))
	if err != nil || tabID <= 0 {
		response.BadRequest(c, "invalid tab id")
		return 0, false
	}
	return tabID, true
}
