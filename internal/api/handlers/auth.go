package handlers

import (
	"net/http"
	"time"

	"actionrecorder/backend/pkg/auth"
	"actionrecorder/backend/pkg/response"
	"actionrecorder/backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

type LoginRequest struct {
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// Login exchanges the operator password for a token.
func (h *Handler) Login(c *gin.Context) {
	if h.auth.PasswordHash == "" {
		response.BadRequest(c, "authentication is not configured")
		return
	}

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if !utils.CheckPassword(req.Password, h.auth.PasswordHash) {
		response.Unauthorized(c, "invalid password")
		return
	}

	token, err := auth.GenerateToken(h.auth.Secret, "operator", h.auth.ExpireTime)
	if err != nil {
		response.InternalServerError(c, "failed to generate token")
		return
	}

	response.SuccessWithMessage(c, "login successful", LoginResponse{
		Token:     token,
		ExpiresIn: h.auth.ExpireTime,
	})
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"code":    200,
		"message": "success",
		"data": gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UnixMilli(),
		},
	})
}
