package delivery

import (
	"net/http"

	"agency-crm-backend/internal/auth/repository"

	"github.com/gin-gonic/gin"
)

type FCMHandler struct {
	tokens repository.FCMTokenRepository
}

func NewFCMHandler(tokens repository.FCMTokenRepository) *FCMHandler {
	return &FCMHandler{tokens: tokens}
}

type registerFCMTokenRequest struct {
	Token      string `json:"token" binding:"required"`
	DeviceInfo string `json:"device_info"`
}

func (h *FCMHandler) RegisterFCMToken(c *gin.Context) {
	var req registerFCMTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.tokens.SaveToken(c.GetString("userID"), req.Token, req.DeviceInfo); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "token registered"})
}

func (h *FCMHandler) UnregisterFCMToken(c *gin.Context) {
	if err := h.tokens.DeleteToken(c.GetString("userID"), c.Param("token")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "token removed"})
}
