package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fleetgate/internal/auth"
	"fleetgate/internal/logging"
	"fleetgate/internal/store"
)

// AuthHandler exchanges operator credentials for an admin API bearer token.
type AuthHandler struct {
	Store       store.Store
	TokenConfig auth.TokenConfig
	Log         *logging.Logger
}

type loginBody struct {
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	user, err := h.Store.GetUser(c.Request.Context(), body.Username, body.PasswordHash)
	if err != nil {
		h.Log.Error("login: user lookup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lookup failed"})
		return
	}
	if user == nil || !user.Enabled {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := auth.CreateToken(user.Username, h.TokenConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token creation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
}
