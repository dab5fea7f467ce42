// internal/handlers/auth.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/imi-market/internal/services"
	"github.com/javajoker/imi-market/internal/utils"
)

type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// POST /auth/challenge
func (h *AuthHandler) Challenge(c *gin.Context) {
	var req services.ChallengeRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.authService.Challenge(&req)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, res)
}

// POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.authService.Login(&req)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, res)
}

// GET /auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	utils.SuccessResponse(c, gin.H{
		"address":      p.Address,
		"capabilities": h.authService.Capabilities(p.Address),
	})
}
