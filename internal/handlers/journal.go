// internal/handlers/journal.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/imi-market/internal/services"
	"github.com/javajoker/imi-market/internal/utils"
)

type JournalHandler struct {
	journalService *services.JournalService
}

func NewJournalHandler(journalService *services.JournalService) *JournalHandler {
	return &JournalHandler{journalService: journalService}
}

// GET /journal?entity=&type=
func (h *JournalHandler) Events(c *gin.Context) {
	result, err := h.journalService.Events(c.Request.Context(), c.Query("entity"), c.Query("type"), utils.GetPaginationParams(c))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.PaginatedResponse(c, result)
}

// GET /journal/settlements/:assetId
func (h *JournalHandler) Settlements(c *gin.Context) {
	assetID, ok := pathID(c, "assetId")
	if !ok {
		return
	}
	result, err := h.journalService.Settlements(c.Request.Context(), assetID, utils.GetPaginationParams(c))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.PaginatedResponse(c, result)
}
