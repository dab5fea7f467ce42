// internal/handlers/dispute.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/imi-market/internal/i18n"
	"github.com/javajoker/imi-market/internal/services"
	"github.com/javajoker/imi-market/internal/utils"
)

type DisputeHandler struct {
	disputeService *services.DisputeService
}

func NewDisputeHandler(disputeService *services.DisputeService) *DisputeHandler {
	return &DisputeHandler{disputeService: disputeService}
}

// POST /disputes
func (h *DisputeHandler) Submit(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req services.SubmitDisputeRequest
	if !bindJSON(c, &req) {
		return
	}
	d, err := h.disputeService.Submit(p, &req)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.CreatedResponse(c, d)
}

// POST /disputes/evidence
func (h *DisputeHandler) UploadEvidence(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyFileUploadFailed), err.Error())
		return
	}
	defer file.Close()

	if header.Size > services.MaxEvidenceSize {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyFileTooLarge), nil)
		return
	}

	res, err := h.disputeService.UploadEvidence(file, header)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.CreatedResponse(c, res)
}

// PUT /disputes/:id/resolve
func (h *DisputeHandler) Resolve(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req services.ResolveDisputeRequest
	if !bindJSON(c, &req) {
		return
	}
	d, err := h.disputeService.Resolve(p, id, &req)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, d)
}

// POST /disputes/:id/execute
func (h *DisputeHandler) Execute(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	d, err := h.disputeService.Execute(p, id)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, d)
}

// GET /disputes/:id
func (h *DisputeHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	d, err := h.disputeService.Get(id)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, d)
}

// GET /disputes/:id/evidence
func (h *DisputeHandler) Evidence(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	link, err := h.disputeService.EvidenceURL(p, id)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessResponse(c, link)
}
