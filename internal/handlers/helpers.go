// internal/handlers/helpers.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/imi-market/internal/authz"
	"github.com/javajoker/imi-market/internal/i18n"
	"github.com/javajoker/imi-market/internal/services"
	"github.com/javajoker/imi-market/internal/utils"
)

func principal(c *gin.Context) (authz.Principal, bool) {
	p, ok := utils.GetPrincipalFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
	}
	return p, ok
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		lang := utils.GetLangFromContext(c)
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return false
	}
	return true
}

func pathID(c *gin.Context, name string) (uint64, bool) {
	id, err := services.ParseID("request."+name, c.Param(name))
	if err != nil {
		utils.HandleError(c, err)
		return 0, false
	}
	return id, true
}
