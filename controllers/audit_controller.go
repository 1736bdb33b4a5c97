package controllers

import (
	"net/http"

	"Gin_postgres_redis_loan_manager/app"
	"Gin_postgres_redis_loan_manager/db"
	"Gin_postgres_redis_loan_manager/services"

	"github.com/gin-gonic/gin"
)

type AuditController struct {
	users *services.UserService
}

func NewAuditController(users *services.UserService) *AuditController {
	return &AuditController{users: users}
}

// GET /audit?entity=&entity_id=&actor=&action=&page=&limit=
func (ac *AuditController) List(c *gin.Context) {
	var f db.AuditFilter
	if !bindQuery(c, &f) {
		return
	}
	page, err := ac.users.Audit(c.Request.Context(), f)
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}
