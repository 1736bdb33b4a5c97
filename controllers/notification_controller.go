package controllers

import (
	"net/http"
	"strconv"

	"Gin_postgres_redis_loan_manager/app"
	"Gin_postgres_redis_loan_manager/apperr"
	"Gin_postgres_redis_loan_manager/db"
	"Gin_postgres_redis_loan_manager/services"

	"github.com/gin-gonic/gin"
)

type NotificationController struct {
	notes *services.NotificationService
}

func NewNotificationController(notes *services.NotificationService) *NotificationController {
	return &NotificationController{notes: notes}
}

// GET /notifications?unread&category&page&limit — 只看自己的
func (nc *NotificationController) List(c *gin.Context) {
	var f db.NotificationFilter
	if !bindQuery(c, &f) {
		return
	}
	f.UserID = who(c).User.ID
	page, err := nc.notes.List(c.Request.Context(), f)
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// PUT /notifications/:id/read；别人的通知一律 404
func (nc *NotificationController) MarkRead(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		app.RespondError(c, apperr.ErrNotificationGone)
		return
	}
	if err := nc.notes.MarkRead(c.Request.Context(), uint(id), who(c).User.ID); err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true})
}

func (nc *NotificationController) MarkAllRead(c *gin.Context) {
	n, err := nc.notes.MarkAllRead(c.Request.Context(), who(c).User.ID)
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true, "updated": n})
}
