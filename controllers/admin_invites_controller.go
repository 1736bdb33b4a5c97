package controllers

import (
	"net/http"

	"Gin_postgres_redis_loan_manager/app"
	"Gin_postgres_redis_loan_manager/services"

	"github.com/gin-gonic/gin"
)

type InviteController struct {
	users     *services.UserService
	notes     *services.NotificationService
	webOrigin string
}

func GetInviteController(users *services.UserService, notes *services.NotificationService, webOrigin string) *InviteController {
	return &InviteController{users: users, notes: notes, webOrigin: webOrigin}
}

// POST /admin/invites
func (ic *InviteController) CreateInvite(c *gin.Context) {
	var in services.InviteInput
	if !bindJSON(c, &in) {
		return
	}
	inv, token, err := ic.users.Invite(c.Request.Context(), in, who(c).User.ID)
	if err != nil {
		app.RespondError(c, err)
		return
	}
	link := app.InviteLink(ic.webOrigin, token)
	days := in.Expires
	if days == 0 {
		days = 1
	}
	// 发邮件（若未配置 SMTP，打印日志但不报错）
	ic.notes.SendInvite(inv.Email, link, days)

	c.JSON(http.StatusCreated, gin.H{
		"token":  token,
		"link":   link, // 方便开发环境直接点
		"invite": inv,
	})
}
