package controllers

import (
	"net/http"

	"Gin_postgres_redis_loan_manager/app"
	"Gin_postgres_redis_loan_manager/services"

	"github.com/gin-gonic/gin"
)

// POST /auth/login
func (s *Srv) Login(c *gin.Context) {
	var in services.LoginInput
	if !bindJSON(c, &in) {
		return
	}
	sess, err := s.Auth.Login(c.Request.Context(), in, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		app.RespondError(c, err)
		return
	}
	s.sessionOK(c, http.StatusOK, sess)
}

// POST /auth/register
func (s *Srv) Register(c *gin.Context) {
	var in services.RegisterInput
	if !bindJSON(c, &in) {
		return
	}
	sess, err := s.Auth.Register(c.Request.Context(), in, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		app.RespondError(c, err)
		return
	}
	s.sessionOK(c, http.StatusCreated, sess)
}

// POST /auth/logout 撤销服务端会话并清 Cookie
func (s *Srv) Logout(c *gin.Context) {
	if err := s.Auth.Logout(c.Request.Context(), who(c).SessionID); err != nil {
		app.RespondError(c, err)
		return
	}
	s.setAuthCookie(c.Writer, "", -1)
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// GET /auth/me：用户、passkey 数量和当前登录的设备
func (s *Srv) Me(c *gin.Context) {
	id := who(c)
	ctx := c.Request.Context()
	n, err := s.Repo.CountCredentials(ctx, id.User.ID)
	if err != nil {
		app.RespondError(c, err)
		return
	}
	devices, err := s.Auth.Sessions.ListForUser(ctx, id.User.ID)
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"user": id.User, "passkeys": n, "sessions": devices, "current": id.SessionID})
}
