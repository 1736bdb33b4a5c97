package controllers

import (
	"net/http"

	"Gin_postgres_redis_loan_manager/app"
	"Gin_postgres_redis_loan_manager/db"
	"Gin_postgres_redis_loan_manager/models"
	"Gin_postgres_redis_loan_manager/services"

	"github.com/gin-gonic/gin"
)

type UserController struct {
	users *services.UserService
}

func GetUserController(users *services.UserService) *UserController {
	return &UserController{users: users}
}

// GET /users?q=alice&role=&status=&page=1&limit=20
func (uc *UserController) ListUsers(c *gin.Context) {
	var f db.UserFilter
	if !bindQuery(c, &f) {
		return
	}
	page, err := uc.users.List(c.Request.Context(), f)
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GET /users/:id
func (uc *UserController) GetUser(c *gin.Context) {
	u, err := uc.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"user": u})
}

// PUT /users/:id/status；非 active 会撤销其全部会话
func (uc *UserController) SetStatus(c *gin.Context) {
	var in struct {
		Status models.UserStatus `json:"status"`
	}
	if !bindJSON(c, &in) {
		return
	}
	u, err := uc.users.SetStatus(c.Request.Context(), c.Param("id"), in.Status, actor(c))
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"user": u})
}

func (uc *UserController) SetRole(c *gin.Context) {
	var in struct {
		Role models.Role `json:"role"`
	}
	if !bindJSON(c, &in) {
		return
	}
	u, err := uc.users.SetRole(c.Request.Context(), c.Param("id"), in.Role, actor(c))
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"user": u})
}

// DELETE /users/:id 不允许删除自己，避免锁死
func (uc *UserController) DeleteUser(c *gin.Context) {
	if err := uc.users.Delete(c.Request.Context(), c.Param("id"), actor(c)); err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// PUT /users/me 只能改自己的资料
func (uc *UserController) UpdateMe(c *gin.Context) {
	var in services.ProfileInput
	if !bindJSON(c, &in) {
		return
	}
	u, err := uc.users.UpdateProfile(c.Request.Context(), who(c).User.ID, in, actor(c))
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"user": u})
}
