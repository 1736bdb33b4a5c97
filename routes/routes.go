package routes

import (
	"net/http"
	"time"

	"Gin_postgres_redis_loan_manager/app"
	"Gin_postgres_redis_loan_manager/controllers"
	"Gin_postgres_redis_loan_manager/models"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.Engine, a *app.App) {
	// 控制器与依赖
	s := controllers.GetSrv(a)
	uc := controllers.GetUserController(a.Users)
	eqCtl := controllers.NewEquipmentController(a.Inventory)
	loanCtl := controllers.NewLoanController(a.Loans)
	noteCtl := controllers.NewNotificationController(a.Notes)
	inviteCtl := controllers.GetInviteController(a.Users, a.Notes, a.Config.WebOrigin)
	auditCtl := controllers.NewAuditController(a.Users)

	// 复用的中间件
	authMW := app.AuthRequired(a.Auth)
	managerMW := app.RequireRole(models.RoleManager)
	seenMW := app.TouchLastSeen(a.Repo, a.RDB, 5*time.Minute)

	r.GET("/healthz", func(c *app.Ctx) { c.JSON(http.StatusOK, app.H{"ok": true}) })
	r.GET("/metrics", gin.WrapH(a.Metrics.Handler()))

	// ------------------------------
	// 登录 / 注册（公开）
	// ------------------------------
	auth := r.Group("/auth")
	{
		auth.POST("/login", s.Login)
		auth.POST("/register", s.Register)
	}
	authed := auth.Group("", authMW, seenMW)
	{
		authed.POST("/logout", s.Logout)
		authed.GET("/me", s.Me)
	}

	// WebAuthn 登录（公开）
	wa := r.Group("/webauthn")
	{
		wa.POST("/login/begin", s.BeginLogin)
		wa.POST("/login/finish", s.FinishLogin)
	}

	// 已登录用户添加新凭据
	creds := r.Group("/api/credentials", authMW, seenMW)
	{
		creds.POST("/add/begin", s.BeginAddCredential)
		creds.POST("/add/finish", s.FinishAddCredential)
	}

	// ------------------------------
	// 设备与分类
	// ------------------------------
	eq := r.Group("/equipment", authMW, seenMW)
	{
		eq.GET("", eqCtl.List)
		eq.GET("/:id", eqCtl.Get)
		eq.GET("/:id/image", eqCtl.Image)
	}
	eqAdmin := eq.Group("", managerMW)
	{
		eqAdmin.POST("", eqCtl.Create)
		eqAdmin.PUT("/:id", eqCtl.Update)
		eqAdmin.DELETE("/:id", eqCtl.Delete)
		eqAdmin.PUT("/:id/image", eqCtl.UploadImage)
	}
	cats := r.Group("/categories", authMW, seenMW)
	{
		cats.GET("", eqCtl.ListCategories)
		cats.POST("", managerMW, eqCtl.CreateCategory)
	}

	// ------------------------------
	// 借用申请与借出
	// ------------------------------
	reqs := r.Group("/requests", authMW, seenMW)
	{
		reqs.POST("", loanCtl.CreateRequest)
		reqs.GET("", loanCtl.ListRequests)
		reqs.GET("/:id", loanCtl.GetRequest)
		reqs.POST("/:id/cancel", loanCtl.Cancel)
		reqs.POST("/:id/approve", managerMW, loanCtl.Approve)
		reqs.POST("/:id/refuse", managerMW, loanCtl.Refuse)
	}
	loans := r.Group("/loans", authMW, seenMW)
	{
		loans.GET("", loanCtl.ListLoans)
		loans.GET("/:id", loanCtl.GetLoan)
		loans.POST("/:id/return", managerMW, loanCtl.Return)
		loans.POST("/:id/overdue", managerMW, loanCtl.MarkOverdue)
		loans.POST("/:id/lost", managerMW, loanCtl.MarkLost)
	}

	// ------------------------------
	// 通知（只看自己的）
	// ------------------------------
	notes := r.Group("/notifications", authMW, seenMW)
	{
		notes.GET("", noteCtl.List)
		notes.PUT("/read-all", noteCtl.MarkAllRead)
		notes.PUT("/:id/read", noteCtl.MarkRead)
	}

	// ------------------------------
	// 用户管理（仅 manager，/users/me 除外）
	// ------------------------------
	r.PUT("/users/me", authMW, seenMW, uc.UpdateMe)
	users := r.Group("/users", authMW, seenMW, managerMW)
	{
		users.GET("", uc.ListUsers)
		users.GET("/:id", uc.GetUser)
		users.PUT("/:id/status", uc.SetStatus)
		users.PUT("/:id/role", uc.SetRole)
		users.DELETE("/:id", uc.DeleteUser)
	}

	admin := r.Group("", authMW, seenMW, managerMW)
	{
		admin.POST("/admin/invites", inviteCtl.CreateInvite)
		admin.GET("/audit", auditCtl.List)
		admin.GET("/stats", eqCtl.Stats)
	}
}
