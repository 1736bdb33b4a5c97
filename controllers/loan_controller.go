package controllers

import (
	"net/http"

	"Gin_postgres_redis_loan_manager/app"
	"Gin_postgres_redis_loan_manager/db"
	"Gin_postgres_redis_loan_manager/services"

	"github.com/gin-gonic/gin"
)

const replayHeader = "Idempotent-Replayed"

type LoanController struct {
	loans *services.LoanService
}

func NewLoanController(loans *services.LoanService) *LoanController {
	return &LoanController{loans: loans}
}

// 可选 body：没有 body 也合法
func bindOptionalJSON(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return bindJSON(c, v)
}

// ----- 借用申请 -----

func (lc *LoanController) CreateRequest(c *gin.Context) {
	var in services.RequestInput
	if !bindJSON(c, &in) {
		return
	}
	req, err := lc.loans.CreateRequest(c.Request.Context(), in, who(c), c.ClientIP())
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

// GET /requests?status&urgence&item&requester&page&limit
func (lc *LoanController) ListRequests(c *gin.Context) {
	var f db.RequestFilter
	if !bindQuery(c, &f) {
		return
	}
	page, err := lc.loans.ListRequests(c.Request.Context(), f, who(c))
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (lc *LoanController) GetRequest(c *gin.Context) {
	req, err := lc.loans.GetRequest(c.Request.Context(), c.Param("id"), who(c))
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// POST /requests/:id/approve，支持 Idempotency-Key
func (lc *LoanController) Approve(c *gin.Context) {
	var in struct {
		Note string `json:"commentaire_responsable"`
	}
	if !bindOptionalJSON(c, &in) {
		return
	}
	loan, replayed, err := lc.loans.ApproveOnce(c.Request.Context(), c.GetHeader("Idempotency-Key"), c.Param("id"), in.Note, actor(c))
	if err != nil {
		app.RespondError(c, err)
		return
	}
	if replayed {
		c.Header(replayHeader, "true")
	}
	c.JSON(http.StatusCreated, loan)
}

func (lc *LoanController) Refuse(c *gin.Context) {
	var in struct {
		Reason string `json:"motif"`
	}
	if !bindOptionalJSON(c, &in) {
		return
	}
	req, err := lc.loans.Refuse(c.Request.Context(), c.Param("id"), in.Reason, actor(c))
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (lc *LoanController) Cancel(c *gin.Context) {
	req, err := lc.loans.Cancel(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// ----- 借出记录 -----

func (lc *LoanController) ListLoans(c *gin.Context) {
	var f db.LoanFilter
	if !bindQuery(c, &f) {
		return
	}
	page, err := lc.loans.ListLoans(c.Request.Context(), f, who(c))
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (lc *LoanController) GetLoan(c *gin.Context) {
	l, err := lc.loans.GetLoan(c.Request.Context(), c.Param("id"), who(c))
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

// 归还；重复归还返回已存的记录
func (lc *LoanController) Return(c *gin.Context) {
	var in services.ReturnInput
	if !bindJSON(c, &in) {
		return
	}
	l, replayed, err := lc.loans.Return(c.Request.Context(), c.Param("id"), in, actor(c))
	if err != nil {
		app.RespondError(c, err)
		return
	}
	if replayed {
		c.Header(replayHeader, "true")
	}
	c.JSON(http.StatusOK, l)
}

func (lc *LoanController) MarkOverdue(c *gin.Context) {
	l, err := lc.loans.MarkOverdue(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (lc *LoanController) MarkLost(c *gin.Context) {
	l, err := lc.loans.MarkLost(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}
