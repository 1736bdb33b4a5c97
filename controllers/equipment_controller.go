package controllers

import (
	"io"
	"net/http"

	"Gin_postgres_redis_loan_manager/app"
	"Gin_postgres_redis_loan_manager/apperr"
	"Gin_postgres_redis_loan_manager/db"
	"Gin_postgres_redis_loan_manager/services"

	"github.com/gin-gonic/gin"
)

const maxPhotoBytes = 5 << 20

type EquipmentController struct {
	svc *services.InventoryService
}

func NewEquipmentController(svc *services.InventoryService) *EquipmentController {
	return &EquipmentController{svc: svc}
}

// GET /equipment?q&category&etat&available&page&limit&sort&order
func (ec *EquipmentController) List(c *gin.Context) {
	var f db.EquipmentFilter
	if !bindQuery(c, &f) {
		return
	}
	page, err := ec.svc.ListItems(c.Request.Context(), f)
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (ec *EquipmentController) Get(c *gin.Context) {
	it, err := ec.svc.GetItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

// POST /equipment（仅 manager）
func (ec *EquipmentController) Create(c *gin.Context) {
	var in services.ItemInput
	if !bindJSON(c, &in) {
		return
	}
	it, err := ec.svc.CreateItem(c.Request.Context(), in, actor(c))
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, it)
}

func (ec *EquipmentController) Update(c *gin.Context) {
	var in services.ItemUpdate
	if !bindJSON(c, &in) {
		return
	}
	it, err := ec.svc.UpdateItem(c.Request.Context(), c.Param("id"), in, actor(c))
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

func (ec *EquipmentController) Delete(c *gin.Context) {
	if err := ec.svc.DeleteItem(c.Request.Context(), c.Param("id"), actor(c)); err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// PUT /equipment/:id/image  multipart 字段 file
func (ec *EquipmentController) UploadImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxPhotoBytes+1<<10)
	fh, err := c.FormFile("file")
	if err != nil {
		app.RespondError(c, apperr.Field("file", "a file part is required"))
		return
	}
	if fh.Size > maxPhotoBytes {
		app.RespondError(c, apperr.Field("file", "must be at most 5 MB"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		app.RespondError(c, err)
		return
	}
	defer f.Close()

	it, err := ec.svc.SetPhoto(c.Request.Context(), c.Param("id"), f, fh.Header.Get("Content-Type"))
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

func (ec *EquipmentController) Image(c *gin.Context) {
	rc, ct, err := ec.svc.Photo(c.Request.Context(), c.Param("id"))
	if err != nil {
		app.RespondError(c, err)
		return
	}
	defer rc.Close()
	c.Header("Cache-Control", "private, max-age=300")
	c.Header("Content-Type", ct)
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, rc)
}

func (ec *EquipmentController) ListCategories(c *gin.Context) {
	cs, err := ec.svc.ListCategories(c.Request.Context())
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"data": cs})
}

func (ec *EquipmentController) CreateCategory(c *gin.Context) {
	var in services.CategoryInput
	if !bindJSON(c, &in) {
		return
	}
	cat, err := ec.svc.CreateCategory(c.Request.Context(), in, actor(c))
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cat)
}

// GET /stats（仅 manager）
func (ec *EquipmentController) Stats(c *gin.Context) {
	st, err := ec.svc.Stats(c.Request.Context())
	if err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
