package app

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"Gin_postgres_redis_loan_manager/apperr"
	"Gin_postgres_redis_loan_manager/services"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// BindError turns a gin binding failure into a field-level validation error.
func BindError(err error) error {
	var (
		ve  validator.ValidationErrors
		ute *json.UnmarshalTypeError
		se  *json.SyntaxError
		ne  *strconv.NumError
	)
	switch {
	case errors.As(err, &ve):
		return apperr.Validation(services.FieldErrors(ve)...)
	case errors.As(err, &ute):
		return apperr.Field(ute.Field, "must be of type "+ute.Type.String())
	case errors.As(err, &se), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return apperr.Field("body", "malformed JSON")
	case errors.As(err, &ne):
		return apperr.Field("query", "invalid number "+strconv.Quote(ne.Num))
	default:
		return apperr.Field("body", err.Error())
	}
}

// RespondError is the single place errors become HTTP responses. Every body
// carries success=false, like a failed login. Internal details are logged, never sent.
func RespondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	ae, ok := apperr.As(err)
	if !ok || status == http.StatusInternalServerError {
		log.Printf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, H{"success": false, "error": "internal server error"})
		return
	}

	switch status {
	case http.StatusBadRequest:
		fields := ae.Fields
		if len(fields) == 0 {
			fields = []apperr.FieldError{{Field: ae.Code, Message: ae.Message}}
		}
		c.AbortWithStatusJSON(status, H{"success": false, "error": ae.Message, "code": ae.Code, "errors": fields})
		return
	case http.StatusServiceUnavailable:
		log.Printf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.Header("Retry-After", "1")
	case http.StatusTooManyRequests:
		c.Header("Retry-After", "900")
	}
	c.AbortWithStatusJSON(status, H{"success": false, "error": ae.Message, "code": ae.Code})
}
