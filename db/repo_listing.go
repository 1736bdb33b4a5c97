package db

import (
	"strings"

	"Gin_postgres_redis_loan_manager/apperr"

	"gorm.io/gorm"
)

const DefaultLimit = 20

// ListParams is the common pagination/sort/search input of every list endpoint.
type ListParams struct {
	Page  int    `form:"page"`
	Limit int    `form:"limit"`
	Sort  string `form:"sort"`
	Order string `form:"order"`
	Q     string `form:"q"`
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

type Page[T any] struct {
	Data       []T        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// NormalizeList fills defaults and rejects out-of-range values.
// Unknown sort fields are not an error: they fall back to the default sort of the listing.
func NormalizeList(p ListParams, maxLimit int) (ListParams, error) {
	var fields []apperr.FieldError
	if p.Page == 0 {
		p.Page = 1
	}
	if p.Limit == 0 {
		p.Limit = DefaultLimit
		if maxLimit > 0 && p.Limit > maxLimit {
			p.Limit = maxLimit
		}
	}
	if p.Page < 1 {
		fields = append(fields, apperr.FieldError{Field: "page", Message: "page must be >= 1"})
	}
	if p.Limit < 1 || (maxLimit > 0 && p.Limit > maxLimit) {
		fields = append(fields, apperr.FieldError{Field: "limit", Message: "limit out of range"})
	}
	switch strings.ToLower(p.Order) {
	case "":
		p.Order = "desc"
	case "asc", "desc":
		p.Order = strings.ToLower(p.Order)
	default:
		fields = append(fields, apperr.FieldError{Field: "order", Message: "order must be asc or desc"})
	}
	p.Q = strings.TrimSpace(p.Q)
	if len(fields) > 0 {
		return p, apperr.Validation(fields...)
	}
	return p, nil
}

// orderBy resolves the requested sort through the allow-list; id breaks ties so pages are stable.
func orderBy(p ListParams, allowed map[string]string, def string) string {
	col, ok := allowed[p.Sort]
	if !ok {
		col = def
	}
	dir := "DESC"
	if p.Order == "asc" {
		dir = "ASC"
	}
	return col + " " + dir + ", id " + dir
}

// searchLike ANDs a case-insensitive match over a fixed set of columns.
func searchLike(q *gorm.DB, term string, columns ...string) *gorm.DB {
	if term == "" || len(columns) == 0 {
		return q
	}
	like := "%" + escapeLike(strings.ToLower(term)) + "%"
	parts := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, c := range columns {
		parts[i] = "LOWER(" + c + ") LIKE ? ESCAPE '!'"
		args[i] = like
	}
	return q.Where("("+strings.Join(parts, " OR ")+")", args...)
}

// escapeLike makes % and _ literal. '!' is the escape character because a
// backslash literal is read differently by postgres and mysql.
func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}

func paginate[T any](q *gorm.DB, p ListParams, allowed map[string]string, def string, preload ...string) (Page[T], error) {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return Page[T]{}, classify(err, nil)
	}

	rows := make([]T, 0, p.Limit)
	find := q.Order(orderBy(p, allowed, def)).Offset((p.Page - 1) * p.Limit).Limit(p.Limit)
	for _, rel := range preload {
		find = find.Preload(rel)
	}
	if err := find.Find(&rows).Error; err != nil {
		return Page[T]{}, classify(err, nil)
	}

	pages := int((total + int64(p.Limit) - 1) / int64(p.Limit))
	return Page[T]{
		Data:       rows,
		Pagination: Pagination{Page: p.Page, Limit: p.Limit, Total: total, Pages: pages},
	}, nil
}
