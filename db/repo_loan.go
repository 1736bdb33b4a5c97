package db

import (
	"context"
	"time"

	"Gin_postgres_redis_loan_manager/apperr"
	"Gin_postgres_redis_loan_manager/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 锁顺序固定：先锁请求/借用行，再锁物品行

func lockRequest(tx *gorm.DB, id string) (*models.LoanRequest, error) {
	var req models.LoanRequest
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&req, "id = ?", id).Error; err != nil {
		return nil, classify(err, apperr.ErrRequestNotFound)
	}
	return &req, nil
}

func lockLoan(tx *gorm.DB, id string) (*models.Loan, error) {
	var l models.Loan
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&l, "id = ?", id).Error; err != nil {
		return nil, classify(err, apperr.ErrLoanNotFound)
	}
	return &l, nil
}

// CreateRequest stores a pending request. Field validation happens in the service;
// here the item must exist and be borrowable.
func (r *Repo) CreateRequest(ctx context.Context, req *models.LoanRequest, actor Actor) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Status = models.RequestPending
	if req.Urgency == "" {
		req.Urgency = models.UrgencyNormal
	}

	d, cancel := r.conn(ctx)
	defer cancel()
	err := d.Transaction(func(tx *gorm.DB) error {
		var it models.EquipmentItem
		if err := tx.First(&it, "id = ?", req.ItemID).Error; err != nil {
			return classify(err, apperr.ErrItemNotFound)
		}
		if !it.Borrowable() {
			return apperr.ErrItemOutOfService
		}
		if err := tx.Omit(clause.Associations).Create(req).Error; err != nil {
			return err
		}
		return appendAudit(tx, actor, models.AuditCreate, models.RequestTable, req.ID, nil, req)
	})
	return classify(err, apperr.ErrRequestNotFound)
}

// ApproveRequest turns a pending request into an active loan and takes the units
// out of the pool, all in one transaction. On InsufficientStock nothing changes
// and the request stays pending.
func (r *Repo) ApproveRequest(ctx context.Context, requestID, note string, actor Actor) (*models.Loan, *models.LoanRequest, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var (
		loan *models.Loan
		out  *models.LoanRequest
	)
	err := d.Transaction(func(tx *gorm.DB) error {
		req, err := lockRequest(tx, requestID)
		if err != nil {
			return err
		}
		if !models.RequestCan(req.Status, models.TransitionApprove) {
			return apperr.ErrInvalidTransition
		}
		if err := reserve(tx, req.ItemID, req.Quantity); err != nil {
			return err
		}

		now := r.now()
		before := *req
		req.Status = models.RequestApproved
		req.ManagerNote = note
		req.DecidedBy = &actor.ID
		req.DecidedAt = &now
		if err := tx.Model(&models.LoanRequest{}).Where("id = ?", req.ID).Updates(map[string]any{
			"status":       req.Status,
			"manager_note": note,
			"decided_by":   actor.ID,
			"decided_at":   now,
			"updated_at":   now,
		}).Error; err != nil {
			return err
		}

		l := &models.Loan{
			ID:         uuid.NewString(),
			RequestID:  req.ID,
			BorrowerID: req.RequesterID,
			ItemID:     req.ItemID,
			Quantity:   req.Quantity,
			LoanDate:   now,
			DueDate:    req.EndDate,
			Status:     models.LoanActive,
			ApprovedBy: actor.ID,
		}
		if err := tx.Omit(clause.Associations).Create(l).Error; err != nil {
			return err
		}
		if err := appendAudit(tx, actor, models.AuditApprove, models.RequestTable, req.ID, before, req); err != nil {
			return err
		}
		if err := appendAudit(tx, actor, models.AuditCreate, models.LoanTable, l.ID, nil, l); err != nil {
			return err
		}
		loan, out = l, req
		return nil
	})
	if err != nil {
		return nil, nil, classify(err, apperr.ErrRequestNotFound)
	}
	return loan, out, nil
}

// RefuseRequest closes a pending request without touching inventory.
func (r *Repo) RefuseRequest(ctx context.Context, requestID, reason string, actor Actor) (*models.LoanRequest, error) {
	return r.decideRequest(ctx, requestID, models.TransitionRefuse, models.RequestRefused, reason, actor)
}

// CancelRequest lets the requester withdraw a pending request.
func (r *Repo) CancelRequest(ctx context.Context, requestID string, actor Actor) (*models.LoanRequest, error) {
	return r.decideRequest(ctx, requestID, models.TransitionCancel, models.RequestCancelled, "", actor)
}

func (r *Repo) decideRequest(ctx context.Context, requestID string, t models.Transition, to models.RequestStatus, note string, actor Actor) (*models.LoanRequest, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var out *models.LoanRequest
	err := d.Transaction(func(tx *gorm.DB) error {
		req, err := lockRequest(tx, requestID)
		if err != nil {
			return err
		}
		if t == models.TransitionCancel && req.RequesterID != actor.ID {
			return apperr.ErrNotOwner
		}
		if !models.RequestCan(req.Status, t) {
			return apperr.ErrInvalidTransition
		}
		now := r.now()
		before := *req
		updates := map[string]any{"status": to, "updated_at": now}
		req.Status = to
		if t == models.TransitionRefuse {
			req.ManagerNote = note
			req.DecidedBy = &actor.ID
			req.DecidedAt = &now
			updates["manager_note"] = note
			updates["decided_by"] = actor.ID
			updates["decided_at"] = now
		}
		if err := tx.Model(&models.LoanRequest{}).Where("id = ?", req.ID).Updates(updates).Error; err != nil {
			return err
		}
		action := models.AuditRefuse
		if t == models.TransitionCancel {
			action = models.AuditCancel
		}
		if err := appendAudit(tx, actor, action, models.RequestTable, req.ID, before, req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, classify(err, apperr.ErrRequestNotFound)
	}
	return out, nil
}

// ReturnInput describes a check-in.
type ReturnInput struct {
	Condition    models.ReturnCondition
	Comment      string
	DamageFee    int64
	DailyLateFee int64
}

// ReturnLoan closes an open loan, computes the late fee and puts the units back
// in the same transaction. Returning an already returned loan is a no-op and
// replayed is true; the units are never credited twice.
func (r *Repo) ReturnLoan(ctx context.Context, loanID string, in ReturnInput, actor Actor) (loan *models.Loan, replayed bool, err error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	err = d.Transaction(func(tx *gorm.DB) error {
		l, err := lockLoan(tx, loanID)
		if err != nil {
			return err
		}
		// 幂等：已归还直接返回
		if l.Status == models.LoanReturned || l.Status == models.LoanDamaged {
			loan, replayed = l, true
			return nil
		}
		if !models.LoanCan(l.Status, models.TransitionReturn) {
			return apperr.ErrInvalidTransition
		}

		now := r.now()
		before := *l
		cond := in.Condition
		l.ReturnedAt = &now
		l.ReturnedBy = &actor.ID
		l.ReturnCondition = &cond
		l.ReturnComment = in.Comment
		l.DamageFee = in.DamageFee
		l.LateFee = models.LateFee(l.DueDate, now, in.DailyLateFee)
		l.Status = models.LoanReturned
		if cond == models.ReturnDamaged {
			l.Status = models.LoanDamaged
		}
		if err := tx.Model(&models.Loan{}).Where("id = ?", l.ID).Updates(map[string]any{
			"status":           l.Status,
			"returned_at":      now,
			"returned_by":      actor.ID,
			"return_condition": cond,
			"return_comment":   in.Comment,
			"damage_fee":       in.DamageFee,
			"late_fee":         l.LateFee,
			"updated_at":       now,
		}).Error; err != nil {
			return err
		}
		if err := release(tx, l.ItemID, l.Quantity); err != nil {
			return err
		}
		if err := appendAudit(tx, actor, models.AuditReturn, models.LoanTable, l.ID, before, l); err != nil {
			return err
		}
		loan = l
		return nil
	})
	if err != nil {
		return nil, false, classify(err, apperr.ErrLoanNotFound)
	}
	return loan, replayed, nil
}

// MarkOverdue flags an active loan; the units stay checked out.
func (r *Repo) MarkOverdue(ctx context.Context, loanID string, actor Actor) (*models.Loan, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var out *models.Loan
	err := d.Transaction(func(tx *gorm.DB) error {
		l, err := lockLoan(tx, loanID)
		if err != nil {
			return err
		}
		if !models.LoanCan(l.Status, models.TransitionOverdue) {
			return apperr.ErrInvalidTransition
		}
		before := *l
		l.Status = models.LoanOverdue
		if err := tx.Model(&models.Loan{}).Where("id = ?", l.ID).
			Updates(map[string]any{"status": l.Status, "updated_at": r.now()}).Error; err != nil {
			return err
		}
		if err := appendAudit(tx, actor, models.AuditOverdue, models.LoanTable, l.ID, before, l); err != nil {
			return err
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, classify(err, apperr.ErrLoanNotFound)
	}
	return out, nil
}

// MarkLost closes an open loan whose units are gone: they leave the total and
// are never released back to the pool.
func (r *Repo) MarkLost(ctx context.Context, loanID string, actor Actor) (*models.Loan, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var out *models.Loan
	err := d.Transaction(func(tx *gorm.DB) error {
		l, err := lockLoan(tx, loanID)
		if err != nil {
			return err
		}
		if !models.LoanCan(l.Status, models.TransitionLost) {
			return apperr.ErrInvalidTransition
		}
		if err := writeOff(tx, l.ItemID, l.Quantity); err != nil {
			return err
		}
		now := r.now()
		before := *l
		l.Status = models.LoanLost
		l.ReturnedBy = &actor.ID
		if err := tx.Model(&models.Loan{}).Where("id = ?", l.ID).Updates(map[string]any{
			"status":      l.Status,
			"returned_by": actor.ID,
			"updated_at":  now,
		}).Error; err != nil {
			return err
		}
		if err := appendAudit(tx, actor, models.AuditLost, models.LoanTable, l.ID, before, l); err != nil {
			return err
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, classify(err, apperr.ErrLoanNotFound)
	}
	return out, nil
}

// DueLoans lists active loans whose due date is before now.
func (r *Repo) DueLoans(ctx context.Context, now time.Time, limit int) ([]models.Loan, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var ls []models.Loan
	err := d.Where("status = ? AND due_date < ?", models.LoanActive, now.UTC()).
		Order("due_date ASC").Limit(limit).Find(&ls).Error
	return ls, classify(err, nil)
}

func (r *Repo) FindRequest(ctx context.Context, id string) (*models.LoanRequest, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var req models.LoanRequest
	if err := d.Preload("Item").Preload("Requester").First(&req, "id = ?", id).Error; err != nil {
		return nil, classify(err, apperr.ErrRequestNotFound)
	}
	return &req, nil
}

func (r *Repo) FindLoan(ctx context.Context, id string) (*models.Loan, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var l models.Loan
	if err := d.Preload("Item").Preload("Borrower").First(&l, "id = ?", id).Error; err != nil {
		return nil, classify(err, apperr.ErrLoanNotFound)
	}
	return &l, nil
}

type RequestFilter struct {
	ListParams
	RequesterID string               `form:"requester"`
	ItemID      string               `form:"item"`
	Status      models.RequestStatus `form:"status"`
	Urgency     models.Urgency       `form:"urgence"`
}

var requestSorts = map[string]string{
	"created_at": "created_at",
	"createdAt":  "created_at",
	"date_debut": "start_date",
	"start_date": "start_date",
	"date_fin":   "end_date",
	"end_date":   "end_date",
	"urgence":    "urgency",
	"urgency":    "urgency",
}

func (r *Repo) ListRequests(ctx context.Context, f RequestFilter) (Page[models.LoanRequest], error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	q := d.Model(&models.LoanRequest{})
	q = searchLike(q, f.Q, "justification", "project")
	if f.RequesterID != "" {
		q = q.Where("requester_id = ?", f.RequesterID)
	}
	if f.ItemID != "" {
		q = q.Where("item_id = ?", f.ItemID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Urgency != "" {
		q = q.Where("urgency = ?", f.Urgency)
	}
	return paginate[models.LoanRequest](q, f.ListParams, requestSorts, "created_at", "Item", "Requester")
}

type LoanFilter struct {
	ListParams
	BorrowerID string            `form:"borrower"`
	ItemID     string            `form:"item"`
	Status     models.LoanStatus `form:"status"`
}

var loanSorts = map[string]string{
	"created_at":         "created_at",
	"createdAt":          "created_at",
	"date_emprunt":       "loan_date",
	"loan_date":          "loan_date",
	"date_retour_prevue": "due_date",
	"due_date":           "due_date",
}

func (r *Repo) ListLoans(ctx context.Context, f LoanFilter) (Page[models.Loan], error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	q := d.Model(&models.Loan{})
	q = searchLike(q, f.Q, "return_comment")
	if f.BorrowerID != "" {
		q = q.Where("borrower_id = ?", f.BorrowerID)
	}
	if f.ItemID != "" {
		q = q.Where("item_id = ?", f.ItemID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	return paginate[models.Loan](q, f.ListParams, loanSorts, "loan_date", "Item", "Borrower")
}
