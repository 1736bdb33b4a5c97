package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"Gin_postgres_redis_loan_manager/apperr"
	"Gin_postgres_redis_loan_manager/db"
	"Gin_postgres_redis_loan_manager/metrics"
	"Gin_postgres_redis_loan_manager/models"
	"Gin_postgres_redis_loan_manager/session"
)

// LoanService drives requests and loans through their state machine. Every
// transition that touches stock is one store transaction; notifications go
// out after commit.
type LoanService struct {
	Repo          *db.Repo
	Notify        *NotificationService
	Metrics       *metrics.Metrics
	Idem          *session.IdempotencyCache
	MaxPerRequest int
	DailyLateFee  int64
	MaxLimit      int
	Now           func() time.Time
}

func NewLoanService(repo *db.Repo, notify *NotificationService, m *metrics.Metrics, idem *session.IdempotencyCache, maxPerRequest int, dailyLateFee int64, maxLimit int) *LoanService {
	return &LoanService{
		Repo: repo, Notify: notify, Metrics: m, Idem: idem,
		MaxPerRequest: maxPerRequest, DailyLateFee: dailyLateFee, MaxLimit: maxLimit,
		Now: time.Now,
	}
}

func (s *LoanService) observe(t models.Transition, err error) {
	outcome := "ok"
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindConflict:
			outcome = "conflict"
		case apperr.KindInternal, apperr.KindTransient, apperr.KindInvariant:
			outcome = "error"
			log.Printf("transition %s failed: %v", t, err)
		default:
			outcome = "rejected"
		}
	}
	s.Metrics.Transition(string(t), outcome)
	if s.Metrics != nil && errors.Is(err, apperr.ErrInsufficientStock) {
		s.Metrics.StockConflicts.Inc()
	}
}

type RequestInput struct {
	ItemID        string         `json:"materiel_id" validate:"required,max=36"`
	Quantity      int            `json:"quantite_demandee" validate:"required,min=1"`
	StartDate     time.Time      `json:"date_debut" validate:"required"`
	EndDate       time.Time      `json:"date_fin" validate:"required"`
	Justification string         `json:"motif" validate:"required,min=10,max=500"`
	Project       string         `json:"projet" validate:"required,min=3,max=200"`
	Urgency       models.Urgency `json:"urgence" validate:"omitempty,oneof=low normal high urgent"`
}

func (s *LoanService) validateRequest(in RequestInput) error {
	var fields []apperr.FieldError
	if err := check(in); err != nil {
		e, ok := apperr.As(err)
		if !ok {
			return err
		}
		fields = append(fields, e.Fields...)
	}
	if s.MaxPerRequest > 0 && in.Quantity > s.MaxPerRequest {
		fields = append(fields, apperr.FieldError{Field: "quantite_demandee", Message: "quantity exceeds the per-request limit"})
	}
	if !in.StartDate.IsZero() && in.StartDate.Before(s.Now()) {
		fields = append(fields, apperr.FieldError{Field: "date_debut", Message: "start date cannot be in the past"})
	}
	if !in.StartDate.IsZero() && !in.EndDate.IsZero() && !in.EndDate.After(in.StartDate) {
		fields = append(fields, apperr.FieldError{Field: "date_fin", Message: "end date must be after start date"})
	}
	if len(fields) > 0 {
		return apperr.Validation(fields...)
	}
	return nil
}

// CreateRequest files a pending request for the caller.
func (s *LoanService) CreateRequest(ctx context.Context, in RequestInput, who *Identity, origin string) (*models.LoanRequest, error) {
	in.Justification = strings.TrimSpace(in.Justification)
	in.Project = strings.TrimSpace(in.Project)
	if err := s.validateRequest(in); err != nil {
		return nil, err
	}
	req := &models.LoanRequest{
		RequesterID:   who.User.ID,
		ItemID:        in.ItemID,
		Quantity:      in.Quantity,
		StartDate:     in.StartDate.UTC(),
		EndDate:       in.EndDate.UTC(),
		Justification: in.Justification,
		Project:       in.Project,
		Urgency:       in.Urgency,
	}
	if err := s.Repo.CreateRequest(ctx, req, who.Actor(origin)); err != nil {
		return nil, err
	}
	if s.Notify != nil {
		s.Notify.RequestCreated(ctx, req, who.User)
	}
	return req, nil
}

// Approve reserves the units and opens the loan. On InsufficientStock the
// request is left pending.
func (s *LoanService) Approve(ctx context.Context, requestID, note string, actor db.Actor) (*models.Loan, error) {
	if len(note) > 500 {
		return nil, apperr.Field("commentaire_responsable", "must be at most 500 characters")
	}
	loan, req, err := s.Repo.ApproveRequest(ctx, requestID, strings.TrimSpace(note), actor)
	s.observe(models.TransitionApprove, err)
	if err != nil {
		return nil, err
	}
	if s.Notify != nil {
		s.Notify.RequestApproved(ctx, req, loan)
	}
	return loan, nil
}

// ApproveOnce is Approve behind an Idempotency-Key: a retried call with the
// same key gets the first loan back instead of reserving twice.
func (s *LoanService) ApproveOnce(ctx context.Context, key, requestID, note string, actor db.Actor) (loan *models.Loan, replayed bool, err error) {
	if key == "" || s.Idem == nil {
		loan, err = s.Approve(ctx, requestID, note, actor)
		return loan, false, err
	}
	scope := actor.ID + ":approve:" + requestID
	replay, claimed, err := s.Idem.Begin(ctx, scope, key)
	if err != nil {
		return nil, false, err
	}
	if !claimed {
		var l models.Loan
		if err := json.Unmarshal(replay.Body, &l); err != nil {
			return nil, false, err
		}
		return &l, true, nil
	}
	loan, err = s.Approve(ctx, requestID, note, actor)
	if err != nil {
		if aerr := s.Idem.Abort(ctx, scope, key); aerr != nil {
			log.Printf("idempotency abort %s: %v", key, aerr)
		}
		return nil, false, err
	}
	if ferr := s.Idem.Finish(ctx, scope, key, http.StatusCreated, loan); ferr != nil {
		log.Printf("idempotency finish %s: %v", key, ferr)
	}
	return loan, false, nil
}

// Refuse closes a pending request; the requester is told why, so a reason is required.
func (s *LoanService) Refuse(ctx context.Context, requestID, reason string, actor db.Actor) (*models.LoanRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Field("motif", "is required")
	}
	if len(reason) > 500 {
		return nil, apperr.Field("motif", "must be at most 500 characters")
	}
	req, err := s.Repo.RefuseRequest(ctx, requestID, reason, actor)
	s.observe(models.TransitionRefuse, err)
	if err != nil {
		return nil, err
	}
	if s.Notify != nil {
		s.Notify.RequestRefused(ctx, req)
	}
	return req, nil
}

// Cancel withdraws a pending request; only its requester may do it.
func (s *LoanService) Cancel(ctx context.Context, requestID string, actor db.Actor) (*models.LoanRequest, error) {
	req, err := s.Repo.CancelRequest(ctx, requestID, actor)
	s.observe(models.TransitionCancel, err)
	return req, err
}

type ReturnInput struct {
	Condition models.ReturnCondition `json:"etat_retour" validate:"required,oneof=excellent good fair poor damaged"`
	Comment   string                 `json:"commentaire_retour" validate:"max=500"`
	DamageFee int64                  `json:"frais_degats" validate:"gte=0"`
}

// Return closes an open loan with the late fee computed at return time.
// Returning twice is harmless: the stored loan comes back with replayed set.
func (s *LoanService) Return(ctx context.Context, loanID string, in ReturnInput, actor db.Actor) (*models.Loan, bool, error) {
	in.Comment = strings.TrimSpace(in.Comment)
	if err := check(in); err != nil {
		return nil, false, err
	}
	loan, replayed, err := s.Repo.ReturnLoan(ctx, loanID, db.ReturnInput{
		Condition:    in.Condition,
		Comment:      in.Comment,
		DamageFee:    in.DamageFee,
		DailyLateFee: s.DailyLateFee,
	}, actor)
	s.observe(models.TransitionReturn, err)
	if err != nil {
		return nil, false, err
	}
	if !replayed && s.Notify != nil {
		s.Notify.LoanReturned(ctx, loan)
	}
	return loan, replayed, nil
}

func (s *LoanService) MarkOverdue(ctx context.Context, loanID string, actor db.Actor) (*models.Loan, error) {
	loan, err := s.Repo.MarkOverdue(ctx, loanID, actor)
	s.observe(models.TransitionOverdue, err)
	if err != nil {
		return nil, err
	}
	if s.Notify != nil {
		s.Notify.LoanOverdue(ctx, loan)
	}
	return loan, nil
}

func (s *LoanService) MarkLost(ctx context.Context, loanID string, actor db.Actor) (*models.Loan, error) {
	loan, err := s.Repo.MarkLost(ctx, loanID, actor)
	s.observe(models.TransitionLost, err)
	if err != nil {
		return nil, err
	}
	if s.Notify != nil {
		s.Notify.LoanLost(ctx, loan)
	}
	return loan, nil
}

// GetRequest hides other people's requests from non-managers.
func (s *LoanService) GetRequest(ctx context.Context, id string, who *Identity) (*models.LoanRequest, error) {
	req, err := s.Repo.FindRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !who.IsManager() && req.RequesterID != who.User.ID {
		return nil, apperr.ErrRequestNotFound
	}
	return req, nil
}

func (s *LoanService) GetLoan(ctx context.Context, id string, who *Identity) (*models.Loan, error) {
	l, err := s.Repo.FindLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	if !who.IsManager() && l.BorrowerID != who.User.ID {
		return nil, apperr.ErrLoanNotFound
	}
	return l, nil
}

// ListRequests shows managers everything and everyone else their own requests.
func (s *LoanService) ListRequests(ctx context.Context, f db.RequestFilter, who *Identity) (db.Page[models.LoanRequest], error) {
	p, err := db.NormalizeList(f.ListParams, s.MaxLimit)
	if err != nil {
		return db.Page[models.LoanRequest]{}, err
	}
	f.ListParams = p
	if !who.IsManager() {
		f.RequesterID = who.User.ID
	}
	return s.Repo.ListRequests(ctx, f)
}

func (s *LoanService) ListLoans(ctx context.Context, f db.LoanFilter, who *Identity) (db.Page[models.Loan], error) {
	p, err := db.NormalizeList(f.ListParams, s.MaxLimit)
	if err != nil {
		return db.Page[models.Loan]{}, err
	}
	f.ListParams = p
	if !who.IsManager() {
		f.BorrowerID = who.User.ID
	}
	return s.Repo.ListLoans(ctx, f)
}
