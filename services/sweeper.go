package services

import (
	"context"
	"errors"
	"log"
	"time"

	"Gin_postgres_redis_loan_manager/apperr"
	"Gin_postgres_redis_loan_manager/db"
	"Gin_postgres_redis_loan_manager/metrics"
)

const sweepBatch = 200

// sweeperActor shows up in the audit trail for automatic transitions.
var sweeperActor = db.Actor{Origin: "sweeper"}

// Sweeper flags loans past their due date as overdue and purges old notifications.
type Sweeper struct {
	Loans   *LoanService
	Notes   *NotificationService
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func NewSweeper(loans *LoanService, notes *NotificationService, m *metrics.Metrics) *Sweeper {
	return &Sweeper{Loans: loans, Notes: notes, Metrics: m, Now: time.Now}
}

type SweepResult struct {
	Overdue int
	Purged  int64
}

// RunOnce does one pass. A loan returned between the scan and its transition
// is skipped, not reported.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	for {
		due, err := s.Loans.Repo.DueLoans(ctx, s.Now(), sweepBatch)
		if err != nil {
			return res, err
		}
		marked := 0
		for _, l := range due {
			if _, err := s.Loans.MarkOverdue(ctx, l.ID, sweeperActor); err != nil {
				if errors.Is(err, apperr.ErrInvalidTransition) {
					continue
				}
				return res, err
			}
			marked++
		}
		res.Overdue += marked
		if len(due) < sweepBatch || marked == 0 {
			break
		}
	}
	if s.Metrics != nil {
		s.Metrics.OverdueMarked.Add(float64(res.Overdue))
	}

	n, err := s.Notes.Purge(ctx)
	if err != nil {
		return res, err
	}
	res.Purged = n
	if s.Metrics != nil {
		s.Metrics.NotificationsGC.Add(float64(n))
	}
	return res, nil
}

// Run sweeps every interval until ctx is done. A failed pass is logged and retried next tick.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			res, err := s.RunOnce(ctx)
			if err != nil {
				log.Printf("sweeper: %v", err)
				continue
			}
			if res.Overdue > 0 || res.Purged > 0 {
				log.Printf("sweeper: %d loan(s) overdue, %d notification(s) purged", res.Overdue, res.Purged)
			}
		}
	}
}
