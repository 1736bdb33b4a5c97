package db

import (
	"context"

	"Gin_postgres_redis_loan_manager/models"
)

type Stats struct {
	Items           int64 `json:"materiels"`
	UnitsTotal      int64 `json:"unites_totales"`
	UnitsAvailable  int64 `json:"unites_disponibles"`
	UnitsCheckedOut int64 `json:"unites_empruntees"`
	ActiveLoans     int64 `json:"emprunts_actifs"`
	OverdueLoans    int64 `json:"emprunts_en_retard"`
	PendingRequests int64 `json:"demandes_en_attente"`
	Users           int64 `json:"utilisateurs"`
}

func (r *Repo) Stats(ctx context.Context) (Stats, error) {
	d, cancel := r.conn(ctx)
	defer cancel()
	var s Stats
	var units struct {
		Total     int64
		Available int64
	}
	if err := d.Model(&models.EquipmentItem{}).
		Select("COALESCE(SUM(total_quantity), 0) AS total, COALESCE(SUM(available_quantity), 0) AS available").
		Scan(&units).Error; err != nil {
		return s, classify(err, nil)
	}
	if err := d.Model(&models.EquipmentItem{}).Count(&s.Items).Error; err != nil {
		return s, classify(err, nil)
	}
	s.UnitsTotal, s.UnitsAvailable = units.Total, units.Available
	s.UnitsCheckedOut = units.Total - units.Available

	if err := d.Model(&models.Loan{}).Where("status = ?", models.LoanActive).Count(&s.ActiveLoans).Error; err != nil {
		return s, classify(err, nil)
	}
	if err := d.Model(&models.Loan{}).Where("status = ?", models.LoanOverdue).Count(&s.OverdueLoans).Error; err != nil {
		return s, classify(err, nil)
	}
	if err := d.Model(&models.LoanRequest{}).Where("status = ?", models.RequestPending).Count(&s.PendingRequests).Error; err != nil {
		return s, classify(err, nil)
	}
	if err := d.Model(&models.User{}).Count(&s.Users).Error; err != nil {
		return s, classify(err, nil)
	}
	return s, nil
}
