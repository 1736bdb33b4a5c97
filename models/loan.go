// models/loan.go
package models

import "time"

const (
	RequestTable = "loan_requests"
	LoanTable    = "loan_loans"
)

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
	UrgencyUrgent Urgency = "urgent"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyNormal, UrgencyHigh, UrgencyUrgent:
		return true
	}
	return false
}

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestApproved  RequestStatus = "approved"
	RequestRefused   RequestStatus = "refused"
	RequestCancelled RequestStatus = "cancelled"
)

type LoanStatus string

const (
	LoanActive   LoanStatus = "active"
	LoanReturned LoanStatus = "returned"
	LoanOverdue  LoanStatus = "overdue"
	LoanLost     LoanStatus = "lost"
	LoanDamaged  LoanStatus = "damaged"
)

// OpenLoanStatuses hold units out of the pool.
var OpenLoanStatuses = []LoanStatus{LoanActive, LoanOverdue}

func (s LoanStatus) Open() bool { return s == LoanActive || s == LoanOverdue }

// ReturnCondition is the state of the equipment when it comes back.
type ReturnCondition string

const (
	ReturnExcellent ReturnCondition = "excellent"
	ReturnGood      ReturnCondition = "good"
	ReturnFair      ReturnCondition = "fair"
	ReturnPoor      ReturnCondition = "poor"
	ReturnDamaged   ReturnCondition = "damaged"
)

func (c ReturnCondition) Valid() bool {
	switch c {
	case ReturnExcellent, ReturnGood, ReturnFair, ReturnPoor, ReturnDamaged:
		return true
	}
	return false
}

type LoanRequest struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	RequesterID   string         `gorm:"size:36;index;not null" json:"user_id"`
	Requester     *User          `gorm:"foreignKey:RequesterID" json:"demandeur,omitempty"`
	ItemID        string         `gorm:"size:36;index;not null" json:"materiel_id"`
	Item          *EquipmentItem `gorm:"foreignKey:ItemID" json:"materiel,omitempty"`
	Quantity      int            `gorm:"not null" json:"quantite_demandee"`
	StartDate     time.Time      `gorm:"not null" json:"date_debut"`
	EndDate       time.Time      `gorm:"not null" json:"date_fin"`
	Justification string         `gorm:"size:500;not null" json:"motif"`
	Project       string         `gorm:"size:200;not null" json:"projet"`
	Urgency       Urgency        `gorm:"size:20;not null;default:'normal'" json:"urgence"`
	Status        RequestStatus  `gorm:"size:20;not null;default:'pending';index" json:"statut"`
	ManagerNote   string         `gorm:"size:500" json:"commentaire_responsable,omitempty"`
	DecidedBy     *string        `gorm:"size:36" json:"responsable_id,omitempty"`
	DecidedAt     *time.Time     `json:"date_decision,omitempty"`
	CreatedAt     time.Time      `gorm:"index" json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

func (LoanRequest) TableName() string { return RequestTable }

// Loan 一旦创建就是事实来源；从不物理删除。
type Loan struct {
	ID              string           `gorm:"primaryKey;size:36" json:"id"`
	RequestID       string           `gorm:"size:36;uniqueIndex;not null" json:"demande_id"`
	BorrowerID      string           `gorm:"size:36;index;not null" json:"user_id"`
	Borrower        *User            `gorm:"foreignKey:BorrowerID" json:"emprunteur,omitempty"`
	ItemID          string           `gorm:"size:36;index;not null" json:"materiel_id"`
	Item            *EquipmentItem   `gorm:"foreignKey:ItemID" json:"materiel,omitempty"`
	Quantity        int              `gorm:"not null" json:"quantite"`
	LoanDate        time.Time        `gorm:"index;not null" json:"date_emprunt"`
	DueDate         time.Time        `gorm:"index;not null" json:"date_retour_prevue"`
	ReturnedAt      *time.Time       `gorm:"index" json:"date_retour_effective,omitempty"`
	Status          LoanStatus       `gorm:"size:20;not null;default:'active';index" json:"statut"`
	ReturnCondition *ReturnCondition `gorm:"size:20" json:"etat_retour,omitempty"`
	ReturnComment   string           `gorm:"size:500" json:"commentaire_retour,omitempty"`
	LateFee         int64            `gorm:"not null;default:0" json:"frais_retard"`
	DamageFee       int64            `gorm:"not null;default:0" json:"frais_degats"`
	ApprovedBy      string           `gorm:"size:36;not null" json:"responsable_emprunt"`
	ReturnedBy      *string          `gorm:"size:36" json:"responsable_retour,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

func (Loan) TableName() string { return LoanTable }

// DaysLate counts calendar days (UTC) between the due date and returnedAt; never negative.
func DaysLate(due, returnedAt time.Time) int {
	d := dayOf(returnedAt).Sub(dayOf(due))
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// LateFee is max(0, daysLate) * dailyRate.
func LateFee(due, returnedAt time.Time, dailyRate int64) int64 {
	if dailyRate <= 0 {
		return 0
	}
	return int64(DaysLate(due, returnedAt)) * dailyRate
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Transition names used by the state machine, the audit trail and metrics.
type Transition string

const (
	TransitionApprove Transition = "approve"
	TransitionRefuse  Transition = "refuse"
	TransitionCancel  Transition = "cancel"
	TransitionReturn  Transition = "return"
	TransitionOverdue Transition = "overdue"
	TransitionLost    Transition = "lost"
)

// RequestCan reports whether a request in status s accepts transition t.
func RequestCan(s RequestStatus, t Transition) bool {
	switch t {
	case TransitionApprove, TransitionRefuse, TransitionCancel:
		return s == RequestPending
	}
	return false
}

// LoanCan reports whether a loan in status s accepts transition t.
func LoanCan(s LoanStatus, t Transition) bool {
	switch t {
	case TransitionReturn, TransitionLost:
		return s.Open()
	case TransitionOverdue:
		return s == LoanActive
	}
	return false
}
