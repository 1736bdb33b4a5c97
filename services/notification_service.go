package services

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log"
	"time"

	"Gin_postgres_redis_loan_manager/db"
	"Gin_postgres_redis_loan_manager/models"

	"gorm.io/datatypes"
)

// 通知是提交之后的旁路：失败只记日志，不影响已提交的状态变更
const notifyTimeout = 5 * time.Second

// NotificationService is the notification sink. Lifecycle events land as rows
// in the notification table; with EMAIL_NOTIFICATIONS a mail copy is queued.
type NotificationService struct {
	Repo      *db.Repo
	Emails    *EmailDispatcher
	Retention time.Duration
	MaxLimit  int
	AppName   string
	WebOrigin string
	Now       func() time.Time
}

func NewNotificationService(repo *db.Repo, emails *EmailDispatcher, retention time.Duration, maxLimit int) *NotificationService {
	return &NotificationService{Repo: repo, Emails: emails, Retention: retention, MaxLimit: maxLimit, AppName: "Equipment Loans", Now: time.Now}
}

func (s *NotificationService) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
}

func meta(kv map[string]any) datatypes.JSON {
	b, err := json.Marshal(kv)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// send stores the rows and, when enabled, mails each recipient. Never fails.
func (s *NotificationService) send(ctx context.Context, ns []models.Notification) {
	if len(ns) == 0 {
		return
	}
	ctx, cancel := s.detach(ctx)
	defer cancel()
	now := s.Now().UTC()
	for i := range ns {
		if ns[i].CreatedAt.IsZero() {
			ns[i].CreatedAt = now
		}
	}
	if err := s.Repo.CreateNotifications(ctx, ns); err != nil {
		log.Printf("notifications: insert %d rows: %v", len(ns), err)
	}
	if s.Emails == nil {
		return
	}
	for _, n := range ns {
		u, err := s.Repo.FindUserByID(ctx, n.UserID)
		if err != nil || u.Status != models.UserActive {
			continue
		}
		s.Emails.Enqueue(Email{
			To:      u.Email,
			Subject: fmt.Sprintf("[%s] %s", s.AppName, n.Title),
			HTML:    s.mailBody(u, n),
		})
	}
}

func (s *NotificationService) mailBody(u *models.User, n models.Notification) string {
	link := ""
	if n.ActionURL != "" && s.WebOrigin != "" {
		link = fmt.Sprintf(`<p><a href="%s%s">Voir le détail</a></p>`, s.WebOrigin, n.ActionURL)
	}
	return fmt.Sprintf(`<div style="font-family:Arial,sans-serif; font-size:14px; color:#222">
  <p>Bonjour %s,</p>
  <p>%s</p>
  %s
  <hr/>
  <p style="color:#666">%s</p>
</div>`, html.EscapeString(u.FirstName), html.EscapeString(n.Message), link, html.EscapeString(s.AppName))
}

func (s *NotificationService) itemName(ctx context.Context, itemID string) string {
	it, err := s.Repo.FindItemByID(ctx, itemID)
	if err != nil {
		return itemID
	}
	return it.Name
}

// RequestCreated tells every active manager that a request is waiting.
func (s *NotificationService) RequestCreated(ctx context.Context, req *models.LoanRequest, requester *models.User) {
	ids, err := s.Repo.ActiveManagerIDs(ctx)
	if err != nil {
		log.Printf("notifications: list managers: %v", err)
		return
	}
	name := s.itemName(ctx, req.ItemID)
	who := req.RequesterID
	if requester != nil {
		who = requester.DisplayName()
	}
	ns := make([]models.Notification, 0, len(ids))
	for _, id := range ids {
		if id == req.RequesterID {
			continue
		}
		ns = append(ns, models.Notification{
			UserID:    id,
			Title:     "Nouvelle demande d'emprunt",
			Message:   fmt.Sprintf("%s demande %d × %s (urgence : %s).", who, req.Quantity, name, req.Urgency),
			Severity:  models.SeverityInfo,
			Category:  models.CategoryRequest,
			ActionURL: "/requests/" + req.ID,
			Metadata:  meta(map[string]any{"demande_id": req.ID, "materiel_id": req.ItemID}),
		})
	}
	s.send(ctx, ns)
}

func (s *NotificationService) RequestApproved(ctx context.Context, req *models.LoanRequest, loan *models.Loan) {
	s.send(ctx, []models.Notification{{
		UserID: req.RequesterID,
		Title:  "Demande approuvée",
		Message: fmt.Sprintf("Votre demande pour %d × %s est approuvée. Retour prévu le %s.",
			req.Quantity, s.itemName(ctx, req.ItemID), loan.DueDate.Format("02/01/2006")),
		Severity:  models.SeveritySuccess,
		Category:  models.CategoryLoan,
		ActionURL: "/loans/" + loan.ID,
		Metadata:  meta(map[string]any{"demande_id": req.ID, "emprunt_id": loan.ID}),
	}})
}

func (s *NotificationService) RequestRefused(ctx context.Context, req *models.LoanRequest) {
	msg := fmt.Sprintf("Votre demande pour %s a été refusée.", s.itemName(ctx, req.ItemID))
	if req.ManagerNote != "" {
		msg += " Motif : " + req.ManagerNote
	}
	s.send(ctx, []models.Notification{{
		UserID:    req.RequesterID,
		Title:     "Demande refusée",
		Message:   msg,
		Severity:  models.SeverityWarning,
		Category:  models.CategoryRequest,
		ActionURL: "/requests/" + req.ID,
		Metadata:  meta(map[string]any{"demande_id": req.ID}),
	}})
}

func (s *NotificationService) LoanReturned(ctx context.Context, loan *models.Loan) {
	msg := fmt.Sprintf("Le retour de %s est enregistré.", s.itemName(ctx, loan.ItemID))
	sev := models.SeveritySuccess
	if fees := loan.LateFee + loan.DamageFee; fees > 0 {
		msg += fmt.Sprintf(" Frais : %d (retard %d, dégâts %d).", fees, loan.LateFee, loan.DamageFee)
		sev = models.SeverityWarning
	}
	s.send(ctx, []models.Notification{{
		UserID:    loan.BorrowerID,
		Title:     "Retour enregistré",
		Message:   msg,
		Severity:  sev,
		Category:  models.CategoryReturn,
		ActionURL: "/loans/" + loan.ID,
		Metadata:  meta(map[string]any{"emprunt_id": loan.ID}),
	}})
}

func (s *NotificationService) LoanOverdue(ctx context.Context, loan *models.Loan) {
	s.send(ctx, []models.Notification{{
		UserID: loan.BorrowerID,
		Title:  "Emprunt en retard",
		Message: fmt.Sprintf("%s devait être rendu le %s. Merci de le rapporter au plus vite.",
			s.itemName(ctx, loan.ItemID), loan.DueDate.Format("02/01/2006")),
		Severity:  models.SeverityError,
		Category:  models.CategoryReminder,
		ActionURL: "/loans/" + loan.ID,
		Metadata:  meta(map[string]any{"emprunt_id": loan.ID}),
	}})
}

func (s *NotificationService) LoanLost(ctx context.Context, loan *models.Loan) {
	s.send(ctx, []models.Notification{{
		UserID:    loan.BorrowerID,
		Title:     "Matériel déclaré perdu",
		Message:   fmt.Sprintf("%d × %s ont été déclarés perdus.", loan.Quantity, s.itemName(ctx, loan.ItemID)),
		Severity:  models.SeverityError,
		Category:  models.CategoryLoan,
		ActionURL: "/loans/" + loan.ID,
		Metadata:  meta(map[string]any{"emprunt_id": loan.ID}),
	}})
}

// SendInvite mails an invitation link; without SMTP the link is only logged.
func (s *NotificationService) SendInvite(email, link string, expiresDays int) {
	body := fmt.Sprintf(`<div style="font-family:Arial,sans-serif; font-size:14px; color:#222">
  <p>Hello,</p>
  <p>You have been invited to join <b>%s</b>.</p>
  <p><a href="%s">%s</a></p>
  <p>This invitation will expire in %d day(s).</p>
</div>`, html.EscapeString(s.AppName), link, link, expiresDays)
	if s.Emails == nil {
		log.Printf("[DEV] Invite link for %s: %s (expires in %d day(s))", email, link, expiresDays)
		return
	}
	s.Emails.Enqueue(Email{To: email, Subject: s.AppName + " Invitation", HTML: body})
}

func (s *NotificationService) List(ctx context.Context, f db.NotificationFilter) (db.NotificationPage, error) {
	p, err := db.NormalizeList(f.ListParams, s.MaxLimit)
	if err != nil {
		return db.NotificationPage{}, err
	}
	f.ListParams = p
	return s.Repo.ListNotifications(ctx, f)
}

func (s *NotificationService) MarkRead(ctx context.Context, id uint, userID string) error {
	return s.Repo.MarkNotificationRead(ctx, id, userID)
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.Repo.MarkAllNotificationsRead(ctx, userID)
}

// Purge drops read notifications older than the retention and expired ones.
func (s *NotificationService) Purge(ctx context.Context) (int64, error) {
	return s.Repo.PurgeNotifications(ctx, s.Now(), s.Retention)
}
