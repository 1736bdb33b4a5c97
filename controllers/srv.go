// controllers/srv.go
package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"Gin_postgres_redis_loan_manager/app"
	"Gin_postgres_redis_loan_manager/config"
	"Gin_postgres_redis_loan_manager/db"
	"Gin_postgres_redis_loan_manager/models"
	"Gin_postgres_redis_loan_manager/services"
	"Gin_postgres_redis_loan_manager/session"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

// Srv carries what the auth and passkey handlers share.
type Srv struct {
	WA        *webauthn.WebAuthn
	Repo      *db.Repo
	Sess      *session.Store
	Auth      *services.AuthService
	WebOrigin string
	Cfg       config.Config
}

func GetSrv(a *app.App) *Srv {
	return &Srv{
		WA:        a.WA,
		Repo:      a.Repo,
		Sess:      a.Ceremonies,
		Auth:      a.Auth,
		WebOrigin: a.Config.WebOrigin,
		Cfg:       a.Config,
	}
}

// --- helpers ---

// 统一设置登录 Cookie；maxAge < 0 删除
func (s *Srv) setAuthCookie(w http.ResponseWriter, token string, maxAge time.Duration) {
	secure := strings.HasPrefix(s.WebOrigin, "https://")
	age := int(maxAge / time.Second)
	if maxAge < 0 {
		age = -1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     app.AuthCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
		MaxAge:   age,
	})
}

// 登录成功：cookie + JSON 都带 token
func (s *Srv) sessionOK(c *gin.Context, status int, sess *services.Session) {
	s.setAuthCookie(c.Writer, sess.Token, time.Until(sess.ExpiresAt))
	c.JSON(status, app.H{
		"success":   true,
		"user":      sess.User,
		"token":     sess.Token,
		"expiresAt": sess.ExpiresAt,
	})
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		app.RespondError(c, app.BindError(err))
		return false
	}
	return true
}

func bindQuery(c *gin.Context, v any) bool {
	if err := c.ShouldBindQuery(v); err != nil {
		app.RespondError(c, app.BindError(err))
		return false
	}
	return true
}

// who is never nil behind AuthRequired.
func who(c *gin.Context) *services.Identity { return app.CurrentIdentity(c) }

func actor(c *gin.Context) db.Actor { return who(c).Actor(c.ClientIP()) }

// WebAuthn: DB user -> waUser
type waUser struct {
	user  models.User
	creds []webauthn.Credential
}

func (u *waUser) WebAuthnID() []byte                         { id, _ := uuid.Parse(u.user.ID); return id[:] }
func (u *waUser) WebAuthnName() string                       { return u.user.Email }
func (u *waUser) WebAuthnDisplayName() string                { return u.user.DisplayName() }
func (u *waUser) WebAuthnIcon() string                       { return "" }
func (u *waUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

func toWaCred(c models.Credential) webauthn.Credential {
	return webauthn.Credential{
		ID:              c.CredentialID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Authenticator: webauthn.Authenticator{
			AAGUID:       c.AAGUID,
			SignCount:    c.SignCount,
			CloneWarning: c.CloneWarning,
		},
		Flags: webauthn.CredentialFlags{
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
	}
}

func (s *Srv) waUserFrom(ctx context.Context, u *models.User) (*waUser, error) {
	cs, err := s.Repo.LoadUserCredentials(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	ws := make([]webauthn.Credential, 0, len(cs))
	for _, c := range cs {
		ws = append(ws, toWaCred(c))
	}
	return &waUser{user: *u, creds: ws}, nil
}

func (s *Srv) loadWAUserByID(ctx context.Context, id string) (*waUser, error) {
	u, err := s.Repo.FindUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.waUserFrom(ctx, u)
}

func (s *Srv) loadWAUserByEmail(ctx context.Context, email string) (*waUser, error) {
	u, err := s.Repo.FindUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	return s.waUserFrom(ctx, u)
}
