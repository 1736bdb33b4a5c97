// controllers/webauthn_controller.go
package controllers

import (
	"context"
	"log"
	"net/http"
	"time"

	"Gin_postgres_redis_loan_manager/app"
	"Gin_postgres_redis_loan_manager/apperr"
	"Gin_postgres_redis_loan_manager/models"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

const ceremonyTimeout = 3 * time.Second

var errCeremony = apperr.Field("sessionId", "passkey session expired or invalid")

// ===== 添加新凭据（已登录） =====

func (s *Srv) BeginAddCredential(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), ceremonyTimeout)
	defer cancel()

	wUser, err := s.loadWAUserByID(ctx, who(c).User.ID)
	if err != nil {
		app.RespondError(c, err)
		return
	}
	opts, sd, err := s.WA.BeginRegistration(
		wUser,
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			UserVerification: protocol.VerificationRequired,
		}),
	)
	if err != nil {
		app.RespondError(c, err)
		return
	}
	if err := s.Sess.SaveReg(ctx, wUser.user.ID, sd); err != nil {
		app.RespondError(c, apperr.Wrap(apperr.ErrTransient, err))
		return
	}
	c.JSON(http.StatusOK, app.H{"opts": opts})
}

func (s *Srv) FinishAddCredential(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), ceremonyTimeout)
	defer cancel()

	wUser, err := s.loadWAUserByID(ctx, who(c).User.ID)
	if err != nil {
		app.RespondError(c, err)
		return
	}
	sd, err := s.Sess.TakeReg(ctx, wUser.user.ID)
	if err != nil {
		app.RespondError(c, errCeremony)
		return
	}
	cred, err := s.WA.FinishRegistration(wUser, *sd, c.Request)
	if err != nil {
		app.RespondError(c, apperr.Field("credential", err.Error()))
		return
	}
	if err := s.Repo.AddCredential(ctx, &models.Credential{
		UserID:          wUser.user.ID,
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		AAGUID:          cred.Authenticator.AAGUID,
		SignCount:       cred.Authenticator.SignCount,
		CloneWarning:    cred.Authenticator.CloneWarning,
		BackupEligible:  cred.Flags.BackupEligible,
		BackupState:     cred.Flags.BackupState,
	}); err != nil {
		app.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, app.H{"ok": true})
}

// ===== 登录 =====

type loginBeginReq struct {
	Email        string `json:"email"`
	Discoverable bool   `json:"discoverable"`
}
type loginBeginResp struct {
	Options   *protocol.CredentialAssertion `json:"options"`
	SessionID string                        `json:"sessionId"`
}

func (s *Srv) BeginLogin(c *gin.Context) {
	var req loginBeginReq
	if !bindJSON(c, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), ceremonyTimeout)
	defer cancel()

	var (
		opts *protocol.CredentialAssertion
		sd   *webauthn.SessionData
		err  error
	)
	if req.Discoverable || req.Email == "" {
		opts, sd, err = s.WA.BeginDiscoverableLogin(webauthn.WithUserVerification(protocol.VerificationRequired))
	} else {
		wUser, err2 := s.loadWAUserByEmail(ctx, req.Email)
		if err2 != nil {
			// 不区分“用户不存在”和“密码错误”
			app.RespondError(c, apperr.ErrBadLogin)
			return
		}
		opts, sd, err = s.WA.BeginLogin(wUser, webauthn.WithUserVerification(protocol.VerificationRequired))
	}
	if err != nil {
		app.RespondError(c, apperr.Field("email", err.Error()))
		return
	}

	sid := uuid.NewString()
	if err := s.Sess.SaveAuth(ctx, sid, sd); err != nil {
		app.RespondError(c, apperr.Wrap(apperr.ErrTransient, err))
		return
	}
	c.JSON(http.StatusOK, loginBeginResp{Options: opts, SessionID: sid})
}

// FinishLogin ends like a password login: a server-side session and a bearer token.
func (s *Srv) FinishLogin(c *gin.Context) {
	sid := c.Query("sessionId")
	if sid == "" {
		app.RespondError(c, apperr.Field("sessionId", "is required"))
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), ceremonyTimeout)
	defer cancel()
	sd, err := s.Sess.TakeAuth(ctx, sid)
	if err != nil {
		app.RespondError(c, errCeremony)
		return
	}

	var (
		user *models.User
		cred *webauthn.Credential
	)
	if email := c.Query("email"); email != "" {
		wUser, err := s.loadWAUserByEmail(ctx, email)
		if err != nil {
			app.RespondError(c, apperr.ErrBadLogin)
			return
		}
		cred, err = s.WA.FinishLogin(wUser, *sd, c.Request)
		if err != nil {
			app.RespondError(c, apperr.Wrap(apperr.ErrInvalidCredential, err))
			return
		}
		user = &wUser.user
	} else {
		handler := func(rawID, _ []byte) (webauthn.User, error) {
			u, _, err := s.Repo.FindUserByCredentialID(ctx, rawID)
			if err != nil {
				return nil, protocol.ErrBadRequest.WithDetails("credential not found")
			}
			return s.waUserFrom(ctx, u)
		}
		wu, cr, err := s.WA.FinishPasskeyLogin(handler, *sd, c.Request)
		if err != nil {
			app.RespondError(c, apperr.Wrap(apperr.ErrInvalidCredential, err))
			return
		}
		cred, user = cr, &wu.(*waUser).user
	}

	if err := s.Repo.UpdateCredentialCounter(ctx, cred.ID, cred.Authenticator.SignCount, cred.Authenticator.CloneWarning); err != nil {
		log.Printf("passkey counter: %v", err)
	}
	_ = s.Repo.TouchCredentialUsed(ctx, cred.ID)

	if user.Status != models.UserActive {
		app.RespondError(c, apperr.ErrUserInactive)
		return
	}
	sess, err := s.Auth.Issue(c.Request.Context(), user, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		app.RespondError(c, err)
		return
	}
	s.sessionOK(c, http.StatusOK, sess)
}
