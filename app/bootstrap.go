// app/bootstrap.go
package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"Gin_postgres_redis_loan_manager/config"
	"Gin_postgres_redis_loan_manager/db"
	"Gin_postgres_redis_loan_manager/models"
	"Gin_postgres_redis_loan_manager/services"
)

// BootstrapFirstAdmin issues a manager invite for BOOTSTRAP_EMAIL while no
// active manager exists. Returns the registration link, or "" when skipped.
func BootstrapFirstAdmin(ctx context.Context, cfg config.Config, repo *db.Repo) (string, error) {
	if cfg.BootstrapEmail == "" {
		return "", nil
	}
	n, err := repo.CountManagers(ctx)
	if err != nil {
		return "", err
	}
	if n > 0 {
		return "", nil // 已经有管理员，跳过
	}
	open, err := repo.HasOpenInvite(ctx, cfg.BootstrapEmail)
	if err != nil || open {
		return "", err
	}

	token, err := services.NewInviteToken()
	if err != nil {
		return "", err
	}
	if _, err := repo.CreateInvite(ctx, cfg.BootstrapEmail, token, models.RoleManager,
		repo.Now().Add(24*time.Hour), "bootstrap"); err != nil {
		return "", fmt.Errorf("bootstrap invite: %w", err)
	}

	link := InviteLink(cfg.WebOrigin, token)
	log.Printf("[BOOTSTRAP] No manager found, created an invite for %s", cfg.BootstrapEmail)
	log.Printf("[BOOTSTRAP] Open this URL to register the first manager: %s", link)
	return link, nil
}

// InviteLink 拼邀请链接（前端注册页带 inviteToken）
func InviteLink(webOrigin, token string) string {
	return strings.TrimRight(webOrigin, "/") + "/register?inviteToken=" + token
}
