package app

import (
	"time"

	"Gin_postgres_redis_loan_manager/config"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func useCORS(r *gin.Engine, c config.Config) {
	origins := []string{c.WebOrigin}
	for _, o := range c.RPOrigins {
		if o != c.WebOrigin {
			origins = append(origins, o)
		}
	}
	cfg := cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Idempotency-Key"},
		ExposeHeaders:    []string{"Retry-After", "Idempotent-Replayed"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	r.Use(cors.New(cfg))
}
