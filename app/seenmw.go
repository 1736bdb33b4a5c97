// app/seenmw.go
package app

import (
	"log"
	"time"

	"Gin_postgres_redis_loan_manager/db"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// TouchLastSeen updates users.last_seen_at at most once per throttle window.
func TouchLastSeen(repo *db.Repo, rdb *redis.Client, throttle time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := CurrentIdentity(c)
		if id == nil {
			c.Next()
			return
		}
		key := "loan:lastseen:" + id.User.ID
		if ok, _ := rdb.SetNX(c.Request.Context(), key, "1", throttle).Result(); ok {
			if err := repo.TouchUserSeen(c.Request.Context(), id.User.ID); err != nil {
				log.Printf("touch seen %s: %v", id.User.ID, err) // 不阻塞请求
			}
		}
		c.Next()
	}
}
