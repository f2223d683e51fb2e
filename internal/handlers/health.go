package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/skyprovider/pkg/errors"
	"github.com/charlesng35/skyprovider/pkg/response"
)

const healthPingTimeout = 2 * time.Second

// Health returns a status payload for readiness checks. When db is set the database is
// pinged and an unreachable database reports 503.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			if err := pingDatabase(c.Request.Context(), db); err != nil {
				response.Error(c, errors.New("DATABASE_UNAVAILABLE", "Database is unreachable", http.StatusServiceUnavailable).WithInternal(err))
				return
			}
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}

func pingDatabase(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
