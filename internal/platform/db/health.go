package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// Pinger is anything that can answer a liveness ping, e.g. the Redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
}

func poolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
	}
}

// HealthHandler reports database and cache connectivity.
func HealthHandler(pool *pgxpool.Pool, cache Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		resp := map[string]interface{}{
			"status": "healthy",
			"pool":   poolStats(pool),
		}

		if err := pool.Ping(ctx); err != nil {
			resp["status"] = "unhealthy"
			resp["database_error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, resp)
		}

		if cache != nil {
			if err := cache.Ping(ctx); err != nil {
				// Cache loss degrades lookups but the service still works.
				resp["status"] = "degraded"
				resp["cache_error"] = err.Error()
			}
		}

		return c.JSON(http.StatusOK, resp)
	}
}
