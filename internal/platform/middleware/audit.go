package middleware

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ayushsetu/ayushsetu/internal/platform/auth"
)

// AuditEntry captures who did what to which resource and when. Entries are
// append-only; the surrounding system never updates or deletes them.
type AuditEntry struct {
	ActorID      string
	ActorRoles   []string
	Action       string // read, create, update, delete, search, translate, sync
	ResourceType string
	ResourceID   string
	Path         string
	Method       string
	IPAddress    string
	UserAgent    string
	RequestID    string
	StatusCode   int
	Timestamp    time.Time
}

// AuditRecorder persists audit entries. Decoupled from the concrete store so
// tests can capture entries in memory.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit records every terminology and FHIR request after it completes. When
// no recorder is supplied entries are emitted as structured log events.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: c.Response().Status,
				Action:     actionFor(req.Method, path),
			}
			entry.ResourceType, entry.ResourceID = resourceFromPath(path)

			if a := auth.ActorFromContext(req.Context()); a != nil {
				entry.ActorID = a.ID
				entry.ActorRoles = a.Roles
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			if len(recorders) > 0 {
				for _, r := range recorders {
					if recErr := r.RecordAccess(entry); recErr != nil {
						logger.Error().Err(recErr).Msg("audit record failed")
					}
				}
			} else {
				logger.Info().
					Str("actor", entry.ActorID).
					Str("action", entry.Action).
					Str("resource_type", entry.ResourceType).
					Str("resource_id", entry.ResourceID).
					Int("status", entry.StatusCode).
					Msg("audit")
			}

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/") || strings.HasPrefix(path, "/fhir/")
}

func actionFor(method, path string) string {
	switch {
	case strings.Contains(path, "/translate"):
		return "translate"
	case strings.Contains(path, "/sync"):
		return "sync"
	case strings.Contains(path, "/search"):
		return "search"
	}
	switch method {
	case "POST":
		return "create"
	case "PUT", "PATCH":
		return "update"
	case "DELETE":
		return "delete"
	default:
		return "read"
	}
}

// resourceFromPath extracts ("mappings", "<id>") from /api/v1/mappings/<id>/...
// and ("ConceptMap", "...") from /fhir/ConceptMap/... style paths.
func resourceFromPath(path string) (string, string) {
	trimmed := strings.TrimPrefix(path, "/api/v1/")
	trimmed = strings.TrimPrefix(trimmed, "/fhir/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	switch {
	case len(parts) >= 2:
		return parts[0], parts[1]
	case len(parts) == 1:
		return parts[0], ""
	default:
		return "", ""
	}
}
