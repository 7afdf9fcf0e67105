package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/ingest/backend/internal/app"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type AppUser struct {
	UserID      string
	Role        string
	Permissions []string
	Anonymous   bool
}

// ErrQueueFull is returned by an Enqueuer that cannot accept more work.
var ErrQueueFull = errors.New("processing queue is full")

// Enqueuer schedules a file for processing and returns a correlation id.
type Enqueuer interface {
	EnqueueProcessing(ctx context.Context, fileID uuid.UUID, reason string) (string, error)
}

// Linker hands out temporary download links for stored bytes.
type Linker interface {
	DownloadLink(ctx context.Context, locator string, ttl time.Duration) (string, error)
}

type App struct {
	Engine *app.Engine
	Queue  Enqueuer
	// Links is nil when blobs are not served from object storage.
	Links          Linker
	Keyfunc        jwt.Keyfunc
	MasterAPIKey   string
	MasterUserID   string
	MasterUserRole string
	AllowAnonymous bool
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
