package middleware

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/kiwi-support/backend/internal/app"
	"github.com/OFFIS-RIT/kiwi-support/backend/internal/queue"
	"github.com/OFFIS-RIT/kiwi-support/backend/internal/tickets"
)

// KeySource resolves the verification key of a JWT. keyfunc.Keyfunc
// implements it.
type KeySource interface {
	Keyfunc(token *jwt.Token) (any, error)
}

type AppUser struct {
	UserID      string
	Role        string
	Permissions []string
}

type App struct {
	Core    *app.App
	Tickets *tickets.Store
	Ingest  queue.Dispatcher

	// Key is nil when no identity provider is configured.
	Key          KeySource
	MasterAPIKey string
}

// AuthEnabled reports whether protected routes check credentials at all.
func (a *App) AuthEnabled() bool {
	return a.Key != nil || a.MasterAPIKey != ""
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(a *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, a, nil}
			return next(cc)
		}
	}
}
