package chat

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kalambet/shopchat/internal/catalog"
	"github.com/kalambet/shopchat/internal/session"
)

// ProfileSource returns the signed-in user's profile.
type ProfileSource interface {
	Profile(ctx context.Context) (catalog.Profile, error)
}

// ResolveAuth asks the backend who the user is. Any failure, not only a 401,
// resolves to the guest state.
func ResolveAuth(ctx context.Context, src ProfileSource, logger *slog.Logger) session.AuthState {
	if logger == nil {
		logger = slog.Default()
	}
	p, err := src.Profile(ctx)
	switch {
	case errors.Is(err, catalog.ErrUnauthenticated):
		logger.Debug("no signed-in user, using guest scope")
		return session.Guest()
	case err != nil:
		logger.Warn("auth check failed, using guest scope", "error", err)
		return session.Guest()
	}
	return session.Account(p.ID)
}
