package profile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vpolkhovsky/chatx/internal/bus"
	"github.com/vpolkhovsky/chatx/internal/gateway"
	"github.com/vpolkhovsky/chatx/internal/notify"
	"github.com/vpolkhovsky/chatx/internal/store"
)

// Authenticator is the auth slice of the gateway.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*gateway.UserDTO, string, error)
	TokenAlive(ctx context.Context, token string) bool
}

var _ Authenticator = (*gateway.Provider)(nil)

// Service manages profile sessions: login, logout and liveness sweeps over
// the stored sessions.
type Service struct {
	db       *store.DB
	auth     Authenticator
	notifier notify.Notifier
	bus      *bus.Bus
	logger   *zap.Logger
}

func NewService(db *store.DB, auth Authenticator, notifier notify.Notifier, b *bus.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, auth: auth, notifier: notifier, bus: b, logger: logger.Named("profile")}
}

// Login authenticates against the remote and persists the session with its
// profile atomically. Returns nil without error on rejected credentials;
// transport failures surface as errors.
func (s *Service) Login(ctx context.Context, username, password string) (*store.Profile, error) {
	user, token, err := s.auth.Login(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if user == nil {
		return nil, nil
	}
	p := store.Profile{ID: user.ID, Username: user.Username}
	if err := s.db.SaveSession(&store.Session{ProfileID: p.ID, Token: token}, &p); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	s.logger.Info("logged in", zap.Int64("profile", p.ID), zap.String("username", p.Username))
	return &p, nil
}

// Logout drops the profile's session. Cached chats and messages stay for
// offline viewing.
func (s *Service) Logout(profileID int64) error {
	return s.db.DeleteSession(profileID)
}

// ActiveProfiles sweeps the stored sessions and returns the profiles whose
// tokens are still accepted. A token reported dead has its session deleted;
// a sweep failure for one session excludes it from this result without
// touching the batch.
func (s *Service) ActiveProfiles(ctx context.Context) ([]store.Profile, error) {
	records, err := s.db.Sessions()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var active []store.Profile
	for _, rec := range records {
		if s.auth.TokenAlive(ctx, rec.Session.Token) {
			active = append(active, rec.Profile)
			continue
		}
		s.logger.Info("session expired", zap.Int64("profile", rec.Profile.ID))
		s.notifier.Notify("Session", fmt.Sprintf("session for %s expired", rec.Profile.Username))
		if s.bus != nil {
			s.bus.Publish(bus.Event{
				Kind:      bus.KindSessionExpired,
				Timestamp: time.Now(),
				Payload:   rec.Profile,
			})
		}
		if err := s.db.DeleteSession(rec.Profile.ID); err != nil {
			s.logger.Error("drop expired session", zap.Int64("profile", rec.Profile.ID), zap.Error(err))
			s.notifier.Notify("Session", fmt.Sprintf("failed to drop session for %s", rec.Profile.Username))
		}
	}
	return active, nil
}
