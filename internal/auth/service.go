package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/railbook/apiserver/internal/events"
	"github.com/railbook/apiserver/internal/metrics"
	"github.com/railbook/apiserver/internal/store"
	"github.com/railbook/apiserver/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	stageRequest = "request"
	stageConsume = "consume"
)

// Service is the entry point collaborators use: log users in and out,
// authenticate and authorize requests, and run password recovery.
type Service struct {
	users    UserRepository
	sessions SessionStore
	codec    *TokenCodec

	verifier      *CredentialVerifier
	authenticator *Authenticator
	recovery      *RecoveryFlow

	events     events.Publisher
	logger     logrus.FieldLogger
	metrics    *metrics.Metrics
	bcryptCost int
}

type Option func(*Service)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithEventPublisher(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

func NewService(users UserRepository, sessions SessionStore, codec *TokenCodec, opts ...Option) *Service {
	s := &Service{
		users:      users,
		sessions:   sessions,
		codec:      codec,
		events:     events.Noop{},
		logger:     logrus.StandardLogger(),
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.verifier = NewCredentialVerifier(users, s.bcryptCost)
	s.authenticator = NewAuthenticator(codec, users, sessions, s.logger, s.metrics)
	s.recovery = NewRecoveryFlow(users, s.bcryptCost)
	return s
}

// LoginResult is the token handed to a client after a successful login.
type LoginResult struct {
	Token  string    `json:"token"`
	Expiry time.Time `json:"expires_at"`
}

// Login verifies the credentials, issues a token and makes it the user's
// only live session.
func (s *Service) Login(ctx context.Context, email, password string, now time.Time) (LoginResult, error) {
	user, err := s.verifier.Verify(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.metrics.ObserveLogin(metrics.ResultFailure)
			return LoginResult{}, err
		}
		s.metrics.ObserveLogin(metrics.ResultError)
		return LoginResult{}, err
	}

	token, expiry, err := s.codec.Issue(user.Email, user.Roles, now)
	if err != nil {
		s.metrics.ObserveLogin(metrics.ResultError)
		return LoginResult{}, err
	}
	if err := s.sessions.StartSession(ctx, user.ID, token, expiry); err != nil {
		s.metrics.ObserveLogin(metrics.ResultError)
		return LoginResult{}, fmt.Errorf("start session: %w", err)
	}

	s.metrics.ObserveLogin(metrics.ResultSuccess)
	s.logger.WithField("user_id", user.ID).Info("user logged in")
	s.publish(ctx, events.Event{Type: events.TypeLoggedIn, UserID: user.ID, Email: user.Email, OccurredAt: now})
	return LoginResult{Token: token, Expiry: expiry}, nil
}

// Logout ends the user's session. Ending an absent session is not an error.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	if err := s.sessions.EndSession(ctx, userID); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	s.metrics.ObserveLogout()
	s.logger.WithField("user_id", userID).Info("user logged out")
	s.publish(ctx, events.Event{Type: events.TypeLoggedOut, UserID: userID})
	return nil
}

func (s *Service) Authenticate(ctx context.Context, header string, now time.Time) (types.Principal, error) {
	return s.authenticator.Authenticate(ctx, header, now)
}

func (s *Service) Authorize(p types.Principal, required RoleSet) error {
	if err := Authorize(p, required); err != nil {
		s.metrics.ObserveAuthorize(metrics.ResultFailure)
		s.logger.WithFields(logrus.Fields{
			"user_id":  p.UserID,
			"required": required.Names(),
		}).Info("operation forbidden")
		return err
	}
	s.metrics.ObserveAuthorize(metrics.ResultSuccess)
	return nil
}

// RequestPasswordReset returns the new one-time token and publishes it for
// delivery to the user.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, token, err := s.recovery.RequestReset(ctx, email)
	if err != nil {
		s.metrics.ObservePasswordReset(stageRequest, resetResult(err))
		return "", err
	}

	s.metrics.ObservePasswordReset(stageRequest, metrics.ResultSuccess)
	s.logger.WithField("user_id", user.ID).Info("password reset requested")
	s.publish(ctx, events.Event{
		Type:       events.TypePasswordResetRequested,
		UserID:     user.ID,
		Email:      user.Email,
		ResetToken: token,
	})
	return token, nil
}

// ConsumePasswordReset sets a new password once per issued token and ends
// the user's session.
func (s *Service) ConsumePasswordReset(ctx context.Context, email, token, newPassword string) error {
	user, err := s.recovery.ConsumeReset(ctx, email, token, newPassword)
	if err != nil {
		s.metrics.ObservePasswordReset(stageConsume, resetResult(err))
		return err
	}
	s.metrics.ObservePasswordReset(stageConsume, metrics.ResultSuccess)

	if err := s.sessions.EndSession(ctx, user.ID); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Error("failed to end session after password reset")
	}
	s.logger.WithField("user_id", user.ID).Info("password reset completed")
	s.publish(ctx, events.Event{Type: events.TypePasswordResetCompleted, UserID: user.ID, Email: user.Email})
	return nil
}

// RegisterInput carries the fields of a new account.
type RegisterInput struct {
	Email    string
	Password string
	FullName string
	Phone    string
}

// Register creates an unverified, inactive account holding ROLE_USER.
func (s *Service) Register(ctx context.Context, in RegisterInput) (types.User, error) {
	if strings.TrimSpace(in.Email) == "" || blankPassword(in.Password) || strings.TrimSpace(in.FullName) == "" {
		return types.User{}, ErrInvalidInput
	}

	hashed, err := HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return types.User{}, err
	}

	user, err := s.users.Create(ctx, types.User{
		Email:        in.Email,
		PasswordHash: hashed,
		FullName:     in.FullName,
		Phone:        in.Phone,
		Roles:        []string{types.RoleUser},
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, ErrConflict
		}
		return types.User{}, fmt.Errorf("create user: %w", err)
	}

	s.logger.WithField("user_id", user.ID).Info("user registered")
	s.publish(ctx, events.Event{Type: events.TypeUserRegistered, UserID: user.ID, Email: user.Email})
	return user, nil
}

// publish never fails the operation that produced the event.
func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithField("event", event.Type).Warn("failed to publish auth event")
	}
}

func resetResult(err error) string {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) {
		return metrics.ResultFailure
	}
	return metrics.ResultError
}
