package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/railbook/apiserver/internal/metrics"
	"github.com/railbook/apiserver/internal/store"
	"github.com/railbook/apiserver/types"
	"github.com/sirupsen/logrus"
)

const bearerScheme = "Bearer"

// Rejection reasons recorded for failed authentications.
const (
	reasonMissingHeader  = "missing_header"
	reasonBadScheme      = "bad_scheme"
	reasonEmptyToken     = "empty_token"
	reasonUnknownSubject = "unknown_subject"
	reasonRevoked        = "revoked"
	reasonStore          = "store"
	reasonNone           = "none"
)

// Authenticator turns an Authorization header into a Principal. A token is
// accepted only if it verifies and is still the user's live session token.
type Authenticator struct {
	codec    *TokenCodec
	users    userByEmail
	sessions SessionStore
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics
}

func NewAuthenticator(codec *TokenCodec, users userByEmail, sessions SessionStore, logger logrus.FieldLogger, m *metrics.Metrics) *Authenticator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Authenticator{
		codec:    codec,
		users:    users,
		sessions: sessions,
		logger:   logger,
		metrics:  m,
	}
}

// Authenticate returns ErrUnauthenticated for every token problem. Only
// storage failures are returned as other errors.
func (a *Authenticator) Authenticate(ctx context.Context, header string, now time.Time) (types.Principal, error) {
	token, reason := BearerToken(header)
	if reason != "" {
		return types.Principal{}, a.reject(reason, nil)
	}

	claims, err := a.codec.Parse(token, now)
	if err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			return types.Principal{}, a.reject(string(decodeErr.Reason), err)
		}
		return types.Principal{}, a.reject(string(ReasonMalformed), err)
	}

	user, err := a.users.GetByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Principal{}, a.reject(reasonUnknownSubject, nil)
		}
		a.metrics.ObserveAuthenticate(metrics.ResultError, reasonStore)
		return types.Principal{}, fmt.Errorf("load token subject: %w", err)
	}

	live, err := a.sessions.IsLive(ctx, user.ID, token, now)
	if err != nil {
		a.metrics.ObserveAuthenticate(metrics.ResultError, reasonStore)
		return types.Principal{}, fmt.Errorf("check session: %w", err)
	}
	if !live {
		return types.Principal{}, a.reject(reasonRevoked, nil)
	}

	a.metrics.ObserveAuthenticate(metrics.ResultSuccess, reasonNone)
	return types.Principal{
		UserID: user.ID,
		Email:  user.Email,
		Roles:  append([]string(nil), user.Roles...),
	}, nil
}

func (a *Authenticator) reject(reason string, cause error) error {
	entry := a.logger.WithField("reason", reason)
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Info("bearer token rejected")
	a.metrics.ObserveAuthenticate(metrics.ResultFailure, reason)
	return ErrUnauthenticated
}

// BearerToken extracts the token from a "Bearer <token>" header value. The
// second result names the problem when the header is unusable.
func BearerToken(header string) (string, string) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", reasonMissingHeader
	}
	parts := strings.SplitN(header, " ", 2)
	if !strings.EqualFold(parts[0], bearerScheme) {
		return "", reasonBadScheme
	}
	if len(parts) != 2 {
		return "", reasonEmptyToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", reasonEmptyToken
	}
	return token, ""
}
