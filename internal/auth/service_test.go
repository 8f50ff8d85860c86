package auth

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/railbook/apiserver/internal/cache"
	"github.com/railbook/apiserver/internal/events"
	"github.com/railbook/apiserver/internal/metrics"
	"github.com/railbook/apiserver/internal/store/memstore"
	"github.com/railbook/apiserver/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "correct horse battery"

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) kinds() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	svc      *Service
	users    *memstore.UserRepository
	sessions *memstore.SessionRepository
	events   *recordingPublisher
	metrics  *metrics.Metrics
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{
		users:    memstore.NewUserRepository(),
		sessions: memstore.NewSessionRepository(),
		events:   &recordingPublisher{},
		metrics:  metrics.New(prometheus.NewRegistry()),
		now:      time.Now().Truncate(time.Second),
	}
	f.svc = NewService(f.users, f.sessions, newTestCodec(t),
		WithLogger(logger),
		WithMetrics(f.metrics),
		WithEventPublisher(f.events),
		WithBcryptCost(bcrypt.MinCost),
	)
	return f
}

func (f *fixture) seed(t *testing.T, email string, roles ...string) types.User {
	t.Helper()
	hash, err := HashPassword(testPassword, bcrypt.MinCost)
	require.NoError(t, err)
	user, err := f.users.Create(context.Background(), types.User{
		Email:        email,
		PasswordHash: hash,
		FullName:     "Test User",
		Roles:        roles,
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) login(t *testing.T, email string) LoginResult {
	t.Helper()
	result, err := f.svc.Login(context.Background(), email, testPassword, f.now)
	require.NoError(t, err)
	return result
}

func bearer(token string) string {
	return "Bearer " + token
}

func TestLoginThenAuthenticate(t *testing.T) {
	f := newFixture(t)
	user := f.seed(t, "ada@example.com", types.RoleUser, types.RoleAdmin)

	result := f.login(t, "ada@example.com")
	assert.NotEmpty(t, result.Token)
	assert.True(t, f.now.Add(24*time.Hour).Equal(result.Expiry))

	principal, err := f.svc.Authenticate(context.Background(), bearer(result.Token), f.now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, user.ID, principal.UserID)
	assert.Equal(t, "ada@example.com", principal.Email)
	assert.ElementsMatch(t, []string{types.RoleUser, types.RoleAdmin}, principal.Roles)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LoginTotal.WithLabelValues(metrics.ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuthenticateTotal.WithLabelValues(metrics.ResultSuccess, "none")))
	assert.Equal(t, []events.Type{events.TypeLoggedIn}, f.events.kinds())
}

func TestLoginThenAuthenticateWithRedisSessions(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client, err := cache.Connect(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}
	sessions := cache.NewSessionCache(client, 24*time.Hour)
	t.Cleanup(func() {
		_ = sessions.Close()
		mr.Close()
	})

	f := newFixture(t)
	user := f.seed(t, "ada@example.com", types.RoleUser)
	svc := NewService(f.users, sessions, newTestCodec(t), WithMetrics(f.metrics), WithBcryptCost(bcrypt.MinCost))
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	result, err := svc.Login(ctx, "ada@example.com", testPassword, now)
	require.NoError(t, err)
	assert.True(t, now.Add(24*time.Hour).Equal(result.Expiry))

	principal, err := svc.Authenticate(ctx, bearer(result.Token), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, user.ID, principal.UserID)

	require.NoError(t, svc.Logout(ctx, user.ID))
	_, err = svc.Authenticate(ctx, bearer(result.Token), now.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuthenticateTotal.WithLabelValues(metrics.ResultFailure, "revoked")))
}

func TestLoginInvalidCredentialsIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ada@example.com", types.RoleUser)
	ctx := context.Background()

	_, wrongPassword := f.svc.Login(ctx, "ada@example.com", "nope", f.now)
	_, unknownEmail := f.svc.Login(ctx, "missing@example.com", testPassword, f.now)

	assert.Equal(t, ErrInvalidCredentials, wrongPassword)
	assert.Equal(t, ErrInvalidCredentials, unknownEmail)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.LoginTotal.WithLabelValues(metrics.ResultFailure)))
	assert.Empty(t, f.events.kinds())
}

func TestLogoutRevokesUnexpiredToken(t *testing.T) {
	f := newFixture(t)
	user := f.seed(t, "ada@example.com", types.RoleUser)
	result := f.login(t, "ada@example.com")
	ctx := context.Background()

	require.NoError(t, f.svc.Logout(ctx, user.ID))

	_, err := f.svc.Authenticate(ctx, bearer(result.Token), f.now.Add(time.Minute))
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuthenticateTotal.WithLabelValues(metrics.ResultFailure, "revoked")))

	require.NoError(t, f.svc.Logout(ctx, user.ID), "logging out twice is harmless")
}

func TestSecondLoginSupersedesFirst(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ada@example.com", types.RoleUser)
	ctx := context.Background()

	first := f.login(t, "ada@example.com")
	second := f.login(t, "ada@example.com")
	require.NotEqual(t, first.Token, second.Token)

	_, err := f.svc.Authenticate(ctx, bearer(first.Token), f.now)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = f.svc.Authenticate(ctx, bearer(second.Token), f.now)
	assert.NoError(t, err)
}

func TestAuthenticateRejections(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ada@example.com", types.RoleUser)
	result := f.login(t, "ada@example.com")
	ctx := context.Background()

	other, err := NewTokenCodec("another-secret", time.Hour)
	require.NoError(t, err)
	forged, _, err := other.Issue("ada@example.com", []string{types.RoleAdmin}, f.now)
	require.NoError(t, err)
	ghost, _, err := newTestCodec(t).Issue("ghost@example.com", []string{types.RoleUser}, f.now)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		now    time.Time
		reason string
	}{
		{"missing header", "", f.now, "missing_header"},
		{"basic scheme", "Basic " + result.Token, f.now, "bad_scheme"},
		{"scheme only", "Bearer", f.now, "empty_token"},
		{"blank token", "Bearer    ", f.now, "empty_token"},
		{"garbage", "Bearer abc.def", f.now, "malformed"},
		{"foreign signature", bearer(forged), f.now, "signature"},
		{"expired by claim", bearer(result.Token), result.Expiry, "expired"},
		{"subject without account", bearer(ghost), f.now, "unknown_subject"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Authenticate(ctx, tt.header, tt.now)
			assert.Equal(t, ErrUnauthenticated, err)
			assert.GreaterOrEqual(t, testutil.ToFloat64(
				f.metrics.AuthenticateTotal.WithLabelValues(metrics.ResultFailure, tt.reason)), 1.0)
		})
	}
}

func TestAuthenticateSchemeIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ada@example.com", types.RoleUser)
	result := f.login(t, "ada@example.com")

	_, err := f.svc.Authenticate(context.Background(), "bearer "+result.Token, f.now)
	assert.NoError(t, err)
}

func TestAuthenticateRereadsRoles(t *testing.T) {
	f := newFixture(t)
	user := f.seed(t, "ada@example.com", types.RoleUser)
	result := f.login(t, "ada@example.com")
	ctx := context.Background()

	require.NoError(t, f.users.SetRoles(ctx, user.ID, []string{types.RoleUser, types.RoleAdmin}))

	principal, err := f.svc.Authenticate(ctx, bearer(result.Token), f.now)
	require.NoError(t, err)
	assert.NoError(t, f.svc.Authorize(principal, Roles(types.RoleAdmin)))
}

type failingSessions struct {
	memstore.SessionRepository
}

func (*failingSessions) IsLive(ctx context.Context, userID int64, token string, now time.Time) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestAuthenticateSurfacesStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ada@example.com", types.RoleUser)
	token, _, err := newTestCodec(t).Issue("ada@example.com", nil, f.now)
	require.NoError(t, err)

	svc := NewService(f.users, &failingSessions{}, newTestCodec(t), WithMetrics(f.metrics))
	_, err = svc.Authenticate(context.Background(), bearer(token), f.now)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuthenticateTotal.WithLabelValues(metrics.ResultError, "store")))
}

func TestServiceAuthorize(t *testing.T) {
	f := newFixture(t)
	principal := types.Principal{UserID: 1, Roles: []string{types.RoleUser}}

	assert.ErrorIs(t, f.svc.Authorize(principal, Roles(types.RoleAdmin)), ErrForbidden)
	assert.NoError(t, f.svc.Authorize(principal, Roles(types.RoleUser, types.RoleAdmin)))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuthorizeTotal.WithLabelValues(metrics.ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuthorizeTotal.WithLabelValues(metrics.ResultSuccess)))
}

func TestRequestPasswordResetValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestPasswordReset(ctx, "missing@x.com")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.RequestPasswordReset(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.RequestPasswordReset(ctx, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPasswordResetConsumedExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ada@example.com", types.RoleUser)
	ctx := context.Background()

	token, err := f.svc.RequestPasswordReset(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Len(t, token, 36)

	require.NoError(t, f.svc.ConsumePasswordReset(ctx, "ada@example.com", token, "new password"))
	assert.ErrorIs(t, f.svc.ConsumePasswordReset(ctx, "ada@example.com", token, "another"), ErrNotFound)

	_, err = f.svc.Login(ctx, "ada@example.com", testPassword, f.now)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "ada@example.com", "new password", f.now)
	assert.NoError(t, err)

	assert.Equal(t,
		[]events.Type{events.TypePasswordResetRequested, events.TypePasswordResetCompleted, events.TypeLoggedIn},
		f.events.kinds())
	assert.Equal(t, token, f.events.events[0].ResetToken)
}

func TestPasswordResetNewRequestInvalidatesPrevious(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ada@example.com", types.RoleUser)
	ctx := context.Background()

	first, err := f.svc.RequestPasswordReset(ctx, "ada@example.com")
	require.NoError(t, err)
	second, err := f.svc.RequestPasswordReset(ctx, "ada@example.com")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	assert.ErrorIs(t, f.svc.ConsumePasswordReset(ctx, "ada@example.com", first, "pw"), ErrNotFound)
	assert.NoError(t, f.svc.ConsumePasswordReset(ctx, "ada@example.com", second, "pw"))
}

func TestConsumePasswordResetFailures(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ada@example.com", types.RoleUser)
	f.seed(t, "bob@example.com", types.RoleUser)
	ctx := context.Background()

	token, err := f.svc.RequestPasswordReset(ctx, "ada@example.com")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.ConsumePasswordReset(ctx, "ada@example.com", "", "pw"), ErrInvalidInput)
	assert.ErrorIs(t, f.svc.ConsumePasswordReset(ctx, "ada@example.com", token, " "), ErrInvalidInput)
	assert.ErrorIs(t, f.svc.ConsumePasswordReset(ctx, "missing@example.com", token, "pw"), ErrNotFound)
	assert.ErrorIs(t, f.svc.ConsumePasswordReset(ctx, "bob@example.com", token, "pw"), ErrNotFound, "no pending reset")
	assert.ErrorIs(t, f.svc.ConsumePasswordReset(ctx, "ada@example.com", token+"x", "pw"), ErrNotFound)

	assert.NoError(t, f.svc.ConsumePasswordReset(ctx, "ada@example.com", token, "pw"))
}

func TestPasswordResetEndsSession(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ada@example.com", types.RoleUser)
	result := f.login(t, "ada@example.com")
	ctx := context.Background()

	token, err := f.svc.RequestPasswordReset(ctx, "ada@example.com")
	require.NoError(t, err)
	require.NoError(t, f.svc.ConsumePasswordReset(ctx, "ada@example.com", token, "new password"))

	_, err = f.svc.Authenticate(ctx, bearer(result.Token), f.now)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ada@example.com", types.RoleUser)
	f.events.err = errors.New("broker unavailable")

	_, err := f.svc.Login(context.Background(), "ada@example.com", testPassword, f.now)
	assert.NoError(t, err)
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.Register(ctx, RegisterInput{
		Email:    "new@example.com",
		Password: "hunter22",
		FullName: "New Rider",
		Phone:    "+4912345",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{types.RoleUser}, user.Roles)
	assert.False(t, user.IsVerified)
	assert.False(t, user.IsActive)
	assert.NotEqual(t, "hunter22", user.PasswordHash)

	_, err = f.svc.Login(ctx, "new@example.com", "hunter22", f.now)
	assert.NoError(t, err, "inactive accounts can still log in")

	_, err = f.svc.Register(ctx, RegisterInput{Email: "new@example.com", Password: "x", FullName: "Dup"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.Register(ctx, RegisterInput{Email: "a@example.com", Password: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Register(ctx, RegisterInput{Email: "b@example.com", Password: "   ", FullName: "Blank"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.users.GetByEmail(ctx, "b@example.com")
	assert.Error(t, err, "no account is created for a blank password")
}
