package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailerp/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"manager": {Username: "manager", Password: "manager123", Role: domain.RoleManager, Active: true, CreatedAt: time.Now().UTC()},
		},
	}
	ctx := context.Background()
	auth := NewAuthManager(ctx, "secret", time.Hour, "4321", store, nil)

	resp, err := auth.Login(ctx, domain.LoginRequest{Username: "Manager", Password: "manager123"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleManager, resp.Role)
	assert.True(t, isPasswordHash(store.users["manager"].Password))
	assert.GreaterOrEqual(t, store.updates, 1)

	actor, err := auth.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{UserID: "manager", Role: domain.RoleManager}, actor)
}

func TestAuthManagerRejectsBadCredentials(t *testing.T) {
	store := &userStoreStub{}
	ctx := context.Background()
	auth := NewAuthManager(ctx, "secret", time.Hour, "", store, nil)
	_, err := auth.CreateUser(ctx, domain.CreateUserRequest{Username: "dora", Password: "pw-123456"})
	require.NoError(t, err)

	_, err = auth.Login(ctx, domain.LoginRequest{Username: "dora", Password: "nope"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = auth.Login(ctx, domain.LoginRequest{Username: "ghost", Password: "pw-123456"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	store.users["dora"] = domain.UserAccount{Username: "dora", Password: store.users["dora"].Password, Role: domain.RoleCashier}
	_, err = auth.Login(ctx, domain.LoginRequest{Username: "dora", Password: "pw-123456"})
	require.ErrorIs(t, err, ErrInactiveAccount)
}

func TestCreateUserStoresPasswordHash(t *testing.T) {
	store := &userStoreStub{}
	ctx := context.Background()
	auth := NewAuthManager(ctx, "secret", time.Hour, "", store, nil)

	user, err := auth.CreateUser(ctx, domain.CreateUserRequest{Username: " NewCashier ", Password: "secret99", StoreID: "store-9"})
	require.NoError(t, err)
	assert.Equal(t, "newcashier", user.Username)
	assert.Equal(t, domain.RoleCashier, user.Role)

	stored := store.users["newcashier"]
	assert.NotEqual(t, "secret99", stored.Password)
	assert.True(t, isPasswordHash(stored.Password))
	assert.Equal(t, "store-9", stored.StoreID)

	_, err = auth.CreateUser(ctx, domain.CreateUserRequest{Username: "newcashier", Password: "secret99"})
	require.ErrorIs(t, err, ErrUserExists)
	_, err = auth.CreateUser(ctx, domain.CreateUserRequest{Username: "has space", Password: "secret99"})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	listed := auth.ListUsers(ctx, domain.RoleCashier)
	require.Len(t, listed, 1)
	assert.Equal(t, "newcashier", listed[0].Username)
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	auth := NewAuthManager(context.Background(), "secret", time.Hour, " 2468 ", nil, nil)

	assert.True(t, strings.HasPrefix(auth.managerPIN, "$2"))
	assert.True(t, auth.ValidateManagerPIN("2468"))
	assert.False(t, auth.ValidateManagerPIN("1357"))
	assert.False(t, auth.ValidateManagerPIN(""))

	disabled := NewAuthManager(context.Background(), "secret", time.Hour, "", nil, nil)
	assert.False(t, disabled.ValidateManagerPIN("2468"))
}

func TestParseTokenRejectsForeignAndExpiredTokens(t *testing.T) {
	auth := NewAuthManager(context.Background(), "secret", time.Minute, "", nil, nil)

	other := NewAuthManager(context.Background(), "other-secret", time.Minute, "", nil, nil)
	foreign, err := other.sign("mallory", credential{role: domain.RoleAdmin}, time.Now().Add(time.Minute))
	require.NoError(t, err)
	_, err = auth.ParseToken(foreign)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, err := auth.sign("cashier", credential{role: domain.RoleCashier}, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = auth.ParseToken(expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, erpClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "cashier",
			Issuer:    "someone-else",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Minute)),
		},
		Role: domain.RoleAdmin,
	})
	signed, err := wrongIssuer.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = auth.ParseToken(signed)
	require.ErrorIs(t, err, ErrInvalidToken)
}
