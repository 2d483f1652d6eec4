package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"kasirinaja/posledger/internal/domain"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type userStoreStub struct {
	mu    sync.Mutex
	users map[string]domain.UserAccount
	err   error
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) put(user domain.UserAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoginIssuesTenantScopedToken(t *testing.T) {
	store := &userStoreStub{}
	store.put(domain.UserAccount{Username: "kasir", Password: mustHashPassword(t, "rahasia1"), Role: roleCashier, TenantID: "toko-b", Active: true})

	manager := NewAuthManager(testSecret, time.Hour, store, quietLogger())
	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: " Kasir ", Password: "rahasia1"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.TenantID != "toko-b" || resp.Role != roleCashier {
		t.Fatalf("unexpected login response %+v", resp)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "kasir" || actor.TenantID != "toko-b" || actor.Role != roleCashier {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestLoginHashesLegacyPlainPasswordInCacheOnly(t *testing.T) {
	store := &userStoreStub{}
	store.put(domain.UserAccount{Username: "admin", Password: "admin123", Role: roleAdmin, TenantID: "main-store", Active: true})

	manager := NewAuthManager(testSecret, time.Hour, store, quietLogger())
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	manager.mu.RLock()
	cached := manager.users["admin"].password
	manager.mu.RUnlock()
	if !strings.HasPrefix(cached, "$2") {
		t.Fatalf("expected cached bcrypt hash, got %s", cached)
	}
	if store.users["admin"].Password != "admin123" {
		t.Fatalf("store must not be rewritten")
	}
}

func TestLoginRejectsBadCredentialsAndInactiveUsers(t *testing.T) {
	store := &userStoreStub{}
	store.put(domain.UserAccount{Username: "kasir", Password: mustHashPassword(t, "rahasia1"), Role: roleCashier, TenantID: "main-store", Active: true})
	store.put(domain.UserAccount{Username: "lama", Password: mustHashPassword(t, "rahasia1"), Role: roleCashier, TenantID: "main-store", Active: false})
	manager := NewAuthManager(testSecret, time.Hour, store, quietLogger())

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "kasir", Password: "salah"}); !errors.Is(err, errInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "nobody", Password: "rahasia1"}); !errors.Is(err, errInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "lama", Password: "rahasia1"}); !errors.Is(err, errInactiveAccount) {
		t.Fatalf("expected inactive account, got %v", err)
	}
}

func TestLoginPicksUpUsersAddedLater(t *testing.T) {
	store := &userStoreStub{}
	manager := NewAuthManager(testSecret, time.Hour, store, quietLogger())

	store.put(domain.UserAccount{Username: "baru", Password: mustHashPassword(t, "rahasia1"), Role: roleCashier, TenantID: "main-store", Active: true})
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "baru", Password: "rahasia1"}); err != nil {
		t.Fatalf("expected new user to log in, got %v", err)
	}
}

func TestLoginKeepsCachedCredentialsWhenStoreFails(t *testing.T) {
	store := &userStoreStub{}
	store.put(domain.UserAccount{Username: "kasir", Password: mustHashPassword(t, "rahasia1"), Role: roleCashier, TenantID: "main-store", Active: true})
	manager := NewAuthManager(testSecret, time.Hour, store, quietLogger())

	store.mu.Lock()
	store.err = errors.New("connection refused")
	store.mu.Unlock()

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "kasir", Password: "rahasia1"}); err != nil {
		t.Fatalf("expected cached login to succeed, got %v", err)
	}
}

func TestParseTokenRejectsForeignAndTenantlessTokens(t *testing.T) {
	manager := NewAuthManager(testSecret, time.Hour, nil, quietLogger())

	other := NewAuthManager("another-secret-another-secret-xx", time.Hour, nil, quietLogger())
	foreign, err := other.sign("kasir", roleCashier, "main-store", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(foreign); err == nil {
		t.Fatalf("expected token signed with another secret to fail")
	}

	tenantless, err := manager.sign("kasir", roleCashier, "", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(tenantless); err == nil {
		t.Fatalf("expected token without tenant to fail")
	}

	expired, err := manager.sign("kasir", roleCashier, "main-store", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(expired); !errors.Is(err, errInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestParseTokenRejectsNoneAlgorithm(t *testing.T) {
	manager := NewAuthManager(testSecret, time.Hour, nil, quietLogger())
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "admin",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role:   roleAdmin,
		Tenant: "main-store",
	})
	raw, err := token.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := manager.ParseToken(raw); err == nil {
		t.Fatalf("expected alg=none token to be rejected")
	}
}
