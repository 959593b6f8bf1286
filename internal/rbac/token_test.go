package rbac_test

import (
	"errors"
	"testing"
	"time"

	"auditcore.org/internal/rbac"
)

func setSecret(t *testing.T, value string) {
	t.Helper()
	t.Setenv("AUDITCORE_AUTH_SECRET", value)
	rbac.ResetSecretForTests()
	t.Cleanup(rbac.ResetSecretForTests)
}

func TestTokenRoundTrip(t *testing.T) {
	setSecret(t, "test-secret")

	identity := rbac.Identity{
		UserID:       "user-1",
		PrimaryRole:  rbac.RoleAuditManager,
		DepartmentID: "dept-1",
	}
	token, err := rbac.GenerateToken(identity, time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := rbac.ParseAndValidate(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := claims.Identity()
	if got != identity {
		t.Fatalf("identity = %+v, want %+v", got, identity)
	}
}

func TestTokenRejectsTampering(t *testing.T) {
	setSecret(t, "test-secret")

	token, err := rbac.GenerateToken(rbac.Identity{UserID: "user-1", PrimaryRole: rbac.RoleViewer}, time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := rbac.ParseAndValidate(token + "x"); !errors.Is(err, rbac.ErrInvalidToken) {
		t.Fatalf("tampered token: got %v, want ErrInvalidToken", err)
	}
	if _, err := rbac.ParseAndValidate(""); !errors.Is(err, rbac.ErrInvalidToken) {
		t.Fatalf("empty token: got %v, want ErrInvalidToken", err)
	}

	// a token signed under a different secret must not verify
	setSecret(t, "rotated-secret")
	if _, err := rbac.ParseAndValidate(token); !errors.Is(err, rbac.ErrInvalidToken) {
		t.Fatalf("foreign secret: got %v, want ErrInvalidToken", err)
	}
}

func TestTokenRequiresConfiguredSecret(t *testing.T) {
	setSecret(t, "")

	if _, err := rbac.GenerateToken(rbac.Identity{UserID: "user-1", PrimaryRole: rbac.RoleViewer}, time.Minute); err == nil {
		t.Fatal("generate without secret must fail")
	}
}

func TestGenerateTokenValidation(t *testing.T) {
	setSecret(t, "test-secret")

	if _, err := rbac.GenerateToken(rbac.Identity{PrimaryRole: rbac.RoleViewer}, time.Minute); err == nil {
		t.Fatal("empty user id must fail")
	}
	if _, err := rbac.GenerateToken(rbac.Identity{UserID: "user-1", PrimaryRole: rbac.RoleViewer}, 0); err == nil {
		t.Fatal("non-positive ttl must fail")
	}
}
