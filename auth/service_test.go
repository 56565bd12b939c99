package auth

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("arbiter-passphrase"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash passphrase: %v", err)
	}
	return NewService("arbiter", string(hash), "test-secret")
}

func TestService_IssueAndVerifyParticipant(t *testing.T) {
	svc := newTestService(t)

	res, err := svc.IssueToken(TokenRequest{Address: "alice"})
	if err != nil {
		t.Fatalf("issue: unexpected error: %v", err)
	}
	if res.Token == "" {
		t.Fatal("issue: expected token, got empty string")
	}
	if res.Caller.Role != RoleParticipant {
		t.Fatalf("issue: expected default role %s got %s", RoleParticipant, res.Caller.Role)
	}

	caller, err := svc.VerifyToken(res.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if caller.Address != "alice" || caller.Role != RoleParticipant {
		t.Fatalf("verify token: got %+v", caller)
	}
}

func TestService_AuthorityNeedsPassphrase(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.IssueToken(TokenRequest{Address: "arbiter"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials without passphrase, got %v", err)
	}
	if _, err := svc.IssueToken(TokenRequest{Address: "arbiter", Role: RoleParticipant, Passphrase: "wrong-passphrase"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong passphrase, got %v", err)
	}
	if _, err := svc.IssueToken(TokenRequest{Address: "mallory", Role: RoleAuthority}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for foreign authority claim, got %v", err)
	}

	res, err := svc.IssueToken(TokenRequest{Address: "arbiter", Passphrase: "arbiter-passphrase"})
	if err != nil {
		t.Fatalf("issue authority: %v", err)
	}
	caller, err := svc.VerifyToken(res.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if caller.Role != RoleAuthority {
		t.Fatalf("expected role %s got %s", RoleAuthority, caller.Role)
	}
}

func TestService_IssueValidation(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.IssueToken(TokenRequest{Address: "  "}); !errors.Is(err, ErrMissingAddress) {
		t.Fatalf("expected ErrMissingAddress, got %v", err)
	}
	if _, err := svc.IssueToken(TokenRequest{Address: "alice", Role: "root"}); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestService_VerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := newTestService(t).WithClock(func() time.Time { return issued })

	res, err := svc.IssueToken(TokenRequest{Address: "alice"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	svc.WithClock(func() time.Time { return issued.Add(TokenTTL + time.Minute) })
	if _, err := svc.VerifyToken(res.Token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}

	other := NewService("arbiter", "", "other-secret").WithClock(func() time.Time { return issued })
	if _, err := other.VerifyToken(res.Token); err == nil {
		t.Fatal("expected token signed with another secret to be rejected")
	}
}

func TestHashPassphrase(t *testing.T) {
	if _, err := HashPassphrase("short"); !errors.Is(err, ErrWeakPassphrase) {
		t.Fatalf("expected ErrWeakPassphrase, got %v", err)
	}
	hash, err := HashPassphrase("long-enough")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	svc := NewService("arbiter", hash, "secret")
	if _, err := svc.IssueToken(TokenRequest{Address: "arbiter", Passphrase: "long-enough"}); err != nil {
		t.Fatalf("issue with hashed passphrase: %v", err)
	}
}

func TestService_RegistryAddressIsReserved(t *testing.T) {
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	open := newTestService(t).WithClock(func() time.Time { return issued })
	svc := newTestService(t).WithClock(func() time.Time { return issued }).WithRegistry("registry")

	if _, err := svc.IssueToken(TokenRequest{Address: "registry"}); !errors.Is(err, ErrReservedAddress) {
		t.Fatalf("expected ErrReservedAddress, got %v", err)
	}
	if _, err := svc.IssueToken(TokenRequest{Address: " registry "}); !errors.Is(err, ErrReservedAddress) {
		t.Fatalf("expected ErrReservedAddress for padded address, got %v", err)
	}

	// A token minted before the address was reserved is refused too.
	res, err := open.IssueToken(TokenRequest{Address: "registry"})
	if err != nil {
		t.Fatalf("issue without reservation: %v", err)
	}
	if _, err := svc.VerifyToken(res.Token); !errors.Is(err, ErrReservedAddress) {
		t.Fatalf("expected reserved token to be rejected, got %v", err)
	}

	if _, err := svc.IssueToken(TokenRequest{Address: "alice"}); err != nil {
		t.Fatalf("issue for participant: %v", err)
	}
}
