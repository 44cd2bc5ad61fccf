package httpapi

import (
	"context"
	"testing"
	"time"

	"github.com/davinic7/tienda2-sub000/internal/domain"
	"github.com/davinic7/tienda2-sub000/internal/store/memory"
)

func TestLoginAndParseToken(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, memory.NewSeeded())

	resp, err := auth.Login(context.Background(), domain.LoginRequest{
		Username: "vendedor",
		Password: "vendedor123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != domain.RoleSeller {
		t.Fatalf("expected seller role, got %s", resp.Role)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "vendedor" || actor.Role != domain.RoleSeller {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, memory.NewSeeded())

	if _, err := auth.ParseToken("not-a-token"); err == nil {
		t.Fatalf("expected error for garbage token")
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	repo := memory.NewSeeded()
	issuer := NewAuthManager("secret-one", time.Hour, repo)
	verifier := NewAuthManager("secret-two", time.Hour, repo)

	resp, err := issuer.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected error for token signed with another secret")
	}
}

func TestLoginUnknownUser(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, memory.NewSeeded())

	if _, err := auth.Login(context.Background(), domain.LoginRequest{
		Username: "nadie",
		Password: "whatever",
	}); err == nil {
		t.Fatalf("expected error for unknown user")
	}
}
