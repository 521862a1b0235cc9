package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"
	"golang.org/x/crypto/bcrypt"

	"admin-approvals/api"
	"admin-approvals/domain"
	"admin-approvals/storage"
)

func init() {
	domain.PasswordCost = bcrypt.MinCost
}

func newAuth(t *testing.T) *api.Auth {
	t.Helper()
	auth, err := api.NewAuth(api.AuthConfig{Secret: "dev-secret", Issuer: "admin-approvals"}, nil)
	if err != nil {
		t.Fatalf("new auth: %v", err)
	}
	return auth
}

func TestGenerateTokensNumbersActors(t *testing.T) {
	auth := newAuth(t)
	tokens, err := generateTokens(auth, 3, "admin", 7, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(tokens) != 3 {
		t.Fatalf("expected 3 tokens, got %d", len(tokens))
	}
	for i, want := range []string{"admin-7", "admin-8", "admin-9"} {
		id, err := auth.IdentityFromToken(context.Background(), tokens[i])
		if err != nil {
			t.Fatalf("verify token %d: %v", i, err)
		}
		if id.ActorID != want {
			t.Fatalf("token %d: expected %s, got %s", i, want, id.ActorID)
		}
	}
}

func TestGenerateTokensExplicitActor(t *testing.T) {
	auth := newAuth(t)
	tokens, err := generateTokens(auth, 1, "ignored", 1, []string{"actor-42"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	id, err := auth.IdentityFromToken(context.Background(), tokens[0])
	if err != nil || id.ActorID != "actor-42" {
		t.Fatalf("unexpected identity %#v err=%v", id, err)
	}
}

func TestWriteTokensCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	if err := writeTokens(path, []string{"a", "b"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got []string
	if err := sonic.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected tokens: %v", got)
	}
}

func TestLookupActor(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "approvals.db")
	ctx := context.Background()
	store, err := storage.Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	actor, err := store.CreateActor(ctx, domain.NewActor{Email: "admin@example.com", Password: "password", IsAdmin: true})
	if err != nil {
		t.Fatalf("create actor: %v", err)
	}
	store.Close()

	id, err := lookupActor(dbPath, "admin@example.com")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if id != actor.ID {
		t.Fatalf("expected %s, got %s", actor.ID, id)
	}
	if _, err := lookupActor(dbPath, "missing@example.com"); err == nil {
		t.Fatalf("expected error for unknown email")
	}
	if _, err := lookupActor("", "admin@example.com"); err == nil {
		t.Fatalf("expected error without database path")
	}
}
