package httpapi

import (
	"testing"
	"time"

	"github.com/alpenava/home-assistant-nayax/internal/domain"
)

func TestLoginAndParseToken(t *testing.T) {
	auth := NewAuthManager("a-very-long-test-secret-for-hmac", time.Hour, "operator", "s3cret-pass")

	resp, err := auth.Login(domain.LoginRequest{Username: "operator", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.AccessToken == "" || resp.Role != "operator" {
		t.Fatalf("unexpected response %+v", resp)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "operator" || actor.Role != "operator" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	auth := NewAuthManager("a-very-long-test-secret-for-hmac", time.Hour, "operator", "s3cret-pass")

	if _, err := auth.Login(domain.LoginRequest{Username: "operator", Password: "wrong"}); err == nil {
		t.Fatal("wrong password should fail")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "intruder", Password: "s3cret-pass"}); err == nil {
		t.Fatal("wrong username should fail")
	}
}

func TestLoginUsernameIsCaseInsensitive(t *testing.T) {
	auth := NewAuthManager("a-very-long-test-secret-for-hmac", time.Hour, "Operator", "s3cret-pass")

	if _, err := auth.Login(domain.LoginRequest{Username: "OPERATOR", Password: "s3cret-pass"}); err != nil {
		t.Fatalf("login should be case-insensitive on username: %v", err)
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	auth := NewAuthManager("a-very-long-test-secret-for-hmac", time.Hour, "operator", "s3cret-pass")

	if _, err := auth.ParseToken("not-a-token"); err == nil {
		t.Fatal("garbage token should fail")
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	authA := NewAuthManager("secret-a-secret-a-secret-a-secret", time.Hour, "operator", "s3cret-pass")
	authB := NewAuthManager("secret-b-secret-b-secret-b-secret", time.Hour, "operator", "s3cret-pass")

	resp, err := authA.Login(domain.LoginRequest{Username: "operator", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := authB.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("token signed with another secret should fail")
	}
}

func TestExpiredToken(t *testing.T) {
	auth := NewAuthManager("a-very-long-test-secret-for-hmac", time.Nanosecond, "operator", "s3cret-pass")

	resp, err := auth.Login(domain.LoginRequest{Username: "operator", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := auth.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("expired token should fail")
	}
}

func TestAuthDisabledWithoutPassword(t *testing.T) {
	auth := NewAuthManager("a-very-long-test-secret-for-hmac", time.Hour, "operator", "")

	if auth.Enabled() {
		t.Fatal("auth should be disabled without an operator password")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "operator", Password: ""}); err == nil {
		t.Fatal("login should be refused when not configured")
	}
}
