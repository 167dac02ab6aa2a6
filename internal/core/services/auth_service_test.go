package services

import (
	"errors"
	"testing"
	"time"
)

func TestLoginAndValidate(t *testing.T) {
	svc := NewAuthService("test-secret", time.Hour, "admin", "hunter2")

	token, err := svc.Login("admin", "hunter2")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Username != "admin" {
		t.Errorf("Username = %q, want admin", claims.Username)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := NewAuthService("test-secret", time.Hour, "admin", "hunter2")

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "admin", "wrong"},
		{"wrong username", "root", "hunter2"},
		{"both wrong", "root", "wrong"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Login(tt.username, tt.password); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc := NewAuthService("test-secret", -time.Minute, "admin", "hunter2")

	token, err := svc.Login("admin", "hunter2")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := svc.ValidateToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("ValidateToken() error = %v, want ErrExpiredToken", err)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewAuthService("secret-a", time.Hour, "admin", "hunter2")
	verifier := NewAuthService("secret-b", time.Hour, "admin", "hunter2")

	token, err := issuer.Login("admin", "hunter2")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := verifier.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateToken() error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := NewAuthService("test-secret", time.Hour, "admin", "hunter2")
	if _, err := svc.ValidateToken("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateToken() error = %v, want ErrInvalidToken", err)
	}
}
