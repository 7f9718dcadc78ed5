package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
)

func sign(t *testing.T, secret string, c claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestJWTVerifier(t *testing.T) {
	const secret = "test-secret"
	v := NewJWTVerifier(secret, "authenticated")
	future := time.Now().Add(time.Hour).Unix()

	valid := sign(t, secret, claims{
		Email:          "a@example.com",
		StandardClaims: jwt.StandardClaims{Subject: "user-1", Audience: "authenticated", ExpiresAt: future},
	})

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr error
	}{
		{name: "valid", token: valid, want: "user-1"},
		{name: "bearer prefix", token: "Bearer " + valid, want: "user-1"},
		{name: "missing", token: "", wantErr: ErrMissingToken},
		{name: "garbage", token: "not-a-jwt", wantErr: ErrInvalidToken},
		{
			name: "wrong secret",
			token: sign(t, "other", claims{
				StandardClaims: jwt.StandardClaims{Subject: "user-1", Audience: "authenticated", ExpiresAt: future},
			}),
			wantErr: ErrInvalidToken,
		},
		{
			name: "expired",
			token: sign(t, secret, claims{
				StandardClaims: jwt.StandardClaims{Subject: "user-1", Audience: "authenticated", ExpiresAt: time.Now().Add(-time.Hour).Unix()},
			}),
			wantErr: ErrInvalidToken,
		},
		{
			name: "wrong audience",
			token: sign(t, secret, claims{
				StandardClaims: jwt.StandardClaims{Subject: "user-1", Audience: "anon", ExpiresAt: future},
			}),
			wantErr: ErrInvalidToken,
		},
		{
			name: "no subject",
			token: sign(t, secret, claims{
				StandardClaims: jwt.StandardClaims{Audience: "authenticated", ExpiresAt: future},
			}),
			wantErr: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := v.Verify(context.Background(), tt.token)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Verify() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if id.UserID != tt.want {
				t.Errorf("UserID = %q, want %q", id.UserID, tt.want)
			}
		})
	}
}
