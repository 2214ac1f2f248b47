package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/selimbenhamida/revend-backend/pkg/config"
	"github.com/selimbenhamida/revend-backend/pkg/enums"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "test-secret",
		Issuer:            "revend-test",
		ExpirationMinutes: 30,
	}
}

func TestMintAndParseRoundTrip(t *testing.T) {
	cfg := testJWTConfig()
	userID := uuid.New()

	token, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{
		UserID: userID,
		Role:   enums.RoleCustomer,
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	claims, err := ParseAccessToken(cfg, token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != userID {
		t.Fatalf("unexpected user id %s", claims.UserID)
	}
	if claims.Role != enums.RoleCustomer {
		t.Fatalf("unexpected role %s", claims.Role)
	}
	if claims.ID == "" {
		t.Fatal("expected generated jti")
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{
		UserID: uuid.New(),
		Role:   enums.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	other := cfg
	other.Secret = "different"
	if _, err := ParseAccessToken(other, token); err == nil {
		t.Fatal("expected signature failure")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAccessToken(cfg, time.Now().Add(-2*time.Hour), AccessTokenPayload{
		UserID: uuid.New(),
		Role:   enums.RoleCustomer,
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ParseAccessToken(cfg, token); err == nil {
		t.Fatal("expected expiry failure")
	}
}

func TestMintValidation(t *testing.T) {
	cfg := testJWTConfig()

	if _, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{Role: enums.RoleCustomer}); err == nil {
		t.Fatal("expected missing user id to fail")
	}
	if _, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: "ghost"}); err == nil {
		t.Fatal("expected unknown role to fail")
	}

	broken := cfg
	broken.Secret = ""
	if _, err := MintAccessToken(broken, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.RoleCustomer}); err == nil {
		t.Fatal("expected missing secret to fail")
	}
}
