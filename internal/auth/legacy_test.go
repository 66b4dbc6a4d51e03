package auth

import (
	"testing"
	"time"
)

func TestLegacyTokenRoundTrip(t *testing.T) {
	token, err := IssueLegacyToken("secret", "admin-1", "admin@example.com", time.Hour)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	claims, err := ValidateLegacyToken(token, "secret")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if claims.UserID != "admin-1" || claims.Email != "admin@example.com" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestLegacyToken_WrongSecret(t *testing.T) {
	token, _ := IssueLegacyToken("secret", "admin-1", "", 0)
	if _, err := ValidateLegacyToken(token, "other"); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestLegacyToken_NonPositiveTTLHasNoExpiry(t *testing.T) {
	token, _ := IssueLegacyToken("secret", "admin-1", "", -time.Minute)
	if _, err := ValidateLegacyToken(token, "secret"); err != nil {
		t.Fatalf("expected token without expiry to validate, got %v", err)
	}
}
