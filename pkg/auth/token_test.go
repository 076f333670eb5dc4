package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

// makeToken builds an unsigned JWT with the given claims payload.
func makeToken(t *testing.T, claims map[string]any) string {
	t.Helper()

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("Failed to marshal claims: %v", err)
	}

	return fmt.Sprintf("%s.%s.%s", header, base64.RawURLEncoding.EncodeToString(payload), "sig")
}

// TestParseClaims tests claim extraction from a well-formed token.
func TestParseClaims(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Unix()
	token := makeToken(t, map[string]any{
		"bot":  "bot-1",
		"site": "site-1",
		"conv": "conv-1",
		"exp":  exp,
		"iat":  time.Now().Unix(),
	})

	claims, err := ParseClaims(token)
	if err != nil {
		t.Fatalf("ParseClaims failed: %v", err)
	}

	if claims.Bot != "bot-1" {
		t.Errorf("Expected bot bot-1, got %s", claims.Bot)
	}
	if claims.ConversationID() != "conv-1" {
		t.Errorf("Expected conversation conv-1, got %s", claims.ConversationID())
	}
	if claims.IsExpired() {
		t.Error("Expected token to be valid")
	}
	if claims.ExpiresIn() <= 0 {
		t.Errorf("Expected positive expiry window, got %v", claims.ExpiresIn())
	}
	if err := claims.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

// TestParseClaimsErrors tests rejection of malformed tokens.
func TestParseClaimsErrors(t *testing.T) {
	if _, err := ParseClaims(""); err == nil {
		t.Error("Expected error for empty token")
	}
	if _, err := ParseClaims("not-a-jwt"); err == nil {
		t.Error("Expected error for malformed token")
	}
}

// TestExpiredToken tests expiry detection.
func TestExpiredToken(t *testing.T) {
	token := makeToken(t, map[string]any{
		"conv": "conv-1",
		"exp":  time.Now().Add(-time.Minute).Unix(),
	})

	claims, err := ParseClaims(token)
	if err != nil {
		t.Fatalf("ParseClaims failed: %v", err)
	}

	if !claims.IsExpired() {
		t.Error("Expected token to be expired")
	}
	if err := claims.Validate(); err == nil {
		t.Error("Expected Validate to fail for expired token")
	}
}

// TestMissingExpClaim tests that tokens without exp are treated as expired.
func TestMissingExpClaim(t *testing.T) {
	token := makeToken(t, map[string]any{"conv": "conv-1"})

	claims, err := ParseClaims(token)
	if err != nil {
		t.Fatalf("ParseClaims failed: %v", err)
	}

	if !claims.IsExpired() {
		t.Error("Expected token without exp to be treated as expired")
	}
	if !claims.Expiry().IsZero() {
		t.Errorf("Expected zero expiry, got %v", claims.Expiry())
	}
}
