package identity

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

// makeToken builds an unsigned JWT with the given claims. FromToken never
// verifies the signature, so a fixed fake signature segment is enough.
func makeToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	enc := func(v any) string {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		return base64.RawURLEncoding.EncodeToString(raw)
	}
	header := enc(map[string]any{"alg": "HS256", "typ": "JWT"})
	return header + "." + enc(claims) + ".c2ln"
}

func TestFromToken(t *testing.T) {
	token := makeToken(t, map[string]any{
		"userId":    float64(7),
		"username":  "olena",
		"firstName": "Olena",
		"lastName":  "Kovalenko",
		"role":      "manager",
	})

	u, err := FromToken(token)
	if err != nil {
		t.Fatalf("FromToken() error = %v", err)
	}
	if u.ID != 7 {
		t.Errorf("ID = %d, want 7", u.ID)
	}
	if u.Username != "olena" || u.Role != "manager" {
		t.Errorf("user = %+v", u)
	}
	if got := u.DisplayName(); got != "Olena Kovalenko" {
		t.Errorf("DisplayName() = %q", got)
	}
}

func TestFromTokenMissingUserID(t *testing.T) {
	token := makeToken(t, map[string]any{"username": "olena"})
	if _, err := FromToken(token); err == nil {
		t.Error("FromToken() expected error for token without userId")
	}
}

func TestFromTokenMalformed(t *testing.T) {
	if _, err := FromToken("not-a-jwt"); err == nil {
		t.Error("FromToken() expected error for malformed token")
	}
}

func TestDisplayNameFallsBackToUsername(t *testing.T) {
	u := &User{ID: 1, Username: "sasha"}
	if got := u.DisplayName(); got != "sasha" {
		t.Errorf("DisplayName() = %q, want sasha", got)
	}
}
