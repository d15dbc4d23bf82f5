package auth

import (
	"context"
	"strings"
	"testing"
)

func TestVerifyMintsDistinctIdentities(t *testing.T) {
	verifier := NewProfileVerifier()

	first, err := verifier.Verify(context.Background(), `{"name":"Ada"}`)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	second, err := verifier.Verify(context.Background(), `{"name":"Ada"}`)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if first.UserID == "" || first.UserID == second.UserID {
		t.Fatalf("expected distinct non-empty participant ids, got %q and %q", first.UserID, second.UserID)
	}
	if first.DisplayName != "Ada" {
		t.Fatalf("expected display name preserved, got %q", first.DisplayName)
	}
	if first.Color != second.Color {
		t.Fatalf("expected the same name to land on the same palette color, got %q and %q", first.Color, second.Color)
	}
}

func TestVerifyAcceptsExplicitColor(t *testing.T) {
	verifier := NewProfileVerifier()

	identity, err := verifier.Verify(context.Background(), `{"name":"Grace","color":"#2a9d8f"}`)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity.Color != "#2a9d8f" {
		t.Fatalf("expected the chosen color, got %q", identity.Color)
	}
}

func TestVerifyRejectsBadCredentials(t *testing.T) {
	verifier := NewProfileVerifier()

	cases := map[string]string{
		"empty credential": "   ",
		"malformed json":   `{"name":`,
		"missing name":     `{"color":"#112233"}`,
		"blank name":       `{"name":"  "}`,
		"name too long":    `{"name":"` + strings.Repeat("a", 65) + `"}`,
		"bad color":        `{"name":"Ada","color":"red"}`,
	}
	for label, credential := range cases {
		if _, err := verifier.Verify(context.Background(), credential); err == nil {
			t.Fatalf("%s: expected verification to fail", label)
		}
	}
}
