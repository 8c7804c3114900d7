package auth

import (
	"errors"
	"testing"
)

func TestSecretVerifier(t *testing.T) {
	cases := []struct {
		name     string
		expected string
		secret   string
		wantErr  error
	}{
		{"match", "x", "x", nil},
		{"mismatch", "x", "y", ErrInvalidCredentials},
		{"missing", "x", "", ErrMissingCredentials},
		{"auth disabled", "", "", nil},
		{"auth disabled ignores secret", "", "anything", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := SecretVerifier{Expected: tc.expected}.Verify(tc.secret)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Verify=%v, want %v", err, tc.wantErr)
			}
		})
	}
}
