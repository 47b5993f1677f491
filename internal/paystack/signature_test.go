package paystack

import "testing"

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"event":"charge.success","data":{"reference":"r1"}}`)
	sig := Sign("sk_test_secret", payload)

	tests := []struct {
		name      string
		secret    string
		payload   []byte
		signature string
		want      bool
	}{
		{"valid", "sk_test_secret", payload, sig, true},
		{"uppercase hex", "sk_test_secret", payload, upper(sig), true},
		{"wrong secret", "sk_live_secret", payload, sig, false},
		{"tampered payload", "sk_test_secret", []byte(`{"event":"charge.failed"}`), sig, false},
		{"empty signature", "sk_test_secret", payload, "", false},
		{"empty secret", "", payload, Sign("", payload), false},
		{"truncated", "sk_test_secret", payload, sig[:len(sig)-2], false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(tt.secret, tt.payload, tt.signature); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSign_Length(t *testing.T) {
	// SHA-512 digest is 64 bytes, 128 hex characters.
	if got := len(Sign("k", []byte("x"))); got != 128 {
		t.Errorf("expected 128 hex chars, got %d", got)
	}
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
