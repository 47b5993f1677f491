package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/donation-reconciler/internal/auth"
)

func TestOperatorAuth(t *testing.T) {
	svc, err := auth.NewJWTService("operator-test-secret", "")
	if err != nil {
		t.Fatal(err)
	}
	good, _ := svc.IssueOperatorToken("ops@example.org", time.Hour)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{"valid", "Bearer " + good, http.StatusOK, ""},
		{"missing", "", http.StatusUnauthorized, "missing_token"},
		{"wrong scheme", "Basic " + good, http.StatusUnauthorized, "missing_token"},
		{"garbage", "Bearer nope", http.StatusUnauthorized, "invalid_token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var subject string
			h := OperatorAuth(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				subject = GetOperator(r.Context())
			}))
			req := httptest.NewRequest(http.MethodPost, "/operator/donations/d/refund", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantCode == "" {
				if subject != "ops@example.org" {
					t.Errorf("operator = %q", subject)
				}
				return
			}
			if !strings.Contains(rec.Body.String(), tt.wantCode) {
				t.Errorf("body = %s, want code %s", rec.Body.String(), tt.wantCode)
			}
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("WWW-Authenticate header missing")
			}
		})
	}
}
