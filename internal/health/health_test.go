package health

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestDBChecker_Creation(t *testing.T) {
	db := &sql.DB{}
	if checker := NewDBChecker(db); checker.db != db {
		t.Error("expected checker db to match provided db")
	}
}

func TestRedisChecker_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	if err := NewRedisChecker(client).HealthCheck(context.Background()); err == nil {
		t.Error("expected an error for an unreachable Redis")
	}
}

func TestGatewayChecker(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"ok", http.StatusOK, false},
		{"unauthenticated root", http.StatusUnauthorized, false},
		{"not found", http.StatusNotFound, false},
		{"server error", http.StatusInternalServerError, true},
		{"unavailable", http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodHead {
					t.Errorf("method = %s, want HEAD", r.Method)
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			err := NewGatewayChecker(server.URL).HealthCheck(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("HealthCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGatewayChecker_EmptyURL(t *testing.T) {
	if err := NewGatewayChecker("").HealthCheck(context.Background()); !errors.Is(err, ErrGatewayURLMissing) {
		t.Errorf("error = %v, want ErrGatewayURLMissing", err)
	}
}

func TestGatewayChecker_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := NewGatewayChecker(server.URL).HealthCheck(ctx); err == nil {
		t.Error("expected an error after the context deadline")
	}
}
