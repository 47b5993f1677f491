package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrGatewayURLMissing is returned when no base URL was configured.
var ErrGatewayURLMissing = errors.New("gateway url not configured")

// GatewayChecker confirms the Paystack API host answers. Any response below
// 500 counts as reachable: the root path needs no credentials and the check
// must not spend API quota.
type GatewayChecker struct {
	url    string
	client *http.Client
}

func NewGatewayChecker(url string) *GatewayChecker {
	return &GatewayChecker{
		url: url,
		client: &http.Client{
			Timeout: 3 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

func (g *GatewayChecker) HealthCheck(ctx context.Context) error {
	if g.url == "" {
		return ErrGatewayURLMissing
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, g.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach gateway: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("gateway unhealthy: unexpected status code %d", resp.StatusCode)
	}
	return nil
}
