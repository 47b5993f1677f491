package main

import (
	"bytes"
	"errors"
	"flag"
	"strings"
	"testing"

	"github.com/onnwee/donation-reconciler/internal/auth"
)

func env(secret string) func(string) string {
	return func(key string) string {
		if key == "OPERATOR_JWT_SECRET" {
			return secret
		}
		return ""
	}
}

func TestRun_IssuesValidToken(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"-subject", "ops@example.org", "-ttl", "1h"}, env("cli-secret"), &out); err != nil {
		t.Fatalf("run: %v", err)
	}

	svc, err := auth.NewJWTService("cli-secret", "")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := svc.ValidateOperatorToken(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("issued token rejected: %v", err)
	}
	if claims.Subject != "ops@example.org" {
		t.Errorf("subject = %q", claims.Subject)
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		secret string
	}{
		{"missing subject", nil, "cli-secret"},
		{"missing secret", []string{"-subject", "ops"}, ""},
		{"ttl too long", []string{"-subject", "ops", "-ttl", "200h"}, "cli-secret"},
		{"negative ttl", []string{"-subject", "ops", "-ttl", "-1h"}, "cli-secret"},
		{"unknown flag", []string{"-nope"}, "cli-secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := run(tt.args, env(tt.secret), &out); err == nil {
				t.Errorf("expected error, output %q", out.String())
			}
		})
	}
}

func TestRun_Help(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"-help"}, env(""), &out)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("err = %v, want flag.ErrHelp", err)
	}
	if !strings.Contains(out.String(), "Usage: operator-token") {
		t.Errorf("help output = %q", out.String())
	}
}
