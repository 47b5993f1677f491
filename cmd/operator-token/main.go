// Package main issues operator bearer tokens for the reconciler's
// refund and cancel endpoints.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/onnwee/donation-reconciler/internal/auth"
)

func main() {
	if err := run(os.Args[1:], os.Getenv, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "operator-token:", err)
		os.Exit(1)
	}
}

// run parses args, signs a token and writes it to out followed by a newline.
func run(args []string, getenv func(string) string, out io.Writer) error {
	fs := flag.NewFlagSet("operator-token", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("subject", "", "operator identity recorded in request logs (required)")
	ttl := fs.Duration("ttl", auth.DefaultOperatorTokenTTL, "token lifetime")
	help := fs.Bool("help", false, "display help message")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *help {
		fmt.Fprintln(out, "Donation Reconciler Operator Token")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Usage: operator-token -subject <name> [options]")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Signs with OPERATOR_JWT_SECRET.")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Options:")
		fs.PrintDefaults()
		return flag.ErrHelp
	}

	if *subject == "" {
		return errors.New("-subject is required")
	}
	if *ttl <= 0 || *ttl > 7*24*time.Hour {
		return fmt.Errorf("-ttl must be between 0 and 168h, got %s", *ttl)
	}

	svc, err := auth.NewJWTService(getenv("OPERATOR_JWT_SECRET"), "")
	if err != nil {
		return fmt.Errorf("OPERATOR_JWT_SECRET: %w", err)
	}
	token, err := svc.IssueOperatorToken(*subject, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
