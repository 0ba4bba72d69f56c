// Package main provides a CLI tool for generating admin bearer tokens for the
// local API. These tokens use the dev signing key and will NOT work in
// production.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	jwttoken "acsadmin/internal/jwt_token"
	id "acsadmin/pkg/domain"
)

const (
	// Dev signing key - matches config.go when JWT_SIGNING_KEY is not set
	devSigningKey = "dev-secret-key-change-in-production"

	defaultTokenTTL = 15 * time.Minute
)

type tokenOutput struct {
	Token     string            `json:"token"`
	Type      string            `json:"type"`
	ExpiresAt time.Time         `json:"expires_at"`
	Claims    map[string]any    `json:"claims,omitempty"`
	Usage     map[string]string `json:"usage"`
}

func main() {
	accessCmd := flag.NewFlagSet("access", flag.ExitOnError)
	inspectCmd := flag.NewFlagSet("inspect", flag.ExitOnError)

	accessAccountID := accessCmd.String("account-id", "", "Account ID (UUID). Generated if empty.")
	accessCode := accessCmd.String("code", "", "Admin code, e.g. ACS-07 (optional)")
	accessEpoch := accessCmd.Int64("epoch", 0, "Sign-out epoch of the account; must match the stored value")
	accessTTL := accessCmd.Duration("ttl", defaultTokenTTL, "Token time-to-live")
	accessKey := accessCmd.String("key", envOr("JWT_SIGNING_KEY", devSigningKey), "Signing key")
	accessJSON := accessCmd.Bool("json", false, "Output as JSON")

	inspectKey := inspectCmd.String("key", envOr("JWT_SIGNING_KEY", devSigningKey), "Signing key")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "access":
		_ = accessCmd.Parse(os.Args[2:]) //nolint:errcheck // ExitOnError
		generateAccessToken(*accessAccountID, *accessCode, *accessEpoch, *accessTTL, *accessKey, *accessJSON)
	case "inspect":
		_ = inspectCmd.Parse(os.Args[2:]) //nolint:errcheck // ExitOnError
		inspect(inspectCmd.Arg(0), *inspectKey)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`tokengen - Generate admin bearer tokens for the ACS admin API

WARNING: These tokens use the dev signing key unless -key or JWT_SIGNING_KEY
         is set. Only use for local development and testing.

Usage:
  tokengen <command> [flags]

Commands:
  access    Generate an access token (JWT)
  inspect   Validate a token and print its claims

Examples:
  # Token for an existing account that has never signed out everywhere
  tokengen access -account-id "550e8400-e29b-41d4-a716-446655440000" -code ACS-07

  # Token with a custom TTL, as JSON
  tokengen access -ttl 1h -json

  # Check a token
  tokengen inspect <token>`)
}

func generateAccessToken(accountID, code string, epoch int64, ttl time.Duration, key string, jsonOutput bool) {
	aid := parseOrGenerateAccountID(accountID)
	svc := jwttoken.NewJWTService(key, jwttoken.DefaultIssuer, jwttoken.DefaultAudience, ttl)

	token, expiresAt, err := svc.Issue(aid, id.AccountCode(code), epoch, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		printJSON(tokenOutput{
			Token:     token,
			Type:      "access_token",
			ExpiresAt: expiresAt,
			Claims: map[string]any{
				"account_id": aid.String(),
				"code":       code,
				"epoch":      epoch,
			},
			Usage: map[string]string{
				"header": "Authorization: Bearer <token>",
			},
		})
		return
	}

	fmt.Println("Access Token (JWT)")
	fmt.Println("==================")
	fmt.Printf("Account ID:  %s\n", aid)
	if code != "" {
		fmt.Printf("Code:        %s\n", code)
	}
	fmt.Printf("Epoch:       %d\n", epoch)
	fmt.Printf("Expires At:  %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("Token:")
	fmt.Println(token)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  curl -H \"Authorization: Bearer <token>\" http://localhost:8080/sessions")
}

func inspect(token, key string) {
	if token == "" {
		fmt.Fprintln(os.Stderr, "Usage: tokengen inspect <token>")
		os.Exit(1)
	}
	svc := jwttoken.NewJWTService(key, jwttoken.DefaultIssuer, jwttoken.DefaultAudience, 0)
	claims, err := svc.Validate(token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid token: %v\n", err)
		os.Exit(1)
	}
	printJSON(claims)
}

func parseOrGenerateAccountID(input string) id.AccountID {
	if input == "" {
		return id.NewAccountID()
	}
	parsed, err := id.ParseAccountID(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid account-id UUID: %s\n", input)
		os.Exit(1)
	}
	return parsed
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}
