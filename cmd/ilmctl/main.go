// Package main provides a small operator CLI for local checks: inspecting the
// booking anon key and minting application ids.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"ilm/internal/booking"
	"ilm/internal/platform/config"
)

type keyOutput struct {
	HasExpiry bool   `json:"has_expiry"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Expired   bool   `json:"expired"`
	ExpiresIn string `json:"expires_in,omitempty"`
}

func main() {
	keyCmd := flag.NewFlagSet("anonkey", flag.ExitOnError)
	keyValue := keyCmd.String("key", os.Getenv("ILM_BOOKING_ANON_KEY"), "Anon key (defaults to ILM_BOOKING_ANON_KEY)")
	keyJSON := keyCmd.Bool("json", false, "Output as JSON")

	idCmd := flag.NewFlagSet("appid", flag.ExitOnError)
	idCount := idCmd.Int("n", 1, "How many ids to generate")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "anonkey":
		_ = keyCmd.Parse(os.Args[2:])
		if err := inspectKey(*keyValue, *keyJSON, time.Now()); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	case "appid":
		_ = idCmd.Parse(os.Args[2:])
		for range *idCount {
			fmt.Println(booking.GenerateApplicationID(time.Now()))
		}
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func inspectKey(key string, asJSON bool, now time.Time) error {
	if key == "" {
		return fmt.Errorf("no key given; pass -key or set ILM_BOOKING_ANON_KEY")
	}
	exp, ok, err := config.AnonKeyExpiry(key)
	if err != nil {
		return err
	}
	out := keyOutput{HasExpiry: ok}
	if ok {
		out.ExpiresAt = exp.UTC().Format(time.RFC3339)
		out.Expired = !exp.After(now)
		if !out.Expired {
			out.ExpiresIn = exp.Sub(now).Round(time.Hour).String()
		}
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	switch {
	case !ok:
		fmt.Println("anon key has no expiry")
	case out.Expired:
		fmt.Printf("anon key EXPIRED at %s\n", out.ExpiresAt)
	default:
		fmt.Printf("anon key valid until %s (%s)\n", out.ExpiresAt, out.ExpiresIn)
	}
	return nil
}

func printUsage() {
	fmt.Println(`ilmctl - local operator checks

Usage:
  ilmctl anonkey [-key TOKEN] [-json]   Show when the booking anon key expires
  ilmctl appid [-n COUNT]               Generate booking application ids`)
}
