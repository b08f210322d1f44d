package provider

import (
	"fmt"
	"strings"
)

// NewClient is the default Factory: it builds a real client for a named venue.
// The exchange manager takes a Factory so tests can swap in fakes.
func NewClient(name string, creds Credentials) (Client, error) {
	switch strings.ToLower(name) {
	case "binance":
		return NewBinanceClient(creds), nil
	case "okx":
		return NewOKXClient(creds), nil
	case "chainlink":
		return NewChainlinkClient(), nil
	}
	return nil, fmt.Errorf("unknown provider %q", name)
}

// RequiresCredentials reports whether a venue has an authentication surface at
// all. Credential-free venues skip the missing-credentials failure path.
func RequiresCredentials(name string) bool {
	return strings.ToLower(name) != "chainlink"
}
