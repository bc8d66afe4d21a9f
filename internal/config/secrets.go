package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

const (
	keychainService  = "fcsentinel"
	apiTokenAccount  = "api_token"
	oracleKeyAccount = "oracle_api_key"
)

// Keychain reads and writes secrets in the platform secret store.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// GetAPIToken returns the bearer token guarding the management API.
// SENTINEL_API_TOKEN wins; otherwise the token is read from kc, and
// generated and stored on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if tok := os.Getenv("SENTINEL_API_TOKEN"); tok != "" {
		return tok, nil
	}
	if tok, err := kc.Get(keychainService, apiTokenAccount); err == nil && tok != "" {
		return tok, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := kc.Set(keychainService, apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}

// SetOracleAPIKey stores the hosted model API key in the secret store.
func SetOracleAPIKey(kc Keychain, key string) error {
	return kc.Set(keychainService, oracleKeyAccount, key)
}
