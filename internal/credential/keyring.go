// Package credential stores secrets in the system keyring with a
// file-backed fallback, and resolves them with an environment
// variable override for headless runs.
package credential

import (
	"fmt"
	"os"

	"github.com/99designs/keyring"
)

const serviceName = "inboxzero"

// Known credential keys and their environment overrides.
const (
	KeyGroqAPIKey   = "groq_api_key"
	KeyIMAPPassword = "imap_password"

	EnvGroqAPIKey   = "GROQ_API_KEY"
	EnvIMAPPassword = "INBOXZERO_IMAP_PASSWORD"
)

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/inboxzero/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("inboxzero-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// Resolve returns the credential, preferring the environment variable
// when set. A value found in the environment is never written back to
// the keyring.
func Resolve(key, envVar string) (string, error) {
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}
	return Get(key)
}

// GroqAPIKey resolves the Groq API key.
func GroqAPIKey() (string, error) {
	return Resolve(KeyGroqAPIKey, EnvGroqAPIKey)
}

// IMAPPassword resolves the IMAP account password.
func IMAPPassword() (string, error) {
	return Resolve(KeyIMAPPassword, EnvIMAPPassword)
}
