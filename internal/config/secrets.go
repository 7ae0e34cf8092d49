package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const secretsService = "dealscope"

// ErrSecretNotFound is returned when a secret has not been stored.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore reads and writes named secrets.
type SecretStore interface {
	Get(account string) (string, error)
	Set(account, value string) error
}

// fileSecrets keeps secrets in a 0600 JSON file grouped by service:
// {"dealscope": {"llm_api_key": "..."}}.
type fileSecrets struct {
	mu   sync.Mutex
	path string
}

// NewSecretStore returns the store at $XDG_DATA_HOME/dealscope/secrets.json.
func NewSecretStore() SecretStore {
	return &fileSecrets{path: secretsFilePath()}
}

func secretsFilePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "dealscope", "secrets.json")
}

func (s *fileSecrets) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	if secrets == nil {
		secrets = map[string]map[string]string{}
	}
	return secrets, nil
}

func (s *fileSecrets) Get(account string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secrets, err := s.read()
	if err != nil {
		return "", err
	}
	val, ok := secrets[secretsService][account]
	if !ok || val == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, account)
	}
	return val, nil
}

func (s *fileSecrets) Set(account, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	secrets, err := s.read()
	if err != nil {
		// Rewrite a corrupt file rather than refusing to store.
		secrets = map[string]map[string]string{}
	}
	if secrets[secretsService] == nil {
		secrets[secretsService] = map[string]string{}
	}
	secrets[secretsService][account] = value

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, out, 0o600)
}

const apiTokenAccount = "server_api_token"

// GetAPIToken returns the bearer token guarding the HTTP API. The
// DEALSCOPE_SERVER_API_TOKEN variable wins; otherwise the stored token is
// used, and a new random token is generated and stored on first use.
func GetAPIToken(secrets SecretStore) (string, error) {
	if tok := os.Getenv("DEALSCOPE_SERVER_API_TOKEN"); tok != "" {
		return tok, nil
	}
	tok, err := secrets.Get(apiTokenAccount)
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, ErrSecretNotFound) {
		return "", err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	tok = hex.EncodeToString(buf)
	if err := secrets.Set(apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return tok, nil
}
