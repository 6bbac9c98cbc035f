// Package secrets resolves secret values referenced from the connect-time
// configuration, so credentials for create-secret and attach statements never
// live in the config file itself. Providers: an encrypted internal database
// store, HashiCorp Vault, AWS Secrets Manager, ansible-vault files, and
// in-memory/no-op ones for tests.
package secrets

import "errors"

// Provider is the minimal surface the setup layer needs.
type Provider interface {
	Get(key string) (string, error)
}

// MemoryProvider keeps secrets in a map. For tests only.
type MemoryProvider struct {
	secrets map[string]string
}

// NewMemoryProvider creates a MemoryProvider with the given secrets.
func NewMemoryProvider(secrets map[string]string) *MemoryProvider {
	return &MemoryProvider{secrets: secrets}
}

// Get returns the secret for the given key.
func (m *MemoryProvider) Get(key string) (string, error) {
	if val, ok := m.secrets[key]; ok {
		return val, nil
	}
	return "", errors.New("secret not found")
}

// NoOpProvider fails every lookup. Used when no provider is configured but the
// config still references secrets.
type NoOpProvider struct{}

// Get returns an error on every key.
func (p *NoOpProvider) Get(_ string) (string, error) {
	return "", errors.New("no secrets provider configured")
}
