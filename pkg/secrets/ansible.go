package secrets

import (
	"fmt"
	"log"
	"os"

	vault "github.com/sosedoff/ansible-vault-go"
	yaml "gopkg.in/yaml.v3"
)

// AnsibleVaultProvider reads secrets from an ansible-vault encrypted yaml file.
type AnsibleVaultProvider struct {
	data map[string]any
}

// NewAnsibleVaultProvider decrypts the vault file and keeps its key/value pairs.
func NewAnsibleVaultProvider(vaultPath, secret string) (*AnsibleVaultProvider, error) {
	fi, err := os.Lstat(vaultPath)
	if err != nil {
		return nil, fmt.Errorf("error get fileinfo of: %s", vaultPath)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", vaultPath)
	}

	decrypted, err := vault.DecryptFile(vaultPath, secret)
	if err != nil {
		return nil, fmt.Errorf("error decrypting file: %s", vaultPath)
	}
	log.Printf("[INFO] ansible vault file decrypted")

	m := make(map[string]any)
	if err = yaml.Unmarshal([]byte(decrypted), &m); err != nil {
		return nil, fmt.Errorf("error during unmarshaling yaml file")
	}
	return &AnsibleVaultProvider{data: m}, nil
}

// Get returns the decrypted value for key.
func (p *AnsibleVaultProvider) Get(key string) (string, error) {
	if v, ok := p.data[key]; ok {
		return fmt.Sprintf("%v", v), nil
	}
	return "", fmt.Errorf("not found key: %v", key)
}
