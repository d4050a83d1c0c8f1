package credentials

import (
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "saucetunnel"

// OpenKeyring opens the secret store. "system" uses the platform keychain,
// "file" an encrypted directory unlocked by passwordFunc.
func OpenKeyring(kind, dir string, passwordFunc keyring.PromptFunc) (keyring.Keyring, error) {
	cfg := keyring.Config{
		ServiceName: serviceName,
	}

	switch kind {
	case "", "system":
		cfg.AllowedBackends = []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
		}
	case "file":
		cfg.AllowedBackends = []keyring.BackendType{keyring.FileBackend}
		cfg.FileDir = dir
		cfg.FilePasswordFunc = passwordFunc
	default:
		return nil, fmt.Errorf("unknown keyring backend %q", kind)
	}

	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return ring, nil
}
