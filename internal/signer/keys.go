package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
)

// Values accepted by signer.key_source.
const (
	KeySourceAuto     = "auto"
	KeySourceEnv      = "env"
	KeySourceFile     = "file"
	KeySourceKeystore = "keystore"
)

const (
	EnvPrivateKey           = "XFER_PRIVATE_KEY"
	EnvPrivateKeyFile       = "XFER_PRIVATE_KEY_FILE"
	EnvKeystorePath         = "XFER_KEYSTORE_PATH"
	EnvKeystorePassword     = "XFER_KEYSTORE_PASSWORD"
	EnvKeystorePasswordFile = "XFER_KEYSTORE_PASSWORD_FILE"
)

// ErrNoKey means the auto source found no key configured at all.
var ErrNoKey = errors.New("no signing key configured")

// keyLoader reads the key for one source. configured is false when none of
// the source's variables are set.
type keyLoader func(getenv func(string) string) (key *ecdsa.PrivateKey, configured bool, err error)

var keyLoaders = map[string]keyLoader{
	KeySourceEnv:      loadEnvKey,
	KeySourceFile:     loadFileKey,
	KeySourceKeystore: loadKeystoreKey,
}

// auto tries sources in this order.
var autoSources = []string{KeySourceEnv, KeySourceFile, KeySourceKeystore}

// LoadKey resolves the signing key for source from the XFER_* variables
// read through getenv. An explicit source fails when its variables are
// unset; auto uses the first configured source and returns ErrNoKey when
// there is none.
func LoadKey(source string, getenv func(string) string) (*ecdsa.PrivateKey, error) {
	source = strings.ToLower(strings.TrimSpace(source))
	if source == "" {
		source = KeySourceAuto
	}
	if source == KeySourceAuto {
		for _, name := range autoSources {
			key, configured, err := keyLoaders[name](getenv)
			if configured {
				return key, err
			}
		}
		return nil, fmt.Errorf("%w: set %s, %s or %s", ErrNoKey, EnvPrivateKey, EnvPrivateKeyFile, EnvKeystorePath)
	}
	load, ok := keyLoaders[source]
	if !ok {
		return nil, fmt.Errorf("unsupported key source %q (expected %s|%s|%s|%s)", source, KeySourceAuto, KeySourceEnv, KeySourceFile, KeySourceKeystore)
	}
	key, configured, err := load(getenv)
	if !configured {
		return nil, fmt.Errorf("key source %s is selected but not configured", source)
	}
	return key, err
}

func loadEnvKey(getenv func(string) string) (*ecdsa.PrivateKey, bool, error) {
	raw := strings.TrimSpace(getenv(EnvPrivateKey))
	if raw == "" {
		return nil, false, nil
	}
	key, err := parseHexKey(raw)
	return key, true, err
}

func loadFileKey(getenv func(string) string) (*ecdsa.PrivateKey, bool, error) {
	path := strings.TrimSpace(getenv(EnvPrivateKeyFile))
	if path == "" {
		return nil, false, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, true, fmt.Errorf("read private key file: %w", err)
	}
	key, err := parseHexKey(string(buf))
	return key, true, err
}

func loadKeystoreKey(getenv func(string) string) (*ecdsa.PrivateKey, bool, error) {
	path := strings.TrimSpace(getenv(EnvKeystorePath))
	if path == "" {
		return nil, false, nil
	}
	password := getenv(EnvKeystorePassword)
	if strings.TrimSpace(password) == "" {
		if file := strings.TrimSpace(getenv(EnvKeystorePasswordFile)); file != "" {
			buf, err := os.ReadFile(file)
			if err != nil {
				return nil, true, fmt.Errorf("read keystore password file: %w", err)
			}
			password = strings.TrimSpace(string(buf))
		}
	}
	if strings.TrimSpace(password) == "" {
		return nil, true, fmt.Errorf("keystore password is required, set %s or %s", EnvKeystorePassword, EnvKeystorePasswordFile)
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, true, fmt.Errorf("read keystore file: %w", err)
	}
	key, err := keystore.DecryptKey(buf, password)
	if err != nil {
		return nil, true, fmt.Errorf("decrypt keystore: %w", err)
	}
	return key.PrivateKey, true, nil
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return nil, fmt.Errorf("empty private key")
	}
	pk, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return pk, nil
}
