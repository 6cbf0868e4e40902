package vault

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const serviceName = "forkline"

// ErrNotFound is returned when no password is stored for a user.
var ErrNotFound = errors.New("vault: no password found")

// Vault provides secure password storage using the OS keychain, with
// fallback to environment variables.
type Vault struct{}

// New creates a new Vault instance.
func New() *Vault {
	return &Vault{}
}

// Set stores the password for user in the OS keychain.
func (v *Vault) Set(user, password string) error {
	if user == "" {
		return fmt.Errorf("vault: empty user name")
	}
	return keyring.Set(serviceName, user, password)
}

// Get retrieves the password for user. It first checks the OS keychain,
// then falls back to the environment variable FORKLINE_PASSWORD_{USER}.
func (v *Vault) Get(user string) (string, error) {
	secret, err := keyring.Get(serviceName, user)
	if err == nil && secret != "" {
		return secret, nil
	}

	envKey := EnvVar(user)
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}

	return "", fmt.Errorf("%w for user %q: not in keychain and %s not set", ErrNotFound, user, envKey)
}

// Delete removes the password for user from the OS keychain.
func (v *Vault) Delete(user string) error {
	return keyring.Delete(serviceName, user)
}

// List returns the subset of users that currently have a password, in
// either the keychain or the environment. The keychain cannot be
// enumerated, so candidates come from the caller (usually the configured
// auth users).
func (v *Vault) List(candidates []string) []string {
	var found []string
	for _, user := range candidates {
		if _, err := v.Get(user); err == nil {
			found = append(found, user)
		}
	}
	return found
}

// EnvVar returns the environment variable consulted for user's password.
// Characters other than letters and digits become underscores.
func EnvVar(user string) string {
	var b strings.Builder
	b.WriteString("FORKLINE_PASSWORD_")
	for _, r := range strings.ToUpper(user) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// DefaultKeyRef is the key reference used for users configured without one.
func DefaultKeyRef(user string) string {
	return "keyring://" + serviceName + "/" + user
}

// ResolveKeyRef parses a key reference and retrieves the secret it names.
// Supported formats:
//   - "keyring://forkline/<user>"
//   - "env:VARIABLE_NAME"
//   - "file:///path/to/secret"
func (v *Vault) ResolveKeyRef(keyRef string) (string, error) {
	switch {
	case strings.HasPrefix(keyRef, "keyring://"):
		path := strings.TrimPrefix(keyRef, "keyring://")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] != serviceName || parts[1] == "" {
			return "", fmt.Errorf("invalid key reference format: %q (expected \"keyring://forkline/<user>\")", keyRef)
		}
		return v.Get(parts[1])

	case strings.HasPrefix(keyRef, "env:"):
		envVar := strings.TrimPrefix(keyRef, "env:")
		if val := os.Getenv(envVar); val != "" {
			return val, nil
		}
		return "", fmt.Errorf("environment variable %q is not set", envVar)

	case strings.HasPrefix(keyRef, "file://"):
		filePath := strings.TrimPrefix(keyRef, "file://")
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("reading key file %q: %w", filePath, err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("key file %q is empty", filePath)
		}
		return secret, nil
	}

	return "", fmt.Errorf("invalid key reference format: %q (expected \"keyring://forkline/<user>\", \"env:VARIABLE_NAME\", or \"file:///path/to/secret\")", keyRef)
}
