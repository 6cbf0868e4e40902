package vault

import (
	"errors"
	"fmt"
	"sync"

	"github.com/allaspectsdev/forkline/internal/stage"
)

// Credentials is a user → password table resolved through a Vault. It
// implements stage.Credentials and can be reloaded when the configured
// users change.
type Credentials struct {
	vault *Vault

	mu        sync.RWMutex
	passwords map[string]string
}

// Compile-time assertion that Credentials can back basic auth.
var _ stage.Credentials = (*Credentials)(nil)

// NewCredentials resolves the password of every user in refs, which maps
// user names to key references. An empty reference means the user's
// default keyring entry. Users whose password cannot be resolved are left
// out; the returned error lists them, and the Credentials are still usable.
func NewCredentials(v *Vault, refs map[string]string) (*Credentials, error) {
	c := &Credentials{vault: v}
	err := c.Reload(refs)
	return c, err
}

// Reload replaces the resolved table with passwords for refs.
func (c *Credentials) Reload(refs map[string]string) error {
	passwords := make(map[string]string, len(refs))
	var errs []error
	for user, ref := range refs {
		if ref == "" {
			ref = DefaultKeyRef(user)
		}
		password, err := c.vault.ResolveKeyRef(ref)
		if err != nil {
			errs = append(errs, fmt.Errorf("user %q: %w", user, err))
			continue
		}
		passwords[user] = password
	}

	c.mu.Lock()
	c.passwords = passwords
	c.mu.Unlock()

	return errors.Join(errs...)
}

// Lookup implements stage.Credentials.
func (c *Credentials) Lookup(user string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.passwords[user]
	return p, ok
}

// Len returns the number of users with a resolved password.
func (c *Credentials) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.passwords)
}
