package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"todosync/internal/service"
)

// IdentityFile records the user that signed in with the stored token.
// It implements service.IdentityProvider, so a deleted file means signed out.
type IdentityFile struct {
	Path string
}

// CurrentUser implements service.IdentityProvider.
func (f *IdentityFile) CurrentUser(ctx context.Context) (service.Identity, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return service.Identity{}, service.ErrNoIdentity
		}
		return service.Identity{}, fmt.Errorf("reading identity: %w", err)
	}

	var id service.Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return service.Identity{}, fmt.Errorf("invalid identity file: %w", err)
	}
	if id.ID == "" {
		return service.Identity{}, service.ErrNoIdentity
	}
	return id, nil
}

// Save writes id with mode 0600.
func (f *IdentityFile) Save(id service.Identity) error {
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0700); err != nil {
		return err
	}
	return os.WriteFile(f.Path, data, 0600)
}

// Remove deletes the identity. A missing file is not an error.
func (f *IdentityFile) Remove() error {
	err := os.Remove(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
