// Package credential stores the OAuth token and the signed-in identity.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"

	"todosync/internal/config"
)

var (
	// ErrNoToken is returned when no token has been stored.
	ErrNoToken = errors.New("no stored token")

	// ErrNoOAuthClient is returned when oauth_client.json is missing.
	ErrNoOAuthClient = errors.New("oauth_client.json not found")
)

// TokenStore persists the OAuth token between invocations.
type TokenStore interface {
	Load() (*oauth2.Token, error)
	Save(tok *oauth2.Token) error
	// Remove deletes the token. Removing a missing token returns ErrNoToken.
	Remove() error
}

// Open returns the token store selected by the token_store setting.
func Open(cfg *config.Config) (TokenStore, error) {
	switch cfg.Settings.TokenStore {
	case config.TokenStoreKeyring:
		return OpenKeyring(cfg.Dir)
	case config.TokenStoreFile, "":
		return &FileTokenStore{Path: cfg.TokenPath()}, nil
	default:
		return nil, fmt.Errorf("unknown token store %q", cfg.Settings.TokenStore)
	}
}

// FileTokenStore keeps the token in a JSON file with mode 0600.
type FileTokenStore struct {
	Path string
}

// Load implements TokenStore.
func (s *FileTokenStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("reading token: %w", err)
	}
	return decodeToken(data)
}

// Save implements TokenStore.
func (s *FileTokenStore) Save(tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0700); err != nil {
		return err
	}
	return os.WriteFile(s.Path, data, 0600)
}

// Remove implements TokenStore.
func (s *FileTokenStore) Remove() error {
	err := os.Remove(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNoToken
	}
	return err
}

const (
	keyringService = "todosync"
	tokenKey       = "oauth-token"
)

// KeyringTokenStore keeps the token in the operating system keyring.
type KeyringTokenStore struct {
	ring keyring.Keyring
}

// OpenKeyring opens the system keyring, falling back to an encrypted file
// keyring under dir/credentials.
func OpenKeyring(dir string) (*KeyringTokenStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(dir, "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt("todosync-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewKeyringTokenStore(ring), nil
}

// NewKeyringTokenStore wraps an already opened keyring.
func NewKeyringTokenStore(ring keyring.Keyring) *KeyringTokenStore {
	return &KeyringTokenStore{ring: ring}
}

// Load implements TokenStore.
func (s *KeyringTokenStore) Load() (*oauth2.Token, error) {
	item, err := s.ring.Get(tokenKey)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("getting credential %q: %w", tokenKey, err)
	}
	return decodeToken(item.Data)
}

// Save implements TokenStore.
func (s *KeyringTokenStore) Save(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	err = s.ring.Set(keyring.Item{
		Key:   tokenKey,
		Data:  data,
		Label: "todosync OAuth token",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", tokenKey, err)
	}
	return nil
}

// Remove implements TokenStore.
func (s *KeyringTokenStore) Remove() error {
	// Not every backend reports a missing key on Remove.
	if _, err := s.ring.Get(tokenKey); errors.Is(err, keyring.ErrKeyNotFound) {
		return ErrNoToken
	}
	if err := s.ring.Remove(tokenKey); err != nil {
		return fmt.Errorf("deleting credential %q: %w", tokenKey, err)
	}
	return nil
}

func decodeToken(data []byte) (*oauth2.Token, error) {
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return &tok, nil
}
