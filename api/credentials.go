package api

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"gopkg.in/yaml.v3"
)

// Credentials are the bearer and refresh tokens of a signed-in user.
type Credentials struct {
	Token        string `yaml:"token"`
	RefreshToken string `yaml:"refresh_token"`
	UserID       string `yaml:"user_id,omitempty"`
	UserName     string `yaml:"user_name,omitempty"`
}

func (c Credentials) Empty() bool {
	return c.Token == "" && c.RefreshToken == ""
}

// CredentialStore persists credentials between requests and runs.
type CredentialStore interface {
	Load() (Credentials, error)
	Save(Credentials) error
	Clear() error
}

// MemoryCredentials keeps credentials for the lifetime of the process.
type MemoryCredentials struct {
	mu    sync.Mutex
	creds Credentials
}

func NewMemoryCredentials(creds Credentials) *MemoryCredentials {
	return &MemoryCredentials{creds: creds}
}

func (m *MemoryCredentials) Load() (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds, nil
}

func (m *MemoryCredentials) Save(c Credentials) error {
	m.mu.Lock()
	m.creds = c
	m.mu.Unlock()
	return nil
}

func (m *MemoryCredentials) Clear() error {
	m.mu.Lock()
	m.creds = Credentials{}
	m.mu.Unlock()
	return nil
}

// FileCredentials stores credentials as yaml readable only by the owner.
type FileCredentials struct {
	path string
	mu   sync.Mutex
}

func NewFileCredentials(path string) *FileCredentials {
	return &FileCredentials{path: path}
}

func (f *FileCredentials) Path() string { return f.path }

// Load returns empty credentials when the file does not exist.
func (f *FileCredentials) Load() (Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, nil
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	var c Credentials
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Credentials{}, fmt.Errorf("decode credentials %s: %w", f.path, err)
	}
	return c, nil
}

func (f *FileCredentials) Save(c Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

func (f *FileCredentials) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}

// Claims is the part of a bearer token the client shows to the user.
type Claims struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
}

// Expired reports whether the token expiry lies before now. Tokens without
// an expiry never expire.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// TokenClaims decodes a bearer token without verifying its signature; only
// the backend holds the signing key.
func TokenClaims(token string) (Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Claims{}, fmt.Errorf("parse token: %w", err)
	}
	var c Claims
	for _, key := range []string{"sub", "id", "_id"} {
		if s, ok := claims[key].(string); ok && s != "" {
			c.Subject = s
			break
		}
	}
	if s, ok := claims["email"].(string); ok {
		c.Email = s
	}
	if exp, ok := claims["exp"].(float64); ok {
		c.ExpiresAt = time.Unix(int64(exp), 0)
	}
	return c, nil
}
