package save

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"
)

var ErrTokenNotFound = errors.New("no stored token found")

// Credentials is the access/refresh token pair persisted between runs.
// A zero ExpiresAt or ObtainedAt means the value is absent.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scopes       []string
	ExpiresIn    int
	ExpiresAt    time.Time
	ObtainedAt   time.Time
}

// storedToken is the on-disk representation. Instants are unix milliseconds.
type storedToken struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	Scope        []string `json:"scope,omitempty"`
	TokenType    string   `json:"token_type,omitempty"`
	ExpiresIn    int      `json:"expires_in,omitempty"`
	ExpiresAt    int64    `json:"expires_at,omitempty"`
	ObtainedAt   int64    `json:"obtained_at,omitempty"`
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}

	return time.UnixMilli(ms)
}

func marshalCredentials(c Credentials) ([]byte, error) {
	return json.MarshalIndent(storedToken{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		Scope:        c.Scopes,
		TokenType:    c.TokenType,
		ExpiresIn:    c.ExpiresIn,
		ExpiresAt:    toMillis(c.ExpiresAt),
		ObtainedAt:   toMillis(c.ObtainedAt),
	}, "", "  ")
}

func unmarshalCredentials(data []byte) (Credentials, error) {
	var st storedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return Credentials{}, err
	}

	return Credentials{
		AccessToken:  st.AccessToken,
		RefreshToken: st.RefreshToken,
		TokenType:    st.TokenType,
		Scopes:       st.Scope,
		ExpiresIn:    st.ExpiresIn,
		ExpiresAt:    fromMillis(st.ExpiresAt),
		ObtainedAt:   fromMillis(st.ObtainedAt),
	}, nil
}

// FileTokenStore keeps the credential record in a single JSON file.
type FileTokenStore struct {
	m    *sync.RWMutex
	fs   afero.Fs
	path string
}

func NewFileTokenStore(fs afero.Fs, path string) *FileTokenStore {
	return &FileTokenStore{
		m:    &sync.RWMutex{},
		fs:   fs,
		path: path,
	}
}

func (s *FileTokenStore) Location() string {
	return s.path
}

func (s *FileTokenStore) Read() (Credentials, error) {
	s.m.RLock()
	defer s.m.RUnlock()

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credentials{}, ErrTokenNotFound
		}
		return Credentials{}, err
	}

	if len(data) == 0 {
		return Credentials{}, ErrTokenNotFound
	}

	creds, err := unmarshalCredentials(data)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to parse token file %s: %w", s.path, err)
	}

	return creds, nil
}

// Write replaces the token file by writing a temporary sibling and renaming it,
// so readers see either the old or the new record.
func (s *FileTokenStore) Write(c Credentials) error {
	s.m.Lock()
	defer s.m.Unlock()

	data, err := marshalCredentials(c)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return err
	}

	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}

	return nil
}
