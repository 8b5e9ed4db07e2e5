package save

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestFileTokenStore_Read(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		store := NewFileTokenStore(afero.NewMemMapFs(), "/data/tokens.json")

		_, err := store.Read()
		require.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("empty file", func(t *testing.T) {
		t.Parallel()

		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/data/tokens.json", nil, 0o600))

		_, err := NewFileTokenStore(fs, "/data/tokens.json").Read()
		require.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("invalid json", func(t *testing.T) {
		t.Parallel()

		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/data/tokens.json", []byte("{nope"), 0o600))

		_, err := NewFileTokenStore(fs, "/data/tokens.json").Read()
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrTokenNotFound)
		require.Contains(t, err.Error(), "failed to parse token file")
	})

	t.Run("reads millisecond instants", func(t *testing.T) {
		t.Parallel()

		fs := afero.NewMemMapFs()
		doc := `{
  "access_token": "access",
  "refresh_token": "refresh",
  "scope": ["channel:read:redemptions"],
  "token_type": "bearer",
  "expires_in": 14400,
  "expires_at": 1700000000000,
  "obtained_at": 1699985600000
}`
		require.NoError(t, afero.WriteFile(fs, "/data/tokens.json", []byte(doc), 0o600))

		creds, err := NewFileTokenStore(fs, "/data/tokens.json").Read()
		require.NoError(t, err)
		require.Equal(t, "access", creds.AccessToken)
		require.Equal(t, "refresh", creds.RefreshToken)
		require.Equal(t, []string{"channel:read:redemptions"}, creds.Scopes)
		require.Equal(t, "bearer", creds.TokenType)
		require.Equal(t, 14400, creds.ExpiresIn)
		require.Equal(t, int64(1700000000000), creds.ExpiresAt.UnixMilli())
		require.Equal(t, int64(1699985600000), creds.ObtainedAt.UnixMilli())
	})

	t.Run("absent expiry stays zero", func(t *testing.T) {
		t.Parallel()

		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/tokens.json", []byte(`{"access_token":"a"}`), 0o600))

		creds, err := NewFileTokenStore(fs, "/tokens.json").Read()
		require.NoError(t, err)
		require.True(t, creds.ExpiresAt.IsZero())
		require.True(t, creds.ObtainedAt.IsZero())
	})
}

func TestFileTokenStore_Write(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	store := NewFileTokenStore(fs, "/nested/dir/tokens.json")

	expiresAt := time.UnixMilli(1700000000000)
	want := Credentials{
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
		TokenType:    "bearer",
		Scopes:       []string{"a", "b"},
		ExpiresIn:    3600,
		ExpiresAt:    expiresAt,
		ObtainedAt:   expiresAt.Add(-time.Hour),
	}

	require.NoError(t, store.Write(want))

	exists, err := afero.Exists(fs, "/nested/dir/tokens.json.tmp")
	require.NoError(t, err)
	require.False(t, exists, "temporary file should be renamed")

	got, err := store.Read()
	require.NoError(t, err)
	require.Equal(t, want.AccessToken, got.AccessToken)
	require.Equal(t, want.RefreshToken, got.RefreshToken)
	require.Equal(t, want.Scopes, got.Scopes)
	require.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
	require.True(t, want.ObtainedAt.Equal(got.ObtainedAt))

	// overwrite with a record that has no refresh token
	require.NoError(t, store.Write(Credentials{AccessToken: "only-access"}))

	got, err = store.Read()
	require.NoError(t, err)
	require.Equal(t, "only-access", got.AccessToken)
	require.Empty(t, got.RefreshToken)

	info, err := fs.Stat("/nested/dir/tokens.json")
	require.NoError(t, err)
	require.True(t, info.Mode().IsRegular())
}

func TestKeyringTokenStore(t *testing.T) {
	keyring.MockInit()

	store := NewKeyringTokenStore("streamer")

	_, err := store.Read()
	require.ErrorIs(t, err, ErrTokenNotFound)

	require.NoError(t, store.Write(Credentials{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.UnixMilli(1700000000000),
	}))

	got, err := store.Read()
	require.NoError(t, err)
	require.Equal(t, "access", got.AccessToken)
	require.Equal(t, "refresh", got.RefreshToken)
	require.Equal(t, int64(1700000000000), got.ExpiresAt.UnixMilli())
	require.Equal(t, "keyring:rewardplay/streamer", store.Location())
}
