package token_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-session-client/token"
	"github.com/jrsteele09/go-session-client/token/tokenfake"
)

func TestLoadPublicKeys(t *testing.T) {
	first, err := tokenfake.NewRSASigner("k1")
	require.NoError(t, err)
	second, err := tokenfake.NewRSASigner("k2")
	require.NoError(t, err)

	firstPEM, err := first.PublicKeyPEM()
	require.NoError(t, err)
	secondPEM, err := second.PublicKeyPEM()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keys.pem")
	require.NoError(t, os.WriteFile(path, append(firstPEM, secondPEM...), 0o600))

	keys, err := token.LoadPublicKeys(path)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	codec := token.NewSignedCodec(keys, nil)
	raw, err := second.Sign(tokenfake.Claims("3", "k@x.io", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	claims, err := codec.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, "3", claims.SubjectID)
}

func TestParsePublicKeysRejects(t *testing.T) {
	_, err := token.ParsePublicKeys([]byte("not pem"))
	require.ErrorIs(t, err, token.ErrNoKeys)

	_, err = token.ParsePublicKeys([]byte("-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n"))
	require.Error(t, err)

	_, err = token.LoadPublicKeys(filepath.Join(t.TempDir(), "missing.pem"))
	require.Error(t, err)
}
