package token

import (
	"crypto"
	"encoding/pem"
	"os"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// ErrNoKeys is returned when a key file holds no usable public key.
var ErrNoKeys = errors.New("no public keys found")

// LoadPublicKeys reads every RSA, EC or Ed25519 public key (or certificate)
// from a PEM file.
func LoadPublicKeys(path string) ([]crypto.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "token.LoadPublicKeys")
	}
	return ParsePublicKeys(data)
}

// ParsePublicKeys parses concatenated PEM blocks. Blocks that are not public
// keys fail the whole set.
func ParsePublicKeys(data []byte) ([]crypto.PublicKey, error) {
	keys := make([]crypto.PublicKey, 0)
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		key, err := parsePublicKey(pem.EncodeToMemory(block))
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s block", block.Type)
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	return keys, nil
}

func parsePublicKey(block []byte) (crypto.PublicKey, error) {
	if key, err := jwt.ParseRSAPublicKeyFromPEM(block); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseECPublicKeyFromPEM(block); err == nil {
		return key, nil
	}
	return jwt.ParseEdPublicKeyFromPEM(block)
}
