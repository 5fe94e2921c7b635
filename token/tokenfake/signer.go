// Package tokenfake mints access tokens for tests.
package tokenfake

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Signer signs a claim set into a compact JWT.
type Signer interface {
	Sign(claims jwt.MapClaims) (string, error)
	GetSigningMethod() jwt.SigningMethod
}

// HMACSigner signs with HS256. The client never checks the signature, so this
// is enough for anything that only decodes.
type HMACSigner struct {
	secret []byte
}

var _ Signer = (*HMACSigner)(nil)

func NewHMACSigner(secret string) *HMACSigner {
	return &HMACSigner{
		secret: []byte(secret),
	}
}

func (h *HMACSigner) Sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(h.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token with HMAC")
	}
	return signedToken, nil
}

func (h *HMACSigner) GetSigningMethod() jwt.SigningMethod {
	return jwt.SigningMethodHS256
}

// RSASigner signs with RS256 and exposes its public key for verifying codecs.
type RSASigner struct {
	key   *rsa.PrivateKey
	keyID string
}

var _ Signer = (*RSASigner)(nil)

func NewRSASigner(keyID string) (*RSASigner, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate RSA key")
	}
	return &RSASigner{key: key, keyID: keyID}, nil
}

func (a *RSASigner) Sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = a.keyID

	signedToken, err := token.SignedString(a.key)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token with asymmetric key")
	}
	return signedToken, nil
}

func (a *RSASigner) GetSigningMethod() jwt.SigningMethod {
	return jwt.SigningMethodRS256
}

func (a *RSASigner) PublicKey() *rsa.PublicKey {
	return &a.key.PublicKey
}

// PublicKeyPEM encodes the public key as a PKIX "PUBLIC KEY" block.
func (a *RSASigner) PublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&a.key.PublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "tokenfake.PublicKeyPEM")
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

var defaultSigner = NewHMACSigner("tokenfake-secret")

// AccessToken returns an HS256 token for userID that expires at exp.
// It panics on signing failure, which cannot happen with the HMAC signer.
func AccessToken(userID, email string, exp time.Time) string {
	raw, err := defaultSigner.Sign(Claims(userID, email, exp))
	if err != nil {
		panic(err)
	}
	return raw
}

// Claims builds the claim set the backend issues for access tokens.
func Claims(userID, email string, exp time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"user_id":    userID,
		"email":      email,
		"exp":        exp.Unix(),
		"iat":        exp.Add(-time.Hour).Unix(),
		"token_type": "access",
	}
}
