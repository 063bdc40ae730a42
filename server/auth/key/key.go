package key

import (
	"crypto/rsa"
	"fmt"

	"github.com/golang-jwt/jwt"
	"github.com/lestrrat-go/jwx/jwk"
)

const KEY_ID = "kontacts-key-id"

type JWKS struct {
	Keys []interface{} `json:"keys"`
}

type KeyPair struct {
	Kid        string
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
}

func NewKeyPair(privateKey *rsa.PrivateKey) *KeyPair {
	return &KeyPair{
		Kid:        KEY_ID,
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey}
}

func NewKeyPairFromRSAPrivateKeyPem(privateKeyPem []byte) (*KeyPair, error) {
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPem)
	if err != nil {
		return nil, fmt.Errorf("unable to parse RSA private key: %v", err)
	}

	return NewKeyPair(privateKey), nil
}

func (keyPair *KeyPair) JWK() (jwk.Key, error) {
	keyPairJWK, err := jwk.New(keyPair.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("JWK: %v", err)
	}

	if err := keyPairJWK.Set(jwk.KeyIDKey, keyPair.Kid); err != nil {
		return nil, fmt.Errorf("JWK: %v", err)
	}
	if err := keyPairJWK.Set(jwk.AlgorithmKey, "RS256"); err != nil {
		return nil, fmt.Errorf("JWK: %v", err)
	}

	return keyPairJWK, nil
}

func ExportJWKAsJWKS(jwk jwk.Key) JWKS {
	return JWKS{Keys: []interface{}{jwk}}
}

func PublicKeyFromJWK(key jwk.Key) (*rsa.PublicKey, error) {
	publicKey := &rsa.PublicKey{}

	err := key.Raw(publicKey)
	if err != nil {
		return nil, err
	}

	return publicKey, nil
}
