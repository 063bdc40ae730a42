package key

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"testing"

	"github.com/lestrrat-go/jwx/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyPair(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.Nil(t, err)

	t.Run("Should parse a PEM encoded private key", func(t *testing.T) {
		privateKeyPem := pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
		})

		keyPair, err := NewKeyPairFromRSAPrivateKeyPem(privateKeyPem)
		require.Nil(t, err)
		assert.Equal(t, KEY_ID, keyPair.Kid)
		assert.True(t, privateKey.PublicKey.Equal(keyPair.PublicKey))
	})

	t.Run("Should fail on garbage", func(t *testing.T) {
		_, err := NewKeyPairFromRSAPrivateKeyPem([]byte("not a key"))
		assert.NotNil(t, err)
	})

	t.Run("Should export the public key as a JWKS", func(t *testing.T) {
		keyPair := NewKeyPair(privateKey)

		publicJWK, err := keyPair.JWK()
		require.Nil(t, err)

		out, err := json.Marshal(ExportJWKAsJWKS(publicJWK))
		require.Nil(t, err)

		set, err := jwk.Parse(out)
		require.Nil(t, err)
		require.Equal(t, 1, set.Len())

		parsed, ok := set.Get(0)
		require.True(t, ok)
		assert.Equal(t, KEY_ID, parsed.KeyID())
		assert.Equal(t, "RS256", parsed.Algorithm())

		publicKey, err := PublicKeyFromJWK(parsed)
		require.Nil(t, err)
		assert.True(t, privateKey.PublicKey.Equal(publicKey))
	})
}
