package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerify(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	gen := NewGenerator(priv, "identity", "healthwallet", "k1", time.Minute)
	token, jti, err := gen.GenerateAccessToken(42, []string{"patient"}, "ios")
	require.NoError(t, err)

	claims, err := NewVerifier(&priv.PublicKey, "identity", "healthwallet").VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.IdentityID)
	assert.Equal(t, jti, claims.ID)
	assert.True(t, claims.HasRole("patient"))

	_, err = NewVerifier(&priv.PublicKey, "identity", "other-service").Verify(token)
	assert.Error(t, err)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, err = NewVerifier(&other.PublicKey, "identity", "healthwallet").Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredAndNonAccess(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	v := NewVerifier(&priv.PublicKey, "identity", "healthwallet")

	expired, _, err := NewGenerator(priv, "identity", "healthwallet", "", -time.Minute).GenerateAccessToken(1, nil, "")
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.Error(t, err)

	claims := &Claims{
		IdentityID:     1,
		SessionPurpose: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "identity",
			Audience:  []string{"healthwallet"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	refresh, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(priv)
	require.NoError(t, err)
	_, err = v.VerifyAccessToken(refresh)
	assert.ErrorIs(t, err, ErrNotAccessToken)
}

func TestLoadKeysFromPEM(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	dir := t.TempDir()

	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	privPath := filepath.Join(dir, "private.pem")
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}), 0o600))

	pkix, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pubPath := filepath.Join(dir, "public.pem")
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pkix}), 0o600))

	cfg := Config{PrivPath: privPath, PubPath: pubPath, Issuer: "identity", Audience: "healthwallet", TTL: time.Minute}
	gen, err := LoadGenerator(cfg)
	require.NoError(t, err)
	ver, err := LoadVerifier(cfg)
	require.NoError(t, err)

	token, _, err := gen.GenerateAccessToken(7, nil, "")
	require.NoError(t, err)
	claims, err := ver.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.IdentityID)

	_, err = LoadRSAPublicKeyFromPEM(privPath)
	assert.Error(t, err)
}
