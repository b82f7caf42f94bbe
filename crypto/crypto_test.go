package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateKeyPair(t *testing.T) {
	pair, err := GenerateKeyPair()
	assert.Nil(t, err)
	assert.NotEqual(t, SecretKey{}, pair.Secret)
	assert.Equal(t, SecretKeyToPublicKey(pair.Secret), pair.Public)

	other, err := GenerateKeyPair()
	assert.Nil(t, err)
	assert.NotEqual(t, pair.Secret, other.Secret)
	assert.NotEqual(t, pair.Public, other.Public)
}

func TestSecretKeyToPublicKeyIsDeterministic(t *testing.T) {
	secret := SecretKey{1, 2, 3}
	assert.Equal(t, SecretKeyToPublicKey(secret), SecretKeyToPublicKey(secret))
	assert.NotEqual(t, SecretKeyToPublicKey(secret), SecretKeyToPublicKey(SecretKey{3, 2, 1}))
}

func TestKeyDerivation(t *testing.T) {
	txKey := PublicKey{7}
	viewKey := SecretKey{9}

	derivation := GenerateKeyDerivation(txKey, viewKey)
	assert.Equal(t, derivation, GenerateKeyDerivation(txKey, viewKey))
	assert.NotEqual(t, derivation, GenerateKeyDerivation(PublicKey{8}, viewKey))
	assert.NotEqual(t, derivation, GenerateKeyDerivation(txKey, SecretKey{8}))
}

func TestDeriveKeyImagePerOutput(t *testing.T) {
	pair, err := GenerateKeyPair()
	assert.Nil(t, err)

	derivation := GenerateKeyDerivation(PublicKey{7}, SecretKey{9})

	first := DeriveKeyImage(derivation, 0, pair)
	second := DeriveKeyImage(derivation, 1, pair)
	assert.NotEqual(t, first, second)
	assert.Equal(t, first, DeriveKeyImage(derivation, 0, pair))
}

func TestDeriveOutputKeyDiffersPerOwner(t *testing.T) {
	derivation := GenerateKeyDerivation(PublicKey{7}, SecretKey{9})

	alice := DeriveOutputKey(derivation, 0, PublicKey{1})
	bob := DeriveOutputKey(derivation, 0, PublicKey{2})
	assert.NotEqual(t, alice, bob)
}
