package mnemonic

import (
	"errors"

	"github.com/tyler-smith/go-bip39"

	"github.com/bartossh/custodia/crypto"
)

var ErrWrongEntropyLength = errors.New("mnemonic does not encode a 32 byte spend key")

// FromSecretKey encodes a private spend key as a mnemonic phrase for backup.
func FromSecretKey(secret crypto.SecretKey) (string, error) {
	return bip39.NewMnemonic(secret[:])
}

// ToSecretKey decodes a mnemonic phrase back to the private spend key it
// encodes or returns error otherwise.
func ToSecretKey(phrase string) (crypto.SecretKey, error) {
	entropy, err := bip39.EntropyFromMnemonic(phrase)
	if err != nil {
		return crypto.SecretKey{}, err
	}
	if len(entropy) != len(crypto.SecretKey{}) {
		return crypto.SecretKey{}, ErrWrongEntropyLength
	}

	var secret crypto.SecretKey
	copy(secret[:], entropy)

	return secret, nil
}
