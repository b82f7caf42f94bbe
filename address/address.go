package address

import (
	"bytes"
	"errors"

	"github.com/bartossh/custodia/crypto"
	"github.com/bartossh/custodia/serializer"
)

const version = byte(0x66)

const rawLength = 1 + 2*32 + serializer.ChecksumLength

var (
	ErrWrongAddressLength   = errors.New("address has wrong length")
	ErrWrongAddressVersion  = errors.New("address has wrong version byte")
	ErrWrongAddressChecksum = errors.New("address checksum does not match")
)

// FromKeys encodes the public spend and view key pair into an address string.
// The address contains the version byte, both keys and a checksum.
func FromKeys(publicSpendKey, publicViewKey crypto.PublicKey) string {
	raw := make([]byte, 0, rawLength)
	raw = append(raw, version)
	raw = append(raw, publicSpendKey[:]...)
	raw = append(raw, publicViewKey[:]...)
	raw = append(raw, serializer.Checksum(raw)...)

	return string(serializer.Base58Encode(raw))
}

// FromViewSecretKey encodes the address of the given public spend key and the
// public counterpart of the shared private view key.
func FromViewSecretKey(publicSpendKey crypto.PublicKey, privateViewKey crypto.SecretKey) string {
	return FromKeys(publicSpendKey, crypto.SecretKeyToPublicKey(privateViewKey))
}

// FromSecretKeys encodes the address of the public counterparts of the given
// private spend and view keys.
func FromSecretKeys(privateSpendKey, privateViewKey crypto.SecretKey) string {
	return FromKeys(
		crypto.SecretKeyToPublicKey(privateSpendKey),
		crypto.SecretKeyToPublicKey(privateViewKey),
	)
}

// ToKeys decodes an address string back to the public spend and view key pair
// or returns error otherwise.
func ToKeys(address string) (publicSpendKey, publicViewKey crypto.PublicKey, err error) {
	raw, err := serializer.Base58Decode([]byte(address))
	if err != nil {
		return publicSpendKey, publicViewKey, err
	}
	if len(raw) != rawLength {
		return publicSpendKey, publicViewKey, ErrWrongAddressLength
	}
	if raw[0] != version {
		return publicSpendKey, publicViewKey, ErrWrongAddressVersion
	}

	payload := raw[:rawLength-serializer.ChecksumLength]
	if !bytes.Equal(serializer.Checksum(payload), raw[rawLength-serializer.ChecksumLength:]) {
		return publicSpendKey, publicViewKey, ErrWrongAddressChecksum
	}

	copy(publicSpendKey[:], raw[1:33])
	copy(publicViewKey[:], raw[33:65])

	return publicSpendKey, publicViewKey, nil
}

// Validate checks if the given string is a well formed address.
func Validate(address string) error {
	_, _, err := ToKeys(address)
	return err
}
