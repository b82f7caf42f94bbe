package serializer

import (
	"github.com/mr-tron/base58"

	"github.com/bartossh/custodia/crypto"
)

// ChecksumLength is the amount of trailing digest bytes appended to base58
// check encoded payloads.
const ChecksumLength = 4

// Base58Encode encodes byte array to base58 string.
func Base58Encode(input []byte) []byte {
	encode := base58.Encode(input)

	return []byte(encode)
}

// Base58Decode decodes base58 string to byte array.
func Base58Decode(input []byte) ([]byte, error) {
	decode, err := base58.Decode(string(input[:]))
	if err != nil {
		return nil, err
	}

	return decode, nil
}

// Checksum computes the double Keccak-256 checksum of the payload.
func Checksum(payload []byte) []byte {
	first := crypto.HashData(payload)
	second := crypto.HashData(first[:])

	return second[:ChecksumLength]
}
