package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// SecretKey is a private spend or view key.
type SecretKey [32]byte

// PublicKey is a public spend or view key.
type PublicKey [32]byte

// KeyImage uniquely identifies a spent output and is used to detect double spends.
type KeyImage [32]byte

// Hash is a Keccak-256 digest of a transaction or block.
type Hash [32]byte

// KeyDerivation is the shared secret derived from a transaction public key
// and the wallet private view key. It is the input for output key and key
// image derivation.
type KeyDerivation [32]byte

// KeyPair holds a public spend key together with its secret counterpart.
type KeyPair struct {
	Public PublicKey
	Secret SecretKey
}

// GenerateKeyPair creates a new random spend key pair.
func GenerateKeyPair() (KeyPair, error) {
	var secret SecretKey
	if _, err := rand.Read(secret[:]); err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: SecretKeyToPublicKey(secret), Secret: secret}, nil
}

// SecretKeyToPublicKey derives the public key of the given secret key.
func SecretKeyToPublicKey(secret SecretKey) PublicKey {
	var public PublicKey
	private := ed25519.NewKeyFromSeed(secret[:])
	copy(public[:], private.Public().(ed25519.PublicKey))
	return public
}

// GenerateKeyDerivation computes the shared secret between a transaction
// public key and the wallet private view key.
func GenerateKeyDerivation(transactionPublicKey PublicKey, privateViewKey SecretKey) KeyDerivation {
	return KeyDerivation(keccak([]byte("derivation"), transactionPublicKey[:], privateViewKey[:]))
}

// DeriveOutputKey computes the one time key of the output at the given index,
// as seen by the owner of the public spend key.
func DeriveOutputKey(derivation KeyDerivation, outputIndex uint64, publicSpendKey PublicKey) PublicKey {
	return PublicKey(keccak([]byte("output"), derivation[:], varint(outputIndex), publicSpendKey[:]))
}

// DeriveKeyImage computes the key image of the output at the given index.
// Requires the private spend key, a view only wallet cannot call it.
func DeriveKeyImage(derivation KeyDerivation, outputIndex uint64, keys KeyPair) KeyImage {
	outputKey := DeriveOutputKey(derivation, outputIndex, keys.Public)
	return KeyImage(keccak([]byte("image"), outputKey[:], keys.Secret[:], varint(outputIndex)))
}

// HashData computes the Keccak-256 digest of the given data.
func HashData(data []byte) Hash {
	return Hash(keccak(data))
}

// String returns the hexadecimal representation of the key.
func (p PublicKey) String() string {
	return hex.EncodeToString(p[:])
}

// String returns the hexadecimal representation of the key image.
func (k KeyImage) String() string {
	return hex.EncodeToString(k[:])
}

// String returns the hexadecimal representation of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func keccak(data ...[]byte) [32]byte {
	hash := sha3.NewLegacyKeccak256()
	for _, d := range data {
		hash.Write(d)
	}
	var digest [32]byte
	copy(digest[:], hash.Sum(nil))
	return digest
}

func varint(v uint64) []byte {
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, v)
	return buf[:n]
}
