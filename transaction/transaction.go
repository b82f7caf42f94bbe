package transaction

import "github.com/bartossh/custodia/crypto"

// Transaction is a confirmed or still unconfirmed wallet transaction. It only
// tracks the transfers belonging to accounts of the owning collection, never
// amounts of third parties.
type Transaction struct {
	// Transfers maps an owned public spend key to the signed amount delta the
	// transaction caused for that account. Positive deltas are received
	// funds, negative deltas are spent funds. One transaction can touch
	// multiple accounts.
	Transfers map[crypto.PublicKey]int64

	// Hash of the transaction.
	Hash crypto.Hash

	// Fee the transaction was sent with, always positive.
	Fee uint64

	// BlockHeight the transaction was confirmed in, zero while unconfirmed.
	BlockHeight uint64

	// Timestamp of the block the transaction was confirmed in.
	Timestamp uint64

	// PaymentID attached to the transaction, empty when none was given.
	PaymentID string

	// UnlockTime is the block height, or unix timestamp when above
	// currency.MaxBlockNumber, before which the outputs cannot be spent.
	UnlockTime uint64

	// IsCoinbase reports if this transaction is a miner reward.
	IsCoinbase bool
}

// TotalAmount sums the transfer deltas of all owned accounts.
func (t Transaction) TotalAmount() int64 {
	var sum int64
	for _, amount := range t.Transfers {
		sum += amount
	}

	return sum
}

// IsFusionTransaction reports if this transaction consolidates the wallet's
// own outputs. A zero fee transaction that is not a miner reward can only be
// a fusion transaction, the network rejects anything else without a fee.
func (t Transaction) IsFusionTransaction() bool {
	return t.Fee == 0 && !t.IsCoinbase
}

// Input is a previously received output the wallet can spend.
// Two inputs are the same input iff their key images are equal.
type Input struct {
	// KeyImage uniquely identifies this input while unspent.
	KeyImage crypto.KeyImage

	// Amount of the input in atomic units.
	Amount uint64

	// BlockHeight the input was received in. Needed to drop inputs received
	// on a forked chain.
	BlockHeight uint64

	// TransactionPublicKey of the transaction that created this input.
	TransactionPublicKey crypto.PublicKey

	// TransactionIndex of this input within its parent transaction.
	TransactionIndex uint64

	// GlobalOutputIndex of this output in the chain wide output set, needed
	// for ring construction.
	GlobalOutputIndex uint64

	// Key is the derived one time output key.
	Key crypto.PublicKey

	// SpendHeight is the height the input was spent at, zero while unspent.
	SpendHeight uint64

	// UnlockTime is the block height, or unix timestamp when above
	// currency.MaxBlockNumber, before which the input cannot be spent.
	UnlockTime uint64

	// ParentTransactionHash of the transaction that contains this input.
	ParentTransactionHash crypto.Hash
}

// InputWithOwner pairs an input with the spend key pair of the account owning
// it, so a transaction can be signed without looking the owner up again.
type InputWithOwner struct {
	Input           Input
	PublicSpendKey  crypto.PublicKey
	PrivateSpendKey crypto.SecretKey
}

// Destination is a receiver of a transaction output.
type Destination struct {
	// ReceiverPublicSpendKey of the receiving account.
	ReceiverPublicSpendKey crypto.PublicKey

	// ReceiverPublicViewKey of the receiving account.
	ReceiverPublicViewKey crypto.PublicKey

	// Amount of the output in atomic units.
	Amount uint64
}

// GlobalIndexKey is an output candidate for a ring, the output key with its
// global index.
type GlobalIndexKey struct {
	Index uint64
	Key   crypto.PublicKey
}

// ObscuredInput is a real output mixed with decoy outputs, assembled right
// before ring signature construction. It is transient and never persisted.
type ObscuredInput struct {
	// Outputs are the ring members, the real output and the decoys.
	Outputs []GlobalIndexKey

	// RealOutput is the index of the real output within Outputs.
	RealOutput uint64

	// RealTransactionPublicKey of the transaction the real output came from.
	RealTransactionPublicKey crypto.PublicKey

	// RealOutputTransactionIndex of the real output within its transaction.
	RealOutputTransactionIndex uint64

	// Amount being spent.
	Amount uint64

	// OwnerPublicSpendKey and OwnerPrivateSpendKey sign the ring.
	OwnerPublicSpendKey  crypto.PublicKey
	OwnerPrivateSpendKey crypto.SecretKey
}
