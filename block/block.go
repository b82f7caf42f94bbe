package block

import "github.com/bartossh/custodia/crypto"

// KeyOutput is a single output of a scanned transaction, the output key with
// its amount.
type KeyOutput struct {
	Key    crypto.PublicKey
	Amount uint64
}

// KeyInput is a single input of a scanned transaction. The key image lets the
// wallet detect that one of its own outputs was spent.
type KeyInput struct {
	Amount        uint64
	KeyImage      crypto.KeyImage
	OutputIndexes []uint32
}

// RawCoinbaseTransaction is a miner reward transaction as delivered by the
// synchronizer. Coinbase transactions have no inputs.
type RawCoinbaseTransaction struct {
	// KeyOutputs of the transaction, amounts and keys.
	KeyOutputs []KeyOutput

	// Hash of the transaction.
	Hash crypto.Hash

	// TransactionPublicKey taken from the transaction extra field.
	TransactionPublicKey crypto.PublicKey

	// UnlockTime before which the outputs cannot be spent. A block height, or
	// a unix timestamp when above currency.MaxBlockNumber.
	UnlockTime uint64
}

// RawTransaction is an ordinary scanned transaction, outputs plus the inputs
// that let the wallet track its outgoing funds.
type RawTransaction struct {
	RawCoinbaseTransaction

	// PaymentID of the transaction, may be empty.
	PaymentID string

	// KeyInputs spent by the transaction.
	KeyInputs []KeyInput
}

// WalletBlockInfo carries the minimum a wallet needs to scan one block.
// It is produced by the synchronizer and consumed, never stored, by the
// wallet core.
type WalletBlockInfo struct {
	// CoinbaseTransaction of the block.
	CoinbaseTransaction RawCoinbaseTransaction

	// Transactions in the block.
	Transactions []RawTransaction

	// BlockHeight of the block.
	BlockHeight uint64

	// BlockHash of the block.
	BlockHash crypto.Hash

	// BlockTimestamp of the block.
	BlockTimestamp uint64
}

// TransactionHashes returns the hashes of every transaction in the block,
// the coinbase transaction included. Used to match pending sends against
// scanned blocks.
func (w WalletBlockInfo) TransactionHashes() []crypto.Hash {
	hashes := make([]crypto.Hash, 0, len(w.Transactions)+1)
	hashes = append(hashes, w.CoinbaseTransaction.Hash)
	for _, tx := range w.Transactions {
		hashes = append(hashes, tx.Hash)
	}

	return hashes
}
