package account

import (
	"errors"

	"github.com/bartossh/custodia/crypto"
	"github.com/bartossh/custodia/currency"
	"github.com/bartossh/custodia/transaction"
)

var (
	ErrKeyImageNotFound  = errors.New("key image does not belong to this account")
	ErrNoPrivateSpendKey = errors.New("account is view only and holds no private spend key")
)

// Account is one keyed identity within a wallet. It exclusively owns the
// inputs derived for its spend key and the key image index over them.
// Account is not safe for concurrent use, the owning collection serializes
// all access behind its coordinating lock.
type Account struct {
	publicSpendKey     crypto.PublicKey
	privateSpendKey    crypto.SecretKey
	hasSpendKey        bool
	address            string
	syncStartHeight    uint64
	syncStartTimestamp uint64
	primary            bool

	// unspentInputs are spendable candidates. lockedInputs were used by an
	// outgoing transaction still waiting in the pool. spentInputs are kept
	// until a fork can no longer return them.
	unspentInputs []transaction.Input
	lockedInputs  []transaction.Input
	spentInputs   []transaction.Input
}

// New creates an account owning the given spend key pair.
func New(keys crypto.KeyPair, address string, scanHeight, scanTimestamp uint64, primary bool) *Account {
	return &Account{
		publicSpendKey:     keys.Public,
		privateSpendKey:    keys.Secret,
		hasSpendKey:        true,
		address:            address,
		syncStartHeight:    scanHeight,
		syncStartTimestamp: scanTimestamp,
		primary:            primary,
	}
}

// NewViewOnly creates an account tracking the given public spend key without
// the ability to spend.
func NewViewOnly(publicSpendKey crypto.PublicKey, address string, scanHeight, scanTimestamp uint64, primary bool) *Account {
	return &Account{
		publicSpendKey:     publicSpendKey,
		address:            address,
		syncStartHeight:    scanHeight,
		syncStartTimestamp: scanTimestamp,
		primary:            primary,
	}
}

// PublicSpendKey returns the identifying public spend key.
func (a *Account) PublicSpendKey() crypto.PublicKey {
	return a.publicSpendKey
}

// PrivateSpendKey returns the private spend key or an error for a view only
// account.
func (a *Account) PrivateSpendKey() (crypto.SecretKey, error) {
	if !a.hasSpendKey {
		return crypto.SecretKey{}, ErrNoPrivateSpendKey
	}
	return a.privateSpendKey, nil
}

// Address returns the account address.
func (a *Account) Address() string {
	return a.address
}

// IsPrimary reports if this is the first account created in the collection.
func (a *Account) IsPrimary() bool {
	return a.primary
}

// SyncStartHeight returns the block height scanning starts from.
func (a *Account) SyncStartHeight() uint64 {
	return a.syncStartHeight
}

// SyncStartTimestamp returns the timestamp scanning starts from.
func (a *Account) SyncStartTimestamp() uint64 {
	return a.syncStartTimestamp
}

// Inputs returns a copy of the unspent, not pool locked inputs of this
// account.
func (a *Account) Inputs() []transaction.Input {
	inputs := make([]transaction.Input, len(a.unspentInputs))
	copy(inputs, a.unspentInputs)
	return inputs
}

// Balance sums the unspent inputs of this account, split into the funds
// spendable at the given height and the funds still locked by their unlock
// time.
func (a *Account) Balance(currentHeight uint64) (unlocked, locked uint64) {
	for _, input := range a.unspentInputs {
		if isUnlocked(input.UnlockTime, currentHeight) {
			unlocked += input.Amount
			continue
		}
		locked += input.Amount
	}

	return unlocked, locked
}

// HasKeyImage reports if the key image belongs to any input of this account,
// spent or not.
func (a *Account) HasKeyImage(keyImage crypto.KeyImage) bool {
	for _, set := range [][]transaction.Input{a.unspentInputs, a.lockedInputs, a.spentInputs} {
		for _, input := range set {
			if input.KeyImage == keyImage {
				return true
			}
		}
	}

	return false
}

// MarkInputAsSpent moves the input with the given key image to the spent set,
// recording the height it was spent at.
func (a *Account) MarkInputAsSpent(keyImage crypto.KeyImage, spendHeight uint64) error {
	if input, ok := take(&a.unspentInputs, keyImage); ok {
		input.SpendHeight = spendHeight
		a.spentInputs = append(a.spentInputs, input)
		return nil
	}

	if input, ok := take(&a.lockedInputs, keyImage); ok {
		input.SpendHeight = spendHeight
		a.spentInputs = append(a.spentInputs, input)
		return nil
	}

	return ErrKeyImageNotFound
}

// MarkInputAsLocked moves the input with the given key image to the pool
// locked set. It stays locked until the spending transaction confirms or is
// cancelled.
func (a *Account) MarkInputAsLocked(keyImage crypto.KeyImage) error {
	input, ok := take(&a.unspentInputs, keyImage)
	if !ok {
		return ErrKeyImageNotFound
	}

	a.lockedInputs = append(a.lockedInputs, input)

	return nil
}

// RemoveForkedInputs reconciles the input sets with a chain fork at the given
// height. Inputs received on the forked chain are dropped, inputs spent on
// the forked chain become unspent again.
func (a *Account) RemoveForkedInputs(forkHeight uint64) {
	a.unspentInputs = keepBelow(a.unspentInputs, forkHeight)
	a.lockedInputs = keepBelow(a.lockedInputs, forkHeight)

	spent := a.spentInputs[:0]
	for _, input := range a.spentInputs {
		if input.SpendHeight < forkHeight {
			spent = append(spent, input)
			continue
		}
		// The spend no longer exists. The input itself may not exist
		// either if it was also received past the fork point.
		if input.BlockHeight >= forkHeight {
			continue
		}
		input.SpendHeight = 0
		a.unspentInputs = append(a.unspentInputs, input)
	}
	a.spentInputs = spent
}

// RemoveCancelledTransactions returns to the unspent set every pool locked
// input held by one of the cancelled transactions.
func (a *Account) RemoveCancelledTransactions(cancelled map[crypto.Hash]struct{}) {
	locked := a.lockedInputs[:0]
	for _, input := range a.lockedInputs {
		if _, ok := cancelled[input.ParentTransactionHash]; ok {
			input.SpendHeight = 0
			a.unspentInputs = append(a.unspentInputs, input)
			continue
		}
		locked = append(locked, input)
	}
	a.lockedInputs = locked
}

// Reset drops all tracked inputs and rewinds the sync start to the given
// height. The inputs are rediscovered by rescanning.
func (a *Account) Reset(scanHeight uint64) {
	a.unspentInputs = nil
	a.lockedInputs = nil
	a.spentInputs = nil
	a.syncStartHeight = scanHeight
	a.syncStartTimestamp = 0
}

// CompleteAndStoreTransactionInput derives the key image of the input at the
// given output index and stores it. A view only collection cannot derive key
// images, the input is stored without one.
func (a *Account) CompleteAndStoreTransactionInput(
	derivation crypto.KeyDerivation,
	outputIndex uint64,
	input transaction.Input,
	isViewWallet bool,
) {
	if !isViewWallet && a.hasSpendKey {
		input.KeyImage = crypto.DeriveKeyImage(derivation, outputIndex, crypto.KeyPair{
			Public: a.publicSpendKey,
			Secret: a.privateSpendKey,
		})
	}

	a.unspentInputs = append(a.unspentInputs, input)
}

// Copy returns a deep value copy of the account.
func (a *Account) Copy() *Account {
	cp := *a
	cp.unspentInputs = append([]transaction.Input(nil), a.unspentInputs...)
	cp.lockedInputs = append([]transaction.Input(nil), a.lockedInputs...)
	cp.spentInputs = append([]transaction.Input(nil), a.spentInputs...)
	return &cp
}

func isUnlocked(unlockTime, currentHeight uint64) bool {
	if unlockTime == 0 {
		return true
	}

	// Values above the max block number are unix timestamps.
	if unlockTime > currency.MaxBlockNumber {
		return unlockTime <= currency.ScanHeightToTimestamp(currentHeight)
	}

	return unlockTime <= currentHeight
}

func take(inputs *[]transaction.Input, keyImage crypto.KeyImage) (transaction.Input, bool) {
	for i, input := range *inputs {
		if input.KeyImage == keyImage {
			*inputs = append((*inputs)[:i], (*inputs)[i+1:]...)
			return input, true
		}
	}

	return transaction.Input{}, false
}

func keepBelow(inputs []transaction.Input, forkHeight uint64) []transaction.Input {
	kept := inputs[:0]
	for _, input := range inputs {
		if input.BlockHeight < forkHeight {
			kept = append(kept, input)
		}
	}

	return kept
}
