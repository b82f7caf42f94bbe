package subwallets

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/bartossh/custodia/account"
	"github.com/bartossh/custodia/address"
	"github.com/bartossh/custodia/crypto"
	"github.com/bartossh/custodia/currency"
	"github.com/bartossh/custodia/logger"
	"github.com/bartossh/custodia/transaction"
)

var (
	ErrIllegalViewWalletOperation    = errors.New("operation requires a spending wallet, this is a view only wallet")
	ErrIllegalNonViewWalletOperation = errors.New("operation requires a view only wallet, this is a spending wallet")
	ErrSubWalletAlreadyExists        = errors.New("sub wallet with the given public spend key already exists")
	ErrInsufficientFunds             = errors.New("not enough unspent funds to cover the requested amount")
	ErrNoPrimaryAddress              = errors.New("wallet container has no primary address")
	ErrSubWalletNotFound             = errors.New("sub wallet with the given public spend key does not exist")
)

// SubWallets coordinates every account of one wallet. All accounts share the
// wallet private view key and differ by spend key. The collection owns the
// confirmed and the unconfirmed transaction history, and is the sole arbiter
// of the accounts, which are never mutated outside its coordinating lock.
// SubWallets is safe for concurrent use.
type SubWallets struct {
	mutex sync.Mutex

	subWallets         map[crypto.PublicKey]*account.Account
	publicSpendKeys    []crypto.PublicKey
	transactions       []transaction.Transaction
	lockedTransactions []transaction.Transaction
	privateViewKey     crypto.SecretKey
	isViewWallet       bool

	cfg currency.Config
	clc clock.Clock
	rnd *rand.Rand
	log logger.Logger
}

// New creates a spending wallet collection with one primary account derived
// from the given private spend key. A new wallet scans from the current
// adjusted timestamp instead of from genesis. The random source drives input
// selection and shall be non deterministic outside of tests.
func New(
	cfg currency.Config,
	privateSpendKey crypto.SecretKey,
	privateViewKey crypto.SecretKey,
	scanHeight uint64,
	newWallet bool,
	clc clock.Clock,
	rnd *rand.Rand,
	log logger.Logger,
) (*SubWallets, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &SubWallets{
		subWallets:     make(map[crypto.PublicKey]*account.Account),
		privateViewKey: privateViewKey,
		cfg:            cfg,
		clc:            clc,
		rnd:            rnd,
		log:            log,
	}

	keys := crypto.KeyPair{
		Public: crypto.SecretKeyToPublicKey(privateSpendKey),
		Secret: privateSpendKey,
	}

	var timestamp uint64
	if newWallet {
		timestamp = currency.CurrentTimestampAdjusted(clc)
	}

	addr := address.FromSecretKeys(privateSpendKey, privateViewKey)

	s.insert(account.New(keys, addr, scanHeight, timestamp, true))

	return s, nil
}

// NewViewWallet creates a view only collection with one primary account. The
// public spend key is taken from the given address, the private view key is
// supplied directly.
func NewViewWallet(
	cfg currency.Config,
	privateViewKey crypto.SecretKey,
	addr string,
	scanHeight uint64,
	newWallet bool,
	clc clock.Clock,
	rnd *rand.Rand,
	log logger.Logger,
) (*SubWallets, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	publicSpendKey, _, err := address.ToKeys(addr)
	if err != nil {
		return nil, err
	}

	s := &SubWallets{
		subWallets:     make(map[crypto.PublicKey]*account.Account),
		privateViewKey: privateViewKey,
		isViewWallet:   true,
		cfg:            cfg,
		clc:            clc,
		rnd:            rnd,
		log:            log,
	}

	var timestamp uint64
	if newWallet {
		timestamp = currency.CurrentTimestampAdjusted(clc)
	}

	s.insert(account.NewViewOnly(publicSpendKey, addr, scanHeight, timestamp, true))

	return s, nil
}

// Copy returns a point in time deep copy of the collection. The copy shares
// no mutable state with the original and seeds its own random source.
func (s *SubWallets) Copy() *SubWallets {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cp := &SubWallets{
		subWallets:         make(map[crypto.PublicKey]*account.Account, len(s.subWallets)),
		publicSpendKeys:    append([]crypto.PublicKey(nil), s.publicSpendKeys...),
		transactions:       append([]transaction.Transaction(nil), s.transactions...),
		lockedTransactions: append([]transaction.Transaction(nil), s.lockedTransactions...),
		privateViewKey:     s.privateViewKey,
		isViewWallet:       s.isViewWallet,
		cfg:                s.cfg,
		clc:                s.clc,
		rnd:                rand.New(rand.NewSource(s.rnd.Int63())),
		log:                s.log,
	}

	for key, acc := range s.subWallets {
		cp.subWallets[key] = acc.Copy()
	}

	return cp
}

// AddSubWallet generates a fresh random spend key pair and adds a non primary
// account for it. Returns the address of the created account.
func (s *SubWallets) AddSubWallet() (string, error) {
	if s.isViewWallet {
		return "", ErrIllegalViewWalletOperation
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		return "", err
	}

	addr := address.FromSecretKeys(keys.Secret, s.privateViewKey)

	s.insert(account.New(keys, addr, 0, currency.CurrentTimestampAdjusted(s.clc), false))

	s.log.Info(fmt.Sprintf("added sub wallet %s", keys.Public))

	return addr, nil
}

// ImportSubWallet adds a non primary account for the given private spend key,
// scanning from the given height. Returns the address of the created account.
func (s *SubWallets) ImportSubWallet(privateSpendKey crypto.SecretKey, scanHeight uint64, newWallet bool) (string, error) {
	if s.isViewWallet {
		return "", ErrIllegalViewWalletOperation
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	keys := crypto.KeyPair{
		Public: crypto.SecretKeyToPublicKey(privateSpendKey),
		Secret: privateSpendKey,
	}

	if _, ok := s.subWallets[keys.Public]; ok {
		return "", fmt.Errorf("%w: %s", ErrSubWalletAlreadyExists, keys.Public)
	}

	var timestamp uint64
	if newWallet {
		timestamp = currency.CurrentTimestampAdjusted(s.clc)
	}

	addr := address.FromSecretKeys(privateSpendKey, s.privateViewKey)

	s.insert(account.New(keys, addr, scanHeight, timestamp, false))

	s.log.Info(fmt.Sprintf("imported sub wallet %s scanning from height %d", keys.Public, scanHeight))

	return addr, nil
}

// ImportViewSubWallet adds a non primary view only account for the given
// public spend key. Returns the address of the created account.
func (s *SubWallets) ImportViewSubWallet(publicSpendKey crypto.PublicKey, scanHeight uint64, newWallet bool) (string, error) {
	if !s.isViewWallet {
		return "", ErrIllegalNonViewWalletOperation
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.subWallets[publicSpendKey]; ok {
		return "", fmt.Errorf("%w: %s", ErrSubWalletAlreadyExists, publicSpendKey)
	}

	var timestamp uint64
	if newWallet {
		timestamp = currency.CurrentTimestampAdjusted(s.clc)
	}

	addr := address.FromViewSecretKey(publicSpendKey, s.privateViewKey)

	s.insert(account.NewViewOnly(publicSpendKey, addr, scanHeight, timestamp, false))

	s.log.Info(fmt.Sprintf("imported view sub wallet %s scanning from height %d", publicSpendKey, scanHeight))

	return addr, nil
}

// MinInitialSyncStart returns the earliest point any account wants to start
// scanning from, as a height or a timestamp. Exactly one of the returned pair
// is meaningful, the other is zero. A zero minimum on either axis means some
// account wants to scan from genesis and wins unconditionally.
func (s *SubWallets) MinInitialSyncStart() (height, timestamp uint64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	first := true
	for _, acc := range s.subWallets {
		if first {
			height = acc.SyncStartHeight()
			timestamp = acc.SyncStartTimestamp()
			first = false
			continue
		}
		if acc.SyncStartHeight() < height {
			height = acc.SyncStartHeight()
		}
		if acc.SyncStartTimestamp() < timestamp {
			timestamp = acc.SyncStartTimestamp()
		}
	}

	// The caller uses whichever is non zero.
	if height == 0 || timestamp == 0 {
		return height, timestamp
	}

	// Both are constrained. Convert the height to a timestamp so they can be
	// compared, keep the earlier one and zero the other.
	if currency.ScanHeightToTimestamp(height) < timestamp {
		return height, 0
	}

	return 0, timestamp
}

// AddUnconfirmedTransaction records an outgoing transaction that was
// submitted but not yet observed in a block.
func (s *SubWallets) AddUnconfirmedTransaction(tx transaction.Transaction) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.lockedTransactions = append(s.lockedTransactions, tx)
}

// AddTransaction records a confirmed transaction. A pending outgoing
// transaction with the same hash leaves the unconfirmed list, this is how a
// submitted send transitions to confirmed once it appears on chain.
func (s *SubWallets) AddTransaction(tx transaction.Transaction) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	kept := s.lockedTransactions[:0]
	for _, locked := range s.lockedTransactions {
		if locked.Hash != tx.Hash {
			kept = append(kept, locked)
		}
	}
	s.lockedTransactions = kept

	s.transactions = append(s.transactions, tx)
}

// CompleteAndStoreTransactionInput finalizes the key image of the input and
// stores it in the owning account. A view only collection stores the input
// without a key image, it cannot derive one.
func (s *SubWallets) CompleteAndStoreTransactionInput(
	publicSpendKey crypto.PublicKey,
	derivation crypto.KeyDerivation,
	outputIndex uint64,
	input transaction.Input,
) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	acc, ok := s.subWallets[publicSpendKey]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubWalletNotFound, publicSpendKey)
	}

	acc.CompleteAndStoreTransactionInput(derivation, outputIndex, input, s.isViewWallet)

	return nil
}

// KeyImageOwner returns the public spend key of the account holding the given
// key image. A view only collection can never own key images and reports not
// found without scanning.
func (s *SubWallets) KeyImageOwner(keyImage crypto.KeyImage) (crypto.PublicKey, bool) {
	if s.isViewWallet {
		return crypto.PublicKey{}, false
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, key := range s.publicSpendKeys {
		if s.subWallets[key].HasKeyImage(keyImage) {
			return key, true
		}
	}

	return crypto.PublicKey{}, false
}

// TransactionInputsForAmount selects unspent inputs worth at least the given
// amount from the chosen accounts, or from every account when takeFromAll is
// set. Inputs are taken in random order so spending patterns cannot be linked
// to account layout. Returns the selected inputs with their owners and the
// exact sum found. No state is mutated, the caller locks or spends the
// returned inputs explicitly.
func (s *SubWallets) TransactionInputsForAmount(
	amount uint64,
	takeFromAll bool,
	from []crypto.PublicKey,
) ([]transaction.InputWithOwner, uint64, error) {
	if s.isViewWallet {
		return nil, 0, ErrIllegalViewWalletOperation
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	accounts, err := s.resolve(takeFromAll, from)
	if err != nil {
		return nil, 0, err
	}

	available := gatherInputs(accounts)

	s.rnd.Shuffle(len(available), func(i, j int) {
		available[i], available[j] = available[j], available[i]
	})

	var found uint64
	var selected []transaction.InputWithOwner

	for _, candidate := range available {
		selected = append(selected, candidate)
		found += candidate.Input.Amount

		if found >= amount {
			return selected, found, nil
		}
	}

	return nil, 0, fmt.Errorf("%w: requested %d, have %d", ErrInsufficientFunds, amount, found)
}

// FusionTransactionInputs selects up to the consensus maximum of same
// magnitude inputs to consolidate. Inputs are bucketed by the decimal
// magnitude of their amount; if any bucket meets the consensus minimum input
// count, one such bucket is chosen at random and inputs come from it alone,
// otherwise all buckets are walked in ascending magnitude order. Fewer than
// the minimum inputs is not an error here, the caller validates the result
// against consensus before building a transaction. Returns the selected
// inputs, the computed input cap and the sum found.
func (s *SubWallets) FusionTransactionInputs(
	takeFromAll bool,
	from []crypto.PublicKey,
	mixin uint64,
) ([]transaction.InputWithOwner, uint64, uint64, error) {
	if s.isViewWallet {
		return nil, 0, 0, ErrIllegalViewWalletOperation
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	accounts, err := s.resolve(takeFromAll, from)
	if err != nil {
		return nil, 0, 0, err
	}

	maxInputsToTake := currency.ApproximateMaximumInputCount(
		s.cfg.FusionTxMaxSize,
		s.cfg.FusionTxMinInOutCountRatio,
		mixin,
	)

	available := gatherInputs(accounts)

	s.rnd.Shuffle(len(available), func(i, j int) {
		available[i], available[j] = available[j], available[i]
	})

	// Bucket the inputs by the amount of digits of their amount, so amounts
	// in [10^k, 10^k+1) share a bucket.
	buckets := make(map[int][]transaction.InputWithOwner)
	for _, candidate := range available {
		digits := numberOfDigits(candidate.Input.Amount)
		buckets[digits] = append(buckets[digits], candidate)
	}

	var fullBuckets []int
	for digits, bucket := range buckets {
		if uint64(len(bucket)) >= s.cfg.FusionTxMinInputCount {
			fullBuckets = append(fullBuckets, digits)
		}
	}

	// A fusion transaction combines outputs of one magnitude. Only when no
	// bucket is full does the selection degrade to walking all of them.
	var bucketsToTakeFrom [][]transaction.InputWithOwner
	if len(fullBuckets) > 0 {
		chosen := fullBuckets[s.rnd.Intn(len(fullBuckets))]
		bucketsToTakeFrom = [][]transaction.InputWithOwner{buckets[chosen]}
	} else {
		keys := make([]int, 0, len(buckets))
		for digits := range buckets {
			keys = append(keys, digits)
		}
		sort.Ints(keys)
		for _, digits := range keys {
			bucketsToTakeFrom = append(bucketsToTakeFrom, buckets[digits])
		}
	}

	var found uint64
	var selected []transaction.InputWithOwner

	for _, bucket := range bucketsToTakeFrom {
		for _, candidate := range bucket {
			selected = append(selected, candidate)
			found += candidate.Input.Amount

			if uint64(len(selected)) >= maxInputsToTake {
				return selected, maxInputsToTake, found, nil
			}
		}
	}

	return selected, maxInputsToTake, found, nil
}

// PrimaryAddress returns the address of the primary account, the first one
// created with the wallet.
func (s *SubWallets) PrimaryAddress() (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	acc, err := s.primary()
	if err != nil {
		return "", err
	}

	return acc.Address(), nil
}

// PrimaryPrivateSpendKey returns the private spend key of the primary
// account.
func (s *SubWallets) PrimaryPrivateSpendKey() (crypto.SecretKey, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	acc, err := s.primary()
	if err != nil {
		return crypto.SecretKey{}, err
	}

	return acc.PrivateSpendKey()
}

// Balance sums the balances of the chosen accounts, or of every account when
// takeFromAll is set, split into funds spendable at the given height and
// funds still locked.
func (s *SubWallets) Balance(from []crypto.PublicKey, takeFromAll bool, currentHeight uint64) (unlocked, locked uint64, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	accounts, err := s.resolve(takeFromAll, from)
	if err != nil {
		return 0, 0, err
	}

	for _, acc := range accounts {
		u, l := acc.Balance(currentHeight)
		unlocked += u
		locked += l
	}

	return unlocked, locked, nil
}

// MarkInputAsSpent marks the key image as spent at the given height. The
// input can no longer fund transactions.
func (s *SubWallets) MarkInputAsSpent(keyImage crypto.KeyImage, publicSpendKey crypto.PublicKey, spendHeight uint64) error {
	if s.isViewWallet {
		return ErrIllegalViewWalletOperation
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	acc, ok := s.subWallets[publicSpendKey]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubWalletNotFound, publicSpendKey)
	}

	return acc.MarkInputAsSpent(keyImage, spendHeight)
}

// MarkInputAsLocked marks the key image as locked in the pool. The input
// stays out of selection until its transaction confirms or is cancelled.
func (s *SubWallets) MarkInputAsLocked(keyImage crypto.KeyImage, publicSpendKey crypto.PublicKey) error {
	if s.isViewWallet {
		return ErrIllegalViewWalletOperation
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	acc, ok := s.subWallets[publicSpendKey]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubWalletNotFound, publicSpendKey)
	}

	return acc.MarkInputAsLocked(keyImage)
}

// RemoveForkedTransactions rolls the collection back to the given fork
// height. Confirmed transactions at or past the fork are dropped and every
// account reconciles its inputs.
func (s *SubWallets) RemoveForkedTransactions(forkHeight uint64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	kept := s.transactions[:0]
	for _, tx := range s.transactions {
		if tx.BlockHeight < forkHeight {
			kept = append(kept, tx)
		}
	}

	s.log.Warn(fmt.Sprintf("chain forked at height %d, dropping %d transactions", forkHeight, len(s.transactions)-len(kept)))

	s.transactions = kept

	for _, key := range s.publicSpendKeys {
		s.subWallets[key].RemoveForkedInputs(forkHeight)
	}
}

// RemoveCancelledTransactions drops the given hashes from the unconfirmed
// list and unlocks the inputs they held.
func (s *SubWallets) RemoveCancelledTransactions(cancelled []crypto.Hash) error {
	if s.isViewWallet {
		return ErrIllegalViewWalletOperation
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	set := make(map[crypto.Hash]struct{}, len(cancelled))
	for _, hash := range cancelled {
		set[hash] = struct{}{}
	}

	kept := s.lockedTransactions[:0]
	for _, tx := range s.lockedTransactions {
		if _, ok := set[tx.Hash]; !ok {
			kept = append(kept, tx)
		}
	}
	s.lockedTransactions = kept

	for _, key := range s.publicSpendKeys {
		s.subWallets[key].RemoveCancelledTransactions(set)
	}

	return nil
}

// Reset forgets every unconfirmed transaction, drops confirmed transactions
// at or past the given height and rewinds every account to it. In flight
// sends are rediscovered from the pool or the chain while rescanning.
func (s *SubWallets) Reset(scanHeight uint64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.lockedTransactions = nil

	kept := s.transactions[:0]
	for _, tx := range s.transactions {
		if tx.BlockHeight < scanHeight {
			kept = append(kept, tx)
		}
	}
	s.transactions = kept

	for _, key := range s.publicSpendKeys {
		s.subWallets[key].Reset(scanHeight)
	}

	s.log.Info(fmt.Sprintf("wallet reset to height %d", scanHeight))
}

// PrivateViewKey returns the private view key shared by all accounts.
func (s *SubWallets) PrivateViewKey() crypto.SecretKey {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.privateViewKey
}

// PrivateSpendKeys returns the private spend keys of all accounts in
// creation order. Empty for a view only collection.
func (s *SubWallets) PrivateSpendKeys() []crypto.SecretKey {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var keys []crypto.SecretKey
	for _, key := range s.publicSpendKeys {
		secret, err := s.subWallets[key].PrivateSpendKey()
		if err != nil {
			continue
		}
		keys = append(keys, secret)
	}

	return keys
}

// LockedTransactionHashes returns the hashes of the outgoing transactions
// still waiting for confirmation. It does not include incoming pool
// transactions, those are unknown until scanned.
func (s *SubWallets) LockedTransactionHashes() ([]crypto.Hash, error) {
	if s.isViewWallet {
		return nil, ErrIllegalViewWalletOperation
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	hashes := make([]crypto.Hash, 0, len(s.lockedTransactions))
	for _, tx := range s.lockedTransactions {
		hashes = append(hashes, tx.Hash)
	}

	return hashes, nil
}

// Transactions returns a copy of the confirmed transaction history.
func (s *SubWallets) Transactions() []transaction.Transaction {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return append([]transaction.Transaction(nil), s.transactions...)
}

// UnconfirmedTransactions returns a copy of the outgoing transactions not
// yet observed in a block.
func (s *SubWallets) UnconfirmedTransactions() []transaction.Transaction {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return append([]transaction.Transaction(nil), s.lockedTransactions...)
}

// Addresses returns the addresses of all accounts in creation order.
func (s *SubWallets) Addresses() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	addresses := make([]string, 0, len(s.publicSpendKeys))
	for _, key := range s.publicSpendKeys {
		addresses = append(addresses, s.subWallets[key].Address())
	}

	return addresses
}

// Count returns the amount of accounts in the collection.
func (s *SubWallets) Count() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return len(s.publicSpendKeys)
}

// IsViewWallet reports if the collection is view only. The mode is set at
// construction and never changes.
func (s *SubWallets) IsViewWallet() bool {
	return s.isViewWallet
}

func (s *SubWallets) insert(acc *account.Account) {
	s.subWallets[acc.PublicSpendKey()] = acc
	s.publicSpendKeys = append(s.publicSpendKeys, acc.PublicSpendKey())
}

func (s *SubWallets) primary() (*account.Account, error) {
	for _, key := range s.publicSpendKeys {
		if s.subWallets[key].IsPrimary() {
			return s.subWallets[key], nil
		}
	}

	return nil, ErrNoPrimaryAddress
}

func (s *SubWallets) resolve(takeFromAll bool, from []crypto.PublicKey) ([]*account.Account, error) {
	if takeFromAll {
		from = s.publicSpendKeys
	}

	accounts := make([]*account.Account, 0, len(from))
	for _, key := range from {
		acc, ok := s.subWallets[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrSubWalletNotFound, key)
		}
		accounts = append(accounts, acc)
	}

	return accounts, nil
}

func gatherInputs(accounts []*account.Account) []transaction.InputWithOwner {
	var available []transaction.InputWithOwner
	for _, acc := range accounts {
		secret, err := acc.PrivateSpendKey()
		if err != nil {
			continue
		}
		for _, input := range acc.Inputs() {
			available = append(available, transaction.InputWithOwner{
				Input:           input,
				PublicSpendKey:  acc.PublicSpendKey(),
				PrivateSpendKey: secret,
			})
		}
	}

	return available
}

func numberOfDigits(amount uint64) int {
	digits := 0
	for amount >= 10 {
		amount /= 10
		digits++
	}

	return digits
}
