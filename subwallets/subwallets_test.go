package subwallets

import (
	"math/rand"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartossh/custodia/address"
	"github.com/bartossh/custodia/crypto"
	"github.com/bartossh/custodia/currency"
	"github.com/bartossh/custodia/logging"
	"github.com/bartossh/custodia/transaction"
)

var (
	testSpendKey = crypto.SecretKey{1}
	testViewKey  = crypto.SecretKey{2}
	testTime     = time.Unix(1700000000, 0)
)

func testWallet(t *testing.T, scanHeight uint64, newWallet bool) *SubWallets {
	t.Helper()

	s, err := New(
		currency.DefaultConfig(),
		testSpendKey,
		testViewKey,
		scanHeight,
		newWallet,
		clock.NewTestClock(testTime),
		rand.New(rand.NewSource(7)),
		logging.New(func(error) {}),
	)
	require.NoError(t, err)

	return s
}

func testViewWallet(t *testing.T) *SubWallets {
	t.Helper()

	s, err := NewViewWallet(
		currency.DefaultConfig(),
		testViewKey,
		address.FromSecretKeys(testSpendKey, testViewKey),
		0,
		false,
		clock.NewTestClock(testTime),
		rand.New(rand.NewSource(7)),
		logging.New(func(error) {}),
	)
	require.NoError(t, err)

	return s
}

// storeInput stores an input for the account owning the given key pair and
// returns the key image the account derived for it. The index has to be
// unique per owner to produce unique key images.
func storeInput(
	t *testing.T,
	s *SubWallets,
	owner crypto.KeyPair,
	amount, blockHeight, index uint64,
	parent crypto.Hash,
) crypto.KeyImage {
	t.Helper()

	derivation := crypto.GenerateKeyDerivation(crypto.PublicKey{byte(index)}, testViewKey)
	err := s.CompleteAndStoreTransactionInput(owner.Public, derivation, index, transaction.Input{
		Amount:                amount,
		BlockHeight:           blockHeight,
		ParentTransactionHash: parent,
	})
	require.NoError(t, err)

	return crypto.DeriveKeyImage(derivation, index, owner)
}

func primaryKeys() crypto.KeyPair {
	return crypto.KeyPair{Public: crypto.SecretKeyToPublicKey(testSpendKey), Secret: testSpendKey}
}

func TestNewWalletPrimaryAccount(t *testing.T) {
	s := testWallet(t, 0, false)

	assert.False(t, s.IsViewWallet())

	addr, err := s.PrimaryAddress()
	assert.Nil(t, err)
	assert.Equal(t, address.FromSecretKeys(testSpendKey, testViewKey), addr)

	secret, err := s.PrimaryPrivateSpendKey()
	assert.Nil(t, err)
	assert.Equal(t, testSpendKey, secret)

	assert.Equal(t, testViewKey, s.PrivateViewKey())
	assert.Len(t, s.Addresses(), 1)
	assert.Len(t, s.PrivateSpendKeys(), 1)
}

func TestAddSubWallet(t *testing.T) {
	s := testWallet(t, 0, false)

	addr, err := s.AddSubWallet()
	assert.Nil(t, err)
	assert.Nil(t, address.Validate(addr))

	assert.Len(t, s.Addresses(), 2)
	assert.Len(t, s.PrivateSpendKeys(), 2)
	assert.Equal(t, 2, s.Count())

	// The primary account stays the first one created.
	primary, err := s.PrimaryAddress()
	assert.Nil(t, err)
	assert.NotEqual(t, addr, primary)
}

func TestImportSubWallet(t *testing.T) {
	s := testWallet(t, 0, false)

	imported := crypto.SecretKey{42}
	addr, err := s.ImportSubWallet(imported, 1000, false)
	assert.Nil(t, err)
	assert.Equal(t, address.FromSecretKeys(imported, testViewKey), addr)

	_, err = s.ImportSubWallet(imported, 1000, false)
	assert.ErrorIs(t, err, ErrSubWalletAlreadyExists)
}

func TestImportViewSubWalletOnSpendingWallet(t *testing.T) {
	s := testWallet(t, 0, false)

	_, err := s.ImportViewSubWallet(crypto.PublicKey{9}, 0, false)
	assert.ErrorIs(t, err, ErrIllegalNonViewWalletOperation)
}

func TestViewWalletGuards(t *testing.T) {
	s := testViewWallet(t)

	assert.True(t, s.IsViewWallet())

	_, err := s.AddSubWallet()
	assert.ErrorIs(t, err, ErrIllegalViewWalletOperation)

	_, err = s.ImportSubWallet(crypto.SecretKey{3}, 0, false)
	assert.ErrorIs(t, err, ErrIllegalViewWalletOperation)

	_, _, err = s.TransactionInputsForAmount(100, true, nil)
	assert.ErrorIs(t, err, ErrIllegalViewWalletOperation)

	_, _, _, err = s.FusionTransactionInputs(true, nil, 3)
	assert.ErrorIs(t, err, ErrIllegalViewWalletOperation)

	err = s.MarkInputAsSpent(crypto.KeyImage{1}, crypto.PublicKey{1}, 10)
	assert.ErrorIs(t, err, ErrIllegalViewWalletOperation)

	err = s.MarkInputAsLocked(crypto.KeyImage{1}, crypto.PublicKey{1})
	assert.ErrorIs(t, err, ErrIllegalViewWalletOperation)

	_, err = s.LockedTransactionHashes()
	assert.ErrorIs(t, err, ErrIllegalViewWalletOperation)

	err = s.RemoveCancelledTransactions([]crypto.Hash{{1}})
	assert.ErrorIs(t, err, ErrIllegalViewWalletOperation)

	_, found := s.KeyImageOwner(crypto.KeyImage{1})
	assert.False(t, found)

	assert.Empty(t, s.PrivateSpendKeys())
}

func TestImportViewSubWallet(t *testing.T) {
	s := testViewWallet(t)

	imported := crypto.PublicKey{9}
	addr, err := s.ImportViewSubWallet(imported, 500, false)
	assert.Nil(t, err)
	assert.Nil(t, address.Validate(addr))

	_, err = s.ImportViewSubWallet(imported, 500, false)
	assert.ErrorIs(t, err, ErrSubWalletAlreadyExists)

	assert.Len(t, s.Addresses(), 2)
}

func TestMinInitialSyncStartGenesis(t *testing.T) {
	s := testWallet(t, 0, false)

	height, timestamp := s.MinInitialSyncStart()
	assert.Equal(t, uint64(0), height)
	assert.Equal(t, uint64(0), timestamp)
}

func TestMinInitialSyncStartHeightOnly(t *testing.T) {
	s := testWallet(t, 100, false)

	height, timestamp := s.MinInitialSyncStart()
	assert.Equal(t, uint64(100), height)
	assert.Equal(t, uint64(0), timestamp)
}

func TestMinInitialSyncStartGenesisAccountWins(t *testing.T) {
	s := testWallet(t, 100, false)

	// The imported account scans from "now" and carries no height
	// constraint, the primary carries no timestamp constraint. Both minima
	// collapse to zero, the whole chain has to be scanned.
	_, err := s.ImportSubWallet(crypto.SecretKey{42}, 0, true)
	require.NoError(t, err)

	height, timestamp := s.MinInitialSyncStart()
	assert.Equal(t, uint64(0), height)
	assert.Equal(t, uint64(0), timestamp)
}

func TestMinInitialSyncStartHeightBeatsTimestamp(t *testing.T) {
	// The single account has both a height and a timestamp. The height maps
	// to a far earlier point in time than the wallet creation timestamp.
	s := testWallet(t, 100000, true)

	height, timestamp := s.MinInitialSyncStart()
	assert.Equal(t, uint64(100000), height)
	assert.Equal(t, uint64(0), timestamp)
}

func TestMinInitialSyncStartTimestampBeatsHeight(t *testing.T) {
	early := time.Unix(currency.GenesisBlockTimestamp+10000, 0)

	s, err := New(
		currency.DefaultConfig(),
		testSpendKey,
		testViewKey,
		100000,
		true,
		clock.NewTestClock(early),
		rand.New(rand.NewSource(7)),
		logging.New(func(error) {}),
	)
	require.NoError(t, err)

	height, timestamp := s.MinInitialSyncStart()
	assert.Equal(t, uint64(0), height)
	assert.Equal(t, currency.CurrentTimestampAdjusted(clock.NewTestClock(early)), timestamp)
}

func TestTransactionInputsForAmount(t *testing.T) {
	s := testWallet(t, 0, false)
	owner := primaryKeys()

	storeInput(t, s, owner, 100, 10, 1, crypto.Hash{1})
	storeInput(t, s, owner, 200, 10, 2, crypto.Hash{2})
	storeInput(t, s, owner, 300, 10, 3, crypto.Hash{3})
	storeInput(t, s, owner, 400, 10, 4, crypto.Hash{4})

	inputs, found, err := s.TransactionInputsForAmount(500, true, nil)
	assert.Nil(t, err)
	assert.GreaterOrEqual(t, found, uint64(500))

	var sum uint64
	for _, in := range inputs {
		assert.Equal(t, owner.Public, in.PublicSpendKey)
		assert.Equal(t, owner.Secret, in.PrivateSpendKey)
		sum += in.Input.Amount
	}
	assert.Equal(t, found, sum)
}

func TestTransactionInputsForAmountInsufficientFunds(t *testing.T) {
	s := testWallet(t, 0, false)
	owner := primaryKeys()

	storeInput(t, s, owner, 100, 10, 1, crypto.Hash{1})

	_, _, err := s.TransactionInputsForAmount(500, true, nil)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// Failed selection consumes nothing.
	unlocked, locked, err := s.Balance(nil, true, 100)
	assert.Nil(t, err)
	assert.Equal(t, uint64(100), unlocked)
	assert.Equal(t, uint64(0), locked)
}

func TestTransactionInputsForAmountScopedToAccounts(t *testing.T) {
	s := testWallet(t, 0, false)
	owner := primaryKeys()
	storeInput(t, s, owner, 100, 10, 1, crypto.Hash{1})

	importedSecret := crypto.SecretKey{42}
	_, err := s.ImportSubWallet(importedSecret, 0, false)
	require.NoError(t, err)
	imported := crypto.KeyPair{Public: crypto.SecretKeyToPublicKey(importedSecret), Secret: importedSecret}
	storeInput(t, s, imported, 1000, 10, 1, crypto.Hash{2})

	inputs, _, err := s.TransactionInputsForAmount(50, false, []crypto.PublicKey{owner.Public})
	assert.Nil(t, err)
	for _, in := range inputs {
		assert.Equal(t, owner.Public, in.PublicSpendKey)
	}

	// Scoped to the primary account only, its 100 cannot cover 500.
	_, _, err = s.TransactionInputsForAmount(500, false, []crypto.PublicKey{owner.Public})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestTransactionInputsForAmountUnknownAccount(t *testing.T) {
	s := testWallet(t, 0, false)

	_, _, err := s.TransactionInputsForAmount(100, false, []crypto.PublicKey{{99}})
	assert.ErrorIs(t, err, ErrSubWalletNotFound)
}

func TestFusionTransactionInputsFullBucket(t *testing.T) {
	s := testWallet(t, 0, false)
	owner := primaryKeys()

	// Twelve inputs of magnitude 10^1 fill a bucket, two small ones do not.
	for i := uint64(0); i < 12; i++ {
		storeInput(t, s, owner, 10+i, 10, i+1, crypto.Hash{byte(i)})
	}
	storeInput(t, s, owner, 5, 10, 20, crypto.Hash{20})
	storeInput(t, s, owner, 7, 10, 21, crypto.Hash{21})

	inputs, maxInputs, found, err := s.FusionTransactionInputs(true, nil, 3)
	assert.Nil(t, err)
	assert.Equal(t, currency.ApproximateMaximumInputCount(30000, 4, 3), maxInputs)

	// All selected inputs come from the one full bucket.
	assert.Len(t, inputs, 12)
	var sum uint64
	for _, in := range inputs {
		assert.GreaterOrEqual(t, in.Input.Amount, uint64(10))
		assert.Less(t, in.Input.Amount, uint64(100))
		sum += in.Input.Amount
	}
	assert.Equal(t, sum, found)
}

func TestFusionTransactionInputsFallbackWalksAllBuckets(t *testing.T) {
	s := testWallet(t, 0, false)
	owner := primaryKeys()

	for i, amount := range []uint64{5, 7, 40, 60, 300} {
		storeInput(t, s, owner, amount, 10, uint64(i+1), crypto.Hash{byte(i)})
	}

	// Mixin 120 caps the selection at three inputs. No bucket reaches the
	// minimum fusion input count, so buckets are walked in ascending
	// magnitude order.
	inputs, maxInputs, found, err := s.FusionTransactionInputs(true, nil, 120)
	assert.Nil(t, err)
	assert.Equal(t, uint64(3), maxInputs)
	assert.Len(t, inputs, 3)

	assert.Contains(t, []uint64{5, 7}, inputs[0].Input.Amount)
	assert.Contains(t, []uint64{5, 7}, inputs[1].Input.Amount)
	assert.Contains(t, []uint64{40, 60}, inputs[2].Input.Amount)

	assert.Equal(t, 12+inputs[2].Input.Amount, found)
}

func TestFusionTransactionInputsFewerThanMinimumIsNotAnError(t *testing.T) {
	s := testWallet(t, 0, false)
	owner := primaryKeys()
	storeInput(t, s, owner, 5, 10, 1, crypto.Hash{1})

	inputs, _, found, err := s.FusionTransactionInputs(true, nil, 3)
	assert.Nil(t, err)
	assert.Len(t, inputs, 1)
	assert.Equal(t, uint64(5), found)
}

func TestAddTransactionConfirmsUnconfirmed(t *testing.T) {
	s := testWallet(t, 0, false)

	pending := transaction.Transaction{Hash: crypto.Hash{7}, Fee: 10}
	s.AddUnconfirmedTransaction(pending)

	hashes, err := s.LockedTransactionHashes()
	assert.Nil(t, err)
	assert.Contains(t, hashes, crypto.Hash{7})

	confirmed := pending
	confirmed.BlockHeight = 50
	s.AddTransaction(confirmed)

	hashes, err = s.LockedTransactionHashes()
	assert.Nil(t, err)
	assert.NotContains(t, hashes, crypto.Hash{7})

	txs := s.Transactions()
	assert.Len(t, txs, 1)
	assert.Equal(t, uint64(50), txs[0].BlockHeight)
	assert.Empty(t, s.UnconfirmedTransactions())
}

func TestRemoveCancelledTransactions(t *testing.T) {
	s := testWallet(t, 0, false)
	owner := primaryKeys()

	pendingHash := crypto.Hash{7}
	image := storeInput(t, s, owner, 100, 10, 1, pendingHash)

	require.NoError(t, s.MarkInputAsLocked(image, owner.Public))
	s.AddUnconfirmedTransaction(transaction.Transaction{Hash: pendingHash, Fee: 10})

	require.NoError(t, s.RemoveCancelledTransactions([]crypto.Hash{pendingHash}))

	hashes, err := s.LockedTransactionHashes()
	assert.Nil(t, err)
	assert.Empty(t, hashes)

	// The input held by the cancelled transaction is spendable again.
	unlocked, _, err := s.Balance(nil, true, 100)
	assert.Nil(t, err)
	assert.Equal(t, uint64(100), unlocked)
}

func TestRemoveForkedTransactions(t *testing.T) {
	s := testWallet(t, 0, false)
	owner := primaryKeys()
	storeInput(t, s, owner, 100, 100, 1, crypto.Hash{1})

	importedSecret := crypto.SecretKey{42}
	_, err := s.ImportSubWallet(importedSecret, 0, false)
	require.NoError(t, err)
	imported := crypto.KeyPair{Public: crypto.SecretKeyToPublicKey(importedSecret), Secret: importedSecret}
	storeInput(t, s, imported, 200, 250, 1, crypto.Hash{2})

	s.AddTransaction(transaction.Transaction{Hash: crypto.Hash{3}, BlockHeight: 150})
	s.AddTransaction(transaction.Transaction{Hash: crypto.Hash{4}, BlockHeight: 250})

	s.RemoveForkedTransactions(200)

	txs := s.Transactions()
	assert.Len(t, txs, 1)
	assert.Equal(t, uint64(150), txs[0].BlockHeight)

	unlocked, _, err := s.Balance([]crypto.PublicKey{owner.Public}, false, 300)
	assert.Nil(t, err)
	assert.Equal(t, uint64(100), unlocked)

	unlocked, _, err = s.Balance([]crypto.PublicKey{imported.Public}, false, 300)
	assert.Nil(t, err)
	assert.Equal(t, uint64(0), unlocked)
}

func TestReset(t *testing.T) {
	s := testWallet(t, 0, false)
	owner := primaryKeys()
	storeInput(t, s, owner, 100, 100, 1, crypto.Hash{1})

	s.AddUnconfirmedTransaction(transaction.Transaction{Hash: crypto.Hash{7}})
	s.AddTransaction(transaction.Transaction{Hash: crypto.Hash{3}, BlockHeight: 150})
	s.AddTransaction(transaction.Transaction{Hash: crypto.Hash{4}, BlockHeight: 350})

	s.Reset(300)

	assert.Empty(t, s.UnconfirmedTransactions())

	txs := s.Transactions()
	assert.Len(t, txs, 1)
	assert.Equal(t, uint64(150), txs[0].BlockHeight)

	height, timestamp := s.MinInitialSyncStart()
	assert.Equal(t, uint64(300), height)
	assert.Equal(t, uint64(0), timestamp)

	unlocked, locked, err := s.Balance(nil, true, 1000)
	assert.Nil(t, err)
	assert.Equal(t, uint64(0), unlocked)
	assert.Equal(t, uint64(0), locked)
}

func TestKeyImageOwner(t *testing.T) {
	s := testWallet(t, 0, false)

	importedSecret := crypto.SecretKey{42}
	_, err := s.ImportSubWallet(importedSecret, 0, false)
	require.NoError(t, err)
	imported := crypto.KeyPair{Public: crypto.SecretKeyToPublicKey(importedSecret), Secret: importedSecret}

	image := storeInput(t, s, imported, 200, 10, 1, crypto.Hash{2})

	key, found := s.KeyImageOwner(image)
	assert.True(t, found)
	assert.Equal(t, imported.Public, key)

	_, found = s.KeyImageOwner(crypto.KeyImage{99})
	assert.False(t, found)

	_, found = s.KeyImageOwner(crypto.KeyImage{})
	assert.False(t, found)
}

func TestMarkInputAsSpentRemovesFromSelection(t *testing.T) {
	s := testWallet(t, 0, false)
	owner := primaryKeys()

	image := storeInput(t, s, owner, 100, 10, 1, crypto.Hash{1})
	storeInput(t, s, owner, 50, 10, 2, crypto.Hash{2})

	require.NoError(t, s.MarkInputAsSpent(image, owner.Public, 42))

	_, _, err := s.TransactionInputsForAmount(100, true, nil)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestMarkInputAsSpentUnknownAccount(t *testing.T) {
	s := testWallet(t, 0, false)

	err := s.MarkInputAsSpent(crypto.KeyImage{1}, crypto.PublicKey{99}, 42)
	assert.ErrorIs(t, err, ErrSubWalletNotFound)
}

func TestCompleteAndStoreTransactionInputUnknownAccount(t *testing.T) {
	s := testWallet(t, 0, false)

	derivation := crypto.GenerateKeyDerivation(crypto.PublicKey{7}, testViewKey)
	err := s.CompleteAndStoreTransactionInput(crypto.PublicKey{99}, derivation, 0, transaction.Input{Amount: 1})
	assert.ErrorIs(t, err, ErrSubWalletNotFound)
}

func TestBalanceUnknownAccount(t *testing.T) {
	s := testWallet(t, 0, false)

	_, _, err := s.Balance([]crypto.PublicKey{{99}}, false, 100)
	assert.ErrorIs(t, err, ErrSubWalletNotFound)
}

func TestCopyIsIndependent(t *testing.T) {
	s := testWallet(t, 0, false)
	owner := primaryKeys()

	image := storeInput(t, s, owner, 100, 10, 1, crypto.Hash{1})
	s.AddTransaction(transaction.Transaction{Hash: crypto.Hash{3}, BlockHeight: 150})

	cp := s.Copy()

	require.NoError(t, s.MarkInputAsSpent(image, owner.Public, 42))
	s.AddTransaction(transaction.Transaction{Hash: crypto.Hash{4}, BlockHeight: 151})

	unlocked, _, err := cp.Balance(nil, true, 100)
	assert.Nil(t, err)
	assert.Equal(t, uint64(100), unlocked)
	assert.Len(t, cp.Transactions(), 1)
	assert.Len(t, s.Transactions(), 2)
	assert.Equal(t, s.PrivateViewKey(), cp.PrivateViewKey())
}

func TestViewWalletStoresInputsWithoutKeyImages(t *testing.T) {
	s := testViewWallet(t)

	publicSpendKey := crypto.SecretKeyToPublicKey(testSpendKey)
	derivation := crypto.GenerateKeyDerivation(crypto.PublicKey{7}, testViewKey)
	err := s.CompleteAndStoreTransactionInput(publicSpendKey, derivation, 0, transaction.Input{
		Amount:      100,
		BlockHeight: 10,
	})
	assert.Nil(t, err)

	unlocked, _, err := s.Balance(nil, true, 100)
	assert.Nil(t, err)
	assert.Equal(t, uint64(100), unlocked)
}
