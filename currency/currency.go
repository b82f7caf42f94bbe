package currency

import (
	"errors"

	"github.com/lightningnetwork/lnd/clock"
)

const (
	// MaxBlockNumber is the border between unlock times expressed as a block
	// height and unlock times expressed as a unix timestamp. Values above it
	// are timestamps.
	MaxBlockNumber = 500000000

	// MinedMoneyUnlockWindow is the amount of blocks a coinbase output stays
	// locked after being mined.
	MinedMoneyUnlockWindow = 10

	// DifficultyTarget is the expected amount of seconds between blocks.
	DifficultyTarget = 30

	// GenesisBlockTimestamp is the unix timestamp of the genesis block.
	GenesisBlockTimestamp = 1546300800

	// BlockFutureTimeLimit is the amount of seconds a block timestamp can
	// drift into the future and still be accepted by the network.
	BlockFutureTimeLimit = 60 * 60 * 2
)

const (
	minFusionTxMaxSize            = 1000
	maxFusionTxMaxSize            = 1000000
	minFusionTxMinInputCount      = 2
	maxFusionTxMinInputCount      = 1000
	minFusionTxMinInOutCountRatio = 2
	maxFusionTxMinInOutCountRatio = 16
)

var (
	ErrFusionTxMaxSizeNotInRange            = errors.New("invalid fusion transaction max size, must be in range [1000 : 1000000]")
	ErrFusionTxMinInputCountNotInRange      = errors.New("invalid fusion transaction minimum input count, must be in range [2 : 1000]")
	ErrFusionTxMinInOutCountRatioNotInRange = errors.New("invalid fusion transaction input to output ratio, must be in range [2 : 16]")
)

// Config holds the consensus parameters governing fusion transactions.
// The zero value is not usable, start from DefaultConfig.
type Config struct {
	FusionTxMaxSize            uint64 `yaml:"fusion_tx_max_size"`
	FusionTxMinInputCount      uint64 `yaml:"fusion_tx_min_input_count"`
	FusionTxMinInOutCountRatio uint64 `yaml:"fusion_tx_min_in_out_count_ratio"`
}

// DefaultConfig returns the consensus parameters of the main network.
func DefaultConfig() Config {
	return Config{
		FusionTxMaxSize:            30000,
		FusionTxMinInputCount:      12,
		FusionTxMinInOutCountRatio: 4,
	}
}

// Validate validates the consensus parameters configuration.
func (c Config) Validate() error {
	if c.FusionTxMaxSize < minFusionTxMaxSize || c.FusionTxMaxSize > maxFusionTxMaxSize {
		return ErrFusionTxMaxSizeNotInRange
	}

	if c.FusionTxMinInputCount < minFusionTxMinInputCount || c.FusionTxMinInputCount > maxFusionTxMinInputCount {
		return ErrFusionTxMinInputCountNotInRange
	}

	if c.FusionTxMinInOutCountRatio < minFusionTxMinInOutCountRatio || c.FusionTxMinInOutCountRatio > maxFusionTxMinInOutCountRatio {
		return ErrFusionTxMinInOutCountRatioNotInRange
	}

	return nil
}

// ApproximateMaximumInputCount estimates how many inputs fit into a
// transaction of the given size, assuming outputCount outputs and mixin decoy
// outputs per ring signature. The estimate works on serialized field sizes.
func ApproximateMaximumInputCount(transactionSize, outputCount, mixin uint64) uint64 {
	const (
		keyImageSize                  = 32
		outputKeySize                 = 32
		amountSize                    = 8 + 2
		globalIndexesVectorSizeSize   = 1
		globalIndexesInitialValueSize = 4
		globalIndexesDifferenceSize   = 4
		signatureSize                 = 64
		extraTagSize                  = 1
		inputTagSize                  = 1
		outputTagSize                 = 1
		publicKeySize                 = 32
		transactionVersionSize        = 1
		transactionUnlockTimeSize     = 8
	)

	outputsSize := outputCount * (outputTagSize + outputKeySize + amountSize)

	headerSize := uint64(transactionVersionSize + transactionUnlockTimeSize + extraTagSize + publicKeySize)

	inputSize := uint64(inputTagSize+amountSize+keyImageSize+signatureSize+
		globalIndexesVectorSizeSize+globalIndexesInitialValueSize) +
		mixin*(globalIndexesDifferenceSize+signatureSize)

	if transactionSize < headerSize+outputsSize {
		return 0
	}

	return (transactionSize - headerSize - outputsSize) / inputSize
}

// ScanHeightToTimestamp approximates the unix timestamp of the block at the
// given height. Height zero maps to timestamp zero, meaning scan from
// genesis.
func ScanHeightToTimestamp(scanHeight uint64) uint64 {
	if scanHeight == 0 {
		return 0
	}

	secondsSinceLaunch := scanHeight * DifficultyTarget

	// Shave five percent off in case of drifting block times, scanning too
	// early is cheap, scanning too late loses transactions.
	secondsSinceLaunch = secondsSinceLaunch * 95 / 100

	return GenesisBlockTimestamp + secondsSinceLaunch
}

// TimestampToScanHeight approximates the block height at the given unix
// timestamp.
func TimestampToScanHeight(timestamp uint64) uint64 {
	if timestamp <= GenesisBlockTimestamp {
		return 0
	}

	return (timestamp - GenesisBlockTimestamp) / DifficultyTarget
}

// CurrentTimestampAdjusted returns the current unix timestamp pushed back by
// the allowed future block time drift, so a wallet scanning from "now" cannot
// skip a block carrying a future timestamp.
func CurrentTimestampAdjusted(c clock.Clock) uint64 {
	return uint64(c.Now().Unix()) - BlockFutureTimeLimit
}
