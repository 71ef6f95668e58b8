package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"vaultscan/internal/model"
)

// Decoder maps raw vault contract logs to typed events. Signature hashes
// are computed once from the ABI at construction, not per log.
type Decoder struct {
	vaultABI abi.ABI
	kinds    map[common.Hash]model.EventKind
}

// NewDecoder builds a vault event decoder.
func NewDecoder() (*Decoder, error) {
	vaultABI, err := ABI()
	if err != nil {
		return nil, err
	}

	return &Decoder{
		vaultABI: vaultABI,
		kinds: map[common.Hash]model.EventKind{
			vaultABI.Events["Deposited"].ID: model.KindDeposited,
			vaultABI.Events["Redeemed"].ID:  model.KindRedeemed,
		},
	}, nil
}

// Kind resolves topic0 to a tracked event kind. Logs whose signature is not
// tracked are not an error; callers skip them.
func (d *Decoder) Kind(topic0 common.Hash) (model.EventKind, bool) {
	kind, ok := d.kinds[topic0]
	return kind, ok
}

// Topics returns the tracked signature hashes, for subscription and
// historical-query filters.
func (d *Decoder) Topics() []common.Hash {
	return []common.Hash{
		d.vaultABI.Events["Deposited"].ID,
		d.vaultABI.Events["Redeemed"].ID,
	}
}

// TopicFor returns the signature hash for one event kind.
func (d *Decoder) TopicFor(kind model.EventKind) common.Hash {
	return d.vaultABI.Events[string(kind)].ID
}

// Decode converts a raw log into a VaultEvent. The caller owns network
// attribution and block-timestamp resolution; Decode fills everything
// derivable from the log alone.
func (d *Decoder) Decode(lg types.Log) (*model.VaultEvent, error) {
	if len(lg.Topics) < 4 {
		return nil, fmt.Errorf("expected 4 topics, got %d", len(lg.Topics))
	}
	if len(lg.Data) == 0 {
		return nil, fmt.Errorf("missing log data")
	}
	if lg.BlockNumber == 0 {
		return nil, fmt.Errorf("missing block number")
	}
	if lg.TxHash == (common.Hash{}) {
		return nil, fmt.Errorf("missing transaction hash")
	}

	kind, ok := d.kinds[lg.Topics[0]]
	if !ok {
		return nil, fmt.Errorf("unsupported topic0: %s", lg.Topics[0].Hex())
	}

	event := d.vaultABI.Events[string(kind)]

	var indexed struct {
		User   common.Address
		Asset  common.Address
		Stable common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), lg.Topics[1:]); err != nil {
		return nil, fmt.Errorf("parse topics: %w", err)
	}

	values, err := event.Inputs.NonIndexed().Unpack(lg.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("unexpected %s values: %d", event.Name, len(values))
	}

	first, err := asBigInt(values[0])
	if err != nil {
		return nil, err
	}
	second, err := asBigInt(values[1])
	if err != nil {
		return nil, err
	}
	fee, err := asBigInt(values[2])
	if err != nil {
		return nil, err
	}

	// Wire order differs per kind: Deposited emits (amount, tokenAmount,
	// fee), Redeemed emits (tokenAmount, amount, fee).
	amount, tokenAmount := first, second
	if kind == model.KindRedeemed {
		amount, tokenAmount = second, first
	}

	return &model.VaultEvent{
		Contract:    lg.Address.Hex(),
		Kind:        kind,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash.Hex(),
		User:        indexed.User.Hex(),
		AssetToken:  indexed.Asset.Hex(),
		Stablecoin:  indexed.Stable.Hex(),
		Amount:      amount.String(),
		TokenAmount: tokenAmount.String(),
		Fee:         fee.String(),
	}, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func asBigInt(value interface{}) (*big.Int, error) {
	n, ok := value.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("expected big.Int, got %T", value)
	}
	return n, nil
}
