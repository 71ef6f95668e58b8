package model

import (
	"fmt"
	"time"
)

// EventRecord is the persisted shape of a vault event. Both kinds share one
// schema; the fields the kind does not produce are stored as integer zero.
type EventRecord struct {
	Network         string    `json:"network"`
	ContractAddress string    `json:"contract_address"`
	EventKind       string    `json:"event_kind"`
	BlockNumber     uint64    `json:"block_number"`
	TxHash          string    `json:"tx_hash"`
	BlockTime       time.Time `json:"block_time"`
	RawBlockTime    uint64    `json:"raw_block_time"`

	UserAddress string `json:"user_address"`
	AssetToken  string `json:"asset_token"`
	Stablecoin  string `json:"stablecoin"`

	AmountDeposited string `json:"amount_deposited"`
	TokensMinted    string `json:"tokens_minted"`
	TokensRedeemed  string `json:"tokens_redeemed"`
	AmountReturned  string `json:"amount_returned"`
	Fee             string `json:"fee"`
}

// RecordFromEvent maps a decoded event to its persisted shape. The mapping
// is exhaustive over EventKind; an unknown kind is reported rather than
// written as a half-filled row.
func RecordFromEvent(ev *VaultEvent) (*EventRecord, error) {
	rec := &EventRecord{
		Network:         ev.Network,
		ContractAddress: ev.Contract,
		EventKind:       string(ev.Kind),
		BlockNumber:     ev.BlockNumber,
		TxHash:          ev.TxHash,
		BlockTime:       ev.BlockTime,
		RawBlockTime:    ev.RawBlockTime,
		UserAddress:     ev.User,
		AssetToken:      ev.AssetToken,
		Stablecoin:      ev.Stablecoin,
		Fee:             ev.Fee,
	}

	switch ev.Kind {
	case KindDeposited:
		rec.AmountDeposited = ev.Amount
		rec.TokensMinted = ev.TokenAmount
		rec.TokensRedeemed = "0"
		rec.AmountReturned = "0"
	case KindRedeemed:
		rec.TokensRedeemed = ev.TokenAmount
		rec.AmountReturned = ev.Amount
		rec.AmountDeposited = "0"
		rec.TokensMinted = "0"
	default:
		return nil, fmt.Errorf("unknown event kind: %q", ev.Kind)
	}

	return rec, nil
}
