package model

import "time"

// EventKind identifies which vault event a log decoded into.
type EventKind string

const (
	KindDeposited EventKind = "Deposited"
	KindRedeemed  EventKind = "Redeemed"
)

// VaultEvent is the canonical decoded form of a vault contract log.
//
// Amount, TokenAmount and Fee are uint256 values rendered as decimal
// strings. On the wire the triple order depends on the kind: Deposited
// emits (amount, tokenAmount, fee) while Redeemed emits (tokenAmount,
// amount, fee). Decoding normalizes that so Amount is always the
// stable-side value and TokenAmount the vault-token side.
type VaultEvent struct {
	Network     string    `json:"network"`
	Contract    string    `json:"contract"`
	Kind        EventKind `json:"kind"`
	BlockNumber uint64    `json:"block_number"`
	TxHash      string    `json:"tx_hash"`

	// BlockTime is the wall-clock block timestamp. When the header lookup
	// fails it degrades to ingestion time and RawBlockTime stays zero so
	// consumers can detect the degraded value.
	BlockTime    time.Time `json:"block_time"`
	RawBlockTime uint64    `json:"raw_block_time"`

	User        string `json:"user"`
	AssetToken  string `json:"asset_token"`
	Stablecoin  string `json:"stablecoin"`
	Amount      string `json:"amount"`
	TokenAmount string `json:"token_amount"`
	Fee         string `json:"fee"`
}
