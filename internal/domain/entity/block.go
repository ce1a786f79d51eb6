// Package entity contains the core domain entities for the block relay.
// These entities represent the fundamental business objects and have no external dependencies.
package entity

import "time"

// BlockHeader is the decoded header of a Starknet block.
type BlockHeader struct {
	// Number is the block height. Heights are kept as uint64 so values
	// above 2^53 survive without precision loss.
	Number uint64

	// Hash is the 0x-prefixed block hash, empty when the provider omitted it.
	Hash string

	// ParentHash is the 0x-prefixed parent block hash, empty when omitted.
	ParentHash string

	// Timestamp is the block production time, zero when omitted.
	Timestamp time.Time
}

// EventTypeNewBlock is the notification type sent for every relayed header.
const EventTypeNewBlock = "new_block"

// OutboundEvent is the notification delivered to the active subscriber.
type OutboundEvent struct {
	Type        string `json:"type"`
	BlockNumber uint64 `json:"block_number"`
}

// NewBlockEvent builds the notification for a decoded header.
func NewBlockEvent(header BlockHeader) OutboundEvent {
	return OutboundEvent{
		Type:        EventTypeNewBlock,
		BlockNumber: header.Number,
	}
}
