package entity

import "fmt"

// Cursor is a position in the upstream stream.
type Cursor struct {
	// OrderKey is the block height the stream resumes from.
	OrderKey uint64

	// UniqueKey disambiguates forks at the same height. Empty for cursors
	// built from a height alone.
	UniqueKey []byte
}

// CursorAtHeight creates a cursor that starts streaming at the given block height.
func CursorAtHeight(height uint64) Cursor {
	return Cursor{OrderKey: height}
}

func (c Cursor) String() string {
	if len(c.UniqueKey) == 0 {
		return fmt.Sprintf("%d", c.OrderKey)
	}
	return fmt.Sprintf("%d/%x", c.OrderKey, c.UniqueKey)
}

// Finality is the acceptance tier of blocks requested from the provider.
type Finality int

// Finality values, numbered as on the wire.
const (
	FinalityUnknown Finality = iota
	FinalityPending
	FinalityAccepted
	FinalityFinalized
)

func (f Finality) String() string {
	switch f {
	case FinalityPending:
		return "pending"
	case FinalityAccepted:
		return "accepted"
	case FinalityFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}
