// wire.go encodes and decodes the Apibara DNA v1alpha2 stream messages.
//
// The messages are plain protobuf. Only the handful of fields the relay needs
// are handled, so they are read and written directly with protowire:
//
//	StreamDataRequest  { stream_id = 1; batch_size = 2; starting_cursor = 3; finality = 4; filter = 5 }
//	StreamDataResponse { stream_id = 1; oneof { invalidate = 2; data = 3; heartbeat = 4 } }
//	Cursor             { order_key = 1; unique_key = 2 }
//	Data               { end_cursor = 1; finality = 2; repeated data = 3; cursor = 4 }
//	Invalidate         { cursor = 1 }
//	starknet Filter    { header = 1 }  HeaderFilter { weak = 1 }
package apibara

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/archon-research/starknet-relay/internal/domain/entity"
)

const (
	requestStreamIDField       protowire.Number = 1
	requestBatchSizeField      protowire.Number = 2
	requestStartingCursorField protowire.Number = 3
	requestFinalityField       protowire.Number = 4
	requestFilterField         protowire.Number = 5

	responseStreamIDField   protowire.Number = 1
	responseInvalidateField protowire.Number = 2
	responseDataField       protowire.Number = 3
	responseHeartbeatField  protowire.Number = 4

	cursorOrderKeyField  protowire.Number = 1
	cursorUniqueKeyField protowire.Number = 2

	dataEndCursorField protowire.Number = 1
	dataFinalityField  protowire.Number = 2
	dataBlocksField    protowire.Number = 3
	dataCursorField    protowire.Number = 4

	invalidateCursorField protowire.Number = 1

	filterHeaderField     protowire.Number = 1
	headerFilterWeakField protowire.Number = 1
)

// ErrMalformedMessage is returned when a stream response cannot be parsed.
var ErrMalformedMessage = errors.New("malformed stream message")

// MessageKind tags the variant carried by a StreamMessage.
type MessageKind int

// Stream message variants.
const (
	MessageUnknown MessageKind = iota
	MessageData
	MessageInvalidate
	MessageHeartbeat
)

func (k MessageKind) String() string {
	switch k {
	case MessageData:
		return "data"
	case MessageInvalidate:
		return "invalidate"
	case MessageHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// StreamRequest configures a stream session.
type StreamRequest struct {
	StreamID  uint64
	BatchSize uint64
	Cursor    entity.Cursor
	Finality  entity.Finality
	Filter    []byte
}

// StreamMessage is one decoded StreamDataResponse.
type StreamMessage struct {
	Kind     MessageKind
	StreamID uint64

	// Blocks holds the encoded block payloads of a Data message.
	Blocks [][]byte

	// Cursor is the data cursor of a Data message, or the invalidated
	// position of an Invalidate message.
	Cursor *entity.Cursor

	// EndCursor is the cursor following the last block of a Data message.
	EndCursor *entity.Cursor

	Finality entity.Finality
}

// Marshal encodes the request as a StreamDataRequest.
func (r StreamRequest) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, requestStreamIDField, protowire.VarintType)
	b = protowire.AppendVarint(b, r.StreamID)
	b = protowire.AppendTag(b, requestBatchSizeField, protowire.VarintType)
	b = protowire.AppendVarint(b, r.BatchSize)
	b = protowire.AppendTag(b, requestStartingCursorField, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalCursor(r.Cursor))
	b = protowire.AppendTag(b, requestFinalityField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Finality))
	if len(r.Filter) > 0 {
		b = protowire.AppendTag(b, requestFilterField, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Filter)
	}
	return b
}

// NewHeaderFilter returns an encoded Starknet filter that selects block headers only.
// A weak header filter asks for headers only of blocks that match another filter.
func NewHeaderFilter(weak bool) []byte {
	var header []byte
	if weak {
		header = protowire.AppendTag(header, headerFilterWeakField, protowire.VarintType)
		header = protowire.AppendVarint(header, protowire.EncodeBool(true))
	}

	var b []byte
	b = protowire.AppendTag(b, filterHeaderField, protowire.BytesType)
	b = protowire.AppendBytes(b, header)
	return b
}

func marshalCursor(c entity.Cursor) []byte {
	var b []byte
	b = protowire.AppendTag(b, cursorOrderKeyField, protowire.VarintType)
	b = protowire.AppendVarint(b, c.OrderKey)
	if len(c.UniqueKey) > 0 {
		b = protowire.AppendTag(b, cursorUniqueKeyField, protowire.BytesType)
		b = protowire.AppendBytes(b, c.UniqueKey)
	}
	return b
}

// unmarshalResponse decodes a StreamDataResponse.
func unmarshalResponse(b []byte) (StreamMessage, error) {
	var msg StreamMessage
	err := rangeFields(b, func(f field) error {
		switch {
		case f.num == responseStreamIDField && f.typ == protowire.VarintType:
			msg.StreamID = f.varint
		case f.num == responseDataField && f.typ == protowire.BytesType:
			msg.Kind = MessageData
			return unmarshalData(f.bytes, &msg)
		case f.num == responseInvalidateField && f.typ == protowire.BytesType:
			msg.Kind = MessageInvalidate
			return rangeFields(f.bytes, func(f field) error {
				if f.num == invalidateCursorField && f.typ == protowire.BytesType {
					c, err := unmarshalCursor(f.bytes)
					if err != nil {
						return err
					}
					msg.Cursor = &c
				}
				return nil
			})
		case f.num == responseHeartbeatField && f.typ == protowire.BytesType:
			msg.Kind = MessageHeartbeat
		}
		return nil
	})
	if err != nil {
		return StreamMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return msg, nil
}

func unmarshalData(b []byte, msg *StreamMessage) error {
	return rangeFields(b, func(f field) error {
		switch {
		case f.num == dataBlocksField && f.typ == protowire.BytesType:
			msg.Blocks = append(msg.Blocks, f.bytes)
		case f.num == dataFinalityField && f.typ == protowire.VarintType:
			msg.Finality = entity.Finality(f.varint)
		case f.num == dataCursorField && f.typ == protowire.BytesType:
			c, err := unmarshalCursor(f.bytes)
			if err != nil {
				return err
			}
			msg.Cursor = &c
		case f.num == dataEndCursorField && f.typ == protowire.BytesType:
			c, err := unmarshalCursor(f.bytes)
			if err != nil {
				return err
			}
			msg.EndCursor = &c
		}
		return nil
	})
}

func unmarshalCursor(b []byte) (entity.Cursor, error) {
	var c entity.Cursor
	err := rangeFields(b, func(f field) error {
		switch {
		case f.num == cursorOrderKeyField && f.typ == protowire.VarintType:
			c.OrderKey = f.varint
		case f.num == cursorUniqueKeyField && f.typ == protowire.BytesType:
			c.UniqueKey = append([]byte(nil), f.bytes...)
		}
		return nil
	})
	return c, err
}

// field is one decoded protobuf field. Scalar values land in varint
// (fixed-width values included), length-delimited values in bytes.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

// rangeFields calls fn for every field in b, in wire order.
// Unknown wire types are skipped.
func rangeFields(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.varint, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.varint = uint64(v)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
