package apibara

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/archon-research/starknet-relay/internal/domain/entity"
)

// Field numbers of apibara.starknet.v1alpha2.Block and its header.
const (
	blockHeaderField protowire.Number = 2

	headerBlockHashField       protowire.Number = 1
	headerParentBlockHashField protowire.Number = 2
	headerBlockNumberField     protowire.Number = 3
	headerTimestampField       protowire.Number = 6
)

var (
	// ErrMalformedBlock is returned when a block payload is not valid protobuf.
	ErrMalformedBlock = errors.New("malformed block")

	// ErrMissingBlockNumber is returned when a block carries no header or no block number.
	ErrMissingBlockNumber = errors.New("block number missing")
)

// DecodeBlockHeader extracts the header from an encoded Starknet block.
// The block number is read as a uint64 varint, so heights keep full precision.
func DecodeBlockHeader(payload []byte) (entity.BlockHeader, error) {
	var (
		header    []byte
		hasHeader bool
	)
	err := rangeFields(payload, func(f field) error {
		if f.num == blockHeaderField && f.typ == protowire.BytesType {
			header, hasHeader = f.bytes, true
		}
		return nil
	})
	if err != nil {
		return entity.BlockHeader{}, fmt.Errorf("%w: %v", ErrMalformedBlock, err)
	}
	if !hasHeader {
		return entity.BlockHeader{}, fmt.Errorf("%w: block has no header", ErrMissingBlockNumber)
	}

	var (
		out       entity.BlockHeader
		hasNumber bool
	)
	err = rangeFields(header, func(f field) error {
		switch {
		case f.num == headerBlockNumberField && f.typ == protowire.VarintType:
			out.Number, hasNumber = f.varint, true
		case f.num == headerBlockHashField && f.typ == protowire.BytesType:
			hash, err := decodeFieldElement(f.bytes)
			if err != nil {
				return fmt.Errorf("block_hash: %w", err)
			}
			out.Hash = hash
		case f.num == headerParentBlockHashField && f.typ == protowire.BytesType:
			hash, err := decodeFieldElement(f.bytes)
			if err != nil {
				return fmt.Errorf("parent_block_hash: %w", err)
			}
			out.ParentHash = hash
		case f.num == headerTimestampField && f.typ == protowire.BytesType:
			var ts timestamppb.Timestamp
			if err := proto.Unmarshal(f.bytes, &ts); err != nil {
				return fmt.Errorf("timestamp: %w", err)
			}
			out.Timestamp = ts.AsTime()
		}
		return nil
	})
	if err != nil {
		return entity.BlockHeader{}, fmt.Errorf("%w: %v", ErrMalformedBlock, err)
	}
	if !hasNumber {
		return entity.BlockHeader{}, fmt.Errorf("%w: header has no block_number", ErrMissingBlockNumber)
	}

	return out, nil
}

// decodeFieldElement renders a FieldElement {lo_lo, lo_hi, hi_lo, hi_hi} as a
// 0x-prefixed 32-byte hex string. lo_lo holds the most significant word.
func decodeFieldElement(b []byte) (string, error) {
	var raw [32]byte
	err := rangeFields(b, func(f field) error {
		if f.typ != protowire.Fixed64Type || f.num < 1 || f.num > 4 {
			return nil
		}
		offset := (int(f.num) - 1) * 8
		binary.BigEndian.PutUint64(raw[offset:offset+8], f.varint)
		return nil
	})
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(raw[:]), nil
}

// truncateHash shortens a hash for logging purposes.
func truncateHash(hash string) string {
	if len(hash) <= 14 {
		return hash
	}
	return hash[:8] + "..." + hash[len(hash)-6:]
}
