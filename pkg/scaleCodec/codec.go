// Package scaleCodec decodes SCALE encoded payloads against field schemas.
// It covers the primitive, compact, collection and fixed-hash types that appear in
// call and event arguments; decoding is strict and fails on short or over-long input.
package scaleCodec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"unicode/utf8"

	"github.com/Layr-Labs/runtime-indexer/pkg/schemaRegistry"
	"github.com/Layr-Labs/runtime-indexer/pkg/utils"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	ErrUnexpectedEOF = errors.New("unexpected end of input")
	ErrTrailingBytes = errors.New("trailing bytes after decode")
)

type CodecConfig struct {
	// RenderSS58 renders AccountId32 values as SS58 addresses instead of hex
	RenderSS58 bool
	SS58Prefix uint16
}

type Codec struct {
	config *CodecConfig
	types  sync.Map // type expression -> *typeNode
}

func NewCodec(cfg *CodecConfig) *Codec {
	if cfg == nil {
		cfg = &CodecConfig{}
	}
	return &Codec{config: cfg}
}

func (c *Codec) parsedType(expr string) (*typeNode, error) {
	if cached, ok := c.types.Load(expr); ok {
		return cached.(*typeNode), nil
	}
	node, err := parseTypeExpr(expr)
	if err != nil {
		return nil, err
	}
	c.types.Store(expr, node)
	return node, nil
}

// ValidateFields reports the first field whose type expression cannot be decoded.
func (c *Codec) ValidateFields(fields []schemaRegistry.Field) error {
	for _, f := range fields {
		if _, err := c.parsedType(f.Type); err != nil {
			return fmt.Errorf("field '%s': %w", f.Name, err)
		}
	}
	return nil
}

// DecodeFields decodes payload as the concatenation of fields and returns the values in
// field order. Every byte of payload must be consumed.
func (c *Codec) DecodeFields(payload []byte, fields []schemaRegistry.Field) (*orderedmap.OrderedMap[string, any], error) {
	r := &reader{buf: payload}
	out := orderedmap.New[string, any]()

	for _, f := range fields {
		node, err := c.parsedType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field '%s': %w", f.Name, err)
		}
		v, err := c.decode(r, node)
		if err != nil {
			return nil, fmt.Errorf("field '%s' (%s) at offset %d: %w", f.Name, f.Type, r.pos, err)
		}
		out.Set(f.Name, v)
	}
	if r.remaining() > 0 {
		return nil, fmt.Errorf("%w: %d of %d bytes unread", ErrTrailingBytes, r.remaining(), len(payload))
	}
	return out, nil
}

// DecodeType decodes a single value of the given type, consuming all of payload.
func (c *Codec) DecodeType(payload []byte, typeExpr string) (any, error) {
	node, err := c.parsedType(typeExpr)
	if err != nil {
		return nil, err
	}
	r := &reader{buf: payload}
	v, err := c.decode(r, node)
	if err != nil {
		return nil, err
	}
	if r.remaining() > 0 {
		return nil, fmt.Errorf("%w: %d of %d bytes unread", ErrTrailingBytes, r.remaining(), len(payload))
	}
	return v, nil
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, ErrUnexpectedEOF
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) readByte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

// readCompact reads a SCALE compact integer.
func (r *reader) readCompact() (*big.Int, error) {
	first, err := r.readByte()
	if err != nil {
		return nil, err
	}
	switch first & 0b11 {
	case 0b00:
		return big.NewInt(int64(first >> 2)), nil
	case 0b01:
		second, err := r.readByte()
		if err != nil {
			return nil, err
		}
		v := binary.LittleEndian.Uint16([]byte{first, second}) >> 2
		return big.NewInt(int64(v)), nil
	case 0b10:
		rest, err := r.take(3)
		if err != nil {
			return nil, err
		}
		v := binary.LittleEndian.Uint32([]byte{first, rest[0], rest[1], rest[2]}) >> 2
		return new(big.Int).SetUint64(uint64(v)), nil
	default:
		n := int(first>>2) + 4
		b, err := r.take(n)
		if err != nil {
			return nil, err
		}
		return new(big.Int).SetBytes(reverse(b)), nil
	}
}

func (r *reader) readLength() (int, error) {
	l, err := r.readCompact()
	if err != nil {
		return 0, err
	}
	if !l.IsInt64() || l.Int64() > int64(r.remaining()) {
		// every element takes at least one byte except for zero sized tuples,
		// so a length beyond the remaining input cannot be valid
		return 0, fmt.Errorf("%w: length %s exceeds remaining %d bytes", ErrUnexpectedEOF, l.String(), r.remaining())
	}
	return int(l.Int64()), nil
}

func (c *Codec) renderAccount(b []byte) (any, error) {
	if c.config.RenderSS58 {
		return utils.EncodeSS58(b, c.config.SS58Prefix)
	}
	return hexutil.Encode(b), nil
}

func (c *Codec) decode(r *reader, node *typeNode) (any, error) {
	switch node.kind {
	case kindBool:
		b, err := r.readByte()
		if err != nil {
			return nil, err
		}
		switch b {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, fmt.Errorf("invalid bool byte 0x%02x", b)

	case kindUint:
		b, err := r.take(node.bits / 8)
		if err != nil {
			return nil, err
		}
		if node.bits <= 64 {
			padded := make([]byte, 8)
			copy(padded, b)
			return binary.LittleEndian.Uint64(padded), nil
		}
		return decimal.NewFromBigInt(new(big.Int).SetBytes(reverse(b)), 0), nil

	case kindInt:
		b, err := r.take(node.bits / 8)
		if err != nil {
			return nil, err
		}
		v := new(big.Int).SetBytes(reverse(b))
		if b[len(b)-1]&0x80 != 0 {
			v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(node.bits)))
		}
		if node.bits <= 64 {
			return v.Int64(), nil
		}
		return decimal.NewFromBigInt(v, 0), nil

	case kindCompact:
		v, err := r.readCompact()
		if err != nil {
			return nil, err
		}
		if v.BitLen() > node.inner.bits {
			return nil, fmt.Errorf("compact value overflows u%d", node.inner.bits)
		}
		if node.inner.bits <= 64 {
			return v.Uint64(), nil
		}
		return decimal.NewFromBigInt(v, 0), nil

	case kindBytes:
		n, err := r.readLength()
		if err != nil {
			return nil, err
		}
		b, err := r.take(n)
		if err != nil {
			return nil, err
		}
		return hexutil.Encode(b), nil

	case kindStr:
		n, err := r.readLength()
		if err != nil {
			return nil, err
		}
		b, err := r.take(n)
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(b) {
			return nil, errors.New("string is not valid utf-8")
		}
		return string(b), nil

	case kindAccountId:
		b, err := r.take(node.bits)
		if err != nil {
			return nil, err
		}
		return c.renderAccount(b)

	case kindFixedHash:
		b, err := r.take(node.bits)
		if err != nil {
			return nil, err
		}
		return hexutil.Encode(b), nil

	case kindArray:
		if node.inner.kind == kindUint && node.inner.bits == 8 {
			b, err := r.take(node.size)
			if err != nil {
				return nil, err
			}
			return hexutil.Encode(b), nil
		}
		return c.decodeSequence(r, node.inner, node.size)

	case kindVec:
		n, err := r.readLength()
		if err != nil {
			return nil, err
		}
		return c.decodeSequence(r, node.inner, n)

	case kindOption:
		tag, err := r.readByte()
		if err != nil {
			return nil, err
		}
		// Option<bool> packs the value into the tag byte
		if node.inner.kind == kindBool {
			switch tag {
			case 0:
				return nil, nil
			case 1:
				return true, nil
			case 2:
				return false, nil
			}
			return nil, fmt.Errorf("invalid Option<bool> byte 0x%02x", tag)
		}
		switch tag {
		case 0:
			return nil, nil
		case 1:
			return c.decode(r, node.inner)
		}
		return nil, fmt.Errorf("invalid option tag 0x%02x", tag)

	case kindTuple:
		if len(node.elems) == 0 {
			return nil, nil
		}
		out := make([]any, 0, len(node.elems))
		for _, e := range node.elems {
			v, err := c.decode(r, e)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unhandled type kind %d", node.kind)
}

func (c *Codec) decodeSequence(r *reader, inner *typeNode, n int) ([]any, error) {
	out := make([]any, 0, min(n, r.remaining()))
	for i := 0; i < n; i++ {
		v, err := c.decode(r, inner)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
