package rpc

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Hand-rolled wire codecs. The platform schema treats every field as
// optional with undocumented semantics, so decoders visit whatever fields
// are present, take the ones they know, and skip the rest; absent fields
// stay zero-valued. Encoders omit zero values.

// Message is a request payload that can serialize itself to the platform
// envelope.
type Message interface {
	MarshalWire() ([]byte, error)
}

// Unmarshaler is a response payload populated from the platform envelope.
type Unmarshaler interface {
	UnmarshalWire(data []byte) error
}

type wireField struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

func (f wireField) uint64() uint64 {
	return f.varint
}

func (f wireField) uint32() uint32 {
	return uint32(f.varint)
}

func (f wireField) int32() int32 {
	return int32(f.varint)
}

func (f wireField) bool() bool {
	return f.varint != 0
}

func (f wireField) string() string {
	return string(f.bytes)
}

func (f wireField) float32() float32 {
	return math.Float32frombits(uint32(f.varint))
}

// walkWire visits every well-formed field in data. Unknown field numbers are
// the visitor's concern; unknown wire types and groups are skipped.
func walkWire(data []byte, visit func(f wireField) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		f := wireField{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return protowire.ParseError(m)
			}
			f.varint = v
			data = data[m:]
		case protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(data)
			if m < 0 {
				return protowire.ParseError(m)
			}
			f.varint = uint64(v)
			data = data[m:]
		case protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(data)
			if m < 0 {
				return protowire.ParseError(m)
			}
			f.varint = v
			data = data[m:]
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return protowire.ParseError(m)
			}
			f.bytes = v
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return protowire.ParseError(m)
			}
			data = data[m:]
			continue
		}

		if err := visit(f); err != nil {
			return err
		}
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}
