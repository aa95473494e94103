package codec

import (
	"encoding/binary"

	"google.golang.org/protobuf/encoding/protowire"
)

// Uint256 is a 256-bit value represented as four little-endian u64 limbs
// (parts 0-3 low-to-high), used uniformly for hashes, keys, and large
// integers (spec §4.5 glossary).
type Uint256 struct {
	Part0, Part1, Part2, Part3 uint64
}

// Uint256FromBytes reads a 32-byte big-endian value (as commonly produced
// by hash functions) into a Uint256.
func Uint256FromBytes(b [32]byte) Uint256 {
	return Uint256{
		Part3: binary.BigEndian.Uint64(b[0:8]),
		Part2: binary.BigEndian.Uint64(b[8:16]),
		Part1: binary.BigEndian.Uint64(b[16:24]),
		Part0: binary.BigEndian.Uint64(b[24:32]),
	}
}

// Bytes renders the Uint256 back to 32 big-endian bytes.
func (u Uint256) Bytes() [32]byte {
	var out [32]byte
	binary.BigEndian.PutUint64(out[0:8], u.Part3)
	binary.BigEndian.PutUint64(out[8:16], u.Part2)
	binary.BigEndian.PutUint64(out[16:24], u.Part1)
	binary.BigEndian.PutUint64(out[24:32], u.Part0)
	return out
}

func (Uint256) TypeTag() string { return "SBTC_UINT256" }

func (u Uint256) appendFields(b []byte) []byte {
	b = appendUint64Field(b, 1, u.Part0)
	b = appendUint64Field(b, 2, u.Part1)
	b = appendUint64Field(b, 3, u.Part2)
	b = appendUint64Field(b, 4, u.Part3)
	return b
}

func (u *Uint256) consumeField(num protowire.Number, typ protowire.Type, buf []byte) ([]byte, error) {
	switch num {
	case 1:
		v, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		u.Part0 = v
		return buf[n:], nil
	case 2:
		v, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		u.Part1 = v
		return buf[n:], nil
	case 3:
		v, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		u.Part2 = v
		return buf[n:], nil
	case 4:
		v, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		u.Part3 = v
		return buf[n:], nil
	default:
		return skipValue(typ, buf)
	}
}

// appendUint64Field appends a canonical (tag, varint) field, omitting it
// entirely when the value is the zero value (codec invariant: missing
// optional fields are omitted, not zero-filled).
func appendUint64Field(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	b = protowire.AppendVarint(b, v)
	return b
}

// appendBytesField appends a canonical (tag, length-delimited) field,
// omitting it when empty.
func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, v)
	return b
}

// appendStringField appends a canonical (tag, length-delimited) field,
// omitting it when empty.
func appendStringField(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendString(b, v)
	return b
}

// appendMessageField appends a nested canonical message as a
// length-delimited field, omitting it when nil.
func appendMessageField(b []byte, num protowire.Number, m Encodable) []byte {
	if m == nil {
		return b
	}
	inner := m.appendFields(nil)
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, inner)
	return b
}
