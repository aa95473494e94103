// Package codec implements the canonical, deterministic message encoding
// of spec §4.5: fields are always emitted in ascending tag order, map
// fields serialize in ascending key order, missing optional fields are
// omitted rather than zero-filled, and nested messages recurse the same
// rules. This makes the encoding usable as a signing domain (codec
// invariants P3/P4).
//
// Encoding itself is built on google.golang.org/protobuf/encoding/protowire,
// the same low-level wire-format primitives protoc-generated code uses,
// translated from the trait shape of
// original_source/signer/src/codec.rs (ProtoSerializable, Encode, Decode)
// without depending on protoc-generated stubs, since no .proto sources
// exist in the pack to generate from.
package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ProtoSerializable is implemented by types with a canonical wire
// encoding. TypeTag returns a short ASCII string used as a
// domain-separation prefix when hashing the message for signature
// purposes (spec §4.5).
type ProtoSerializable interface {
	TypeTag() string
}

// Encodable types can append their canonical field encoding to a byte
// buffer.
type Encodable interface {
	ProtoSerializable
	appendFields(b []byte) []byte
}

// Decodable types can populate themselves from canonical field bytes.
type Decodable interface {
	consumeField(tag protowire.Number, typ protowire.Type, b []byte) (rest []byte, err error)
}

// Encode serializes m into its canonical byte representation.
func Encode(m Encodable) []byte {
	return m.appendFields(nil)
}

// Decode populates m (a Decodable, typically a pointer to a message
// struct) from canonical bytes by walking the wire format field by field
// and dispatching each to the message's consumeField.
func Decode(buf []byte, m Decodable) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return fmt.Errorf("codec: invalid tag: %w", protowire.ParseError(n))
		}
		buf = buf[n:]

		rest, err := m.consumeField(num, typ, buf)
		if err != nil {
			return err
		}
		buf = rest
	}
	return nil
}

// skipValue advances past one encoded value of the given wire type,
// returning the bytes after it. Used by consumeField implementations
// for unknown/ignored tags (forward compatibility).
func skipValue(typ protowire.Type, buf []byte) ([]byte, error) {
	n := protowire.ConsumeFieldValue(0, typ, buf)
	if n < 0 {
		return nil, fmt.Errorf("codec: invalid field value: %w", protowire.ParseError(n))
	}
	return buf[n:], nil
}
