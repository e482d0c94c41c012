// Package pb holds the wire messages and gRPC service descriptors of the
// runner and certificate_authority services.
//
// The messages are written by hand against google.golang.org/protobuf's
// protowire package and stay byte-compatible with proto/runner.proto and
// proto/certificate_authority.proto, so no protoc toolchain is required.
// Field numbers:
//
//	runner.StartJobRequest      name=1 args=2
//	runner.StartJobResponse     job_id=1 owner_id=2
//	runner.StopJobRequest       job_id=1 owner_id=2 gracefully=3
//	runner.StopJobResponse      -
//	runner.QueryJobRequest      job_id=1 owner_id=2
//	runner.QueryJobResponse     status=1 pid=2 (optional) exit_code=3 (optional)
//	runner.StreamJobRequest     job_id=1 owner_id=2
//	runner.StreamJobResponse    output=1
//
//	certificate_authority.GetRootCertificateRequest   certificate=1 (optional)
//	certificate_authority.GetRootCertificateResponse  certificate=1 (optional)
//	certificate_authority.SignCertificateRequest      csr=1
//	certificate_authority.SignCertificateResponse     certificate=1
//
// Servers and clients must install [Codec] with [ServerOption] and
// [DialOption].
package pb

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
)

// ErrCodec is returned when a value cannot be encoded or decoded.
var ErrCodec = errors.New("codec error")

// Message is implemented by every message in this package.
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal(b []byte) error
}

// Codec is a gRPC codec for the messages in this package. Values that are
// generated protobuf messages are handed to the proto package, so the codec
// can stand in for the default "proto" codec.
type Codec struct{}

// Marshal implements encoding.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case Message:
		return m.Marshal()
	case proto.Message:
		b, err := proto.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCodec, err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: cannot marshal %T", ErrCodec, v)
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case Message:
		return m.Unmarshal(data)
	case proto.Message:
		if err := proto.Unmarshal(data, m); err != nil {
			return fmt.Errorf("%w: %w", ErrCodec, err)
		}
		return nil
	}
	return fmt.Errorf("%w: cannot unmarshal into %T", ErrCodec, v)
}

// Name implements encoding.Codec. It keeps the standard content-subtype so
// peers using generated code interoperate.
func (Codec) Name() string {
	return "proto"
}

// ServerOption installs [Codec] on a gRPC server.
func ServerOption() grpc.ServerOption {
	return grpc.ForceServerCodec(Codec{})
}

// DialOption installs [Codec] on every call of a gRPC client connection.
func DialOption() grpc.DialOption {
	return grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{}))
}

// Results of a field callback that are not byte counts.
const (
	skipField   = -1 << 30 // skip over the current field
	invalidUTF8 = skipField + 1
)

// consumeFields walks the fields of an encoded message. field is called with
// the remaining bytes positioned at the field value and returns the number
// of bytes it consumed, a negative protowire error, skipField or
// invalidUTF8.
func consumeFields(b []byte, field func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrCodec, protowire.ParseError(n))
		}
		b = b[n:]
		m := field(num, typ, b)
		switch m {
		case skipField:
			m = protowire.ConsumeFieldValue(num, typ, b)
		case invalidUTF8:
			return fmt.Errorf("%w: field %d: invalid UTF-8", ErrCodec, num)
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %w", ErrCodec, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

// consumeString decodes a proto3 string field, which must be valid UTF-8.
func consumeString(b []byte) (string, int) {
	v, n := protowire.ConsumeString(b)
	if n >= 0 && !utf8.ValidString(v) {
		return "", invalidUTF8
	}
	return v, n
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

// appendOptionalBytes encodes v whenever it is non-nil, including an empty
// value, to preserve field presence.
func appendOptionalBytes(b []byte, num protowire.Number, v []byte) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

// appendOptionalInt32 encodes v whenever it is non-nil. Negative values are
// sign extended to 64 bits as int32 fields require.
func appendOptionalInt32(b []byte, num protowire.Number, v *int32) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(*v))) //nolint:gosec // two's complement encoding is intended.
}

func consumeBytes(b []byte) ([]byte, int) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, n
	}
	return append([]byte{}, v...), n
}

func consumeInt32(b []byte) (*int32, int) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return nil, n
	}
	i := int32(v) //nolint:gosec // truncation to int32 is the wire semantics.
	return &i, n
}
