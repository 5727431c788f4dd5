// Package frame encodes notifications into the APNs "enhanced" binary
// format:
//
//	command(1) | identifier(4) | expiry(4) | token_len(2) | token | payload_len(2) | payload
//
// All integers are big-endian and there is no padding.
package frame

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"apns-workers/internal/apns/payload"
	apperrors "apns-workers/internal/common/errors"
)

const (
	// CommandEnhanced marks a frame carrying an identifier and expiry.
	CommandEnhanced byte = 1

	// HeaderSize is the fixed part of a frame before the token bytes.
	HeaderSize = 1 + 4 + 4 + 2

	// MaxFieldLength is the capacity of the 16-bit length prefixes.
	MaxFieldLength = math.MaxUint16
)

// DeviceToken is the binary form of a device token.
type DeviceToken []byte

// ParseDeviceToken decodes the hex form of a device token.
func ParseDeviceToken(s string) (DeviceToken, error) {
	if s == "" {
		return nil, apperrors.NewInvalidDeviceTokenError("token is empty")
	}
	if len(s)%2 != 0 {
		return nil, apperrors.NewInvalidDeviceTokenError(fmt.Sprintf("hex length %d is odd", len(s)))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, apperrors.NewInvalidDeviceTokenError(err.Error())
	}
	if len(b) > MaxFieldLength {
		return nil, apperrors.NewInvalidDeviceTokenError(fmt.Sprintf("token is %d bytes", len(b)))
	}
	return DeviceToken(b), nil
}

// String returns the lowercase hex form.
func (t DeviceToken) String() string {
	return hex.EncodeToString(t)
}

// Encode builds one enhanced notification frame.
func Encode(token, payloadJSON []byte, identifier, expiry uint32) ([]byte, error) {
	if len(token) > MaxFieldLength {
		return nil, apperrors.NewInvalidFrameInputError("token", len(token))
	}
	if len(payloadJSON) > MaxFieldLength {
		return nil, apperrors.NewInvalidFrameInputError("payload", len(payloadJSON))
	}

	buf := make([]byte, 0, HeaderSize+len(token)+2+len(payloadJSON))
	buf = append(buf, CommandEnhanced)
	buf = binary.BigEndian.AppendUint32(buf, identifier)
	buf = binary.BigEndian.AppendUint32(buf, expiry)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(token)))
	buf = append(buf, token...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(payloadJSON)))
	buf = append(buf, payloadJSON...)
	return buf, nil
}

// Notification is one message addressed to one device.
type Notification struct {
	Token      DeviceToken
	Payload    *payload.Payload
	Identifier uint32
	// Expiry is when the gateway may stop retrying delivery; zero means
	// deliver once and never store.
	Expiry time.Time
}

// Frame encodes the notification.
func (n Notification) Frame() ([]byte, error) {
	if n.Payload == nil {
		return nil, apperrors.NewInvalidFrameInputError("payload", 0)
	}
	return Encode(n.Token, n.Payload.JSON(), n.Identifier, ExpiryTimestamp(n.Expiry))
}

// ExpiryTimestamp converts t to the 32-bit Unix time carried on the wire.
func ExpiryTimestamp(t time.Time) uint32 {
	if t.IsZero() || t.Unix() <= 0 {
		return 0
	}
	if t.Unix() > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(t.Unix())
}

// Decoded is the parsed form of an encoded frame.
type Decoded struct {
	Command    byte
	Identifier uint32
	Expiry     uint32
	Token      DeviceToken
	Payload    []byte
}

// Decode parses a frame produced by Encode. It is the inverse used by tests
// and by tooling that inspects captured gateway traffic.
func Decode(b []byte) (*Decoded, error) {
	if len(b) < HeaderSize {
		return nil, apperrors.NewInvalidFrameInputError("header", len(b))
	}
	d := &Decoded{
		Command:    b[0],
		Identifier: binary.BigEndian.Uint32(b[1:5]),
		Expiry:     binary.BigEndian.Uint32(b[5:9]),
	}
	tokenLen := int(binary.BigEndian.Uint16(b[9:11]))
	rest := b[HeaderSize:]
	if len(rest) < tokenLen+2 {
		return nil, apperrors.NewInvalidFrameInputError("token", len(rest))
	}
	d.Token = DeviceToken(rest[:tokenLen])
	rest = rest[tokenLen:]

	payloadLen := int(binary.BigEndian.Uint16(rest[:2]))
	rest = rest[2:]
	if len(rest) != payloadLen {
		return nil, apperrors.NewInvalidFrameInputError("payload", len(rest))
	}
	d.Payload = rest
	return d, nil
}
