// Package feedback decodes the APNs feedback stream: a sequence of
//
//	timestamp(4) | token_len(2) | token
//
// records (big-endian) naming devices whose tokens are no longer valid.
// Record boundaries are independent of how the transport chunks the stream.
package feedback

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"iter"
	"time"

	apperrors "apns-workers/internal/common/errors"
)

// recordHeaderSize covers the timestamp and the token length.
const recordHeaderSize = 4 + 2

// Record reports one device token the service considers invalid.
type Record struct {
	Timestamp uint32 `json:"timestamp"`
	Token     string `json:"token"`
}

// Time returns the moment the service determined the token was invalid.
func (r Record) Time() time.Time {
	return time.Unix(int64(r.Timestamp), 0).UTC()
}

// ChunkSource yields successive raw chunks of the stream. Next returns
// io.EOF, possibly together with a final chunk, once the stream is exhausted.
type ChunkSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// ChunkSourceFunc adapts a function to ChunkSource.
type ChunkSourceFunc func(ctx context.Context) ([]byte, error)

func (f ChunkSourceFunc) Next(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// Decoder reassembles records across chunk boundaries. It is single pass: a
// terminal error or io.EOF is returned again by every later call.
type Decoder struct {
	src  ChunkSource
	buf  []byte
	off  int
	eof  bool
	err  error
	seen int
}

// NewDecoder returns a decoder pulling from src.
func NewDecoder(src ChunkSource) *Decoder {
	return &Decoder{src: src}
}

// Next returns the next complete record, io.EOF at a clean end of stream, or
// a MALFORMED_FEEDBACK_STREAM error if the stream ends inside a record.
func (d *Decoder) Next(ctx context.Context) (Record, error) {
	for {
		if d.err != nil {
			return Record{}, d.err
		}
		if rec, ok := d.take(); ok {
			d.seen++
			return rec, nil
		}
		if d.eof {
			if n := len(d.buf) - d.off; n > 0 {
				d.err = apperrors.NewMalformedFeedbackStreamError(n)
			} else {
				d.err = io.EOF
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			return Record{}, err
		}

		chunk, err := d.src.Next(ctx)
		d.push(chunk)
		switch {
		case errors.Is(err, io.EOF):
			d.eof = true
		case err != nil:
			d.err = apperrors.NewFeedbackReadFailedError(err)
		}
	}
}

// Decoded returns how many records have been produced so far.
func (d *Decoder) Decoded() int {
	return d.seen
}

func (d *Decoder) push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if d.off > 0 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, chunk...)
}

func (d *Decoder) take() (Record, bool) {
	pending := d.buf[d.off:]
	if len(pending) < recordHeaderSize {
		return Record{}, false
	}
	tokenLen := int(binary.BigEndian.Uint16(pending[4:6]))
	if len(pending) < recordHeaderSize+tokenLen {
		return Record{}, false
	}

	rec := Record{
		Timestamp: binary.BigEndian.Uint32(pending[0:4]),
		Token:     hex.EncodeToString(pending[recordHeaderSize : recordHeaderSize+tokenLen]),
	}
	d.off += recordHeaderSize + tokenLen
	return rec, true
}

// Records returns a lazy sequence over the stream. Iteration ends after the
// last record; a non-nil error is yielded once as the final element. Breaking
// out of the loop stops pulling chunks.
func Records(ctx context.Context, src ChunkSource) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		d := NewDecoder(src)
		for {
			rec, err := d.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Record{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// ReadAll drains the stream. Records decoded before a failure are returned
// alongside the error.
func ReadAll(ctx context.Context, src ChunkSource) ([]Record, error) {
	var out []Record
	for rec, err := range Records(ctx, src) {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// AppendRecord writes rec in wire format. The token must be even-length hex.
func AppendRecord(dst []byte, rec Record) ([]byte, error) {
	token, err := hex.DecodeString(rec.Token)
	if err != nil {
		return dst, apperrors.NewInvalidDeviceTokenError(err.Error())
	}
	if len(token) > 0xFFFF {
		return dst, apperrors.NewInvalidDeviceTokenError("token exceeds 16-bit length")
	}
	dst = binary.BigEndian.AppendUint32(dst, rec.Timestamp)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(token)))
	return append(dst, token...), nil
}
