package feedback

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"io"
	"testing"
	"testing/iotest"

	apperrors "apns-workers/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const numMockTokens = 10

// mockRecords builds deterministic records with 32-byte tokens.
func mockRecords(t *testing.T) ([]Record, []byte) {
	t.Helper()
	var (
		records []Record
		data    []byte
	)
	for i := 0; i < numMockTokens; i++ {
		sum := sha256.Sum256([]byte(fmt.Sprintf("token-%d", i)))
		rec := Record{Timestamp: uint32(1700000000 + i), Token: hex.EncodeToString(sum[:])}
		var err error
		data, err = AppendRecord(data, rec)
		require.NoError(t, err)
		records = append(records, rec)
	}
	return records, data
}

func TestRecords_EveryChunkSize(t *testing.T) {
	records, data := mockRecords(t)

	for size := 1; size <= len(data)+1; size++ {
		got, err := ReadAll(context.Background(), Chunked(data, size))
		require.NoError(t, err, "chunk size %d", size)
		require.Equal(t, records, got, "chunk size %d", size)
	}
}

func TestRecords_SplitAtEveryOffset(t *testing.T) {
	records, data := mockRecords(t)

	for cut := 0; cut <= len(data); cut++ {
		src := NewSliceSource(data[:cut], data[cut:])
		got, err := ReadAll(context.Background(), src)
		require.NoError(t, err, "cut %d", cut)
		require.Equal(t, records, got, "cut %d", cut)
	}
}

func TestRecords_Default64ByteReads(t *testing.T) {
	records, data := mockRecords(t)

	x := 0
	for rec, err := range Records(context.Background(), Chunked(data, 64)) {
		require.NoError(t, err)
		assert.Equal(t, records[x].Token, rec.Token)
		x++
	}
	assert.Equal(t, numMockTokens, x)
}

func TestRecords_TokenLengthIsAuthoritative(t *testing.T) {
	in := []Record{
		{Timestamp: 1, Token: "ab"},
		{Timestamp: 2, Token: ""},
		{Timestamp: 3, Token: hex.EncodeToString(bytes.Repeat([]byte{0xfe}, 100))},
	}
	var data []byte
	for _, r := range in {
		var err error
		data, err = AppendRecord(data, r)
		require.NoError(t, err)
	}

	got, err := ReadAll(context.Background(), Chunked(data, 7))
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestRecords_TokenIsLowercaseHex(t *testing.T) {
	data := []byte{0, 0, 0, 42, 0, 2, 0xAB, 0xCD}

	got, err := ReadAll(context.Background(), NewSliceSource(data))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "abcd", got[0].Token)
	assert.Equal(t, int64(42), got[0].Time().Unix())
}

func TestRecords_EmptyStream(t *testing.T) {
	got, err := ReadAll(context.Background(), NewSliceSource())
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecords_PartialRecordIsMalformed(t *testing.T) {
	records, data := mockRecords(t)

	for _, drop := range []int{1, 5, 6, 37} {
		truncated := data[:len(data)-drop]
		got, err := ReadAll(context.Background(), Chunked(truncated, 13))
		require.Error(t, err, "drop %d", drop)
		assert.True(t, stderrors.Is(err, apperrors.ErrMalformedFeedbackStream))
		assert.Equal(t, records[:numMockTokens-1], got, "previously yielded records stay intact")
	}
}

func TestDecoder_ErrorIsSticky(t *testing.T) {
	d := NewDecoder(NewSliceSource([]byte{0, 0, 0}))

	_, err := d.Next(context.Background())
	require.True(t, stderrors.Is(err, apperrors.ErrMalformedFeedbackStream))
	_, err = d.Next(context.Background())
	assert.True(t, stderrors.Is(err, apperrors.ErrMalformedFeedbackStream))
}

func TestDecoder_EOFIsSticky(t *testing.T) {
	_, data := mockRecords(t)
	d := NewDecoder(NewSliceSource(data))

	for i := 0; i < numMockTokens; i++ {
		_, err := d.Next(context.Background())
		require.NoError(t, err)
	}
	_, err := d.Next(context.Background())
	assert.Equal(t, io.EOF, err)
	_, err = d.Next(context.Background())
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, numMockTokens, d.Decoded())
}

func TestDecoder_FinalChunkWithEOF(t *testing.T) {
	records, data := mockRecords(t)
	sent := false
	src := ChunkSourceFunc(func(ctx context.Context) ([]byte, error) {
		if sent {
			return nil, io.EOF
		}
		sent = true
		return data, io.EOF
	})

	got, err := ReadAll(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestDecoder_SourceFailure(t *testing.T) {
	boom := stderrors.New("connection reset")
	calls := 0
	src := ChunkSourceFunc(func(ctx context.Context) ([]byte, error) {
		calls++
		if calls == 1 {
			return []byte{0, 0, 0, 1, 0, 1, 0xff}, nil
		}
		return nil, boom
	})

	got, err := ReadAll(context.Background(), src)
	assert.Len(t, got, 1)
	assert.True(t, stderrors.Is(err, apperrors.ErrFeedbackReadFailed))
	assert.True(t, stderrors.Is(err, boom))
}

func TestRecords_BreakStopsPulling(t *testing.T) {
	_, data := mockRecords(t)
	pulls := 0
	inner := Chunked(data, 8)
	src := ChunkSourceFunc(func(ctx context.Context) ([]byte, error) {
		pulls++
		return inner.Next(ctx)
	})

	for range Records(context.Background(), src) {
		break
	}
	assert.Less(t, pulls, len(data)/8)
}

func TestRecords_ContextCancelled(t *testing.T) {
	_, data := mockRecords(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := ReadAll(ctx, Chunked(data, 8))
	assert.Empty(t, got)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReaderSource(t *testing.T) {
	records, data := mockRecords(t)

	src := NewReaderSource(iotest.OneByteReader(bytes.NewReader(data)), 0)
	got, err := ReadAll(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, records, got)

	src = NewReaderSource(bytes.NewReader(data), 50)
	got, err = ReadAll(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

// stalledReader never returns data or an error.
type stalledReader struct{ reads int }

func (r *stalledReader) Read(p []byte) (int, error) {
	r.reads++
	return 0, nil
}

func TestReaderSource_StalledReader(t *testing.T) {
	r := &stalledReader{}
	src := NewReaderSource(r, 16)

	chunk, err := src.Next(context.Background())
	assert.Empty(t, chunk)
	assert.ErrorIs(t, err, io.ErrNoProgress)
	assert.Equal(t, maxEmptyReads, r.reads)

	_, err = ReadAll(context.Background(), NewReaderSource(&stalledReader{}, 16))
	assert.True(t, stderrors.Is(err, apperrors.ErrFeedbackReadFailed))
	assert.ErrorIs(t, err, io.ErrNoProgress)
}

func TestAppendRecord_InvalidToken(t *testing.T) {
	_, err := AppendRecord(nil, Record{Token: "xyz"})
	assert.True(t, stderrors.Is(err, apperrors.ErrInvalidDeviceToken))
}
