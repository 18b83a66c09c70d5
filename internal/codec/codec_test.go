package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/withObsrvr/obsrvr-cdn-sync/internal/chunk"
)

// testHash derives a deterministic 32-byte hex hash for a height.
func testHash(height uint32) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("block-%d", height)))
	return hex.EncodeToString(sum[:])
}

// testBlocks builds a linked run of blocks covering [start, end].
func testBlocks(start, end uint32) []BlockRecord {
	var out []BlockRecord
	for h := start; h <= end; h++ {
		out = append(out, BlockRecord{
			Height:       h,
			PreviousHash: testHash(h - 1),
			Hash:         testHash(h),
			Body:         []byte(fmt.Sprintf("body-%d", h)),
		})
	}
	return out
}

func mustDecoder(t *testing.T) *Decoder {
	t.Helper()
	d, err := NewDecoder()
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func TestDecode_Valid(t *testing.T) {
	blocks := testBlocks(100, 104)
	payload, err := Encode(blocks)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	d := mustDecoder(t)
	got, err := d.Decode(payload, chunk.Descriptor{Start: 100, End: 104})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Start != 100 || got.End != 104 {
		t.Errorf("range %d-%d, want 100-104", got.Start, got.End)
	}
	if len(got.Blocks) != 5 {
		t.Fatalf("decoded %d blocks, want 5", len(got.Blocks))
	}
	for i, b := range got.Blocks {
		if b.Height != 100+uint32(i) {
			t.Errorf("block %d: height %d", i, b.Height)
		}
		if b.Hash != testHash(b.Height) || b.PreviousHash != testHash(b.Height-1) {
			t.Errorf("block %d: hash fields mangled", i)
		}
		if string(b.Body) != fmt.Sprintf("body-%d", b.Height) {
			t.Errorf("block %d: body mangled", i)
		}
	}
}

func TestDecode_Compressed(t *testing.T) {
	blocks := testBlocks(1, 3)
	raw, err := Encode(blocks)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	compressed := enc.EncodeAll(raw, nil)
	enc.Close()

	d := mustDecoder(t)
	got, err := d.Decode(compressed, chunk.Descriptor{Start: 1, End: 3})
	if err != nil {
		t.Fatalf("Decode compressed: %v", err)
	}
	if len(got.Blocks) != 3 {
		t.Errorf("decoded %d blocks, want 3", len(got.Blocks))
	}
}

func TestDecode_LengthMismatch(t *testing.T) {
	// One block in the payload, two heights in the descriptor.
	payload, err := Encode(testBlocks(10, 10))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	d := mustDecoder(t)
	_, err = d.Decode(payload, chunk.Descriptor{Start: 10, End: 11})

	var lm *LengthMismatchError
	if !errors.As(err, &lm) {
		t.Fatalf("expected LengthMismatchError, got %v", err)
	}
	if lm.Want != 2 || lm.Got != 1 {
		t.Errorf("mismatch fields: want=%d got=%d", lm.Want, lm.Got)
	}
}

func TestDecode_Truncated(t *testing.T) {
	payload, err := Encode(testBlocks(5, 7))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	d := mustDecoder(t)
	_, err = d.Decode(payload[:len(payload)-10], chunk.Descriptor{Start: 5, End: 7})
	if !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestDecode_TrailingBytes(t *testing.T) {
	payload, err := Encode(testBlocks(5, 7))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	payload = append(payload, 0xde, 0xad)

	d := mustDecoder(t)
	_, err = d.Decode(payload, chunk.Descriptor{Start: 5, End: 7})
	if !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestDecode_HeightDiscontinuity(t *testing.T) {
	blocks := testBlocks(20, 22)
	blocks[1].Height = 99
	payload, err := Encode(blocks)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	d := mustDecoder(t)
	_, err = d.Decode(payload, chunk.Descriptor{Start: 20, End: 22})
	if !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestDecode_Empty(t *testing.T) {
	d := mustDecoder(t)
	_, err := d.Decode(nil, chunk.Descriptor{Start: 1, End: 1})
	if !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("expected ErrMalformedPayload, got %v", err)
	}
}
