// Package codec decodes CDN chunk envelopes into block records.
//
// A chunk envelope is a big-endian binary stream: a u32 block count
// followed by that many records, each being u32 height, 32-byte previous
// hash, 32-byte hash, u32 body length, and the serialized block body. The
// body is opaque here; the ledger collaborator owns its meaning. Payloads
// may be zstd-compressed on the wire and are decompressed transparently.
package codec

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/withObsrvr/obsrvr-cdn-sync/internal/chunk"
)

const hashSize = 32

// maxBodySize rejects corrupt envelopes that declare absurd body lengths
// before any allocation happens.
const maxBodySize = 64 << 20

// ErrMalformedPayload is returned when a chunk envelope cannot be parsed.
var ErrMalformedPayload = errors.New("malformed chunk payload")

// LengthMismatchError reports a decoded block count that differs from the
// span the descriptor promised.
type LengthMismatchError struct {
	Start uint32
	End   uint32
	Want  int
	Got   int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("chunk %d-%d: decoded %d blocks, expected %d", e.Start, e.End, e.Got, e.Want)
}

// BlockRecord is one decoded ledger block. Hashes are lowercase hex.
type BlockRecord struct {
	Height       uint32
	PreviousHash string
	Hash         string
	Body         []byte
}

// DecodedChunk is a structurally valid chunk: Blocks[i].Height == Start+i
// and len(Blocks) == End-Start+1, both enforced at decode time.
type DecodedChunk struct {
	Start  uint32
	End    uint32
	Blocks []BlockRecord
}

// Decoder parses chunk envelopes, decompressing zstd payloads when present.
type Decoder struct {
	zstdDecoder *zstd.Decoder
}

// NewDecoder creates a chunk decoder.
func NewDecoder() (*Decoder, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Decoder{zstdDecoder: dec}, nil
}

// Close releases decoder resources.
func (d *Decoder) Close() {
	if d.zstdDecoder != nil {
		d.zstdDecoder.Close()
	}
}

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

func isZstd(payload []byte) bool {
	if len(payload) < len(zstdMagic) {
		return false
	}
	for i, b := range zstdMagic {
		if payload[i] != b {
			return false
		}
	}
	return true
}

// Decode parses a chunk envelope and validates it against its descriptor.
// The descriptor's span must match the declared block count exactly, and
// heights must ascend without gaps from desc.Start. No cryptographic
// verification happens here; decode stays cheap and parallel-safe.
func (d *Decoder) Decode(payload []byte, desc chunk.Descriptor) (*DecodedChunk, error) {
	if isZstd(payload) {
		raw, err := d.zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrMalformedPayload, err)
		}
		payload = raw
	}

	r := reader{buf: payload}

	count, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("%w: missing block count", ErrMalformedPayload)
	}

	if int(count) != int(desc.Len()) {
		return nil, &LengthMismatchError{Start: desc.Start, End: desc.End, Want: int(desc.Len()), Got: int(count)}
	}

	blocks := make([]BlockRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		b, err := r.block()
		if err != nil {
			return nil, fmt.Errorf("%w: block %d of %d: %v", ErrMalformedPayload, i, count, err)
		}
		if b.Height != desc.Start+i {
			return nil, fmt.Errorf("%w: block %d has height %d, expected %d",
				ErrMalformedPayload, i, b.Height, desc.Start+i)
		}
		blocks = append(blocks, b)
	}

	if len(r.buf) != r.off {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d blocks",
			ErrMalformedPayload, len(r.buf)-r.off, count)
	}

	return &DecodedChunk{Start: desc.Start, End: desc.End, Blocks: blocks}, nil
}

// Encode serializes blocks into a chunk envelope. It is the inverse of
// Decode and backs local chunk tooling and test fixtures.
func Encode(blocks []BlockRecord) ([]byte, error) {
	var out []byte
	out = binary.BigEndian.AppendUint32(out, uint32(len(blocks)))
	for i := range blocks {
		b := &blocks[i]
		prev, err := hex.DecodeString(b.PreviousHash)
		if err != nil || len(prev) != hashSize {
			return nil, fmt.Errorf("block %d: previous hash is not %d hex bytes", b.Height, hashSize)
		}
		hash, err := hex.DecodeString(b.Hash)
		if err != nil || len(hash) != hashSize {
			return nil, fmt.Errorf("block %d: hash is not %d hex bytes", b.Height, hashSize)
		}
		out = binary.BigEndian.AppendUint32(out, b.Height)
		out = append(out, prev...)
		out = append(out, hash...)
		out = binary.BigEndian.AppendUint32(out, uint32(len(b.Body)))
		out = append(out, b.Body...)
	}
	return out, nil
}

// reader walks an envelope buffer.
type reader struct {
	buf []byte
	off int
}

func (r *reader) u32() (uint32, error) {
	if r.off+4 > len(r.buf) {
		return 0, errors.New("short read")
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.off+n > len(r.buf) {
		return nil, errors.New("short read")
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) block() (BlockRecord, error) {
	height, err := r.u32()
	if err != nil {
		return BlockRecord{}, err
	}
	prev, err := r.bytes(hashSize)
	if err != nil {
		return BlockRecord{}, err
	}
	hash, err := r.bytes(hashSize)
	if err != nil {
		return BlockRecord{}, err
	}
	bodyLen, err := r.u32()
	if err != nil {
		return BlockRecord{}, err
	}
	if bodyLen > maxBodySize {
		return BlockRecord{}, fmt.Errorf("body length %d exceeds limit", bodyLen)
	}
	body, err := r.bytes(int(bodyLen))
	if err != nil {
		return BlockRecord{}, err
	}

	return BlockRecord{
		Height:       height,
		PreviousHash: hex.EncodeToString(prev),
		Hash:         hex.EncodeToString(hash),
		Body:         append([]byte(nil), body...),
	}, nil
}
