package codec

import (
	"bytes"
	"testing"

	"github.com/nilotpal/vortexdb/pkg/errors"
)

func TestEncodeDecodeBlockRoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog, repeated for compressibility: " +
		"the quick brown fox jumps over the lazy dog")
	enc := EncodeBlock(BlockKindLSNRecord, payload, true)

	dec, n, err := DecodeBlock(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(enc) {
		t.Fatalf("consumed %d, want %d", n, len(enc))
	}
	if dec.Kind != BlockKindLSNRecord {
		t.Fatalf("kind = %v, want %v", dec.Kind, BlockKindLSNRecord)
	}
	if !bytes.Equal(dec.Payload, payload) {
		t.Fatalf("payload mismatch after round trip")
	}
}

func TestEncodeDecodeBlockUncompressed(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	enc := EncodeBlock(BlockKindDeleteMap, payload, false)

	dec, _, err := DecodeBlock(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(dec.Payload, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestDecodeBlockCorruptedChecksum(t *testing.T) {
	enc := EncodeBlock(BlockKindSegmentMeta, []byte("hello"), false)
	enc[headerSize] ^= 0xFF // flip a payload byte

	_, _, err := DecodeBlock(enc)
	if err == nil {
		t.Fatal("expected checksum mismatch error")
	}
	if errors.GetErrorCode(err) != errors.ErrorCodeIntegrityError {
		t.Fatalf("code = %v, want IntegrityError", errors.GetErrorCode(err))
	}
}

func TestDecodeBlockTruncated(t *testing.T) {
	enc := EncodeBlock(BlockKindSegmentMeta, []byte("hello world"), false)
	_, _, err := DecodeBlock(enc[:headerSize+2])
	if err == nil {
		t.Fatal("expected truncation error")
	}
}

func TestScanBlocksMultiple(t *testing.T) {
	var buf []byte
	buf = append(buf, EncodeBlock(BlockKindLSNRecord, []byte("one"), false)...)
	buf = append(buf, EncodeBlock(BlockKindLSNRecord, []byte("two"), false)...)
	buf = append(buf, EncodeBlock(BlockKindLSNCheckpoint, []byte("three"), true)...)

	blocks, err := ScanBlocks(buf)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(blocks))
	}
	if string(blocks[0].Payload) != "one" || string(blocks[1].Payload) != "two" || string(blocks[2].Payload) != "three" {
		t.Fatalf("payload content mismatch: %+v", blocks)
	}
}
