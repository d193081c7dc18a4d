package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/recognition"
)

// Embedding blob layout, all integers little-endian:
//
//	magic   [4]byte "FLEM"
//	version uint16
//	count   uint32
//	dim     uint32
//	values  count*dim float32
const (
	blobMagic      = "FLEM"
	blobVersion    = 1
	blobHeaderSize = 14
)

// ErrCorrupt is returned when an embedding blob cannot be decoded.
var ErrCorrupt = errors.New("corrupt embedding blob")

// EncodeEmbeddings serializes embeddings in order. All embeddings must have
// the same non-zero length.
func EncodeEmbeddings(embeddings []recognition.Embedding) ([]byte, error) {
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings to encode")
	}
	dim := len(embeddings[0])
	if dim == 0 {
		return nil, fmt.Errorf("embedding 0 is empty")
	}
	for i, e := range embeddings {
		if len(e) != dim {
			return nil, fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(e), dim)
		}
	}

	b := make([]byte, blobHeaderSize+4*dim*len(embeddings))
	copy(b, blobMagic)
	binary.LittleEndian.PutUint16(b[4:], blobVersion)
	binary.LittleEndian.PutUint32(b[6:], uint32(len(embeddings)))
	binary.LittleEndian.PutUint32(b[10:], uint32(dim))

	off := blobHeaderSize
	for _, e := range embeddings {
		for _, v := range e {
			binary.LittleEndian.PutUint32(b[off:], math.Float32bits(v))
			off += 4
		}
	}
	return b, nil
}

// DecodeEmbeddings parses a blob produced by EncodeEmbeddings.
func DecodeEmbeddings(b []byte) ([]recognition.Embedding, error) {
	if len(b) < blobHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(b))
	}
	if string(b[:4]) != blobMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, b[:4])
	}
	if v := binary.LittleEndian.Uint16(b[4:]); v != blobVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}

	count := int(binary.LittleEndian.Uint32(b[6:]))
	dim := int(binary.LittleEndian.Uint32(b[10:]))
	if count == 0 || dim == 0 {
		return nil, fmt.Errorf("%w: empty record (%d x %d)", ErrCorrupt, count, dim)
	}

	payload := len(b) - blobHeaderSize
	values := payload / 4
	if payload%4 != 0 || count > values/dim || count*dim != values {
		return nil, fmt.Errorf("%w: %d x %d values do not fit %d payload bytes", ErrCorrupt, count, dim, payload)
	}

	embeddings := make([]recognition.Embedding, count)
	off := blobHeaderSize
	for i := range embeddings {
		e := make(recognition.Embedding, dim)
		for j := range e {
			e[j] = math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
			off += 4
		}
		embeddings[i] = e
	}
	return embeddings, nil
}
