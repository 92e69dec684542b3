// Page codec pipeline: DiskManager runs every page through an optional
// compress-then-encrypt transform before it touches disk, and reverses it on
// read. Grounded on the teacher's pkg/compression/compression.go (zstd/snappy
// via klauspost/compress) and pkg/encryption/encryption.go (AES-256-GCM keyed
// via PBKDF2 from golang.org/x/crypto), generalized from a document-value
// transform into a fixed-size page transform.
//
// A page slot on disk always occupies exactly DiskSlotSize bytes regardless
// of the codec, so page offsets stay `pageID * DiskSlotSize`: the
// encoded payload is framed with a 1-byte tag and a 4-byte length, and falls
// back to storing the page uncompressed whenever the transformed payload
// would not fit in the remaining space (compression can grow incompressible
// data; encryption always adds a nonce+tag).
package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/pbkdf2"
)

const (
	codecFrameHeaderSize = 5 // 1 tag byte + 4 length bytes
	tagRaw               = 0
	tagTransformed       = 1

	// codecOverheadBudget is extra room reserved in every on-disk slot for
	// codec framing (header, AES-GCM nonce+tag, and any compression
	// expansion on incompressible input). DiskSlotSize, not PageSize, is
	// the real on-disk stride.
	codecOverheadBudget = 128

	// DiskSlotSize is the number of bytes DiskManager reserves per page on
	// disk. It is larger than PageSize so that an encrypted and/or
	// compressed page — whose encoded form can be a little larger than the
	// logical page — still always fits in a single fixed-offset slot.
	DiskSlotSize = PageSize + codecOverheadBudget
)

// Codec turns a decoded PageSize-byte page into a DiskSlotSize-byte disk
// slot and back. Implementations must be safe for concurrent use.
type Codec interface {
	Encode(page []byte) (slot []byte, err error)
	Decode(slot []byte) (page []byte, err error)
}

// NoopCodec stores pages verbatim (zero-padded to DiskSlotSize); it is the
// default codec when none is configured.
type NoopCodec struct{}

func (NoopCodec) Encode(page []byte) ([]byte, error) {
	if len(page) != PageSize {
		return nil, fmt.Errorf("noop codec: page must be %d bytes, got %d", PageSize, len(page))
	}
	out := make([]byte, DiskSlotSize)
	copy(out, page)
	return out, nil
}

func (NoopCodec) Decode(slot []byte) ([]byte, error) {
	if len(slot) != DiskSlotSize {
		return nil, fmt.Errorf("noop codec: slot must be %d bytes, got %d", DiskSlotSize, len(slot))
	}
	out := make([]byte, PageSize)
	copy(out, slot[:PageSize])
	return out, nil
}

// CompressionAlgorithm selects the klauspost/compress codec used by
// TransformCodec.
type CompressionAlgorithm int

const (
	CompressionNone CompressionAlgorithm = iota
	CompressionSnappy
	CompressionZstd
)

// EncryptionAlgorithm selects the at-rest page cipher.
type EncryptionAlgorithm int

const (
	EncryptionNone EncryptionAlgorithm = iota
	EncryptionAES256GCM
)

// TransformCodec composes optional compression and encryption into one
// fixed-size-slot page codec.
type TransformCodec struct {
	compression CompressionAlgorithm
	encryption  EncryptionAlgorithm
	gcm         cipher.AEAD
	zstdEnc     *zstd.Encoder
	zstdDec     *zstd.Decoder
}

// NewTransformCodec builds a codec from a password (used to derive an
// AES-256 key via PBKDF2-HMAC-SHA256, 100000 iterations, fixed salt derived
// from the password itself so the same password always yields the same key —
// callers that need a random per-database salt should persist one alongside
// the data file) and a compression algorithm. Pass password == "" to disable
// encryption.
func NewTransformCodec(compression CompressionAlgorithm, password string) (*TransformCodec, error) {
	tc := &TransformCodec{compression: compression}

	if password != "" {
		salt := sha256.Sum256([]byte("diskcore-page-codec:" + password))
		key := pbkdf2.Key([]byte(password), salt[:], 100000, 32, sha256.New)
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("transform codec: new cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("transform codec: new gcm: %w", err)
		}
		tc.gcm = gcm
		tc.encryption = EncryptionAES256GCM
	}

	if compression == CompressionZstd {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("transform codec: new zstd writer: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("transform codec: new zstd reader: %w", err)
		}
		tc.zstdEnc = enc
		tc.zstdDec = dec
	}

	return tc, nil
}

func (tc *TransformCodec) compress(data []byte) []byte {
	switch tc.compression {
	case CompressionSnappy:
		return snappy.Encode(nil, data)
	case CompressionZstd:
		return tc.zstdEnc.EncodeAll(data, nil)
	default:
		return data
	}
}

func (tc *TransformCodec) decompress(data []byte) ([]byte, error) {
	switch tc.compression {
	case CompressionSnappy:
		return snappy.Decode(nil, data)
	case CompressionZstd:
		return tc.zstdDec.DecodeAll(data, nil)
	default:
		return data, nil
	}
}

func (tc *TransformCodec) encrypt(data []byte) ([]byte, error) {
	if tc.gcm == nil {
		return data, nil
	}
	nonce := make([]byte, tc.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("transform codec: read nonce: %w", err)
	}
	return tc.gcm.Seal(nonce, nonce, data, nil), nil
}

func (tc *TransformCodec) decrypt(data []byte) ([]byte, error) {
	if tc.gcm == nil {
		return data, nil
	}
	nonceSize := tc.gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("transform codec: ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return tc.gcm.Open(nil, nonce, ciphertext, nil)
}

// Encode compresses then encrypts, and frames the result into a
// DiskSlotSize-byte slot, falling back to a raw frame if the transformed
// payload still doesn't fit the codec overhead budget.
func (tc *TransformCodec) Encode(page []byte) ([]byte, error) {
	if len(page) != PageSize {
		return nil, fmt.Errorf("transform codec: page must be %d bytes, got %d", PageSize, len(page))
	}

	transformed, err := tc.encrypt(tc.compress(page))
	if err != nil {
		return nil, err
	}

	out := make([]byte, DiskSlotSize)
	if len(transformed) <= DiskSlotSize-codecFrameHeaderSize {
		out[0] = tagTransformed
		binary.LittleEndian.PutUint32(out[1:5], uint32(len(transformed)))
		copy(out[codecFrameHeaderSize:], transformed)
		return out, nil
	}

	// Transformed payload doesn't fit the overhead budget (pathological
	// input): store the page untransformed instead. PageSize always fits
	// since DiskSlotSize reserves codecOverheadBudget >= codecFrameHeaderSize.
	out[0] = tagRaw
	binary.LittleEndian.PutUint32(out[1:5], uint32(PageSize))
	copy(out[codecFrameHeaderSize:], page)
	return out, nil
}

// Decode reverses Encode.
func (tc *TransformCodec) Decode(slot []byte) ([]byte, error) {
	if len(slot) != DiskSlotSize {
		return nil, fmt.Errorf("transform codec: slot must be %d bytes, got %d", DiskSlotSize, len(slot))
	}
	tag := slot[0]
	n := binary.LittleEndian.Uint32(slot[1:5])
	if tag == tagRaw {
		out := make([]byte, PageSize)
		copy(out, slot[codecFrameHeaderSize:codecFrameHeaderSize+PageSize])
		return out, nil
	}
	if int(n) > DiskSlotSize-codecFrameHeaderSize {
		return nil, fmt.Errorf("transform codec: corrupt frame length %d", n)
	}
	payload := slot[codecFrameHeaderSize : codecFrameHeaderSize+int(n)]

	decrypted, err := tc.decrypt(payload)
	if err != nil {
		return nil, fmt.Errorf("transform codec: decrypt: %w", err)
	}
	decompressed, err := tc.decompress(decrypted)
	if err != nil {
		return nil, fmt.Errorf("transform codec: decompress: %w", err)
	}
	if len(decompressed) != PageSize {
		return nil, fmt.Errorf("transform codec: decoded page has size %d, want %d", len(decompressed), PageSize)
	}
	return decompressed, nil
}
