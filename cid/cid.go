// Package cid decodes and builds the content identifiers used by the S5
// storage network, including the encrypted-blob layout that carries the
// decryption key inline.
package cid

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Field widths of a decoded encrypted CID payload.
const (
	TypeSize          = 1
	AlgorithmSize     = 1
	ChunkSizePow2Size = 1
	BlobHashSize      = 33
	KeySize           = 32

	blobHashStart = TypeSize + AlgorithmSize + ChunkSizePow2Size
	keyStart      = blobHashStart + BlobHashSize
	keyEnd        = keyStart + KeySize

	// MinEncryptedSize is the shortest payload ExtractKey accepts.
	MinEncryptedSize = keyEnd
)

// Marker bytes written by BuildCID and BuildEncrypted.
const (
	TypeRaw             byte = 0x26
	HashBlake3          byte = 0x1f
	TypeEncryptedStatic byte = 0xae
	AlgXChaCha20Poly    byte = 0xa6
	DefaultChunkPow2    byte = 18

	// MultibaseBase64URL prefixes CID strings rendered by String.
	MultibaseBase64URL = "u"
)

// ErrShortPayload is returned when a decoded CID is too short for the
// requested field.
var ErrShortPayload = errors.New("cid: payload too short")

// Encrypted holds the fields of a decoded encrypted CID.
type Encrypted struct {
	Type          byte
	Algorithm     byte
	ChunkSizePow2 byte
	BlobHash      []byte
	Key           []byte
	// Trailer is whatever follows the key (usually the little-endian size).
	Trailer []byte
}

// EncodeBase64URL encodes b with the URL-safe alphabet and no padding.
func EncodeBase64URL(b []byte) string {
	s := base64.RawStdEncoding.EncodeToString(b)
	s = strings.ReplaceAll(s, "+", "-")
	return strings.ReplaceAll(s, "/", "_")
}

// DecodeBase64URL reverses EncodeBase64URL. Padding characters are ignored.
func DecodeBase64URL(s string) ([]byte, error) {
	s = strings.ReplaceAll(s, "-", "+")
	s = strings.ReplaceAll(s, "_", "/")
	s = strings.ReplaceAll(s, "=", "")
	b, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("cid: decode base64url: %w", err)
	}
	return b, nil
}

// payload strips an optional trailing extension and the multibase prefix
// from id and returns the decoded bytes.
func payload(id string) ([]byte, error) {
	if i := strings.LastIndex(id, "."); i >= 0 {
		id = id[:i]
	}
	if len(id) < 2 {
		return nil, fmt.Errorf("cid: %q: %w", id, ErrShortPayload)
	}
	return DecodeBase64URL(id[1:])
}

// Decode parses an encrypted CID string such as "uXXXX" or "uXXXX.mp4".
func Decode(id string) (Encrypted, error) {
	b, err := payload(id)
	if err != nil {
		return Encrypted{}, err
	}
	if len(b) < MinEncryptedSize {
		return Encrypted{}, fmt.Errorf("cid: %d bytes, need %d: %w", len(b), MinEncryptedSize, ErrShortPayload)
	}
	return Encrypted{
		Type:          b[0],
		Algorithm:     b[1],
		ChunkSizePow2: b[2],
		BlobHash:      b[blobHashStart:keyStart],
		Key:           b[keyStart:keyEnd],
		Trailer:       b[keyEnd:],
	}, nil
}

// ExtractKey returns the base64url encoded symmetric key of an encrypted CID.
func ExtractKey(id string) (string, error) {
	e, err := Decode(id)
	if err != nil {
		return "", err
	}
	return EncodeBase64URL(e.Key), nil
}

// ExtractBlobHash returns the base64url encoded hash of the encrypted blob,
// the key used against the portal's locations API.
func ExtractBlobHash(id string) (string, error) {
	b, err := payload(id)
	if err != nil {
		return "", err
	}
	if len(b) < keyStart {
		return "", fmt.Errorf("cid: %d bytes, need %d: %w", len(b), keyStart, ErrShortPayload)
	}
	return EncodeBase64URL(b[blobHashStart:keyStart]), nil
}

// BuildCID builds a raw blob CID from a BLAKE3 digest and the blob size.
func BuildCID(hash []byte, size uint64) []byte {
	out := make([]byte, 0, 2+len(hash)+8)
	out = append(out, TypeRaw, HashBlake3)
	out = append(out, hash...)
	return append(out, trimmedSize(size)...)
}

// BuildEncrypted builds an encrypted CID payload. blobHash is the 33-byte
// multihash of the ciphertext and size the plaintext length.
func BuildEncrypted(blobHash, key []byte, size uint64) ([]byte, error) {
	if len(blobHash) != BlobHashSize {
		return nil, fmt.Errorf("cid: blob hash is %d bytes, want %d", len(blobHash), BlobHashSize)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("cid: key is %d bytes, want %d", len(key), KeySize)
	}
	out := make([]byte, 0, MinEncryptedSize+8)
	out = append(out, TypeEncryptedStatic, AlgXChaCha20Poly, DefaultChunkPow2)
	out = append(out, blobHash...)
	out = append(out, key...)
	return append(out, trimmedSize(size)...), nil
}

// String renders a CID payload as a multibase base64url string.
func String(b []byte) string {
	return MultibaseBase64URL + EncodeBase64URL(b)
}

// trimmedSize is the little-endian encoding of size without trailing zero
// bytes; zero encodes as nothing.
func trimmedSize(size uint64) []byte {
	var b []byte
	for size > 0 {
		b = append(b, byte(size))
		size >>= 8
	}
	return b
}

// ParseRaw decodes a raw blob CID built by BuildCID and returns its 33-byte
// multihash (hash type byte plus digest) and the encoded size.
func ParseRaw(id string) (multihash []byte, size uint64, err error) {
	b, err := payload(id)
	if err != nil {
		return nil, 0, err
	}
	if len(b) < 1+BlobHashSize {
		return nil, 0, fmt.Errorf("cid: %d bytes, need %d: %w", len(b), 1+BlobHashSize, ErrShortPayload)
	}
	if b[0] != TypeRaw {
		return nil, 0, fmt.Errorf("cid: type 0x%02x is not a raw blob", b[0])
	}
	trailer := b[1+BlobHashSize:]
	if len(trailer) > 8 {
		return nil, 0, fmt.Errorf("cid: size field is %d bytes", len(trailer))
	}
	for i := len(trailer) - 1; i >= 0; i-- {
		size = size<<8 | uint64(trailer[i])
	}
	return b[1 : 1+BlobHashSize], size, nil
}
