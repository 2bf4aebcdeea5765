package crypt

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrAuthFailed is returned when a chunk fails authentication, which means
// either the key or the ciphertext is wrong.
var ErrAuthFailed = errors.New("crypt: chunk authentication failed")

// XChaCha20 encrypts and decrypts files chunk by chunk. The nonce of chunk i
// is i encoded little-endian into the first 8 of 24 bytes.
type XChaCha20 struct{}

func chunkNonce(index uint32) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	binary.LittleEndian.PutUint64(nonce, uint64(index))
	return nonce
}

// DecryptChunked decrypts chunks start..end (inclusive) of cipherPath into
// plainPath. A short or empty final chunk ends the run early.
func (XChaCha20) DecryptChunked(ctx context.Context, cipherPath, plainPath string, key []byte, start, end uint32) (err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("crypt: init cipher: %w", err)
	}
	if end < start {
		return fmt.Errorf("crypt: invalid chunk range %d..%d", start, end)
	}

	in, err := os.Open(cipherPath)
	if err != nil {
		return fmt.Errorf("crypt: open ciphertext: %w", err)
	}
	defer in.Close()
	if _, err := in.Seek(int64(start)*ChunkTotalSize, io.SeekStart); err != nil {
		return fmt.Errorf("crypt: seek chunk %d: %w", start, err)
	}

	out, err := os.Create(plainPath)
	if err != nil {
		return fmt.Errorf("crypt: create plaintext: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("crypt: close plaintext: %w", cerr)
		}
		if err != nil {
			os.Remove(plainPath)
		}
	}()

	buf := make([]byte, ChunkTotalSize)
	for i := start; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := io.ReadFull(in, buf)
		if rerr != nil && rerr != io.ErrUnexpectedEOF && rerr != io.EOF {
			return fmt.Errorf("crypt: read chunk %d: %w", i, rerr)
		}
		if n == 0 {
			break
		}
		plain, oerr := aead.Open(buf[:0], chunkNonce(i), buf[:n], nil)
		if oerr != nil {
			return fmt.Errorf("crypt: chunk %d: %w", i, ErrAuthFailed)
		}
		if _, err := out.Write(plain); err != nil {
			return fmt.Errorf("crypt: write chunk %d: %w", i, err)
		}
		if n < ChunkTotalSize || i == end {
			break
		}
	}
	return nil
}

// EncryptChunked encrypts plainPath into cipherPath. An empty input produces
// an empty output.
func (XChaCha20) EncryptChunked(ctx context.Context, plainPath, cipherPath string, key []byte) (err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("crypt: init cipher: %w", err)
	}

	in, err := os.Open(plainPath)
	if err != nil {
		return fmt.Errorf("crypt: open plaintext: %w", err)
	}
	defer in.Close()

	out, err := os.Create(cipherPath)
	if err != nil {
		return fmt.Errorf("crypt: create ciphertext: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("crypt: close ciphertext: %w", cerr)
		}
		if err != nil {
			os.Remove(cipherPath)
		}
	}()

	buf := make([]byte, ChunkSize, ChunkTotalSize)
	for i := uint32(0); ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := io.ReadFull(in, buf[:ChunkSize])
		if rerr != nil && rerr != io.ErrUnexpectedEOF && rerr != io.EOF {
			return fmt.Errorf("crypt: read chunk %d: %w", i, rerr)
		}
		if n == 0 {
			break
		}
		sealed := aead.Seal(buf[:0], chunkNonce(i), buf[:n], nil)
		if _, err := out.Write(sealed); err != nil {
			return fmt.Errorf("crypt: write chunk %d: %w", i, err)
		}
		if n < ChunkSize {
			break
		}
	}
	return nil
}

// NewKey returns a random key suitable for EncryptChunked.
func NewKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("crypt: generate key: %w", err)
	}
	return key, nil
}
