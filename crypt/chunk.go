// Package crypt implements the chunked XChaCha20-Poly1305 cipher used for
// encrypted blobs on S5 and the planner that sizes a decryption run.
package crypt

// ChunkSize is the plaintext payload of one chunk (256 KiB).
const ChunkSize = 262144

// TagSize is the Poly1305 authentication tag appended to every chunk.
const TagSize = 16

// ChunkTotalSize is the ciphertext length of a full chunk.
const ChunkTotalSize = ChunkSize + TagSize

// LastChunkIndex returns the index of the last chunk to decrypt for a
// ciphertext of the given size. Decryption always starts at index 0.
func LastChunkIndex(ciphertextSize int64) uint32 {
	if ciphertextSize <= 0 {
		return 0
	}
	return uint32(ciphertextSize / ChunkTotalSize)
}
