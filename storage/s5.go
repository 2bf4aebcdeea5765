package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"mediatranscoder/cid"
	"mediatranscoder/crypt"
	"mediatranscoder/logging"

	"github.com/lithammer/shortuuid/v4"
	"github.com/zeebo/blake3"
)

// ChunkEncrypter produces the chunked ciphertext of a file.
type ChunkEncrypter interface {
	EncryptChunked(ctx context.Context, plainPath, cipherPath string, key []byte) error
}

// S5Client uploads blobs to an S5 portal.
type S5Client struct {
	PortalURL string
	AuthToken string
	Client    *http.Client
	// TempDir holds ciphertext while an encrypted upload is in flight.
	TempDir   string
	Encrypter ChunkEncrypter

	logger *slog.Logger
}

// NewS5Client returns a client for portalURL.
func NewS5Client(portalURL, token string, client *http.Client, tempDir string, logger *slog.Logger) *S5Client {
	return &S5Client{
		PortalURL: strings.TrimSuffix(portalURL, "/"),
		AuthToken: token,
		Client:    client,
		TempDir:   tempDir,
		Encrypter: crypt.XChaCha20{},
		logger:    logging.NewComponentLogger(logger, "s5"),
	}
}

type s5UploadResponse struct {
	CID string `json:"cid"`
}

// LocalCID computes the raw blob CID of path (BLAKE3 digest plus size)
// without contacting the portal.
func LocalCID(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("storage: open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", fmt.Errorf("storage: hash %s: %w", path, err)
	}
	return cid.String(cid.BuildCID(h.Sum(nil), uint64(n))), nil
}

// Upload stores path on the portal and returns its CID. The portal's answer
// is compared with the locally computed CID; a mismatch is logged and the
// portal's value wins. A response without a cid falls back to the local one.
func (c *S5Client) Upload(ctx context.Context, path string) (string, error) {
	local, err := LocalCID(path)
	if err != nil {
		return "", err
	}

	var resp s5UploadResponse
	if err := postFile(ctx, c.Client, c.PortalURL+"/s5/upload", c.AuthToken, path, &resp); err != nil {
		return "", err
	}
	if resp.CID == "" {
		c.logger.Warn("portal returned no cid, using local cid",
			"file", filepath.Base(path),
			"local_cid", local,
		)
		return local, nil
	}
	if resp.CID != local {
		c.logger.Warn("portal cid differs from local cid",
			"path", path,
			"portal_cid", resp.CID,
			"local_cid", local,
		)
	}
	return resp.CID, nil
}

// UploadEncrypted encrypts path under a fresh key, uploads the ciphertext
// and returns an encrypted CID that carries the key.
func (c *S5Client) UploadEncrypted(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("storage: stat %s: %w", path, err)
	}
	key, err := crypt.NewKey()
	if err != nil {
		return "", err
	}

	tmpDir := c.TempDir
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	cipherPath := filepath.Join(tmpDir, "enc_"+shortuuid.New())
	defer os.Remove(cipherPath)

	if err := c.Encrypter.EncryptChunked(ctx, path, cipherPath, key); err != nil {
		return "", fmt.Errorf("storage: encrypt %s: %w", path, err)
	}

	raw, err := c.Upload(ctx, cipherPath)
	if err != nil {
		return "", err
	}
	blobHash, _, err := cid.ParseRaw(raw)
	if err != nil {
		return "", fmt.Errorf("storage: parse uploaded cid: %w", err)
	}
	payload, err := cid.BuildEncrypted(blobHash, key, uint64(info.Size()))
	if err != nil {
		return "", err
	}
	return cid.String(payload), nil
}
