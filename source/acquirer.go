// Package source brings a task's source media to a deterministic local path,
// downloading and decrypting it when needed.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"mediatranscoder/cache"
	"mediatranscoder/cid"
	"mediatranscoder/crypt"
	"mediatranscoder/logging"
	"mediatranscoder/storage"
)

var (
	// ErrMissingScheme is returned for identifiers without a "<network>://" prefix.
	ErrMissingScheme = errors.New("source: identifier has no storage network scheme")
	// ErrInvalidSource is returned for identifiers with no usable CID.
	ErrInvalidSource = errors.New("source: invalid source identifier")
)

// Decrypter turns a chunked ciphertext file into plaintext.
type Decrypter interface {
	DecryptChunked(ctx context.Context, cipherPath, plainPath string, key []byte, start, end uint32) error
}

// Config locates the source cache and the network endpoints.
type Config struct {
	SourceDir        string
	PortalURL        string
	PortalEncryptURL string
	IPFSGateway      string
}

// Acquirer resolves source identifiers to local plaintext files.
type Acquirer struct {
	cfg       Config
	fetcher   storage.Fetcher
	decrypter Decrypter
	guard     *cache.Guard
	retry     RetryPolicy
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger
}

// New builds an Acquirer. guard may be nil.
func New(cfg Config, fetcher storage.Fetcher, decrypter Decrypter, guard *cache.Guard, logger *slog.Logger) *Acquirer {
	cfg.PortalURL = strings.TrimSuffix(cfg.PortalURL, "/")
	cfg.PortalEncryptURL = strings.TrimSuffix(cfg.PortalEncryptURL, "/")
	cfg.IPFSGateway = strings.TrimSuffix(cfg.IPFSGateway, "/")
	return &Acquirer{
		cfg:       cfg,
		fetcher:   fetcher,
		decrypter: decrypter,
		guard:     guard,
		retry:     DefaultRetry,
		sleep:     sleepContext,
		logger:    logging.NewComponentLogger(logger, "source"),
	}
}

// Acquire makes sure the plaintext of sourceCID exists locally and returns
// its path. An existing file is reused without any network access.
func (a *Acquirer) Acquire(ctx context.Context, sourceCID string, encrypted bool) (string, error) {
	bare := cache.BareCID(sourceCID)
	if bare == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, sourceCID)
	}
	network, _, ok := strings.Cut(sourceCID, "://")
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrMissingScheme, sourceCID)
	}

	unlock := a.guard.Lock(a.cfg.SourceDir)
	defer unlock()

	path := cache.SourcePath(a.cfg.SourceDir, bare)
	if cache.FileExists(path) {
		a.logger.Info("source already cached", "path", path)
		return path, nil
	}
	if err := os.MkdirAll(a.cfg.SourceDir, 0o755); err != nil {
		return "", fmt.Errorf("source: create cache directory: %w", err)
	}

	if encrypted {
		if err := a.acquireEncrypted(ctx, bare, path); err != nil {
			return "", err
		}
		return path, nil
	}

	url := a.plainURL(network, bare)
	if err := a.fetcher.FetchBlob(ctx, url, path); err != nil {
		return "", fmt.Errorf("source: download %s: %w", url, err)
	}
	a.logger.Info("source downloaded", "url", url, "path", path)
	return path, nil
}

func (a *Acquirer) plainURL(network, bare string) string {
	if network == storage.DestIPFS {
		return a.cfg.IPFSGateway + "/ipfs/" + bare
	}
	return a.cfg.PortalURL + "/s5/blob/" + bare
}

func (a *Acquirer) acquireEncrypted(ctx context.Context, bare, path string) error {
	blobHash, err := cid.ExtractBlobHash(bare)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	encodedKey, err := cid.ExtractKey(bare)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	key, err := cid.DecodeBase64URL(encodedKey)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}

	doc, err := a.fetchLocations(ctx, blobHash, path+"_")
	if err != nil {
		return err
	}

	cipherPath := tempName(a.cfg.SourceDir, "enc")
	defer os.Remove(cipherPath)

	size, err := a.downloadLocations(ctx, doc, cipherPath)
	if err != nil {
		return err
	}

	last := crypt.LastChunkIndex(size)
	a.logger.Info("decrypting source",
		"ciphertext_bytes", size,
		"last_chunk", last,
		"path", path,
	)
	if err := a.decrypter.DecryptChunked(ctx, cipherPath, path, key, 0, last); err != nil {
		os.Remove(path)
		return fmt.Errorf("source: decrypt %s: %w", bare, err)
	}
	return nil
}
