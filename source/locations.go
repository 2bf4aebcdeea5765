package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/lithammer/shortuuid/v4"
)

var (
	// ErrNoLocations is returned when the portal knows no location for a blob.
	ErrNoLocations = errors.New("source: no locations for blob")
	// ErrAllLocationsFailed is returned when no location yields the ciphertext.
	ErrAllLocationsFailed = errors.New("source: all locations failed")
	// ErrInvalidPart is returned for part URLs without a host or path.
	ErrInvalidPart = errors.New("source: invalid part url")
	// ErrEmptyDownload is returned when a part downloads as zero bytes.
	ErrEmptyDownload = errors.New("source: empty download")
)

// Locations is the portal's answer to a locations lookup.
type Locations struct {
	Locations []Location `json:"locations"`
}

// Location is one complete copy of a blob split into ordered parts.
type Location struct {
	Parts []string `json:"parts"`
}

func tempName(dir, prefix string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s_%d", prefix, shortuuid.New(), time.Now().UnixNano()))
}

func (a *Acquirer) fetchLocations(ctx context.Context, blobHash, docPath string) (*Locations, error) {
	docURL := a.cfg.PortalEncryptURL + "/api/locations/" + blobHash + "?types=5,3"
	defer os.Remove(docPath)

	if err := a.fetcher.FetchBlob(ctx, docURL, docPath); err != nil {
		return nil, fmt.Errorf("source: fetch locations %s: %w", docURL, err)
	}
	data, err := os.ReadFile(docPath)
	if err != nil {
		return nil, fmt.Errorf("source: read locations: %w", err)
	}

	var doc Locations
	if err := sonic.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("source: decode locations: %w", err)
	}
	if len(doc.Locations) == 0 {
		return nil, ErrNoLocations
	}
	return &doc, nil
}

// downloadLocations tries each location in order and returns the size of
// the ciphertext assembled at cipherPath.
func (a *Acquirer) downloadLocations(ctx context.Context, doc *Locations, cipherPath string) (int64, error) {
	var lastErr error
	for i, loc := range doc.Locations {
		size, err := a.downloadLocation(ctx, loc, cipherPath)
		if err == nil {
			return size, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		lastErr = err
		a.logger.Warn("location failed, trying next",
			"location", i,
			"parts", len(loc.Parts),
			"error", err,
		)
	}
	return 0, fmt.Errorf("%w: %w", ErrAllLocationsFailed, lastErr)
}

// downloadLocation concatenates every part of loc, in order, into
// cipherPath. Any part that cannot be fetched fails the whole location.
func (a *Acquirer) downloadLocation(ctx context.Context, loc Location, cipherPath string) (size int64, err error) {
	if len(loc.Parts) == 0 {
		return 0, errors.New("source: location has no parts")
	}

	out, err := os.Create(cipherPath)
	if err != nil {
		return 0, fmt.Errorf("source: create ciphertext: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("source: close ciphertext: %w", cerr)
		}
	}()

	for i, part := range loc.Parts {
		if err := validatePartURL(part); err != nil {
			return 0, fmt.Errorf("part %d: %w", i, err)
		}
		n, err := a.fetchPart(ctx, part, out, size)
		if err != nil {
			return 0, fmt.Errorf("part %d: %w", i, err)
		}
		size += n
	}
	if size == 0 {
		return 0, ErrEmptyDownload
	}
	return size, nil
}

// fetchPart downloads one part with retries and appends it to out, which is
// currently offset bytes long. The temporary part file is always removed.
func (a *Acquirer) fetchPart(ctx context.Context, part string, out *os.File, offset int64) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= a.retry.Retries; attempt++ {
		if attempt > 0 {
			delay := a.retry.Backoff(attempt - 1)
			a.logger.Info("retrying part",
				"url", part,
				"attempt", attempt+1,
				"max_attempts", a.retry.Attempts(),
				"delay", delay,
			)
			if err := a.sleep(ctx, delay); err != nil {
				return 0, err
			}
		}

		n, err := a.appendPart(ctx, part, out, offset)
		if err == nil {
			return n, nil
		}
		lastErr = err
		a.logger.Warn("part download failed", "url", part, "attempt", attempt+1, "error", err)
	}
	return 0, fmt.Errorf("giving up after %d attempts: %w", a.retry.Attempts(), lastErr)
}

func (a *Acquirer) appendPart(ctx context.Context, part string, out *os.File, offset int64) (int64, error) {
	tmp := tempName(a.cfg.SourceDir, "part")
	defer os.Remove(tmp)

	if err := a.fetcher.FetchBlob(ctx, part, tmp); err != nil {
		return 0, err
	}
	in, err := os.Open(tmp)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	n, err := io.Copy(out, in)
	if err == nil && n == 0 {
		err = ErrEmptyDownload
	}
	if err != nil {
		// Drop whatever this attempt appended before the next one.
		if terr := out.Truncate(offset); terr != nil {
			return 0, terr
		}
		if _, serr := out.Seek(offset, io.SeekStart); serr != nil {
			return 0, serr
		}
		return 0, err
	}
	return n, nil
}

func validatePartURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPart, err)
	}
	if u.Scheme == "" || u.Host == "" || strings.Trim(u.Path, "/") == "" {
		return fmt.Errorf("%w: %q", ErrInvalidPart, raw)
	}
	return nil
}
