package storage

import (
	"context"
	"errors"
)

// DestIPFS names the IPFS network in a format descriptor; any other
// destination means S5.
const DestIPFS = "ipfs"

// Scheme prefixes of published references.
const (
	SchemeS5   = "s5://"
	SchemeIPFS = "ipfs://"
)

// ErrEncryptedIPFS is returned for encrypted outputs bound for IPFS, which
// has no encrypted CID format.
var ErrEncryptedIPFS = errors.New("storage: encrypted publishing is only supported on s5")

type uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

type encryptedUploader interface {
	uploader
	UploadEncrypted(ctx context.Context, path string) (string, error)
}

// Publisher routes a finished output to the network its format names.
type Publisher struct {
	s5   encryptedUploader
	ipfs uploader
}

// NewPublisher returns a Publisher over the two clients.
func NewPublisher(s5 *S5Client, ipfs *IPFSClient) *Publisher {
	return &Publisher{s5: s5, ipfs: ipfs}
}

// Publish uploads path and returns the bare reference (without scheme).
func (p *Publisher) Publish(ctx context.Context, dest, path string, encrypted bool) (string, error) {
	if dest == DestIPFS {
		if encrypted {
			return "", ErrEncryptedIPFS
		}
		return p.ipfs.Upload(ctx, path)
	}
	if encrypted {
		return p.s5.UploadEncrypted(ctx, path)
	}
	return p.s5.Upload(ctx, path)
}

// SchemeFor returns the reference prefix for dest.
func SchemeFor(dest string) string {
	if dest == DestIPFS {
		return SchemeIPFS
	}
	return SchemeS5
}
