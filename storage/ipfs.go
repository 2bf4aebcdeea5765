package storage

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// IPFSClient adds files through the HTTP API of an IPFS node.
type IPFSClient struct {
	APIURL string
	Client *http.Client
}

// NewIPFSClient returns a client for the node API at apiURL.
func NewIPFSClient(apiURL string, client *http.Client) *IPFSClient {
	return &IPFSClient{APIURL: strings.TrimSuffix(apiURL, "/"), Client: client}
}

type ipfsAddResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Upload adds and pins path, returning its CIDv1.
func (c *IPFSClient) Upload(ctx context.Context, path string) (string, error) {
	var resp ipfsAddResponse
	url := c.APIURL + "/api/v0/add?pin=true&cid-version=1"
	if err := postFile(ctx, c.Client, url, "", path, &resp); err != nil {
		return "", err
	}
	if resp.Hash == "" {
		return "", fmt.Errorf("storage: ipfs node returned no hash for %s", path)
	}
	return resp.Hash, nil
}
