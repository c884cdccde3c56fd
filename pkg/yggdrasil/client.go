// Package yggdrasil talks to remote package indexes ("yggdrasils").
//
// An index serves a single catalog document, index.toml, listing every
// package it hosts with the download URL and digest of each version.
// [Client.Fetch] retrieves and validates it in one GET; a [Store] keeps
// the last snapshot of every index on disk keyed by the index's uuid; a
// [Syncer] combines both with the ledger so that resolution can reuse a
// recent snapshot without touching the network.
package yggdrasil

import (
	"context"

	"github.com/matzehuels/ipm/pkg/errors"
	"github.com/matzehuels/ipm/pkg/httputil"
)

// Client fetches index catalogs.
type Client struct {
	http *httputil.Client
}

// NewClient creates a Client on top of h. A nil h uses the transport
// defaults.
func NewClient(h *httputil.Client) *Client {
	if h == nil {
		h = httputil.NewClient(httputil.ClientOptions{})
	}
	return &Client{http: h}
}

// Fetch downloads and parses the catalog of the index at indexURL.
// Transport failures are NETWORK; a URL that does not serve an index
// document is INVALID_INDEX.
func (c *Client) Fetch(ctx context.Context, indexURL string) (*Snapshot, error) {
	if err := errors.ValidateURL(indexURL); err != nil {
		return nil, err
	}
	data, err := c.http.GetBytes(ctx, DocumentURL(indexURL))
	if errors.Is(err, errors.ErrCodeNotFound) {
		return nil, errors.Wrap(errors.ErrCodeInvalidIndex, err, "%s does not serve %s", indexURL, DocumentName)
	}
	if err != nil {
		return nil, err
	}
	return Parse(indexURL, data)
}
