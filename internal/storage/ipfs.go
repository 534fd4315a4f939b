package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
)

// ipfsNamespace is the locator path segment preceding the CID.
const ipfsNamespace = "ipfs"

// ipfsAPI is the subset of *shell.Shell used by IPFSStore.
type ipfsAPI interface {
	Add(r io.Reader, options ...shell.AddOpts) (string, error)
	Cat(path string) (io.ReadCloser, error)
	Unpin(path string) error
}

// IPFSStore stores documents in IPFS. Uploads are pinned so the node keeps
// them; locators are gateway URLs of the form {gateway}/ipfs/{cid}.
type IPFSStore struct {
	client  ipfsAPI
	gateway string
}

// NewIPFSStore creates a store talking to the IPFS HTTP API at apiAddr.
// gateway is the public base URL used for locators.
func NewIPFSStore(apiAddr, gateway string, timeout time.Duration) *IPFSStore {
	sh := shell.NewShell(apiAddr)
	if timeout > 0 {
		sh.SetTimeout(timeout)
	}
	return newIPFSStore(sh, gateway)
}

func newIPFSStore(client ipfsAPI, gateway string) *IPFSStore {
	if gateway == "" {
		gateway = "https://ipfs.io"
	}
	return &IPFSStore{client: client, gateway: gateway}
}

// Name implements ObjectStore.
func (s *IPFSStore) Name() string { return "ipfs" }

// Simulated implements ObjectStore.
func (s *IPFSStore) Simulated() bool { return false }

// Upload implements ObjectStore. The object name is kept as a filename hint
// in the locator query; the CID alone addresses the content.
func (s *IPFSStore) Upload(ctx context.Context, data []byte, name, contentType string) (string, error) {
	cid, err := callCtx(ctx, func() (string, error) {
		return s.client.Add(bytes.NewReader(data), shell.Pin(true))
	})
	if err != nil {
		return "", fmt.Errorf("failed to add %s to IPFS: %w", name, classifyIPFSError(err))
	}

	locator := BuildLocator(s.gateway, ipfsNamespace, cid)
	if name != "" {
		locator += "?filename=" + url.QueryEscape(name)
	}
	return locator, nil
}

// Download implements ObjectStore.
func (s *IPFSStore) Download(ctx context.Context, locator string) ([]byte, error) {
	cid, err := s.cidFromLocator(locator)
	if err != nil {
		return nil, err
	}

	data, err := callCtx(ctx, func() ([]byte, error) {
		rc, err := s.client.Cat(cid)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from IPFS: %w", cid, classifyIPFSError(err))
	}
	return data, nil
}

// Delete unpins the object. The content disappears once the node garbage-collects it.
func (s *IPFSStore) Delete(ctx context.Context, locator string) error {
	cid, err := s.cidFromLocator(locator)
	if err != nil {
		return err
	}

	_, err = callCtx(ctx, func() (struct{}, error) {
		return struct{}{}, s.client.Unpin(cid)
	})
	if err != nil {
		return fmt.Errorf("failed to unpin %s: %w", cid, classifyIPFSError(err))
	}
	return nil
}

func (s *IPFSStore) cidFromLocator(locator string) (string, error) {
	namespace, cid, err := ParseLocator(locator)
	if err != nil {
		return "", err
	}
	if namespace != ipfsNamespace {
		return "", fmt.Errorf("%w: expected /ipfs/{cid}, got /%s/%s", ErrInvalidLocator, namespace, cid)
	}
	return cid, nil
}

// callCtx runs fn and abandons it when ctx ends first. The shell client has
// its own HTTP timeout, so an abandoned call still terminates.
func callCtx[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func classifyIPFSError(err error) error {
	var shErr *shell.Error
	if errors.As(err, &shErr) {
		msg := strings.ToLower(shErr.Message)
		switch {
		case strings.Contains(msg, "not found"), strings.Contains(msg, "no link named"), strings.Contains(msg, "not pinned"):
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case strings.Contains(msg, "invalid"), strings.Contains(msg, "selected encoding not supported"):
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
