// Package maprepo is the shared map repository: an HTTP service storing
// custom maps by content hash, and the client lobbies use to reach it.
// Map bodies travel zstd-compressed in both directions.
package maprepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/klauspost/compress/zstd"
)

var ErrNotFound = errors.New("map not found in repository")

const (
	contentEncoding = "zstd"
	maxMapSize      = 4 << 20
)

type Client struct {
	base string
	http *http.Client
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

func NewClient(baseURL string, hc *http.Client) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("map repository url: %w", err)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxMapSize))
	if err != nil {
		return nil, err
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc, enc: enc, dec: dec}, nil
}

func (c *Client) mapURL(hash string) string {
	return c.base + "/maps/" + url.PathEscape(hash)
}

func (c *Client) Upload(ctx context.Context, hash string, data []byte) error {
	body := c.enc.EncodeAll(data, nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.mapURL(hash), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Encoding", contentEncoding)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("uploading map %s: %w", hash, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("uploading map %s: %s: %s", hash, resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}

func (c *Client) Download(ctx context.Context, hash string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.mapURL(hash), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", contentEncoding)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading map %s: %w", hash, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", hash, ErrNotFound)
	default:
		return nil, fmt.Errorf("downloading map %s: %s", hash, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMapSize))
	if err != nil {
		return nil, fmt.Errorf("downloading map %s: %w", hash, err)
	}
	if resp.Header.Get("Content-Encoding") != contentEncoding {
		return body, nil
	}
	data, err := c.dec.DecodeAll(body, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing map %s: %w", hash, err)
	}
	return data, nil
}
