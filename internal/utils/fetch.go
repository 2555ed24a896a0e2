package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrPayloadTooLarge reports that a remote payload exceeded the caller's size
// limit. Callers distinguish it from transport failures with errors.Is.
var ErrPayloadTooLarge = errors.New("payload exceeds size limit")

// FetchRemote downloads a payload over HTTP(S) and returns the body together
// with the response content type. maxBytes bounds the download when positive;
// exceeding it returns ErrPayloadTooLarge. Cancellation and deadlines come
// from ctx.
func FetchRemote(ctx context.Context, rawURL string, maxBytes int64) ([]byte, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, "", fmt.Errorf("parse url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported url scheme %q", parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch remote payload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch remote payload: http %d", resp.StatusCode)
	}

	reader := io.Reader(resp.Body)
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", fmt.Errorf("read remote payload: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("remote payload over %d bytes: %w", maxBytes, ErrPayloadTooLarge)
	}
	if len(data) == 0 {
		return nil, "", errors.New("remote payload empty")
	}

	return data, resp.Header.Get("Content-Type"), nil
}
