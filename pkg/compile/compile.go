// Package compile talks to the external typesetting service. The engine
// assembles a request from a project's documents and forwards the service's
// JSON response verbatim to the caller.
package compile

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/webtexlab/webtexd/pkg/assets"
	"github.com/webtexlab/webtexd/pkg/project"
)

// Request is the payload the compile service accepts: text files inline,
// binary assets base64-encoded.
type Request struct {
	Files    map[string]string `json:"files"`
	Assets   map[string]string `json:"assets"`
	MainFile string            `json:"mainFile"`
	Compiler string            `json:"compiler"`
}

// Client calls the compile service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient returns a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// BuildRequest assembles a compile request from a project snapshot: document
// text inline, asset bytes fetched from the asset store. Assets that have
// gone missing on disk — or every asset, when no store is configured — are
// skipped rather than failing the compile.
func (c *Client) BuildRequest(snap project.Snapshot, store *assets.Store, compiler string) Request {
	req := Request{
		Files:    map[string]string{},
		Assets:   map[string]string{},
		MainFile: snap.MainFile,
		Compiler: snap.Compiler,
	}
	if compiler != "" {
		req.Compiler = compiler
	}
	for name, f := range snap.Files {
		if f.IsAsset {
			if store == nil {
				continue
			}
			data, err := store.Get(snap.ID, name)
			if err != nil {
				if !os.IsNotExist(err) && c.logger != nil {
					c.logger.Warn("failed to read asset", "project", snap.ID, "file", name, "err", err)
				}
				continue
			}
			req.Assets[name] = base64.StdEncoding.EncodeToString(data)
			continue
		}
		req.Files[name] = f.Content
	}
	return req
}

// Compile posts the request and returns the service's response body
// unmodified. A transport-level failure is returned as an error; the caller
// surfaces it as {success:false, message}.
func (c *Client) Compile(ctx context.Context, req Request) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode compile request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/compile", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build compile request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("compile service unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read compile response: %w", err)
	}
	if c.logger != nil {
		c.logger.Info("compiled", "main", req.MainFile, "compiler", req.Compiler, "status", resp.StatusCode, "bytes", len(raw))
	}
	return raw, nil
}
