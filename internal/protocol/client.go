package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/abuss/syncpair/internal/model"
	"github.com/abuss/syncpair/internal/scanner"
	"github.com/abuss/syncpair/internal/syncerr"
)

// RequestIDHeader carries a client-generated correlation id, echoed back
// by the coordinator in its response. Neither end writes it to its logs.
const RequestIDHeader = "X-Sync-Request-Id"

// FileInfoHeader carries FileInfo metadata alongside a raw upload/download
// body, so the body itself need not be wrapped/base64-encoded.
const FileInfoHeader = "X-File-Info"

// Client is the participant-side HTTP client for the four sync
// operations, grounded on the teacher's internal/sync.Client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

func (c *Client) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func newRequestID() string {
	return uuid.NewString()
}

// Negotiate calls the coordinator's sync endpoint.
func (c *Client) Negotiate(ctx context.Context, req SyncRequest) (*SyncResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, NegotiateTimeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, syncerr.New(syncerr.ProtocolSchema, "Negotiate", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/sync", bytes.NewReader(body))
	if err != nil {
		return nil, syncerr.New(syncerr.TransportUnavailable, "Negotiate", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(RequestIDHeader, newRequestID())
	c.setAuth(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr("Negotiate", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusErr("Negotiate", resp)
	}

	var out SyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, syncerr.New(syncerr.ProtocolSchema, "Negotiate", err)
	}
	return &out, nil
}

// Upload streams body to the coordinator as the content of fi.Path.
func (c *Client) Upload(ctx context.Context, ref DirectoryRef, fi model.FileInfo, body io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, UploadTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/files/%s/%s", c.baseURL, ref.Key(), fi.Path)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return syncerr.New(syncerr.TransportUnavailable, "Upload", err)
	}
	meta, err := json.Marshal(UploadRequest{
		DirectoryRef: ref,
		Path:         fi.Path,
		Hash:         fi.Hash,
		Modified:     ToMillis(fi.Modified),
	})
	if err != nil {
		return syncerr.New(syncerr.ProtocolSchema, "Upload", err)
	}
	httpReq.Header.Set(FileInfoHeader, string(meta))
	httpReq.Header.Set(RequestIDHeader, newRequestID())
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	c.setAuth(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return classifyTransportErr("Upload", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return syncerr.New(syncerr.IntegrityMismatch, "Upload", fmt.Errorf("hash mismatch for %s", fi.Path))
	}
	if resp.StatusCode != http.StatusOK {
		return httpStatusErr("Upload", resp)
	}
	return nil
}

// Download fetches relPath's content and metadata. The body is read in full
// within DownloadTimeout; checking its hash is left to the caller (see
// VerifyDownload).
func (c *Client) Download(ctx context.Context, ref DirectoryRef, relPath string) (model.FileInfo, io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, DownloadTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/files/%s/%s", c.baseURL, ref.Key(), relPath)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.FileInfo{}, nil, syncerr.New(syncerr.TransportUnavailable, "Download", err)
	}
	httpReq.Header.Set(RequestIDHeader, newRequestID())
	c.setAuth(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return model.FileInfo{}, nil, classifyTransportErr("Download", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return model.FileInfo{}, nil, httpStatusErr("Download", resp)
	}

	var fi model.FileInfo
	if raw := resp.Header.Get(FileInfoHeader); raw != "" {
		if err := json.Unmarshal([]byte(raw), &fi); err != nil {
			resp.Body.Close()
			return model.FileInfo{}, nil, syncerr.New(syncerr.ProtocolSchema, "Download", err)
		}
	}
	// Read the body before cancel runs: the request context governs the
	// body too, so a body returned unread would fail once it is canceled.
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return model.FileInfo{}, nil, classifyTransportErr("Download", err)
	}
	return fi, io.NopCloser(bytes.NewReader(data)), nil
}

// VerifyDownload re-hashes downloaded bytes against fi.Hash, returning
// IntegrityMismatch on mismatch per spec.md §7 (discard, log, requeue).
func VerifyDownload(fi model.FileInfo, data []byte) error {
	got, err := scanner.HashReader(bytes.NewReader(data))
	if err != nil {
		return syncerr.New(syncerr.StorageIO, "VerifyDownload", err)
	}
	if got != fi.Hash {
		return syncerr.New(syncerr.IntegrityMismatch, "VerifyDownload", fmt.Errorf("expected %s, got %s", fi.Hash, got))
	}
	return nil
}

// Delete instructs the coordinator to delete relPath and record a
// tombstone at instant (or now, whichever the server computes max of).
func (c *Client) Delete(ctx context.Context, ref DirectoryRef, relPath string, instant *int64) error {
	ctx, cancel := context.WithTimeout(ctx, UploadTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/files/%s/%s", c.baseURL, ref.Key(), relPath)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return syncerr.New(syncerr.TransportUnavailable, "Delete", err)
	}
	if instant != nil {
		httpReq.Header.Set("X-Delete-Instant", fmt.Sprintf("%d", *instant))
	}
	httpReq.Header.Set(RequestIDHeader, newRequestID())
	c.setAuth(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return classifyTransportErr("Delete", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return httpStatusErr("Delete", resp)
	}
	return nil
}

func classifyTransportErr(op string, err error) error {
	if isTimeout(err) {
		return syncerr.New(syncerr.TransportTimeout, op, err)
	}
	return syncerr.New(syncerr.TransportUnavailable, op, err)
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return strings.Contains(err.Error(), "deadline exceeded") || strings.Contains(err.Error(), "context canceled")
}

func httpStatusErr(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return syncerr.New(syncerr.ProtocolSchema, op, fmt.Errorf("%s: %s", resp.Status, string(body)))
}
