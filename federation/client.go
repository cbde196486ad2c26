package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/expnotify/key-distribution-backend/interfaces"
)

const dateLayout = "2006-01-02"

// DownloadResponse is one page of keys returned by the remote download
// endpoint. The batch tag identifies the page and doubles as the resumption
// cursor.
type DownloadResponse struct {
	BatchTag  string                             `json:"batchTag"`
	Exposures []interfaces.FederationExposureKey `json:"exposures"`
}

// UploadRequest is the body of an upload call. Payload is the JWS compact
// serialization of the batch.
type UploadRequest struct {
	BatchTag string `json:"batchTag"`
	Payload  string `json:"payload"`
}

// UploadResponse reports how many exposures the remote server inserted.
type UploadResponse struct {
	BatchTag          string `json:"batchTag"`
	InsertedExposures int    `json:"insertedExposures"`
}

// Downloader fetches batches from the remote server.
type Downloader interface {
	Download(ctx context.Context, date time.Time, batchTag string) (*DownloadResponse, error)
}

// Uploader posts signed batches to the remote server.
type Uploader interface {
	Upload(ctx context.Context, batchTag, payload string) (*UploadResponse, error)
}

// Client speaks the interoperability wire protocol to one remote server.
type Client struct {
	baseURL   string
	authToken string
	client    *http.Client
}

// NewClient creates a client for the given endpoint. The auth token is sent
// as a bearer token on every request.
func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Download fetches the next batch for a calendar day. A non-empty batchTag
// requests the page following that tag. A nil response with a nil error means
// the day is exhausted (remote answered no-content).
func (c *Client) Download(ctx context.Context, date time.Time, batchTag string) (*DownloadResponse, error) {
	u := fmt.Sprintf("%s/diagnosiskeys/download/%s", c.baseURL, date.UTC().Format(dateLayout))
	if batchTag != "" {
		u += "?batchTag=" + url.QueryEscape(batchTag)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("federation download request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("federation download returned status %d", resp.StatusCode)
	}

	var batch DownloadResponse
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("failed to decode federation download response: %w", err)
	}
	return &batch, nil
}

// Upload posts one signed batch. Any non-200 status or undecodable body is an
// error; the caller must not advance its watermark in that case.
func (c *Client) Upload(ctx context.Context, batchTag, payload string) (*UploadResponse, error) {
	body, err := json.Marshal(UploadRequest{BatchTag: batchTag, Payload: payload})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/diagnosiskeys/upload", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("federation upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("federation upload returned status %d", resp.StatusCode)
	}

	var result UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode federation upload response: %w", err)
	}
	return &result, nil
}
