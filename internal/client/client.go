// Package client talks to the marketplace image endpoints. Besides the
// plain API client it holds the upload Widget and the signed-URL
// Refresher that listing editors and galleries are built on.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// Client calls the image endpoints of a marketplace API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sets the admin bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// File is a local file selected for upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Size returns the file size in bytes.
func (f File) Size() int64 { return int64(len(f.Data)) }

// UploadedImage describes one stored image.
type UploadedImage struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

// UploadResult is the response of a successful upload.
type UploadResult struct {
	BatchID string          `json:"batchId"`
	Images  []UploadedImage `json:"images"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// Upload sends files as one batch for carID.
func (c *Client) Upload(ctx context.Context, carID, batchID string, files []File) (*UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("carId", carID); err != nil {
		return nil, fmt.Errorf("write carId: %w", err)
	}
	if batchID != "" {
		if err := mw.WriteField("batchId", batchID); err != nil {
			return nil, fmt.Errorf("write batchId: %w", err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename="%s"`, quoteEscaper.Replace(f.Name)))
		h.Set("Content-Type", f.ContentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("create part %q: %w", f.Name, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("write part %q: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/images/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		Success bool `json:"success"`
		UploadResult
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "upload was not successful"}
	}
	return &out.UploadResult, nil
}

// DeleteImage deletes the object stored under key.
func (c *Client) DeleteImage(ctx context.Context, key string) error {
	req, err := c.jsonRequest(ctx, http.MethodDelete, "/api/images/delete", map[string]string{"imageKey": key})
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// DeleteImageURL deletes the object imageURL points to. The server maps
// the URL back to the full object key.
func (c *Client) DeleteImageURL(ctx context.Context, imageURL string) error {
	req, err := c.jsonRequest(ctx, http.MethodDelete, "/api/images/delete", map[string]string{"imageUrl": imageURL})
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// SignedURL asks the server to sign a fresh read URL for imageURL.
func (c *Client) SignedURL(ctx context.Context, imageURL string) (string, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, "/api/images/signed-url", map[string]string{"imageUrl": imageURL})
	if err != nil {
		return "", err
	}

	var out struct {
		Success   bool   `json:"success"`
		SignedURL string `json:"signedUrl"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if !out.Success || out.SignedURL == "" {
		return "", &APIError{StatusCode: http.StatusOK, Message: "no signed url in response"}
	}
	return out.SignedURL, nil
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func (c *Client) jsonRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do sends req and decodes a 2xx body into out, when out is non-nil.
func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &e)
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
