package segmentation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	ProviderRembg    = "rembg"
	ProviderRemoveBG = "removebg"

	defaultRemoveBGURL = "https://api.remove.bg/v1.0/removebg"
	maxResponseBytes   = 32 << 20
	maxErrorBodyBytes  = 512
)

// ErrResponseTooLarge is returned when a provider answers with more bytes
// than the read limit.
var ErrResponseTooLarge = errors.New("segmentation: response too large")

// ErrMissingAPIKey indicates that a hosted provider was configured without credentials.
var ErrMissingAPIKey = errors.New("segmentation: api key is required")

// HTTPOptions configures an HTTP-backed provider.
type HTTPOptions struct {
	BaseURL        string
	APIKey         string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

func (o HTTPOptions) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	timeout := o.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Rembg talks to a self-hosted rembg server (`rembg s`).
type Rembg struct {
	endpoint   string
	httpClient *http.Client
}

// NewRembg returns a provider posting to {BaseURL}/api/remove.
func NewRembg(opts HTTPOptions) (*Rembg, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("rembg: base url is required")
	}
	return &Rembg{endpoint: base + "/api/remove", httpClient: opts.client()}, nil
}

func (r *Rembg) Name() string { return ProviderRembg }

func (r *Rembg) Segment(ctx context.Context, image []byte) ([]byte, error) {
	body, contentType, err := multipartImage("file", image, nil)
	if err != nil {
		return nil, fmt.Errorf("rembg: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("rembg: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return doImageRequest(r.httpClient, req, "rembg", maxResponseBytes)
}

// RemoveBG calls the hosted remove.bg API.
type RemoveBG struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewRemoveBG returns ErrMissingAPIKey when no key is configured so callers
// can leave the provider out of the chain.
func NewRemoveBG(opts HTTPOptions) (*RemoveBG, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	endpoint := strings.TrimSpace(opts.BaseURL)
	if endpoint == "" {
		endpoint = defaultRemoveBGURL
	}
	return &RemoveBG{endpoint: endpoint, apiKey: key, httpClient: opts.client()}, nil
}

func (r *RemoveBG) Name() string { return ProviderRemoveBG }

func (r *RemoveBG) Segment(ctx context.Context, image []byte) ([]byte, error) {
	body, contentType, err := multipartImage("image_file", image, map[string]string{"size": "auto"})
	if err != nil {
		return nil, fmt.Errorf("removebg: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("removebg: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Api-Key", r.apiKey)
	return doImageRequest(r.httpClient, req, "removebg", maxResponseBytes)
}

func multipartImage(field string, image []byte, fields map[string]string) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	part, err := mw.CreateFormFile(field, "image.png")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", fmt.Errorf("write form file: %w", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return buf, mw.FormDataContentType(), nil
}

func doImageRequest(client *http.Client, req *http.Request, name string, limit int64) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: http request: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes+1))
		msg := strings.TrimSpace(string(body))
		if len(body) > maxErrorBodyBytes {
			msg = strings.TrimSpace(string(body[:maxErrorBodyBytes])) + "..."
		}
		return nil, fmt.Errorf("%s: status %d: %s", name, resp.StatusCode, msg)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", name, err)
	}
	if int64(len(raw)) > limit {
		return nil, fmt.Errorf("%s: %w (limit %d bytes)", name, ErrResponseTooLarge, limit)
	}
	return raw, nil
}
