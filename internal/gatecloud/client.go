// Package gatecloud is the Gate's outbound HTTP client to the Cloud,
// grounded on original_source/gate-node/gate_app.py's requests.get/post
// calls, each with the exact per-call timeout spec.md §5 names: health
// 1.5s, upload 10s, mutation 5-8s, snapshot 5s.
package gatecloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

const (
	healthTimeout   = 1500 * time.Millisecond
	uploadTimeout   = 10 * time.Second
	mutationTimeout = 8 * time.Second
	snapshotTimeout = 5 * time.Second
)

// Client talks to one Cloud base URL with a shared bearer token.
type Client struct {
	BaseURL string
	Token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{BaseURL: baseURL, Token: token, http: &http.Client{}}
}

func (c *Client) do(ctx context.Context, timeout time.Duration, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return c.http.Do(req)
}

// Healthy reports whether GET /health answered with status 200 within 1.5s.
// The response body is not inspected.
func (c *Client) Healthy(ctx context.Context) bool {
	resp, err := c.do(ctx, healthTimeout, http.MethodGet, "/health", nil, "")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// UploadImage posts raw bytes to /upload_image_{in,out} and returns the
// cloud-assigned path.
func (c *Client) UploadImage(ctx context.Context, kind, plate string, data []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("plate", plate); err != nil {
		return "", err
	}
	part, err := w.CreateFormFile("image", plate+".jpg")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	resp, err := c.do(ctx, uploadTimeout, http.MethodPost, "/upload_image_"+kind, &buf, w.FormDataContentType())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload_image_%s: status %d", kind, resp.StatusCode)
	}
	var out struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Path, nil
}

// MutationResult is the shape every vehicle_in/vehicle_out response shares.
type MutationResult struct {
	OK       bool `json:"ok"`
	Dedup    bool `json:"dedup"`
	Conflict bool `json:"-"`
}

// VehicleIn pushes one vehicle_in event. A 409 response is reported as
// Conflict, not an error, so the caller can decide to mark the event done
// and surface a reconciliation report.
func (c *Client) VehicleIn(ctx context.Context, plate, gate, slot, imgIn, eventID string) (MutationResult, error) {
	body, _ := json.Marshal(map[string]string{
		"plate": plate, "gate": gate, "slot": slot, "img_in": imgIn, "event_id": eventID,
	})
	return c.postMutation(ctx, "/vehicle_in", body)
}

// VehicleOut pushes one vehicle_out event.
func (c *Client) VehicleOut(ctx context.Context, plate, gate, imgOut, eventID string) (MutationResult, error) {
	body, _ := json.Marshal(map[string]string{
		"plate": plate, "gate": gate, "img_out": imgOut, "event_id": eventID,
	})
	return c.postMutation(ctx, "/vehicle_out", body)
}

func (c *Client) postMutation(ctx context.Context, path string, body []byte) (MutationResult, error) {
	resp, err := c.do(ctx, mutationTimeout, http.MethodPost, path, bytes.NewReader(body), "application/json")
	if err != nil {
		return MutationResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusConflict {
		return MutationResult{Conflict: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return MutationResult{}, fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	var out MutationResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return MutationResult{}, err
	}
	return out, nil
}

// RemoteSlot is the shape of one row in GET /slots/map.
type RemoteSlot struct {
	SlotID   string  `json:"slotid"`
	Zone     string  `json:"zone"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Occupied bool    `json:"occupied"`
	Plate    *string `json:"plate"`
	Version  int     `json:"version"`
}

// SlotsMap fetches the authoritative slot snapshot.
func (c *Client) SlotsMap(ctx context.Context) ([]RemoteSlot, error) {
	resp, err := c.do(ctx, snapshotTimeout, http.MethodGet, "/slots/map", nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("slots/map: status %d", resp.StatusCode)
	}
	var out struct {
		Slots []RemoteSlot `json:"slots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Slots, nil
}
