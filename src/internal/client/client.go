// Package client talks to a running molecule lab server over its REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"molecule-lab/src/internal/export"
	"molecule-lab/src/internal/interaction"
	"molecule-lab/src/internal/molecule"
)

type Client struct {
	BaseURL   string
	ServerKey string
	AdminUser string
	AdminPass string
	HTTP      *http.Client
}

// StatusError is a non-200 reply. Message is the server's "error" field
// when it sent one.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

func New(baseURL, serverKey string) *Client {
	return &Client{BaseURL: baseURL, ServerKey: serverKey, HTTP: &http.Client{}}
}

func (c *Client) do(ctx context.Context, method, path string, body any, admin bool) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ServerKey != "" {
		req.Header.Set("X-Server-Key", c.ServerKey)
	}
	if admin && c.AdminUser != "" && c.AdminPass != "" {
		req.SetBasicAuth(c.AdminUser, c.AdminPass)
	}

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		var e struct {
			Error string `json:"error"`
		}
		msg := string(raw)
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return nil, &StatusError{Code: resp.StatusCode, Message: msg}
	}
	return resp, nil
}

func (c *Client) Generate(ctx context.Context, query string) (*molecule.Record, *molecule.Stats, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/molecules", map[string]string{"query": query}, false)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var res struct {
		Record *molecule.Record `json:"record"`
		Stats  molecule.Stats   `json:"stats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, nil, fmt.Errorf("decode record: %w", err)
	}
	if res.Record == nil {
		return nil, nil, errors.New("server returned no record")
	}
	return res.Record, &res.Stats, nil
}

// Export fetches the lab report for rec, or for query when rec is nil.
func (c *Client) Export(ctx context.Context, rec *molecule.Record, query string) (*export.Document, error) {
	body := map[string]any{}
	if rec != nil {
		body["record"] = rec
	} else {
		body["query"] = query
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/export", body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	name := ""
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		name = params["filename"]
	}
	if name == "" {
		name = export.Filename("")
	}
	return &export.Document{Filename: name, Content: content}, nil
}

func (c *Client) Snapshot(ctx context.Context, rec *molecule.Record, v interaction.ViewTransform, w, h int) ([]byte, error) {
	body := map[string]any{
		"record":   rec,
		"yaw":      v.Yaw,
		"pitch":    v.Pitch,
		"distance": v.Distance,
		"width":    w,
		"height":   h,
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/snapshot", body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// GetConfig returns the server config as raw JSON.
func (c *Client) GetConfig(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/admin/v1/config", nil, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
