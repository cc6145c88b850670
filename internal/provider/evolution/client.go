// Package evolution is a client for a REST gateway in front of a
// multi-device protocol session (Evolution API style).
package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appErrors "github.com/unclebandit/zapdispatch/internal/errors"
	"github.com/unclebandit/zapdispatch/internal/model"
	"github.com/unclebandit/zapdispatch/internal/provider"
)

const providerName = string(model.ProviderDirect)

type Config struct {
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Instance string `yaml:"instance"`
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, http: httpClient}
}

type stateResponse struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance"`
}

type sendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	Status string `json:"status"`
}

func (c *Client) ConnectionState(ctx context.Context, instance string) (string, error) {
	var out stateResponse
	if err := c.do(ctx, http.MethodGet, "/instance/connectionState/"+url.PathEscape(instance), nil, &out); err != nil {
		return "", err
	}
	return out.Instance.State, nil
}

func (c *Client) SendText(ctx context.Context, instance, to, body string) (provider.Receipt, error) {
	payload := map[string]any{"number": to, "text": body}
	return c.send(ctx, "/message/sendText/"+url.PathEscape(instance), payload)
}

func (c *Client) SendMedia(ctx context.Context, instance, to string, media model.Content) (provider.Receipt, error) {
	if media.Type == model.ContentAudio {
		payload := map[string]any{"number": to, "audio": media.MediaURL}
		return c.send(ctx, "/message/sendWhatsAppAudio/"+url.PathEscape(instance), payload)
	}
	payload := map[string]any{
		"number":    to,
		"mediatype": string(media.Type),
		"media":     media.MediaURL,
		"caption":   media.Body,
	}
	if media.FileName != "" {
		payload["fileName"] = media.FileName
	}
	return c.send(ctx, "/message/sendMedia/"+url.PathEscape(instance), payload)
}

func (c *Client) send(ctx context.Context, path string, payload any) (provider.Receipt, error) {
	var out sendResponse
	if err := c.do(ctx, http.MethodPost, path, payload, &out); err != nil {
		return provider.Receipt{}, err
	}
	if out.Key.ID == "" {
		return provider.Receipt{}, appErrors.NewTransport(providerName, "response without message id", nil)
	}
	return provider.Receipt{MessageID: out.Key.ID, Status: mapStatus(out.Status)}, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.cfg.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return appErrors.NewTransport(providerName, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return appErrors.NewTransport(providerName, "read response", err)
	}
	if resp.StatusCode >= 300 {
		return appErrors.NewTransport(providerName, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))), nil)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return appErrors.NewTransport(providerName, "decode response", err)
	}
	return nil
}

func mapStatus(s string) string {
	switch strings.ToUpper(s) {
	case "", "PENDING":
		return provider.StatusQueued
	case "SERVER_ACK":
		return provider.StatusSent
	case "DELIVERY_ACK", "READ", "PLAYED":
		return provider.StatusDelivered
	case "ERROR":
		return provider.StatusFailed
	}
	return provider.StatusQueued
}

var _ provider.SessionClient = (*Client)(nil)
