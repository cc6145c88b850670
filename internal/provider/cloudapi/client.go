// Package cloudapi is a thin client for the official WhatsApp business
// messaging API (Graph "messages" endpoint).
package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	appErrors "github.com/unclebandit/zapdispatch/internal/errors"
	"github.com/unclebandit/zapdispatch/internal/model"
	"github.com/unclebandit/zapdispatch/internal/provider"
)

const providerName = string(model.ProviderOfficial)

type Config struct {
	BaseURL       string `yaml:"base_url"`
	APIVersion    string `yaml:"api_version"`
	PhoneNumberID string `yaml:"phone_number_id"`
	Token         string `yaml:"token"`
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://graph.facebook.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v19.0"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, http: httpClient}
}

type textBody struct {
	Body string `json:"body"`
}

type mediaBody struct {
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type templateParam struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type templateComponent struct {
	Type       string          `json:"type"`
	Parameters []templateParam `json:"parameters"`
}

type templateBody struct {
	Name     string `json:"name"`
	Language struct {
		Code string `json:"code"`
	} `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type messageRequest struct {
	MessagingProduct string        `json:"messaging_product"`
	RecipientType    string        `json:"recipient_type"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Text             *textBody     `json:"text,omitempty"`
	Image            *mediaBody    `json:"image,omitempty"`
	Video            *mediaBody    `json:"video,omitempty"`
	Document         *mediaBody    `json:"document,omitempty"`
	Audio            *mediaBody    `json:"audio,omitempty"`
	Template         *templateBody `json:"template,omitempty"`
}

type messageResponse struct {
	Messages []struct {
		ID     string `json:"id"`
		Status string `json:"message_status"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func newRequest(to, typ string) messageRequest {
	return messageRequest{MessagingProduct: "whatsapp", RecipientType: "individual", To: to, Type: typ}
}

func (c *Client) SendText(ctx context.Context, to, body string) (provider.Receipt, error) {
	req := newRequest(to, "text")
	req.Text = &textBody{Body: body}
	return c.post(ctx, req)
}

func (c *Client) SendMedia(ctx context.Context, to string, media model.Content) (provider.Receipt, error) {
	req := newRequest(to, string(media.Type))
	m := &mediaBody{Link: media.MediaURL, Caption: media.Body}
	switch media.Type {
	case model.ContentImage:
		req.Image = m
	case model.ContentVideo:
		req.Video = m
	case model.ContentDocument:
		m.Filename = media.FileName
		req.Document = m
	case model.ContentAudio:
		m.Caption = ""
		req.Audio = m
	default:
		return provider.Receipt{}, appErrors.NewTransport(providerName, "unsupported media type "+string(media.Type), nil)
	}
	return c.post(ctx, req)
}

func (c *Client) SendTemplate(ctx context.Context, to, name, language string, params []string) (provider.Receipt, error) {
	req := newRequest(to, "template")
	tpl := &templateBody{Name: name}
	tpl.Language.Code = language
	if tpl.Language.Code == "" {
		tpl.Language.Code = "pt_BR"
	}
	if len(params) > 0 {
		comp := templateComponent{Type: "body"}
		for _, p := range params {
			comp.Parameters = append(comp.Parameters, templateParam{Type: "text", Text: p})
		}
		tpl.Components = []templateComponent{comp}
	}
	req.Template = tpl
	return c.post(ctx, req)
}

func (c *Client) post(ctx context.Context, payload messageRequest) (provider.Receipt, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return provider.Receipt{}, err
	}
	url := fmt.Sprintf("%s/%s/%s/messages", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.APIVersion, c.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return provider.Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return provider.Receipt{}, appErrors.NewTransport(providerName, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return provider.Receipt{}, appErrors.NewTransport(providerName, "read response", err)
	}

	var out messageResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode == http.StatusTooManyRequests {
		return provider.Receipt{}, appErrors.NewTransport(providerName, "rate limited by provider (HTTP 429)", nil)
	}
	if resp.StatusCode >= 300 || out.Error != nil {
		detail := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if out.Error != nil {
			detail = fmt.Sprintf("%s: code %d: %s", detail, out.Error.Code, out.Error.Message)
		}
		return provider.Receipt{}, appErrors.NewTransport(providerName, detail, nil)
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return provider.Receipt{}, appErrors.NewTransport(providerName, "response without message id", nil)
	}

	return provider.Receipt{MessageID: out.Messages[0].ID, Status: mapStatus(out.Messages[0].Status)}, nil
}

func mapStatus(s string) string {
	switch strings.ToLower(s) {
	case "", "accepted", "held_for_quality_assessment":
		return provider.StatusQueued
	case "sent":
		return provider.StatusSent
	case "delivered", "read":
		return provider.StatusDelivered
	case "failed":
		return provider.StatusFailed
	}
	return provider.StatusQueued
}

var _ provider.OfficialClient = (*Client)(nil)
