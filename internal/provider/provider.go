// Package provider defines the send capability shared by every messaging
// transport and the two adapters built on it.
package provider

import (
	"context"
	"errors"

	appErrors "github.com/unclebandit/zapdispatch/internal/errors"
	"github.com/unclebandit/zapdispatch/internal/model"
)

// Provider-reported delivery statuses.
const (
	StatusQueued    = "queued"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Receipt is what a provider answers for an accepted message.
type Receipt struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type Adapter interface {
	Name() model.Provider
	SendText(ctx context.Context, to model.ResolvedTarget, body string) (Receipt, error)
	SendMedia(ctx context.Context, to model.ResolvedTarget, media model.Content) (Receipt, error)
}

// TemplateSender is implemented by adapters that support approved templates.
type TemplateSender interface {
	SendTemplate(ctx context.Context, to model.ResolvedTarget, name, language string, params []string) (Receipt, error)
}

// Connectivity is implemented by adapters that run over a live session.
type Connectivity interface {
	Connected(ctx context.Context) (bool, error)
}

// Send routes content to the matching capability of an adapter.
func Send(ctx context.Context, a Adapter, to model.ResolvedTarget, c model.Content) (Receipt, error) {
	switch {
	case c.Type == model.ContentText:
		return a.SendText(ctx, to, c.Body)
	case c.Type.IsMedia():
		return a.SendMedia(ctx, to, c)
	case c.Type == model.ContentTemplate:
		ts, ok := a.(TemplateSender)
		if !ok {
			return Receipt{}, appErrors.NewTransport(string(a.Name()), "templates not supported by this provider", nil)
		}
		return ts.SendTemplate(ctx, to, c.TemplateName, c.TemplateLanguage, c.TemplateParams)
	}
	return Receipt{}, appErrors.NewTransport(string(a.Name()), "unknown content type "+string(c.Type), nil)
}

// wrapTransport keeps typed errors from the client and wraps everything else.
func wrapTransport(p model.Provider, op string, err error) error {
	if err == nil {
		return nil
	}
	var te *appErrors.TransportError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return appErrors.NewTransport(string(p), op+": send timed out", err)
	}
	return appErrors.NewTransport(string(p), op, err)
}
