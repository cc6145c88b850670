package provider

import (
	"context"
	"strings"

	appErrors "github.com/unclebandit/zapdispatch/internal/errors"
	"github.com/unclebandit/zapdispatch/internal/model"
)

// SessionClient drives a direct-protocol gateway. The address is a phone
// number or a remote group id; the gateway tells them apart.
type SessionClient interface {
	ConnectionState(ctx context.Context, instance string) (string, error)
	SendText(ctx context.Context, instance, to, body string) (Receipt, error)
	SendMedia(ctx context.Context, instance, to string, media model.Content) (Receipt, error)
}

// SessionAdapter sends over the live session of one named instance. It can
// address groups as well as individuals.
type SessionAdapter struct {
	Client   SessionClient
	Instance string
}

func NewSession(client SessionClient, instance string) *SessionAdapter {
	return &SessionAdapter{Client: client, Instance: instance}
}

func (a *SessionAdapter) Name() model.Provider { return model.ProviderDirect }

func (a *SessionAdapter) Connected(ctx context.Context) (bool, error) {
	state, err := a.Client.ConnectionState(ctx, a.Instance)
	if err != nil {
		return false, wrapTransport(a.Name(), "connection state", err)
	}
	return isConnected(state), nil
}

func (a *SessionAdapter) SendText(ctx context.Context, to model.ResolvedTarget, body string) (Receipt, error) {
	if err := a.requireConnected(ctx); err != nil {
		return Receipt{}, err
	}
	r, err := a.Client.SendText(ctx, a.Instance, to.Address, body)
	return r, wrapTransport(a.Name(), "send text", err)
}

func (a *SessionAdapter) SendMedia(ctx context.Context, to model.ResolvedTarget, media model.Content) (Receipt, error) {
	if err := a.requireConnected(ctx); err != nil {
		return Receipt{}, err
	}
	r, err := a.Client.SendMedia(ctx, a.Instance, to.Address, media)
	return r, wrapTransport(a.Name(), "send media", err)
}

func (a *SessionAdapter) requireConnected(ctx context.Context) error {
	state, err := a.Client.ConnectionState(ctx, a.Instance)
	if err != nil {
		return wrapTransport(a.Name(), "connection state", err)
	}
	if !isConnected(state) {
		return appErrors.NewInstanceNotConnected(a.Instance, state)
	}
	return nil
}

func isConnected(state string) bool {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "open", "connected":
		return true
	}
	return false
}

var _ Adapter = (*SessionAdapter)(nil)
var _ Connectivity = (*SessionAdapter)(nil)
