package provider

import (
	"context"

	appErrors "github.com/unclebandit/zapdispatch/internal/errors"
	"github.com/unclebandit/zapdispatch/internal/model"
	"github.com/unclebandit/zapdispatch/internal/phone"
)

// OfficialClient is the business-messaging API the official adapter drives.
type OfficialClient interface {
	SendText(ctx context.Context, to, body string) (Receipt, error)
	SendMedia(ctx context.Context, to string, media model.Content) (Receipt, error)
	SendTemplate(ctx context.Context, to, name, language string, params []string) (Receipt, error)
}

// OfficialAdapter serves individual recipients only. Every number must pass
// phone validation before the client is called.
type OfficialAdapter struct {
	Client OfficialClient
}

func NewOfficial(client OfficialClient) *OfficialAdapter {
	return &OfficialAdapter{Client: client}
}

func (a *OfficialAdapter) Name() model.Provider { return model.ProviderOfficial }

func (a *OfficialAdapter) SendText(ctx context.Context, to model.ResolvedTarget, body string) (Receipt, error) {
	if err := a.check(to); err != nil {
		return Receipt{}, err
	}
	r, err := a.Client.SendText(ctx, to.Address, body)
	return r, wrapTransport(a.Name(), "send text", err)
}

func (a *OfficialAdapter) SendMedia(ctx context.Context, to model.ResolvedTarget, media model.Content) (Receipt, error) {
	if err := a.check(to); err != nil {
		return Receipt{}, err
	}
	r, err := a.Client.SendMedia(ctx, to.Address, media)
	return r, wrapTransport(a.Name(), "send media", err)
}

func (a *OfficialAdapter) SendTemplate(ctx context.Context, to model.ResolvedTarget, name, language string, params []string) (Receipt, error) {
	if err := a.check(to); err != nil {
		return Receipt{}, err
	}
	r, err := a.Client.SendTemplate(ctx, to.Address, name, language, params)
	return r, wrapTransport(a.Name(), "send template", err)
}

func (a *OfficialAdapter) check(to model.ResolvedTarget) error {
	if to.Kind != model.TargetIndividual {
		return appErrors.NewUnsupportedTarget(string(a.Name()), string(to.Kind))
	}
	if ok, reason := phone.Validate(to.Address); !ok {
		return appErrors.NewInvalidPhone(to.Address, reason)
	}
	return nil
}

var _ Adapter = (*OfficialAdapter)(nil)
var _ TemplateSender = (*OfficialAdapter)(nil)
