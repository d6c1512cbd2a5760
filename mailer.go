package auth

import (
	"context"

	"github.com/goliatone/go-errors"
	template "github.com/goliatone/go-template"
)

// Mail template names rendered by the default mailer. The plaintext secret
// is injected under the "secret" key and appears nowhere else.
const (
	MailTemplateVerification  = "verification"
	MailTemplateVerified      = "account_verified"
	MailTemplatePasswordReset = "password_reset"
)

// TemplateMailer renders mail bodies with go-template and hands them to a
// delivery function. The default delivery function only logs the target
// address and template name; deployments inject SMTP or an API-backed
// sender.
type TemplateMailer struct {
	renderer *template.Engine
	deliver  func(ctx context.Context, to, subject, body string) error
	logger   Logger
}

var _ Mailer = (*TemplateMailer)(nil)

// NewTemplateMailer builds a mailer from a template directory.
func NewTemplateMailer(templateDir string) (*TemplateMailer, error) {
	renderer, err := template.NewRenderer(
		template.WithBaseDir(templateDir),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to initialize mail templates")
	}

	return &TemplateMailer{
		renderer: renderer,
		logger:   defLogger{},
	}, nil
}

func (m *TemplateMailer) WithLogger(logger Logger) *TemplateMailer {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// WithDelivery overrides the delivery function.
func (m *TemplateMailer) WithDelivery(deliver func(ctx context.Context, to, subject, body string) error) *TemplateMailer {
	m.deliver = deliver
	return m
}

// Send renders the named template with data and delivers it to the address.
func (m *TemplateMailer) Send(ctx context.Context, to, tpl string, data map[string]any) error {
	body, err := m.renderer.RenderTemplate(tpl+".html", data)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to render mail template").
			WithMetadata(map[string]any{"template": tpl})
	}

	subject, _ := data["subject"].(string)

	if m.deliver == nil {
		m.logger.Info("mail notification", "to", to, "template", tpl)
		return nil
	}

	return m.deliver(ctx, to, subject, body)
}
