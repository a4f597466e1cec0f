// Package mailer формирует и отправляет письма по уведомлениям сервиса.
package mailer

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/mmeshcher/restaurant-system/internal/model"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// ErrUnknownKind возвращается для уведомления без шаблона.
var ErrUnknownKind = errors.New("unknown notification kind")

// DefaultBrand подставляется в письма, если название ресторана не задано.
const DefaultBrand = "Mr. Parathas"

var subjects = map[model.NotificationKind]string{
	model.NotifyWelcome:          `Welcome to {{.brand}}`,
	model.NotifyBookingConfirmed: `Table Booking Confirmation - Table #{{.tableNumber}}`,
	model.NotifyBookingCancelled: `Booking Cancellation - Table #{{.tableNumber}}`,
	model.NotifyBookingAdmin:     `New Table Booking - Table #{{.tableNumber}}`,
	model.NotifyOrderPlaced:      `Order Confirmation #{{.orderId}}`,
	model.NotifyOrderAdmin:       `{{if eq .status "Cancelled"}}Order cancelled{{else}}New order placed{{end}} #{{.orderId}}`,
	model.NotifyOrderStatus:      `{{if eq .status "Cancelled"}}Order Cancelled #{{.orderId}}{{else}}Order #{{.orderId}} is {{.status}}{{end}}`,
	model.NotifyContactAdmin:     `New contact message from {{.name}}`,
}

var funcs = map[string]any{
	"lines": func(s string) []string {
		if s == "" {
			return nil
		}
		return strings.Split(s, "\n")
	},
}

// Message содержит готовое к отправке письмо.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Renderer строит письма из встроенных шаблонов.
type Renderer struct {
	brand    string
	subjects map[model.NotificationKind]*texttemplate.Template
	text     *texttemplate.Template
	html     *htmltemplate.Template
}

// NewRenderer разбирает шаблоны писем.
func NewRenderer(brand string) (*Renderer, error) {
	if brand == "" {
		brand = DefaultBrand
	}

	text, err := texttemplate.New("text").Funcs(funcs).Option("missingkey=zero").
		ParseFS(templatesFS, "templates/email.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse text templates: %w", err)
	}
	html, err := htmltemplate.New("html").Funcs(funcs).Option("missingkey=zero").
		ParseFS(templatesFS, "templates/email.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse html templates: %w", err)
	}

	r := &Renderer{
		brand:    brand,
		subjects: make(map[model.NotificationKind]*texttemplate.Template, len(subjects)),
		text:     text,
		html:     html,
	}
	for kind, src := range subjects {
		t, err := texttemplate.New(string(kind)).Option("missingkey=zero").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse subject %s: %w", kind, err)
		}
		r.subjects[kind] = t
	}
	return r, nil
}

// Render строит письмо по уведомлению.
func (r *Renderer) Render(n model.Notification) (*Message, error) {
	subject, ok := r.subjects[n.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, n.Kind)
	}

	data := make(map[string]string, len(n.Data)+1)
	for k, v := range n.Data {
		data[k] = v
	}
	data["brand"] = r.brand

	var subj, text, html bytes.Buffer
	if err := subject.Execute(&subj, data); err != nil {
		return nil, fmt.Errorf("render subject: %w", err)
	}
	if err := r.text.ExecuteTemplate(&text, string(n.Kind), data); err != nil {
		return nil, fmt.Errorf("render text: %w", err)
	}
	if err := r.html.ExecuteTemplate(&html, string(n.Kind), data); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}

	return &Message{
		To:      n.To,
		Subject: subj.String(),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

// Sender доставляет готовое письмо.
type Sender interface {
	Send(ctx context.Context, m *Message) error
}

// SMTPSender отправляет письма через SMTP-сервер.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPSender создаёт отправителя писем через SMTP.
func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	if from == "" {
		from = username
	}
	return &SMTPSender{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

// Send отправляет письмо с текстовой и HTML-частью.
func (s *SMTPSender) Send(ctx context.Context, m *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", m.To)
	msg.SetHeader("Subject", m.Subject)
	msg.SetBody("text/plain", m.Text)
	msg.AddAlternative("text/html", m.HTML)

	if err := s.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", m.To, err)
	}
	return nil
}

// LogSender только пишет письмо в лог. Используется, когда SMTP не настроен.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender создаёт отправителя, пишущего письма в лог.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send пишет заголовки письма в лог.
func (s *LogSender) Send(ctx context.Context, m *Message) error {
	s.logger.Info("email not sent: smtp is not configured",
		zap.String("to", m.To),
		zap.String("subject", m.Subject),
	)
	return nil
}

// Mailer рендерит уведомления и передаёт их отправителю.
type Mailer struct {
	renderer *Renderer
	sender   Sender
	logger   *zap.Logger
}

// New создаёт Mailer.
func New(renderer *Renderer, sender Sender, logger *zap.Logger) *Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailer{renderer: renderer, sender: sender, logger: logger}
}

// Deliver отправляет письмо по уведомлению.
func (m *Mailer) Deliver(ctx context.Context, n model.Notification) error {
	msg, err := m.renderer.Render(n)
	if err != nil {
		return err
	}
	if err := m.sender.Send(ctx, msg); err != nil {
		return err
	}

	m.logger.Debug("email sent",
		zap.String("id", n.ID),
		zap.String("kind", string(n.Kind)),
		zap.String("to", n.To),
	)
	return nil
}
