package mail

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/Daskott/kontacts/server/logger"
	"github.com/Daskott/kontacts/shared"
	gomail "github.com/wneessen/go-mail"
)

const CONFIRMATION_SUBJECT = "Confirm your email"

//go:embed templates/confirm_email.html
var confirmEmailHTML string

var (
	logg                 = logger.NewLogger()
	confirmEmailTemplate = template.Must(template.New("confirm_email").Parse(confirmEmailHTML))
)

type Mailer interface {
	SendConfirmation(ctx context.Context, to, username, baseURL, token string) error
}

type SMTPMailer struct {
	config shared.MailConfig
}

func NewSMTPMailer(config shared.MailConfig) *SMTPMailer {
	return &SMTPMailer{config: config}
}

func (mailer *SMTPMailer) SendConfirmation(ctx context.Context, to, username, baseURL, token string) error {
	body, err := RenderConfirmation(username, ConfirmationLink(baseURL, token))
	if err != nil {
		return err
	}

	msg := gomail.NewMsg()
	if err := msg.FromFormat(mailer.config.FromName, mailer.config.From); err != nil {
		return fmt.Errorf("SendConfirmation: invalid sender: %v", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("SendConfirmation: invalid recipient: %v", err)
	}
	msg.Subject(CONFIRMATION_SUBJECT)
	msg.SetBodyString(gomail.TypeTextHTML, body)

	client, err := gomail.NewClient(mailer.config.Server, mailer.clientOptions()...)
	if err != nil {
		return fmt.Errorf("SendConfirmation: %v", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("SendConfirmation: %v", err)
	}

	return nil
}

func (mailer *SMTPMailer) clientOptions() []gomail.Option {
	opts := []gomail.Option{
		gomail.WithPort(mailer.config.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(mailer.config.Username),
		gomail.WithPassword(mailer.config.Password),
	}

	// 465 is implicit TLS, everything else negotiates STARTTLS
	if mailer.config.Port == 465 {
		opts = append(opts, gomail.WithSSL())
	}

	return opts
}

// LogMailer logs confirmation links instead of sending them. Used when no
// smtp server is configured.
type LogMailer struct{}

func (LogMailer) SendConfirmation(ctx context.Context, to, username, baseURL, token string) error {
	logg.Infof("Confirmation link for %v: %v", to, ConfirmationLink(baseURL, token))
	return nil
}

func ConfirmationLink(baseURL, token string) string {
	return strings.TrimSuffix(baseURL, "/") + "/api/auth/confirmed_email/" + token
}

func RenderConfirmation(username, link string) (string, error) {
	buf := new(bytes.Buffer)

	err := confirmEmailTemplate.Execute(buf, struct {
		Username string
		Link     string
	}{username, link})
	if err != nil {
		return "", fmt.Errorf("RenderConfirmation: %v", err)
	}

	return buf.String(), nil
}
