package mail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/mail"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendGridSender 通过 SendGrid v3 API 发送邮件。
type SendGridSender struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
}

var _ Sender = (*SendGridSender)(nil)

// NewSendGridSender 创建 SendGrid 发送器。
func NewSendGridSender(key, appName, fromAddress string) *SendGridSender {
	return &SendGridSender{
		key:        key,
		from:       sgmail.NewEmail(appName, fromAddress),
		subjPrefix: "[" + appName + "] ",
	}
}

func (s *SendGridSender) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + msg.Subject
	for _, to := range msg.To {
		p.AddTos(sgEmail(to))
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)

	if msg.Text != "" {
		m.AddContent(sgmail.NewContent("text/plain", msg.Text))
	}
	if msg.HTML != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTML))
	}
	for _, a := range msg.Attachments {
		m.AddAttachment(&sgmail.Attachment{
			Content:     base64.StdEncoding.EncodeToString(a.Content),
			Type:        a.ContentType,
			Filename:    a.Filename,
			Disposition: "attachment",
		})
	}
	return m
}

func sgEmail(addr mail.Address) *sgmail.Email {
	return sgmail.NewEmail(addr.Name, addr.Address)
}

// Send 同步发送邮件，非 2xx 响应视为失败以便任务重试。
func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	req := sendgrid.GetRequest(s.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid send: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}
