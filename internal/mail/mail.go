// Package mail 通过 SendGrid 发送邮件；未配置 API Key 时只记录日志。
package mail

import (
	"context"
	"errors"
	"net/mail"
)

// ErrNoRecipients 表示邮件没有收件人。
var ErrNoRecipients = errors.New("mail: no recipients")

// Attachment 是邮件附件，Content 为原始字节。
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message 是一封待发送的邮件。
type Message struct {
	To          []mail.Address
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Sender 发送邮件。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

func (m Message) validate() error {
	if len(m.To) == 0 {
		return ErrNoRecipients
	}
	if m.Text == "" && m.HTML == "" && len(m.Attachments) == 0 {
		return errors.New("mail: empty message")
	}
	return nil
}

// To 构造单个收件人列表。
func To(name, address string) []mail.Address {
	return []mail.Address{{Name: name, Address: address}}
}
