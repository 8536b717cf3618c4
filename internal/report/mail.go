package report

import (
	"bytes"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer delivers reports over SMTP.
type Mailer struct {
	addr   string
	from   string
	to     []string
	auth   smtp.Auth
	format Format
	send   sendFunc
}

// NewMailer builds a mailer for a comma separated recipient list. auth may be nil.
func NewMailer(addr, from, to string, auth smtp.Auth, format Format) *Mailer {
	var rcpt []string
	for _, r := range strings.Split(to, ",") {
		if r = strings.TrimSpace(r); r != "" {
			rcpt = append(rcpt, r)
		}
	}
	return &Mailer{addr: addr, from: from, to: rcpt, auth: auth, format: format, send: smtp.SendMail}
}

// Send mails r. Empty reports are not sent and Send reports false.
func (m *Mailer) Send(r Report) (bool, error) {
	if r.Empty() {
		return false, nil
	}
	if len(m.to) == 0 {
		return false, fmt.Errorf("no recipients")
	}
	var body bytes.Buffer
	if err := Render(&body, m.format, r); err != nil {
		return false, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", m.from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(m.to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", r.Subject())
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: %s; charset=utf-8\r\n\r\n", m.format.ContentType())
	msg.Write(bytes.ReplaceAll(body.Bytes(), []byte("\n"), []byte("\r\n")))

	if err := m.send(m.addr, m.auth, m.from, m.to, msg.Bytes()); err != nil {
		return false, fmt.Errorf("send report: %w", err)
	}
	return true, nil
}
