package mailstore

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"
)

// SMTPSender delivers raw MIME messages over SMTP, with either implicit
// TLS or STARTTLS.
type SMTPSender struct {
	Host     string
	Port     string
	Username string
	Password string
	TLS      bool
}

// Send delivers a raw message to the given recipients.
func (s SMTPSender) Send(from string, to []string, raw []byte) error {
	addr := s.Host + ":" + s.Port

	if s.TLS {
		return s.sendWithTLS(addr, from, to, raw)
	}
	return s.sendWithStartTLS(addr, from, to, raw)
}

// sendWithTLS sends over an implicit TLS connection.
func (s SMTPSender) sendWithTLS(addr, from string, to []string, raw []byte) error {
	tlsConfig := &tls.Config{ServerName: s.Host}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("TLS dial to %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	auth := smtp.PlainAuth("", s.Username, s.Password, s.Host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP auth: %w", err)
	}

	return sendViaClient(client, from, to, raw)
}

// sendWithStartTLS sends using STARTTLS.
func (s SMTPSender) sendWithStartTLS(addr, from string, to []string, raw []byte) error {
	conn, err := net.DialTimeout("tcp", addr, 30*time.Second)
	if err != nil {
		return fmt.Errorf("dial to %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	tlsConfig := &tls.Config{ServerName: s.Host}
	if err := client.StartTLS(tlsConfig); err != nil {
		return fmt.Errorf("SMTP STARTTLS: %w", err)
	}

	auth := smtp.PlainAuth("", s.Username, s.Password, s.Host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP auth: %w", err)
	}

	return sendViaClient(client, from, to, raw)
}

// sendViaClient submits a message using an already-authenticated
// SMTP client.
func sendViaClient(client *smtp.Client, from string, to []string, raw []byte) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}

	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("SMTP RCPT TO %s: %w", rcpt, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}

	if _, err := writer.Write(raw); err != nil {
		return fmt.Errorf("writing message body: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing message body: %w", err)
	}

	return client.Quit()
}
