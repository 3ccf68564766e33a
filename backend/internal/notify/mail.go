package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/examportal/trustcore/shared/config"
	"github.com/examportal/trustcore/shared/logger"
)

// MailSink delivers messages over SMTP.
type MailSink struct {
	config *config.Email
	auth   smtp.Auth
	now    func() time.Time
	// send is replaced in tests
	send func(ctx context.Context, recipient string, msg []byte) error
}

func NewMailSink(cfg *config.Email) *MailSink {
	m := &MailSink{
		config: cfg,
		auth:   smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPServer),
		now:    time.Now,
	}
	m.send = m.dialAndSend
	return m
}

func (m *MailSink) Send(ctx context.Context, msg Message) error {
	recipient, subject, body, err := m.compose(msg)
	if err != nil {
		return err
	}
	if recipient == "" {
		logger.Log.Warn("no mailbox for escalation notice", "component", "notify", "message", msg)
		return nil
	}
	return m.send(ctx, recipient, m.buildMessage(recipient, subject, body))
}

func (m *MailSink) compose(msg Message) (recipient, subject, body string, err error) {
	switch msg.Kind {
	case KindCredential:
		if msg.Recipient.Email == "" {
			return "", "", "", fmt.Errorf("user %d has no email address", msg.Recipient.Id)
		}
		return msg.Recipient.Email,
			"Your exam portal account is verified",
			fmt.Sprintf("Hello,\r\n\r\nYour account has been verified. Your one-time password is:\r\n\r\n    %s\r\n\r\nYou will be asked to change it at first sign-in.\r\n",
				msg.Credential),
			nil
	case KindEscalation:
		return m.config.EscalationRecipients[string(msg.Authority)],
			"Verification request awaiting your decision",
			fmt.Sprintf("The registration of %s (%s, user %d) has waited past the review deadline and now needs a decision from the %s.\r\n",
				msg.Recipient.Email, msg.Recipient.Role, msg.Recipient.Id, msg.Authority),
			nil
	default:
		return "", "", "", fmt.Errorf("unknown notification kind %q", msg.Kind)
	}
}

func (m *MailSink) timeout() time.Duration {
	timeout := time.Duration(m.config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return timeout
}

// dialAndSend uses implicit TLS on port 465 and STARTTLS otherwise.
func (m *MailSink) dialAndSend(ctx context.Context, recipient string, msg []byte) error {
	address := fmt.Sprintf("%s:%d", m.config.SMTPServer, m.config.SMTPPort)
	dialer := &net.Dialer{Timeout: m.timeout()}
	tlsConfig := &tls.Config{ServerName: m.config.SMTPServer}

	var conn net.Conn
	var err error
	if m.config.SMTPPort == 465 {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server %s: %w", address, err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(m.timeout())); err != nil {
		return err
	}

	client, err := smtp.NewClient(conn, m.config.SMTPServer)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if m.config.SMTPPort != 465 {
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	if err := client.Auth(m.auth); err != nil {
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}
	if err := client.Mail(m.config.Username); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(recipient); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to get data writer: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}
	return client.Quit()
}

func (m *MailSink) messageID() string {
	host := "localhost"
	if at := strings.LastIndex(m.config.Username, "@"); at >= 0 && at < len(m.config.Username)-1 {
		host = m.config.Username[at+1:]
	}
	return fmt.Sprintf("<%d.%d@%s>", m.now().UnixNano(), rand.Int63(), host)
}

func (m *MailSink) buildMessage(recipient, subject, body string) []byte {
	encodedSubject := mime.QEncoding.Encode("utf-8", subject)
	encodedSenderName := mime.QEncoding.Encode("utf-8", m.config.SenderName)

	return fmt.Appendf(nil,
		"Message-ID: %s\r\n"+
			"Date: %s\r\n"+
			"To: %s\r\n"+
			"From: %s <%s>\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/plain; charset=\"utf-8\"\r\n"+
			"\r\n"+
			"%s",
		m.messageID(), m.now().Format(time.RFC1123Z), recipient, encodedSenderName, m.config.Username, encodedSubject, body,
	)
}
