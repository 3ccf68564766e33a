package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/examportal/trustcore/shared/config"
	"github.com/examportal/trustcore/shared/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	recipient string
	body      string
}

func newTestMailSink(t *testing.T) (*MailSink, *[]sentMail) {
	t.Helper()
	m := NewMailSink(&config.Email{
		SMTPServer: "smtp.example.edu",
		SMTPPort:   587,
		Username:   "no-reply@portal.example.edu",
		SenderName: "Exam Portal",
		EscalationRecipients: map[string]string{
			"principal": "principal@portal.example.edu",
		},
	})
	m.now = func() time.Time { return time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC) }

	var sent []sentMail
	m.send = func(ctx context.Context, recipient string, msg []byte) error {
		sent = append(sent, sentMail{recipient: recipient, body: string(msg)})
		return nil
	}
	return m, &sent
}

func TestMailSinkCredential(t *testing.T) {
	m, sent := newTestMailSink(t)

	err := m.Send(context.Background(), Message{
		Kind:       KindCredential,
		Recipient:  domain.User{Id: 7, Email: "faculty@college.edu", Role: domain.RoleFaculty},
		Credential: "s3cret-one-time",
	})
	require.NoError(t, err)
	require.Len(t, *sent, 1)

	mail := (*sent)[0]
	assert.Equal(t, "faculty@college.edu", mail.recipient)
	assert.Contains(t, mail.body, "To: faculty@college.edu\r\n")
	assert.Contains(t, mail.body, "s3cret-one-time")
	assert.Contains(t, mail.body, "@portal.example.edu>\r\n")
	assert.Contains(t, mail.body, "Date: Tue, 20 May 2025 09:00:00 +0000\r\n")
	assert.Contains(t, mail.body, "From: Exam Portal <no-reply@portal.example.edu>\r\n")
	assert.True(t, strings.HasSuffix(mail.body, "first sign-in.\r\n"))
}

func TestMailSinkCredentialWithoutAddress(t *testing.T) {
	m, sent := newTestMailSink(t)

	err := m.Send(context.Background(), Message{Kind: KindCredential, Recipient: domain.User{Id: 7}, Credential: "x"})
	assert.Error(t, err)
	assert.Empty(t, *sent)
}

func TestMailSinkEscalation(t *testing.T) {
	m, sent := newTestMailSink(t)
	u := domain.User{Id: 9, Email: "vp@college.edu", Role: domain.RoleVicePrincipal}

	require.NoError(t, m.Send(context.Background(), Message{Kind: KindEscalation, Recipient: u, Authority: domain.RolePrincipal}))
	require.Len(t, *sent, 1)
	assert.Equal(t, "principal@portal.example.edu", (*sent)[0].recipient)
	assert.Contains(t, (*sent)[0].body, "user 9")

	// roles without a configured mailbox are skipped
	require.NoError(t, m.Send(context.Background(), Message{Kind: KindEscalation, Recipient: u, Authority: domain.RoleAdmin}))
	assert.Len(t, *sent, 1)
}

func TestMailSinkUnknownKind(t *testing.T) {
	m, _ := newTestMailSink(t)
	assert.Error(t, m.Send(context.Background(), Message{Kind: "carrier-pigeon"}))
}
