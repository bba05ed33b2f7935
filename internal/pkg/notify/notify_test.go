package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMTPTransportSend(t *testing.T) {
	tr := NewSMTPTransport(SMTPConfig{Host: "mail.local", Port: "2525", Sender: "studio@example.com"})

	var gotAddr string
	var gotTo []string
	var gotMsg string
	tr.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		assert.Nil(t, a)
		assert.Equal(t, "studio@example.com", from)
		return nil
	}

	err := tr.Send(context.Background(), Recipient{Name: "Ana", Email: "ana@example.com"}, Message{Subject: "Reminder", Body: "<p>hi</p>"})
	require.NoError(t, err)
	assert.Equal(t, "mail.local:2525", gotAddr)
	assert.Equal(t, []string{"ana@example.com"}, gotTo)
	assert.True(t, strings.HasPrefix(gotMsg, "From: studio@example.com\r\nTo: Ana <ana@example.com>\r\nSubject: Reminder\r\n"))
	assert.True(t, strings.HasSuffix(gotMsg, "<p>hi</p>"))
}

func TestSMTPTransportErrors(t *testing.T) {
	tr := NewSMTPTransport(SMTPConfig{Host: "mail.local", Port: "25", Username: "u", Password: "p"})
	boom := errors.New("relay down")
	tr.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return boom }

	assert.ErrorIs(t, tr.Send(context.Background(), Recipient{Phone: "+62"}, Message{}), ErrNoAddress)
	assert.ErrorIs(t, tr.Send(context.Background(), Recipient{Email: "a@b.c"}, Message{}), boom)
}

func TestSMTPTransportHonoursContext(t *testing.T) {
	tr := NewSMTPTransport(SMTPConfig{Host: "mail.local", Port: "25"})
	release := make(chan struct{})
	defer close(release)
	tr.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		<-release
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tr.Send(ctx, Recipient{Email: "a@b.c"}, Message{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLogTransport(t *testing.T) {
	var tr Transport = LogTransport{}
	assert.NoError(t, tr.Send(context.Background(), Recipient{Email: "a@b.c"}, Message{Subject: "x"}))
	assert.ErrorIs(t, tr.Send(context.Background(), Recipient{}, Message{}), ErrNoAddress)
}
