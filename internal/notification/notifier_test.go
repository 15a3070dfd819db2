package notification

import (
	"FlowSentinel/internal/config"
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

func TestEmailNotifier_Send(t *testing.T) {
	n := NewEmailNotifier(config.SMTPConfig{
		Host: "mail.example.org",
		Port: 587,
		From: "sentinel@example.org",
		To:   "ops@example.org, soc@example.org ,",
	}).(*EmailNotifier)

	var gotAddr string
	var gotTo []string
	var gotMsg string
	n.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		if a != nil {
			t.Error("auth configured without a username")
		}
		return nil
	}

	if err := n.Send("2 flagged flows", "<p>hi</p>"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotAddr != "mail.example.org:587" {
		t.Errorf("addr = %q", gotAddr)
	}
	if len(gotTo) != 2 || gotTo[1] != "soc@example.org" {
		t.Errorf("recipients = %q", gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: 2 flagged flows\r\n") || !strings.HasSuffix(gotMsg, "\r\n\r\n<p>hi</p>") {
		t.Errorf("message = %q", gotMsg)
	}
}

func TestEmailNotifier_Errors(t *testing.T) {
	if err := NewEmailNotifier(config.SMTPConfig{Host: "h", Port: 25}).Send("s", "b"); err == nil {
		t.Error("Send() without recipients succeeded")
	}

	n := NewEmailNotifier(config.SMTPConfig{Host: "h", Port: 25, To: "a@b", Username: "u", Password: "p"}).(*EmailNotifier)
	n.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("relay denied") }
	if err := n.Send("s", "b"); err == nil || !strings.Contains(err.Error(), "relay denied") {
		t.Errorf("Send() error = %v", err)
	}
}
