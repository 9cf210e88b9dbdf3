// Package notify delivers stale-backup notifications to principals.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Message is one outbound notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Notifier delivers messages.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// SendmailNotifier delivers mail through a sendmail-compatible binary. The
// host MTA handles queueing and retries; the gateway stays free of SMTP.
type SendmailNotifier struct {
	path string
	from string
}

// NewSendmailNotifier creates a SendmailNotifier.
func NewSendmailNotifier(path, from string) *SendmailNotifier {
	return &SendmailNotifier{path: path, from: from}
}

// Send pipes the message to sendmail. The -t flag takes the recipient from
// the headers, -oi keeps a lone dot from ending the message early.
func (n *SendmailNotifier) Send(ctx context.Context, msg Message) error {
	var mail bytes.Buffer
	fmt.Fprintf(&mail, "From: %s\n", n.from)
	fmt.Fprintf(&mail, "To: %s\n", msg.To)
	fmt.Fprintf(&mail, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&mail, "\n%s", msg.Body)

	cmd := exec.CommandContext(ctx, n.path, "-t", "-oi")
	cmd.Stdin = &mail
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("sendmail failed: %w: %s", err, bytes.TrimSpace(out))
	}
	return nil
}

// Ensure SendmailNotifier implements Notifier.
var _ Notifier = (*SendmailNotifier)(nil)
