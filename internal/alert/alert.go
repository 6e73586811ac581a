// Package alert implements the admin SMTP notification channel: one email
// per exception class per hour, to every configured admin address.
package alert

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"sync"
	"time"

	cerrors "github.com/ashureev/chatfabric/internal/errors"
)

const rateLimitWindow = time.Hour

// Dialer matches smtp.SendMail's signature, overridable in tests.
type Dialer func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Notifier sends admin alerts over SMTP, rate-limited per exception class.
type Notifier struct {
	host, user, password string
	port                 int
	admins               []string

	dial Dialer

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// New constructs a Notifier. admins is the list of recipient addresses.
func New(host string, port int, user, password string, admins []string) *Notifier {
	return &Notifier{
		host:     host,
		port:     port,
		user:     user,
		password: password,
		admins:   admins,
		dial:     smtp.SendMail,
		lastSent: make(map[string]time.Time),
	}
}

// className buckets a ChatError by its code, or "exception" for anything
// else, so unrelated errors of the same code share one rate-limit bucket.
func className(err error) string {
	if ce, ok := err.(*cerrors.ChatError); ok {
		return fmt.Sprintf("error_code_%d", ce.Code)
	}
	return "exception"
}

// Notify sends one email describing err to every configured admin,
// unless a notification for the same class was already sent within the
// last hour.
func (n *Notifier) Notify(err error) {
	if len(n.admins) == 0 || n.host == "" {
		return
	}

	class := className(err)

	n.mu.Lock()
	last, seen := n.lastSent[class]
	if seen && time.Since(last) < rateLimitWindow {
		n.mu.Unlock()
		return
	}
	n.lastSent[class] = time.Now()
	n.mu.Unlock()

	subject := "chatfabric exception: " + class
	body := fmt.Sprintf("Subject: %s\r\n\r\n%s\r\n", subject, err.Error())

	addr := fmt.Sprintf("%s:%d", n.host, n.port)
	var auth smtp.Auth
	if n.user != "" {
		auth = smtp.PlainAuth("", n.user, n.password, n.host)
	}

	if sendErr := n.dial(addr, auth, n.user, n.admins, []byte(body)); sendErr != nil {
		slog.Error("failed to send admin alert email", "error", sendErr, "class", class)
	}
}
