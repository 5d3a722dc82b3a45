package accounts

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/ccontavalli/accounts/lib/logger"
	"github.com/spf13/pflag"
	"gopkg.in/gomail.v2"
)

// MessageSender delivers a message payload composed by Client.SendMessage.
//
// The indirection exists so non-production deployments can swap the real
// network delivery for a log or in-memory sink without touching the
// client: the payload is fully composed either way.
type MessageSender interface {
	Send(ctx context.Context, payload url.Values) error
}

// FormPoster is the slice of Client the NetworkSender needs.
type FormPoster interface {
	PostForm(ctx context.Context, path string, data url.Values) ([]byte, error)
}

// NetworkSender delivers messages through the accounts server message
// endpoint. This is the production sender and the default.
type NetworkSender struct {
	poster FormPoster
}

func NewNetworkSender(poster FormPoster) *NetworkSender {
	return &NetworkSender{poster: poster}
}

func (s *NetworkSender) Send(ctx context.Context, payload url.Values) error {
	_, err := s.poster.PostForm(ctx, messagesPath, payload)
	return err
}

// LogSender writes messages to the operational log instead of delivering
// them. Send never fails.
type LogSender struct {
	Log logger.Logger
}

func NewLogSender(log logger.Logger) *LogSender {
	return &LogSender{Log: log}
}

func (s *LogSender) Send(ctx context.Context, payload url.Values) error {
	log := s.Log
	if log == nil {
		log = logger.Go
	}
	log.Infof("captured message:\n%s", formatPayload(payload))
	return nil
}

// MemorySender accumulates messages in memory so tests can assert on the
// composed payloads without performing I/O.
type MemorySender struct {
	mu       sync.Mutex
	messages []url.Values
}

func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

func (s *MemorySender) Send(ctx context.Context, payload url.Values) error {
	copied := url.Values{}
	for key, values := range payload {
		copied[key] = append([]string{}, values...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, copied)
	return nil
}

// Messages returns the payloads captured so far.
func (s *MemorySender) Messages() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values{}, s.messages...)
}

// SendDialer sends a message via SMTP (gomail.Dialer implements this).
type SendDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender forwards composed messages to a fixed operator mailbox over
// SMTP. Useful for deployments that run against a stub accounts server
// but still want the messages to go somewhere.
type SMTPSender struct {
	dialer SendDialer
	from   string
	to     string
}

func NewSMTPSender(dialer SendDialer, from, to string) *SMTPSender {
	return &SMTPSender{dialer: dialer, from: from, to: to}
}

func (s *SMTPSender) Send(ctx context.Context, payload url.Values) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", s.to)
	m.SetHeader("Subject", payload.Get("subject"))
	m.SetBody("text/plain", payload.Get("body[text]"))
	if body := payload.Get("body[html]"); body != "" {
		m.AddAlternative("text/html", body)
	}
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp delivery to %s failed: %w", s.to, err)
	}
	return nil
}

// formatPayload renders a payload with sorted keys, one per line.
func formatPayload(payload url.Values) string {
	keys := make([]string, 0, len(payload))
	for key := range payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&b, "  %s: %s\n", key, strings.Join(payload[key], ", "))
	}
	return b.String()
}

// SenderFlags selects and configures the message sender of a deployment.
type SenderFlags struct {
	Mode string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
	SMTPTo       string
}

func DefaultSenderFlags() *SenderFlags {
	return &SenderFlags{
		Mode:     "network",
		SMTPPort: 587,
	}
}

func (f *SenderFlags) Register(set *pflag.FlagSet, prefix string) *SenderFlags {
	set.StringVar(&f.Mode, prefix+"message-sender", f.Mode, "How to deliver messages: network, log, memory, or smtp.")
	set.StringVar(&f.SMTPHost, prefix+"smtp-host", f.SMTPHost, "SMTP server host, for the smtp sender.")
	set.IntVar(&f.SMTPPort, prefix+"smtp-port", f.SMTPPort, "SMTP server port, for the smtp sender.")
	set.StringVar(&f.SMTPUser, prefix+"smtp-user", f.SMTPUser, "SMTP username, for the smtp sender.")
	set.StringVar(&f.SMTPPassword, prefix+"smtp-password", f.SMTPPassword, "SMTP password, for the smtp sender.")
	set.StringVar(&f.SMTPFrom, prefix+"smtp-from", f.SMTPFrom, "From address, for the smtp sender.")
	set.StringVar(&f.SMTPTo, prefix+"smtp-to", f.SMTPTo, "Mailbox messages are delivered to, for the smtp sender.")
	return f
}

// SenderFromFlags builds the MessageSender selected by flags.
//
// "network" returns nil: the Client wires its own NetworkSender by
// default, and building one here would create a chicken and egg problem
// with the client construction.
func SenderFromFlags(flags *SenderFlags, log logger.Logger) (MessageSender, error) {
	switch flags.Mode {
	case "", "network":
		return nil, nil
	case "log":
		return NewLogSender(log), nil
	case "memory":
		return NewMemorySender(), nil
	case "smtp":
		if flags.SMTPHost == "" || flags.SMTPFrom == "" || flags.SMTPTo == "" {
			return nil, fmt.Errorf("smtp sender requires smtp-host, smtp-from and smtp-to")
		}
		dialer := gomail.NewDialer(flags.SMTPHost, flags.SMTPPort, flags.SMTPUser, flags.SMTPPassword)
		return NewSMTPSender(dialer, flags.SMTPFrom, flags.SMTPTo), nil
	default:
		return nil, fmt.Errorf("unknown message sender %q", flags.Mode)
	}
}
