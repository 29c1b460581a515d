package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/telekom/kintone-mail-relay/pkg/config"
	"github.com/telekom/kintone-mail-relay/pkg/metrics"
)

// ErrInvalidMessage is returned when a rendered message has no usable sender or
// recipients. It is a content problem, not a transport failure.
var ErrInvalidMessage = errors.New("invalid mail message")

// Message is a plain-text mail. To may list several comma-separated addresses.
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

type Envelope struct {
	From string   `json:"from"`
	To   []string `json:"to"`
}

// DeliveryInfo is what the relay knows about a sent message.
type DeliveryInfo struct {
	Accepted  []string `json:"accepted"`
	Rejected  []string `json:"rejected"`
	Response  string   `json:"response"`
	MessageID string   `json:"messageId"`
	Envelope  Envelope `json:"envelope"`
}

type Sender interface {
	Send(ctx context.Context, profile string, msg Message) (DeliveryInfo, error)
}

type transport struct {
	profile config.SMTPProfile
	dialer  *gomail.Dialer
}

// Dispatcher sends mail through named SMTP profiles. Each Send dials, delivers
// once and hangs up; there is no retry.
type Dispatcher struct {
	transports map[string]transport
	log        *zap.SugaredLogger
}

var _ Sender = (*Dispatcher)(nil)

// NewDispatcher builds one dialer per profile.
func NewDispatcher(profiles map[string]config.SMTPProfile, log *zap.SugaredLogger) *Dispatcher {
	log = log.Named("mail")
	transports := make(map[string]transport, len(profiles))
	for name, p := range profiles {
		log.Infow("Initializing mail transport", "profile", name, "host", p.Host, "port", p.Port, "user", p.Auth.User)
		d := gomail.NewDialer(p.Host, p.Port, p.Auth.User, p.Auth.Pass)
		d.SSL = p.Secure || p.Port == 465
		if p.InsecureSkipVerify {
			log.Warnw("InsecureSkipVerify is enabled for mail TLS connection", "profile", name)
			d.TLSConfig = &tls.Config{ServerName: p.Host, InsecureSkipVerify: true} // #nosec G402 -- opt-in per profile
		}
		transports[name] = transport{profile: p, dialer: d}
	}
	return &Dispatcher{transports: transports, log: log}
}

// Send delivers msg through the named profile. An unknown profile yields a
// *config.ConfigError, a malformed message ErrInvalidMessage, anything else is
// the transport error.
func (d *Dispatcher) Send(ctx context.Context, profile string, msg Message) (DeliveryInfo, error) {
	t, ok := d.transports[profile]
	if !ok {
		return DeliveryInfo{}, &config.ConfigError{Op: "send mail", Msg: fmt.Sprintf("no smtp server named %q", profile)}
	}
	if err := ctx.Err(); err != nil {
		return DeliveryInfo{}, err
	}

	m, env, messageID, err := compose(msg)
	if err != nil {
		return DeliveryInfo{}, err
	}

	d.log.Infow("Sending mail", "profile", profile, "recipients", len(env.To), "subject", msg.Subject)
	if err := t.dialer.DialAndSend(m); err != nil {
		d.log.Errorw("Failed to send mail", "profile", profile, "host", t.profile.Host, "error", err)
		metrics.MailSendFailure.WithLabelValues(profile).Inc()
		return DeliveryInfo{}, fmt.Errorf("send mail via %s:%d: %w", t.profile.Host, t.profile.Port, err)
	}
	metrics.MailSendSuccess.WithLabelValues(profile).Inc()
	d.log.Infow("Mail sent", "profile", profile, "messageId", messageID)

	return DeliveryInfo{
		Accepted:  env.To,
		Rejected:  []string{},
		Response:  fmt.Sprintf("accepted by %s:%d", t.profile.Host, t.profile.Port),
		MessageID: messageID,
		Envelope:  env,
	}, nil
}

func compose(msg Message) (*gomail.Message, Envelope, string, error) {
	from, err := netmail.ParseAddress(strings.TrimSpace(msg.From))
	if err != nil {
		return nil, Envelope{}, "", fmt.Errorf("%w: from address %q: %v", ErrInvalidMessage, msg.From, err)
	}
	if strings.TrimSpace(msg.To) == "" {
		return nil, Envelope{}, "", fmt.Errorf("%w: no recipients", ErrInvalidMessage)
	}
	to, err := netmail.ParseAddressList(msg.To)
	if err != nil {
		return nil, Envelope{}, "", fmt.Errorf("%w: to address %q: %v", ErrInvalidMessage, msg.To, err)
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", from.Address, from.Name)
	env := Envelope{From: from.Address, To: make([]string, 0, len(to))}
	formatted := make([]string, 0, len(to))
	for _, a := range to {
		env.To = append(env.To, a.Address)
		formatted = append(formatted, m.FormatAddress(a.Address, a.Name))
	}
	m.SetHeader("To", formatted...)
	m.SetHeader("Subject", msg.Subject)

	messageID := newMessageID(from.Address)
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/plain", msg.Text)
	return m, env, messageID, nil
}

// newMessageID uses the sender's domain as the right-hand side.
func newMessageID(fromAddress string) string {
	domain := "localhost"
	if i := strings.LastIndex(fromAddress, "@"); i >= 0 && i < len(fromAddress)-1 {
		domain = fromAddress[i+1:]
	}
	return "<" + uuid.NewString() + "@" + domain + ">"
}
