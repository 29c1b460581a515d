package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/telekom/kintone-mail-relay/pkg/audit"
	"github.com/telekom/kintone-mail-relay/pkg/config"
	"github.com/telekom/kintone-mail-relay/pkg/kintone"
	"github.com/telekom/kintone-mail-relay/pkg/mail"
	"github.com/telekom/kintone-mail-relay/pkg/metrics"
	"github.com/telekom/kintone-mail-relay/pkg/render"
)

// Field codes of the template app.
const (
	TemplateFieldFrom    = "fromMailAddress"
	TemplateFieldTo      = "toMailAddress"
	TemplateFieldSubject = "subject"
	TemplateFieldBody    = "body"
)

// Field codes of the log app.
const (
	LogFieldInfo      = "info"
	LogFieldAccepted  = "accepted"
	LogFieldRejected  = "rejected"
	LogFieldResponse  = "response"
	LogFieldMessageID = "messageId"
)

var hostPattern = regexp.MustCompile(`https?://(.*?)/`)

// CheckURLDomain reports whether the host in n.URL equals domain. The host is
// whatever sits between the scheme and the next slash, compared verbatim; a URL
// without a slash after the host never matches.
func CheckURLDomain(n kintone.Notification, domain string) bool {
	m := hostPattern.FindStringSubmatch(n.URL)
	if m == nil {
		return false
	}
	return m[1] == domain
}

// RecordStore is the part of the kintone client the relay needs.
type RecordStore interface {
	FetchFirstRecord(ctx context.Context, app config.App) (kintone.Record, error)
	InsertRecord(ctx context.Context, app config.App, record kintone.Record) (string, error)
}

// Relay runs the fetch, render, send and log steps for accepted webhooks. It
// holds no per-request state and is safe for concurrent use.
type Relay struct {
	registry *config.Registry
	store    RecordStore
	sender   mail.Sender
	renderer *render.Renderer
	events   audit.Sink
	log      *zap.SugaredLogger
}

// New wires a Relay. events may be nil, in which case no delivery events are published.
func New(registry *config.Registry, store RecordStore, sender mail.Sender, events audit.Sink, log *zap.SugaredLogger) *Relay {
	return &Relay{
		registry: registry,
		store:    store,
		sender:   sender,
		renderer: render.NewRenderer(),
		events:   events,
		log:      log.Named("relay"),
	}
}

// Registry returns the lookup view the relay was built with.
func (r *Relay) Registry() *config.Registry { return r.registry }

// FetchTemplateRecord returns the first record of the template app. An empty
// app is a hard failure wrapping ErrNoTemplateRecord.
func (r *Relay) FetchTemplateRecord(ctx context.Context) (kintone.Record, error) {
	app, err := r.registry.App(config.AppTypeTemplate)
	if err != nil {
		return nil, err
	}
	rec, err := r.store.FetchFirstRecord(ctx, app)
	if errors.Is(err, kintone.ErrNoRecords) {
		return nil, upstream("fetch template", fmt.Errorf("%w on app %s", ErrNoTemplateRecord, app.ID))
	}
	if err != nil {
		return nil, upstream("fetch template", err)
	}
	return rec, nil
}

// ComposeMessage maps rendered template fields onto a mail message. Missing
// fields stay empty.
func ComposeMessage(rendered map[string]string) mail.Message {
	return mail.Message{
		From:    rendered[TemplateFieldFrom],
		To:      rendered[TemplateFieldTo],
		Subject: rendered[TemplateFieldSubject],
		Text:    rendered[TemplateFieldBody],
	}
}

// Render fetches the template and fills it from n.
func (r *Relay) Render(ctx context.Context, n kintone.Notification) (mail.Message, error) {
	tpl, err := r.FetchTemplateRecord(ctx)
	if err != nil {
		return mail.Message{}, err
	}
	rendered, err := r.renderer.Fill(tpl, render.View(n))
	if err != nil {
		return mail.Message{}, err
	}
	return ComposeMessage(rendered), nil
}

// Send dispatches msg through profile. Configuration and message errors are
// returned unchanged; transport failures become *UpstreamError.
func (r *Relay) Send(ctx context.Context, profile string, msg mail.Message) (mail.DeliveryInfo, error) {
	info, err := r.sender.Send(ctx, profile, msg)
	if err == nil {
		return info, nil
	}
	var cfgErr *config.ConfigError
	if errors.As(err, &cfgErr) || errors.Is(err, mail.ErrInvalidMessage) {
		return mail.DeliveryInfo{}, err
	}
	return mail.DeliveryInfo{}, upstream("send mail", err)
}

// LogDelivery writes one record describing info to the log app and returns the
// new record id. Every field is stored as a string.
func (r *Relay) LogDelivery(ctx context.Context, info mail.DeliveryInfo) (string, error) {
	app, err := r.registry.App(config.AppTypeLog)
	if err != nil {
		return "", err
	}
	rec, err := deliveryRecord(info)
	if err != nil {
		return "", err
	}
	id, err := r.store.InsertRecord(ctx, app, rec)
	if err != nil {
		return "", upstream("log delivery", err)
	}
	return id, nil
}

func deliveryRecord(info mail.DeliveryInfo) (kintone.Record, error) {
	whole, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("encode delivery info: %w", err)
	}
	accepted, err := json.Marshal(nonNil(info.Accepted))
	if err != nil {
		return nil, fmt.Errorf("encode accepted: %w", err)
	}
	rejected, err := json.Marshal(nonNil(info.Rejected))
	if err != nil {
		return nil, fmt.Errorf("encode rejected: %w", err)
	}
	return kintone.StringRecord(map[string]string{
		LogFieldInfo:      string(whole),
		LogFieldAccepted:  string(accepted),
		LogFieldRejected:  string(rejected),
		LogFieldResponse:  info.Response,
		LogFieldMessageID: info.MessageID,
	}), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Deliver runs the pipeline for a notification already accepted from source:
// fetch template, render, send, log, publish event. Steps run strictly in order
// and the first failure ends the run. A log failure after a successful send is
// still returned as an error.
func (r *Relay) Deliver(ctx context.Context, n kintone.Notification, source config.App) (mail.DeliveryInfo, error) {
	log := r.log.With("app", n.App.ID, "type", n.Type)

	msg, err := r.Render(ctx, n)
	if err != nil {
		r.fail(log, "render", err)
		return mail.DeliveryInfo{}, err
	}

	profile := source.Profile()
	info, err := r.Send(ctx, profile, msg)
	if err != nil {
		r.fail(log, "send", err)
		return mail.DeliveryInfo{}, err
	}
	log.Infow("Mail delivered", "profile", profile, "messageId", info.MessageID, "accepted", len(info.Accepted))

	logID, err := r.LogDelivery(ctx, info)
	if err != nil {
		r.fail(log, "log", err)
		return info, err
	}
	log.Debugw("Delivery logged", "recordId", logID)

	r.publish(ctx, log, n, source, info, logID)
	return info, nil
}

func (r *Relay) publish(ctx context.Context, log *zap.SugaredLogger, n kintone.Notification, source config.App, info mail.DeliveryInfo, logID string) {
	if r.events == nil {
		return
	}
	event := audit.NewDeliveryEvent(source.ID, n.Type, source.Profile(), info)
	event.RecordID = n.RecordID()
	event.LogRecordID = logID
	// The mail is already out and logged; a client hanging up now must not
	// cancel the event.
	if err := r.events.Write(context.WithoutCancel(ctx), event); err != nil {
		log.Warnw("Failed to publish delivery event", "sink", r.events.Name(), "error", err)
	}
}

func (r *Relay) fail(log *zap.SugaredLogger, step string, err error) {
	class := Classify(err)
	metrics.PipelineErrors.WithLabelValues(string(class), step).Inc()
	log.Errorw("Relay step failed", "step", step, "class", class, "error", err)
}

// Class groups pipeline errors for HTTP responses and metrics.
type Class string

const (
	ClassConfig   Class = "CONFIG_ERROR"
	ClassUpstream Class = "UPSTREAM_ERROR"
	ClassTemplate Class = "TEMPLATE_ERROR"
	ClassMessage  Class = "INVALID_MESSAGE"
)

// Classify maps err onto a Class. Unknown errors count as upstream failures.
func Classify(err error) Class {
	var cfgErr *config.ConfigError
	var renderErr *render.Error
	switch {
	case errors.As(err, &cfgErr):
		return ClassConfig
	case errors.As(err, &renderErr):
		return ClassTemplate
	case errors.Is(err, mail.ErrInvalidMessage):
		return ClassMessage
	default:
		return ClassUpstream
	}
}
