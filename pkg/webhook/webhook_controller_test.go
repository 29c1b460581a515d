package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/telekom/kintone-mail-relay/pkg/apiresponses"
	"github.com/telekom/kintone-mail-relay/pkg/config"
	"github.com/telekom/kintone-mail-relay/pkg/kintone"
	"github.com/telekom/kintone-mail-relay/pkg/mail"
	"github.com/telekom/kintone-mail-relay/pkg/metrics"
	"github.com/telekom/kintone-mail-relay/pkg/relay"
)

type stubStore struct {
	template kintone.Record
	fetches  int
	inserts  []kintone.Record
}

func (s *stubStore) FetchFirstRecord(context.Context, config.App) (kintone.Record, error) {
	s.fetches++
	return s.template, nil
}

func (s *stubStore) InsertRecord(_ context.Context, _ config.App, rec kintone.Record) (string, error) {
	s.inserts = append(s.inserts, rec)
	return "1", nil
}

type stubSender struct {
	err  error
	sent []mail.Message
}

func (s *stubSender) Send(_ context.Context, _ string, msg mail.Message) (mail.DeliveryInfo, error) {
	if s.err != nil {
		return mail.DeliveryInfo{}, s.err
	}
	s.sent = append(s.sent, msg)
	return mail.DeliveryInfo{
		Accepted:  []string{msg.To},
		Rejected:  []string{},
		Response:  "accepted by smtp.example.com:587",
		MessageID: "<id@x.com>",
		Envelope:  mail.Envelope{From: msg.From, To: []string{msg.To}},
	}, nil
}

type harness struct {
	router *gin.Engine
	store  *stubStore
	sender *stubSender
}

func withoutLogApp(cfg *config.Config) {
	cfg.Kintone.Apps = cfg.Kintone.Apps[:2]
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	return newHarnessWithLog(t, zaptest.NewLogger(t).Sugar(), mutate...)
}

func newHarnessWithLog(t *testing.T, log *zap.SugaredLogger, mutate ...func(*config.Config)) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		SMTPServers: []config.SMTPProfile{{Name: "default", Host: "smtp.example.com", Port: 587}},
		Kintone: config.Kintone{
			Domain: "example.cybozu.com",
			Apps: []config.App{
				{ID: "3", Type: config.AppTypeSource, APIToken: "t1", Types: []string{"ADD_RECORD", "UPDATE_RECORD"}},
				{ID: "20", Type: config.AppTypeTemplate, APIToken: "t2"},
				{ID: "30", Type: config.AppTypeLog, APIToken: "t3"},
			},
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}

	store := &stubStore{template: kintone.Record{
		"fromMailAddress": {Value: "a@x.com"},
		"toMailAddress":   {Value: "{{email}}"},
		"subject":         {Value: "Hi {{name}}"},
		"body":            {Value: "Body"},
		"attachments":     {Value: []any{}},
	}}
	sender := &stubSender{}
	r := relay.New(config.NewRegistry(cfg), store, sender, nil, log)

	ctrl := NewWebhookController(log, r)
	router := gin.New()
	require.NoError(t, ctrl.Register(router.Group(ctrl.BasePath(), ctrl.Handlers()...)))
	return &harness{router: router, store: store, sender: sender}
}

func (h *harness) post(path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.router.ServeHTTP(w, req)
	return w
}

const scenarioBody = `{
	"id": "01J0000000",
	"type": "ADD_RECORD",
	"app": {"id": "3", "name": "Inquiries"},
	"record": {
		"$id": {"type": "__ID__", "value": "5"},
		"email": {"type": "SINGLE_LINE_TEXT", "value": "b@y.com"},
		"name": {"type": "SINGLE_LINE_TEXT", "value": "Ken"}
	},
	"url": "https://example.cybozu.com/k/3/show#record=5"
}`

func TestHandleNotification_ScenarioA(t *testing.T) {
	for _, path := range []string{"/", KintonePath} {
		t.Run(path, func(t *testing.T) {
			h := newHarness(t)
			before := testutil.ToFloat64(metrics.WebhookRequests.WithLabelValues("delivered"))

			w := h.post(path, scenarioBody)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var info mail.DeliveryInfo
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
			assert.Equal(t, []string{"b@y.com"}, info.Accepted)
			assert.Equal(t, "<id@x.com>", info.MessageID)

			require.Len(t, h.sender.sent, 1)
			assert.Equal(t, mail.Message{From: "a@x.com", To: "b@y.com", Subject: "Hi Ken", Text: "Body"}, h.sender.sent[0])
			assert.Len(t, h.store.inserts, 1)
			assert.Equal(t, before+1, testutil.ToFloat64(metrics.WebhookRequests.WithLabelValues("delivered")))
		})
	}
}

func TestHandleNotification_NumericAppID(t *testing.T) {
	for _, id := range []string{`3`, `3.0`} {
		t.Run(id, func(t *testing.T) {
			h := newHarness(t)
			body := strings.Replace(scenarioBody, `"id": "3"`, `"id": `+id, 1)

			w := h.post(KintonePath, body)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Len(t, h.sender.sent, 1)
		})
	}
}

func TestHandleNotification_LogsHookAndRecordIDs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := newHarnessWithLog(t, zap.New(core).Sugar())

	w := h.post(KintonePath, scenarioBody)
	require.Equal(t, http.StatusOK, w.Code)

	processed := logs.FilterMessage("Webhook processed").All()
	require.Len(t, processed, 1)
	fields := processed[0].ContextMap()
	assert.Equal(t, "01J0000000", fields["hookId"])
	assert.Equal(t, "5", fields["record"])
}

func TestHandleNotification_ScenarioB_DomainMismatch(t *testing.T) {
	h := newHarness(t)
	body := strings.Replace(scenarioBody, "example.cybozu.com", "evil.example.com", 1)

	w := h.post(KintonePath, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apiresponses.BadRequestText, w.Body.String())
	assert.Zero(t, h.store.fetches)
	assert.Empty(t, h.sender.sent)
	assert.Empty(t, h.store.inserts)
}

func TestHandleNotification_ScenarioC_IgnoredType(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		hookType string
	}{
		{
			name:     "type not allowed",
			body:     strings.Replace(scenarioBody, "ADD_RECORD", "DELETE_RECORD", 1),
			hookType: "DELETE_RECORD",
		},
		{
			name:     "unknown app",
			body:     strings.Replace(scenarioBody, `"id": "3"`, `"id": "4"`, 1),
			hookType: "ADD_RECORD",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			before := testutil.ToFloat64(metrics.WebhookIgnoredByType.WithLabelValues(tt.hookType))

			w := h.post(KintonePath, tt.body)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "Ignore hook "+tt.hookType, w.Body.String())
			assert.Zero(t, h.store.fetches)
			assert.Empty(t, h.sender.sent)
			assert.Empty(t, h.store.inserts)
			assert.Equal(t, before+1, testutil.ToFloat64(metrics.WebhookIgnoredByType.WithLabelValues(tt.hookType)))
		})
	}
}

func TestHandleNotification_ScenarioD_SendFailure(t *testing.T) {
	h := newHarness(t)
	h.sender.err = errors.New("dial tcp 10.0.0.1:587: connection refused")

	w := h.post(KintonePath, scenarioBody)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body apiresponses.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(relay.ClassUpstream), body.Code)
	assert.Contains(t, body.Error, "connection refused")
	assert.Empty(t, h.store.inserts)
}

func TestHandleNotification_MissingLogApp(t *testing.T) {
	h := newHarness(t, withoutLogApp)

	w := h.post(KintonePath, scenarioBody)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body apiresponses.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(relay.ClassConfig), body.Code)
	assert.Contains(t, body.Error, "no log app configured")
	assert.Len(t, h.sender.sent, 1, "the mail went out before logging failed")
}

func TestHandleNotification_UndecodableBody(t *testing.T) {
	h := newHarness(t)
	for _, body := range []string{"", "not json", `{"app": {"id": {}}}`} {
		w := h.post(KintonePath, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
		assert.Equal(t, apiresponses.BadRequestText, w.Body.String())
	}
	assert.Zero(t, h.store.fetches)
}

func TestHandleNotification_MethodNotAllowed(t *testing.T) {
	h := newHarness(t)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, KintonePath, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookController_Handlers(t *testing.T) {
	called := false
	mw := func(c *gin.Context) { called = true; c.Next() }
	ctrl := NewWebhookController(zaptest.NewLogger(t).Sugar(), nil, mw)

	require.Len(t, ctrl.Handlers(), 1)
	ctrl.Handlers()[0](&gin.Context{})
	assert.True(t, called)
	assert.Equal(t, "/", ctrl.BasePath())
}
