package webhook

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/kintone-mail-relay/pkg/apiresponses"
	"github.com/telekom/kintone-mail-relay/pkg/kintone"
	"github.com/telekom/kintone-mail-relay/pkg/metrics"
	"github.com/telekom/kintone-mail-relay/pkg/relay"
	"github.com/telekom/kintone-mail-relay/pkg/system"
)

// KintonePath is the explicit webhook route. The root path is also served so
// webhook URLs configured for the original deployment keep working.
const KintonePath = "/hooks/kintone"

const (
	outcomeBadRequest = "bad_request"
	outcomeRejected   = "rejected"
	outcomeIgnored    = "ignored"
	outcomeDelivered  = "delivered"
	outcomeFailed     = "failed"
)

type WebhookController struct {
	log      *zap.SugaredLogger
	relay    *relay.Relay
	handlers []gin.HandlerFunc
}

// NewWebhookController creates the kintone webhook controller. handlers run
// before every webhook route, e.g. the rate limiter.
func NewWebhookController(log *zap.SugaredLogger, r *relay.Relay, handlers ...gin.HandlerFunc) *WebhookController {
	return &WebhookController{
		log:      log.Named("webhook"),
		relay:    r,
		handlers: handlers,
	}
}

func (WebhookController) BasePath() string {
	return "/"
}

func (wc *WebhookController) Register(rg *gin.RouterGroup) error {
	rg.POST("", wc.handleNotification)
	rg.POST(KintonePath, wc.handleNotification)
	return nil
}

func (wc *WebhookController) Handlers() []gin.HandlerFunc {
	return wc.handlers
}

// handleNotification walks one webhook through domain check, type check,
// mail and log. Rejections and pipeline errors end the request early.
func (wc *WebhookController) handleNotification(c *gin.Context) {
	start := time.Now()
	outcome := outcomeFailed
	defer func() {
		metrics.WebhookRequests.WithLabelValues(outcome).Inc()
		metrics.WebhookDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	reqLog := system.GetReqLogger(c, wc.log)

	var n kintone.Notification
	if err := c.ShouldBindJSON(&n); err != nil {
		outcome = outcomeBadRequest
		reqLog.Warnw("Failed to decode webhook body", "error", err)
		apiresponses.RespondBadRequestText(c)
		return
	}
	reqLog = reqLog.With(system.HookFields(n.App.ID.String(), n.Type, n.ID, n.RecordID())...)

	registry := wc.relay.Registry()
	if !relay.CheckURLDomain(n, registry.Domain()) {
		outcome = outcomeRejected
		reqLog.Warnw("Rejected webhook from unexpected domain", "url", n.URL, "expected", registry.Domain())
		apiresponses.RespondBadRequestText(c)
		return
	}

	source, ok := registry.MatchSourceApp(n.App.ID, n.Type)
	if !ok {
		outcome = outcomeIgnored
		metrics.WebhookIgnoredByType.WithLabelValues(n.Type).Inc()
		reqLog.Infow("Ignoring webhook not configured for this app")
		apiresponses.RespondIgnored(c, n.Type)
		return
	}

	info, err := wc.relay.Deliver(c.Request.Context(), n, source)
	if err != nil {
		class := relay.Classify(err)
		reqLog.Errorw("Webhook processing failed", "class", class, "error", err)
		apiresponses.RespondPipelineError(c, string(class), err)
		return
	}

	outcome = outcomeDelivered
	reqLog.Infow("Webhook processed", "messageId", info.MessageID, "duration", time.Since(start))
	apiresponses.RespondOK(c, info)
}
