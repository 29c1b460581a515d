package kintone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/telekom/kintone-mail-relay/pkg/config"
	"github.com/telekom/kintone-mail-relay/pkg/metrics"
	"github.com/telekom/kintone-mail-relay/pkg/version"
)

const (
	// APITokenHeader carries the per-app API token.
	APITokenHeader = "X-Cybozu-API-Token"

	recordsPath = "/k/v1/records.json"
	recordPath  = "/k/v1/record.json"
)

// ErrNoRecords is returned by FetchFirstRecord when the app holds no records.
var ErrNoRecords = errors.New("no records")

// APIError is the error body kintone returns for rejected requests.
type APIError struct {
	Status  int            `json:"-"`
	Code    string         `json:"code"`
	ID      string         `json:"id"`
	Message string         `json:"message"`
	Errors  map[string]any `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("kintone api error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("kintone api error (status %d, %s): %s", e.Status, e.Code, e.Message)
}

type recordsResponse struct {
	Records []Record `json:"records"`
}

type addRecordRequest struct {
	App    any    `json:"app"`
	Record Record `json:"record"`
}

type addRecordResponse struct {
	ID       string `json:"id"`
	Revision string `json:"revision"`
}

// Client talks to the kintone REST API. Each call authenticates with the API
// token of the app it targets.
type Client struct {
	rc  *resty.Client
	log *zap.SugaredLogger
}

// NewClient creates a client for cfg.Domain, or cfg.BaseURL when set. A zero
// timeout leaves the transport defaults in place.
func NewClient(cfg config.Kintone, timeout time.Duration, log *zap.SugaredLogger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://" + cfg.Domain
	}
	rc := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", version.UserAgent())
	if timeout > 0 {
		rc.SetTimeout(timeout)
	}
	return &Client{rc: rc, log: log.Named("kintone")}
}

// FetchFirstRecord returns the first record of app in kintone's default order
// (newest first). It returns ErrNoRecords when the app is empty.
func (c *Client) FetchFirstRecord(ctx context.Context, app config.App) (Record, error) {
	var out recordsResponse
	var apiErr APIError
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader(APITokenHeader, app.APIToken).
		SetQueryParams(map[string]string{
			"app":   app.ID.String(),
			"query": "limit 1",
		}).
		SetResult(&out).
		SetError(&apiErr).
		Get(recordsPath)
	if err != nil {
		metrics.KintoneRequests.WithLabelValues("get_records", "error").Inc()
		return nil, fmt.Errorf("get records of app %s: %w", app.ID, err)
	}
	if resp.IsError() {
		metrics.KintoneRequests.WithLabelValues("get_records", "error").Inc()
		return nil, fmt.Errorf("get records of app %s: %w", app.ID, completeAPIError(&apiErr, resp))
	}
	metrics.KintoneRequests.WithLabelValues("get_records", "success").Inc()

	c.log.Debugw("Fetched records", "app", app.ID, "count", len(out.Records))
	if len(out.Records) == 0 {
		return nil, fmt.Errorf("app %s: %w", app.ID, ErrNoRecords)
	}
	return out.Records[0], nil
}

// InsertRecord adds record to app and returns the new record id.
func (c *Client) InsertRecord(ctx context.Context, app config.App, record Record) (string, error) {
	var out addRecordResponse
	var apiErr APIError
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader(APITokenHeader, app.APIToken).
		SetHeader("Content-Type", "application/json").
		SetBody(addRecordRequest{App: appParam(app.ID), Record: record}).
		SetResult(&out).
		SetError(&apiErr).
		Post(recordPath)
	if err != nil {
		metrics.KintoneRequests.WithLabelValues("add_record", "error").Inc()
		return "", fmt.Errorf("add record to app %s: %w", app.ID, err)
	}
	if resp.IsError() {
		metrics.KintoneRequests.WithLabelValues("add_record", "error").Inc()
		return "", fmt.Errorf("add record to app %s: %w", app.ID, completeAPIError(&apiErr, resp))
	}
	metrics.KintoneRequests.WithLabelValues("add_record", "success").Inc()

	c.log.Debugw("Inserted record", "app", app.ID, "id", out.ID, "revision", out.Revision)
	return out.ID, nil
}

// appParam sends numeric ids as JSON numbers, anything else as a string.
func appParam(id config.AppID) any {
	if _, err := strconv.ParseUint(string(id), 10, 64); err == nil {
		return json.Number(id)
	}
	return string(id)
}

func completeAPIError(apiErr *APIError, resp *resty.Response) *APIError {
	apiErr.Status = resp.StatusCode()
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(resp.String())
	}
	if apiErr.Message == "" {
		apiErr.Message = resp.Status()
	}
	return apiErr
}
