// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReqLoggerKey is the context key used to store request-scoped logger in gin context.
const ReqLoggerKey = "reqLogger"

// RequestIDHeader is echoed back on every response and reused when the caller sends one.
const RequestIDHeader = "X-Request-ID"

// RequestLogger stores a logger annotated with the request id, method and path in
// the gin context under ReqLoggerKey.
func RequestLogger(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Set(ReqLoggerKey, base.With("requestId", id, "method", c.Request.Method, "path", c.FullPath()))
		c.Next()
	}
}

// GetReqLogger returns the request-scoped sugared logger from gin.Context if present,
// otherwise returns the fallback.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if v, ok := c.Get(ReqLoggerKey); ok {
		if l, ok2 := v.(*zap.SugaredLogger); ok2 {
			return l
		}
	}
	return fallback
}

// HookFields returns key/value pairs identifying a webhook for SugaredLogger.With.
// The hook and record ids are only included when known.
func HookFields(appID, hookType, hookID, recordID string) []interface{} {
	fields := []interface{}{"app", appID, "type", hookType}
	if hookID != "" {
		fields = append(fields, "hookId", hookID)
	}
	if recordID != "" {
		fields = append(fields, "record", recordID)
	}
	return fields
}
