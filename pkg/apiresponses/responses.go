/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apiresponses

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// BadRequestText is the plain-text body kintone receives for rejected webhooks.
const BadRequestText = "Bad Request"

// APIError represents a standardized error response.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// RespondBadRequestText sends a plain-text 400. Used for webhooks that fail
// origin or body validation, where the caller is not expected to parse the body.
func RespondBadRequestText(c *gin.Context) {
	c.String(http.StatusBadRequest, BadRequestText)
}

// RespondPipelineError sends a 400 with the error text and a machine-readable
// code telling configuration, template and upstream faults apart.
func RespondPipelineError(c *gin.Context, code string, err error) {
	c.JSON(http.StatusBadRequest, APIError{
		Error: err.Error(),
		Code:  code,
	})
}

// RespondIgnored sends a 200 plain-text notice for webhooks the relay does not handle.
func RespondIgnored(c *gin.Context, hookType string) {
	c.String(http.StatusOK, "Ignore hook "+hookType)
}

// RespondTooManyRequests sends a 429 Too Many Requests response.
func RespondTooManyRequests(c *gin.Context) {
	c.JSON(http.StatusTooManyRequests, APIError{
		Error: "rate limit exceeded, please try again later",
		Code:  "RATE_LIMITED",
	})
}

// RespondOK sends a 200 OK response with the given data.
func RespondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}
