// Package webhook exposes the HTTP endpoint kintone posts record notifications to.
package webhook
