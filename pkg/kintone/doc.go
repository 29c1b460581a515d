// Package kintone is a small REST client for the two kintone endpoints the relay
// needs (read the newest record of an app, add a record) plus the webhook payload types.
package kintone
