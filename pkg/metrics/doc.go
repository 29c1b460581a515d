// Package metrics defines Prometheus metrics for the relay, covering inbound
// webhooks, kintone calls, mail delivery and delivery event publishing.
package metrics
