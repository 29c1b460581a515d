// Package audit publishes a delivery event for every relayed mail to the
// process log and, when configured, to a Kafka topic.
package audit
