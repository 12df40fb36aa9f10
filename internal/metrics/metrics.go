// Package metrics provides metrics recording for the notification
// engines. It uses the null object pattern to avoid nil checks throughout
// the codebase.
package metrics

import "time"

// Recorder defines the interface for recording pipeline metrics.
type Recorder interface {
	// RecordAlarmFinished increments the count of fully handled alarm
	// records.
	RecordAlarmFinished()

	// RecordParseFailure increments the count of malformed alarm records.
	RecordParseFailure()

	// RecordNoNotification increments the count of alarms that produced
	// no notifications (disabled, stale, or no matching actions).
	RecordNoNotification()

	// RecordCreated adds to the count of notifications created by the
	// transformer.
	RecordCreated(count int)

	// RecordSent increments the sent counter for a notification type.
	RecordSent(notificationType string)

	// RecordSendError increments the failure counter for a notification
	// type.
	RecordSendError(notificationType string)

	// RecordInvalidType increments the counter of notifications whose
	// type has no active dispatcher.
	RecordInvalidType()

	// RecordSendLatency records one dispatch attempt's duration for a
	// notification type.
	RecordSendLatency(notificationType string, latency time.Duration)

	// RecordConsumerError increments the Kafka consumer error counter.
	RecordConsumerError()

	// RecordProducerError increments the Kafka producer error counter for
	// a topic.
	RecordProducerError(topic string)
}

// NoOp is a Recorder that discards all metrics. Use it when no metrics
// sink is configured.
type NoOp struct{}

// NewNoOp creates a new no-op metrics recorder.
func NewNoOp() *NoOp {
	return &NoOp{}
}

func (n *NoOp) RecordAlarmFinished()                           {}
func (n *NoOp) RecordParseFailure()                            {}
func (n *NoOp) RecordNoNotification()                          {}
func (n *NoOp) RecordCreated(_ int)                            {}
func (n *NoOp) RecordSent(_ string)                            {}
func (n *NoOp) RecordSendError(_ string)                       {}
func (n *NoOp) RecordInvalidType()                             {}
func (n *NoOp) RecordSendLatency(_ string, _ time.Duration)    {}
func (n *NoOp) RecordConsumerError()                           {}
func (n *NoOp) RecordProducerError(_ string)                   {}

var _ Recorder = (*NoOp)(nil)
