package kafkautil

import (
	"reflect"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestParseBrokers(t *testing.T) {
	tests := []struct {
		name    string
		brokers string
		want    []string
	}{
		{
			name:    "single broker",
			brokers: "localhost:9092",
			want:    []string{"localhost:9092"},
		},
		{
			name:    "multiple brokers",
			brokers: "broker-1:9092,broker-2:9092",
			want:    []string{"broker-1:9092", "broker-2:9092"},
		},
		{
			name:    "whitespace trimmed",
			brokers: "broker-1:9092, broker-2:9092 ",
			want:    []string{"broker-1:9092", "broker-2:9092"},
		},
		{
			name:    "empty",
			brokers: "",
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseBrokers(tt.brokers)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseBrokers(%q) = %v, want %v", tt.brokers, got, tt.want)
			}
		})
	}
}

func TestValidateConsumerParams(t *testing.T) {
	tests := []struct {
		name    string
		brokers string
		topic   string
		groupID string
		wantErr bool
	}{
		{name: "valid", brokers: "localhost:9092", topic: "alarms", groupID: "g"},
		{name: "empty brokers", topic: "alarms", groupID: "g", wantErr: true},
		{name: "empty topic", brokers: "localhost:9092", groupID: "g", wantErr: true},
		{name: "empty group", brokers: "localhost:9092", topic: "alarms", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConsumerParams(tt.brokers, tt.topic, tt.groupID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConsumerParams() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateProducerParams(t *testing.T) {
	if err := ValidateProducerParams("localhost:9092"); err != nil {
		t.Errorf("ValidateProducerParams() error = %v", err)
	}
	if err := ValidateProducerParams(""); err == nil {
		t.Error("ValidateProducerParams() expected error for empty brokers")
	}
}

func TestNewReaderConfig(t *testing.T) {
	cfg := NewReaderConfig([]string{"localhost:9092"}, "alarms", "group-1")

	if cfg.Topic != "alarms" || cfg.GroupID != "group-1" {
		t.Errorf("topic/group = %v/%v", cfg.Topic, cfg.GroupID)
	}
	// Synchronous commits: one durable commit per handled record.
	if cfg.CommitInterval != 0 {
		t.Errorf("CommitInterval = %v, want 0", cfg.CommitInterval)
	}
	if cfg.StartOffset != kafka.FirstOffset {
		t.Errorf("StartOffset = %v, want FirstOffset", cfg.StartOffset)
	}
}
