package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventBus publishes scan events and alerts.
// Supports Go channels or NATS.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "none", "channel" or "nats"
	Type string

	// Channel settings
	ChannelBufferSize int

	// NATS settings
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Topic names.
const (
	TopicScanCompleted = "kestrel.scan.completed"
	TopicAlert         = "kestrel.alert"
)

// Alert is published for every flagged transaction of a run.
type Alert struct {
	RunID          string          `json:"runId"`
	UserID         string          `json:"userId"`
	Timestamp      time.Time       `json:"timestamp"`
	MerchantName   string          `json:"merchantName"`
	Amount         decimal.Decimal `json:"amount"`
	RiskScore      float64         `json:"riskScore"`
	TriggeredRules []string        `json:"triggeredRules"`
	Explanation    string          `json:"explanation"`
}

// NewAlert builds the alert for a scored transaction.
func NewAlert(runID string, tx *EnrichedTransaction) *Alert {
	return &Alert{
		RunID:          runID,
		UserID:         tx.UserID,
		Timestamp:      tx.Timestamp,
		MerchantName:   tx.MerchantName,
		Amount:         tx.Amount,
		RiskScore:      tx.Outcome.RiskScore,
		TriggeredRules: tx.Outcome.Tags(),
		Explanation:    tx.Outcome.Explanation(),
	}
}

// ScanCompleted is published once per finished run.
type ScanCompleted struct {
	RunID string         `json:"runId"`
	Stats DetectionStats `json:"stats"`
}
