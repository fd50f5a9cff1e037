// Package notifier delivers short outbound messages (reminders) through
// channel gateways such as SMS or Telegram.
//
// Notify only queues. A worker pool drains the queue under a shared token
// bucket and retries transient gateway failures with jittered backoff.
// Gateways mark permanent failures with engine.NoRetry and rate limits with
// engine.RetryAfter.
//
// # Dedup
//
// Every message carries a dedup key (explicit, or a hash of channel, target
// and text). A key is suppressed for DedupWindow after it was accepted. With
// PersistDedup the suppression is also written to storage so a restart does
// not resend. A message that ultimately fails releases its key so a later
// attempt can go through.
package notifier

import (
	"context"
	"time"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Channel names.
const (
	ChannelSMS      = "sms"
	ChannelTelegram = "telegram"
)

// Message is one outbound notification. To is channel specific: an E.164
// phone number for sms, a chat id for telegram.
type Message struct {
	Channel string
	To      string
	Text    string
	// Key overrides the computed dedup key.
	Key string
}

// Gateway sends a message over one channel.
type Gateway interface {
	Channel() string
	Send(ctx context.Context, to, text string) error
}

// Observer is told the final outcome of every message: "sent", "failed",
// "deduped" or "dropped".
type Observer interface {
	NotificationResult(channel, result string)
}

type HistoryItem struct {
	At      time.Time
	Channel string
	To      string
	Key     string
	Error   string
}

// NotificationEvent is the payload of notifier.* bus events.
type NotificationEvent struct {
	Channel string    `json:"channel"`
	To      string    `json:"to"`
	Key     string    `json:"key"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}

// Bus topics.
const (
	TopicQueued  = "notifier.queued"
	TopicDeduped = "notifier.deduped"
	TopicDropped = "notifier.dropped"
	TopicSent    = "notifier.sent"
	TopicFailed  = "notifier.failed"
)
