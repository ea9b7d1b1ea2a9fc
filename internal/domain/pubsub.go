package domain

import (
	"encoding/json"
	"time"
)

type PubSubKind string

const (
	PubSubRedemption   PubSubKind = "redemption"
	PubSubBits         PubSubKind = "bits"
	PubSubModeration   PubSubKind = "moderation"
	PubSubSubscription PubSubKind = "subscription"
	PubSubPoll         PubSubKind = "poll"
	PubSubWhisper      PubSubKind = "whisper"
	PubSubFollow       PubSubKind = "follow"
	PubSubUnknown      PubSubKind = "unknown"
)

// PubSubEvent is a normalised PubSub MESSAGE. Fields that do not apply to
// the kind stay zero; Payload keeps the decoded inner message.
type PubSubEvent struct {
	Kind      PubSubKind
	Topic     string
	Channel   string
	ChannelID string

	User        string
	UserID      string
	Text        string
	RewardID    string
	RewardTitle string
	Cost        int
	Bits        int
	Months      int
	SubPlan     string
	IsGift      bool
	Action      string
	Args        []string
	PollID      string
	PollStatus  string

	Payload    json.RawMessage
	ReceivedAt time.Time
}
