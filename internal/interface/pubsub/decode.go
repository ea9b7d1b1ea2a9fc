package pubsub

import (
	"encoding/json"
	"strings"

	"twitchbot/internal/domain"
)

type userRef struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

type redemptionMessage struct {
	Type string `json:"type"`
	Data struct {
		Redemption struct {
			User   userRef `json:"user"`
			Reward struct {
				ID    string `json:"id"`
				Title string `json:"title"`
				Cost  int    `json:"cost"`
			} `json:"reward"`
			UserInput string `json:"user_input"`
		} `json:"redemption"`
	} `json:"data"`
}

type bitsMessage struct {
	Data struct {
		UserName    string `json:"user_name"`
		UserID      string `json:"user_id"`
		BitsUsed    int    `json:"bits_used"`
		ChatMessage string `json:"chat_message"`
	} `json:"data"`
}

type subMessage struct {
	UserName         string `json:"user_name"`
	UserID           string `json:"user_id"`
	SubPlan          string `json:"sub_plan"`
	CumulativeMonths int    `json:"cumulative_months"`
	IsGift           bool   `json:"is_gift"`
	RecipientName    string `json:"recipient_user_name"`
	SubMessage       struct {
		Message string `json:"message"`
	} `json:"sub_message"`
}

type moderationMessage struct {
	Data struct {
		Action          string   `json:"moderation_action"`
		Args            []string `json:"args"`
		CreatedBy       string   `json:"created_by"`
		CreatedByUserID string   `json:"created_by_user_id"`
	} `json:"data"`
}

type pollMessage struct {
	Type string `json:"type"`
	Data struct {
		Poll struct {
			PollID string `json:"poll_id"`
			Status string `json:"status"`
			Title  string `json:"title"`
		} `json:"poll"`
	} `json:"data"`
}

type whisperMessage struct {
	Type       string `json:"type"`
	DataObject struct {
		Body   string `json:"body"`
		FromID int64  `json:"from_id"`
		Tags   struct {
			Login string `json:"login"`
		} `json:"tags"`
	} `json:"data_object"`
}

type followMessage struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// topicName strips the ids from a topic: "polls.123" -> "polls".
func topicName(topic string) string {
	if i := strings.IndexByte(topic, '.'); i >= 0 {
		return topic[:i]
	}
	return topic
}

// topicChannelID is the last dotted segment of a topic.
func topicChannelID(topic string) string {
	if i := strings.LastIndexByte(topic, '.'); i >= 0 {
		return topic[i+1:]
	}
	return ""
}

// Decode turns a MESSAGE payload into an event. Malformed or unrecognised
// payloads come back as PubSubUnknown with the raw payload kept.
func Decode(topic string, payload []byte) *domain.PubSubEvent {
	ev := &domain.PubSubEvent{
		Kind:      domain.PubSubUnknown,
		Topic:     topic,
		ChannelID: topicChannelID(topic),
		Payload:   json.RawMessage(append([]byte(nil), payload...)),
	}

	switch topicName(topic) {
	case "channel-points-channel-v1":
		var m redemptionMessage
		if json.Unmarshal(payload, &m) != nil || m.Type != "reward-redeemed" {
			return ev
		}
		r := m.Data.Redemption
		ev.Kind = domain.PubSubRedemption
		ev.User = strings.ToLower(r.User.Login)
		ev.UserID = r.User.ID
		ev.RewardID = r.Reward.ID
		ev.RewardTitle = r.Reward.Title
		ev.Cost = r.Reward.Cost
		ev.Text = r.UserInput

	case "channel-bits-events-v2", "channel-bits-events-v1":
		var m bitsMessage
		if json.Unmarshal(payload, &m) != nil {
			return ev
		}
		ev.Kind = domain.PubSubBits
		ev.User = strings.ToLower(m.Data.UserName)
		ev.UserID = m.Data.UserID
		ev.Bits = m.Data.BitsUsed
		ev.Text = m.Data.ChatMessage

	case "channel-subscribe-events-v1":
		var m subMessage
		if json.Unmarshal(payload, &m) != nil {
			return ev
		}
		ev.Kind = domain.PubSubSubscription
		ev.User = strings.ToLower(m.UserName)
		ev.UserID = m.UserID
		ev.SubPlan = m.SubPlan
		ev.Months = m.CumulativeMonths
		ev.IsGift = m.IsGift
		ev.Text = m.SubMessage.Message
		if m.IsGift && m.RecipientName != "" {
			ev.Args = []string{strings.ToLower(m.RecipientName)}
		}

	case "chat_moderator_actions":
		var m moderationMessage
		if json.Unmarshal(payload, &m) != nil {
			return ev
		}
		ev.Kind = domain.PubSubModeration
		ev.Action = m.Data.Action
		ev.Args = m.Data.Args
		ev.User = strings.ToLower(m.Data.CreatedBy)
		ev.UserID = m.Data.CreatedByUserID

	case "polls":
		var m pollMessage
		if json.Unmarshal(payload, &m) != nil {
			return ev
		}
		ev.Kind = domain.PubSubPoll
		ev.PollID = m.Data.Poll.PollID
		ev.PollStatus = m.Data.Poll.Status
		ev.Text = m.Data.Poll.Title
		ev.Action = m.Type

	case "whispers":
		var m whisperMessage
		if json.Unmarshal(payload, &m) != nil {
			return ev
		}
		ev.Kind = domain.PubSubWhisper
		ev.User = strings.ToLower(m.DataObject.Tags.Login)
		ev.Text = m.DataObject.Body
		ev.Action = m.Type

	case "following":
		var m followMessage
		if json.Unmarshal(payload, &m) != nil {
			return ev
		}
		ev.Kind = domain.PubSubFollow
		ev.User = strings.ToLower(m.Username)
		ev.UserID = m.UserID
	}
	return ev
}
