package events

import (
	"time"

	"twitchbot/internal/domain"
)

// ChatEventDTO is the JSON shape pushed to /ws/events subscribers.
type ChatEventDTO struct {
	Kind        string            `json:"kind"`
	Channel     string            `json:"channel,omitempty"`
	Author      string            `json:"author,omitempty"`
	DisplayName string            `json:"display_name,omitempty"`
	Content     string            `json:"content,omitempty"`
	Mentions    []string          `json:"mentions,omitempty"`
	Badges      map[string]string `json:"badges,omitempty"`
	Bits        int               `json:"bits,omitempty"`
	Months      int               `json:"months,omitempty"`
	Viewers     int               `json:"viewers,omitempty"`
	SystemMsg   string            `json:"system_message,omitempty"`
	Timestamp   string            `json:"timestamp"`
}

func NewChatEventDTO(ev *domain.ChatEvent) ChatEventDTO {
	ts := ev.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return ChatEventDTO{
		Kind:        string(ev.Kind),
		Channel:     ev.Channel,
		Author:      ev.Author,
		DisplayName: ev.DisplayName(),
		Content:     ev.Content,
		Mentions:    ev.Mentions,
		Badges:      ev.Badges,
		Bits:        ev.Bits,
		Months:      ev.SubscriberMonths,
		Viewers:     ev.RaidViewers,
		SystemMsg:   ev.SystemMessage,
		Timestamp:   ts.UTC().Format(time.RFC3339Nano),
	}
}

type PubSubEventDTO struct {
	Kind      string `json:"kind"`
	Topic     string `json:"topic"`
	Channel   string `json:"channel,omitempty"`
	User      string `json:"user,omitempty"`
	Text      string `json:"text,omitempty"`
	Reward    string `json:"reward,omitempty"`
	Bits      int    `json:"bits,omitempty"`
	Timestamp string `json:"timestamp"`
}

func NewPubSubEventDTO(ev *domain.PubSubEvent) PubSubEventDTO {
	ts := ev.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return PubSubEventDTO{
		Kind:      string(ev.Kind),
		Topic:     ev.Topic,
		Channel:   ev.Channel,
		User:      ev.User,
		Text:      ev.Text,
		Reward:    ev.RewardTitle,
		Bits:      ev.Bits,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
	}
}

type NotificationDTO struct {
	ID        int64             `json:"id"`
	Type      string            `json:"type"`
	Channel   string            `json:"channel"`
	Username  string            `json:"username"`
	Amount    float64           `json:"amount,omitempty"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt string            `json:"created_at"`
}

func NewNotificationDTO(n *domain.Notification) NotificationDTO {
	return NotificationDTO{
		ID:        n.ID,
		Type:      string(n.Type),
		Channel:   n.Channel,
		Username:  n.Username,
		Amount:    n.Amount,
		Message:   n.Message,
		Metadata:  n.Metadata,
		CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// PollDTO reports a poll start ("started") or end ("ended") with its tally.
type PollDTO struct {
	State    string   `json:"state"`
	ID       int64    `json:"id"`
	Channel  string   `json:"channel"`
	Title    string   `json:"title"`
	Choices  []string `json:"choices"`
	Tally    []int    `json:"tally"`
	Winners  []int    `json:"winners,omitempty"`
	Duration string   `json:"duration"`
}

func NewPollDTO(state string, p *domain.Poll) PollDTO {
	return PollDTO{
		State:    state,
		ID:       p.ID,
		Channel:  p.Channel,
		Title:    p.Title,
		Choices:  p.Choices,
		Tally:    p.Tally(),
		Winners:  p.Winners(),
		Duration: p.Duration.String(),
	}
}
