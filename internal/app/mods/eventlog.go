package mods

import (
	"context"
	"strconv"
	"time"

	"twitchbot/internal/app/events"
	"twitchbot/internal/domain"
	"twitchbot/internal/infrastructure/logger"
	"twitchbot/internal/usecase/hooks"
)

// EventLog records subscriptions, bits, raids, redemptions and follows as
// notifications and publishes them on the bus.
type EventLog struct {
	hooks.Base
	env *Env
	now func() time.Time
}

func NewEventLog() Mod {
	return &EventLog{now: time.Now}
}

func (l *EventLog) Name() string { return "eventlog" }

func (l *EventLog) Loaded(_ context.Context, env *Env) error {
	l.env = env
	return nil
}

func (l *EventLog) Unloaded(context.Context) {}

func (l *EventLog) ChannelSubscription(ctx context.Context, ev *domain.ChatEvent) {
	meta := map[string]string{"msg_id": ev.MsgID, "plan": ev.SubPlan}
	if ev.IsPrime {
		meta["prime"] = "true"
	}
	l.record(ctx, &domain.Notification{
		Type:     domain.NotificationSubscription,
		Channel:  ev.Channel,
		Username: ev.Author,
		Amount:   float64(ev.SubscriberMonths),
		Message:  ev.SystemMessage,
		Metadata: meta,
	})
}

func (l *EventLog) BitsDonated(ctx context.Context, ev *domain.ChatEvent) {
	l.record(ctx, &domain.Notification{
		Type:     domain.NotificationBits,
		Channel:  ev.Channel,
		Username: ev.Author,
		Amount:   float64(ev.Bits),
		Message:  ev.Content,
	})
}

func (l *EventLog) Raid(ctx context.Context, ev *domain.ChatEvent) {
	l.record(ctx, &domain.Notification{
		Type:     domain.NotificationRaid,
		Channel:  ev.Channel,
		Username: ev.Author,
		Amount:   float64(ev.RaidViewers),
		Message:  ev.SystemMessage,
	})
}

func (l *EventLog) ChannelPointsRedeemed(ctx context.Context, ev *domain.ChatEvent) {
	l.record(ctx, &domain.Notification{
		Type:     domain.NotificationRedemption,
		Channel:  ev.Channel,
		Username: ev.Author,
		Message:  ev.Content,
		Metadata: map[string]string{"reward_id": ev.RewardID},
	})
}

// Redemption covers PubSub redemptions; chat only sees those with text.
func (l *EventLog) Redemption(ctx context.Context, ev *domain.PubSubEvent) {
	l.record(ctx, &domain.Notification{
		Type:     domain.NotificationRedemption,
		Channel:  ev.Channel,
		Username: ev.User,
		Amount:   float64(ev.Cost),
		Message:  ev.Text,
		Metadata: map[string]string{"reward_id": ev.RewardID, "reward": ev.RewardTitle, "source": "pubsub"},
	})
}

func (l *EventLog) Follow(ctx context.Context, ev *domain.PubSubEvent) {
	l.record(ctx, &domain.Notification{
		Type:     domain.NotificationFollow,
		Channel:  ev.Channel,
		Username: ev.User,
		Metadata: map[string]string{"user_id": ev.UserID},
	})
}

// UserNotice logs notices that have no dedicated notification type.
func (l *EventLog) UserNotice(_ context.Context, ev *domain.ChatEvent) {
	logger.Channel(ev.Channel).Info("user notice",
		"msg_id", ev.MsgID,
		"user", ev.Author,
		"system_message", ev.SystemMessage,
	)
}

func (l *EventLog) record(ctx context.Context, n *domain.Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = l.now().UTC()
	}
	log := logger.Channel(n.Channel).With("mod", l.Name())
	log.Info("channel event",
		"type", n.Type,
		"user", n.Username,
		"amount", strconv.FormatFloat(n.Amount, 'f', -1, 64),
	)
	if l.env == nil {
		return
	}
	if l.env.Notifications != nil {
		saved, err := l.env.Notifications.SaveNotification(ctx, n)
		if err != nil {
			log.Error("notification not stored", "error", err)
		} else if saved != nil {
			n = saved
		}
	}
	l.env.Bus.Publish(events.TopicNotification, events.NewNotificationDTO(n))
}
