package domain

import (
	"context"
	"time"
)

type NotificationType string

const (
	NotificationSubscription NotificationType = "subscription"
	NotificationBits         NotificationType = "bits"
	NotificationRaid         NotificationType = "raid"
	NotificationRedemption   NotificationType = "redemption"
	NotificationFollow       NotificationType = "follow"
	NotificationGeneric      NotificationType = "generic"
)

// Notification is a persisted record of a notable channel event.
type Notification struct {
	ID        int64
	Type      NotificationType
	Channel   string
	Username  string
	Amount    float64
	Message   string
	Metadata  map[string]string
	CreatedAt time.Time
}

type NotificationRepository interface {
	SaveNotification(ctx context.Context, n *Notification) (*Notification, error)
	ListNotifications(ctx context.Context, channel string, limit int) ([]*Notification, error)
}
