package domain

import (
	"strconv"
	"time"
)

// EventKind classifies an inbound chat frame. Every frame gets exactly one.
type EventKind string

const (
	KindNone          EventKind = "none"
	KindPrivmsg       EventKind = "privmsg"
	KindWhisper       EventKind = "whisper"
	KindUserJoin      EventKind = "user-join"
	KindUserPart      EventKind = "user-part"
	KindUserNotice    EventKind = "user-notice"
	KindSubscription  EventKind = "subscription"
	KindRaid          EventKind = "raid"
	KindNotice        EventKind = "notice"
	KindChannelPoints EventKind = "channel-points"
	KindBits          EventKind = "bits"
	KindPing          EventKind = "ping"
	KindBotBanned     EventKind = "bot-banned"
	KindBotTimedOut   EventKind = "bot-timedout"
)

// Emote is an emote occurrence inside a message.
type Emote struct {
	ID    string
	Name  string
	Index int // token index in Parts, -1 when only known from the emotes tag
	Start int
	End   int
}

// ChatEvent is one parsed inbound frame. It is built by the parser and not
// modified afterwards.
type ChatEvent struct {
	Kind    EventKind
	Raw     string
	Command string

	Author   string
	Receiver string
	Channel  string
	Content  string
	Parts    []string

	Tags     map[string]string
	Badges   map[string]string
	Mentions []string
	Emotes   []Emote

	SystemMessage    string
	MsgID            string
	RewardID         string
	Bits             int
	SubscriberMonths int
	SubPlan          string
	IsPrime          bool
	RaidViewers      int
	TimeoutSeconds   int

	ReceivedAt time.Time
}

// UserAuthored reports whether the event carries text typed by a user.
func (e *ChatEvent) UserAuthored() bool {
	if e == nil {
		return false
	}
	return e.Kind == KindWhisper || e.InChannel()
}

// InChannel reports whether the event is a chat line in a channel. Cheers and
// channel-point messages are privmsgs re-kinded by their tags.
func (e *ChatEvent) InChannel() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case KindPrivmsg, KindBits, KindChannelPoints:
		return true
	}
	return false
}

func (e *ChatEvent) Tag(key string) string {
	if e == nil || e.Tags == nil {
		return ""
	}
	return e.Tags[key]
}

// TagInt returns the tag value as an int, 0 when missing or malformed.
func (e *ChatEvent) TagInt(key string) int {
	n, err := strconv.Atoi(e.Tag(key))
	if err != nil {
		return 0
	}
	return n
}

// DisplayName prefers the display-name tag over the login.
func (e *ChatEvent) DisplayName() string {
	if name := e.Tag("display-name"); name != "" {
		return name
	}
	return e.Author
}

func (e *ChatEvent) HasBadge(name string) bool {
	if e == nil || e.Badges == nil {
		return false
	}
	_, ok := e.Badges[name]
	return ok
}

// Mentioned reports whether login appears among the @mentions.
func (e *ChatEvent) Mentioned(login string) bool {
	for _, m := range e.Mentions {
		if m == login {
			return true
		}
	}
	return false
}
