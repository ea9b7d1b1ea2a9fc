package irc

import (
	"regexp"
	"strconv"
	"strings"

	"twitchbot/internal/domain"
)

var (
	mentionRe = regexp.MustCompile(`@(\w+)`)
	timeoutRe = regexp.MustCompile(`(\d+)\s+(?:more\s+)?seconds?`)
)

var subscriptionMsgIDs = map[string]bool{
	"sub":                 true,
	"resub":               true,
	"subgift":             true,
	"anonsubgift":         true,
	"submysterygift":      true,
	"anongiftpaidupgrade": true,
	"giftpaidupgrade":     true,
}

var channelPointMsgIDs = map[string]bool{
	"highlighted-message":       true,
	"skip-subs-mode-message":    true,
	"animated-message":          true,
	"gigantified-emote-message": true,
}

// enrich fills the computed fields and refines the kind.
func enrich(ev *domain.ChatEvent) {
	ev.MsgID = ev.Tags["msg-id"]
	ev.SystemMessage = ev.Tags["system-msg"]
	ev.Mentions = mentions(ev.Content)

	switch ev.Kind {
	case domain.KindPrivmsg:
		ev.Bits = ev.TagInt("bits")
		ev.RewardID = ev.Tags["custom-reward-id"]
		switch {
		case ev.Bits > 0:
			ev.Kind = domain.KindBits
		case ev.RewardID != "" || channelPointMsgIDs[ev.MsgID]:
			ev.Kind = domain.KindChannelPoints
		}

	case domain.KindUserNotice:
		switch {
		case subscriptionMsgIDs[ev.MsgID]:
			ev.Kind = domain.KindSubscription
			ev.SubscriberMonths = ev.TagInt("msg-param-cumulative-months")
			if ev.SubscriberMonths == 0 {
				ev.SubscriberMonths = ev.TagInt("msg-param-months")
			}
			ev.SubPlan = ev.Tags["msg-param-sub-plan"]
			ev.IsPrime = strings.EqualFold(ev.SubPlan, "Prime")
		case ev.MsgID == "raid":
			ev.Kind = domain.KindRaid
			ev.RaidViewers = ev.TagInt("msg-param-viewerCount")
		}

	case domain.KindNotice:
		switch ev.MsgID {
		case "msg_banned":
			ev.Kind = domain.KindBotBanned
		case "msg_timedout":
			ev.Kind = domain.KindBotTimedOut
			if m := timeoutRe.FindStringSubmatch(ev.Content); m != nil {
				ev.TimeoutSeconds, _ = strconv.Atoi(m[1])
			}
		}
	}
}

func mentions(content string) []string {
	matches := mentionRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		login := strings.ToLower(m[1])
		if seen[login] {
			continue
		}
		seen[login] = true
		out = append(out, login)
	}
	return out
}
