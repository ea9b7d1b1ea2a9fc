// Package irc turns raw Twitch IRC lines into domain chat events.
package irc

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"twitchbot/internal/domain"
)

// MaxFrameSize is the largest inbound line accepted, tags included.
const MaxFrameSize = 8 * 1024

var ErrFrameTooLong = errors.New("irc: frame exceeds 8 KiB")

type recognizer struct {
	kind domain.EventKind
	re   *regexp.Regexp
	// fill maps submatches onto the event.
	fill func(ev *domain.ChatEvent, m []string)
}

const userPrefix = `^:([^!\s]+)![^@\s]+@\S+ `

var recognizers = []recognizer{
	{
		kind: domain.KindUserNotice,
		re:   regexp.MustCompile(`^:\S+ USERNOTICE #(\S+)(?: :(.*))?$`),
		fill: func(ev *domain.ChatEvent, m []string) {
			ev.Channel, ev.Content = m[1], m[2]
			ev.Author = strings.ToLower(ev.Tag("login"))
		},
	},
	{
		kind: domain.KindNotice,
		re:   regexp.MustCompile(`^:\S+ NOTICE (\S+) :(.*)$`),
		fill: func(ev *domain.ChatEvent, m []string) {
			if strings.HasPrefix(m[1], "#") {
				ev.Channel = m[1][1:]
			}
			ev.Content = m[2]
		},
	},
	{
		kind: domain.KindPrivmsg,
		re:   regexp.MustCompile(userPrefix + `PRIVMSG #(\S+) :(.*)$`),
		fill: func(ev *domain.ChatEvent, m []string) {
			ev.Author, ev.Channel, ev.Content = m[1], m[2], m[3]
		},
	},
	{
		kind: domain.KindWhisper,
		re:   regexp.MustCompile(userPrefix + `WHISPER (\S+) :(.*)$`),
		fill: func(ev *domain.ChatEvent, m []string) {
			ev.Author, ev.Receiver, ev.Content = m[1], strings.ToLower(m[2]), m[3]
		},
	},
	{
		kind: domain.KindUserJoin,
		re:   regexp.MustCompile(userPrefix + `JOIN #(\S+)$`),
		fill: func(ev *domain.ChatEvent, m []string) {
			ev.Author, ev.Channel = m[1], m[2]
		},
	},
	{
		kind: domain.KindUserPart,
		re:   regexp.MustCompile(userPrefix + `PART #(\S+)$`),
		fill: func(ev *domain.ChatEvent, m []string) {
			ev.Author, ev.Channel = m[1], m[2]
		},
	},
}

var (
	pingRe    = regexp.MustCompile(`^PING(?: :?(.*))?$`)
	genericRe = regexp.MustCompile(`^(?::(\S+) )?(\S+)(?: (.*))?$`)
)

// Parser classifies frames. Emotes may be nil.
type Parser struct {
	Emotes *EmoteTable
	// Now is used for ReceivedAt; defaults to time.Now.
	Now func() time.Time
}

func NewParser(emotes *EmoteTable) *Parser {
	return &Parser{Emotes: emotes, Now: time.Now}
}

// Parse classifies one line. Every frame produces exactly one kind; lines
// that match no recognizer are returned with kind none.
func (p *Parser) Parse(line string) (*domain.ChatEvent, error) {
	if len(line) > MaxFrameSize {
		return nil, ErrFrameTooLong
	}
	line = strings.TrimRight(line, "\r\n")

	ev := &domain.ChatEvent{Kind: domain.KindNone, Raw: line, Tags: map[string]string{}}
	if p.Now != nil {
		ev.ReceivedAt = p.Now()
	} else {
		ev.ReceivedAt = time.Now()
	}

	rest := line
	if strings.HasPrefix(rest, "@") {
		raw, tail, _ := strings.Cut(rest[1:], " ")
		ev.Tags = ParseTags(raw)
		rest = tail
	}
	ev.Badges = ParseBadges(ev.Tags["badges"])

	matched := false
	for _, r := range recognizers {
		m := r.re.FindStringSubmatch(rest)
		if m == nil {
			continue
		}
		ev.Kind = r.kind
		r.fill(ev, m)
		matched = true
		break
	}

	if !matched {
		if m := pingRe.FindStringSubmatch(rest); m != nil {
			ev.Kind = domain.KindPing
			ev.Command = "PING"
			ev.Content = m[1]
			ev.Parts = []string{}
			return ev, nil
		}
	}

	if m := genericRe.FindStringSubmatch(rest); m != nil {
		ev.Command = strings.ToUpper(m[2])
		if !matched {
			fillGeneric(ev, m[1], m[3])
		}
	}

	ev.Author = strings.ToLower(ev.Author)
	ev.Channel = strings.ToLower(ev.Channel)
	ev.Content = stripAction(ev.Content)

	enrich(ev)

	ev.Parts = Tokenize(ev.Content)
	ev.Emotes = parseEmoteTag(ev.Tags["emotes"], ev.Content)
	attachEmotes(ev, p.Emotes)
	return ev, nil
}

// fillGeneric extracts author, channel and trailing text from verbs without a
// dedicated recognizer (USERSTATE, ROOMSTATE, CLEARCHAT, ...).
func fillGeneric(ev *domain.ChatEvent, prefix, params string) {
	if nick, _, ok := strings.Cut(prefix, "!"); ok {
		ev.Author = nick
	}
	middle, trailing, hasTrailing := strings.Cut(params, " :")
	if strings.HasPrefix(params, ":") {
		middle, trailing, hasTrailing = "", params[1:], true
	}
	for _, f := range strings.Fields(middle) {
		if strings.HasPrefix(f, "#") {
			ev.Channel = f[1:]
			break
		}
	}
	if hasTrailing {
		ev.Content = trailing
	}
}

// stripAction unwraps /me messages.
func stripAction(content string) string {
	const prefix = "\x01ACTION "
	if strings.HasPrefix(content, prefix) {
		return strings.TrimSuffix(content[len(prefix):], "\x01")
	}
	return content
}
