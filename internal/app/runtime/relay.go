package runtime

import (
	"context"

	"twitchbot/internal/app/events"
	"twitchbot/internal/domain"
	"twitchbot/internal/usecase/hooks"
)

// busRelay republishes dispatched events on the bus for the ops feed.
type busRelay struct {
	hooks.Base
	bus *events.Bus
}

func newBusRelay(bus *events.Bus) *busRelay {
	return &busRelay{bus: bus}
}

func (b *busRelay) RawMessage(_ context.Context, ev *domain.ChatEvent) {
	switch ev.Kind {
	case domain.KindPing, domain.KindNone:
		return
	}
	b.bus.Publish(events.TopicChatEvent, events.NewChatEventDTO(ev))
}

func (b *busRelay) PubSubReceived(_ context.Context, ev *domain.PubSubEvent) {
	b.bus.Publish(events.TopicPubSubEvent, events.NewPubSubEventDTO(ev))
}

func (b *busRelay) PollStarted(_ context.Context, p *domain.Poll) {
	b.bus.Publish(events.TopicPoll, events.NewPollDTO("started", p))
}

func (b *busRelay) PollEnded(_ context.Context, p *domain.Poll) {
	b.bus.Publish(events.TopicPoll, events.NewPollDTO("ended", p))
}
