package twitchinfra

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"twitchbot/internal/domain"
)

const (
	globalEmotesKey = "emotes:global"
	globalEmotesTTL = 12 * time.Hour
)

// GlobalEmotes returns the global emote set, served from the cache when a
// fresh snapshot exists.
func (s *HelixService) GlobalEmotes(ctx context.Context) ([]domain.EmoteDef, error) {
	var defs []domain.EmoteDef
	if s.cache != nil {
		if err := s.cache.GetJSON(globalEmotesKey, &defs); err == nil && len(defs) > 0 {
			return defs, nil
		}
	}

	resp, err := s.getClient().GetGlobalEmotes()
	if err != nil {
		return nil, fmt.Errorf("helix: GetGlobalEmotes: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("helix: GetGlobalEmotes failed (%d: %s) %s",
			resp.StatusCode, resp.Error, resp.ErrorMessage)
	}

	defs = make([]domain.EmoteDef, 0, len(resp.Data.Emotes))
	for _, e := range resp.Data.Emotes {
		defs = append(defs, domain.EmoteDef{ID: e.ID, Name: e.Name})
	}
	if s.cache != nil && len(defs) > 0 {
		_ = s.cache.PutJSON(globalEmotesKey, defs, globalEmotesTTL)
	}
	return defs, nil
}

var _ interface {
	domain.StreamInfoPort
	domain.ChatterListPort
	domain.UserIDResolver
	domain.EmoteSource
	domain.StreamEditor
} = (*HelixService)(nil)
