package twitchinfra

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/nicklaw5/helix/v2"

	"twitchbot/internal/domain"
)

// SetTitle changes the stream title. The token must belong to the
// broadcaster or an editor with channel:manage:broadcast.
func (s *HelixService) SetTitle(ctx context.Context, channel, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("helix: empty title")
	}
	broadcasterID, err := s.UserID(ctx, channel)
	if err != nil {
		return err
	}
	return s.editChannel(&helix.EditChannelInformationParams{
		BroadcasterID: broadcasterID,
		Title:         title,
	})
}

// SetGame looks the category up by exact name and applies it. It returns the
// category's canonical name.
func (s *HelixService) SetGame(ctx context.Context, channel, game string) (string, error) {
	game = strings.TrimSpace(game)
	if game == "" {
		return "", fmt.Errorf("helix: empty game name")
	}
	broadcasterID, err := s.UserID(ctx, channel)
	if err != nil {
		return "", err
	}

	resp, err := s.getClient().GetGames(&helix.GamesParams{
		Names: []string{game},
	})
	if err != nil {
		return "", fmt.Errorf("helix: GetGames: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("helix: GetGames failed (%d: %s) %s",
			resp.StatusCode, resp.Error, resp.ErrorMessage)
	}
	if len(resp.Data.Games) == 0 {
		return "", fmt.Errorf("helix: game %s: %w", game, domain.ErrNotFound)
	}

	found := resp.Data.Games[0]
	if err := s.editChannel(&helix.EditChannelInformationParams{
		BroadcasterID: broadcasterID,
		GameID:        found.ID,
	}); err != nil {
		return "", err
	}
	return found.Name, nil
}

func (s *HelixService) editChannel(params *helix.EditChannelInformationParams) error {
	resp, err := s.getClient().EditChannelInformation(params)
	if err != nil {
		return fmt.Errorf("helix: EditChannelInformation: %w", err)
	}
	// Modify Channel Information answers 204 on success.
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("helix: EditChannelInformation failed (%d: %s) %s",
			resp.StatusCode, resp.Error, resp.ErrorMessage)
	}
	return nil
}
