package twitchinfra

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nicklaw5/helix/v2"

	"twitchbot/internal/domain"
	"twitchbot/internal/infrastructure/cache"
)

const userIDTTL = 24 * time.Hour

type Options struct {
	ClientID        string
	UserAccessToken string
	// BotLogin is the moderator identity used for the chatters endpoint.
	BotLogin string
	// APIBaseURL overrides the helix endpoint, used by tests.
	APIBaseURL string
	Cache      *cache.Store
}

// HelixService implements the stream info, chatter list, user id and emote
// ports on top of the helix client.
type HelixService struct {
	client   *helix.Client
	mu       sync.RWMutex
	cache    *cache.Store
	botLogin string

	idMu sync.Mutex
	ids  map[string]string
}

func NewHelixService(opts Options) (*HelixService, error) {
	if strings.TrimSpace(opts.ClientID) == "" {
		return nil, fmt.Errorf("helix: empty client id")
	}
	client, err := helix.NewClient(&helix.Options{
		ClientID:        opts.ClientID,
		UserAccessToken: opts.UserAccessToken,
		APIBaseURL:      opts.APIBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("helix: NewClient: %w", err)
	}

	return &HelixService{
		client:   client,
		cache:    opts.Cache,
		botLogin: strings.ToLower(opts.BotLogin),
		ids:      make(map[string]string),
	}, nil
}

func (s *HelixService) StreamInfo(ctx context.Context, channel string) (*domain.StreamInfo, error) {
	resp, err := s.getClient().GetStreams(&helix.StreamsParams{
		UserLogins: []string{channel},
	})
	if err != nil {
		return nil, fmt.Errorf("helix: GetStreams: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("helix: GetStreams failed (%d: %s) %s",
			resp.StatusCode, resp.Error, resp.ErrorMessage)
	}
	if len(resp.Data.Streams) == 0 {
		return nil, nil
	}

	stream := resp.Data.Streams[0]
	return &domain.StreamInfo{
		Title:       stream.Title,
		GameID:      stream.GameID,
		GameName:    stream.GameName,
		ViewerCount: stream.ViewerCount,
		StartedAt:   stream.StartedAt,
		Tags:        append([]string(nil), stream.Tags...),
	}, nil
}

func (s *HelixService) Chatters(ctx context.Context, channel string) ([]string, error) {
	broadcasterID, err := s.UserID(ctx, channel)
	if err != nil {
		return nil, err
	}
	moderatorID := broadcasterID
	if s.botLogin != "" {
		if moderatorID, err = s.UserID(ctx, s.botLogin); err != nil {
			return nil, err
		}
	}

	var (
		out    []string
		cursor string
	)
	for {
		resp, err := s.getClient().GetChannelChatChatters(&helix.GetChatChattersParams{
			BroadcasterID: broadcasterID,
			ModeratorID:   moderatorID,
			First:         "1000",
			After:         cursor,
		})
		if err != nil {
			return nil, fmt.Errorf("helix: GetChannelChatChatters: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("helix: GetChannelChatChatters failed (%d: %s) %s",
				resp.StatusCode, resp.Error, resp.ErrorMessage)
		}
		for _, c := range resp.Data.Chatters {
			out = append(out, strings.ToLower(c.UserLogin))
		}
		cursor = resp.Data.Pagination.Cursor
		if cursor == "" || ctx.Err() != nil {
			break
		}
	}
	return out, nil
}

// UserID resolves a login, memoised in memory and in the on-disk cache.
func (s *HelixService) UserID(ctx context.Context, login string) (string, error) {
	login = strings.ToLower(strings.TrimSpace(login))
	if login == "" {
		return "", fmt.Errorf("helix: empty login")
	}

	s.idMu.Lock()
	id, ok := s.ids[login]
	s.idMu.Unlock()
	if ok {
		return id, nil
	}

	key := "user-id:" + login
	if s.cache != nil {
		if err := s.cache.GetJSON(key, &id); err == nil && id != "" {
			s.remember(login, id)
			return id, nil
		}
	}

	resp, err := s.getClient().GetUsers(&helix.UsersParams{
		Logins: []string{login},
	})
	if err != nil {
		return "", fmt.Errorf("helix: GetUsers: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("helix: GetUsers failed (%d: %s) %s",
			resp.StatusCode, resp.Error, resp.ErrorMessage)
	}
	if len(resp.Data.Users) == 0 {
		return "", fmt.Errorf("helix: user %s: %w", login, domain.ErrNotFound)
	}

	id = resp.Data.Users[0].ID
	s.remember(login, id)
	if s.cache != nil {
		_ = s.cache.PutJSON(key, id, userIDTTL)
	}
	return id, nil
}

func (s *HelixService) remember(login, id string) {
	s.idMu.Lock()
	s.ids[login] = id
	s.idMu.Unlock()
}

func (s *HelixService) UpdateAccessToken(token string) {
	if s == nil || s.client == nil {
		return
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client.SetUserAccessToken(token)
}

func (s *HelixService) getClient() *helix.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}
