package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// twitchEndpoint takes the client secret in the form body; basic auth is
// rejected by id.twitch.tv.
var twitchEndpoint = oauth2.Endpoint{
	AuthURL:   "https://id.twitch.tv/oauth2/authorize",
	TokenURL:  "https://id.twitch.tv/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// botScopes covers chat, whispers and the pubsub topics the bot listens on.
var botScopes = []string{
	"chat:read",
	"chat:edit",
	"whispers:read",
	"whispers:edit",
	"channel:read:redemptions",
	"bits:read",
	"channel:manage:broadcast",
}

func newState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// flow holds one pending authorization. The callback accepts the first
// code whose state matches and reports it on done.
type flow struct {
	conf     *oauth2.Config
	state    string
	verifier string
	client   *http.Client
	done     chan result
}

type result struct {
	tok *oauth2.Token
	err error
}

func newFlow(conf *oauth2.Config) (*flow, error) {
	state, err := newState()
	if err != nil {
		return nil, err
	}
	return &flow{
		conf:     conf,
		state:    state,
		verifier: oauth2.GenerateVerifier(),
		client:   http.DefaultClient,
		done:     make(chan result, 1),
	}, nil
}

func (f *flow) authURL() string {
	return f.conf.AuthCodeURL(f.state, oauth2.S256ChallengeOption(f.verifier))
}

func (f *flow) exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.client)
	tok, err := f.conf.Exchange(ctx, code, oauth2.VerifierOption(f.verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return tok, nil
}

func (f *flow) handleStart(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, f.authURL(), http.StatusFound)
}

func (f *flow) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if msg := q.Get("error_description"); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	code := q.Get("code")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}
	if q.Get("state") != f.state {
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	}

	tok, err := f.exchange(r.Context(), code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
	} else {
		fmt.Fprintln(w, "token issued, you can close this tab")
	}

	select {
	case f.done <- result{tok: tok, err: err}:
	default:
	}
}
