// Command token runs the Twitch authorization code flow for the bot account
// and prints the oauth value for the config file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
)

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("addr", ":3000", "listen address for the redirect callback")
	scopes := flag.String("scopes", strings.Join(botScopes, ","), "comma separated scopes to request")
	flag.Parse()

	_ = godotenv.Load()

	conf := &oauth2.Config{
		ClientID:     os.Getenv("TWITCH_CLIENT_ID"),
		ClientSecret: os.Getenv("TWITCH_CLIENT_SECRET"),
		RedirectURL:  os.Getenv("TWITCH_REDIRECT_URI"),
		Endpoint:     twitchEndpoint,
		Scopes:       strings.Split(*scopes, ","),
	}
	if conf.ClientID == "" || conf.ClientSecret == "" || conf.RedirectURL == "" {
		fmt.Fprintln(os.Stderr, "TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET and TWITCH_REDIRECT_URI must be set")
		return 1
	}

	f, err := newFlow(conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		return 1
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", f.handleStart)
	mux.HandleFunc("/callback", f.handleCallback)
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case f.done <- result{err: err}:
			default:
			}
		}
	}()
	fmt.Printf("open http://localhost%s/ and log in as the bot account\n", *addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var res result
	select {
	case res = <-f.done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if res.err != nil {
		fmt.Fprintf(os.Stderr, "authorization failed: %v\n", res.err)
		return 1
	}
	fmt.Printf("oauth = \"oauth:%s\"\n", res.tok.AccessToken)
	if res.tok.RefreshToken != "" {
		fmt.Printf("# refresh token: %s\n", res.tok.RefreshToken)
	}
	return 0
}
