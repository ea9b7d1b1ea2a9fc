package sqlstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"twitchbot/internal/domain"
)

func openStores(t *testing.T) map[string]*Store {
	t.Helper()
	ctx := context.Background()
	stores := map[string]*Store{}

	s, err := Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	stores[DriverSQLite] = s

	if dsn := os.Getenv("TEST_PG_DSN"); dsn != "" {
		pg, err := Open(ctx, DriverPostgres, dsn)
		if err != nil {
			t.Fatalf("open postgres: %v", err)
		}
		for _, table := range []string{"custom_commands", "quotes", "counters", "balances", "currency_names", "message_timers", "settings", "notifications"} {
			if _, err := pg.db.ExecContext(ctx, "TRUNCATE "+table); err != nil {
				t.Fatalf("truncate %s: %v", table, err)
			}
		}
		t.Cleanup(func() { _ = pg.Close() })
		stores[DriverPostgres] = pg
	}
	return stores
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x")
	if !errors.Is(err, ErrUnsupportedDriver) {
		t.Fatalf("expected ErrUnsupportedDriver, got %v", err)
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Fatalf("rebind = %q", got)
	}
	lite := &Store{driver: DriverSQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite rebind = %q", got)
	}
}

func TestCustomCommands(t *testing.T) {
	for driver, s := range openStores(t) {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			if err := s.UpsertCustomCommand(ctx, &domain.CustomCommand{Channel: "#Demo", Name: "Discord", Response: "join %channel"}); err != nil {
				t.Fatalf("upsert: %v", err)
			}
			if err := s.UpsertCustomCommand(ctx, &domain.CustomCommand{Channel: "demo", Name: "discord", Response: "v2"}); err != nil {
				t.Fatalf("upsert again: %v", err)
			}

			got, err := s.GetCustomCommand(ctx, "demo", "DISCORD")
			if err != nil || got.Response != "v2" {
				t.Fatalf("get = %+v, %v", got, err)
			}

			list, err := s.ListCustomCommands(ctx, "demo")
			if err != nil || len(list) != 1 {
				t.Fatalf("list = %v, %v", list, err)
			}

			if err := s.DeleteCustomCommand(ctx, "demo", "discord"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := s.GetCustomCommand(ctx, "demo", "discord"); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
			if err := s.DeleteCustomCommand(ctx, "demo", "discord"); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("expected not found on second delete, got %v", err)
			}
		})
	}
}

func TestQuotes(t *testing.T) {
	for driver, s := range openStores(t) {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			q, err := s.AddQuote(ctx, &domain.Quote{Channel: "demo", Alias: "Lol", Text: "it works", User: "alice"})
			if err != nil || q.ID == 0 {
				t.Fatalf("add = %+v, %v", q, err)
			}

			byID, err := s.GetQuote(ctx, "demo", q.ID)
			if err != nil || byID.Text != "it works" || byID.User != "alice" {
				t.Fatalf("get = %+v, %v", byID, err)
			}
			byAlias, err := s.GetQuoteByAlias(ctx, "demo", "lol")
			if err != nil || byAlias.ID != q.ID {
				t.Fatalf("alias = %+v, %v", byAlias, err)
			}
			if _, err := s.GetQuoteByAlias(ctx, "demo", ""); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("empty alias should miss, got %v", err)
			}
			random, err := s.RandomQuote(ctx, "demo")
			if err != nil || random.ID != q.ID {
				t.Fatalf("random = %+v, %v", random, err)
			}
			if _, err := s.RandomQuote(ctx, "other"); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("expected not found for other channel, got %v", err)
			}
			if err := s.DeleteQuote(ctx, "demo", q.ID); err != nil {
				t.Fatalf("delete: %v", err)
			}
		})
	}
}

func TestCountersAndBalances(t *testing.T) {
	for driver, s := range openStores(t) {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			c, err := s.AddCounter(ctx, "demo", "deaths", 1)
			if err != nil || c.Value != 1 {
				t.Fatalf("add counter = %+v, %v", c, err)
			}
			c, err = s.AddCounter(ctx, "demo", "deaths", 2)
			if err != nil || c.Value != 3 {
				t.Fatalf("add counter again = %+v, %v", c, err)
			}
			if err := s.SetCounter(ctx, &domain.Counter{Channel: "demo", Name: "deaths", Value: 10}); err != nil {
				t.Fatalf("set counter: %v", err)
			}
			if c, err = s.GetCounter(ctx, "demo", "deaths"); err != nil || c.Value != 10 {
				t.Fatalf("get counter = %+v, %v", c, err)
			}

			if _, err := s.GetBalance(ctx, "demo", "bob"); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("expected missing balance, got %v", err)
			}
			b, err := s.AddBalance(ctx, "demo", "bob", 5, 100)
			if err != nil || b.Amount != 105 {
				t.Fatalf("add balance = %+v, %v", b, err)
			}
			b, err = s.AddBalance(ctx, "demo", "bob", 5, 100)
			if err != nil || b.Amount != 110 {
				t.Fatalf("add balance again = %+v, %v", b, err)
			}

			if err := s.SetCurrencyName(ctx, &domain.CurrencyName{Channel: "demo", Name: "gems"}); err != nil {
				t.Fatalf("set currency: %v", err)
			}
			cur, err := s.GetCurrencyName(ctx, "demo")
			if err != nil || cur.Name != "gems" {
				t.Fatalf("currency = %+v, %v", cur, err)
			}
		})
	}
}

func TestMessageTimerRoundTrip(t *testing.T) {
	for driver, s := range openStores(t) {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			in := &domain.MessageTimer{Channel: "demo", Name: "discord", Message: "join us", IntervalSeconds: 600, Active: true}
			if err := s.SaveMessageTimer(ctx, in); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := s.GetMessageTimer(ctx, "demo", "discord")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if *got != *in {
				t.Fatalf("round trip mismatch: %+v vs %+v", got, in)
			}

			all, err := s.ListMessageTimers(ctx, "")
			if err != nil || len(all) != 1 {
				t.Fatalf("list = %v, %v", all, err)
			}
			if err := s.DeleteMessageTimer(ctx, "demo", "discord"); err != nil {
				t.Fatalf("delete: %v", err)
			}
		})
	}
}

func TestToggles(t *testing.T) {
	for driver, s := range openStores(t) {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			names, err := s.DisabledCommands(ctx, "demo")
			if err != nil || len(names) != 0 {
				t.Fatalf("initial = %v, %v", names, err)
			}
			if err := s.SetDisabledCommands(ctx, "demo", []string{"!Roll", "!ping", "!roll"}); err != nil {
				t.Fatalf("set: %v", err)
			}
			names, err = s.DisabledCommands(ctx, "demo")
			if err != nil || len(names) != 2 || names[0] != "!ping" || names[1] != "!roll" {
				t.Fatalf("got %v, %v", names, err)
			}

			if err := s.SetDisabledMods(ctx, "demo", []string{"loyalty"}); err != nil {
				t.Fatalf("set mods: %v", err)
			}
			mods, err := s.DisabledMods(ctx, "demo")
			if err != nil || len(mods) != 1 || mods[0] != "loyalty" {
				t.Fatalf("mods = %v, %v", mods, err)
			}
		})
	}
}

func TestNotifications(t *testing.T) {
	for driver, s := range openStores(t) {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			for _, n := range []*domain.Notification{
				{Type: domain.NotificationBits, Channel: "demo", Username: "alice", Amount: 100},
				{Type: domain.NotificationRaid, Channel: "other", Username: "bob", Amount: 12},
				{Type: domain.NotificationSubscription, Channel: "demo", Username: "carol", Metadata: map[string]string{"plan": "1000"}},
			} {
				saved, err := s.SaveNotification(ctx, n)
				if err != nil || saved.ID == 0 {
					t.Fatalf("save = %+v, %v", saved, err)
				}
			}

			demo, err := s.ListNotifications(ctx, "demo", 10)
			if err != nil || len(demo) != 2 {
				t.Fatalf("list demo = %v, %v", demo, err)
			}
			all, err := s.ListNotifications(ctx, "", 10)
			if err != nil || len(all) != 3 {
				t.Fatalf("list all = %v, %v", all, err)
			}
			var found bool
			for _, n := range demo {
				if n.Username == "carol" && n.Metadata["plan"] == "1000" {
					found = true
				}
			}
			if !found {
				t.Fatalf("metadata lost: %+v", demo)
			}
		})
	}
}
