package mods

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"twitchbot/internal/app/events"
	"twitchbot/internal/domain"
	"twitchbot/internal/usecase/commands"
	"twitchbot/internal/usecase/hooks"
)

type fakeMod struct {
	hooks.Base
	name     string
	instance int
	unloaded *int
	fail     bool
}

func (p *fakeMod) Name() string { return p.name }

func (p *fakeMod) Loaded(_ context.Context, env *Env) error {
	err := env.Commands.Register(&commands.Command{
		Name:    p.name + "cmd",
		Mod:     p.name,
		Handler: func(context.Context, *commands.Invocation) error { return nil },
	})
	if err != nil {
		return err
	}
	if p.fail {
		return errors.New("boom")
	}
	return nil
}

func (p *fakeMod) Unloaded(context.Context) { *p.unloaded++ }

func fakeModFactory(name string, unloaded *int, fail bool) Factory {
	instances := 0
	return func() Mod {
		instances++
		return &fakeMod{name: name, instance: instances, unloaded: unloaded, fail: fail}
	}
}

type disabledSet map[string]bool

func (d disabledSet) ModDisabled(_ context.Context, channel, name string) bool {
	return d[channel+"/"+name]
}

func newTestRegistry(t *testing.T, descriptor string, disabled DisabledChecker) (*Registry, *commands.Registry, *int) {
	t.Helper()
	dir := t.TempDir()
	if descriptor != "" {
		if err := os.WriteFile(filepath.Join(dir, DescriptorFile), []byte(descriptor), 0o644); err != nil {
			t.Fatalf("write descriptor: %v", err)
		}
	}
	reg := commands.NewRegistry("!")
	unloaded := new(int)
	r := NewRegistry(&Env{Commands: reg}, dir, disabled)
	if err := r.Register("alpha", fakeModFactory("alpha", unloaded, false)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("beta", fakeModFactory("beta", unloaded, false)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return r, reg, unloaded
}

func activeNames(r *Registry, channel string) []string {
	var out []string
	for _, n := range r.Active(context.Background(), channel) {
		out = append(out, n.Name)
	}
	return out
}

func TestLoadAllWithoutDescriptor(t *testing.T) {
	r, reg, _ := newTestRegistry(t, "", nil)
	if err := r.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if got := activeNames(r, "demo"); len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Fatalf("active = %v", got)
	}
	if _, ok := reg.Lookup("!betacmd"); !ok {
		t.Fatal("beta command missing")
	}
}

func TestDescriptorSelectsMods(t *testing.T) {
	r, reg, _ := newTestRegistry(t, `
[[mod]]
name = "alpha"
enabled = false

[[mod]]
name = "beta"

[[mod]]
name = "ghost"
`, nil)
	if err := r.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if got := activeNames(r, "demo"); len(got) != 1 || got[0] != "beta" {
		t.Fatalf("active = %v", got)
	}
	if _, ok := reg.Lookup("!alphacmd"); ok {
		t.Fatal("disabled mod registered a command")
	}
}

func TestBadDescriptor(t *testing.T) {
	r, _, _ := newTestRegistry(t, "[[mod]\nname=", nil)
	if err := r.LoadAll(context.Background()); err == nil {
		t.Fatal("expected descriptor error")
	}
}

func TestReloadSwapsInstance(t *testing.T) {
	r, reg, unloaded := newTestRegistry(t, "", nil)
	ctx := context.Background()
	if err := r.LoadAll(ctx); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	before := r.Active(ctx, "demo")[0].Hooks.(*fakeMod)

	if err := r.Reload(ctx, "ALPHA"); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	after := r.Active(ctx, "demo")[0].Hooks.(*fakeMod)
	if before == after || after.instance != 2 {
		t.Fatalf("instance not replaced: %d -> %d", before.instance, after.instance)
	}
	if *unloaded != 1 {
		t.Fatalf("unloaded %d times", *unloaded)
	}
	if _, ok := reg.Lookup("!alphacmd"); !ok {
		t.Fatal("command not re-registered")
	}

	if err := r.Reload(ctx, "ghost"); !errors.Is(err, ErrUnknownMod) {
		t.Fatalf("expected ErrUnknownMod, got %v", err)
	}
}

func TestFailedLoadLeavesNoCommands(t *testing.T) {
	reg := commands.NewRegistry("!")
	unloaded := new(int)
	r := NewRegistry(&Env{Commands: reg}, t.TempDir(), nil)
	if err := r.Register("bad", fakeModFactory("bad", unloaded, true)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("bad", fakeModFactory("bad", unloaded, true)); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if err := r.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if r.Loaded("bad") {
		t.Fatal("failed mod marked loaded")
	}
	if _, ok := reg.Lookup("!badcmd"); ok {
		t.Fatal("failed mod left a command behind")
	}
}

func TestActiveHonoursToggles(t *testing.T) {
	r, _, _ := newTestRegistry(t, "", disabledSet{"demo/alpha": true})
	if err := r.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if got := activeNames(r, "demo"); len(got) != 1 || got[0] != "beta" {
		t.Fatalf("demo active = %v", got)
	}
	if got := activeNames(r, "other"); len(got) != 2 {
		t.Fatalf("other active = %v", got)
	}
}

func TestUnloadAll(t *testing.T) {
	r, reg, unloaded := newTestRegistry(t, "", nil)
	ctx := context.Background()
	if err := r.LoadAll(ctx); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	r.UnloadAll(ctx)
	if *unloaded != 2 || len(r.Active(ctx, "demo")) != 0 {
		t.Fatalf("unloaded=%d active=%d", *unloaded, len(r.Active(ctx, "demo")))
	}
	if len(reg.List()) != 0 {
		t.Fatalf("commands left: %d", len(reg.List()))
	}
}

type memNotifications struct {
	mu    sync.Mutex
	saved []*domain.Notification
}

func (m *memNotifications) SaveNotification(_ context.Context, n *domain.Notification) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	cp.ID = int64(len(m.saved) + 1)
	m.saved = append(m.saved, &cp)
	return &cp, nil
}

func (m *memNotifications) ListNotifications(context.Context, string, int) ([]*domain.Notification, error) {
	return nil, nil
}

func TestEventLogRecordsAndPublishes(t *testing.T) {
	repo := &memNotifications{}
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	feed, cancel := bus.Subscribe(events.TopicNotification)
	defer cancel()

	m := NewEventLog()
	if err := m.Loaded(context.Background(), &Env{Notifications: repo, Bus: bus}); err != nil {
		t.Fatalf("Loaded: %v", err)
	}
	m.BitsDonated(context.Background(), &domain.ChatEvent{Kind: domain.KindBits, Channel: "demo", Author: "alice", Bits: 100, Content: "cheer100"})
	m.Redemption(context.Background(), &domain.PubSubEvent{Kind: domain.PubSubRedemption, Channel: "demo", User: "bob", RewardTitle: "Hydrate", Cost: 50})

	if len(repo.saved) != 2 || repo.saved[0].Type != domain.NotificationBits || repo.saved[1].Metadata["reward"] != "Hydrate" {
		t.Fatalf("saved %+v", repo.saved)
	}
	select {
	case v := <-feed:
		dto, ok := v.(events.NotificationDTO)
		if !ok || dto.ID != 1 || dto.Amount != 100 || dto.Username != "alice" {
			t.Fatalf("published %#v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("nothing published")
	}
}

type chatterTable map[string][]string

func (c chatterTable) Names() []string {
	var out []string
	for k := range c {
		out = append(out, k)
	}
	return out
}

func (c chatterTable) Chatters(channel string) []string { return c[channel] }

type memBalances struct {
	mu      sync.Mutex
	amounts map[string]int
}

func (m *memBalances) GetBalance(_ context.Context, channel, user string) (*domain.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.amounts[channel+"/"+user]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.Balance{Channel: channel, User: user, Amount: a}, nil
}

func (m *memBalances) SetBalance(_ context.Context, b *domain.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.amounts[b.Channel+"/"+b.User] = b.Amount
	return nil
}

func (m *memBalances) AddBalance(_ context.Context, channel, user string, delta, initial int) (*domain.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := channel + "/" + user
	a, ok := m.amounts[k]
	if !ok {
		a = initial
	}
	a += delta
	m.amounts[k] = a
	return &domain.Balance{Channel: channel, User: user, Amount: a}, nil
}

func (m *memBalances) get(channel, user string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.amounts[channel+"/"+user]
}

func TestLoyaltyPayout(t *testing.T) {
	balances := &memBalances{amounts: map[string]int{"demo/bob": 7}}
	env := &Env{
		Channels:        chatterTable{"demo": {"alice", "bob", "bot"}},
		Balances:        balances,
		BotNick:         "bot",
		DefaultBalance:  100,
		LoyaltyInterval: 10 * time.Millisecond,
		LoyaltyAmount:   5,
	}
	m := NewLoyalty().(*Loyalty)
	if err := m.Loaded(context.Background(), env); err != nil {
		t.Fatalf("Loaded: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for balances.get("demo", "alice") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no payout")
		}
		time.Sleep(5 * time.Millisecond)
	}
	m.Unloaded(context.Background())

	alice, bob := balances.get("demo", "alice"), balances.get("demo", "bob")
	if alice < 105 || (alice-100)%5 != 0 {
		t.Fatalf("alice = %d", alice)
	}
	if bob < 12 || (bob-7)%5 != 0 {
		t.Fatalf("bob = %d", bob)
	}
	if balances.get("demo", "bot") != 0 {
		t.Fatal("bot credited itself")
	}

	// no payouts after unload
	settled := balances.get("demo", "alice")
	time.Sleep(30 * time.Millisecond)
	if balances.get("demo", "alice") != settled {
		t.Fatal("payout after unload")
	}
}

func TestLoyaltyOffWithoutAmount(t *testing.T) {
	m := NewLoyalty().(*Loyalty)
	if err := m.Loaded(context.Background(), &Env{LoyaltyInterval: time.Second}); err != nil {
		t.Fatalf("Loaded: %v", err)
	}
	m.Unloaded(context.Background())
}
