package irc

import (
	"strconv"
	"strings"
	"sync"

	"twitchbot/internal/domain"
)

// EmoteTable is the in-memory name→id emote snapshot used to tag tokens.
type EmoteTable struct {
	mu    sync.RWMutex
	byKey map[string]string
}

func NewEmoteTable() *EmoteTable {
	return &EmoteTable{byKey: make(map[string]string)}
}

// Load replaces the table contents.
func (t *EmoteTable) Load(defs []domain.EmoteDef) {
	next := make(map[string]string, len(defs))
	for _, d := range defs {
		if d.Name != "" {
			next[d.Name] = d.ID
		}
	}
	t.mu.Lock()
	t.byKey = next
	t.mu.Unlock()
}

func (t *EmoteTable) Lookup(name string) (string, bool) {
	if t == nil {
		return "", false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byKey[name]
	return id, ok
}

func (t *EmoteTable) Len() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byKey)
}

// parseEmoteTag reads "25:0-4,12-16/1902:6-10". Positions index runes of
// content, inclusive on both ends.
func parseEmoteTag(raw, content string) []domain.Emote {
	if raw == "" {
		return nil
	}
	runes := []rune(content)
	var out []domain.Emote
	for _, group := range strings.Split(raw, "/") {
		id, ranges, ok := strings.Cut(group, ":")
		if !ok {
			continue
		}
		for _, r := range strings.Split(ranges, ",") {
			from, to, ok := strings.Cut(r, "-")
			if !ok {
				continue
			}
			start, err1 := strconv.Atoi(from)
			end, err2 := strconv.Atoi(to)
			if err1 != nil || err2 != nil || start < 0 || end < start || end >= len(runes) {
				continue
			}
			out = append(out, domain.Emote{
				ID:    id,
				Name:  string(runes[start : end+1]),
				Index: -1,
				Start: start,
				End:   end,
			})
		}
	}
	return out
}

// attachEmotes assigns token indexes to tag emotes and adds tokens found in
// the table that the tag did not cover.
func attachEmotes(ev *domain.ChatEvent, table *EmoteTable) {
	used := make(map[int]bool)
	for i := range ev.Emotes {
		for j, part := range ev.Parts {
			if !used[j] && part == ev.Emotes[i].Name {
				ev.Emotes[i].Index = j
				used[j] = true
				break
			}
		}
	}
	if table.Len() == 0 {
		return
	}
	for j, part := range ev.Parts {
		if used[j] {
			continue
		}
		if id, ok := table.Lookup(part); ok {
			ev.Emotes = append(ev.Emotes, domain.Emote{ID: id, Name: part, Index: j, Start: -1, End: -1})
		}
	}
}
