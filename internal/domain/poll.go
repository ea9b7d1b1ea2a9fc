package domain

import "time"

// Poll is a chat poll. Votes maps a voter login to a zero-based choice index.
type Poll struct {
	ID        int64
	Channel   string
	Owner     string
	Title     string
	Choices   []string
	Votes     map[string]int
	StartedAt time.Time
	Duration  time.Duration
}

func (p *Poll) Elapsed(now time.Time) time.Duration {
	return now.Sub(p.StartedAt)
}

// SecondsLeft never goes below zero.
func (p *Poll) SecondsLeft(now time.Time) int {
	left := p.Duration - p.Elapsed(now)
	if left <= 0 {
		return 0
	}
	return int(left / time.Second)
}

func (p *Poll) Done(now time.Time) bool {
	return p.Elapsed(now) > p.Duration
}

// Tally counts votes per choice, in choice order.
func (p *Poll) Tally() []int {
	out := make([]int, len(p.Choices))
	for _, idx := range p.Votes {
		if idx >= 0 && idx < len(out) {
			out[idx]++
		}
	}
	return out
}

// Winners returns the indexes sharing the highest vote count. Empty when
// nobody voted.
func (p *Poll) Winners() []int {
	tally := p.Tally()
	best := 0
	for _, n := range tally {
		if n > best {
			best = n
		}
	}
	if best == 0 {
		return nil
	}
	var out []int
	for i, n := range tally {
		if n == best {
			out = append(out, i)
		}
	}
	return out
}

// Clone copies the poll including its vote map.
func (p *Poll) Clone() *Poll {
	if p == nil {
		return nil
	}
	c := *p
	c.Choices = append([]string(nil), p.Choices...)
	c.Votes = make(map[string]int, len(p.Votes))
	for k, v := range p.Votes {
		c.Votes[k] = v
	}
	return &c
}
