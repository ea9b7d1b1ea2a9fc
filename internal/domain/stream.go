package domain

import "time"

type StreamInfo struct {
	Title       string
	GameID      string
	GameName    string
	ViewerCount int
	StartedAt   time.Time
	Tags        []string
}
