// Package stats aggregates per-session usage counters, durable and
// independent of conversation memory. Every session's counters live in
// one cell; all operations on a session serialize through that cell, so
// concurrent chat turns never lose an update.
package stats

import "time"

// SessionStats holds cumulative usage counters for one session.
// Counters only ever grow and never expire.
type SessionStats struct {
	// Messages counts chat-turn notifications, not stored history
	// length (history is truncated for prompting, notifications are not).
	Messages            int            `json:"messages"`
	TotalUserChars      int            `json:"totalUserChars"`
	TotalAssistantChars int            `json:"totalAssistantChars"`
	Models              map[string]int `json:"models"`
	CreatedAt           *time.Time     `json:"createdAt"`
	UpdatedAt           *time.Time     `json:"updatedAt"`
}

// Zero returns the stats record for a session that has never recorded
// anything: all-zero counters and null timestamps.
func Zero() SessionStats {
	return SessionStats{Models: map[string]int{}}
}

// Delta is one chat-turn notification.
type Delta struct {
	MessageLength int    `json:"messageLength"`
	ReplyLength   int    `json:"replyLength"`
	Model         string `json:"model"`
}

func (s *SessionStats) apply(d Delta, now time.Time) {
	s.Messages++
	s.TotalUserChars += d.MessageLength
	s.TotalAssistantChars += d.ReplyLength

	if d.Model != "" {
		if s.Models == nil {
			s.Models = map[string]int{}
		}
		s.Models[d.Model]++
	}

	if s.CreatedAt == nil {
		created := now
		s.CreatedAt = &created
	}
	updated := now
	s.UpdatedAt = &updated
}
