package models

import "time"

// DayLayout is the layout of ForwardingStats.Day
const DayLayout = "2006-01-02"

// ForwardingStats holds the delivery counters
type ForwardingStats struct {
	TotalForwarded  int64      `json:"totalForwarded"`
	TodayForwarded  int64      `json:"todayForwarded"`
	LastForwardedAt *time.Time `json:"lastForwarded"`
	ErrorCount      int64      `json:"errors"`
	// Day is the local date the today counter belongs to
	Day string `json:"day,omitempty"`
}

// RecordSuccess counts one successful destination send
func (s *ForwardingStats) RecordSuccess(at time.Time) {
	s.rollDay(at)
	s.TotalForwarded++
	s.TodayForwarded++
	t := at
	s.LastForwardedAt = &t
}

// RecordFailure counts one failed attempt
func (s *ForwardingStats) RecordFailure() {
	s.ErrorCount++
}

// ResetToday zeroes the today counter and stamps it with the given day
func (s *ForwardingStats) ResetToday(now time.Time) {
	s.TodayForwarded = 0
	s.Day = now.Format(DayLayout)
}

// RollOver resets the today counter if it belongs to an earlier day than now.
// It reports whether a reset happened.
func (s *ForwardingStats) RollOver(now time.Time) bool {
	today := now.Format(DayLayout)
	if s.Day == today {
		return false
	}
	if s.Day == "" {
		s.Day = today
		return false
	}
	s.ResetToday(now)
	return true
}

func (s *ForwardingStats) rollDay(at time.Time) {
	if s.Day == "" {
		s.Day = at.Format(DayLayout)
		return
	}
	s.RollOver(at)
}

// Clone returns a copy that does not share the timestamp pointer
func (s ForwardingStats) Clone() ForwardingStats {
	out := s
	if s.LastForwardedAt != nil {
		t := *s.LastForwardedAt
		out.LastForwardedAt = &t
	}
	return out
}
