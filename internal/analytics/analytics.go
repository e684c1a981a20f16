package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"assistant-bot/internal/history"
)

// DailyStats is the message activity of one UTC day.
type DailyStats struct {
	Date             string              `json:"date"`
	TotalMessages    int                 `json:"total_messages"`
	AssistantReplies int                 `json:"assistant_replies"`
	UniqueUsers      int                 `json:"unique_users"`
	UserStats        map[int64]UserStats `json:"user_stats"`
}

type UserStats struct {
	UserID   int64 `json:"user_id"`
	Messages int   `json:"messages"`
	Replies  int   `json:"replies"`
}

// DayWindow returns the [start, end) bounds of the UTC day containing t.
func DayWindow(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

// AnalyzeActivity folds per-user role counts into daily stats. Only
// messages written by users count toward TotalMessages and UniqueUsers.
func AnalyzeActivity(rows []history.Activity, day time.Time) *DailyStats {
	start, _ := DayWindow(day)
	stats := &DailyStats{
		Date:      start.Format("2006-01-02"),
		UserStats: make(map[int64]UserStats),
	}

	for _, row := range rows {
		if row.Count <= 0 {
			continue
		}
		us, ok := stats.UserStats[row.UserID]
		if !ok {
			us = UserStats{UserID: row.UserID}
		}
		switch row.Role {
		case history.RoleUser:
			us.Messages += row.Count
			stats.TotalMessages += row.Count
		case history.RoleAssistant:
			us.Replies += row.Count
			stats.AssistantReplies += row.Count
		default:
			continue
		}
		stats.UserStats[row.UserID] = us
	}

	for _, us := range stats.UserStats {
		if us.Messages > 0 {
			stats.UniqueUsers++
		}
	}
	return stats
}

// GenerateReportSummary renders the stats as an HTML message for the admin.
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "📈 <b>Daily report for %s</b>\n\n", ds.Date)
	fmt.Fprintf(&b, "<b>Messages from users:</b> %d\n", ds.TotalMessages)
	fmt.Fprintf(&b, "<b>Assistant replies:</b> %d\n", ds.AssistantReplies)
	fmt.Fprintf(&b, "<b>Active users:</b> %d\n", ds.UniqueUsers)

	if len(ds.UserStats) == 0 {
		b.WriteString("\nNo activity today.")
		return b.String()
	}

	ids := make([]int64, 0, len(ds.UserStats))
	for id := range ds.UserStats {
		ids = append(ids, id)
	}
	// busiest first, ties by id
	sort.Slice(ids, func(i, j int) bool {
		a, c := ds.UserStats[ids[i]], ds.UserStats[ids[j]]
		if a.Messages != c.Messages {
			return a.Messages > c.Messages
		}
		return ids[i] < ids[j]
	})

	b.WriteString("\n<b>Per user:</b>\n")
	for _, id := range ids {
		us := ds.UserStats[id]
		fmt.Fprintf(&b, "- user %d: %d messages, %d replies\n", id, us.Messages, us.Replies)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
