package analytics

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"assistant-bot/internal/history"
)

func TestDayWindow(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	// 01:30 at UTC+3 is still the previous day in UTC
	start, end := DayWindow(time.Date(2024, 1, 16, 1, 30, 0, 0, loc))
	if want := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("start = %v, want %v", start, want)
	}
	if end.Sub(start) != 24*time.Hour {
		t.Errorf("window = %v", end.Sub(start))
	}
}

func TestAnalyzeActivity(t *testing.T) {
	day := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	rows := []history.Activity{
		{UserID: 1, Role: history.RoleUser, Count: 3},
		{UserID: 1, Role: history.RoleAssistant, Count: 3},
		{UserID: 2, Role: history.RoleUser, Count: 1},
		{UserID: 2, Role: history.RoleAssistant, Count: 1},
		// replies only, e.g. a conversation that started yesterday
		{UserID: 3, Role: history.RoleAssistant, Count: 2},
		{UserID: 4, Role: history.Role("system"), Count: 9},
	}

	stats := AnalyzeActivity(rows, day)

	if stats.Date != "2024-01-15" {
		t.Errorf("date = %q", stats.Date)
	}
	if stats.TotalMessages != 4 {
		t.Errorf("total messages = %d, want 4", stats.TotalMessages)
	}
	if stats.AssistantReplies != 6 {
		t.Errorf("assistant replies = %d, want 6", stats.AssistantReplies)
	}
	if stats.UniqueUsers != 2 {
		t.Errorf("unique users = %d, want 2", stats.UniqueUsers)
	}
	if _, ok := stats.UserStats[4]; ok {
		t.Error("unknown role must not create user stats")
	}
	if us := stats.UserStats[1]; us.Messages != 3 || us.Replies != 3 {
		t.Errorf("user 1 = %+v", us)
	}
}

func TestGenerateReportSummary(t *testing.T) {
	stats := AnalyzeActivity([]history.Activity{
		{UserID: 5, Role: history.RoleUser, Count: 1},
		{UserID: 9, Role: history.RoleUser, Count: 4},
		{UserID: 9, Role: history.RoleAssistant, Count: 4},
	}, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	summary := stats.GenerateReportSummary()
	for _, want := range []string{
		"Daily report for 2024-02-01",
		"<b>Messages from users:</b> 5",
		"<b>Active users:</b> 2",
		"- user 9: 4 messages, 4 replies",
		"- user 5: 1 messages, 0 replies",
	} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
	if strings.Index(summary, "user 9") > strings.Index(summary, "user 5") {
		t.Error("busiest user should come first")
	}
}

func TestGenerateReportSummary_NoActivity(t *testing.T) {
	stats := AnalyzeActivity(nil, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	if s := stats.GenerateReportSummary(); !strings.Contains(s, "No activity today.") {
		t.Fatalf("unexpected summary: %q", s)
	}
}

func TestToJSON(t *testing.T) {
	stats := AnalyzeActivity([]history.Activity{{UserID: 1, Role: history.RoleUser, Count: 2}}, time.Now())
	out, err := stats.ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded["total_messages"].(float64) != 2 {
		t.Errorf("total_messages = %v", decoded["total_messages"])
	}
}
