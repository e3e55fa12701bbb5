package models_test

import (
	"strings"
	"testing"
	"time"

	"shelfstream/models"
)

func testListeningSession() *models.ListeningSession {
	user := models.User{ID: "usr_1", Name: "root"}
	book := models.Audiobook{ID: "ab_1", Title: "Dune", Author: "Frank Herbert"}
	return models.NewListeningSession(user, book)
}

func TestNewListeningSessionOpensCurrentDay(t *testing.T) {
	ls := testListeningSession()

	if !strings.HasPrefix(ls.ID, "ls_") {
		t.Fatalf("unexpected id %q", ls.ID)
	}
	if ls.UserID != "usr_1" || ls.AudiobookID != "ab_1" {
		t.Fatalf("record not attributed: user=%q book=%q", ls.UserID, ls.AudiobookID)
	}
	now := time.Now()
	if ls.Date != now.Format("2006-01-02") {
		t.Fatalf("expected today's date, got %q", ls.Date)
	}
	if ls.DayOfWeek != now.Weekday().String() {
		t.Fatalf("expected %s, got %q", now.Weekday(), ls.DayOfWeek)
	}
	if ls.TimeListening != 0 {
		t.Fatalf("new record must start at zero, got %v", ls.TimeListening)
	}
}

func TestCheckDateRollover(t *testing.T) {
	ls := testListeningSession()
	if ls.CheckDateRollover() {
		t.Fatal("record opened today must not report a rollover")
	}

	ls.Date = "2000-01-01"
	if !ls.CheckDateRollover() {
		t.Fatal("backdated record must report a rollover")
	}
}

func TestAddListeningTime(t *testing.T) {
	ls := testListeningSession()
	before := ls.LastUpdate

	ls.AddListeningTime(10)
	ls.AddListeningTime(5)
	if ls.TimeListening != 15 {
		t.Fatalf("expected 15 seconds, got %v", ls.TimeListening)
	}
	if ls.LastUpdate.Before(before) {
		t.Fatal("last update must advance")
	}

	ls.AddListeningTime(-3)
	ls.AddListeningTime(0)
	if ls.TimeListening != 15 {
		t.Fatalf("non-positive deltas must be ignored, got %v", ls.TimeListening)
	}
}
