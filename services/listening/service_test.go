package listening_test

import (
	"testing"

	"shelfstream/models"
	"shelfstream/services/listening"
)

func newTestService(t *testing.T) *listening.Service {
	t.Helper()
	svc, err := listening.NewService(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func testSession() *models.ListeningSession {
	user := models.User{ID: "usr_1", Name: "root"}
	book := models.Audiobook{ID: "ab_1", Title: "Dune", Author: "Frank Herbert"}
	return models.NewListeningSession(user, book)
}

func TestSaveAndListByUser(t *testing.T) {
	svc := newTestService(t)

	ls := testSession()
	ls.AddListeningTime(42)
	if err := svc.Save(ls); err != nil {
		t.Fatalf("save returned error: %v", err)
	}

	got, err := svc.ListByUser("usr_1")
	if err != nil {
		t.Fatalf("list returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 session, got %d", len(got))
	}
	if got[0].ID != ls.ID {
		t.Fatalf("expected id %q, got %q", ls.ID, got[0].ID)
	}
	if got[0].TimeListening != 42 {
		t.Fatalf("expected 42 seconds, got %v", got[0].TimeListening)
	}
	if got[0].AudiobookTitle != "Dune" {
		t.Fatalf("expected title Dune, got %q", got[0].AudiobookTitle)
	}
}

func TestSaveIsUpsert(t *testing.T) {
	svc := newTestService(t)

	ls := testSession()
	ls.AddListeningTime(10)
	if err := svc.Save(ls); err != nil {
		t.Fatalf("save returned error: %v", err)
	}
	ls.AddListeningTime(5)
	if err := svc.Save(ls); err != nil {
		t.Fatalf("second save returned error: %v", err)
	}

	got, err := svc.ListByUser("usr_1")
	if err != nil {
		t.Fatalf("list returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 session after upsert, got %d", len(got))
	}
	if got[0].TimeListening != 15 {
		t.Fatalf("expected 15 seconds, got %v", got[0].TimeListening)
	}
}

func TestListByDate(t *testing.T) {
	svc := newTestService(t)

	ls := testSession()
	ls.AddListeningTime(7)
	if err := svc.Save(ls); err != nil {
		t.Fatalf("save returned error: %v", err)
	}

	got, err := svc.ListByDate(ls.Date)
	if err != nil {
		t.Fatalf("list by date returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 session for %s, got %d", ls.Date, len(got))
	}

	empty, err := svc.ListByDate("1999-01-01")
	if err != nil {
		t.Fatalf("list by date returned error: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no sessions, got %d", len(empty))
	}
}

func TestTotalTimeListening(t *testing.T) {
	svc := newTestService(t)

	first := testSession()
	first.AddListeningTime(30)
	second := testSession()
	second.AddListeningTime(12)
	if err := svc.Save(first); err != nil {
		t.Fatalf("save returned error: %v", err)
	}
	if err := svc.Save(second); err != nil {
		t.Fatalf("save returned error: %v", err)
	}

	total, err := svc.TotalTimeListening("usr_1")
	if err != nil {
		t.Fatalf("total returned error: %v", err)
	}
	if total != 42 {
		t.Fatalf("expected total 42, got %v", total)
	}

	none, err := svc.TotalTimeListening("usr_other")
	if err != nil {
		t.Fatalf("total returned error: %v", err)
	}
	if none != 0 {
		t.Fatalf("expected 0 for unknown user, got %v", none)
	}
}

func TestDataSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	svc, err := listening.NewService(dir)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	ls := testSession()
	ls.AddListeningTime(9)
	if err := svc.Save(ls); err != nil {
		t.Fatalf("save returned error: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("close returned error: %v", err)
	}

	reopened, err := listening.NewService(dir)
	if err != nil {
		t.Fatalf("failed to reopen service: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.ListByUser("usr_1")
	if err != nil {
		t.Fatalf("list returned error: %v", err)
	}
	if len(got) != 1 || got[0].TimeListening != 9 {
		t.Fatalf("expected persisted session with 9 seconds, got %+v", got)
	}
}
