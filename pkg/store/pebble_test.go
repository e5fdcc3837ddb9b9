package store

import (
	"errors"
	"testing"

	"parley/pkg/models"
)

func openTestStore(t *testing.T) {
	t.Helper()
	if err := Open(t.TempDir()); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = Close() })
}

func appendTest(t *testing.T, sessionID string, order int64, role models.Role, content string) {
	t.Helper()
	err := AppendMessage(models.Message{
		ID:      "m_test",
		Session: sessionID,
		Role:    role,
		Content: content,
		TS:      order,
		Order:   order,
	})
	if err != nil {
		t.Fatalf("append order %d: %v", order, err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	openTestStore(t)
	sess := models.Session{ID: "s_1", Owner: "alice", Character: "c_1", Title: "t", CreatedTS: 10, LastActiveTS: 10}
	if err := SaveSession(sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := GetSession("s_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != sess {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, sess)
	}
	if _, err := GetSession("s_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTouchSession(t *testing.T) {
	openTestStore(t)
	_ = SaveSession(models.Session{ID: "s_1", Owner: "alice", LastActiveTS: 10})
	if err := TouchSession("s_1", 99); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, _ := GetSession("s_1")
	if got.LastActiveTS != 99 {
		t.Fatalf("touch did not stick: %+v", got)
	}
}

func TestListSessionsByOwner(t *testing.T) {
	openTestStore(t)
	_ = SaveSession(models.Session{ID: "s_1", Owner: "alice"})
	_ = SaveSession(models.Session{ID: "s_2", Owner: "bob"})
	_ = SaveSession(models.Session{ID: "s_3", Owner: "alice"})
	got, err := ListSessionsByOwner("alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(got))
	}
	for _, s := range got {
		if s.Owner != "alice" {
			t.Fatalf("foreign session leaked: %+v", s)
		}
	}
}

func TestCharacterRoundTrip(t *testing.T) {
	openTestStore(t)
	ch := models.Character{ID: "c_1", Name: "Mira", NSFW: true, Traits: map[string]float64{"warmth": 0.5}}
	if err := SaveCharacter(ch); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := GetCharacter("c_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Mira" || !got.NSFW || got.Traits["warmth"] != 0.5 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestAppendMessageRequiresOrder(t *testing.T) {
	openTestStore(t)
	err := AppendMessage(models.Message{ID: "m_1", Session: "s_1", Role: models.RoleUser, Content: "x"})
	if !errors.Is(err, ErrSchema) {
		t.Fatalf("expected ErrSchema for missing order, got %v", err)
	}
}

func TestMaxOrderIndex(t *testing.T) {
	openTestStore(t)
	if n, err := MaxOrderIndex("s_1"); err != nil || n != 0 {
		t.Fatalf("empty session: got (%d, %v)", n, err)
	}
	appendTest(t, "s_1", 1, models.RoleUser, "a")
	appendTest(t, "s_1", 2, models.RoleAssistant, "b")
	appendTest(t, "s_1", 12, models.RoleUser, "c")
	if n, _ := MaxOrderIndex("s_1"); n != 12 {
		t.Fatalf("expected 12, got %d", n)
	}
	// a neighboring session must not bleed in
	appendTest(t, "s_2", 500, models.RoleUser, "other")
	if n, _ := MaxOrderIndex("s_1"); n != 12 {
		t.Fatalf("neighbor bled into index: %d", n)
	}
}

func TestListMessagesOrderAndLimit(t *testing.T) {
	openTestStore(t)
	for i := int64(1); i <= 5; i++ {
		role := models.RoleUser
		if i%2 == 0 {
			role = models.RoleAssistant
		}
		appendTest(t, "s_1", i, role, "msg")
	}
	all, err := ListMessages("s_1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5, got %d", len(all))
	}
	for i, m := range all {
		if m.Order != int64(i+1) {
			t.Fatalf("out of order at %d: %+v", i, m)
		}
	}
	last2, _ := ListMessages("s_1", 2)
	if len(last2) != 2 || last2[0].Order != 4 || last2[1].Order != 5 {
		t.Fatalf("limit must keep the most recent, oldest first: %+v", last2)
	}
}

func TestLatestMessage(t *testing.T) {
	openTestStore(t)
	if _, err := LatestMessage("s_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty session must be ErrNotFound, got %v", err)
	}
	appendTest(t, "s_1", 1, models.RoleUser, "first")
	appendTest(t, "s_1", 2, models.RoleAssistant, "second")
	got, err := LatestMessage("s_1")
	if err != nil || got.Content != "second" {
		t.Fatalf("latest: %+v %v", got, err)
	}
}

func TestRecentAssistantTextsNewestFirst(t *testing.T) {
	openTestStore(t)
	appendTest(t, "s_1", 1, models.RoleUser, "q1")
	appendTest(t, "s_1", 2, models.RoleAssistant, "a1")
	appendTest(t, "s_1", 3, models.RoleUser, "q2")
	appendTest(t, "s_1", 4, models.RoleAssistant, "a2")
	appendTest(t, "s_1", 5, models.RoleSystem, "marker")
	got, err := RecentAssistantTexts("s_1", 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0] != "a2" || got[1] != "a1" {
		t.Fatalf("expected [a2 a1], got %v", got)
	}
	one, _ := RecentAssistantTexts("s_1", 1)
	if len(one) != 1 || one[0] != "a2" {
		t.Fatalf("n must bound the result: %v", one)
	}
}

func TestUserTurnCount(t *testing.T) {
	openTestStore(t)
	appendTest(t, "s_1", 1, models.RoleUser, "q1")
	appendTest(t, "s_1", 2, models.RoleAssistant, "a1")
	appendTest(t, "s_1", 3, models.RoleUser, "q2")
	n, err := UserTurnCount("s_1")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 user turns, got (%d, %v)", n, err)
	}
}
