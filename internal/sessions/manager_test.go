package sessions

import "testing"

func TestManagerGetOrCreate(t *testing.T) {
	m := NewManager()

	sess, created := m.GetOrCreate("cli:default", "cli")
	if !created {
		t.Fatal("expected first lookup to create the session")
	}
	if sess.ID == "" {
		t.Fatal("expected a session id")
	}
	if sess.Key != "cli:default" || sess.Channel != "cli" {
		t.Errorf("session = %+v", sess)
	}

	again, created := m.GetOrCreate("cli:default", "cli")
	if created {
		t.Fatal("expected second lookup to reuse the session")
	}
	if again.ID != sess.ID {
		t.Errorf("session id changed: %s != %s", again.ID, sess.ID)
	}

	other, created := m.GetOrCreate("slack:C123:th1", "slack")
	if !created {
		t.Fatal("expected distinct key to create a new session")
	}
	if other.ID == sess.ID {
		t.Error("distinct keys must not share a session")
	}
}

func TestManagerGetAndList(t *testing.T) {
	m := NewManager()
	a, _ := m.GetOrCreate("k1", "cli")
	b, _ := m.GetOrCreate("k2", "cli")

	if got := m.Get(a.ID); got == nil || got.Key != "k1" {
		t.Errorf("Get(a) = %+v", got)
	}
	if got := m.Get("nope"); got != nil {
		t.Errorf("Get(unknown) = %+v, want nil", got)
	}

	m.Touch(a.ID)
	list := m.List()
	if len(list) != 2 {
		t.Fatalf("list length = %d, want 2", len(list))
	}
	if list[0].ID != a.ID {
		t.Errorf("expected most recently active first, got %s (b=%s)", list[0].ID, b.ID)
	}
}
