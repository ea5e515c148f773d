package bans

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestNicknameBanIsCaseInsensitive(t *testing.T) {
	m, err := NewManager("")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.AddBanByName("Griefer", "spawn camping", "script", 0); err != nil {
		t.Fatal(err)
	}

	if banned, _ := m.IsBannedByName("griefer "); !banned {
		t.Fatalf("nickname ban did not match a differently cased name")
	}
	if err := m.Check("10.0.0.1", "GRIEFER"); !errors.Is(err, ErrBanned) {
		t.Fatalf("Check = %v, want ErrBanned", err)
	}
	if err := m.Check("10.0.0.1", "someone"); err != nil {
		t.Fatalf("Check = %v for an innocent player", err)
	}
}

func TestBansExpire(t *testing.T) {
	m, err := NewManager("")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }

	if err := m.AddBan("10.0.0.2", "tmp", "cooldown", "admin", time.Hour); err != nil {
		t.Fatal(err)
	}
	if banned, _ := m.IsBanned("10.0.0.2"); !banned {
		t.Fatalf("fresh ban not active")
	}

	now = now.Add(2 * time.Hour)
	if banned, _ := m.IsBanned("10.0.0.2"); banned {
		t.Fatalf("ban still active after expiry")
	}
	if err := m.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if n := len(m.GetAll()); n != 0 {
		t.Fatalf("%d bans left after cleanup", n)
	}
}

func TestBansPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "bans.json")

	m, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.AddBan("192.168.1.9", "cheater", "wallhack", "admin", 0); err != nil {
		t.Fatal(err)
	}
	if err := m.AddBanByName("rude", "language", "admin", 0); err != nil {
		t.Fatal(err)
	}

	loaded, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := loaded.Load(); err != nil {
		t.Fatal(err)
	}
	if banned, _ := loaded.IsBanned("192.168.1.9"); !banned {
		t.Fatalf("address ban lost on reload")
	}
	if banned, _ := loaded.IsBannedByName("Rude"); !banned {
		t.Fatalf("nickname ban lost on reload")
	}

	if err := loaded.RemoveBanByName("rude"); err != nil {
		t.Fatal(err)
	}
	if banned, _ := loaded.IsBannedByName("rude"); banned {
		t.Fatalf("nickname ban survived removal")
	}
}

func TestRemoveBanPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bans.json")

	m, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.AddBan("10.1.1.1", "", "flood", "admin", 0); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveBan("10.1.1.1"); err != nil {
		t.Fatal(err)
	}

	loaded, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := loaded.Load(); err != nil {
		t.Fatal(err)
	}
	if banned, _ := loaded.IsBanned("10.1.1.1"); banned {
		t.Fatalf("address ban came back after removal")
	}
	if len(loaded.GetAll()) != 0 {
		t.Fatalf("bans file still lists %d bans", len(loaded.GetAll()))
	}
}
