package server

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/siohaza/multisnake/pkg/config"
)

func newTestServer(t *testing.T, modify func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Bans.File = filepath.Join(t.TempDir(), "bans.json")
	cfg.Server.Seed = 42
	cfg.Server.EnableStatus = false
	if modify != nil {
		modify(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	srv, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	return srv
}

func TestServerInfoReflectsConfig(t *testing.T) {
	srv := newTestServer(t, func(c *config.Config) {
		c.Server.Name = "pit"
		c.World.Width = 64
		c.World.Height = 48
		c.Bots.Count = 3
	})
	if err := srv.addBots(); err != nil {
		t.Fatal(err)
	}

	info := srv.ServerInfo()
	if info.Name != "pit" || info.Width != 64 || info.Height != 48 {
		t.Fatalf("info = %+v", info)
	}
	if info.Bots != 3 || info.PlayersCurrent != 0 || info.PlayersMax != 50 {
		t.Fatalf("counts = %+v", info)
	}
	if info.GameVersion != Version {
		t.Fatalf("version = %q", info.GameVersion)
	}
}

func TestStopWithoutStart(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.Stop()
	srv.Stop()

	if srv.GetUptime() != 0 {
		t.Fatalf("uptime before start = %s", srv.GetUptime())
	}
}

func TestSeedIsDeterministic(t *testing.T) {
	a := newTestServer(t, nil)
	b := newTestServer(t, nil)
	a.simulation.Prefill()
	b.simulation.Prefill()

	fa, fb := a.Latest().Food, b.Latest().Food
	if len(fa) == 0 || len(fa) != len(fb) {
		t.Fatalf("food counts %d and %d", len(fa), len(fb))
	}
	for i := range fa {
		if fa[i] != fb[i] {
			t.Fatalf("same seed placed food differently at %d: %+v vs %+v", i, fa[i], fb[i])
		}
	}
}
