package configwatcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"geosewa_exam/internal/config"
)

func TestWatchConfig_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("exam:\n  negative_mark: 0.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GEOSEWA_SERVER_MODE", "debug")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloaded := make(chan *config.Config, 1)
	go WatchConfig(ctx, path, func(cfg *config.Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("exam:\n  negative_mark: 0.25\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Exam.NegativeMark != 0.25 {
			t.Errorf("NegativeMark = %v, want 0.25", cfg.Exam.NegativeMark)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}
