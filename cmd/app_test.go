package cmd

import (
	"context"
	"testing"
)

func TestNewApp_MemoryBackends(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "S3_BUCKET", "LOG_FORMAT"} {
		t.Setenv(key, "")
	}
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("IMAGE_BACKEND", "memory")
	t.Setenv("LOG_LEVEL", "error")

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	if len(a.closers) != 0 {
		t.Errorf("memory backends need no closers, got %d", len(a.closers))
	}
	parents, volunteers, err := a.engine.CountReports(ctx)
	if err != nil || parents != 0 || volunteers != 0 {
		t.Errorf("expected empty store, got %d/%d (%v)", parents, volunteers, err)
	}
	if _, err := a.engine.GetReport(ctx, "missing"); err == nil {
		t.Error("expected lookup of unknown report to fail")
	}
}

func TestNewApp_BadgerBackend(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("STORE_BACKEND", "badger")
	t.Setenv("BADGER_DIR", t.TempDir())
	t.Setenv("IMAGE_BACKEND", "local")
	t.Setenv("IMAGE_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "error")

	a, err := newApp(context.Background())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if len(a.closers) != 1 {
		t.Errorf("expected the badger store to be closed on exit, got %d closers", len(a.closers))
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestNewApp_InvalidConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE_BACKEND", "postgres")

	if _, err := newApp(context.Background()); err == nil {
		t.Fatal("expected postgres without DATABASE_URL to be rejected")
	}
}
