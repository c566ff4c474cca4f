package buildinfo

import (
	"runtime"
	"testing"

	"github.com/cordum/rqadmin/core/infra/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func stamp(t *testing.T, version, commit, date string) {
	t.Helper()
	v, c, d := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = v, c, d })
	Version, Commit, Date = version, commit, date
}

func TestCurrent(t *testing.T) {
	stamp(t, "0.4.0", "f00d", "2026-01-02")
	b := Current()
	if b.Version != "0.4.0" || b.Commit != "f00d" || b.Date != "2026-01-02" {
		t.Fatalf("unexpected build: %+v", b)
	}
	if b.GoVersion != runtime.Version() {
		t.Fatalf("unexpected go version %s", b.GoVersion)
	}
}

func TestLog(t *testing.T) {
	stamp(t, "0.4.0", "f00d", "2026-01-02")
	core, logs := observer.New(zapcore.InfoLevel)
	logging.SetLogger(zap.New(core))
	t.Cleanup(func() { logging.SetLogger(zap.NewNop()) })

	Log("rqadmin-gateway")
	entries := logs.FilterMessage("starting").All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["component"] != "rqadmin-gateway" || fields["version"] != "0.4.0" || fields["commit"] != "f00d" {
		t.Fatalf("unexpected fields: %#v", fields)
	}
}
