package media

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerFactoryLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := NewLoggerFactory(logger).NewLogger("ice")

	l.Trace("trace line")
	l.Debugf("debug %d", 1)
	l.Infof("connected to %s", "10.0.0.2")
	l.Warn("slow")

	out := buf.String()
	if strings.Contains(out, "trace line") || strings.Contains(out, "debug 1") {
		t.Fatalf("pion debug output leaked at slog debug level:\n%s", out)
	}
	if !strings.Contains(out, "connected to 10.0.0.2") || !strings.Contains(out, "pion=ice") {
		t.Fatalf("info line missing:\n%s", out)
	}
	if !strings.Contains(out, "level=WARN") {
		t.Fatalf("warn line missing:\n%s", out)
	}
}
