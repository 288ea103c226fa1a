package logger_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"dexflow/internal/metrics"
	"dexflow/logger"
)

func lastCaller(t *testing.T, buf *bytes.Buffer) string {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	file, _ := entry["file"].(string)
	return file
}

func TestCallerSkipsLoggerWrappers(t *testing.T) {
	var buf bytes.Buffer
	log := logger.Logger()
	log.SetOutput(&buf)

	log.WithComponent("registry").Warn("module failed")
	if got := lastCaller(t, &buf); !strings.HasPrefix(got, "caller_hook_test.go:") {
		t.Fatalf("caller = %q", got)
	}
}

func TestCallerSkipsMetricEmission(t *testing.T) {
	var buf bytes.Buffer
	log := logger.Logger()
	log.SetOutput(&buf)
	log.SetLevel(logrus.DebugLevel)

	metrics.EmitMetric(log, "registry", "dispatch", 1, "counter", logger.Fields{"network": "tlos"})
	if got := lastCaller(t, &buf); !strings.HasPrefix(got, "caller_hook_test.go:") {
		t.Fatalf("metric caller = %q", got)
	}
}
