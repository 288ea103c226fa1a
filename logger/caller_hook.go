package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// wrapperPackages never own a log line: entries they write are attributed to
// whoever called into them. internal/metrics logs every emitted metric on
// behalf of its caller.
var wrapperPackages = []string{
	"github.com/sirupsen/logrus",
	"dexflow/logger",
	"dexflow/internal/metrics",
}

type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire points entry.Caller at the first frame outside wrapperPackages. The
// caller logrus computed is kept when every frame is a wrapper.
func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !isWrapper(frame.Function) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

// isWrapper compares the package part of a qualified function name, so
// dexflow/logger_test or dexflow/internal/metrics/rate are not wrappers.
func isWrapper(function string) bool {
	pkg := function
	slash := strings.LastIndex(pkg, "/")
	if dot := strings.Index(pkg[slash+1:], "."); dot >= 0 {
		pkg = pkg[:slash+1+dot]
	}
	for _, w := range wrapperPackages {
		if pkg == w {
			return true
		}
	}
	return false
}
