package logger

import (
	"sync"
	"testing"
)

type recorder struct {
	mu    sync.Mutex
	lines []string
	kv    [][]any
}

func (r *recorder) add(level, msg string, kv []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, level+":"+msg)
	r.kv = append(r.kv, kv)
}

func (r *recorder) Log(m string, kv ...any)   { r.add("log", m, kv) }
func (r *recorder) Debug(m string, kv ...any) { r.add("debug", m, kv) }
func (r *recorder) Info(m string, kv ...any)  { r.add("info", m, kv) }
func (r *recorder) Warn(m string, kv ...any)  { r.add("warn", m, kv) }
func (r *recorder) Error(m string, kv ...any) { r.add("error", m, kv) }
func (r *recorder) Fatal(m string, kv ...any) { r.add("fatal", m, kv) }

func TestDispatchesToAllBackends(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Init(a, b)
	t.Cleanup(func() { Init() })

	Info("ingested", "chunks", 2)
	Log("plain", "k", "v")

	for _, r := range []*recorder{a, b} {
		if len(r.lines) != 2 || r.lines[0] != "info:ingested" || r.lines[1] != "log:plain" {
			t.Fatalf("unexpected lines %v", r.lines)
		}
		if len(r.kv[1]) != 2 {
			t.Fatalf("Log dropped keyvals: %v", r.kv[1])
		}
	}
}

func TestNoBackendsIsSafe(t *testing.T) {
	Init()
	Warn("nobody listens")
	Error("still fine")
}
