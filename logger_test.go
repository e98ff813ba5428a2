package compute

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/gogpu/compute/backend/software"
)

var levels = []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError}

func TestNopHandlerStaysSilent(t *testing.T) {
	var h slog.Handler = nopHandler{}
	derived := []slog.Handler{
		h,
		h.WithAttrs([]slog.Attr{slog.Int("elements", 8)}),
		h.WithGroup("job"),
	}
	for i, d := range derived {
		if _, ok := d.(nopHandler); !ok {
			t.Errorf("handler %d is %T, want nopHandler", i, d)
		}
		for _, lvl := range levels {
			if d.Enabled(context.Background(), lvl) {
				t.Errorf("handler %d enabled at %v", i, lvl)
			}
		}
	}
}

func TestSetLogger(t *testing.T) {
	saved := Logger()
	t.Cleanup(func() { SetLogger(saved) })

	var buf bytes.Buffer
	textLogger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tests := []struct {
		name    string
		set     *slog.Logger
		enabled bool
	}{
		{"custom", textLogger, true},
		{"nil silences", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetLogger(tt.set)
			l := Logger()
			if l == nil {
				t.Fatal("Logger() = nil")
			}
			if tt.set != nil && l != tt.set {
				t.Error("Logger() is not the logger passed to SetLogger")
			}
			for _, lvl := range levels {
				if got := l.Enabled(context.Background(), lvl); got != tt.enabled {
					t.Errorf("Enabled(%v) = %v, want %v", lvl, got, tt.enabled)
				}
			}
		})
	}

	SetLogger(textLogger)
	Logger().Warn("compute: plan short", "covered", 4)
	if !strings.Contains(buf.String(), "compute: plan short") {
		t.Errorf("log output = %q, want the warning", buf.String())
	}
}

func TestDeviceLogging(t *testing.T) {
	saved := Logger()
	t.Cleanup(func() { SetLogger(saved) })

	newLogger := func(buf *bytes.Buffer) *slog.Logger {
		return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	t.Run("device keeps its own logger", func(t *testing.T) {
		SetLogger(nil)
		var devBuf, runBuf bytes.Buffer
		dev := newDevice(t, software.WithLogger(newLogger(&devBuf)))
		r := NewRunner(WithLogger(newLogger(&runBuf)))
		for range 2 {
			if _, err := r.Run(context.Background(), dev, []uint32{1, 2}, DoubleKernel(2), DispatchPlan{1, 1, 1}); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
		}
		if got := strings.Count(devBuf.String(), "software: buffer created"); got != 6 {
			t.Errorf("device log has %d buffer records, want 6:\n%s", got, devBuf.String())
		}
		if strings.Contains(runBuf.String(), "software:") {
			t.Errorf("runner log has device records:\n%s", runBuf.String())
		}
		if !strings.Contains(runBuf.String(), "compute: job done") {
			t.Errorf("runner log lacks the job record:\n%s", runBuf.String())
		}
	})

	t.Run("shared logger reaches open devices", func(t *testing.T) {
		SetLogger(nil)
		dev := newDevice(t)
		var buf bytes.Buffer
		SetLogger(newLogger(&buf))
		if _, err := Run(context.Background(), dev, []uint32{1, 2}, DoubleKernel(2), DispatchPlan{1, 1, 1}); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		for _, want := range []string{"software: buffer created", "compute: job done"} {
			if !strings.Contains(buf.String(), want) {
				t.Errorf("log output lacks %q:\n%s", want, buf.String())
			}
		}
	})
}

func TestLoggerRace(t *testing.T) {
	saved := Logger()
	t.Cleanup(func() { SetLogger(saved) })

	var wg sync.WaitGroup
	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				SetLogger(slog.Default())
				SetLogger(nil)
				return
			}
			Logger().Debug("compute: concurrent")
		}()
	}
	wg.Wait()
}
