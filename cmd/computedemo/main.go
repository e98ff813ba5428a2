// Command computedemo doubles the integers 1..n on a compute device and
// prints the inputs, the outputs and how long the job took.
//
// Usage:
//
//	computedemo [-n 8] [-workgroup 8] [-dispatch 0] [-backend name] [-workers 1] [-serve addr] [-v]
//
// With -serve the same lines are streamed to browsers at addr, and the
// command keeps serving until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gogpu/compute"
	"github.com/gogpu/compute/backend"
	_ "github.com/gogpu/compute/backend/native"
	_ "github.com/gogpu/compute/backend/rust"
	"github.com/gogpu/compute/backend/software"
	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/present"
)

type config struct {
	n         int
	workgroup int
	dispatch  int
	backend   string
	workers   int
	serve     string
	verbose   bool
	timeout   time.Duration
}

func main() {
	os.Exit(realMain())
}

func realMain() int {
	var cfg config
	flag.IntVar(&cfg.n, "n", 8, "number of elements")
	flag.IntVar(&cfg.workgroup, "workgroup", 8, "workgroup size")
	flag.IntVar(&cfg.dispatch, "dispatch", 0, "workgroups to dispatch (0 covers every element)")
	flag.StringVar(&cfg.backend, "backend", "", "backend: native, rust or software (default: best available)")
	flag.IntVar(&cfg.workers, "workers", 1, "goroutines per dispatch on the software backend")
	flag.StringVar(&cfg.serve, "serve", "", "also stream output to browsers at this address, e.g. :8080")
	flag.BoolVar(&cfg.verbose, "v", false, "log debug output to stderr")
	flag.DurationVar(&cfg.timeout, "timeout", 30*time.Second, "job timeout")
	flag.Parse()

	if cfg.verbose {
		compute.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var out io.Writer = os.Stdout
	if cfg.serve != "" {
		b := present.NewBroadcaster(compute.Logger())
		defer b.Close()

		mux := http.NewServeMux()
		mux.Handle("/", present.Page("/ws"))
		mux.HandleFunc("/ws", b.HandleWS)
		srv := &http.Server{Addr: cfg.serve, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("serve %s: %v", cfg.serve, err)
				stop()
			}
		}()
		defer srv.Close()

		log.Printf("Streaming to http://%s/", cfg.serve)
		out = io.MultiWriter(os.Stdout, b)
	}

	jobCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	code := run(jobCtx, cfg, out)
	cancel()

	if cfg.serve != "" {
		log.Printf("Job done; serving until interrupted")
		<-ctx.Done()
	}
	return code
}

// run executes one doubling job and reports it to out. It returns the
// process exit code.
func run(ctx context.Context, cfg config, out io.Writer) int {
	dev, err := openDevice(cfg)
	if err != nil {
		compute.Logger().Debug("computedemo: no device", "err", err)
		_ = present.Fail(out)
		return 1
	}
	defer dev.Close()

	input := compute.SuccessiveArray(cfg.n)
	_ = compute.PrintArray(out, "inputs", input)

	wg := uint32(cfg.workgroup)
	plan := compute.PlanFor(cfg.n, wg)
	if cfg.dispatch > 0 {
		plan = compute.DispatchPlan{uint32(cfg.dispatch), 1, 1}
	}

	r := compute.NewRunner(compute.WithLogger(compute.Logger()))
	output, stats, err := r.RunWithStats(ctx, dev, input, compute.DoubleKernel(wg), plan)
	if err != nil {
		if errors.Is(err, compute.ErrDeviceUnavailable) {
			_ = present.Fail(out)
		} else {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		return 1
	}

	_ = compute.PrintArray(out, "outputs", output)
	fmt.Fprintf(out, "device %s: compile %v, execute %v, total %v\n",
		dev.Name(), stats.Compile.Round(time.Microsecond), stats.Execute.Round(time.Microsecond), stats.Total.Round(time.Microsecond))
	if stats.Covered < stats.Elements {
		fmt.Fprintf(out, "dispatch covered %d of %d elements\n", stats.Covered, stats.Elements)
	}
	return 0
}

func openDevice(cfg config) (gpucore.Device, error) {
	switch {
	case cfg.backend == backend.BackendSoftware && cfg.workers > 1:
		return software.New(software.WithWorkers(cfg.workers)), nil
	case cfg.backend == "":
		return backend.InitDefault()
	default:
		return backend.Open(cfg.backend)
	}
}
