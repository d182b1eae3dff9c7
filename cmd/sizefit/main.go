// Command sizefit re-encodes an image to a target size in kilobytes.
//
//	sizefit -target 100 [-tolerance 5] [-o out.jpg] photo.jpg
//	sizefit -target 100 -watch ./inbox -out ./outbox
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Skryldev/sizefit"
	"github.com/Skryldev/sizefit/config"
	"github.com/Skryldev/sizefit/core"
	apperrors "github.com/Skryldev/sizefit/errors"
	"github.com/Skryldev/sizefit/hooks"
)

type options struct {
	configPath string
	envFile    string
	target     float64
	tolerance  float64 // negative = config default
	output     string
	store      string
	watch      string
	outDir     string
	verbose    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "YAML config file")
	flag.StringVar(&opts.envFile, "env", ".env", "optional .env file with SIZEFIT_* overrides")
	flag.Float64Var(&opts.target, "target", 0, "target size in KB (required)")
	flag.Float64Var(&opts.tolerance, "tolerance", -1, "tolerance in KB (default from config; 0 = exact)")
	flag.StringVar(&opts.output, "o", "", "output file (default: <name>.<target>kb.<ext>)")
	flag.StringVar(&opts.store, "store", "", "persist results and history under this directory")
	flag.StringVar(&opts.watch, "watch", "", "watch this directory and resize every new image")
	flag.StringVar(&opts.outDir, "out", "", "output directory for -watch")
	flag.BoolVar(&opts.verbose, "v", false, "debug logging")
	flag.Parse()

	if err := run(opts, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "sizefit:", err)
		os.Exit(1)
	}
}

func run(opts options, args []string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := hooks.NewTextLogger(cfg.LogLevel)

	proc, err := sizefit.New(cfg)
	if err != nil {
		return err
	}
	proc.SetLogger(logger)
	proc.AddHook(hooks.NewLoggingHook(logger))
	metrics := hooks.NewInMemoryMetrics()
	proc.SetMetrics(metrics)
	proc.AddHook(hooks.NewMetricsHook(metrics))

	shutdown := registerBackends(proc, cfg)
	defer shutdown()

	proc.Start()
	defer proc.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.watch != "" {
		if opts.outDir == "" {
			return fmt.Errorf("-watch needs -out")
		}
		w := &watcher{
			proc:   proc,
			logger: logger,
			in:     opts.watch,
			out:    opts.outDir,
			target: opts.target,
			tol:    toleranceFlag(opts.tolerance),
			store:  opts.store != "",
		}
		err := w.run(ctx)
		snap := metrics.Snapshot()
		logger.Info("watch.stopped",
			"searches", snap.Searches,
			"converged", snap.Converged,
			"attempts", snap.Attempts,
		)
		return err
	}

	if len(args) != 1 {
		return fmt.Errorf("expected exactly one input file")
	}
	return resizeFile(ctx, proc, args[0], opts.output, opts.target, toleranceFlag(opts.tolerance), opts.store != "")
}

func toleranceFlag(kb float64) *float64 {
	if kb < 0 {
		return nil
	}
	return core.Tolerance(kb)
}

func loadConfig(opts options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return cfg, err
		}
	}
	cfg, err := config.ApplyEnv(cfg, opts.envFile)
	if err != nil {
		return cfg, err
	}
	if opts.store != "" {
		cfg.Storage = config.StorageLocal
		cfg.Local.RootDir = opts.store
		if cfg.History.Path == "" {
			cfg.History.Path = filepath.Join(opts.store, "history.zst")
		}
	}
	if opts.verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, config.Validate(cfg)
}

// resizeFile resizes in and writes the result next to it (or to out).
func resizeFile(ctx context.Context, proc *sizefit.Processor, in, out string, targetKB float64, tolKB *float64, store bool) error {
	f, err := os.Open(in)
	if err != nil {
		return err
	}
	defer f.Close()

	req := core.ResizeRequest{
		Source:      sizefit.FromReaderWithMeta(f, -1, "", filepath.Base(in)),
		TargetKB:    targetKB,
		ToleranceKB: tolKB,
	}

	var res *core.ResizeResult
	if store {
		var stored *core.StoredResult
		res, stored, err = proc.ResizeAndStore(ctx, req)
		if res != nil && stored != nil && stored.ImageRef != "" {
			fmt.Fprintf(os.Stderr, "stored %s\n", stored.ImageRef)
		}
		if err != nil && res != nil {
			// The resize itself succeeded; still write the file.
			fmt.Fprintln(os.Stderr, "sizefit: store:", apperrors.Public(err).Message)
			err = nil
		}
	} else {
		res, err = proc.Resize(ctx, req)
	}
	if err != nil {
		return apperrors.Public(err)
	}

	if out == "" {
		out = outputName(in, targetKB, res.Format)
	}
	if err := os.WriteFile(out, res.Data, 0o644); err != nil {
		return err
	}
	status := "within tolerance"
	if !res.Search.Converged {
		status = "closest achievable"
	}
	fmt.Printf("%s: %.2f KB -> %.2f KB (%dx%d, %s, %s)\n",
		out, core.KB(res.Original.SizeBytes), res.SizeKB, res.Width, res.Height, res.Search.Branch, status)
	return nil
}

func outputName(in string, targetKB float64, f core.Format) string {
	base := strings.TrimSuffix(in, filepath.Ext(in))
	return fmt.Sprintf("%s.%gkb.%s", base, targetKB, f.Ext())
}
