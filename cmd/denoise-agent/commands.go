package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/heimdex/denoise-agent/internal/api"
	"github.com/heimdex/denoise-agent/internal/config"
	"github.com/heimdex/denoise-agent/internal/logging"
	"github.com/heimdex/denoise-agent/internal/output"
	"github.com/heimdex/denoise-agent/internal/pipeline"
	"github.com/heimdex/denoise-agent/internal/profile"
	"github.com/heimdex/denoise-agent/internal/request"
	"github.com/heimdex/denoise-agent/internal/ui"
	"github.com/heimdex/denoise-agent/internal/watcher"
)

// accountFlag returns the --account value as a safe key segment.
func accountFlag(c *cli.Context) (string, error) {
	raw := c.String("account")
	if raw == "" {
		return "", nil
	}
	account := request.SanitizeSegment(raw, request.MaxSegmentLen)
	if account == "" {
		return "", cli.Exit(fmt.Sprintf("account %q has no usable characters", raw), 2)
	}
	return account, nil
}

func globalOptions(c *cli.Context) options {
	return options{
		profile:   c.String("profile"),
		transport: c.String("transport"),
	}
}

func runCommand(c *cli.Context) error {
	files := trimmed(c.Args().Slice())
	if len(files) == 0 {
		return cli.Exit("at least one FILE is required", 2)
	}

	var err error
	opts := globalOptions(c)
	if opts.account, err = accountFlag(c); err != nil {
		return err
	}
	opts.probeTIFF = c.Bool("probe-tiff")
	opts.fields = request.Fields{
		Model:     c.String("model"),
		Strength:  c.Int("strength"),
		Width:     c.Int("width"),
		Height:    c.Int("height"),
		UsingBits: c.Int("using-bits"),
	}
	opts.observers = append(opts.observers, pipeline.ObserverFunc(func(e pipeline.Event) {
		if e.Kind == pipeline.EventFinished {
			fmt.Fprintf(c.App.ErrWriter, "[%s] %s (%.2fs) %s\n", e.Status, e.File, e.Elapsed.Seconds(), e.Message)
		}
	}))

	a, err := newAgent(c.Context, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.orch.RunBatch(c.Context, files)

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tRESULT\tTOTAL\tOUTPUT")
	for _, rec := range res.Runs {
		result := "ok"
		switch {
		case rec.Canceled:
			result = "canceled"
		case !rec.Success:
			result = "failed: " + rec.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%.2fs\t%s\n", rec.LocalPath, result, rec.Total.Seconds(), rec.OutputPath)
	}
	w.Flush()

	fmt.Fprintf(c.App.Writer, "\n%d/%d succeeded\n", res.Succeeded, res.Total)

	if errors.Is(err, context.Canceled) {
		return cli.Exit("canceled", 130)
	}
	if res.Failed > 0 {
		return cli.Exit(fmt.Sprintf("%d file(s) failed", res.Failed), 1)
	}
	return nil
}

func healthCommand(c *cli.Context) error {
	a, err := newAgent(c.Context, globalOptions(c))
	if err != nil {
		return err
	}
	defer a.Close()

	var targets []profile.Profile
	if c.Bool("all") {
		for _, name := range a.resolver.Names() {
			p, err := a.resolver.Get(name)
			if err != nil {
				fmt.Fprintf(c.App.Writer, "%s\tinvalid: %v\n", name, err)
				continue
			}
			targets = append(targets, p)
		}
	} else {
		targets = []profile.Profile{a.resolver.Active()}
	}

	results := a.cloud.Health.HealthAll(c.Context, targets)

	unhealthy := 0
	for _, p := range targets {
		state := "healthy"
		if !results[p.Name] {
			state = "unreachable"
			unhealthy++
		}
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", p.Name, state, p.HealthURL())
	}

	if unhealthy > 0 {
		return cli.Exit(fmt.Sprintf("%d profile(s) unhealthy", unhealthy), 1)
	}
	return nil
}

func loadSettings() (config.Config, *profile.Settings, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	settings, err := profile.Load(cfg.SettingsPath())
	if err != nil {
		return nil, nil, err
	}
	return cfg, settings, nil
}

func profilesListCommand(c *cli.Context) error {
	cfg, settings, err := loadSettings()
	if err != nil {
		return err
	}

	active := c.String("profile")
	if active == "" {
		active = cfg.Profile()
	}

	for _, name := range settings.Names() {
		marker := " "
		if name == active {
			marker = "*"
		}
		suffix := ""
		if _, err := settings.Get(name); err != nil {
			suffix = "  (invalid: " + err.Error() + ")"
		}
		fmt.Fprintf(c.App.Writer, "%s %s%s\n", marker, name, suffix)
	}
	return nil
}

func profilesShowCommand(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return cli.Exit("profile NAME is required", 2)
	}

	_, settings, err := loadSettings()
	if err != nil {
		return err
	}
	p, err := settings.Get(name)
	if err != nil {
		return err
	}

	out, err := profile.Marshal(p)
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(out)
	return err
}

func runsCommand(c *cli.Context) error {
	a, err := newAgent(c.Context, globalOptions(c))
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.repo.ListRuns(c.Context, c.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tPROFILE\tCORRELATION\tRESULT\tTOTAL\tFILE")
	for _, rec := range runs {
		result := "ok"
		switch {
		case rec.Canceled:
			result = "canceled"
		case !rec.Success:
			result = "failed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2fs\t%s\n",
			rec.StartedAt.Local().Format("2006-01-02 15:04:05"),
			rec.Profile,
			rec.CorrelationID,
			result,
			rec.Total.Seconds(),
			rec.LocalPath,
		)
	}
	return w.Flush()
}

func serveCommand(c *cli.Context) error {
	startTime := time.Now()

	a, err := newAgent(c.Context, globalOptions(c))
	if err != nil {
		return err
	}
	defer a.Close()

	authToken, err := ensureAuthToken(c.Context, a.db)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════════════╗")
	fmt.Printf("║  DENOISE AGENT v%-58s║\n", Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-45d║\n", a.cfg.Port())
	fmt.Printf("║  Auth Token: %-61s║\n", authToken)
	fmt.Printf("║  Profile:    %-61s║\n", a.resolver.Active().Name)
	fmt.Println("╚═══════════════════════════════════════════════════════════════════════════╝")
	fmt.Println()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	apiServer := api.NewServer(api.ServerConfig{
		Port:        a.cfg.Port(),
		Version:     Version,
		StartTime:   startTime,
		Logger:      a.logger,
		BaseContext: ctx,
		Store:       a.db,
		Profiles:    a.resolver,
		Runner:      a.runner,
		Status:      a.tracker,
		Health:      a.health,
		Runs:        a.repo,
		Lines:       a.lines,
		Output:      output.NewServer(a.cfg.DownloadDir(), a.logger),
		Metrics:     promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	quitCh := make(chan struct{})
	var quitOnce sync.Once

	if a.cfg.Headless() {
		a.logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Runner:      a.runner,
			Health:      a.health,
			ProfileName: func() string { return a.resolver.Active().Name },
			Logger:      a.logger,
			OnQuit: func() {
				quitOnce.Do(func() { close(quitCh) })
			},
		})
		a.tracker.Subscribe(tray.Update)
		go tray.Run()
	}

	select {
	case <-c.Context.Done():
		a.logger.Info("received shutdown signal")
	case <-quitCh:
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	a.logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if a.runner.Cancel() {
		waitDone := make(chan struct{})
		go func() {
			a.runner.Wait()
			close(waitDone)
		}()
		select {
		case <-waitDone:
		case <-shutdownCtx.Done():
			a.logger.Warn("batch did not stop before shutdown deadline")
		}
	}

	if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error("failed to shutdown HTTP server", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

func trimmed(ss []string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func watchCommand(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		return cli.Exit("DIR is required", 2)
	}

	var err error
	opts := globalOptions(c)
	if opts.account, err = accountFlag(c); err != nil {
		return err
	}
	opts.probeTIFF = c.Bool("probe-tiff")

	a, err := newAgent(c.Context, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	w := watcher.NewFolderWatcher(c.Duration("settle"), c.StringSlice("ext"), logging.WithComponent(a.logger, "watcher"))

	queue := make(chan string, 64)
	w.OnChange(func(path string, ev watcher.EventType) {
		if ev != watcher.EventCreate {
			return
		}
		select {
		case queue <- path:
		default:
			a.logger.Warn("watch queue full, file skipped", "path", path)
		}
	})

	g, ctx := errgroup.WithContext(c.Context)
	g.Go(func() error {
		return w.Watch(ctx, dir)
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case path := <-queue:
				rec, err := a.orch.Run(ctx, path)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				result := "ok"
				if err != nil {
					result = "failed: " + rec.Error
				}
				fmt.Fprintf(c.App.Writer, "%s\t%s\t%.2fs\t%s\n", path, result, rec.Total.Seconds(), rec.OutputPath)
			}
		}
	})

	return g.Wait()
}
