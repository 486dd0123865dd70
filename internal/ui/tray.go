package ui

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/heimdex/denoise-agent/internal/cloud"
	"github.com/heimdex/denoise-agent/internal/pipeline"
)

// Canceler stops the running batch.
type Canceler interface {
	Cancel() bool
	IsRunning() bool
}

type HealthRefresher interface {
	Refresh(ctx context.Context) cloud.HealthStatus
}

type Tray struct {
	runner  Canceler
	health  HealthRefresher
	profile func() string
	logger  *slog.Logger

	statusItem  *systray.MenuItem
	profileItem *systray.MenuItem
	remoteItem  *systray.MenuItem
	cancelItem  *systray.MenuItem

	mu    sync.Mutex
	ready bool
	last  pipeline.Snapshot

	onQuit func()
}

type TrayConfig struct {
	Runner      Canceler
	Health      HealthRefresher
	ProfileName func() string
	Logger      *slog.Logger
	OnQuit      func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		runner:  cfg.Runner,
		health:  cfg.Health,
		profile: cfg.ProfileName,
		logger:  cfg.Logger,
		onQuit:  cfg.OnQuit,
		last:    pipeline.Snapshot{State: pipeline.StateIdle, Percent: -1},
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconIdle)
	systray.SetTitle("Denoise")
	systray.SetTooltip("Denoise Agent")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current pipeline status")
	t.statusItem.Disable()

	t.profileItem = systray.AddMenuItem("Profile: "+t.profileName(), "Active service profile")
	t.profileItem.Disable()

	t.remoteItem = systray.AddMenuItem("Service: unknown", "Remote service health")
	t.remoteItem.Disable()

	systray.AddSeparator()

	t.cancelItem = systray.AddMenuItem("Cancel Batch", "Cancel the running batch")
	t.cancelItem.Disable()

	checkItem := systray.AddMenuItem("Check Service", "Probe the remote health endpoint")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Denoise Agent")

	t.mu.Lock()
	t.ready = true
	last := t.last
	t.mu.Unlock()
	t.Update(last)

	go func() {
		for {
			select {
			case <-t.cancelItem.ClickedCh:
				if t.runner != nil && t.runner.Cancel() {
					t.logger.Info("batch cancel requested from tray")
				}
			case <-checkItem.ClickedCh:
				go t.checkHealth()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	go t.checkHealth()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

// Update renders a tracker snapshot. Snapshots that arrive before the tray
// is ready are kept and shown once it is.
func (t *Tray) Update(s pipeline.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = s
	if !t.ready {
		return
	}

	t.statusItem.SetTitle("Status: " + s.Summary())
	t.profileItem.SetTitle("Profile: " + t.profileName())
	systray.SetIcon(iconFor(s.State))

	if t.runner != nil && t.runner.IsRunning() {
		t.cancelItem.Enable()
	} else {
		t.cancelItem.Disable()
	}
}

func (t *Tray) checkHealth() {
	if t.health == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st := t.health.Refresh(ctx)
	title := "Service: unreachable"
	if st.Healthy {
		title = "Service: healthy"
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.remoteItem.SetTitle(title)
}

func (t *Tray) profileName() string {
	if t.profile == nil {
		return "-"
	}
	return t.profile()
}

func (t *Tray) Quit() {
	systray.Quit()
}
