package profile

import (
	"log/slog"
	"sync"
)

// Resolver hands out the active profile. The profile value is swapped whole
// when the active profile changes; callers keep the copy they read.
type Resolver struct {
	settings *Settings
	logger   *slog.Logger

	mu     sync.RWMutex
	active Profile
}

// NewResolver activates name. A missing or invalid profile is an error.
func NewResolver(settings *Settings, name string, logger *slog.Logger) (*Resolver, error) {
	p, err := settings.Get(name)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{settings: settings, logger: logger, active: p}, nil
}

// Active returns the current profile.
func (r *Resolver) Active() Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// SetActive switches to another profile. On error the active profile is unchanged.
func (r *Resolver) SetActive(name string) (Profile, error) {
	p, err := r.settings.Get(name)
	if err != nil {
		return Profile{}, err
	}

	r.mu.Lock()
	prev := r.active.Name
	r.active = p
	r.mu.Unlock()

	r.logger.Info("active profile changed", "from", prev, "to", p.Name, "api_base", p.APIBase)
	return p, nil
}

// Names lists every configured profile.
func (r *Resolver) Names() []string {
	return r.settings.Names()
}

// Get returns a named profile without activating it.
func (r *Resolver) Get(name string) (Profile, error) {
	return r.settings.Get(name)
}
