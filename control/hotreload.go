// control/hotreload.go
// Author: momentics <momentics@gmail.com>
//
// Re-decodes the config file when it changes on disk and hands the result to
// registered hooks. Only settings that are safe to change at runtime should be
// acted on by hooks; listener and relay settings need a restart.

package control

import (
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Reloader dispatches config changes to hooks.
type Reloader struct {
	v     *viper.Viper
	log   *zap.Logger
	mu    sync.RWMutex
	hooks []func(*Settings)
}

// NewReloader binds a reloader to v. log may be nil.
func NewReloader(v *viper.Viper, log *zap.Logger) *Reloader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reloader{v: v, log: log}
}

// OnReload registers a hook called with each successfully decoded config.
func (r *Reloader) OnReload(fn func(*Settings)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Start watches the config file. It is a no-op when no file was loaded.
func (r *Reloader) Start() {
	if r.v.ConfigFileUsed() == "" {
		return
	}
	r.v.OnConfigChange(func(e fsnotify.Event) {
		s, err := Decode(r.v)
		if err != nil {
			r.log.Warn("config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		r.log.Info("config reloaded", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		r.Trigger(s)
	})
	r.v.WatchConfig()
}

// Trigger invokes all hooks synchronously with s.
func (r *Reloader) Trigger(s *Settings) {
	r.mu.RLock()
	hooks := slices.Clone(r.hooks)
	r.mu.RUnlock()
	for _, fn := range hooks {
		fn(s)
	}
}
