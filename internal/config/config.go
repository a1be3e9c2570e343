// Package config loads and hot-reloads the routing configuration: the
// map of ruleName to RuleConfig that the processor, normalizers, and
// escalation loop all read through. It merges a YAML file on disk with
// a singleton row in Postgres, validates untyped input before it ever
// reaches the cache, and watches the file for changes so an operator's
// edit takes effect without a restart.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/pilot-net/alert-relay/internal/types"
)

// DBStore is the subset of store.Store the config service persists
// through. Left nil when no database is configured; the service then
// runs file-only with no migration-on-startup step.
type DBStore interface {
	LoadConfig(ctx context.Context) (types.Config, error)
	SaveConfig(ctx context.Context, cfg types.Config) error
}

// Service owns the cached, validated routing configuration and the
// mechanics that keep it current: an explicit Reload, a push from the
// HTTP API, and a file watcher for hot-reload.
type Service struct {
	path   string
	db     DBStore
	logger *slog.Logger

	mu    sync.RWMutex
	cache types.Config

	watcher *fsnotify.Watcher
	closeCh chan struct{}
}

// New builds a Service bound to the YAML file at path. db may be nil.
func New(path string, db DBStore, logger *slog.Logger) *Service {
	return &Service{
		path:    path,
		db:      db,
		logger:  logger.With("component", "config"),
		cache:   types.Config{},
		closeCh: make(chan struct{}),
	}
}

// Bootstrap loads the initial configuration per spec: if a database is
// configured, load its persisted config; if it already has entries,
// cache it. Otherwise (no database, or an empty persisted config), load
// from the file and cache that instead. With a database it then runs the
// one-time migration pass documented on MigrateOnStartup.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.db != nil {
		dbCfg, err := s.db.LoadConfig(ctx)
		if err != nil {
			return fmt.Errorf("config: bootstrap: load db config: %w", err)
		}
		if len(dbCfg) > 0 {
			s.setCache(dbCfg)
		} else {
			fileCfg, err := s.loadFile()
			if err != nil {
				return fmt.Errorf("config: bootstrap: load file config: %w", err)
			}
			s.setCache(fileCfg)
		}
		return s.MigrateOnStartup(ctx)
	}

	fileCfg, err := s.loadFile()
	if err != nil {
		return fmt.Errorf("config: bootstrap: load file config: %w", err)
	}
	s.setCache(fileCfg)
	return nil
}

// MigrateOnStartup merges the persisted DB config with the file config
// (file entries win on key collision), validates the merge, writes it
// back to the database, and caches it. A no-op when no database is
// configured.
func (s *Service) MigrateOnStartup(ctx context.Context) error {
	if s.db == nil {
		return nil
	}

	dbCfg, err := s.db.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("config: migrate: load db config: %w", err)
	}
	fileCfg, err := s.loadFile()
	if err != nil {
		return fmt.Errorf("config: migrate: load file config: %w", err)
	}

	merged := make(types.Config, len(dbCfg)+len(fileCfg))
	for name, rule := range dbCfg {
		merged[name] = rule
	}
	for name, rule := range fileCfg {
		merged[name] = rule
	}
	for name, rule := range merged {
		if rule.ChannelID == "" {
			return fmt.Errorf("config: migrate: %w: rule %q missing string channelId", ErrInvalidConfig, name)
		}
	}

	if err := s.db.SaveConfig(ctx, merged); err != nil {
		return fmt.Errorf("config: migrate: save merged config: %w", err)
	}
	s.setCache(merged)
	s.logger.Info("migrated config on startup", "entries", len(merged))
	return nil
}

// Get returns the single rule for ruleName, matching the processor's
// RuleLookup shape.
func (s *Service) Get(ruleName string) (types.RuleConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.cache[ruleName]
	return rule, ok
}

// Snapshot returns a copy of the full cached configuration, for the
// GET /get-config endpoint.
func (s *Service) Snapshot() types.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(types.Config, len(s.cache))
	for k, v := range s.cache {
		out[k] = v
	}
	return out
}

// Reload re-reads and validates the file, without touching the cache
// on error. It returns the entry count on success, matching the
// GET|POST /reload endpoint's `{ok, entries}` response.
func (s *Service) Reload(ctx context.Context) (int, error) {
	cfg, err := s.loadFile()
	if err != nil {
		return 0, err
	}
	s.setCache(cfg)
	if s.db != nil {
		if err := s.db.SaveConfig(ctx, cfg); err != nil {
			s.logger.Warn("reload: save to db failed, cache updated anyway", "error", err)
		}
	}
	return len(cfg), nil
}

// Push validates raw, typically request-decoded config, then persists
// and caches it. Persisting is skipped (not an error) when no database
// is configured.
func (s *Service) Push(ctx context.Context, raw any) error {
	cfg, err := Validate(raw)
	if err != nil {
		return err
	}
	if s.db != nil {
		if err := s.db.SaveConfig(ctx, cfg); err != nil {
			return fmt.Errorf("config: push: save: %w", err)
		}
	}
	s.setCache(cfg)
	return nil
}

func (s *Service) setCache(cfg types.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = cfg
}

func (s *Service) loadFile() (types.Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return Validate(raw)
}

// Watch starts watching the config file for Write/Create events,
// debounced by 500ms, triggering Reload on settle. It blocks until ctx
// is cancelled or Close is called.
func (s *Service) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	s.watcher = watcher
	defer watcher.Close()

	if err := watcher.Add(s.path); err != nil {
		return fmt.Errorf("config: watch %s: %w", s.path, err)
	}
	s.logger.Info("watching config file", "path", s.path)

	var debounce *time.Timer
	debounced := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closeCh:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, func() {
				select {
				case debounced <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("config watcher error", "error", err)
		case <-debounced:
			if _, err := s.Reload(ctx); err != nil {
				s.logger.Error("hot-reload failed, cache unchanged", "error", err)
				continue
			}
			s.logger.Info("config hot-reloaded")
		}
	}
}

// Close stops an in-progress Watch.
func (s *Service) Close() {
	close(s.closeCh)
}
