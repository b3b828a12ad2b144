package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ChangeEvent describes a changed file under a watched directory
type ChangeEvent struct {
	File      string
	Action    string // create, modify, delete
	Config    map[string]interface{}
	Timestamp time.Time
}

type ChangeHandler func(event ChangeEvent) error

// Watcher hot-reloads YAML/JSON documents and notifies handlers per file name.
// Changes to *.rego files fire the policy handlers instead.
type Watcher struct {
	dirs     []string
	configs  map[string]map[string]interface{}
	handlers map[string][]ChangeHandler
	policy   []func() error
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	eventMu sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher watches dir plus any extra directories (for example a policy dir
// outside the config dir). Missing directories are created.
func NewWatcher(logger *zap.Logger, dir string, extra ...string) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("config directory cannot be empty")
	}
	dirs := []string{dir}
	for _, d := range extra {
		if d != "" && d != dir {
			dirs = append(dirs, d)
		}
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create config directory %s: %w", d, err)
		}
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Watcher{
		dirs:     dirs,
		configs:  make(map[string]map[string]interface{}),
		handlers: make(map[string][]ChangeHandler),
		watcher:  fw,
		debounce: 50 * time.Millisecond,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// RegisterHandler registers a handler for one file name (base name, e.g. mcp.yaml).
func (w *Watcher) RegisterHandler(filename string, handler ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[filename] = append(w.handlers[filename], handler)
}

// RegisterPolicyHandler registers a handler fired on any *.rego change.
func (w *Watcher) RegisterPolicyHandler(handler func() error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.policy = append(w.policy, handler)
}

// GetConfig returns a copy of the last parsed contents of a file.
func (w *Watcher) GetConfig(filename string) (map[string]interface{}, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	cfg, ok := w.configs[filename]
	if !ok {
		return nil, false
	}
	return copyMap(cfg), true
}

// Start loads the current documents without notifying handlers, then watches.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	for _, d := range w.dirs {
		if err := w.watcher.Add(d); err != nil {
			return fmt.Errorf("watch %s: %w", d, err)
		}
		entries, err := os.ReadDir(d)
		if err != nil {
			return fmt.Errorf("read %s: %w", d, err)
		}
		for _, e := range entries {
			if e.IsDir() || !isConfigFile(e.Name()) {
				continue
			}
			if _, err := w.load(filepath.Join(d, e.Name())); err != nil {
				w.logger.Warn("Skipping unreadable config file", zap.String("file", e.Name()), zap.Error(err))
			}
		}
	}

	go w.loop()
	w.logger.Info("Config watcher started", zap.Strings("dirs", w.dirs))
	return nil
}

// Stop ends the watch loop and waits for it to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	w.mu.Unlock()

	close(w.stopCh)
	err := w.watcher.Close()
	<-w.doneCh
	return err
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	w.eventMu.Lock()
	defer w.eventMu.Unlock()

	name := filepath.Base(ev.Name)
	isConfig, isPolicy := isConfigFile(name), filepath.Ext(name) == ".rego"
	if !isConfig && !isPolicy {
		return
	}

	var action string
	switch {
	case ev.Has(fsnotify.Create):
		action = "create"
	case ev.Has(fsnotify.Write):
		action = "modify"
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		action = "delete"
	default:
		return
	}

	if action != "delete" {
		// coalesce editors that write in several steps
		time.Sleep(w.debounce)
	}

	if isPolicy {
		w.firePolicy(name, action)
		return
	}

	var cfg map[string]interface{}
	if action == "delete" {
		w.mu.Lock()
		cfg = w.configs[name]
		delete(w.configs, name)
		w.mu.Unlock()
	} else {
		var err error
		if cfg, err = w.load(ev.Name); err != nil {
			w.logger.Error("Failed to load config file", zap.String("file", name), zap.Error(err))
			return
		}
	}
	w.fire(ChangeEvent{File: name, Action: action, Config: copyMap(cfg), Timestamp: time.Now()})
}

func (w *Watcher) load(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := make(map[string]interface{})
	if filepath.Ext(path) == ".json" {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	w.mu.Lock()
	w.configs[filepath.Base(path)] = cfg
	w.mu.Unlock()
	return cfg, nil
}

func (w *Watcher) fire(ev ChangeEvent) {
	w.mu.RLock()
	handlers := append([]ChangeHandler(nil), w.handlers[ev.File]...)
	w.mu.RUnlock()

	w.logger.Info("Configuration changed",
		zap.String("file", ev.File),
		zap.String("action", ev.Action),
		zap.Int("handlers", len(handlers)),
	)
	for _, h := range handlers {
		if err := h(ev); err != nil {
			w.logger.Error("Configuration handler error", zap.String("file", ev.File), zap.Error(err))
		}
	}
}

func (w *Watcher) firePolicy(name, action string) {
	w.mu.RLock()
	handlers := append([]func() error(nil), w.policy...)
	w.mu.RUnlock()

	w.logger.Info("Policy file changed, triggering reload",
		zap.String("file", name),
		zap.String("action", action),
	)
	for _, h := range handlers {
		if err := h(); err != nil {
			w.logger.Error("Policy reload handler failed", zap.String("file", name), zap.Error(err))
		}
	}
}

func isConfigFile(name string) bool {
	switch filepath.Ext(name) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
