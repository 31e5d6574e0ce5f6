package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Loader parses and validates policy configuration files.
type Loader struct {
	logger   zerolog.Logger
	validate *validator.Validate
	schemas  *SchemaRegistry
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) (*Loader, error) {
	schemas, err := NewSchemaRegistry()
	if err != nil {
		return nil, err
	}
	return &Loader{
		logger:   logger.With().Str("component", "policy-loader").Logger(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		schemas:  schemas,
	}, nil
}

// Load reads a policy file from disk, parses it as YAML or JSON by
// extension, and validates every policy in it. Validation failures are
// raised here, before any remote mutation can happen.
func (l *Loader) Load(path string) ([]Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var policies []Description
	if strings.HasSuffix(path, ".json") {
		policies, err = l.ParseJSON(data)
	} else {
		policies, err = l.ParseYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	l.logger.Info().
		Str("path", path).
		Int("policies", len(policies)).
		Msg("Policies loaded")
	return policies, nil
}

// ParseYAML parses and validates a YAML policy document.
func (l *Loader) ParseYAML(data []byte) ([]Description, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return l.validated(f)
}

// ParseJSON parses and validates a JSON policy document, the shape
// embedded in a deployed bundle.
func (l *Loader) ParseJSON(data []byte) ([]Description, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return l.validated(f)
}

func (l *Loader) validated(f File) ([]Description, error) {
	if len(f.Policies) == 0 {
		return nil, fmt.Errorf("no policies declared")
	}

	seen := make(map[string]bool, len(f.Policies))
	for _, d := range f.Policies {
		if err := l.validate.Struct(d); err != nil {
			return nil, fmt.Errorf("policy %q: %w", d.Name, err)
		}
		if err := l.schemas.ValidateDescription(d); err != nil {
			return nil, err
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate policy name %q", d.Name)
		}
		seen[d.Name] = true
	}
	return f.Policies, nil
}

// Watch watches a policy file and invokes reload with the freshly loaded
// policies whenever it changes. Reload errors are logged, not fatal: a bad
// edit should not kill the watch loop.
func (l *Loader) Watch(ctx context.Context, path string, reload func([]Description) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher != nil {
		return fmt.Errorf("watch already active")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}
	l.watcher = watcher

	go l.processEvents(ctx, path, reload)

	l.logger.Info().Str("path", path).Msg("Watching policy file")
	return nil
}

// processEvents debounces filesystem events and triggers reloads.
func (l *Loader) processEvents(ctx context.Context, path string, reload func([]Description) error) {
	const reloadDelay = 500 * time.Millisecond
	var reloadTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			_ = l.StopWatching()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Policy file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				policies, err := l.Load(path)
				if err != nil {
					l.logger.Error().Err(err).Msg("Failed to reload policies")
					return
				}
				if err := reload(policies); err != nil {
					l.logger.Error().Err(err).Msg("Failed to apply reloaded policies")
				}
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// StopWatching stops the file watch.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	l.watcher = nil
	return err
}
