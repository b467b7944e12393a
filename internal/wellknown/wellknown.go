// Package wellknown serves the service's DID document from disk, reloading it
// when the file changes so identity rotation does not need a restart.
package wellknown

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/foodios/appview/pkg/logger"
)

// Provider loads and caches the DID document at path. Concurrent cold reads
// collapse into one disk load.
type Provider struct {
	path   string
	logger logger.Logger

	mu    sync.RWMutex
	doc   []byte
	group singleflight.Group
}

// NewProvider builds a Provider for the document at path.
func NewProvider(path string, l logger.Logger) *Provider {
	if l == nil {
		l = logger.NewNoopLogger()
	}
	return &Provider{path: path, logger: l}
}

// Document returns the cached DID document, loading it on first use.
func (p *Provider) Document(ctx context.Context) ([]byte, error) {
	p.mu.RLock()
	doc := p.doc
	p.mu.RUnlock()
	if doc != nil {
		return doc, nil
	}

	loaded, err, _ := p.group.Do("load", func() (interface{}, error) {
		return p.load()
	})
	if err != nil {
		return nil, err
	}
	return loaded.([]byte), nil
}

func (p *Provider) load() ([]byte, error) {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read did document: %w", err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("did document %s is not valid json", p.path)
	}

	p.mu.Lock()
	p.doc = raw
	p.mu.Unlock()
	return raw, nil
}

// invalidate drops the cached document so the next read reloads it.
func (p *Provider) invalidate() {
	p.mu.Lock()
	p.doc = nil
	p.mu.Unlock()
}

// Watch reloads the document when the file changes, until ctx ends. The
// watcher observes the parent directory because editors replace files rather
// than write them in place.
func (p *Provider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(p.path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(p.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			p.invalidate()
			p.logger.Info("did document changed, reloading", zap.String("path", p.path))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("did document watcher error", zap.Error(err))
		}
	}
}
