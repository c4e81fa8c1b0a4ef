package discovery

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// endpointMapFile is the on-disk shape of the endpoint-to-link mapping
type endpointMapFile struct {
	Links []struct {
		LinkID string `yaml:"link_id"`
		Source string `yaml:"source"`
		Target string `yaml:"target"`
	} `yaml:"links"`
}

// EndpointMap resolves endpoint identity pairs to topology link ids for
// the remote-flow source. The mapping is cached from a YAML file and
// refreshed whenever the file changes, so flow translation never waits
// on I/O.
type EndpointMap struct {
	mu     sync.RWMutex
	path   string
	byPair map[string]string

	debounce time.Duration
}

// LoadEndpointMap reads the mapping file at path
func LoadEndpointMap(path string) (*EndpointMap, error) {
	m := &EndpointMap{
		path:     path,
		byPair:   make(map[string]string),
		debounce: 500 * time.Millisecond,
	}
	if err := m.reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Resolve returns the link id for an endpoint pair, direction-agnostic
func (m *EndpointMap) Resolve(a, b string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	linkID, ok := m.byPair[pairKey(a, b)]
	return linkID, ok
}

// Len returns the number of mapped pairs
func (m *EndpointMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byPair)
}

func (m *EndpointMap) reload() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read endpoint map: %w", err)
	}
	var file endpointMapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse endpoint map: %w", err)
	}

	byPair := make(map[string]string, len(file.Links))
	for _, entry := range file.Links {
		if entry.LinkID == "" || entry.Source == "" || entry.Target == "" {
			log.Printf("endpoint map: skipping incomplete entry %+v", entry)
			continue
		}
		byPair[pairKey(entry.Source, entry.Target)] = entry.LinkID
	}

	m.mu.Lock()
	m.byPair = byPair
	m.mu.Unlock()
	log.Printf("Endpoint map loaded: %d pairs from %s", len(byPair), m.path)
	return nil
}

// Watch reloads the mapping when the file changes. It watches the
// containing directory so editor-style replace-on-save is picked up,
// and debounces rapid write bursts. Blocks until ctx is cancelled.
func (m *EndpointMap) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("endpoint map watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(m.path)
	filename := filepath.Base(m.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log.Printf("Watching %s for endpoint map changes", m.path)

	var timer *time.Timer
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(m.debounce, func() {
				if err := m.reload(); err != nil {
					log.Printf("Endpoint map reload failed: %v", err)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("Endpoint map watcher error: %v", err)

		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		}
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}
