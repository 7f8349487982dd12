package tokenstore

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"funnel/pkg/logging"
)

// Watcher observes a token storage directory and notifies registered file
// stores when their token file changes on disk. This lets a running funnel
// process pick up tokens written by a concurrent `funnel auth login`.
type Watcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stores  map[string]*FileStore // keyed by token file path
	onToken func(serverURL string)
	done    chan struct{}
	closed  bool
}

// NewWatcher creates a watcher for the given storage directory.
// onToken (optional) is invoked with the server URL of the store whose token
// file changed, after the store's cache has been invalidated.
func NewWatcher(storageDir string, onToken func(serverURL string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fsw.Add(storageDir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher: fsw,
		stores:  make(map[string]*FileStore),
		onToken: onToken,
		done:    make(chan struct{}),
	}

	go w.loop()
	return w, nil
}

// Register adds a file store to be notified of external token writes.
func (w *Watcher) Register(store *FileStore) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stores[filepath.Clean(store.Path())] = store
}

// Close stops the watcher. Safe to call multiple times.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			w.handleChange(filepath.Clean(event.Name))

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("TokenStore", "Token watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleChange(path string) {
	w.mu.Lock()
	store, ok := w.stores[path]
	onToken := w.onToken
	w.mu.Unlock()

	if !ok {
		return
	}

	store.Reload()
	logging.Debug("TokenStore", "Token file changed on disk for %s", store.serverURL)

	if onToken != nil {
		onToken(store.serverURL)
	}
}
