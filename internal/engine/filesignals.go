package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const (
	signalExt = ".signal"
	tmpExt    = ".tmp"
	// pollInterval backs up the watcher in case an event is missed.
	pollInterval = time.Second
)

// FileSignals carries signals between processes through a directory. A
// sender writes <mission>.<nanos>.signal atomically; the process running the
// mission sees it through fsnotify, delivers it, and removes the file.
type FileSignals struct {
	dir     string
	log     zerolog.Logger
	deliver func(missionID string, sig Signal) bool

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewFileSignals creates the signal directory. Call Watch to start
// delivering.
func NewFileSignals(dir string, log zerolog.Logger) (*FileSignals, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create signals directory: %w", err)
	}
	return &FileSignals{dir: dir, log: log, done: make(chan struct{})}, nil
}

// Dir returns the signal directory.
func (fs *FileSignals) Dir() string {
	return fs.dir
}

// Send writes a signal file for missionID.
func (fs *FileSignals) Send(missionID string, sig Signal) error {
	if strings.ContainsAny(missionID, `/\.`) || missionID == "" {
		return fmt.Errorf("invalid mission id %q", missionID)
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%s.%020d%s", missionID, time.Now().UnixNano(), signalExt)
	tmp := filepath.Join(fs.dir, name+tmpExt)
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write signal: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(fs.dir, name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish signal: %w", err)
	}
	return nil
}

// Watch starts delivering signal files to deliver. deliver returns false
// when no local run owns the mission, and the file is then left for the
// process that does. Without a working watcher, polling alone is used.
func (fs *FileSignals) Watch(deliver func(missionID string, sig Signal) bool) {
	fs.mu.Lock()
	fs.deliver = deliver
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(fs.dir); err != nil {
			watcher.Close()
			watcher = nil
		}
	} else {
		watcher = nil
	}
	if watcher == nil {
		fs.log.Warn().Str("dir", fs.dir).Msg("signal watcher unavailable, polling only")
	}
	fs.watcher = watcher
	fs.mu.Unlock()

	fs.wg.Add(1)
	go fs.loop()
}

func (fs *FileSignals) loop() {
	defer fs.wg.Done()

	var events chan fsnotify.Event
	var errs chan error
	if fs.watcher != nil {
		events = fs.watcher.Events
		errs = fs.watcher.Errors
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-fs.done:
			return
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				fs.handle(event.Name)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			fs.log.Debug().Err(err).Msg("signal watcher error")
		case <-ticker.C:
			fs.scan("")
		}
	}
}

// Drain delivers any signal files already waiting for missionID, oldest
// first. An empty missionID drains every mission.
func (fs *FileSignals) Drain(missionID string) {
	fs.scan(missionID)
}

func (fs *FileSignals) scan(missionID string) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, signalExt) {
			continue
		}
		if missionID != "" && !strings.HasPrefix(name, missionID+".") {
			continue
		}
		names = append(names, name)
	}
	// The zero-padded timestamp makes lexical order arrival order per mission.
	sort.Strings(names)
	for _, name := range names {
		fs.handle(filepath.Join(fs.dir, name))
	}
}

func (fs *FileSignals) handle(path string) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, signalExt) {
		return
	}
	missionID, _, ok := strings.Cut(name, ".")
	if !ok {
		return
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.deliver == nil {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		// Already consumed by an earlier event or scan.
		return
	}
	var sig Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		fs.log.Warn().Err(err).Str("file", name).Msg("discarding malformed signal file")
		os.Remove(path)
		return
	}
	if fs.deliver(missionID, sig) {
		os.Remove(path)
	}
}

// Close stops watching. Pending files stay on disk.
func (fs *FileSignals) Close() {
	fs.mu.Lock()
	select {
	case <-fs.done:
		fs.mu.Unlock()
		return
	default:
	}
	close(fs.done)
	watcher := fs.watcher
	fs.mu.Unlock()

	if watcher != nil {
		watcher.Close()
	}
	fs.wg.Wait()
}
