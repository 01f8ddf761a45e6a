package sharedstate

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const tempPrefix = ".tmp-"

// Dir is a Port backed by a directory with one file per key, shared between
// processes on the same machine. Changes made by other writers are picked up
// through fsnotify.
//
// Every write lands as a fresh file renamed into place, so a Dir tells its own
// writes apart by file identity. Another writer storing an identical value is
// still reported.
type Dir struct {
	path    string
	watcher *fsnotify.Watcher

	mu sync.Mutex
	// known holds the file last written or reported for each key.
	known  map[string]os.FileInfo
	subs   map[uint64]func(Change)
	nextID uint64

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

var _ Port = (*Dir)(nil)

// OpenDir creates the directory if needed and starts watching it.
func OpenDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create shared state dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	d := &Dir{
		path:    path,
		watcher: watcher,
		known:   make(map[string]os.FileInfo),
		subs:    make(map[uint64]func(Change)),
		done:    make(chan struct{}),
	}
	d.loadExisting()

	d.wg.Add(1)
	go d.watch()
	return d, nil
}

func (d *Dir) loadExisting() {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return
	}
	for _, e := range entries {
		key, ok := d.keyFor(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		if fi, err := os.Stat(filepath.Join(d.path, e.Name())); err == nil {
			d.known[key] = fi
		}
	}
}

func (d *Dir) fileFor(key string) string {
	return filepath.Join(d.path, url.PathEscape(key))
}

func (d *Dir) keyFor(name string) (string, bool) {
	if strings.HasPrefix(name, tempPrefix) {
		return "", false
	}
	key, err := url.PathUnescape(name)
	if err != nil {
		return "", false
	}
	return key, true
}

func (d *Dir) Read(key string) (string, bool, error) {
	b, err := os.ReadFile(d.fileFor(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return string(b), true, nil
}

func (d *Dir) Write(key, value string) error {
	select {
	case <-d.done:
		return ErrClosed
	default:
	}

	tmp, err := os.CreateTemp(d.path, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	fi, err := os.Stat(tmp.Name())
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %q: %w", key, err)
	}

	// Rename keeps the inode, so the watcher sees this file as ours.
	d.mu.Lock()
	d.known[key] = fi
	d.mu.Unlock()

	if err := os.Rename(tmp.Name(), d.fileFor(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

func (d *Dir) Delete(key string) error {
	d.mu.Lock()
	delete(d.known, key)
	d.mu.Unlock()

	err := os.Remove(d.fileFor(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

func (d *Dir) Subscribe(fn func(Change)) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

// Close stops watching. It is safe to call more than once.
func (d *Dir) Close() error {
	var err error
	d.once.Do(func() {
		close(d.done)
		err = d.watcher.Close()
		d.wg.Wait()
	})
	return err
}

func (d *Dir) watch() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.handleEvent(event)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("dir", d.path).Msg("shared state watcher error")
		}
	}
}

func (d *Dir) handleEvent(event fsnotify.Event) {
	key, ok := d.keyFor(filepath.Base(event.Name))
	if !ok {
		return
	}

	var c Change
	switch {
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		fi, value, err := readWithInfo(event.Name)
		if err != nil {
			return
		}

		d.mu.Lock()
		prev, seen := d.known[key]
		if seen && os.SameFile(prev, fi) {
			d.mu.Unlock()
			return
		}
		d.known[key] = fi
		d.mu.Unlock()
		c = Change{Key: key, Value: value}

	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if _, err := os.Stat(event.Name); err == nil {
			return
		}
		d.mu.Lock()
		_, seen := d.known[key]
		delete(d.known, key)
		d.mu.Unlock()
		if !seen {
			return
		}
		c = Change{Key: key, Deleted: true}

	default:
		return
	}

	d.mu.Lock()
	subs := make([]func(Change), 0, len(d.subs))
	for id := uint64(0); id < d.nextID; id++ {
		if fn, ok := d.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	d.mu.Unlock()

	for _, fn := range subs {
		fn(c)
	}
}

// readWithInfo reads a file and stats the same open handle, so the value and
// identity always match even if the file is replaced meanwhile.
func readWithInfo(name string) (os.FileInfo, string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, "", err
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}
	return fi, string(b), nil
}
