package messaging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"dqmnet/internal/logging"
	"dqmnet/internal/metrics"
)

const spoolExt = ".msg"

// SpoolBus exchanges messages through a directory tree: one directory per
// subject, one file per message. A message is consumed when delivered, so a
// spool directory should have a single subscribing process. Files written
// while nobody subscribes wait for the next subscriber.
type SpoolBus struct {
	root    string
	watcher *fsnotify.Watcher
	router  *router
	logger  logging.Logger
	closed  atomic.Bool

	// watchMu serialises syncWatch; watched holds the subjects whose
	// directory is registered with the watcher.
	watchMu sync.Mutex
	watched map[string]bool

	done chan struct{}
	wg   sync.WaitGroup
}

func NewSpoolBus(root string, logger logging.Logger, m metrics.Provider) (*SpoolBus, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if root == "" {
		return nil, errors.New("messaging: empty spool directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create spool %s: %w", root, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	b := &SpoolBus{
		root:    root,
		watcher: watcher,
		router:  newRouter(logger, m),
		logger:  logger,
		watched: make(map[string]bool),
		done:    make(chan struct{}),
	}
	b.wg.Add(1)
	go b.loop()
	return b, nil
}

// Publish writes data atomically into the subject's directory.
func (b *SpoolBus) Publish(subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	dir, err := b.dir(subject)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create subject dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".pending-*")
	if err != nil {
		return fmt.Errorf("create spool file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write spool file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close spool file: %w", err)
	}
	name := fmt.Sprintf("%020d-%s%s", time.Now().UnixNano(), uuid.NewString(), spoolExt)
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("commit spool file: %w", err)
	}
	return nil
}

// Subscribe watches the subject's directory and first delivers any messages
// already waiting there, oldest first. Waiting messages are handled on the
// calling goroutine before Subscribe returns, later ones on the bus goroutine.
func (b *SpoolBus) Subscribe(subject string, handler func([]byte)) (io.Closer, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	dir, err := b.dir(subject)
	if err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, ErrNilHandler
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create subject dir: %w", err)
	}
	sub, err := b.router.subscribe(subject, handler)
	if err != nil {
		return nil, err
	}
	sub.onEmpty = b.unwatch
	if err := b.syncWatch(subject, dir); err != nil {
		_ = sub.Close()
		return nil, err
	}
	b.backfill(subject, dir)
	return sub, nil
}

// syncWatch adds or removes the subject's directory so that it is watched
// exactly while the router has subscribers for it. Calls are serialised and
// made after every router change, so the last one applies the final state.
func (b *SpoolBus) syncWatch(subject, dir string) error {
	b.watchMu.Lock()
	defer b.watchMu.Unlock()
	if b.closed.Load() {
		return ErrClosed
	}

	want := b.router.has(subject)
	switch {
	case want && !b.watched[subject]:
		if err := b.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		b.watched[subject] = true
	case !want && b.watched[subject]:
		delete(b.watched, subject)
		if err := b.watcher.Remove(dir); err != nil {
			b.logger.Debugf("unwatch %s: %v", dir, err)
		}
	}
	return nil
}

func (b *SpoolBus) unwatch(subject string) {
	dir, err := b.dir(subject)
	if err != nil {
		return
	}
	_ = b.syncWatch(subject, dir)
}

func (b *SpoolBus) isWatched(subject string) bool {
	b.watchMu.Lock()
	defer b.watchMu.Unlock()
	return b.watched[subject]
}

func (b *SpoolBus) backfill(subject, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		b.logger.Warnf("spool backfill %s: %v", dir, err)
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isSpoolFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		b.consume(subject, filepath.Join(dir, name))
	}
}

func (b *SpoolBus) loop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case evt, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Create|fsnotify.Rename) == 0 || !isSpoolFile(filepath.Base(evt.Name)) {
				continue
			}
			subject := filepath.Base(filepath.Dir(evt.Name))
			b.consume(subject, evt.Name)
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warnf("spool watcher: %v", err)
		}
	}
}

// consume delivers one file if the subject has subscribers and this call
// wins the removal race against the watch loop or another backfill.
func (b *SpoolBus) consume(subject, path string) {
	if !b.router.has(subject) {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			b.logger.Warnf("read spool file %s: %v", path, err)
		}
		return
	}
	if err := os.Remove(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			b.logger.Warnf("remove spool file %s: %v", path, err)
		}
		return
	}
	b.router.route(subject, data)
}

func (b *SpoolBus) dir(subject string) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}
	if subject == "." || subject == ".." || strings.HasPrefix(subject, ".") || strings.ContainsAny(subject, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSubject, subject)
	}
	return filepath.Join(b.root, subject), nil
}

func isSpoolFile(name string) bool {
	return !strings.HasPrefix(name, ".") && strings.HasSuffix(name, spoolExt)
}

func (b *SpoolBus) Close() error {
	b.watchMu.Lock()
	already := b.closed.Swap(true)
	b.watchMu.Unlock()
	if already {
		return nil
	}

	close(b.done)
	err := b.watcher.Close()
	b.wg.Wait()
	b.router.reset()
	return err
}
