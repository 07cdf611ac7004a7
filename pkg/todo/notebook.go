// Package todo stores daily task lists as markdown checklists, one file
// per day, and keeps an in-memory view in sync with external edits.
package todo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

// Item is one checklist entry. Index is the 1-based position within its
// day and doubles as the handle for completing the item.
type Item struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	Done  bool   `json:"done"`
}

// Notebook manages the per-day markdown files under a single directory.
// Files named <YYYY-MM-DD>.md hold lines of the form "- [ ] task" and
// "- [x] task". External edits are picked up through a directory watcher.
type Notebook struct {
	dir string
	log zerolog.Logger

	mu    sync.RWMutex
	cache map[string][]Item

	watcher        *fsnotify.Watcher
	debounce       time.Duration
	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex
	done           chan struct{}
	stopOnce       sync.Once
}

// NewNotebook creates the notebook directory if needed.
func NewNotebook(dir string, logger zerolog.Logger) (*Notebook, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("notebook directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create notebook directory: %w", err)
	}

	return &Notebook{
		dir:            filepath.Clean(dir),
		log:            logger,
		cache:          make(map[string][]Item),
		debounce:       100 * time.Millisecond,
		debounceTimers: make(map[string]*time.Timer),
		done:           make(chan struct{}),
	}, nil
}

// Watch starts monitoring the notebook directory so edits made outside
// the process invalidate the cached day.
func (n *Notebook) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(n.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch notebook: %w", err)
	}
	n.watcher = watcher

	go n.eventLoop()

	n.log.Info().Str("path", n.dir).Msg("Notebook watcher started")
	return nil
}

// Stop shuts the watcher down. Safe to call more than once.
func (n *Notebook) Stop() error {
	var err error
	n.stopOnce.Do(func() {
		close(n.done)

		n.debounceMu.Lock()
		for _, timer := range n.debounceTimers {
			timer.Stop()
		}
		clear(n.debounceTimers)
		n.debounceMu.Unlock()

		if n.watcher != nil {
			err = n.watcher.Close()
		}
	})
	return err
}

func (n *Notebook) eventLoop() {
	for {
		select {
		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			n.handleEvent(event)

		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			n.log.Error().Err(err).Msg("Notebook watcher error")

		case <-n.done:
			return
		}
	}
}

func (n *Notebook) handleEvent(event fsnotify.Event) {
	date, ok := dateFromPath(event.Name)
	if !ok {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	// Debounce rapid writes to the same day file.
	n.debounceMu.Lock()
	defer n.debounceMu.Unlock()
	if timer, exists := n.debounceTimers[date]; exists {
		timer.Stop()
	}
	n.debounceTimers[date] = time.AfterFunc(n.debounce, func() {
		n.debounceMu.Lock()
		delete(n.debounceTimers, date)
		n.debounceMu.Unlock()

		select {
		case <-n.done:
		default:
			n.invalidate(date)
		}
	})
}

func (n *Notebook) invalidate(date string) {
	n.mu.Lock()
	delete(n.cache, date)
	n.mu.Unlock()
	n.log.Debug().Str("date", date).Msg("Notebook day reloaded after external edit")
}

// Today returns the current date in the notebook's file naming format.
func Today() string {
	return time.Now().Format(dateLayout)
}

// Read returns the items for a date. A missing day is an empty list, not
// an error.
func (n *Notebook) Read(date string) ([]Item, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}

	n.mu.RLock()
	if items, ok := n.cache[date]; ok {
		out := make([]Item, len(items))
		copy(out, items)
		n.mu.RUnlock()
		return out, nil
	}
	n.mu.RUnlock()

	n.mu.Lock()
	defer n.mu.Unlock()
	items, err := n.load(date)
	if err != nil {
		return nil, err
	}
	n.cache[date] = items

	out := make([]Item, len(items))
	copy(out, items)
	return out, nil
}

// Add appends a pending item to a day and returns it.
func (n *Notebook) Add(date, text string) (Item, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Item{}, fmt.Errorf("item text is required")
	}
	if strings.Contains(text, "\n") {
		return Item{}, fmt.Errorf("item text must be a single line")
	}
	if err := validateDate(date); err != nil {
		return Item{}, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	items, err := n.load(date)
	if err != nil {
		return Item{}, err
	}
	item := Item{Index: len(items) + 1, Text: text}
	items = append(items, item)

	if err := n.store(date, items); err != nil {
		return Item{}, err
	}
	n.cache[date] = items

	n.log.Debug().Str("date", date).Int("index", item.Index).Msg("Todo added")
	return item, nil
}

// Complete marks the item at a 1-based index as done.
func (n *Notebook) Complete(date string, index int) (Item, error) {
	if err := validateDate(date); err != nil {
		return Item{}, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	items, err := n.load(date)
	if err != nil {
		return Item{}, err
	}
	if index < 1 || index > len(items) {
		return Item{}, fmt.Errorf("no item %d on %s (%d items)", index, date, len(items))
	}

	items[index-1].Done = true
	if err := n.store(date, items); err != nil {
		return Item{}, err
	}
	n.cache[date] = items

	n.log.Debug().Str("date", date).Int("index", index).Msg("Todo completed")
	return items[index-1], nil
}

// load reads a day file from disk. Callers hold n.mu.
func (n *Notebook) load(date string) ([]Item, error) {
	data, err := os.ReadFile(n.path(date))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var items []Item
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "- [ ] "):
			items = append(items, Item{Index: len(items) + 1, Text: strings.TrimPrefix(line, "- [ ] ")})
		case strings.HasPrefix(line, "- [x] "):
			items = append(items, Item{Index: len(items) + 1, Text: strings.TrimPrefix(line, "- [x] "), Done: true})
		}
	}
	return items, nil
}

// store writes a day file. Callers hold n.mu.
func (n *Notebook) store(date string, items []Item) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", date)
	for _, item := range items {
		mark := " "
		if item.Done {
			mark = "x"
		}
		fmt.Fprintf(&b, "- [%s] %s\n", mark, item.Text)
	}
	return os.WriteFile(n.path(date), []byte(b.String()), 0644)
}

func (n *Notebook) path(date string) string {
	return filepath.Join(n.dir, date+".md")
}

func validateDate(date string) error {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return fmt.Errorf("invalid date %q, want YYYY-MM-DD", date)
	}
	return nil
}

func dateFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".md") {
		return "", false
	}
	date := strings.TrimSuffix(base, ".md")
	if validateDate(date) != nil {
		return "", false
	}
	return date, true
}
