package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Turn is a single recorded conversation turn.
type Turn struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Entry pairs a turn with its session key for self-describing JSONL lines.
type Entry struct {
	SessionKey string `json:"sessionKey"`
	Turn       Turn   `json:"turn"`
}

// Info summarizes a stored transcript.
type Info struct {
	SessionKey   string
	Size         int64
	LastModified time.Time
	TurnCount    int
}

// Store persists transcripts under a single directory, one JSONL file per
// session key.
type Store struct {
	dir string
	log zerolog.Logger

	locksMu    sync.RWMutex
	writeLocks map[string]*sync.Mutex
}

// NewStore creates the transcript directory if needed.
func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("transcript directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}

	store := &Store{
		dir:        filepath.Clean(dir),
		log:        logger,
		writeLocks: make(map[string]*sync.Mutex),
	}
	logger.Info().Str("dir", store.dir).Msg("Transcript store initialized")
	return store, nil
}

// NewSessionKey mints a fresh unique session key.
func NewSessionKey() string {
	id, err := gonanoid.New()
	if err != nil {
		// gonanoid only fails when the system entropy source does.
		return fmt.Sprintf("s%d", time.Now().UnixNano())
	}
	return id
}

func validateSessionKey(sessionKey string) error {
	if sessionKey == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(sessionKey, "..") {
		return fmt.Errorf("session key cannot contain '..'")
	}
	if strings.ContainsAny(sessionKey, "/\\") {
		return fmt.Errorf("session key cannot contain path separators")
	}
	if strings.Contains(sessionKey, "\x00") {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

func (s *Store) path(sessionKey string) string {
	return filepath.Join(s.dir, sessionKey+".jsonl")
}

func (s *Store) writeLock(sessionKey string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, exists := s.writeLocks[sessionKey]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	s.writeLocks[sessionKey] = lock
	return lock
}

// Append records a turn, creating the transcript on first write. The line
// is synced to disk before returning.
func (s *Store) Append(sessionKey string, turn Turn) error {
	if err := validateSessionKey(sessionKey); err != nil {
		return err
	}
	if turn.Role == "" {
		return fmt.Errorf("turn role cannot be empty")
	}
	if turn.Content == "" {
		return fmt.Errorf("turn content cannot be empty")
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	lock := s.writeLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(s.path(sessionKey), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open transcript: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(Entry{SessionKey: sessionKey, Turn: turn})
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write turn: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync transcript: %w", err)
	}

	s.log.Debug().
		Str("session_key", sessionKey).
		Str("role", turn.Role).
		Msg("Turn recorded")
	return nil
}

// Load reads every valid turn from a transcript. Corrupted lines are
// skipped with a warning. A missing transcript is an empty slice.
func (s *Store) Load(sessionKey string) ([]Turn, error) {
	if err := validateSessionKey(sessionKey); err != nil {
		return nil, err
	}

	file, err := os.Open(s.path(sessionKey))
	if os.IsNotExist(err) {
		return []Turn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer file.Close()

	var turns []Turn
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			s.log.Warn().
				Str("session_key", sessionKey).
				Int("line", lineNum).
				Err(err).
				Msg("Skipping unparseable transcript line")
			continue
		}
		if entry.Turn.Role == "" || entry.Turn.Content == "" {
			s.log.Warn().
				Str("session_key", sessionKey).
				Int("line", lineNum).
				Msg("Skipping incomplete transcript line")
			continue
		}
		turns = append(turns, entry.Turn)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	return turns, nil
}

// Delete removes a transcript. Deleting a missing transcript is not an
// error.
func (s *Store) Delete(sessionKey string) error {
	if err := validateSessionKey(sessionKey); err != nil {
		return err
	}

	lock := s.writeLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.path(sessionKey)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}

	s.locksMu.Lock()
	delete(s.writeLocks, sessionKey)
	s.locksMu.Unlock()

	s.log.Info().Str("session_key", sessionKey).Msg("Transcript deleted")
	return nil
}

// List returns the keys of every stored transcript.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read transcript directory: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(entry.Name(), ".jsonl"))
	}
	return keys, nil
}

// Stat returns metadata about one transcript.
func (s *Store) Stat(sessionKey string) (Info, error) {
	if err := validateSessionKey(sessionKey); err != nil {
		return Info{}, err
	}

	fi, err := os.Stat(s.path(sessionKey))
	if os.IsNotExist(err) {
		return Info{}, fmt.Errorf("session %s does not exist", sessionKey)
	}
	if err != nil {
		return Info{}, fmt.Errorf("failed to stat transcript: %w", err)
	}

	turns, err := s.Load(sessionKey)
	if err != nil {
		return Info{}, err
	}

	return Info{
		SessionKey:   sessionKey,
		Size:         fi.Size(),
		LastModified: fi.ModTime(),
		TurnCount:    len(turns),
	}, nil
}

// Repair rewrites a transcript keeping only its valid lines, replacing the
// file atomically.
func (s *Store) Repair(sessionKey string) error {
	turns, err := s.Load(sessionKey)
	if err != nil {
		return err
	}

	lock := s.writeLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	target := s.path(sessionKey)
	tempPath := target + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	for _, turn := range turns {
		data, err := json.Marshal(Entry{SessionKey: sessionKey, Turn: turn})
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal turn: %w", err)
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write turn: %w", err)
		}
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace transcript: %w", err)
	}

	s.log.Info().
		Str("session_key", sessionKey).
		Int("turns", len(turns)).
		Msg("Transcript repaired")
	return nil
}
