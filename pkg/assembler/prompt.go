package assembler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// PromptSource serves a system prompt from a file and hot-reloads it
// when the file changes, so prompt edits do not require a restart.
type PromptSource struct {
	path   string
	logger zerolog.Logger

	mu     sync.RWMutex
	prompt string

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// NewPromptSource loads the prompt file and starts watching it. The
// file must exist and be non-empty at startup.
func NewPromptSource(path string, logger zerolog.Logger) (*PromptSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read system prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return nil, fmt.Errorf("system prompt file %s is empty", path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create prompt watcher: %w", err)
	}
	// Watch the directory: editors typically replace the file, which
	// drops a watch set on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch prompt directory: %w", err)
	}

	p := &PromptSource{
		path:    path,
		logger:  logger,
		prompt:  prompt,
		watcher: watcher,
		done:    make(chan struct{}),
	}
	go p.watch()
	return p, nil
}

// SystemPrompt returns the current prompt text.
func (p *PromptSource) SystemPrompt() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.prompt
}

// Close stops the watcher. Idempotent.
func (p *PromptSource) Close() {
	p.once.Do(func() {
		close(p.done)
		p.watcher.Close()
	})
}

func (p *PromptSource) watch() {
	for {
		select {
		case <-p.done:
			return
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(p.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			p.reload()
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn().Err(err).Msg("Prompt watcher error")
		}
	}
}

// reload keeps the previous prompt when the new file is unreadable or
// empty, e.g. mid-write.
func (p *PromptSource) reload() {
	data, err := os.ReadFile(p.path)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Prompt reload failed, keeping previous prompt")
		return
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return
	}

	p.mu.Lock()
	p.prompt = prompt
	p.mu.Unlock()
	p.logger.Info().Str("path", p.path).Msg("System prompt reloaded")
}
