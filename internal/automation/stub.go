//go:build no_automation

package automation

import (
	"errors"
	"log/slog"
	"time"
)

// ErrScriptNotFound is returned for an unknown script id.
var ErrScriptNotFound = errors.New("script not found")

var errDisabled = errors.New("automation disabled")

// ScriptMeta is the metadata header of a script file.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script is a Lua automation script.
type Script struct {
	ID   string     `json:"id"`
	Meta ScriptMeta `json:"meta"`
	Code string     `json:"code"`
	Path string     `json:"-"`
}

// Config tunes the engine.
type Config struct {
	CallTimeout time.Duration
}

// RunResult is the outcome of a one-shot script run.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Handlers int      `json:"handlers"`
	Duration string   `json:"duration"`
}

// Controller is accepted for signature compatibility.
type Controller interface{}

// Manager is a no-op when automation is compiled out.
type Manager struct{}

// NewManager returns a no-op manager.
func NewManager(string, *slog.Logger) (*Manager, error) { return &Manager{}, nil }

// Dir returns "".
func (m *Manager) Dir() string { return "" }

// List returns nothing.
func (m *Manager) List() ([]*Script, error) { return nil, nil }

// Get always fails.
func (m *Manager) Get(id string) (*Script, error) { return nil, ErrScriptNotFound }

// Save always fails.
func (m *Manager) Save(s *Script) (*Script, error) { return nil, errDisabled }

// Delete always fails.
func (m *Manager) Delete(string) error { return errDisabled }

// Engine is a no-op when automation is compiled out.
type Engine struct{}

// NewEngine returns a no-op engine.
func NewEngine(Controller, *Manager, *slog.Logger, Config) *Engine { return &Engine{} }

// Start does nothing.
func (e *Engine) Start() {}

// Stop does nothing.
func (e *Engine) Stop() {}

// Running returns 0.
func (e *Engine) Running() int { return 0 }

// ReloadScript does nothing.
func (e *Engine) ReloadScript(string) error { return nil }

// StopScript does nothing.
func (e *Engine) StopScript(string) {}

// RunScript reports that automation is disabled.
func (e *Engine) RunScript(string) *RunResult {
	return &RunResult{Error: errDisabled.Error(), Logs: []string{}}
}

// Run reports that automation is disabled.
func (e *Engine) Run(string) *RunResult {
	return &RunResult{Error: errDisabled.Error(), Logs: []string{}}
}
