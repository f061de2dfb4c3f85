package plugin

import (
	"errors"
	"fmt"
	goplugin "plugin"
)

// entrySymbol is the exported symbol every plugin binary must provide.
const entrySymbol = "Plugin"

// Loader resolves plugin binaries into Plugin implementations.
type Loader interface {
	Load(path string) (Plugin, error)
}

// GoPluginLoader loads shared objects built with `go build -buildmode=plugin`.
// The binary exports either a Plugin value, a pointer to one, or a factory
// function returning one.
type GoPluginLoader struct{}

// Load opens the shared object and resolves its entry symbol.
func (GoPluginLoader) Load(path string) (Plugin, error) {
	if path == "" {
		return nil, errors.New("plugin path cannot be empty")
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin %s: %w", path, err)
	}
	symbol, err := so.Lookup(entrySymbol)
	if err != nil {
		return nil, fmt.Errorf("plugin %s has no %s symbol: %w", path, entrySymbol, err)
	}
	switch p := symbol.(type) {
	case Plugin:
		return p, nil
	case *Plugin:
		if p == nil || *p == nil {
			return nil, fmt.Errorf("plugin %s: %s symbol is nil", path, entrySymbol)
		}
		return *p, nil
	case func() Plugin:
		return p(), nil
	default:
		return nil, fmt.Errorf("plugin %s: %s symbol must implement plugin.Plugin", path, entrySymbol)
	}
}
