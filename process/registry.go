package process

import (
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Func)
)

// Register makes a process function available under a name, so a
// configuration can refer to it. Registering the same name twice panics.
func Register(name string, f Func) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("process %q registered twice", name))
	}
	registry[name] = f
}

// Lookup returns the process function registered under a name.
func Lookup(name string) (Func, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown process %q, registered: %v", name, registeredNames())
	}
	return f, nil
}

func registeredNames() []string {
	names := maps.Keys(registry)
	slices.Sort(names)
	return names
}

// Copy is the builtin pass-through process: it reads the first declared
// input and writes it out unchanged. Useful for building plain tile caches.
func Copy(ctx *Context) (*Payload, error) {
	inputIDs := ctx.InputIDs()
	if len(inputIDs) == 0 {
		return nil, fmt.Errorf("copy process needs at least one input at zoom %d", ctx.Zoom())
	}
	reader, err := ctx.Open(inputIDs[0])
	if err != nil {
		return nil, err
	}
	empty, err := reader.IsEmpty()
	if err != nil {
		return nil, err
	}
	if empty {
		return nil, ErrEmptyTile
	}
	return reader.Read()
}

func init() {
	Register("copy", Copy)
}
