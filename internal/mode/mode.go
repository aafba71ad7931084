// Package mode decides which backend is authoritative and whether writes are
// mirrored. The decision is driven by a small set of persisted feature flags.
package mode

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/boardstore/internal/fsutil"
	"github.com/mesh-intelligence/boardstore/pkg/types"
)

// FlagsFile is the name of the flag file inside the data directory.
const FlagsFile = "flags.json"

// Flag is a persisted feature flag.
type Flag string

// Known flags.
const (
	FlagDualWrite         Flag = "dual_write"
	FlagIndexedPrimary    Flag = "indexed_primary"
	FlagIndexedReads      Flag = "indexed_reads"
	FlagMigrationComplete Flag = "migration_complete"
)

// AllFlags lists every known flag.
var AllFlags = []Flag{FlagDualWrite, FlagIndexedPrimary, FlagIndexedReads, FlagMigrationComplete}

// Valid reports whether f is a known flag.
func (f Flag) Valid() bool {
	return slices.Contains(AllFlags, f)
}

// Mode is a recommended operating mode.
type Mode string

// Operating modes, in migration order.
const (
	ModeDocumentOnly      Mode = "document-only"
	ModeDualWrite         Mode = "dual-write"
	ModeIndexedWithMirror Mode = "indexed-with-mirror"
	ModeIndexedOnly       Mode = "indexed-only"
)

// Mode controller errors.
var (
	ErrUnknownFlag        = errors.New("unknown flag")
	ErrBackendUnavailable = errors.New("backend not registered")
)

// Controller holds the flag state and the registered backends. All methods
// are safe for concurrent use.
type Controller struct {
	mu       sync.RWMutex
	path     string
	flags    map[Flag]bool
	backends map[types.BackendID]types.Backend
	onChange []func(flag Flag, enabled bool)
	log      zerolog.Logger
}

// Open loads the flag file at path. A missing file means every flag is off.
func Open(path string, log zerolog.Logger) (*Controller, error) {
	c := &Controller{
		path:     path,
		flags:    map[Flag]bool{},
		backends: map[types.BackendID]types.Backend{},
		log:      log.With().Str("component", "mode").Logger(),
	}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path returns the flag file path.
func (c *Controller) Path() string { return c.path }

// reload replaces the in-memory flags with the file contents.
func (c *Controller) reload() error {
	raw := map[string]bool{}
	if _, err := fsutil.ReadJSON(c.path, &raw); err != nil {
		return fmt.Errorf("loading flags: %w", err)
	}
	flags := map[Flag]bool{}
	for k, v := range raw {
		f := Flag(k)
		if !f.Valid() {
			c.log.Warn().Str("flag", k).Msg("ignoring unknown flag")
			continue
		}
		flags[f] = v
	}

	c.mu.Lock()
	old := c.flags
	c.flags = flags
	listeners := slices.Clone(c.onChange)
	c.mu.Unlock()

	for _, f := range AllFlags {
		if old[f] != flags[f] {
			for _, fn := range listeners {
				fn(f, flags[f])
			}
		}
	}
	return nil
}

func (c *Controller) persistLocked() error {
	out := make(map[string]bool, len(AllFlags))
	for _, f := range AllFlags {
		out[string(f)] = c.flags[f]
	}
	if err := fsutil.WriteJSON(c.path, out); err != nil {
		return fmt.Errorf("saving flags: %w", err)
	}
	return nil
}

// OnChange registers fn to run after a flag changes value, whether through
// Set or a reload from disk.
func (c *Controller) OnChange(fn func(flag Flag, enabled bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// IsEnabled reports whether flag is on.
func (c *Controller) IsEnabled(flag Flag) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.flags[flag]
}

// Enable turns flag on and persists the change.
func (c *Controller) Enable(flag Flag) error { return c.Set(flag, true) }

// Disable turns flag off and persists the change.
func (c *Controller) Disable(flag Flag) error { return c.Set(flag, false) }

// Set changes a flag and persists the full flag map.
func (c *Controller) Set(flag Flag, enabled bool) error {
	if !flag.Valid() {
		return fmt.Errorf("%s: %w", flag, ErrUnknownFlag)
	}
	c.mu.Lock()
	if c.flags[flag] == enabled {
		c.mu.Unlock()
		return nil
	}
	prev := c.flags[flag]
	c.flags[flag] = enabled
	if err := c.persistLocked(); err != nil {
		c.flags[flag] = prev
		c.mu.Unlock()
		return err
	}
	listeners := slices.Clone(c.onChange)
	c.mu.Unlock()

	c.log.Info().Str("flag", string(flag)).Bool("enabled", enabled).Msg("flag changed")
	for _, fn := range listeners {
		fn(flag, enabled)
	}
	return nil
}

// DisableAll turns every given flag off in one write.
func (c *Controller) DisableAll(flags ...Flag) error {
	c.mu.Lock()
	changed := []Flag{}
	for _, f := range flags {
		if c.flags[f] {
			c.flags[f] = false
			changed = append(changed, f)
		}
	}
	if len(changed) == 0 {
		c.mu.Unlock()
		return nil
	}
	err := c.persistLocked()
	listeners := slices.Clone(c.onChange)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	for _, f := range changed {
		c.log.Info().Str("flag", string(f)).Bool("enabled", false).Msg("flag changed")
		for _, fn := range listeners {
			fn(f, false)
		}
	}
	return nil
}

// Flags returns a copy of every flag value, including the ones that are off.
func (c *Controller) Flags() map[Flag]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[Flag]bool, len(AllFlags))
	for _, f := range AllFlags {
		out[f] = c.flags[f]
	}
	return out
}

// Register makes a backend available for routing. Registering a second
// backend with the same name replaces the first.
func (c *Controller) Register(b types.Backend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backends[b.Name()] = b
}

// Backends returns the registered backends keyed by name.
func (c *Controller) Backends() map[types.BackendID]types.Backend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.backends)
}

// CurrentBackend returns the id of the authoritative backend.
func (c *Controller) CurrentBackend() types.BackendID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentLocked()
}

func (c *Controller) currentLocked() types.BackendID {
	if c.flags[FlagIndexedPrimary] {
		return types.BackendIndexed
	}
	return types.BackendDocument
}

func otherBackend(id types.BackendID) types.BackendID {
	if id == types.BackendIndexed {
		return types.BackendDocument
	}
	return types.BackendIndexed
}

// SwitchBackend makes id the authoritative backend at runtime.
func (c *Controller) SwitchBackend(id types.BackendID) error {
	switch id {
	case types.BackendDocument:
		return c.Set(FlagIndexedPrimary, false)
	case types.BackendIndexed:
		return c.Set(FlagIndexedPrimary, true)
	}
	return fmt.Errorf("%s: %w", id, types.ErrBackendUnknown)
}

// Primary returns the authoritative backend.
func (c *Controller) Primary() (types.Backend, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id := c.currentLocked()
	b, ok := c.backends[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrBackendUnavailable)
	}
	return b, nil
}

// Secondary returns the non-authoritative backend, if one is registered.
func (c *Controller) Secondary() (types.Backend, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.backends[otherBackend(c.currentLocked())]
	return b, ok
}

// Reader returns the backend reads are served from. With indexed_reads on,
// reads go to the indexed backend even while the document backend is still
// authoritative for writes.
func (c *Controller) Reader() (types.Backend, error) {
	c.mu.RLock()
	if c.flags[FlagIndexedReads] {
		if b, ok := c.backends[types.BackendIndexed]; ok {
			c.mu.RUnlock()
			return b, nil
		}
	}
	c.mu.RUnlock()
	return c.Primary()
}

// MirroringEnabled reports whether writes should be mirrored to the
// secondary backend.
func (c *Controller) MirroringEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.flags[FlagDualWrite] {
		return false
	}
	_, ok := c.backends[otherBackend(c.currentLocked())]
	return ok
}

// RecommendMode suggests an operating mode from the persisted flags. The
// indexed backend is only recommended as primary once a migration completed.
func (c *Controller) RecommendMode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Recommend(c.flags)
}

// Recommend maps a flag set to the operating mode it implies.
func Recommend(flags map[Flag]bool) Mode {
	switch {
	case flags[FlagMigrationComplete] && flags[FlagIndexedPrimary] && flags[FlagDualWrite]:
		return ModeIndexedWithMirror
	case flags[FlagMigrationComplete] && flags[FlagIndexedPrimary]:
		return ModeIndexedOnly
	case flags[FlagDualWrite], flags[FlagIndexedPrimary]:
		return ModeDualWrite
	}
	return ModeDocumentOnly
}

// Apply sets the flags that put the controller into mode m.
func (c *Controller) Apply(m Mode) error {
	want := map[Flag]bool{}
	switch m {
	case ModeDocumentOnly:
	case ModeDualWrite:
		want[FlagDualWrite] = true
	case ModeIndexedWithMirror:
		want[FlagDualWrite] = true
		want[FlagIndexedPrimary] = true
		want[FlagIndexedReads] = true
	case ModeIndexedOnly:
		want[FlagIndexedPrimary] = true
		want[FlagIndexedReads] = true
	default:
		return fmt.Errorf("unknown mode %q", m)
	}
	for _, f := range []Flag{FlagDualWrite, FlagIndexedPrimary, FlagIndexedReads} {
		if err := c.Set(f, want[f]); err != nil {
			return err
		}
	}
	return nil
}
