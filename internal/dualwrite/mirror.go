// Package dualwrite mirrors primary-backend mutations into the secondary
// backend without ever making the caller wait for the secondary. It also
// compares the two backends and repairs the secondary on demand.
package dualwrite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/boardstore/internal/fsutil"
	"github.com/mesh-intelligence/boardstore/internal/mode"
	"github.com/mesh-intelligence/boardstore/pkg/types"
)

// StateFile is the name of the persisted failure state inside the data
// directory.
const StateFile = "mirror_state.json"

// ErrQueueFull is recorded when an op cannot be queued.
var ErrQueueFull = errors.New("mirror queue full")

// OpKind is the kind of a mirrored mutation.
type OpKind string

// Mirrored mutations.
const (
	OpPut     OpKind = "put"
	OpDelete  OpKind = "delete"
	OpClear   OpKind = "clear"
	OpReplace OpKind = "replace"
)

// Op is one mutation already applied to the primary backend.
type Op struct {
	ID         string
	Kind       OpKind
	Collection types.Collection
	Record     types.Record   // OpPut
	RecordID   string         // OpDelete
	Records    []types.Record // OpReplace
	EnqueuedAt time.Time
}

func (op Op) target() string {
	switch op.Kind {
	case OpPut:
		return op.Record.ID
	case OpDelete:
		return op.RecordID
	}
	return "*"
}

// bulkPutter is implemented by backends that can write many records at once.
type bulkPutter interface {
	PutAll(ctx context.Context, c types.Collection, recs []types.Record) error
}

// ErrorRecord is a persisted mirror failure.
type ErrorRecord struct {
	At         time.Time        `json:"at"`
	Op         OpKind           `json:"op"`
	Collection types.Collection `json:"collection"`
	ID         string           `json:"id"`
	Error      string           `json:"error"`
}

// State is the failure bookkeeping persisted to StateFile.
type State struct {
	Failures    int           `json:"failures"`
	Consecutive int           `json:"consecutive"`
	Applied     int           `json:"applied"`
	DisabledAt  *time.Time    `json:"disabledAt,omitempty"`
	Errors      []ErrorRecord `json:"errors"`
}

// Warning is raised when mirroring is switched off after too many failures.
type Warning struct {
	At        time.Time
	Failures  int
	Threshold int
	Mode      string
	LastError string
}

func (w Warning) String() string {
	return fmt.Sprintf("mirroring disabled after %d %s failures (threshold %d); last error: %s",
		w.Failures, w.Mode, w.Threshold, w.LastError)
}

// Controller is the part of the mode controller the mirror depends on.
type Controller interface {
	MirroringEnabled() bool
	Primary() (types.Backend, error)
	Secondary() (types.Backend, bool)
	Enable(flag mode.Flag) error
	Disable(flag mode.Flag) error
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithWarningHandler registers fn to be called for every Warning.
func WithWarningHandler(fn func(Warning)) Option {
	return func(m *Mirror) { m.onWarning = fn }
}

// Mirror owns the mirror queue and its worker.
type Mirror struct {
	cfg       types.MirrorConfig
	ctl       Controller
	statePath string
	log       zerolog.Logger
	onWarning func(Warning)

	queue    chan Op
	warnings chan Warning
	stop     chan struct{}
	worker   sync.WaitGroup
	inflight sync.WaitGroup

	mu     sync.Mutex
	state  State
	closed bool

	// tripping is held by the one failure that disables mirroring.
	tripping atomic.Bool
}

// New loads the persisted state and starts the mirror worker.
func New(ctl Controller, cfg types.MirrorConfig, statePath string, log zerolog.Logger, opts ...Option) (*Mirror, error) {
	if cfg.FailureThreshold <= 0 {
		return nil, types.ErrThresholdInvalid
	}
	if cfg.QueueSize <= 0 {
		return nil, types.ErrQueueSizeInvalid
	}
	if cfg.Timeout <= 0 {
		return nil, types.ErrTimeoutInvalid
	}
	m := &Mirror{
		cfg:       cfg,
		ctl:       ctl,
		statePath: statePath,
		log:       log.With().Str("component", "dualwrite").Logger(),
		queue:     make(chan Op, cfg.QueueSize),
		warnings:  make(chan Warning, 8),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if statePath != "" {
		if _, err := fsutil.ReadJSON(statePath, &m.state); err != nil {
			return nil, fmt.Errorf("loading mirror state: %w", err)
		}
	}
	m.worker.Add(1)
	go m.run()
	return m, nil
}

// Put mirrors an upsert.
func (m *Mirror) Put(c types.Collection, rec types.Record) bool {
	return m.MirrorWrite(Op{Kind: OpPut, Collection: c, Record: rec})
}

// Delete mirrors a delete.
func (m *Mirror) Delete(c types.Collection, id string) bool {
	return m.MirrorWrite(Op{Kind: OpDelete, Collection: c, RecordID: id})
}

// Clear mirrors a collection clear.
func (m *Mirror) Clear(c types.Collection) bool {
	return m.MirrorWrite(Op{Kind: OpClear, Collection: c})
}

// Replace mirrors a bulk load: the secondary collection is cleared and
// refilled with recs as a single op.
func (m *Mirror) Replace(c types.Collection, recs []types.Record) bool {
	return m.MirrorWrite(Op{Kind: OpReplace, Collection: c, Records: recs})
}

// MirrorWrite enqueues op for the secondary backend and returns immediately.
// It reports whether the op was queued. Nothing is queued while mirroring is
// disabled; a full queue counts as a mirror failure.
func (m *Mirror) MirrorWrite(op Op) bool {
	if !m.ctl.MirroringEnabled() {
		return false
	}
	op.ID = uuid.NewString()
	op.EnqueuedAt = time.Now().UTC()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.inflight.Add(1)
	m.mu.Unlock()

	select {
	case m.queue <- op:
		return true
	default:
		m.inflight.Done()
		m.recordFailure(op, ErrQueueFull)
		return false
	}
}

func (m *Mirror) run() {
	defer m.worker.Done()
	for {
		select {
		case <-m.stop:
			return
		case op := <-m.queue:
			m.apply(op)
			m.inflight.Done()
		}
	}
}

// apply runs one op against the secondary with the configured timeout. The
// backend call runs in its own goroutine so a backend that ignores its
// context cannot stall the worker.
func (m *Mirror) apply(op Op) {
	if !m.ctl.MirroringEnabled() {
		m.log.Debug().Str("op", string(op.Kind)).Str("id", op.target()).Msg("mirroring disabled, dropping op")
		return
	}
	sec, ok := m.ctl.Secondary()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- applyOp(ctx, sec, op) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("after %s: %w", m.cfg.Timeout, ctx.Err())
	}
	if err != nil {
		m.recordFailure(op, err)
		return
	}
	m.recordSuccess()
}

func applyOp(ctx context.Context, b types.Backend, op Op) error {
	switch op.Kind {
	case OpPut:
		return b.Put(ctx, op.Collection, op.Record)
	case OpDelete:
		if err := b.Delete(ctx, op.Collection, op.RecordID); err != nil && !errors.Is(err, types.ErrNotFound) {
			return err
		}
		return nil
	case OpClear:
		return b.Clear(ctx, op.Collection)
	case OpReplace:
		if err := b.Clear(ctx, op.Collection); err != nil {
			return err
		}
		if bp, ok := b.(bulkPutter); ok {
			return bp.PutAll(ctx, op.Collection, op.Records)
		}
		for _, rec := range op.Records {
			if err := b.Put(ctx, op.Collection, rec); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown mirror op %q", op.Kind)
}

func (m *Mirror) recordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Applied++
	if m.state.Consecutive > 0 {
		m.state.Consecutive = 0
		m.persistLocked()
	}
}

func (m *Mirror) recordFailure(op Op, cause error) {
	err := &types.MirrorWriteError{Op: string(op.Kind), Collection: op.Collection, ID: op.target(), Err: cause}
	now := time.Now().UTC()

	m.mu.Lock()
	m.state.Failures++
	m.state.Consecutive++
	m.state.Errors = append(m.state.Errors, ErrorRecord{
		At: now, Op: op.Kind, Collection: op.Collection, ID: op.target(), Error: err.Error(),
	})
	if n := m.cfg.ErrorHistory; n > 0 && len(m.state.Errors) > n {
		m.state.Errors = m.state.Errors[len(m.state.Errors)-n:]
	}
	count := m.state.Failures
	if m.cfg.FailureMode == types.FailureModeConsecutive {
		count = m.state.Consecutive
	}
	m.persistLocked()
	m.mu.Unlock()

	m.log.Warn().Err(err).Int("failures", count).Msg("mirror write failed")
	if count < m.cfg.FailureThreshold || !m.ctl.MirroringEnabled() {
		return
	}

	if !m.tripping.CompareAndSwap(false, true) {
		return
	}
	defer m.tripping.Store(false)
	if !m.ctl.MirroringEnabled() {
		return
	}

	m.mu.Lock()
	m.state.DisabledAt = &now
	m.persistLocked()
	m.mu.Unlock()
	if derr := m.ctl.Disable(mode.FlagDualWrite); derr != nil {
		m.log.Error().Err(derr).Msg("disabling dual write")
	}
	m.emit(Warning{
		At:        now,
		Failures:  count,
		Threshold: m.cfg.FailureThreshold,
		Mode:      m.cfg.FailureMode,
		LastError: err.Error(),
	})
}

func (m *Mirror) emit(w Warning) {
	m.log.Error().Int("failures", w.Failures).Int("threshold", w.Threshold).Msg(w.String())
	select {
	case m.warnings <- w:
	default:
	}
	if m.onWarning != nil {
		m.onWarning(w)
	}
}

func (m *Mirror) persistLocked() {
	if m.statePath == "" {
		return
	}
	if err := fsutil.WriteJSON(m.statePath, m.state); err != nil {
		m.log.Error().Err(err).Msg("saving mirror state")
	}
}

// Warnings delivers threshold warnings. Warnings are dropped when nobody
// drains the channel.
func (m *Mirror) Warnings() <-chan Warning { return m.warnings }

// Status returns a copy of the failure state.
func (m *Mirror) Status() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.Errors = append([]ErrorRecord(nil), m.state.Errors...)
	return s
}

// Pending returns the number of queued ops.
func (m *Mirror) Pending() int { return len(m.queue) }

// Reset clears the failure counters and re-enables mirroring. It is the
// operator's way back after an automatic disable.
func (m *Mirror) Reset() error {
	m.mu.Lock()
	m.state = State{Applied: m.state.Applied}
	m.persistLocked()
	m.mu.Unlock()
	m.log.Info().Msg("mirror state reset")
	return m.ctl.Enable(mode.FlagDualWrite)
}

// Flush waits until every queued op has been applied or ctx ends.
func (m *Mirror) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker. Ops still queued are dropped; Reconcile repairs
// the secondary afterwards.
func (m *Mirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stop)
	m.worker.Wait()
	dropped := 0
	for len(m.queue) > 0 {
		<-m.queue
		m.inflight.Done()
		dropped++
	}
	if dropped > 0 {
		m.log.Warn().Int("dropped", dropped).Msg("mirror closed with queued ops")
	}
	return nil
}
