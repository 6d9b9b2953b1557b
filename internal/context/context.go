// Package context holds the in-memory UE session state of the E2SM-NTN
// function:
//   - one UESessionState per registered UE (last geometry, last handover
//     prediction, bounded indication history)
//   - per-UE serialisation of updates while different UEs proceed in parallel
//   - idle-UE eviction and idempotent deregistration.
//
// Note: This package is named "context", so we alias the standard library
// "context" package to avoid name collisions.
package context

import (
	stdctx "context"
	"encoding/binary"
	"hash/fnv"
	"sync"
	"time"

	"github.com/free5gc/e2sm-ntn/internal/logger"
	"github.com/free5gc/e2sm-ntn/internal/model"
)

// DefaultHistorySize is the number of indications retained per UE when no
// size is configured.
const DefaultHistorySize = 10

// SessionHandle identifies one registration of a UE. A handle becomes stale
// once the UE is deregistered, even if the same UE registers again.
type SessionHandle struct {
	UEID       string
	generation uint64
}

// UESessionState is the per-UE state owned by the SessionBridge. Callers
// only ever see it inside WithSession (borrowed) or as a Snapshot copy.
type UESessionState struct {
	UEID           string
	RegisteredAt   time.Time
	LastSeenAt     time.Time
	LastGeometry   *model.SatelliteGeometry
	LastPrediction *model.HandoverPrediction
	// History holds the most recent indications, oldest first.
	History []*model.NTNIndicationRecord

	UpdateCount uint64
	// Checksum is the wrapping sum of RecordDigest over every applied
	// record; it does not depend on update order.
	Checksum uint64
}

// LastRecord returns the newest record in the history, or nil.
func (state *UESessionState) LastRecord() *model.NTNIndicationRecord {
	if len(state.History) == 0 {
		return nil
	}
	return state.History[len(state.History)-1]
}

// SessionBridge provides concurrency-safe access to UE session state.
type SessionBridge interface {
	// Register creates a session for ueID or returns the existing handle.
	Register(ctx stdctx.Context, ueID string) (SessionHandle, error)

	// Lookup returns the current handle for ueID, if registered.
	Lookup(ueID string) (SessionHandle, bool)

	// Update appends record to the UE history and refreshes LastSeenAt.
	// It returns a SessionError for unknown or stale handles.
	Update(ctx stdctx.Context, handle SessionHandle, record *model.NTNIndicationRecord) error

	// UpdateWith runs build while holding the UE lock and appends the
	// record it returns, so reading the previous state and applying the new
	// record happen atomically. Errors from build are returned unchanged
	// and leave the state untouched apart from what build itself mutated.
	UpdateWith(
		ctx stdctx.Context,
		handle SessionHandle,
		build func(state *UESessionState) (*model.NTNIndicationRecord, error),
	) (*model.NTNIndicationRecord, error)

	// WithSession runs fn while holding the UE lock. The state must not be
	// retained after fn returns.
	WithSession(handle SessionHandle, fn func(state *UESessionState) error) error

	// Deregister removes the session. Unknown or stale handles are a no-op.
	Deregister(ctx stdctx.Context, handle SessionHandle)

	// DeregisterUE removes the session of ueID, if any.
	DeregisterUE(ctx stdctx.Context, ueID string)

	// Snapshot returns a deep copy of the UE state.
	Snapshot(ueID string) (UESessionState, bool)

	// EvictIdle deregisters every UE not seen within the idle timeout and
	// returns their IDs.
	EvictIdle(ctx stdctx.Context, now time.Time) []string

	// Count returns the number of registered UEs.
	Count() int
}

type sessionEntry struct {
	mutexForState sync.Mutex
	state         UESessionState
	generation    uint64
	removed       bool
}

// sessionBridgeImpl is the concrete implementation of SessionBridge.
// The map is guarded by a RWMutex; each entry has its own mutex so that
// updates for different UEs never contend.
type sessionBridgeImpl struct {
	mutexForSessions sync.RWMutex
	sessionsByUEID   map[string]*sessionEntry
	nextGeneration   uint64

	historySize int
	idleTimeout time.Duration
	clock       func() time.Time
}

// Option customises a SessionBridge.
type Option func(*sessionBridgeImpl)

// WithClock overrides the time source used for RegisteredAt/LastSeenAt.
func WithClock(clock func() time.Time) Option {
	return func(bridge *sessionBridgeImpl) {
		bridge.clock = clock
	}
}

// NewSessionBridge creates an empty SessionBridge. A non-positive
// historySize falls back to DefaultHistorySize; a non-positive idleTimeout
// disables idle eviction.
func NewSessionBridge(historySize int, idleTimeout time.Duration, options ...Option) SessionBridge {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}

	bridge := &sessionBridgeImpl{
		sessionsByUEID: make(map[string]*sessionEntry),
		historySize:    historySize,
		idleTimeout:    idleTimeout,
		clock:          time.Now,
	}
	for _, option := range options {
		option(bridge)
	}
	return bridge
}

// Register implements SessionBridge.Register.
func (bridge *sessionBridgeImpl) Register(ctx stdctx.Context, ueID string) (SessionHandle, error) {
	if ueID == "" {
		return SessionHandle{}, &model.SessionError{UEID: ueID, Reason: "ueId must not be empty"}
	}

	bridge.mutexForSessions.Lock()
	defer bridge.mutexForSessions.Unlock()

	if entry, exists := bridge.sessionsByUEID[ueID]; exists {
		return SessionHandle{UEID: ueID, generation: entry.generation}, nil
	}

	bridge.nextGeneration++
	now := bridge.clock()
	entry := &sessionEntry{
		generation: bridge.nextGeneration,
		state: UESessionState{
			UEID:         ueID,
			RegisteredAt: now,
			LastSeenAt:   now,
			History:      make([]*model.NTNIndicationRecord, 0, bridge.historySize),
		},
	}
	bridge.sessionsByUEID[ueID] = entry

	logger.SessionLog.Debugf("UE registered ueId=%s generation=%d", ueID, entry.generation)

	return SessionHandle{UEID: ueID, generation: entry.generation}, nil
}

// Lookup implements SessionBridge.Lookup.
func (bridge *sessionBridgeImpl) Lookup(ueID string) (SessionHandle, bool) {
	bridge.mutexForSessions.RLock()
	defer bridge.mutexForSessions.RUnlock()

	entry, exists := bridge.sessionsByUEID[ueID]
	if !exists {
		return SessionHandle{}, false
	}
	return SessionHandle{UEID: ueID, generation: entry.generation}, true
}

// lockedEntry resolves a handle and returns its entry with the state mutex
// held. The caller must unlock it.
func (bridge *sessionBridgeImpl) lockedEntry(handle SessionHandle) (*sessionEntry, error) {
	bridge.mutexForSessions.RLock()
	entry, exists := bridge.sessionsByUEID[handle.UEID]
	bridge.mutexForSessions.RUnlock()

	if !exists {
		return nil, &model.SessionError{UEID: handle.UEID, Reason: "not registered"}
	}

	entry.mutexForState.Lock()
	if entry.removed || entry.generation != handle.generation {
		entry.mutexForState.Unlock()
		return nil, &model.SessionError{UEID: handle.UEID, Reason: "session handle is stale"}
	}
	return entry, nil
}

// Update implements SessionBridge.Update.
func (bridge *sessionBridgeImpl) Update(
	ctx stdctx.Context,
	handle SessionHandle,
	record *model.NTNIndicationRecord,
) error {
	if record == nil {
		return &model.SessionError{UEID: handle.UEID, Reason: "record must not be nil"}
	}
	if record.UEID != handle.UEID {
		return &model.SessionError{UEID: handle.UEID, Reason: "record belongs to ueId " + record.UEID}
	}

	entry, err := bridge.lockedEntry(handle)
	if err != nil {
		return err
	}
	defer entry.mutexForState.Unlock()

	bridge.appendLocked(&entry.state, record)
	return nil
}

// UpdateWith implements SessionBridge.UpdateWith.
func (bridge *sessionBridgeImpl) UpdateWith(
	ctx stdctx.Context,
	handle SessionHandle,
	build func(state *UESessionState) (*model.NTNIndicationRecord, error),
) (*model.NTNIndicationRecord, error) {
	entry, err := bridge.lockedEntry(handle)
	if err != nil {
		return nil, err
	}
	defer entry.mutexForState.Unlock()

	record, err := build(&entry.state)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, &model.SessionError{UEID: handle.UEID, Reason: "record must not be nil"}
	}
	if record.UEID != handle.UEID {
		return nil, &model.SessionError{UEID: handle.UEID, Reason: "record belongs to ueId " + record.UEID}
	}

	bridge.appendLocked(&entry.state, record)
	return record, nil
}

// appendLocked applies record to state. The entry mutex must be held.
func (bridge *sessionBridgeImpl) appendLocked(state *UESessionState, record *model.NTNIndicationRecord) {
	if len(state.History) >= bridge.historySize {
		overflow := len(state.History) - bridge.historySize + 1
		copy(state.History, state.History[overflow:])
		for index := len(state.History) - overflow; index < len(state.History); index++ {
			state.History[index] = nil
		}
		state.History = state.History[:len(state.History)-overflow]
	}
	state.History = append(state.History, record.Clone())
	state.LastSeenAt = bridge.clock()
	state.UpdateCount++
	state.Checksum += RecordDigest(record)
}

// WithSession implements SessionBridge.WithSession.
func (bridge *sessionBridgeImpl) WithSession(handle SessionHandle, fn func(state *UESessionState) error) error {
	entry, err := bridge.lockedEntry(handle)
	if err != nil {
		return err
	}
	defer entry.mutexForState.Unlock()

	return fn(&entry.state)
}

// Deregister implements SessionBridge.Deregister.
func (bridge *sessionBridgeImpl) Deregister(ctx stdctx.Context, handle SessionHandle) {
	bridge.mutexForSessions.Lock()
	defer bridge.mutexForSessions.Unlock()

	entry, exists := bridge.sessionsByUEID[handle.UEID]
	if !exists || entry.generation != handle.generation {
		return
	}
	bridge.removeLocked(handle.UEID, entry)
}

// DeregisterUE implements SessionBridge.DeregisterUE.
func (bridge *sessionBridgeImpl) DeregisterUE(ctx stdctx.Context, ueID string) {
	bridge.mutexForSessions.Lock()
	defer bridge.mutexForSessions.Unlock()

	entry, exists := bridge.sessionsByUEID[ueID]
	if !exists {
		return
	}
	bridge.removeLocked(ueID, entry)
}

// removeLocked assumes mutexForSessions is held for writing.
func (bridge *sessionBridgeImpl) removeLocked(ueID string, entry *sessionEntry) {
	entry.mutexForState.Lock()
	entry.removed = true
	entry.mutexForState.Unlock()

	delete(bridge.sessionsByUEID, ueID)

	logger.SessionLog.Debugf("UE deregistered ueId=%s generation=%d", ueID, entry.generation)
}

// Snapshot implements SessionBridge.Snapshot.
func (bridge *sessionBridgeImpl) Snapshot(ueID string) (UESessionState, bool) {
	bridge.mutexForSessions.RLock()
	entry, exists := bridge.sessionsByUEID[ueID]
	bridge.mutexForSessions.RUnlock()

	if !exists {
		return UESessionState{}, false
	}

	entry.mutexForState.Lock()
	defer entry.mutexForState.Unlock()

	if entry.removed {
		return UESessionState{}, false
	}
	return copyState(&entry.state), true
}

func copyState(state *UESessionState) UESessionState {
	result := *state
	if state.LastGeometry != nil {
		geometry := *state.LastGeometry
		result.LastGeometry = &geometry
	}
	if state.LastPrediction != nil {
		result.LastPrediction = (&model.NTNIndicationRecord{Handover: state.LastPrediction}).Clone().Handover
	}
	result.History = make([]*model.NTNIndicationRecord, len(state.History))
	for index, record := range state.History {
		result.History[index] = record.Clone()
	}
	return result
}

// EvictIdle implements SessionBridge.EvictIdle.
func (bridge *sessionBridgeImpl) EvictIdle(ctx stdctx.Context, now time.Time) []string {
	if bridge.idleTimeout <= 0 {
		return nil
	}

	bridge.mutexForSessions.Lock()
	defer bridge.mutexForSessions.Unlock()

	var evicted []string
	for ueID, entry := range bridge.sessionsByUEID {
		entry.mutexForState.Lock()
		idleFor := now.Sub(entry.state.LastSeenAt)
		entry.mutexForState.Unlock()

		if idleFor > bridge.idleTimeout {
			bridge.removeLocked(ueID, entry)
			evicted = append(evicted, ueID)
		}
	}

	if len(evicted) > 0 {
		logger.SessionLog.Infof("evicted %d idle UE session(s) idleTimeout=%s", len(evicted), bridge.idleTimeout)
	}
	return evicted
}

// Count implements SessionBridge.Count.
func (bridge *sessionBridgeImpl) Count() int {
	bridge.mutexForSessions.RLock()
	defer bridge.mutexForSessions.RUnlock()
	return len(bridge.sessionsByUEID)
}

// RecordDigest is the per-record contribution to UESessionState.Checksum.
func RecordDigest(record *model.NTNIndicationRecord) uint64 {
	hasher := fnv.New64a()
	var timestamp [8]byte
	binary.BigEndian.PutUint64(timestamp[:], uint64(record.TimestampNs))
	_, _ = hasher.Write([]byte(record.UEID))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write([]byte(record.SatelliteID))
	_, _ = hasher.Write(timestamp[:])
	return hasher.Sum64()
}
