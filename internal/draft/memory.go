package draft

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process draft store for tests and single-node dev runs.
// Fan-out works only within one process; multi-device sync needs the redis
// implementation.
type Memory struct {
	mu     sync.RWMutex
	drafts map[string]Snapshot
	subs   map[string]map[int]chan Snapshot
	nextID int
}

func NewMemory() *Memory {
	return &Memory{
		drafts: make(map[string]Snapshot),
		subs:   make(map[string]map[int]chan Snapshot),
	}
}

func draftKey(branchID string, day string) string {
	return branchID + ":" + day
}

func (m *Memory) Snapshot(_ context.Context, branchID string, day string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneSnapshot(m.drafts[draftKey(branchID, day)]), nil
}

func (m *Memory) Subscribe(ctx context.Context, branchID string, day string) (<-chan Snapshot, error) {
	key := draftKey(branchID, day)
	ch := make(chan Snapshot, 8)

	m.mu.Lock()
	if m.subs[key] == nil {
		m.subs[key] = make(map[int]chan Snapshot)
	}
	id := m.nextID
	m.nextID++
	m.subs[key][id] = ch
	initial := cloneSnapshot(m.drafts[key])
	m.mu.Unlock()

	ch <- initial

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		if subs, ok := m.subs[key]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(m.subs, key)
			}
		}
		m.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

func (m *Memory) WriteFields(_ context.Context, branchID string, day string, productID string, update FieldUpdate, updatedBy string) error {
	if productID == "" {
		return nil
	}
	key := draftKey(branchID, day)

	m.mu.Lock()
	snap := m.drafts[key]
	if snap == nil {
		snap = make(Snapshot)
		m.drafts[key] = snap
	}
	snap[productID] = snap[productID].apply(update, updatedBy, time.Now().UTC())
	m.broadcastLocked(key)
	m.mu.Unlock()

	return nil
}

func (m *Memory) Clear(_ context.Context, branchID string, day string) error {
	key := draftKey(branchID, day)

	m.mu.Lock()
	delete(m.drafts, key)
	m.broadcastLocked(key)
	m.mu.Unlock()

	return nil
}

// broadcastLocked pushes the current snapshot to every subscriber. Slow
// consumers lose intermediate snapshots, never the latest one: when the
// buffer is full the oldest pending snapshot is evicted.
func (m *Memory) broadcastLocked(key string) {
	snap := m.drafts[key]
	for _, ch := range m.subs[key] {
		payload := cloneSnapshot(snap)
		for {
			select {
			case ch <- payload:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

func cloneSnapshot(snap Snapshot) Snapshot {
	out := make(Snapshot, len(snap))
	for id, entry := range snap {
		out[id] = entry
	}
	return out
}
