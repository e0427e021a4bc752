package mention

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memEntry struct {
	key    string
	userID string
	seenAt time.Time
}

// Memory is the in-process fallback: one LRU per room, entries expire after TTL.
type Memory struct {
	mu    sync.Mutex
	opts  Options
	now   func() time.Time
	rooms map[string]*roomLRU
}

type roomLRU struct {
	order *list.List
	items map[string]*list.Element
}

func NewMemory(opts Options) *Memory {
	return &Memory{opts: opts.withDefaults(), now: time.Now, rooms: make(map[string]*roomLRU)}
}

func (m *Memory) Remember(ctx context.Context, room, name, userID string) error {
	name = NormalizeName(name)
	if room == "" || name == "" || userID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.rooms[room]
	if r == nil {
		r = &roomLRU{order: list.New(), items: make(map[string]*list.Element)}
		m.rooms[room] = r
	}
	if el, ok := r.items[name]; ok {
		e := el.Value.(*memEntry)
		e.userID = userID
		e.seenAt = m.now()
		r.order.MoveToFront(el)
		return nil
	}
	r.items[name] = r.order.PushFront(&memEntry{key: name, userID: userID, seenAt: m.now()})
	for r.order.Len() > m.opts.MaxEntries {
		oldest := r.order.Back()
		r.order.Remove(oldest)
		delete(r.items, oldest.Value.(*memEntry).key)
	}
	return nil
}

func (m *Memory) Resolve(ctx context.Context, room, name string) (string, bool, error) {
	name = NormalizeName(name)
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.rooms[room]
	if r == nil {
		return "", false, nil
	}
	el, ok := r.items[name]
	if !ok {
		return "", false, nil
	}
	e := el.Value.(*memEntry)
	if m.now().Sub(e.seenAt) > m.opts.TTL {
		r.order.Remove(el)
		delete(r.items, name)
		return "", false, nil
	}
	return e.userID, true, nil
}

// Prune drops expired entries in every room and returns how many were removed.
func (m *Memory) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	now := m.now()
	for room, r := range m.rooms {
		// 뒤쪽이 가장 오래된 항목
		for el := r.order.Back(); el != nil; {
			e := el.Value.(*memEntry)
			if now.Sub(e.seenAt) <= m.opts.TTL {
				break
			}
			prev := el.Prev()
			r.order.Remove(el)
			delete(r.items, e.key)
			removed++
			el = prev
		}
		if r.order.Len() == 0 {
			delete(m.rooms, room)
		}
	}
	return removed
}
