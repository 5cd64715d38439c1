package gp

import "time"

const dupFilterSize = 32

type dupKey struct {
	id      GpdID
	counter uint32
}

// DupFilter remembers recently seen (GPD, frame counter) pairs so that the
// same GPDF relayed by several proxies, or retransmitted by the GPD, is
// processed once.
type DupFilter struct {
	ttl  time.Duration
	now  func() time.Time
	seen map[dupKey]time.Time
}

// NewDupFilter creates a filter that forgets entries after ttl.
func NewDupFilter(ttl time.Duration, now func() time.Time) *DupFilter {
	if now == nil {
		now = time.Now
	}
	return &DupFilter{ttl: ttl, now: now, seen: make(map[dupKey]time.Time)}
}

// Check records the pair and reports whether it was already seen within
// the filter window.
func (f *DupFilter) Check(id GpdID, counter uint32) bool {
	now := f.now()
	f.expire(now)

	k := dupKey{id: normalizeID(id), counter: counter}
	if _, ok := f.seen[k]; ok {
		return true
	}
	if len(f.seen) >= dupFilterSize {
		f.evictOldest()
	}
	f.seen[k] = now
	return false
}

// Len returns the number of live entries.
func (f *DupFilter) Len() int {
	f.expire(f.now())
	return len(f.seen)
}

func (f *DupFilter) expire(now time.Time) {
	for k, t := range f.seen {
		if now.Sub(t) >= f.ttl {
			delete(f.seen, k)
		}
	}
}

func (f *DupFilter) evictOldest() {
	var (
		oldest dupKey
		at     time.Time
		found  bool
	)
	for k, t := range f.seen {
		if !found || t.Before(at) {
			oldest, at, found = k, t, true
		}
	}
	if found {
		delete(f.seen, oldest)
	}
}

// normalizeID clears the field not selected by App so that map keys
// compare per variant.
func normalizeID(id GpdID) GpdID {
	if id.App == AppIDSrcID {
		id.IEEE = 0
	} else {
		id.SrcID = 0
	}
	return id
}
