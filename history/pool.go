package history

import (
	"sync"

	"github.com/go-rtps/rtps/qos"
	"github.com/go-rtps/rtps/rtpserr"
)

// Pool reserves and recycles CacheChange slots for a writer history,
// per spec.md §4.3's three pool strategies. The strategy is fixed at
// construction and does not change over the history's lifetime.
type Pool interface {
	Reserve(maxPayloadSize int) (*CacheChange, error)
	Return(c *CacheChange)
}

// NewPool constructs the Pool implementation named by strategy,
// bounded by limit. A non-positive limit means unbounded for the
// dynamic and preallocated-with-realloc strategies; the preallocated
// strategy then allocates defaultSlotSize slots.
func NewPool(strategy qos.PoolStrategy, limit int) Pool {
	switch strategy {
	case qos.Preallocated:
		return &preallocatedPool{limit: limit, slotSize: defaultSlotSize}
	case qos.Dynamic:
		return &dynamicPool{limit: limit}
	default: // PreallocatedWithRealloc
		return &reallocPool{limit: limit, slotSize: defaultSlotSize}
	}
}

const defaultSlotSize = 512

// dynamicPool always allocates a fresh slot sized exactly to the
// request and never recycles buffers, only in-use accounting.
type dynamicPool struct {
	mu      sync.Mutex
	limit   int
	inUse   int
}

func (p *dynamicPool) Reserve(maxPayloadSize int) (*CacheChange, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.limit > 0 && p.inUse >= p.limit {
		return nil, rtpserr.New(rtpserr.OutOfResources, "dynamic pool exhausted: limit %d reached", p.limit)
	}
	p.inUse++
	return &CacheChange{SerializedPayload: make([]byte, 0, maxPayloadSize), MaxPayloadSize: maxPayloadSize}, nil
}

func (p *dynamicPool) Return(c *CacheChange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse > 0 {
		p.inUse--
	}
}

// reallocPool keeps a free list of reusable buffers, growing (and, if
// a returned buffer is undersized for a new request, reallocating) a
// slot's backing array rather than allocating a fresh one each time.
type reallocPool struct {
	mu       sync.Mutex
	limit    int
	slotSize int
	inUse    int
	free     []*CacheChange
}

func (p *reallocPool) Reserve(maxPayloadSize int) (*CacheChange, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.limit > 0 && p.inUse >= p.limit {
		return nil, rtpserr.New(rtpserr.OutOfResources, "preallocated-with-realloc pool exhausted: limit %d reached", p.limit)
	}
	p.inUse++
	if n := len(p.free); n > 0 {
		c := p.free[n-1]
		p.free = p.free[:n-1]
		if cap(c.SerializedPayload) < maxPayloadSize {
			c.SerializedPayload = make([]byte, 0, maxPayloadSize)
		} else {
			c.SerializedPayload = c.SerializedPayload[:0]
		}
		c.MaxPayloadSize = maxPayloadSize
		return c, nil
	}
	size := maxPayloadSize
	if size < p.slotSize {
		size = p.slotSize
	}
	return &CacheChange{SerializedPayload: make([]byte, 0, size), MaxPayloadSize: maxPayloadSize}, nil
}

func (p *reallocPool) Return(c *CacheChange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse > 0 {
		p.inUse--
	}
	c.SerializedPayload = c.SerializedPayload[:0]
	p.free = append(p.free, c)
}

// preallocatedPool allocates exactly `limit` fixed-size slots upfront
// at construction-equivalent time (lazily, on first use) and never
// grows; reservations beyond the slot size or the slot count fail.
type preallocatedPool struct {
	mu       sync.Mutex
	limit    int
	slotSize int
	slots    []*CacheChange
	free     []*CacheChange
	init     bool
}

func (p *preallocatedPool) ensureInit() {
	if p.init {
		return
	}
	p.init = true
	n := p.limit
	if n <= 0 {
		n = defaultSlotSize
	}
	p.slots = make([]*CacheChange, n)
	for i := range p.slots {
		p.slots[i] = &CacheChange{SerializedPayload: make([]byte, 0, p.slotSize)}
		p.free = append(p.free, p.slots[i])
	}
}

func (p *preallocatedPool) Reserve(maxPayloadSize int) (*CacheChange, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensureInit()
	if maxPayloadSize > p.slotSize {
		return nil, rtpserr.New(rtpserr.OutOfResources, "preallocated pool slot size %d smaller than requested %d", p.slotSize, maxPayloadSize)
	}
	if len(p.free) == 0 {
		return nil, rtpserr.New(rtpserr.OutOfResources, "preallocated pool exhausted: %d slots all in use", len(p.slots))
	}
	c := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	c.SerializedPayload = c.SerializedPayload[:0]
	c.MaxPayloadSize = maxPayloadSize
	return c, nil
}

func (p *preallocatedPool) Return(c *CacheChange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c.SerializedPayload = c.SerializedPayload[:0]
	p.free = append(p.free, c)
}
