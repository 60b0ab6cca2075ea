package isolate

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

type (
	// luaCache keeps compiled scripts by source digest, evicting the least
	// recently used script when full. Concurrent compiles of the same source
	// wait on a single compilation
	luaCache struct {
		entries map[[sha256.Size]byte]*list.Element
		order   *list.List
		maxSize int
		mu      sync.Mutex
	}

	luaCacheEntry struct {
		sum    [sha256.Size]byte
		ready  chan struct{}
		script *LuaScript
		err    error
	}
)

func newLuaCache(maxSize int) *luaCache {
	return &luaCache{
		entries: map[[sha256.Size]byte]*list.Element{},
		order:   list.New(),
		maxSize: max(maxSize, 1),
	}
}

func (c *luaCache) compile(src string) (*LuaScript, error) {
	sum := sha256.Sum256([]byte(src))

	c.mu.Lock()
	if elem, ok := c.entries[sum]; ok {
		c.order.MoveToFront(elem)
		c.mu.Unlock()
		e := elem.Value.(*luaCacheEntry)
		<-e.ready
		return e.script, e.err
	}
	e := &luaCacheEntry{sum: sum, ready: make(chan struct{})}
	c.entries[sum] = c.order.PushFront(e)
	for c.order.Len() > c.maxSize {
		back := c.order.Back()
		c.order.Remove(back)
		delete(c.entries, back.Value.(*luaCacheEntry).sum)
	}
	c.mu.Unlock()

	e.script, e.err = compileLua(src, hex.EncodeToString(sum[:6]))
	close(e.ready)
	if e.err != nil {
		c.forget(e)
	}
	return e.script, e.err
}

func (c *luaCache) forget(e *luaCacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[e.sum]; ok && elem.Value == e {
		c.order.Remove(elem)
		delete(c.entries, e.sum)
	}
}

func (c *luaCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
