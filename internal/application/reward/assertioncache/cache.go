// Package assertioncache compiles and LRU-caches the boolean assertion
// expressions used by process-reward scoring and the golden set, so a
// repeated assertion string across iterations is compiled once.
package assertioncache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Cache is a thread-safe LRU cache of compiled expr-lang programs.
type Cache struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List
	mu       sync.RWMutex
}

type cacheEntry struct {
	key     string
	program *vm.Program
}

// New creates a Cache with the given capacity (default 256).
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 256
	}
	return &Cache{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

// Get retrieves a compiled program from the cache.
func (c *Cache) Get(assertion string) (*vm.Program, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if element, found := c.cache[assertion]; found {
		c.lruList.MoveToFront(element)
		return element.Value.(*cacheEntry).program, true
	}
	return nil, false
}

// Put stores a compiled program in the cache, evicting the least
// recently used entry if capacity is exceeded.
func (c *Cache) Put(assertion string, program *vm.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, found := c.cache[assertion]; found {
		c.lruList.MoveToFront(element)
		element.Value.(*cacheEntry).program = program
		return
	}

	element := c.lruList.PushFront(&cacheEntry{key: assertion, program: program})
	c.cache[assertion] = element

	if c.lruList.Len() > c.capacity {
		oldest := c.lruList.Back()
		if oldest != nil {
			c.lruList.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}
}

// Eval compiles (or reuses a cached compile of) assertion against env and
// returns its boolean result.
func (c *Cache) Eval(assertion string, env map[string]any) (bool, error) {
	program, ok := c.Get(assertion)
	if !ok {
		compiled, err := expr.Compile(assertion, expr.Env(env), expr.AsBool())
		if err != nil {
			return false, fmt.Errorf("assertioncache: compile %q: %w", assertion, err)
		}
		c.Put(assertion, compiled)
		program = compiled
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("assertioncache: eval %q: %w", assertion, err)
	}
	ok2, _ := result.(bool)
	return ok2, nil
}

// Len reports the number of cached programs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lruList.Len()
}
