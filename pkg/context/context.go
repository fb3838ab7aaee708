package kvcontext

import "sync"

// keyValueContext is shared by the loop goroutine and whoever holds the loop,
// so every access is guarded
type keyValueContext struct {
	mu sync.RWMutex

	kv map[string]interface{}
}

type KVContext interface {
	Set(key string, value interface{})
	Delete(key string)
	Get(key string) (value interface{}, exists bool)
	// GetInt returns the value stored under key if it is an int
	GetInt(key string) (int, bool)
	Len() int
}

func (c *keyValueContext) Set(key string, value interface{}) {
	c.mu.Lock()
	c.kv[key] = value
	c.mu.Unlock()
}

func (c *keyValueContext) Delete(key string) {
	c.mu.Lock()
	delete(c.kv, key)
	c.mu.Unlock()
}

func (c *keyValueContext) Get(key string) (value interface{}, exists bool) {
	c.mu.RLock()
	value, exists = c.kv[key]
	c.mu.RUnlock()
	return
}

func (c *keyValueContext) GetInt(key string) (int, bool) {
	v, ok := c.Get(key)
	if !ok {
		return 0, false
	}
	i, ok := v.(int)
	return i, ok
}

func (c *keyValueContext) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.kv)
}

func NewContext() KVContext {
	return &keyValueContext{
		kv: make(map[string]interface{}),
	}
}
