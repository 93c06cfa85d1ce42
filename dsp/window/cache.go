package window

// Cache memoises windows keyed by size so that repeated size switches
// never regenerate coefficients. A realtime caller pre-populates every
// size it may switch to; Lookup then never allocates.
type Cache struct {
	typ     Type
	bySizes map[int]*Window
}

// NewCache returns an empty cache generating windows of type t.
func NewCache(t Type) *Cache {
	return &Cache{typ: t, bySizes: make(map[int]*Window)}
}

// Get returns the cached window for size, generating and storing it on
// first use.
func (c *Cache) Get(size int) (*Window, error) {
	if w, ok := c.bySizes[size]; ok {
		return w, nil
	}

	w, err := New(c.typ, size)
	if err != nil {
		return nil, err
	}

	c.bySizes[size] = w

	return w, nil
}

// Lookup returns the cached window for size without generating one.
func (c *Cache) Lookup(size int) (*Window, bool) {
	w, ok := c.bySizes[size]
	return w, ok
}

// Sizes returns the number of distinct sizes currently cached.
func (c *Cache) Sizes() int {
	return len(c.bySizes)
}
