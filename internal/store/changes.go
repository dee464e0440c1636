package store

// changeSet is what a store modified since it last persisted. Later operations
// on the same key overwrite earlier ones.
type changeSet struct {
	// replacedStatic and clearedLearned drop the document's table before
	// the entries below are applied.
	replacedStatic bool
	clearedLearned bool

	static    map[string]string
	learned   map[string]Record
	forgotten map[string]bool
}

func newChanges() *changeSet {
	return &changeSet{
		static:    make(map[string]string),
		learned:   make(map[string]Record),
		forgotten: make(map[string]bool),
	}
}

func (c *changeSet) remember(key string, rec Record) {
	c.learned[key] = rec
	delete(c.forgotten, key)
}

func (c *changeSet) forget(key string) {
	delete(c.learned, key)
	c.forgotten[key] = true
}

func (c *changeSet) resetLearned() {
	c.clearedLearned = true
	c.learned = make(map[string]Record)
	c.forgotten = make(map[string]bool)
}

func (c *changeSet) replace(static map[string]string, learned map[string]Record) {
	c.replacedStatic = true
	c.resetLearned()
	c.static = make(map[string]string, len(static))
	for k, v := range static {
		c.static[k] = v
	}
	for k, v := range learned {
		c.learned[k] = v
	}
}

// applyTables applies c to the given tables in place.
func (c *changeSet) applyTables(static map[string]string, learned map[string]Record) {
	if c.replacedStatic {
		clear(static)
	}
	if c.clearedLearned {
		clear(learned)
	}
	for k, v := range c.static {
		static[k] = v
	}
	for k := range c.forgotten {
		delete(learned, k)
	}
	for k, v := range c.learned {
		learned[k] = v
	}
}

// absorb folds next, which happened after c, into c.
func (c *changeSet) absorb(next *changeSet) {
	if next.replacedStatic {
		c.replacedStatic = true
		c.static = make(map[string]string)
	}
	if next.clearedLearned {
		c.resetLearned()
	}
	for k, v := range next.static {
		c.static[k] = v
	}
	for k := range next.forgotten {
		c.forget(k)
	}
	for k, v := range next.learned {
		c.remember(k, v)
	}
}
