package effects

// Catalog maps a key to its ordered effect list. Keys keep declaration order.
type Catalog struct {
	keys  []string
	byKey map[string][]Effect
}

func NewCatalog() *Catalog {
	return &Catalog{byKey: map[string][]Effect{}}
}

// Add appends effects under key. Adding to an existing key extends its list.
func (c *Catalog) Add(key string, effs ...Effect) *Catalog {
	if _, ok := c.byKey[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.byKey[key] = append(c.byKey[key], effs...)
	return c
}

// Lookup returns the effects for key. An unknown key yields nil, which applies as a no-op.
func (c *Catalog) Lookup(key string) []Effect {
	if c == nil {
		return nil
	}
	return c.byKey[key]
}

// Keys returns the keys in declaration order. Callers must not modify the slice.
func (c *Catalog) Keys() []string {
	if c == nil {
		return nil
	}
	return c.keys
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.keys)
}

// Registry is the full catalog set, one catalog per category.
// It is built once and then only read, so execution units share it without locking.
type Registry struct {
	catalogs [numCategories]*Catalog
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.catalogs {
		r.catalogs[i] = NewCatalog()
	}
	return r
}

// Catalog returns the category's catalog; never nil.
func (r *Registry) Catalog(c Category) *Catalog {
	if r == nil || c < 0 || c >= numCategories {
		return nil
	}
	return r.catalogs[c]
}

// Set replaces the category's catalog. Only valid while building the registry.
func (r *Registry) Set(c Category, cat *Catalog) {
	if cat == nil {
		cat = NewCatalog()
	}
	r.catalogs[c] = cat
}
