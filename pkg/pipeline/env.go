package pipeline

// Expander rewrites an environment in place, adding or overriding keys.
type Expander interface {
	Expand(env map[string]string)
}

type ExpanderFunc func(env map[string]string)

func (f ExpanderFunc) Expand(env map[string]string) { f(env) }

// Overlay is an ordered set of environment overrides.
type Overlay struct {
	keys   []string
	values map[string]string
}

func NewOverlay() *Overlay {
	return &Overlay{values: make(map[string]string)}
}

// Set adds or replaces key. Replacing keeps the original position.
func (o *Overlay) Set(key, value string) *Overlay {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
	return o
}

func (o *Overlay) Get(key string) (string, bool) {
	v, ok := o.values[key]
	return v, ok
}

func (o *Overlay) Keys() []string {
	return append([]string(nil), o.keys...)
}

func (o *Overlay) Len() int { return len(o.keys) }

func (o *Overlay) Expand(env map[string]string) {
	for _, k := range o.keys {
		env[k] = o.values[k]
	}
}

// Map returns a copy of the overrides.
func (o *Overlay) Map() map[string]string {
	m := make(map[string]string, len(o.keys))
	o.Expand(m)
	return m
}

type merged struct {
	outer, inner Expander
}

func (m merged) Expand(env map[string]string) {
	m.outer.Expand(env)
	m.inner.Expand(env)
}

// Merge layers inner over outer. Keys inner does not set keep the value
// outer gives them. Either side may be nil.
func Merge(outer, inner Expander) Expander {
	switch {
	case outer == nil && inner == nil:
		return ExpanderFunc(func(map[string]string) {})
	case outer == nil:
		return inner
	case inner == nil:
		return outer
	}
	return merged{outer: outer, inner: inner}
}

// Environ applies exp to a copy of base and returns the result.
func Environ(base map[string]string, exp Expander) map[string]string {
	env := make(map[string]string, len(base))
	for k, v := range base {
		env[k] = v
	}
	if exp != nil {
		exp.Expand(env)
	}
	return env
}
