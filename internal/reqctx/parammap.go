package reqctx

// ParamMap is an insertion-ordered string multimap that keeps only the
// last value for a duplicated key, used for the request's "get" and "post"
// parameter maps.
type ParamMap struct {
	order  []string
	values map[string]string
}

// NewParamMap returns an empty ParamMap.
func NewParamMap() *ParamMap {
	return &ParamMap{values: map[string]string{}}
}

// Set records name=value, overwriting any previous value for name but
// preserving its original position in iteration order.
func (m *ParamMap) Set(name, value string) {
	if _, ok := m.values[name]; !ok {
		m.order = append(m.order, name)
	}
	m.values[name] = value
}

// Get returns the value for name and whether it was present.
func (m *ParamMap) Get(name string) (string, bool) {
	v, ok := m.values[name]
	return v, ok
}

// Keys returns parameter names in insertion order.
func (m *ParamMap) Keys() []string {
	return append([]string(nil), m.order...)
}

// Map returns a plain map snapshot, used by sqlpage.variables().
func (m *ParamMap) Map() map[string]string {
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// Len reports the number of distinct parameter names.
func (m *ParamMap) Len() int { return len(m.order) }
