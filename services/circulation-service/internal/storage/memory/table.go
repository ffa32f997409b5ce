package memory

// table keeps rows in insertion order.
type table[T any] struct {
	rows  map[string]T
	order []string
}

func newTable[T any]() *table[T] {
	return &table[T]{rows: make(map[string]T)}
}

// view stages writes over a table until commit.
type view[T any] struct {
	base   *table[T]
	staged map[string]T
	added  []string
}

func newView[T any](base *table[T]) *view[T] {
	return &view[T]{base: base, staged: make(map[string]T)}
}

func (v *view[T]) get(id string) (T, bool) {
	if row, ok := v.staged[id]; ok {
		return row, true
	}
	row, ok := v.base.rows[id]
	return row, ok
}

func (v *view[T]) put(id string, row T) {
	if _, ok := v.get(id); !ok {
		v.added = append(v.added, id)
	}
	v.staged[id] = row
}

func (v *view[T]) each(fn func(T) bool) {
	visit := func(id string) bool {
		row, _ := v.get(id)
		return fn(row)
	}
	for _, id := range v.base.order {
		if !visit(id) {
			return
		}
	}
	for _, id := range v.added {
		if !visit(id) {
			return
		}
	}
}

func (v *view[T]) commit() {
	for id, row := range v.staged {
		v.base.rows[id] = row
	}
	v.base.order = append(v.base.order, v.added...)
}
