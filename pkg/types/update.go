package types

// UpdateFunc computes new metadata from the current metadata. It is applied
// atomically during a publish; current is nil for entities created by the
// same batch.
type UpdateFunc func(current Value) Value

type updateKind uint8

const (
	updateKeep updateKind = iota
	updateSet
	updateDelete
	updateApply
)

// Update describes what a publish entry does to an entity's metadata. The
// zero value keeps the existing metadata unchanged, so bare endpoints need
// no explicit update.
type Update struct {
	kind updateKind
	val  any
	fn   UpdateFunc
}

// Set stores v as the entity's metadata, replacing whatever was there.
func Set(v any) Update { return Update{kind: updateSet, val: v} }

// Keep leaves the entity's metadata unchanged (the nochange sentinel).
func Keep() Update { return Update{kind: updateKeep} }

// Delete removes the entity. Deleting an identifier cascades to every link
// touching it.
func Delete() Update { return Update{kind: updateDelete} }

// Apply runs fn against the current metadata and stores the result.
func Apply(fn UpdateFunc) Update { return Update{kind: updateApply, fn: fn} }

// IsKeep reports whether the update leaves metadata untouched.
func (u Update) IsKeep() bool { return u.kind == updateKeep || (u.kind == updateApply && u.fn == nil) }

// IsDelete reports whether the update removes the entity.
func (u Update) IsDelete() bool { return u.kind == updateDelete }

// Resolve produces the metadata that Set or Apply would store, given the
// entity's current metadata. It must not be called for Keep or Delete.
func (u Update) Resolve(current Value) (Value, error) {
	switch u.kind {
	case updateSet:
		return Normalize(u.val)
	case updateApply:
		return Normalize(u.fn(current))
	}
	return current, nil
}
