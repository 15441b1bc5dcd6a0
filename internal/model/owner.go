package model

// Owner is the parent-child protocol surface (spec.md §4.6) that
// internal/proxy calls back into. internal/entity's *Base implements this;
// proxies never reimplement adoption/orphanization themselves.
type Owner interface {
	Entity
	// RequestAdoption emancipates child from its current parent (if any,
	// including a different field of this same owner) and then adopts it
	// into (this owner, field, subKey).
	RequestAdoption(child Entity, field string, subKey string) error
	// InformAdoption adopts child into (this owner, field, subKey) without
	// first emancipating it — used for a move within the same container,
	// where the parent triple does not actually change.
	InformAdoption(child Entity, field string, subKey string) error
	// InformOrphanization clears child's runtime parent pointer without
	// touching the container it is being removed from (the caller is that
	// container, mid-removal).
	InformOrphanization(child Entity) error
}

// SchemaLookup reports one field's schema entry by name; internal/plexusdoc
// uses it to check whether a root type declares a field. Implemented by
// internal/entity's *Base via the registry.
type SchemaLookup interface {
	FieldSchema(name string) (FieldSchema, bool)
}
