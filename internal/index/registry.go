// Package index holds the search-index integration: an explicit registry
// of indexable fields per entity type, the document model handed to the
// external indexer, and the rebuild coordinator. The engine never indexes
// anything itself.
package index

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/avdeenkov/recodehub/internal/domain"
)

// Capability is a bitmask describing what the indexer may do with a field.
type Capability uint8

const (
	// Filterable fields answer exact-match queries.
	Filterable Capability = 1 << iota
	// Searchable fields participate in full-text search.
	Searchable
	// Sortable fields can order result pages.
	Sortable
)

// Has reports whether all bits of other are set.
func (c Capability) Has(other Capability) bool { return c&other == other }

// FieldMeta describes one indexable field of an entity type. Get extracts
// the field value from an entity instance and reports false when the
// instance is not of the expected type.
type FieldMeta struct {
	Name string
	Caps Capability
	Get  func(entity any) (string, bool)
}

// Registry maps entity types to their ordered indexable fields. It is
// built once at startup and read-only afterwards.
type Registry struct {
	fields map[domain.EntityType][]FieldMeta
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{fields: make(map[domain.EntityType][]FieldMeta)}
}

// Register adds the field list for an entity type. Registering a type
// twice is a wiring bug and panics.
func (r *Registry) Register(t domain.EntityType, fields ...FieldMeta) *Registry {
	if _, ok := r.fields[t]; ok {
		panic(fmt.Sprintf("index: entity type %q registered twice", t))
	}
	r.fields[t] = fields
	return r
}

// Fields returns the ordered field list for an entity type, nil when the
// type is not indexed.
func (r *Registry) Fields(t domain.EntityType) []FieldMeta {
	return r.fields[t]
}

// Types returns the registered entity types in stable order.
func (r *Registry) Types() []domain.EntityType {
	types := make([]domain.EntityType, 0, len(r.fields))
	for t := range r.fields {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Document is what the external indexer receives for one entity.
type Document struct {
	ID     uuid.UUID
	Type   domain.EntityType
	Fields map[string]string
}

// BuildDocument extracts the registered fields of entity into a Document.
// Fields whose accessor rejects the instance are skipped.
func (r *Registry) BuildDocument(t domain.EntityType, id uuid.UUID, entity any) (Document, error) {
	metas := r.fields[t]
	if metas == nil {
		return Document{}, domain.NewError(domain.KindUnknownDocument, fmt.Sprintf("entity type %q is not indexed", t))
	}

	doc := Document{ID: id, Type: t, Fields: make(map[string]string, len(metas))}
	for _, m := range metas {
		if v, ok := m.Get(entity); ok {
			doc.Fields[m.Name] = v
		}
	}
	return doc, nil
}

func stringValue(v *string) (string, bool) {
	if v == nil {
		return "", false
	}
	return *v, true
}

// DefaultRegistry wires the indexable fields of the hierarchy and rule
// entities. The field lists replace the annotation-driven discovery of
// older systems; adding an indexed field means adding a line here.
func DefaultRegistry() *Registry {
	return NewRegistry().
		Register(domain.EntityGroup,
			FieldMeta{Name: "name", Caps: Filterable | Searchable | Sortable, Get: func(e any) (string, bool) {
				g, ok := e.(*domain.Group)
				if !ok {
					return "", false
				}
				return g.Name, true
			}},
			FieldMeta{Name: "owner", Caps: Filterable, Get: func(e any) (string, bool) {
				g, ok := e.(*domain.Group)
				if !ok {
					return "", false
				}
				return g.Owner, true
			}},
		).
		Register(domain.EntityDictionary,
			FieldMeta{Name: "name", Caps: Filterable | Searchable | Sortable, Get: func(e any) (string, bool) {
				d, ok := e.(*domain.Dictionary)
				if !ok {
					return "", false
				}
				return d.Name, true
			}},
			FieldMeta{Name: "group", Caps: Filterable | Sortable, Get: func(e any) (string, bool) {
				d, ok := e.(*domain.Dictionary)
				if !ok {
					return "", false
				}
				return d.GroupName, true
			}},
			FieldMeta{Name: "description", Caps: Searchable, Get: func(e any) (string, bool) {
				d, ok := e.(*domain.Dictionary)
				if !ok {
					return "", false
				}
				return stringValue(d.Description)
			}},
		).
		Register(domain.EntityMetaField,
			FieldMeta{Name: "name", Caps: Filterable | Searchable | Sortable, Get: func(e any) (string, bool) {
				m, ok := e.(*domain.MetaField)
				if !ok {
					return "", false
				}
				return m.Name, true
			}},
			FieldMeta{Name: "path", Caps: Filterable | Searchable, Get: func(e any) (string, bool) {
				m, ok := e.(*domain.MetaField)
				if !ok {
					return "", false
				}
				return m.Path().String(), true
			}},
			FieldMeta{Name: "ordinal", Caps: Sortable, Get: func(e any) (string, bool) {
				m, ok := e.(*domain.MetaField)
				if !ok {
					return "", false
				}
				return strconv.Itoa(m.Ordinal), true
			}},
		).
		Register(domain.EntityField,
			FieldMeta{Name: "value", Caps: Filterable | Searchable, Get: func(e any) (string, bool) {
				f, ok := e.(*domain.Field)
				if !ok {
					return "", false
				}
				return stringValue(f.Value)
			}},
			FieldMeta{Name: "record", Caps: Filterable, Get: func(e any) (string, bool) {
				f, ok := e.(*domain.Field)
				if !ok {
					return "", false
				}
				return f.RecordID.String(), true
			}},
		).
		Register(domain.EntityRuleSet,
			FieldMeta{Name: "name", Caps: Filterable | Searchable | Sortable, Get: func(e any) (string, bool) {
				s, ok := e.(*domain.RecodeRuleSet)
				if !ok {
					return "", false
				}
				return s.Name, true
			}},
			FieldMeta{Name: "state", Caps: Filterable, Get: func(e any) (string, bool) {
				s, ok := e.(*domain.RecodeRuleSet)
				if !ok {
					return "", false
				}
				return s.State.String(), true
			}},
		)
}
