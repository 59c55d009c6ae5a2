// Package history implements the diff/history engine: per-type attribute
// registries, content hashing, field-level diffs between entity revisions,
// and append-only History records deduplicated by
// (target id, event type, event date).
package history

import (
	"fmt"
	"sort"
	"strings"

	"github.com/avdeenkov/recodehub/internal/domain"
)

// Attribute is one extracted (class, name, value) triple of an entity
// revision. Value is the display/storage string rendering.
type Attribute struct {
	Class string
	Name  string
	Value string
}

// Descriptor declares how one entity type is hashed and diffed: an ordered
// attribute extractor plus the attribute names excluded from comparison
// (generated ids and bookkeeping timestamps).
type Descriptor struct {
	Type     domain.EntityType
	Excluded []string
	Extract  func(entity any) ([]Attribute, error)
}

func (d Descriptor) excluded(name string) bool {
	for _, e := range d.Excluded {
		if e == name {
			return true
		}
	}
	return false
}

// Registry maps entity types to their descriptors. It is built explicitly
// at startup; there is no reflection involved.
type Registry struct {
	byType map[domain.EntityType]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[domain.EntityType]Descriptor)}
}

// Register adds or replaces a descriptor.
func (r *Registry) Register(d Descriptor) {
	r.byType[d.Type] = d
}

// Descriptor returns the descriptor for the given type.
func (r *Registry) Descriptor(t domain.EntityType) (Descriptor, bool) {
	d, ok := r.byType[t]
	return d, ok
}

const nilValue = "<nil>"

func renderStrPtr(v *string) string {
	if v == nil {
		return nilValue
	}
	return *v
}

// renderMap canonicalizes a map attribute: entries sorted by key, joined
// as k=v pairs. A map-valued attribute therefore compares by full content
// and yields a single Diff when any entry differs.
func renderMap(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m[k])
	}
	return b.String()
}

func wrongType(t domain.EntityType, entity any) error {
	return fmt.Errorf("history: %s descriptor got %T", t, entity)
}

// DefaultRegistry builds descriptors for every audited entity type. The
// extractors are hand-written accessor lists; attribute order is the
// declaration order below and is stable across revisions.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(Descriptor{
		Type:     domain.EntityGroup,
		Excluded: []string{"id", "createdAt", "updatedAt"},
		Extract: func(entity any) ([]Attribute, error) {
			g, ok := entity.(*domain.Group)
			if !ok {
				return nil, wrongType(domain.EntityGroup, entity)
			}
			const class = "Group"
			return []Attribute{
				{class, "id", g.ID.String()},
				{class, "name", g.Name},
				{class, "owner", g.Owner},
				{class, "permission", fmt.Sprintf("%d", g.Permission)},
				{class, "closed", fmt.Sprintf("%t", g.IsClosed())},
			}, nil
		},
	})

	r.Register(Descriptor{
		Type:     domain.EntityDictionary,
		Excluded: []string{"id", "createdAt", "updatedAt"},
		Extract: func(entity any) ([]Attribute, error) {
			d, ok := entity.(*domain.Dictionary)
			if !ok {
				return nil, wrongType(domain.EntityDictionary, entity)
			}
			const class = "Dictionary"
			return []Attribute{
				{class, "id", d.ID.String()},
				{class, "groupId", d.GroupID.String()},
				{class, "name", d.Name},
				{class, "description", renderStrPtr(d.Description)},
				{class, "closed", fmt.Sprintf("%t", d.IsClosed())},
			}, nil
		},
	})

	r.Register(Descriptor{
		Type:     domain.EntityMetaField,
		Excluded: []string{"id", "createdAt", "updatedAt"},
		Extract: func(entity any) ([]Attribute, error) {
			m, ok := entity.(*domain.MetaField)
			if !ok {
				return nil, wrongType(domain.EntityMetaField, entity)
			}
			const class = "MetaField"
			return []Attribute{
				{class, "id", m.ID.String()},
				{class, "dictionaryId", m.DictionaryID.String()},
				{class, "name", m.Name},
				{class, "ordinal", fmt.Sprintf("%d", m.Ordinal)},
				{class, "flags", fmt.Sprintf("%d", m.Flags)},
				{class, "closed", fmt.Sprintf("%t", m.IsClosed())},
			}, nil
		},
	})

	r.Register(Descriptor{
		Type:     domain.EntityField,
		Excluded: []string{"id", "createdAt", "updatedAt"},
		Extract: func(entity any) ([]Attribute, error) {
			f, ok := entity.(*domain.Field)
			if !ok {
				return nil, wrongType(domain.EntityField, entity)
			}
			const class = "Field"
			return []Attribute{
				{class, "id", f.ID.String()},
				{class, "metaFieldId", f.MetaFieldID.String()},
				{class, "recordId", f.RecordID.String()},
				{class, "name", f.Name},
				{class, "value", renderStrPtr(f.Value)},
				{class, "closed", fmt.Sprintf("%t", f.IsClosed())},
			}, nil
		},
	})

	r.Register(Descriptor{
		Type:     domain.EntityRuleSet,
		Excluded: []string{"id", "createdAt", "updatedAt"},
		Extract: func(entity any) ([]Attribute, error) {
			s, ok := entity.(*domain.RecodeRuleSet)
			if !ok {
				return nil, wrongType(domain.EntityRuleSet, entity)
			}
			const class = "RecodeRuleSet"
			defaultField := nilValue
			if s.DefaultFieldID != nil {
				defaultField = s.DefaultFieldID.String()
			}
			return []Attribute{
				{class, "id", s.ID.String()},
				{class, "name", s.Name},
				{class, "fromMetaFieldId", s.FromMetaFieldID.String()},
				{class, "toMetaFieldId", s.ToMetaFieldID.String()},
				{class, "defaultFieldId", defaultField},
				{class, "state", s.State.String()},
			}, nil
		},
	})

	r.Register(Descriptor{
		Type:     domain.EntityRule,
		Excluded: []string{"id", "createdAt", "updatedAt"},
		Extract: func(entity any) ([]Attribute, error) {
			rule, ok := entity.(*domain.RecodeRule)
			if !ok {
				return nil, wrongType(domain.EntityRule, entity)
			}
			const class = "RecodeRule"
			return []Attribute{
				{class, "id", rule.ID.String()},
				{class, "ruleSetId", rule.RuleSetID.String()},
				{class, "fromFieldId", rule.FromFieldID.String()},
				{class, "toFieldId", rule.ToFieldID.String()},
				{class, "state", rule.State.String()},
			}, nil
		},
	})

	r.Register(Descriptor{
		Type:     domain.EntityTaskExecution,
		Excluded: []string{"id", "submittedAt", "startedAt", "finishedAt"},
		Extract: func(entity any) ([]Attribute, error) {
			e, ok := entity.(*domain.TaskExecution)
			if !ok {
				return nil, wrongType(domain.EntityTaskExecution, entity)
			}
			const class = "TaskExecution"
			return []Attribute{
				{class, "id", e.ID.String()},
				{class, "performer", e.Performer},
				{class, "identityKey", e.IdentityKey},
				{class, "parameters", renderMap(e.Parameters)},
				{class, "status", e.Status.String()},
				{class, "result", renderMap(e.Result)},
			}, nil
		},
	})

	return r
}
