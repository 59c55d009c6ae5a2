package domain

import (
	"strings"
)

// PathLevel is the depth of a NamedPath within the hierarchy.
type PathLevel int

const (
	LevelGroup PathLevel = iota + 1
	LevelDictionary
	LevelMetaField
	LevelField
)

// NamedPath addresses a hierarchy entity by the concatenation of ancestor
// names instead of generated ids. Name segments (group, dictionary,
// meta field) are compared case-insensitively; the optional field-value
// segment is compared case-sensitively, and an absent value is distinct
// from an empty one.
//
// The zero NamedPath is invalid; construct paths with GroupPath,
// DictionaryPath, MetaFieldPath, or FieldPath. NamedPath is an immutable
// value type and is safe to use as a map key via Key().
type NamedPath struct {
	group      string
	dictionary string
	metaField  string
	value      string
	level      PathLevel
	hasValue   bool
}

// GroupPath addresses a group by name.
func GroupPath(group string) NamedPath {
	return NamedPath{group: group, level: LevelGroup}
}

// DictionaryPath addresses a dictionary within a group.
func DictionaryPath(group, dictionary string) NamedPath {
	return NamedPath{group: group, dictionary: dictionary, level: LevelDictionary}
}

// MetaFieldPath addresses a meta field within a dictionary.
func MetaFieldPath(group, dictionary, metaField string) NamedPath {
	return NamedPath{group: group, dictionary: dictionary, metaField: metaField, level: LevelMetaField}
}

// FieldPath addresses a field by its value under a meta field. A nil value
// addresses the absent value, which is not the same as the empty string.
func FieldPath(group, dictionary, metaField string, value *string) NamedPath {
	p := NamedPath{group: group, dictionary: dictionary, metaField: metaField, level: LevelField}
	if value != nil {
		p.value = *value
		p.hasValue = true
	}
	return p
}

// Level returns the depth of the path.
func (p NamedPath) Level() PathLevel { return p.level }

// IsZero reports whether the path was never constructed.
func (p NamedPath) IsZero() bool { return p.level == 0 }

// Group returns the group name segment.
func (p NamedPath) Group() string { return p.group }

// Dictionary returns the dictionary name segment ("" for group paths).
func (p NamedPath) Dictionary() string { return p.dictionary }

// MetaField returns the meta field name segment ("" above meta field level).
func (p NamedPath) MetaField() string { return p.metaField }

// Value returns the field-value segment, or nil when the path carries none.
func (p NamedPath) Value() *string {
	if !p.hasValue {
		return nil
	}
	v := p.value
	return &v
}

// Parent returns the path one level up. The parent of a group path is the
// zero path.
func (p NamedPath) Parent() NamedPath {
	switch p.level {
	case LevelField:
		return MetaFieldPath(p.group, p.dictionary, p.metaField)
	case LevelMetaField:
		return DictionaryPath(p.group, p.dictionary)
	case LevelDictionary:
		return GroupPath(p.group)
	default:
		return NamedPath{}
	}
}

// PathKey is the comparable identity of a NamedPath, usable as a map key.
type PathKey struct {
	group      string
	dictionary string
	metaField  string
	value      string
	level      PathLevel
	hasValue   bool
}

// Key returns a comparable identity: name segments folded, the value
// segment verbatim. Two paths address the same entity iff their keys are
// equal.
func (p NamedPath) Key() PathKey {
	return PathKey{
		group:      NormalizeName(p.group),
		dictionary: NormalizeName(p.dictionary),
		metaField:  NormalizeName(p.metaField),
		value:      p.value,
		level:      p.level,
		hasValue:   p.hasValue,
	}
}

// Equal reports whether two paths address the same entity.
func (p NamedPath) Equal(other NamedPath) bool {
	return p.Key() == other.Key()
}

// String renders the path for diagnostics, e.g. "cbr/countries/alpha2=RU".
func (p NamedPath) String() string {
	var b strings.Builder
	b.WriteString(p.group)
	if p.level >= LevelDictionary {
		b.WriteByte('/')
		b.WriteString(p.dictionary)
	}
	if p.level >= LevelMetaField {
		b.WriteByte('/')
		b.WriteString(p.metaField)
	}
	if p.level == LevelField {
		b.WriteByte('=')
		if p.hasValue {
			b.WriteString(p.value)
		} else {
			b.WriteString("<nil>")
		}
	}
	return b.String()
}
