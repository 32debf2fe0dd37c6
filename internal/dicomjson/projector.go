// Package dicomjson serialises tag->value attribute sets into the PS3.18
// Annex F JSON model (spec.md §4.9): {"GGGGEEEE": {"vr": "..", "Value": [...]}}.
package dicomjson

import (
	"github.com/otcheredev/dicomweb-server/internal/storage"
)

// Object is one DICOM+JSON dataset: tag -> {vr, Value}.
type Object map[string]Element

// Element is the {"vr": ..., "Value": [...]} shape for one tag.
type Element struct {
	VR    string `json:"vr"`
	Value []any  `json:"Value,omitempty"`
}

// alphabeticName is the JSON shape PS3.18 Annex F uses for VR=PN values.
type alphabeticName struct {
	Alphabetic string `json:"Alphabetic"`
}

// FromAttributes projects a storage.AttributeSet into a DICOM+JSON Object,
// applying the VR-specific Value shaping rules spec.md §4.9 names: PN values
// become {"Alphabetic": ...} objects, SQ values recurse into nested Objects,
// everything else is carried as a flat array of strings/numbers.
func FromAttributes(attrs storage.AttributeSet) Object {
	obj := make(Object, len(attrs))
	for tag, attr := range attrs {
		obj[tag] = projectAttribute(attr)
	}
	return obj
}

func projectAttribute(attr storage.Attribute) Element {
	switch attr.VR {
	case "PN":
		values := make([]any, 0, len(attr.Value))
		for _, v := range attr.Value {
			if s, ok := v.(string); ok && s != "" {
				values = append(values, alphabeticName{Alphabetic: s})
			}
		}
		return Element{VR: attr.VR, Value: values}
	case "SQ":
		values := make([]any, 0, len(attr.Value))
		for _, v := range attr.Value {
			nested, ok := v.([]storage.AttributeSet)
			if !ok {
				continue
			}
			for _, item := range nested {
				values = append(values, FromAttributes(item))
			}
		}
		return Element{VR: attr.VR, Value: values}
	default:
		return Element{VR: attr.VR, Value: attr.Value}
	}
}

// Builder accumulates the minimum study/series/instance-level fields
// spec.md §4.9 lists for search results, independent of a fully parsed
// attribute set (the in-memory backend's aggregates feed this directly).
type Builder struct {
	obj Object
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{obj: make(Object)}
}

// SetString sets a single-valued string/code/date/time tag (LO/CS/DA/TM/SH/UI/IS...).
func (b *Builder) SetString(tag, vr, value string) *Builder {
	if value == "" {
		return b
	}
	b.obj[tag] = Element{VR: vr, Value: []any{value}}
	return b
}

// SetStrings sets a multi-valued string tag (e.g. ModalitiesInStudy, CS).
func (b *Builder) SetStrings(tag, vr string, values []string) *Builder {
	if len(values) == 0 {
		return b
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	b.obj[tag] = Element{VR: vr, Value: out}
	return b
}

// SetInt sets a single-valued integer tag (IS/US).
func (b *Builder) SetInt(tag, vr string, value int) *Builder {
	b.obj[tag] = Element{VR: vr, Value: []any{value}}
	return b
}

// SetPersonName sets a PN-valued tag using the Annex F Alphabetic shape.
func (b *Builder) SetPersonName(tag, value string) *Builder {
	if value == "" {
		return b
	}
	b.obj[tag] = Element{VR: "PN", Value: []any{alphabeticName{Alphabetic: value}}}
	return b
}

// Build returns the accumulated Object.
func (b *Builder) Build() Object {
	return b.obj
}
