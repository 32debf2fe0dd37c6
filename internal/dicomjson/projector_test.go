package dicomjson

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otcheredev/dicomweb-server/internal/storage"
)

func TestFromAttributesScalarPassthrough(t *testing.T) {
	attrs := storage.AttributeSet{
		"00080060": storage.Attribute{VR: "CS", Value: []any{"OT"}},
		"00200011": storage.Attribute{VR: "US", Value: []any{1}},
	}
	obj := FromAttributes(attrs)
	require.Equal(t, "CS", obj["00080060"].VR)
	require.Equal(t, []any{"OT"}, obj["00080060"].Value)
	require.Equal(t, []any{1}, obj["00200011"].Value)
}

func TestFromAttributesPersonNameShape(t *testing.T) {
	attrs := storage.AttributeSet{
		"00100010": storage.Attribute{VR: "PN", Value: []any{"DOE^JOHN"}},
	}
	obj := FromAttributes(attrs)
	require.Equal(t, "PN", obj["00100010"].VR)
	require.Equal(t, []any{alphabeticName{Alphabetic: "DOE^JOHN"}}, obj["00100010"].Value)
}

func TestFromAttributesSequenceRecurses(t *testing.T) {
	nested := []storage.AttributeSet{
		{"00080100": storage.Attribute{VR: "SH", Value: []any{"CODE1"}}},
	}
	attrs := storage.AttributeSet{
		"00400275": storage.Attribute{VR: "SQ", Value: []any{nested}},
	}
	obj := FromAttributes(attrs)
	require.Equal(t, "SQ", obj["00400275"].VR)
	require.Len(t, obj["00400275"].Value, 1)
	item, ok := obj["00400275"].Value[0].(Object)
	require.True(t, ok)
	require.Equal(t, "SH", item["00080100"].VR)
}

func TestBuilderOmitsEmptyFields(t *testing.T) {
	obj := NewBuilder().
		SetString("00080050", "SH", "").
		SetPersonName("00100010", "DOE^JOHN").
		SetInt("00200013", "IS", 3).
		Build()

	_, hasEmpty := obj["00080050"]
	require.False(t, hasEmpty)
	require.Equal(t, []any{alphabeticName{Alphabetic: "DOE^JOHN"}}, obj["00100010"].Value)
	require.Equal(t, []any{3}, obj["00200013"].Value)
}
