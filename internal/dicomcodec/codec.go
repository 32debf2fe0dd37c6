// Package dicomcodec wraps github.com/suyashkumar/dicom to parse DICOM
// Part-10 files far enough to extract the identifying attributes
// spec.md §3 names and to produce a full tag-addressed attribute set for
// DICOM+JSON metadata projection (spec.md §4.9). This is the "DICOM binary
// codec" collaborator named in spec.md §1.
package dicomcodec

import (
	"bytes"
	"fmt"
	"reflect"
	"strconv"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/otcheredev/dicomweb-server/internal/storage"
)

// pixelDataTag is excluded from every AttributeSet this package produces,
// per spec.md §4.1/§4.5 ("pixel-data element removed" / "every header
// element except PixelData").
const pixelDataTag = "7FE00010"

// Header carries the scalar attributes the in-memory backend needs to seed
// its Study/Series aggregates (spec.md §3, §4.2).
type Header struct {
	StudyInstanceUID  string
	SeriesInstanceUID string
	SOPInstanceUID    string
	SOPClassUID       string
	TransferSyntaxUID string

	PatientName        string
	PatientID          string
	PatientBirthDate   string
	PatientSex         string
	StudyDate          string
	StudyTime          string
	StudyID            string
	AccessionNumber    string
	StudyDescription   string
	ReferringPhysician string

	Modality                string
	SeriesNumber            int
	SeriesDescription       string
	BodyPartExamined        string
	SeriesDate              string
	SeriesTime              string
	PerformingPhysicianName string
	InstanceNumber          int
}

// ErrMalformed wraps any parse failure. The in-memory backend treats this
// as "scalars absent", per spec.md §4.2 — it never blocks storage.
type ErrMalformed struct{ Err error }

func (e *ErrMalformed) Error() string { return fmt.Sprintf("dicomcodec: malformed input: %v", e.Err) }
func (e *ErrMalformed) Unwrap() error { return e.Err }

// Parse parses a Part-10 byte stream and returns both the scalar Header and
// the full attribute set (minus PixelData) for metadata projection. On parse
// failure it returns a zero Header, a nil AttributeSet, and an *ErrMalformed.
func Parse(data []byte) (Header, storage.AttributeSet, error) {
	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil, dicom.SkipPixelData())
	if err != nil {
		return Header{}, nil, &ErrMalformed{Err: err}
	}

	attrs := make(storage.AttributeSet, len(ds.Elements))
	for _, el := range ds.Elements {
		key := tagKey(el.Tag)
		if key == pixelDataTag {
			continue
		}
		attrs[key] = convertElement(el)
	}

	h := Header{
		StudyInstanceUID:        findString(ds, tag.StudyInstanceUID),
		SeriesInstanceUID:       findString(ds, tag.SeriesInstanceUID),
		SOPInstanceUID:          findString(ds, tag.SOPInstanceUID),
		SOPClassUID:             findString(ds, tag.SOPClassUID),
		TransferSyntaxUID:       findString(ds, tag.TransferSyntaxUID),
		PatientName:             findString(ds, tag.PatientName),
		PatientID:               findString(ds, tag.PatientID),
		PatientBirthDate:        findString(ds, tag.PatientBirthDate),
		PatientSex:              findString(ds, tag.PatientSex),
		StudyDate:               findString(ds, tag.StudyDate),
		StudyTime:               findString(ds, tag.StudyTime),
		StudyID:                 findString(ds, tag.StudyID),
		AccessionNumber:         findString(ds, tag.AccessionNumber),
		StudyDescription:        findString(ds, tag.StudyDescription),
		ReferringPhysician:      findString(ds, tag.ReferringPhysicianName),
		Modality:                findString(ds, tag.Modality),
		SeriesNumber:            findInt(ds, tag.SeriesNumber),
		SeriesDescription:       findString(ds, tag.SeriesDescription),
		BodyPartExamined:        findString(ds, tag.BodyPartExamined),
		SeriesDate:              findString(ds, tag.SeriesDate),
		SeriesTime:              findString(ds, tag.SeriesTime),
		PerformingPhysicianName: findString(ds, tag.PerformingPhysicianName),
		InstanceNumber:          findInt(ds, tag.InstanceNumber),
	}

	return h, attrs, nil
}

func tagKey(t tag.Tag) string {
	return fmt.Sprintf("%04X%04X", t.Group, t.Element)
}

func findString(ds dicom.Dataset, t tag.Tag) string {
	el, err := ds.FindElementByTag(t)
	if err != nil || el.Value == nil {
		return ""
	}
	return firstString(el.Value.GetValue())
}

func findInt(ds dicom.Dataset, t tag.Tag) int {
	el, err := ds.FindElementByTag(t)
	if err != nil || el.Value == nil {
		return 0
	}
	s := firstString(el.Value.GetValue())
	n, _ := strconv.Atoi(s)
	return n
}

// firstString returns a textual rendering of the first scalar carried by a
// parsed element's raw Go value, regardless of whether the underlying VR
// decoded to a string, integer or float slice.
func firstString(v any) string {
	values := toAnySlice(v)
	if len(values) == 0 {
		return ""
	}
	return fmt.Sprint(values[0])
}

// convertElement normalises one parsed element into our VR+Value shape.
// Sequence elements are walked via reflection into nested AttributeSets
// rather than asserting on the library's concrete sequence-item type, since
// the exact exported shape of nested items varies across library versions.
func convertElement(el *dicom.Element) storage.Attribute {
	vr := el.RawValueRepresentation
	if vr == "SQ" {
		return storage.Attribute{VR: vr, Value: []any{convertSequence(el.Value.GetValue())}}
	}
	return storage.Attribute{VR: vr, Value: toAnySlice(el.Value.GetValue())}
}

// toAnySlice flattens the handful of concrete slice kinds the codec library
// returns (string/int/float variants) into a []any of comparable scalars.
func toAnySlice(v any) []any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return []any{v}
	}
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out = append(out, rv.Index(i).Interface())
	}
	return out
}

// convertSequence best-effort walks a decoded SQ value's items, each of
// which is expected to expose an "Elements []*dicom.Element" field, into a
// nested AttributeSet. Anything that doesn't match that shape is skipped.
func convertSequence(v any) []storage.AttributeSet {
	items := toAnySlice(v)
	out := make([]storage.AttributeSet, 0, len(items))
	for _, item := range items {
		rv := reflect.ValueOf(item)
		if rv.Kind() == reflect.Ptr {
			rv = rv.Elem()
		}
		if rv.Kind() != reflect.Struct {
			continue
		}
		field := rv.FieldByName("Elements")
		if !field.IsValid() || field.Kind() != reflect.Slice {
			continue
		}
		nested := make(storage.AttributeSet, field.Len())
		for i := 0; i < field.Len(); i++ {
			elAny := field.Index(i).Interface()
			el, ok := elAny.(*dicom.Element)
			if !ok {
				continue
			}
			key := tagKey(el.Tag)
			if key == pixelDataTag {
				continue
			}
			nested[key] = convertElement(el)
		}
		out = append(out, nested)
	}
	return out
}
