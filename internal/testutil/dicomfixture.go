// Package testutil builds minimal, valid-enough DICOM Part-10 byte streams
// for tests across the repository, grounded on the byte-layout knowledge in
// dicomnet's dicom/part10.go and dicom/dataset.go (Explicit VR Little
// Endian element framing) and on go-radx's VR length-class split.
package testutil

import (
	"bytes"
	"encoding/binary"
)

const explicitVRLittleEndian = "1.2.840.10008.1.2.1"

// Element is one dataset element to bake into a fixture.
type Element struct {
	Group, Elem uint16
	VR          string
	Value       []byte
}

// Str builds a string-valued Element, applying DICOM's even-length padding
// (trailing space, or NUL for UI) when the value's length is odd.
func Str(group, elem uint16, vr, value string) Element {
	b := []byte(value)
	if len(b)%2 == 1 {
		pad := byte(' ')
		if vr == "UI" {
			pad = 0
		}
		b = append(b, pad)
	}
	return Element{Group: group, Elem: elem, VR: vr, Value: b}
}

// US builds an unsigned-short-valued Element.
func US(group, elem uint16, value uint16) Element {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, value)
	return Element{Group: group, Elem: elem, VR: "US", Value: b}
}

var longVRs = map[string]bool{
	"OB": true, "OD": true, "OF": true, "OL": true, "OW": true,
	"SQ": true, "UC": true, "UR": true, "UT": true, "UN": true,
	"OV": true, "SV": true, "UV": true,
}

func encodeElement(e Element) []byte {
	var buf bytes.Buffer
	var tagBuf [4]byte
	binary.LittleEndian.PutUint16(tagBuf[0:2], e.Group)
	binary.LittleEndian.PutUint16(tagBuf[2:4], e.Elem)
	buf.Write(tagBuf[:])
	buf.WriteString(e.VR)
	if longVRs[e.VR] {
		buf.Write([]byte{0, 0}) // reserved
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(e.Value)))
		buf.Write(lenBuf[:])
	} else {
		var lenBuf [2]byte
		binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(e.Value)))
		buf.Write(lenBuf[:])
	}
	buf.Write(e.Value)
	return buf.Bytes()
}

// Part10 assembles a full Part-10 byte stream: a zero preamble, the "DICM"
// prefix, a File Meta Information group (0002,xxxx, always Explicit VR
// Little Endian per PS3.10) declaring Explicit VR Little Endian as the
// dataset's transfer syntax, followed by the caller's dataset elements
// encoded Explicit VR Little Endian.
func Part10(sopClassUID, sopInstanceUID string, dataset ...Element) []byte {
	var meta bytes.Buffer
	metaElements := []Element{
		Str(0x0002, 0x0002, "UI", sopClassUID),
		Str(0x0002, 0x0003, "UI", sopInstanceUID),
		Str(0x0002, 0x0010, "UI", explicitVRLittleEndian),
		Str(0x0002, 0x0012, "UI", "1.2.826.0.1.3680043.9.7433.1.1"),
	}
	for _, e := range metaElements {
		meta.Write(encodeElement(e))
	}

	groupLength := Element{
		Group: 0x0002, Elem: 0x0000, VR: "UL",
		Value: func() []byte {
			b := make([]byte, 4)
			binary.LittleEndian.PutUint32(b, uint32(meta.Len()))
			return b
		}(),
	}

	var out bytes.Buffer
	out.Write(make([]byte, 128)) // preamble
	out.WriteString("DICM")
	out.Write(encodeElement(groupLength))
	out.Write(meta.Bytes())
	for _, e := range dataset {
		out.Write(encodeElement(e))
	}
	return out.Bytes()
}
