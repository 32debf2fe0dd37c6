// Package multipart implements the multipart/related wire codec spec.md
// §4.3 requires: byte-exact boundary handling for application/dicom parts,
// with no intermediate text/UTF-8 re-encoding of part bodies (Design Notes
// §9's fidelity requirement).
package multipart

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// Part is one section of a multipart/related body.
type Part struct {
	Headers map[string]string
	Body    []byte
}

// Header returns the value of a header, matched case-insensitively, or "".
func (p Part) Header(name string) string {
	for k, v := range p.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Parse splits body on the boundary B (without its leading "--"), discarding
// the preamble and the terminating "--B--" delimiter, and returns the
// decoded parts in wire order. Headers are split from the body on the first
// double-CRLF, falling back to a bare double-LF for compatibility with
// less strict producers.
func Parse(body []byte, boundary string) ([]Part, error) {
	if boundary == "" {
		return nil, fmt.Errorf("multipart: empty boundary")
	}
	delim := []byte("--" + boundary)

	sections := splitOnDelimiter(body, delim)
	// The first slice is the preamble (discarded); the final delimiter
	// occurrence is followed by "--" and is not itself a part.
	var parts []Part
	for i, section := range sections {
		if i == 0 {
			continue
		}
		section = trimLeadingCRLF(section)
		if bytes.HasPrefix(section, []byte("--")) {
			// terminating "--B--"
			continue
		}
		headers, payload, err := splitHeaders(section)
		if err != nil {
			return nil, err
		}
		parts = append(parts, Part{Headers: headers, Body: payload})
	}
	return parts, nil
}

// splitOnDelimiter splits on every occurrence of delim, returning the
// segments strictly between occurrences (segment 0 is whatever precedes the
// first delimiter).
func splitOnDelimiter(body, delim []byte) [][]byte {
	var out [][]byte
	rest := body
	for {
		idx := bytes.Index(rest, delim)
		if idx < 0 {
			out = append(out, rest)
			break
		}
		out = append(out, rest[:idx])
		rest = rest[idx+len(delim):]
	}
	return out
}

func trimLeadingCRLF(b []byte) []byte {
	for {
		switch {
		case bytes.HasPrefix(b, []byte("\r\n")):
			b = b[2:]
		case bytes.HasPrefix(b, []byte("\n")):
			b = b[1:]
		default:
			return b
		}
	}
}

// splitHeaders separates a section's header block from its body on the
// first blank line, parsing "name: value" header lines with surrounding
// whitespace trimmed. The body retains no trailing boundary artifacts; the
// caller has already stripped those via the delimiter split.
func splitHeaders(section []byte) (map[string]string, []byte, error) {
	sepCRLF := []byte("\r\n\r\n")
	sepLF := []byte("\n\n")

	idx := bytes.Index(section, sepCRLF)
	sepLen := len(sepCRLF)
	if idx < 0 {
		idx = bytes.Index(section, sepLF)
		sepLen = len(sepLF)
	}
	if idx < 0 {
		return nil, nil, fmt.Errorf("multipart: part missing header/body separator")
	}

	headerBlock := section[:idx]
	body := section[idx+sepLen:]
	if bytes.HasSuffix(body, []byte("\r\n")) {
		body = body[:len(body)-2]
	} else {
		body = bytes.TrimSuffix(body, []byte("\n"))
	}

	headers := make(map[string]string)
	for _, line := range bytes.Split(headerBlock, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			continue
		}
		kv := bytes.SplitN(line, []byte(":"), 2)
		if len(kv) != 2 {
			continue
		}
		name := strings.TrimSpace(string(kv[0]))
		value := strings.TrimSpace(string(kv[1]))
		headers[name] = value
	}
	return headers, body, nil
}

// NewBoundary generates a fresh boundary of the form
// "----DICOMBoundary<128-bit-random-hex>" (spec.md §4.3), regenerating until
// it does not collide with any byte sequence appearing in any of parts.
func NewBoundary(parts [][]byte) (string, error) {
	for attempt := 0; attempt < 8; attempt++ {
		var raw [16]byte
		if _, err := rand.Read(raw[:]); err != nil {
			return "", fmt.Errorf("multipart: generating boundary: %w", err)
		}
		boundary := "----DICOMBoundary" + hex.EncodeToString(raw[:])
		if !collides(boundary, parts) {
			return boundary, nil
		}
	}
	return "", fmt.Errorf("multipart: could not generate a non-colliding boundary")
}

func collides(boundary string, parts [][]byte) bool {
	b := []byte(boundary)
	for _, p := range parts {
		if bytes.Contains(p, b) {
			return true
		}
	}
	return false
}

// Write emits a multipart/related body over the given application/dicom
// parts using a freshly generated boundary, returning the boundary and the
// encoded body.
func Write(parts [][]byte) (boundary string, body []byte, err error) {
	boundary, err = NewBoundary(parts)
	if err != nil {
		return "", nil, err
	}
	var buf bytes.Buffer
	for _, p := range parts {
		buf.WriteString("--")
		buf.WriteString(boundary)
		buf.WriteString("\r\n")
		buf.WriteString("Content-Type: application/dicom\r\n\r\n")
		buf.Write(p)
		buf.WriteString("\r\n")
	}
	buf.WriteString("--")
	buf.WriteString(boundary)
	buf.WriteString("--\r\n")
	return boundary, buf.Bytes(), nil
}

// BoundaryFromContentType extracts the boundary parameter from a
// "multipart/related; ...; boundary=X; ..." Content-Type header value.
// Quoted and unquoted forms are both accepted.
func BoundaryFromContentType(contentType string) string {
	parts := strings.Split(contentType, ";")
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if !strings.HasPrefix(strings.ToLower(p), "boundary=") {
			continue
		}
		v := p[len("boundary="):]
		v = strings.Trim(v, `"`)
		return v
	}
	return ""
}
