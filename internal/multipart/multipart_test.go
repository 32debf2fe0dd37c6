package multipart

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteParseRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("\x00\x01\x02DICOMBYTES\xff\xfe"),
		[]byte("second part body"),
	}

	boundary, body, err := Write(payloads)
	require.NoError(t, err)
	require.Contains(t, boundary, "----DICOMBoundary")

	parts, err := Parse(body, boundary)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	for i, p := range parts {
		require.Equal(t, payloads[i], p.Body)
		require.Equal(t, "application/dicom", p.Header("Content-Type"))
	}
}

func TestParseSinglePart(t *testing.T) {
	boundary := "BOUND1"
	raw := "--BOUND1\r\nContent-Type: application/dicom\r\n\r\nHELLO\r\n--BOUND1--\r\n"
	parts, err := Parse([]byte(raw), boundary)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	require.Equal(t, []byte("HELLO"), parts[0].Body)
}

func TestParseLFFallback(t *testing.T) {
	boundary := "BOUND1"
	raw := "--BOUND1\nContent-Type: application/dicom\n\nHELLO\n--BOUND1--\n"
	parts, err := Parse([]byte(raw), boundary)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	require.Equal(t, []byte("HELLO"), parts[0].Body)
}

func TestBoundaryFromContentType(t *testing.T) {
	ct := `multipart/related; type="application/dicom"; boundary=abc123`
	require.Equal(t, "abc123", BoundaryFromContentType(ct))

	ctQuoted := `multipart/related; boundary="quoted-value"`
	require.Equal(t, "quoted-value", BoundaryFromContentType(ctQuoted))

	require.Equal(t, "", BoundaryFromContentType("application/json"))
}

func TestNewBoundaryAvoidsCollision(t *testing.T) {
	// Force a body that could theoretically collide is astronomically
	// unlikely with real randomness; this just asserts the API contract.
	boundary, err := NewBoundary([][]byte{[]byte("plain body")})
	require.NoError(t, err)
	require.NotEmpty(t, boundary)
}
