package dicomcodec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otcheredev/dicomweb-server/internal/testutil"
)

func TestParseExtractsHeaderScalars(t *testing.T) {
	data := testutil.Part10(
		"1.2.840.10008.5.1.4.1.1.7",
		"1.2.3.1.1",
		testutil.Str(0x0020, 0x000D, "UI", "1.2.3"),
		testutil.Str(0x0020, 0x000E, "UI", "1.2.3.1"),
		testutil.Str(0x0008, 0x0018, "UI", "1.2.3.1.1"),
		testutil.Str(0x0008, 0x0016, "UI", "1.2.840.10008.5.1.4.1.1.7"),
		testutil.Str(0x0010, 0x0010, "PN", "DOE^JOHN"),
		testutil.Str(0x0010, 0x0020, "LO", "P123"),
		testutil.Str(0x0008, 0x0060, "CS", "OT"),
		testutil.US(0x0020, 0x0011, 1),
	)

	header, attrs, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, "1.2.3", header.StudyInstanceUID)
	require.Equal(t, "1.2.3.1", header.SeriesInstanceUID)
	require.Equal(t, "1.2.3.1.1", header.SOPInstanceUID)
	require.Equal(t, "DOE^JOHN", header.PatientName)
	require.Equal(t, "P123", header.PatientID)
	require.Equal(t, "OT", header.Modality)
	require.Equal(t, 1, header.SeriesNumber)

	require.NotContains(t, attrs, pixelDataTag)
	attr, ok := attrs["00100010"]
	require.True(t, ok)
	require.Equal(t, "PN", attr.VR)
}

func TestParseMalformedIsNotFatal(t *testing.T) {
	_, attrs, err := Parse([]byte("not a dicom file"))
	require.Error(t, err)
	require.Nil(t, attrs)
	var malformed *ErrMalformed
	require.ErrorAs(t, err, &malformed)
}
