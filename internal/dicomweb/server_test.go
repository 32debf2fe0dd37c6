package dicomweb

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otcheredev/dicomweb-server/internal/multipart"
	"github.com/otcheredev/dicomweb-server/internal/storage/memory"
	"github.com/otcheredev/dicomweb-server/internal/testutil"
)

func newTestDispatcher() *Dispatcher {
	backend := memory.New()
	return NewDispatcher(Config{ServerName: "dicomweb-server", PathPrefix: "/dicom-web"}, backend, nil, CORSConfig{})
}

func stowBody(t *testing.T, parts ...[]byte) (string, []byte) {
	t.Helper()
	boundary, body, err := multipart.Write(parts)
	require.NoError(t, err)
	return boundary, body
}

// TestStoreThenRetrieveInstance is scenario S1 (spec.md §8).
func TestStoreThenRetrieveInstance(t *testing.T) {
	d := newTestDispatcher()

	instanceData := testutil.Part10(
		"1.2.840.10008.5.1.4.1.1.7", "1.2.3.1.1",
		testutil.Str(0x0020, 0x000D, "UI", "1.2.3"),
		testutil.Str(0x0020, 0x000E, "UI", "1.2.3.1"),
		testutil.Str(0x0008, 0x0018, "UI", "1.2.3.1.1"),
		testutil.Str(0x0008, 0x0016, "UI", "1.2.840.10008.5.1.4.1.1.7"),
		testutil.Str(0x0010, 0x0010, "PN", "DOE^JOHN"),
	)
	boundary, body := stowBody(t, instanceData)

	req := httptest.NewRequest(http.MethodPost, "/dicom-web/studies", bytes.NewReader(body))
	req.Header.Set("Content-Type", `multipart/related; type="application/dicom"; boundary=`+boundary)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp, "00081199")
	require.NotContains(t, resp, "00081198")

	getReq := httptest.NewRequest(http.MethodGet, "/dicom-web/studies/1.2.3/series/1.2.3.1/instances/1.2.3.1.1", nil)
	getRec := httptest.NewRecorder()
	d.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	contentType := getRec.Header().Get("Content-Type")
	boundaryOut := multipart.BoundaryFromContentType(contentType)
	require.NotEmpty(t, boundaryOut)

	parts, err := multipart.Parse(getRec.Body.Bytes(), boundaryOut)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	require.Equal(t, instanceData, parts[0].Body)
}

// TestSearchByPatientNameWildcard is scenario S2.
func TestSearchByPatientNameWildcard(t *testing.T) {
	d := newTestDispatcher()

	store := func(study, series, inst, name string) {
		data := testutil.Part10(
			"1.2.840.10008.5.1.4.1.1.7", inst,
			testutil.Str(0x0020, 0x000D, "UI", study),
			testutil.Str(0x0020, 0x000E, "UI", series),
			testutil.Str(0x0008, 0x0018, "UI", inst),
			testutil.Str(0x0008, 0x0016, "UI", "1.2.840.10008.5.1.4.1.1.7"),
			testutil.Str(0x0010, 0x0010, "PN", name),
		)
		boundary, body := stowBody(t, data)
		req := httptest.NewRequest(http.MethodPost, "/dicom-web/studies", bytes.NewReader(body))
		req.Header.Set("Content-Type", `multipart/related; boundary=`+boundary)
		rec := httptest.NewRecorder()
		d.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	store("2.1", "2.1.1", "2.1.1.1", "DOE^JOHN")
	store("2.2", "2.2.1", "2.2.1.1", "ROE^JANE")

	req := httptest.NewRequest(http.MethodGet, "/dicom-web/studies?PatientName=DOE*", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1", rec.Header().Get("X-Total-Count"))

	var results []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	patientName := results[0]["00100010"].(map[string]any)
	values := patientName["Value"].([]any)
	require.Len(t, values, 1)
	require.Equal(t, "DOE^JOHN", values[0].(map[string]any)["Alphabetic"])
}

// TestStorePartialFailure is scenario S6.
func TestStorePartialFailure(t *testing.T) {
	d := newTestDispatcher()

	valid := testutil.Part10(
		"1.2.840.10008.5.1.4.1.1.7", "3.1.1.1",
		testutil.Str(0x0020, 0x000D, "UI", "3.1"),
		testutil.Str(0x0020, 0x000E, "UI", "3.1.1"),
		testutil.Str(0x0008, 0x0018, "UI", "3.1.1.1"),
		testutil.Str(0x0008, 0x0016, "UI", "1.2.840.10008.5.1.4.1.1.7"),
	)
	corrupt := []byte("not a dicom file at all")

	boundary, body := stowBody(t, valid, corrupt)
	req := httptest.NewRequest(http.MethodPost, "/dicom-web/studies", bytes.NewReader(body))
	req.Header.Set("Content-Type", `multipart/related; boundary=`+boundary)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]struct {
		VR    string
		Value []any
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp["00081199"].Value, 1)
	require.Len(t, resp["00081198"].Value, 1)
}

func TestRetrieveMissingInstanceIsNotFound(t *testing.T) {
	d := newTestDispatcher()
	req := httptest.NewRequest(http.MethodGet, "/dicom-web/studies/9/series/9/instances/9", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStoreRejectsNonMultipart(t *testing.T) {
	d := newTestDispatcher()
	req := httptest.NewRequest(http.MethodPost, "/dicom-web/studies", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

// TestStoreOversizedBodyIsPayloadTooLarge exercises spec.md §7's
// max_request_body_size row: an http.MaxBytesReader-wrapped body that
// exceeds its limit must surface as 413, not the generic 400 a plain read
// error gets.
func TestStoreOversizedBodyIsPayloadTooLarge(t *testing.T) {
	d := newTestDispatcher()
	instanceData := testutil.Part10(
		"1.2.840.10008.5.1.4.1.1.7", "1.9.1.1",
		testutil.Str(0x0020, 0x000D, "UI", "1.9"),
		testutil.Str(0x0020, 0x000E, "UI", "1.9.1"),
		testutil.Str(0x0008, 0x0018, "UI", "1.9.1.1"),
		testutil.Str(0x0008, 0x0016, "UI", "1.2.840.10008.5.1.4.1.1.7"),
		testutil.Str(0x0010, 0x0010, "PN", "DOE^JOHN"),
	)
	boundary, body := stowBody(t, instanceData)
	req := httptest.NewRequest(http.MethodPost, "/dicom-web/studies", bytes.NewReader(body))
	req.Header.Set("Content-Type", "multipart/related; boundary="+boundary)

	rec := httptest.NewRecorder()
	req.Body = http.MaxBytesReader(rec, req.Body, 1)
	d.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCapabilities(t *testing.T) {
	d := newTestDispatcher()
	req := httptest.NewRequest(http.MethodGet, "/dicom-web/capabilities", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "wadoRS")
}

func TestUnimplementedStubsReturn500(t *testing.T) {
	d := newTestDispatcher()
	req := httptest.NewRequest(http.MethodGet, "/dicom-web/studies/1/series/2/instances/3/rendered", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
