package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otcheredev/dicomweb-server/internal/identity"
	"github.com/otcheredev/dicomweb-server/internal/testutil"
)

func fixture(studyUID, seriesUID, instanceUID, patientName string) []byte {
	return testutil.Part10(
		"1.2.840.10008.5.1.4.1.1.7",
		instanceUID,
		testutil.Str(0x0020, 0x000D, "UI", studyUID),
		testutil.Str(0x0020, 0x000E, "UI", seriesUID),
		testutil.Str(0x0008, 0x0018, "UI", instanceUID),
		testutil.Str(0x0008, 0x0016, "UI", "1.2.840.10008.5.1.4.1.1.7"),
		testutil.Str(0x0010, 0x0010, "PN", patientName),
		testutil.Str(0x0010, 0x0020, "LO", "P1"),
		testutil.Str(0x0008, 0x0060, "CS", "CT"),
		testutil.US(0x0020, 0x0011, 1),
	)
}

func TestStoreAndRetrieveInstance(t *testing.T) {
	ctx := context.Background()
	b := New()

	data := fixture("1.2.3", "1.2.3.1", "1.2.3.1.1", "DOE^JOHN")
	err := b.StoreInstance(ctx, data, "1.2.3", "1.2.3.1", "1.2.3.1.1")
	require.NoError(t, err)

	got, ok, err := b.GetInstance(ctx, "1.2.3", "1.2.3.1", "1.2.3.1.1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, data, got)

	_, ok, err = b.GetInstance(ctx, "1.2.3", "1.2.3.1", "nonexistent")
	require.NoError(t, err)
	require.False(t, ok)
}

// TestStoreIsIdempotent re-stores the same instance and asserts the study is
// still singular and instance-counted once (spec.md §4.2 idempotent STOW).
func TestStoreIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := New()

	data := fixture("1.2.3", "1.2.3.1", "1.2.3.1.1", "DOE^JOHN")
	require.NoError(t, b.StoreInstance(ctx, data, "1.2.3", "1.2.3.1", "1.2.3.1.1"))
	require.NoError(t, b.StoreInstance(ctx, data, "1.2.3", "1.2.3.1", "1.2.3.1.1"))

	n, err := b.CountInstances(ctx, "1.2.3", "1.2.3.1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, total, err := b.SearchStudies(ctx, identity.NewQuery())
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

func TestSearchStudiesByPatientNameWildcard(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.StoreInstance(ctx, fixture("1.1", "1.1.1", "1.1.1.1", "DOE^JOHN"), "1.1", "1.1.1", "1.1.1.1"))
	require.NoError(t, b.StoreInstance(ctx, fixture("1.2", "1.2.1", "1.2.1.1", "SMITH^JANE"), "1.2", "1.2.1", "1.2.1.1"))

	q := identity.NewQuery()
	q.PatientName = "DOE*"
	results, total, err := b.SearchStudies(ctx, q)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, results, 1)
	require.Equal(t, identity.StudyKey("1.1"), results[0].StudyInstanceUID)
}

func TestSearchStudiesPagination(t *testing.T) {
	ctx := context.Background()
	b := New()
	for i := 0; i < 5; i++ {
		uid := string(rune('1' + i))
		require.NoError(t, b.StoreInstance(ctx, fixture("1."+uid, "1."+uid+".1", "1."+uid+".1.1", "DOE^JOHN"), identity.StudyKey("1."+uid), identity.SeriesKey("1."+uid+".1"), identity.InstanceKey("1."+uid+".1.1")))
	}

	q := identity.NewQuery()
	q.Offset = 2
	q.Limit = 2
	results, total, err := b.SearchStudies(ctx, q)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, results, 2)
}

// TestSoftDeleteHidesButRetainsAggregate exercises spec.md §4.1's
// soft-delete semantics: a soft-deleted instance disappears from reads and
// searches, but a second DELETE of the same resource reports "did not exist"
// rather than panicking or double-counting.
func TestSoftDeleteHidesButRetainsAggregate(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.StoreInstance(ctx, fixture("1.3", "1.3.1", "1.3.1.1", "DOE^JOHN"), "1.3", "1.3.1", "1.3.1.1"))

	existed, err := b.DeleteInstance(ctx, "1.3", "1.3.1", "1.3.1.1", identity.DeleteSoft)
	require.NoError(t, err)
	require.True(t, existed)

	_, ok, err := b.GetInstance(ctx, "1.3", "1.3.1", "1.3.1.1")
	require.NoError(t, err)
	require.False(t, ok)

	_, total, err := b.SearchStudies(ctx, identity.NewQuery())
	require.NoError(t, err)
	require.Equal(t, 1, total)

	existed, err = b.DeleteInstance(ctx, "1.3", "1.3.1", "1.3.1.1", identity.DeleteSoft)
	require.NoError(t, err)
	require.False(t, existed)
}

func TestDeleteStudyCascadesToSeriesAndInstances(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.StoreInstance(ctx, fixture("1.4", "1.4.1", "1.4.1.1", "DOE^JOHN"), "1.4", "1.4.1", "1.4.1.1"))
	require.NoError(t, b.StoreInstance(ctx, fixture("1.4", "1.4.1", "1.4.1.2", "DOE^JOHN"), "1.4", "1.4.1", "1.4.1.2"))

	affected, err := b.DeleteStudy(ctx, "1.4", identity.DeleteSoft)
	require.NoError(t, err)
	require.Equal(t, 2, affected)

	instances, err := b.GetStudyInstances(ctx, "1.4")
	require.NoError(t, err)
	require.Nil(t, instances)
}

// TestPermanentDeleteInstanceCollectsEmptySeriesAndStudy exercises spec.md
// §3 Invariant 1: permanently deleting the only instance in a series must
// collect the now-empty series and, transitively, the now-empty study, so
// neither survives a later search.
func TestPermanentDeleteInstanceCollectsEmptySeriesAndStudy(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.StoreInstance(ctx, fixture("1.7", "1.7.1", "1.7.1.1", "DOE^JOHN"), "1.7", "1.7.1", "1.7.1.1"))

	existed, err := b.DeleteInstance(ctx, "1.7", "1.7.1", "1.7.1.1", identity.DeletePermanent)
	require.NoError(t, err)
	require.True(t, existed)

	_, total, err := b.SearchSeries(ctx, "1.7", identity.NewQuery())
	require.NoError(t, err)
	require.Equal(t, 0, total)

	_, total, err = b.SearchStudies(ctx, identity.NewQuery())
	require.NoError(t, err)
	require.Equal(t, 0, total)
}

// TestPermanentDeleteSeriesCollectsEmptyStudy exercises the same invariant
// one level up: permanently deleting a study's only series must also
// collect the study.
func TestPermanentDeleteSeriesCollectsEmptyStudy(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.StoreInstance(ctx, fixture("1.8", "1.8.1", "1.8.1.1", "DOE^JOHN"), "1.8", "1.8.1", "1.8.1.1"))

	affected, err := b.DeleteSeries(ctx, "1.8", "1.8.1", identity.DeletePermanent)
	require.NoError(t, err)
	require.Equal(t, 1, affected)

	_, total, err := b.SearchStudies(ctx, identity.NewQuery())
	require.NoError(t, err)
	require.Equal(t, 0, total)
}

func TestGetInstanceMetadataExcludesPixelData(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.StoreInstance(ctx, fixture("1.5", "1.5.1", "1.5.1.1", "DOE^JOHN"), "1.5", "1.5.1", "1.5.1.1"))

	attrs, ok, err := b.GetInstanceMetadata(ctx, "1.5", "1.5.1", "1.5.1.1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotContains(t, attrs, "7FE00010")
	require.Contains(t, attrs, "00100010")
}

func TestSearchSeriesByModality(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.StoreInstance(ctx, fixture("1.6", "1.6.1", "1.6.1.1", "DOE^JOHN"), "1.6", "1.6.1", "1.6.1.1"))

	q := identity.NewQuery()
	q.Modality = "CT"
	results, total, err := b.SearchSeries(ctx, "1.6", q)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, results, 1)

	q.Modality = "MR"
	_, total, err = b.SearchSeries(ctx, "1.6", q)
	require.NoError(t, err)
	require.Equal(t, 0, total)
}
