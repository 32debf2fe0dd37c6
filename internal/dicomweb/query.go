package dicomweb

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/otcheredev/dicomweb-server/internal/identity"
)

// parseQuery maps QIDO-RS query parameters into a identity.Query, using
// DICOM keyword names verbatim and lowercase names for the three
// implementation-level options (spec.md §6).
func parseQuery(r *http.Request) identity.Query {
	v := r.URL.Query()
	q := identity.NewQuery()

	q.PatientName = v.Get("PatientName")
	q.PatientID = v.Get("PatientID")
	q.AccessionNumber = v.Get("AccessionNumber")
	q.Modality = v.Get("Modality")
	q.StudyInstanceUID = v.Get("StudyInstanceUID")
	q.SeriesInstanceUID = v.Get("SeriesInstanceUID")
	q.SOPInstanceUID = v.Get("SOPInstanceUID")
	q.StudyDescription = v.Get("StudyDescription")
	q.SeriesDescription = v.Get("SeriesDescription")
	q.ReferringPhysicianName = v.Get("ReferringPhysicianName")

	if mis := v.Get("ModalitiesInStudy"); mis != "" {
		q.ModalitiesInStudy = strings.Split(mis, ",")
	}

	q.StudyDate = parseDateRange(v.Get("StudyDate"))
	q.StudyTime = parseDateRange(v.Get("StudyTime"))

	if sn := v.Get("SeriesNumber"); sn != "" {
		if n, err := strconv.Atoi(sn); err == nil {
			q.SeriesNumber = &n
		}
	}
	if in := v.Get("InstanceNumber"); in != "" {
		if n, err := strconv.Atoi(in); err == nil {
			q.InstanceNumber = &n
		}
	}

	if offset := v.Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil && n >= 0 {
			q.Offset = n
		}
	}
	if limit := v.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			q.Limit = n
		}
	}
	if fuzzy := v.Get("fuzzymatching"); fuzzy != "" {
		q.FuzzyMatching = fuzzy == "true" || fuzzy == "1"
	}

	return q
}

// parseDateRange accepts a single DA/TM value or a "start-end" inclusive
// range, per spec.md §3's StorageQuery.study_date.
func parseDateRange(s string) identity.DateRange {
	if s == "" {
		return identity.DateRange{}
	}
	if idx := strings.Index(s, "-"); idx >= 0 {
		return identity.DateRange{Start: s[:idx], End: s[idx+1:]}
	}
	return identity.DateRange{Start: s, End: s}
}
