// Package memory implements internal/storage.Provider entirely in-process,
// grounded on the teacher's internal/adapters.dicomwebAdapter single-owner
// mutex discipline: every mutation runs under one lock, taken only after any
// I/O-free decoding work (spec.md §5 "the owning goroutine never blocks
// holding the lock" — here that means dicomcodec.Parse runs before Lock).
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/otcheredev/dicomweb-server/internal/dicomcodec"
	"github.com/otcheredev/dicomweb-server/internal/identity"
	"github.com/otcheredev/dicomweb-server/internal/storage"
)

// instance is one stored SOP instance plus its raw bytes and full attribute
// set, keyed by identity.Triple.
type instance struct {
	info    storage.InstanceInfo
	attrs   storage.AttributeSet
	data    []byte
	deleted bool
}

// series aggregates instances sharing a SeriesInstanceUID.
type series struct {
	uid       identity.SeriesKey
	modality  string
	number    int
	desc      string
	bodyPart  string
	date      string
	time      string
	physician string
	instances map[identity.InstanceKey]*instance
	deleted   bool
}

// study aggregates series sharing a StudyInstanceUID.
type study struct {
	uid                identity.StudyKey
	patientName        string
	patientID          string
	patientBirthDate   string
	patientSex         string
	studyDate          string
	studyTime          string
	accessionNumber    string
	studyDescription   string
	referringPhysician string
	studyID            string
	series             map[identity.SeriesKey]*series
	deleted            bool
}

// Backend is the single-owner, mutex-guarded in-memory Provider. It is the
// reference storage backend spec.md §4.3 requires exist by default.
type Backend struct {
	mu      sync.Mutex
	studies map[identity.StudyKey]*study
}

// New returns an empty Backend, suitable for registration under
// internal/storage.Registry as the default "memory" backend.
func New() *Backend {
	return &Backend{studies: make(map[identity.StudyKey]*study)}
}

// Factory adapts New to internal/storage.Factory's signature.
func Factory() (storage.Provider, error) {
	return New(), nil
}

func (b *Backend) GetInstance(_ context.Context, studyUID identity.StudyKey, seriesUID identity.SeriesKey, instUID identity.InstanceKey) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	inst, ok := b.lookup(studyUID, seriesUID, instUID)
	if !ok || inst.deleted {
		return nil, false, nil
	}
	out := make([]byte, len(inst.data))
	copy(out, inst.data)
	return out, true, nil
}

func (b *Backend) GetSeriesInstances(_ context.Context, studyUID identity.StudyKey, seriesUID identity.SeriesKey) ([]storage.InstanceInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	se, ok := b.lookupSeries(studyUID, seriesUID)
	if !ok || se.deleted {
		return nil, nil
	}
	return instanceInfos(se), nil
}

func (b *Backend) GetStudyInstances(_ context.Context, studyUID identity.StudyKey) ([]storage.InstanceInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.studies[studyUID]
	if !ok || st.deleted {
		return nil, nil
	}
	var out []storage.InstanceInfo
	for _, se := range sortedSeries(st) {
		if se.deleted {
			continue
		}
		out = append(out, instanceInfos(se)...)
	}
	return out, nil
}

// StoreInstance decodes data outside the lock (spec.md §5) then performs the
// single mutating insert/merge under the lock. A re-stored instance
// (matching triple) overwrites in place, satisfying spec.md §4.2's
// idempotent-STOW requirement.
func (b *Backend) StoreInstance(_ context.Context, data []byte, studyUID identity.StudyKey, seriesUID identity.SeriesKey, instUID identity.InstanceKey) error {
	// A parse failure (dicomcodec.ErrMalformed) leaves header zero and attrs
	// nil, so the instance is still stored, with its scalars absent.
	header, attrs, _ := dicomcodec.Parse(data)

	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.studies[studyUID]
	if !ok {
		st = &study{uid: studyUID, series: make(map[identity.SeriesKey]*series)}
		b.studies[studyUID] = st
	}
	st.deleted = false
	mergeStudyScalars(st, header)

	se, ok := st.series[seriesUID]
	if !ok {
		se = &series{uid: seriesUID, instances: make(map[identity.InstanceKey]*instance)}
		st.series[seriesUID] = se
	}
	se.deleted = false
	mergeSeriesScalars(se, header)

	se.instances[instUID] = &instance{
		info: storage.InstanceInfo{
			StudyInstanceUID:  studyUID,
			SeriesInstanceUID: seriesUID,
			SOPInstanceUID:    instUID,
			SOPClassUID:       header.SOPClassUID,
			TransferSyntaxUID: header.TransferSyntaxUID,
			SizeBytes:         int64(len(data)),
			InstanceNumber:    header.InstanceNumber,
		},
		attrs: attrs,
		data:  data,
	}
	return nil
}

func mergeStudyScalars(st *study, h dicomcodec.Header) {
	st.patientName = firstNonEmpty(st.patientName, h.PatientName)
	st.patientID = firstNonEmpty(st.patientID, h.PatientID)
	st.patientBirthDate = firstNonEmpty(st.patientBirthDate, h.PatientBirthDate)
	st.patientSex = firstNonEmpty(st.patientSex, h.PatientSex)
	st.studyDate = firstNonEmpty(st.studyDate, h.StudyDate)
	st.studyTime = firstNonEmpty(st.studyTime, h.StudyTime)
	st.accessionNumber = firstNonEmpty(st.accessionNumber, h.AccessionNumber)
	st.studyDescription = firstNonEmpty(st.studyDescription, h.StudyDescription)
	st.referringPhysician = firstNonEmpty(st.referringPhysician, h.ReferringPhysician)
	st.studyID = firstNonEmpty(st.studyID, h.StudyID)
}

func mergeSeriesScalars(se *series, h dicomcodec.Header) {
	se.modality = firstNonEmpty(se.modality, h.Modality)
	if se.number == 0 {
		se.number = h.SeriesNumber
	}
	se.desc = firstNonEmpty(se.desc, h.SeriesDescription)
	se.bodyPart = firstNonEmpty(se.bodyPart, h.BodyPartExamined)
	se.date = firstNonEmpty(se.date, h.SeriesDate)
	se.time = firstNonEmpty(se.time, h.SeriesTime)
	se.physician = firstNonEmpty(se.physician, h.PerformingPhysicianName)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// DeleteInstance marks or removes one instance. Soft delete retains the
// record so aggregates (and repeat DELETEs) stay consistent; permanent
// delete drops it outright (spec.md §4.1 DeleteMode).
func (b *Backend) DeleteInstance(_ context.Context, studyUID identity.StudyKey, seriesUID identity.SeriesKey, instUID identity.InstanceKey, mode identity.DeleteMode) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	se, ok := b.lookupSeries(studyUID, seriesUID)
	if !ok {
		return false, nil
	}
	inst, ok := se.instances[instUID]
	if !ok || inst.deleted {
		return false, nil
	}
	if mode == identity.DeletePermanent {
		delete(se.instances, instUID)
		b.collectEmpty(studyUID, seriesUID)
	} else {
		inst.deleted = true
	}
	return true, nil
}

// collectEmpty drops series/study from b.studies once they hold no
// instances/series, per spec.md §3 Invariant 1 — empty Series and Studies
// are collected immediately on delete, never surfaced by a later search.
// Callers must hold b.mu.
func (b *Backend) collectEmpty(studyUID identity.StudyKey, seriesUID identity.SeriesKey) {
	st, ok := b.studies[studyUID]
	if !ok {
		return
	}
	se, ok := st.series[seriesUID]
	if ok && len(se.instances) == 0 {
		delete(st.series, seriesUID)
	}
	if len(st.series) == 0 {
		delete(b.studies, studyUID)
	}
}

func (b *Backend) DeleteSeries(_ context.Context, studyUID identity.StudyKey, seriesUID identity.SeriesKey, mode identity.DeleteMode) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	se, ok := b.lookupSeries(studyUID, seriesUID)
	if !ok || se.deleted {
		return 0, nil
	}
	affected := 0
	for _, inst := range se.instances {
		if !inst.deleted {
			affected++
		}
	}
	if mode == identity.DeletePermanent {
		delete(b.studies[studyUID].series, seriesUID)
		if len(b.studies[studyUID].series) == 0 {
			delete(b.studies, studyUID)
		}
	} else {
		se.deleted = true
	}
	return affected, nil
}

func (b *Backend) DeleteStudy(_ context.Context, studyUID identity.StudyKey, mode identity.DeleteMode) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.studies[studyUID]
	if !ok || st.deleted {
		return 0, nil
	}
	affected := 0
	for _, se := range st.series {
		if se.deleted {
			continue
		}
		for _, inst := range se.instances {
			if !inst.deleted {
				affected++
			}
		}
	}
	if mode == identity.DeletePermanent {
		delete(b.studies, studyUID)
	} else {
		st.deleted = true
	}
	return affected, nil
}

func (b *Backend) SearchStudies(_ context.Context, q identity.Query) ([]storage.StudyRecord, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var matched []*study
	for _, st := range sortedStudies(b) {
		if st.deleted {
			continue
		}
		if !matchStudy(st, q) {
			continue
		}
		matched = append(matched, st)
	}
	total := len(matched)
	page := paginate(matched, q.Offset, q.Limit)

	out := make([]storage.StudyRecord, 0, len(page))
	for _, st := range page {
		out = append(out, studyRecord(st))
	}
	return out, total, nil
}

func (b *Backend) SearchSeries(_ context.Context, studyUID identity.StudyKey, q identity.Query) ([]storage.SeriesRecord, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.studies[studyUID]
	if !ok || st.deleted {
		return nil, 0, nil
	}
	var matched []*series
	for _, se := range sortedSeries(st) {
		if se.deleted {
			continue
		}
		if !matchSeries(se, q) {
			continue
		}
		matched = append(matched, se)
	}
	total := len(matched)
	page := paginate(matched, q.Offset, q.Limit)

	out := make([]storage.SeriesRecord, 0, len(page))
	for _, se := range page {
		out = append(out, seriesRecord(se))
	}
	return out, total, nil
}

func (b *Backend) SearchInstances(_ context.Context, studyUID identity.StudyKey, seriesUID identity.SeriesKey, q identity.Query) ([]storage.InstanceInfo, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	se, ok := b.lookupSeries(studyUID, seriesUID)
	if !ok || se.deleted {
		return nil, 0, nil
	}
	var matched []*instance
	for _, inst := range se.instances {
		if inst.deleted {
			continue
		}
		if q.SOPInstanceUID != "" && string(inst.info.SOPInstanceUID) != q.SOPInstanceUID {
			continue
		}
		if q.InstanceNumber != nil && inst.info.InstanceNumber != *q.InstanceNumber {
			continue
		}
		matched = append(matched, inst)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].info.SOPInstanceUID < matched[j].info.SOPInstanceUID })
	total := len(matched)
	page := paginate(matched, q.Offset, q.Limit)

	out := make([]storage.InstanceInfo, 0, len(page))
	for _, inst := range page {
		out = append(out, inst.info)
	}
	return out, total, nil
}

func (b *Backend) GetInstanceMetadata(_ context.Context, studyUID identity.StudyKey, seriesUID identity.SeriesKey, instUID identity.InstanceKey) (storage.AttributeSet, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	inst, ok := b.lookup(studyUID, seriesUID, instUID)
	if !ok || inst.deleted {
		return nil, false, nil
	}
	return inst.attrs, true, nil
}

func (b *Backend) GetSeriesMetadata(_ context.Context, studyUID identity.StudyKey, seriesUID identity.SeriesKey) ([]storage.AttributeSet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	se, ok := b.lookupSeries(studyUID, seriesUID)
	if !ok || se.deleted {
		return nil, nil
	}
	var out []storage.AttributeSet
	for _, inst := range sortedInstances(se) {
		if inst.deleted {
			continue
		}
		out = append(out, inst.attrs)
	}
	return out, nil
}

func (b *Backend) GetStudyMetadata(_ context.Context, studyUID identity.StudyKey) ([]storage.AttributeSet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.studies[studyUID]
	if !ok || st.deleted {
		return nil, nil
	}
	var out []storage.AttributeSet
	for _, se := range sortedSeries(st) {
		if se.deleted {
			continue
		}
		for _, inst := range sortedInstances(se) {
			if inst.deleted {
				continue
			}
			out = append(out, inst.attrs)
		}
	}
	return out, nil
}

func (b *Backend) CountStudies(ctx context.Context, q identity.Query) (int, error) {
	_, total, err := b.SearchStudies(ctx, identity.Query{Offset: 0, Limit: 0, PatientName: q.PatientName, PatientID: q.PatientID,
		StudyDate: q.StudyDate, AccessionNumber: q.AccessionNumber, ModalitiesInStudy: q.ModalitiesInStudy,
		StudyInstanceUID: q.StudyInstanceUID, StudyDescription: q.StudyDescription,
		ReferringPhysicianName: q.ReferringPhysicianName, FuzzyMatching: q.FuzzyMatching})
	return total, err
}

func (b *Backend) CountSeries(_ context.Context, studyUID identity.StudyKey) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.studies[studyUID]
	if !ok || st.deleted {
		return 0, nil
	}
	n := 0
	for _, se := range st.series {
		if !se.deleted {
			n++
		}
	}
	return n, nil
}

func (b *Backend) CountInstances(_ context.Context, studyUID identity.StudyKey, seriesUID identity.SeriesKey) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	se, ok := b.lookupSeries(studyUID, seriesUID)
	if !ok || se.deleted {
		return 0, nil
	}
	n := 0
	for _, inst := range se.instances {
		if !inst.deleted {
			n++
		}
	}
	return n, nil
}

// -- lookups & ordering ------------------------------------------------

func (b *Backend) lookupSeries(studyUID identity.StudyKey, seriesUID identity.SeriesKey) (*series, bool) {
	st, ok := b.studies[studyUID]
	if !ok {
		return nil, false
	}
	se, ok := st.series[seriesUID]
	return se, ok
}

func (b *Backend) lookup(studyUID identity.StudyKey, seriesUID identity.SeriesKey, instUID identity.InstanceKey) (*instance, bool) {
	se, ok := b.lookupSeries(studyUID, seriesUID)
	if !ok {
		return nil, false
	}
	inst, ok := se.instances[instUID]
	return inst, ok
}

func sortedStudies(b *Backend) []*study {
	out := make([]*study, 0, len(b.studies))
	for _, st := range b.studies {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].uid < out[j].uid })
	return out
}

func sortedSeries(st *study) []*series {
	out := make([]*series, 0, len(st.series))
	for _, se := range st.series {
		out = append(out, se)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].uid < out[j].uid })
	return out
}

func sortedInstances(se *series) []*instance {
	out := make([]*instance, 0, len(se.instances))
	for _, inst := range se.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].info.SOPInstanceUID < out[j].info.SOPInstanceUID })
	return out
}

func instanceInfos(se *series) []storage.InstanceInfo {
	var out []storage.InstanceInfo
	for _, inst := range sortedInstances(se) {
		if inst.deleted {
			continue
		}
		out = append(out, inst.info)
	}
	return out
}

// -- matching ------------------------------------------------------------

func matchStudy(st *study, q identity.Query) bool {
	if q.StudyInstanceUID != "" && !identity.MatchExact(q.StudyInstanceUID, string(st.uid)) {
		return false
	}
	if q.PatientName != "" && !identity.MatchWildcard(q.PatientName, st.patientName, q.FuzzyMatching) {
		return false
	}
	if q.PatientID != "" && !identity.MatchWildcard(q.PatientID, st.patientID, q.FuzzyMatching) {
		return false
	}
	if q.AccessionNumber != "" && !identity.MatchExact(q.AccessionNumber, st.accessionNumber) {
		return false
	}
	if !q.StudyDate.IsZero() && !q.StudyDate.Contains(st.studyDate) {
		return false
	}
	if !q.StudyTime.IsZero() && !q.StudyTime.Contains(st.studyTime) {
		return false
	}
	if q.StudyDescription != "" && !identity.MatchWildcard(q.StudyDescription, st.studyDescription, q.FuzzyMatching) {
		return false
	}
	if q.ReferringPhysicianName != "" && !identity.MatchWildcard(q.ReferringPhysicianName, st.referringPhysician, q.FuzzyMatching) {
		return false
	}
	if len(q.ModalitiesInStudy) > 0 && !identity.MatchSet(q.ModalitiesInStudy, modalitiesInStudy(st)) {
		return false
	}
	if q.Modality != "" && !identity.MatchSet([]string{q.Modality}, modalitiesInStudy(st)) {
		return false
	}
	return true
}

func matchSeries(se *series, q identity.Query) bool {
	if q.SeriesInstanceUID != "" && !identity.MatchExact(q.SeriesInstanceUID, string(se.uid)) {
		return false
	}
	if q.Modality != "" && !identity.MatchExact(q.Modality, se.modality) {
		return false
	}
	if q.SeriesNumber != nil && se.number != *q.SeriesNumber {
		return false
	}
	if q.SeriesDescription != "" && !identity.MatchWildcard(q.SeriesDescription, se.desc, q.FuzzyMatching) {
		return false
	}
	return true
}

func modalitiesInStudy(st *study) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, se := range st.series {
		if se.deleted || se.modality == "" {
			continue
		}
		if _, ok := seen[se.modality]; ok {
			continue
		}
		seen[se.modality] = struct{}{}
		out = append(out, se.modality)
	}
	return out
}

func sopClassesInStudy(st *study) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, se := range st.series {
		if se.deleted {
			continue
		}
		for _, inst := range se.instances {
			if inst.deleted || inst.info.SOPClassUID == "" {
				continue
			}
			if _, ok := seen[inst.info.SOPClassUID]; ok {
				continue
			}
			seen[inst.info.SOPClassUID] = struct{}{}
			out = append(out, inst.info.SOPClassUID)
		}
	}
	return out
}

func studyRecord(st *study) storage.StudyRecord {
	seriesCount, instanceCount := 0, 0
	for _, se := range st.series {
		if se.deleted {
			continue
		}
		seriesCount++
		for _, inst := range se.instances {
			if !inst.deleted {
				instanceCount++
			}
		}
	}
	return storage.StudyRecord{
		StudyInstanceUID:   st.uid,
		PatientName:        st.patientName,
		PatientID:          st.patientID,
		PatientBirthDate:   st.patientBirthDate,
		PatientSex:         st.patientSex,
		StudyDate:          st.studyDate,
		StudyTime:          st.studyTime,
		AccessionNumber:    st.accessionNumber,
		StudyDescription:   st.studyDescription,
		ReferringPhysician: st.referringPhysician,
		StudyID:            st.studyID,
		ModalitiesInStudy:  modalitiesInStudy(st),
		SOPClassesInStudy:  sopClassesInStudy(st),
		SeriesCount:        seriesCount,
		InstanceCount:      instanceCount,
	}
}

func seriesRecord(se *series) storage.SeriesRecord {
	n := 0
	for _, inst := range se.instances {
		if !inst.deleted {
			n++
		}
	}
	return storage.SeriesRecord{
		SeriesInstanceUID:       se.uid,
		Modality:                se.modality,
		SeriesNumber:            se.number,
		SeriesDescription:       se.desc,
		BodyPartExamined:        se.bodyPart,
		SeriesDate:              se.date,
		SeriesTime:              se.time,
		PerformingPhysicianName: se.physician,
		InstanceCount:           n,
	}
}

// paginate applies Query.Offset/Limit semantics: Limit <= 0 means "no cap".
func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
