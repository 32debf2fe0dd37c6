// Package storage defines the pluggable Storage Provider contract
// (spec.md §4.1): the abstract backend that indexes and serves DICOM SOP
// instances, independent of any concrete backend implementation.
package storage

import (
	"context"

	"github.com/otcheredev/dicomweb-server/internal/identity"
)

// InstanceInfo is the derived header carried alongside a stored Instance
// (spec.md §3).
type InstanceInfo struct {
	StudyInstanceUID  identity.StudyKey
	SeriesInstanceUID identity.SeriesKey
	SOPInstanceUID    identity.InstanceKey
	SOPClassUID       string
	TransferSyntaxUID string
	SizeBytes         int64
	InstanceNumber    int
}

// SeriesRecord is the aggregate derived from a series' instances.
type SeriesRecord struct {
	SeriesInstanceUID       identity.SeriesKey
	Modality                string
	SeriesNumber            int
	SeriesDescription       string
	BodyPartExamined        string
	SeriesDate              string
	SeriesTime              string
	PerformingPhysicianName string
	InstanceCount           int
}

// StudyRecord is the aggregate derived from a study's series.
type StudyRecord struct {
	StudyInstanceUID   identity.StudyKey
	PatientName        string
	PatientID          string
	PatientBirthDate   string
	PatientSex         string
	StudyDate          string
	StudyTime          string
	AccessionNumber    string
	StudyDescription   string
	ReferringPhysician string
	StudyID            string
	ModalitiesInStudy  []string
	SOPClassesInStudy  []string
	SeriesCount        int
	InstanceCount      int
}

// AttributeSet maps a DICOM tag (8-hex-digit "GGGGEEEE") to its raw value
// and VR, as extracted by internal/dicomcodec. It is the input to
// internal/dicomjson's projector.
type AttributeSet map[string]Attribute

// Attribute is one element of an AttributeSet.
type Attribute struct {
	VR    string
	Value []any // strings, numbers, or (for SQ) nested AttributeSet values
}

// Provider is the capability set a storage backend must implement. Every
// operation may fail with a *Failure and is otherwise total. Design Notes §9
// ("Dynamic dispatch over storage backends"): the server depends only on this
// interface, never on a concrete backend type.
type Provider interface {
	GetInstance(ctx context.Context, study identity.StudyKey, series identity.SeriesKey, instance identity.InstanceKey) ([]byte, bool, error)
	GetSeriesInstances(ctx context.Context, study identity.StudyKey, series identity.SeriesKey) ([]InstanceInfo, error)
	GetStudyInstances(ctx context.Context, study identity.StudyKey) ([]InstanceInfo, error)

	StoreInstance(ctx context.Context, data []byte, study identity.StudyKey, series identity.SeriesKey, instance identity.InstanceKey) error

	DeleteInstance(ctx context.Context, study identity.StudyKey, series identity.SeriesKey, instance identity.InstanceKey, mode identity.DeleteMode) (existed bool, err error)
	DeleteSeries(ctx context.Context, study identity.StudyKey, series identity.SeriesKey, mode identity.DeleteMode) (affected int, err error)
	DeleteStudy(ctx context.Context, study identity.StudyKey, mode identity.DeleteMode) (affected int, err error)

	SearchStudies(ctx context.Context, q identity.Query) ([]StudyRecord, int, error)
	SearchSeries(ctx context.Context, study identity.StudyKey, q identity.Query) ([]SeriesRecord, int, error)
	SearchInstances(ctx context.Context, study identity.StudyKey, series identity.SeriesKey, q identity.Query) ([]InstanceInfo, int, error)

	GetInstanceMetadata(ctx context.Context, study identity.StudyKey, series identity.SeriesKey, instance identity.InstanceKey) (AttributeSet, bool, error)
	GetSeriesMetadata(ctx context.Context, study identity.StudyKey, series identity.SeriesKey) ([]AttributeSet, error)
	GetStudyMetadata(ctx context.Context, study identity.StudyKey) ([]AttributeSet, error)

	CountStudies(ctx context.Context, q identity.Query) (int, error)
	CountSeries(ctx context.Context, study identity.StudyKey) (int, error)
	CountInstances(ctx context.Context, study identity.StudyKey, series identity.SeriesKey) (int, error)
}
