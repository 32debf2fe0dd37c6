package dicomweb

import (
	"github.com/otcheredev/dicomweb-server/internal/dicomjson"
	"github.com/otcheredev/dicomweb-server/internal/storage"
)

// studyObject projects a StudyRecord into the minimum DICOM+JSON fields
// spec.md §4.9 names for study-level search results.
func studyObject(rec storage.StudyRecord) dicomjson.Object {
	b := dicomjson.NewBuilder().
		SetString("0020000D", "UI", string(rec.StudyInstanceUID)).
		SetPersonName("00100010", rec.PatientName).
		SetString("00100020", "LO", rec.PatientID).
		SetString("00100030", "DA", rec.PatientBirthDate).
		SetString("00100040", "CS", rec.PatientSex).
		SetString("00080020", "DA", rec.StudyDate).
		SetString("00080030", "TM", rec.StudyTime).
		SetString("00081030", "LO", rec.StudyDescription).
		SetString("00080050", "SH", rec.AccessionNumber).
		SetString("00200010", "SH", rec.StudyID).
		SetPersonName("00080090", rec.ReferringPhysician).
		SetStrings("00080061", "CS", rec.ModalitiesInStudy).
		SetStrings("00080062", "UI", rec.SOPClassesInStudy).
		SetInt("00201206", "IS", rec.SeriesCount).
		SetInt("00201208", "IS", rec.InstanceCount)
	return b.Build()
}

// seriesObject projects a SeriesRecord into its DICOM+JSON fields.
func seriesObject(rec storage.SeriesRecord) dicomjson.Object {
	b := dicomjson.NewBuilder().
		SetString("0020000E", "UI", string(rec.SeriesInstanceUID)).
		SetString("00080060", "CS", rec.Modality).
		SetInt("00200011", "IS", rec.SeriesNumber).
		SetString("0008103E", "LO", rec.SeriesDescription).
		SetString("00180015", "CS", rec.BodyPartExamined).
		SetString("00080021", "DA", rec.SeriesDate).
		SetString("00080031", "TM", rec.SeriesTime).
		SetPersonName("00081050", rec.PerformingPhysicianName).
		SetInt("00201209", "IS", rec.InstanceCount)
	return b.Build()
}

// instanceObject projects an InstanceInfo into its DICOM+JSON fields, used
// for instance-level search results (full metadata retrieve uses
// dicomjson.FromAttributes on the stored attribute set instead).
func instanceObject(info storage.InstanceInfo) dicomjson.Object {
	b := dicomjson.NewBuilder().
		SetString("00080018", "UI", string(info.SOPInstanceUID)).
		SetString("00080016", "UI", info.SOPClassUID).
		SetInt("00200013", "IS", info.InstanceNumber)
	return b.Build()
}
