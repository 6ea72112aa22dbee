package dimse

import "slices"

// ApplicationContextUID is the DICOM application context name.
const ApplicationContextUID = "1.2.840.10008.3.1.1.1"

// Implementation identity sent in the user information item.
const (
	ImplementationClassUID    = "1.2.826.0.1.3680043.9.7433.1.1"
	ImplementationVersionName = "NEURAI_PACS_1"
)

// Transfer syntaxes
const (
	ImplicitVRLittleEndian         = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian         = "1.2.840.10008.1.2.1"
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
	ExplicitVRBigEndian            = "1.2.840.10008.1.2.2"
)

// Verification and Query/Retrieve SOP classes
const (
	VerificationSOPClass = "1.2.840.10008.1.1"

	PatientRootQueryRetrieveFind = "1.2.840.10008.5.1.4.1.2.1.1"
	PatientRootQueryRetrieveMove = "1.2.840.10008.5.1.4.1.2.1.2"
	PatientRootQueryRetrieveGet  = "1.2.840.10008.5.1.4.1.2.1.3"

	StudyRootQueryRetrieveFind = "1.2.840.10008.5.1.4.1.2.2.1"
	StudyRootQueryRetrieveMove = "1.2.840.10008.5.1.4.1.2.2.2"
	StudyRootQueryRetrieveGet  = "1.2.840.10008.5.1.4.1.2.2.3"
)

// Storage SOP classes referenced by name elsewhere in the module.
const (
	ComputedRadiographyImageStorage = "1.2.840.10008.5.1.4.1.1.1"
	CTImageStorage                  = "1.2.840.10008.5.1.4.1.1.2"
	EnhancedCTImageStorage          = "1.2.840.10008.5.1.4.1.1.2.1"
	MRImageStorage                  = "1.2.840.10008.5.1.4.1.1.4"
	EnhancedMRImageStorage          = "1.2.840.10008.5.1.4.1.1.4.1"
	UltrasoundImageStorage          = "1.2.840.10008.5.1.4.1.1.6.1"
	EnhancedUSVolumeStorage         = "1.2.840.10008.5.1.4.1.1.6.2"
	SecondaryCaptureImageStorage    = "1.2.840.10008.5.1.4.1.1.7"
	XRayAngiographicImageStorage    = "1.2.840.10008.5.1.4.1.1.12.1"
	EnhancedXAImageStorage          = "1.2.840.10008.5.1.4.1.1.12.1.1"
	NuclearMedicineImageStorage     = "1.2.840.10008.5.1.4.1.1.20"
	PETImageStorage                 = "1.2.840.10008.5.1.4.1.1.128"
	EnhancedPETImageStorage         = "1.2.840.10008.5.1.4.1.1.130"
	RTImageStorage                  = "1.2.840.10008.5.1.4.1.1.481.1"
	RTDoseStorage                   = "1.2.840.10008.5.1.4.1.1.481.2"
	RTStructureSetStorage           = "1.2.840.10008.5.1.4.1.1.481.3"
	RTPlanStorage                   = "1.2.840.10008.5.1.4.1.1.481.5"

	EncapsulatedPDFStorage = "1.2.840.10008.5.1.4.1.1.104.1"
	EncapsulatedCDAStorage = "1.2.840.10008.5.1.4.1.1.104.2"
	EncapsulatedSTLStorage = "1.2.840.10008.5.1.4.1.1.104.3"
	EncapsulatedOBJStorage = "1.2.840.10008.5.1.4.1.1.104.4"
	EncapsulatedMTLStorage = "1.2.840.10008.5.1.4.1.1.104.5"
)

// storageSOPClasses is the standard list of storage abstract syntaxes offered
// when acting as a Storage SCP. The list is kept below the 128 presentation
// context limit so that retrieve contexts still fit in the same association.
var storageSOPClasses = []string{
	ComputedRadiographyImageStorage,
	"1.2.840.10008.5.1.4.1.1.1.1",   // Digital X-Ray For Presentation
	"1.2.840.10008.5.1.4.1.1.1.1.1", // Digital X-Ray For Processing
	"1.2.840.10008.5.1.4.1.1.1.2",   // Digital Mammography For Presentation
	"1.2.840.10008.5.1.4.1.1.1.2.1", // Digital Mammography For Processing
	"1.2.840.10008.5.1.4.1.1.1.3",   // Digital Intra-Oral For Presentation
	"1.2.840.10008.5.1.4.1.1.1.3.1", // Digital Intra-Oral For Processing
	CTImageStorage,
	EnhancedCTImageStorage,
	"1.2.840.10008.5.1.4.1.1.2.2", // Legacy Converted Enhanced CT
	"1.2.840.10008.5.1.4.1.1.3.1", // Ultrasound Multi-frame
	MRImageStorage,
	EnhancedMRImageStorage,
	"1.2.840.10008.5.1.4.1.1.4.2", // MR Spectroscopy
	"1.2.840.10008.5.1.4.1.1.4.3", // Enhanced MR Color
	"1.2.840.10008.5.1.4.1.1.4.4", // Legacy Converted Enhanced MR
	UltrasoundImageStorage,
	EnhancedUSVolumeStorage,
	SecondaryCaptureImageStorage,
	"1.2.840.10008.5.1.4.1.1.7.1", // Multi-frame Grayscale Byte SC
	"1.2.840.10008.5.1.4.1.1.7.2", // Multi-frame Grayscale Word SC
	"1.2.840.10008.5.1.4.1.1.7.3", // Multi-frame True Color SC
	"1.2.840.10008.5.1.4.1.1.7.4", // Multi-frame Single Bit SC
	"1.2.840.10008.5.1.4.1.1.9.1.1", // 12-lead ECG Waveform
	"1.2.840.10008.5.1.4.1.1.11.1",  // Grayscale Softcopy Presentation State
	"1.2.840.10008.5.1.4.1.1.11.2",  // Color Softcopy Presentation State
	XRayAngiographicImageStorage,
	EnhancedXAImageStorage,
	"1.2.840.10008.5.1.4.1.1.12.2",   // X-Ray Radiofluoroscopic
	"1.2.840.10008.5.1.4.1.1.12.2.1", // Enhanced XRF
	"1.2.840.10008.5.1.4.1.1.13.1.1", // X-Ray 3D Angiographic
	"1.2.840.10008.5.1.4.1.1.13.1.2", // X-Ray 3D Craniofacial
	"1.2.840.10008.5.1.4.1.1.13.1.3", // Breast Tomosynthesis
	"1.2.840.10008.5.1.4.1.1.14.1",   // IVOCT For Presentation
	"1.2.840.10008.5.1.4.1.1.14.2",   // IVOCT For Processing
	NuclearMedicineImageStorage,
	"1.2.840.10008.5.1.4.1.1.30",      // Parametric Map
	"1.2.840.10008.5.1.4.1.1.66",      // Raw Data
	"1.2.840.10008.5.1.4.1.1.66.1",    // Spatial Registration
	"1.2.840.10008.5.1.4.1.1.66.2",    // Spatial Fiducials
	"1.2.840.10008.5.1.4.1.1.66.3",    // Deformable Spatial Registration
	"1.2.840.10008.5.1.4.1.1.66.4",    // Segmentation
	"1.2.840.10008.5.1.4.1.1.66.5",    // Surface Segmentation
	"1.2.840.10008.5.1.4.1.1.67",      // Real World Value Mapping
	"1.2.840.10008.5.1.4.1.1.77.1.1",  // VL Endoscopic
	"1.2.840.10008.5.1.4.1.1.77.1.2",  // VL Microscopic
	"1.2.840.10008.5.1.4.1.1.77.1.4",  // VL Photographic
	"1.2.840.10008.5.1.4.1.1.77.1.6",  // VL Whole Slide Microscopy
	"1.2.840.10008.5.1.4.1.1.77.1.5.1", // Ophthalmic Photography 8 Bit
	"1.2.840.10008.5.1.4.1.1.77.1.5.2", // Ophthalmic Photography 16 Bit
	"1.2.840.10008.5.1.4.1.1.77.1.5.4", // Ophthalmic Tomography
	"1.2.840.10008.5.1.4.1.1.88.11",    // Basic Text SR
	"1.2.840.10008.5.1.4.1.1.88.22",    // Enhanced SR
	"1.2.840.10008.5.1.4.1.1.88.33",    // Comprehensive SR
	"1.2.840.10008.5.1.4.1.1.88.34",    // Comprehensive 3D SR
	"1.2.840.10008.5.1.4.1.1.88.59",    // Key Object Selection
	"1.2.840.10008.5.1.4.1.1.88.67",    // X-Ray Radiation Dose SR
	EncapsulatedPDFStorage,
	EncapsulatedCDAStorage,
	EncapsulatedSTLStorage,
	EncapsulatedOBJStorage,
	EncapsulatedMTLStorage,
	PETImageStorage,
	"1.2.840.10008.5.1.4.1.1.128.1", // Legacy Converted Enhanced PET
	EnhancedPETImageStorage,
	RTImageStorage,
	RTDoseStorage,
	RTStructureSetStorage,
	"1.2.840.10008.5.1.4.1.1.481.4", // RT Beams Treatment Record
	RTPlanStorage,
	"1.2.840.10008.5.1.4.1.1.481.6", // RT Brachy Treatment Record
	"1.2.840.10008.5.1.4.1.1.481.7", // RT Treatment Summary Record
	"1.2.840.10008.5.1.4.1.1.481.8", // RT Ion Plan
	"1.2.840.10008.5.1.4.1.1.481.9", // RT Ion Beams Treatment Record
}

// StorageSOPClasses returns a copy of the standard storage abstract syntaxes.
func StorageSOPClasses() []string {
	return slices.Clone(storageSOPClasses)
}

// DefaultTransferSyntaxes are proposed for every context unless the caller
// asks for a narrower set.
func DefaultTransferSyntaxes() []string {
	return []string{
		ImplicitVRLittleEndian,
		ExplicitVRLittleEndian,
		DeflatedExplicitVRLittleEndian,
		ExplicitVRBigEndian,
	}
}

// QueryTransferSyntaxes are proposed for C-FIND and C-GET request contexts.
func QueryTransferSyntaxes() []string {
	return []string{
		ExplicitVRLittleEndian,
		ImplicitVRLittleEndian,
	}
}
