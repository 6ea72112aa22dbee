package models

import "time"

// Filter represents PACS query parameters. Empty fields are not constrained.
type Filter struct {
	PatientID   string     `json:"patient_id,omitempty"`
	PatientName string     `json:"patient_name,omitempty"`
	BirthDate   *time.Time `json:"birth_date,omitempty"`
}

// Patient represents a patient found on the PACS
type Patient struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	// BirthDate is formatted DD.MM.YYYY, nil when the PACS has none.
	BirthDate *string `json:"birth_date"`
}

// Study represents a study (screening) with its MR series
type Study struct {
	StudyUID  string     `json:"study_uid,omitempty"`
	Name      string     `json:"name,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	MRIFiles  []Series   `json:"mri_files,omitempty"`
}

// Series represents one MR series of a study
type Series struct {
	SeriesUID         string     `json:"series_uid,omitempty"`
	Description       string     `json:"description,omitempty"`
	Filename          string     `json:"filename,omitempty"`
	CreatedAt         *time.Time `json:"created_at,omitempty"`
	AlreadyDownloaded bool       `json:"already_downloaded"`
}

// ExistingStudy is a study the application already imported.
type ExistingStudy struct {
	StudyUID string           `json:"study_uid"`
	MRIFiles []ExistingSeries `json:"mri_files"`
}

// ExistingSeries is a series the application already imported.
type ExistingSeries struct {
	SeriesUID string `json:"series_uid"`
}

// SeriesMetadata describes a downloaded series
type SeriesMetadata struct {
	Patient Patient `json:"patient"`
	Study   Study   `json:"study"`
	Series  Series  `json:"series"`
	// Files lists the Part-10 files written during the download.
	Files []string `json:"files"`

	Completed uint16 `json:"completed"`
	Failed    uint16 `json:"failed"`
	Warning   uint16 `json:"warning"`
}
