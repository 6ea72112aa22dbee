package pacs

import (
	"time"

	"github.com/LadislavGaza/neurai-api/internal/models"
)

const (
	keyCreatedAt     = "created_at"
	keyCreatedAtDate = "created_at_date"
	keyCreatedAtTime = "created_at_time"
)

// mergeCreatedTimestamp combines created_at_date and created_at_time into
// created_at and drops both halves. A missing date defaults to today (from
// now, in UTC) and a missing time to midnight; when both are missing no
// created_at is set.
func mergeCreatedTimestamp(r Record, now time.Time) Record {
	date, hasDate := r.date(keyCreatedAtDate)
	tod, hasTime := r[keyCreatedAtTime].(TimeOfDay)

	if hasDate || hasTime {
		if !hasDate {
			y, m, d := now.UTC().Date()
			date = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		}
		r[keyCreatedAt] = tod.On(date)
	}

	delete(r, keyCreatedAtDate)
	delete(r, keyCreatedAtTime)
	return r
}

func createdAt(r Record) *time.Time {
	if t, ok := r[keyCreatedAt].(time.Time); ok {
		return &t
	}
	return nil
}

// patientFromRecord builds a Patient from a keyword-keyed record.
func patientFromRecord(r Record) models.Patient {
	renamed := patientFields.Rename(r)
	patient := models.Patient{
		ID:   renamed.str("id"),
		Name: renamed.str("name"),
	}
	if birth, ok := renamed.date("birth_date"); ok {
		formatted := birth.Format("02.01.2006")
		patient.BirthDate = &formatted
	}
	return patient
}

// studyFromRecord builds a Study (without series) from a keyword-keyed record.
func studyFromRecord(r Record, now time.Time) models.Study {
	renamed := mergeCreatedTimestamp(studyFields.Rename(r), now)
	return models.Study{
		StudyUID:  renamed.str("study_uid"),
		Name:      renamed.str("name"),
		CreatedAt: createdAt(renamed),
	}
}

// seriesFromRecord builds a Series from a keyword-keyed record.
func seriesFromRecord(r Record, now time.Time) models.Series {
	renamed := mergeCreatedTimestamp(seriesFields.Rename(r), now)
	return models.Series{
		SeriesUID:   renamed.str("series_uid"),
		Description: renamed.str("description"),
		Filename:    renamed.str("filename"),
		CreatedAt:   createdAt(renamed),
	}
}

// existingSeries indexes the caller's imported series by study UID.
func existingSeries(existing []models.ExistingStudy) map[string]map[string]bool {
	index := make(map[string]map[string]bool, len(existing))
	for _, study := range existing {
		set, ok := index[study.StudyUID]
		if !ok {
			set = make(map[string]bool, len(study.MRIFiles))
			index[study.StudyUID] = set
		}
		for _, s := range study.MRIFiles {
			set[s.SeriesUID] = true
		}
	}
	return index
}

// groupStudies groups flat series records by StudyInstanceUID in a single
// pass, keeping studies and their series in first-seen order. The study
// attributes come from the first record of each group.
func groupStudies(records []Record, existing []models.ExistingStudy, now time.Time) []models.Study {
	downloaded := existingSeries(existing)

	studies := make([]models.Study, 0)
	index := make(map[string]int)

	for _, r := range records {
		studyUID := r.str("StudyInstanceUID")

		i, ok := index[studyUID]
		if !ok {
			i = len(studies)
			index[studyUID] = i
			study := studyFromRecord(r, now)
			study.MRIFiles = make([]models.Series, 0)
			studies = append(studies, study)
		}

		series := seriesFromRecord(r, now)
		series.AlreadyDownloaded = downloaded[studyUID][series.SeriesUID]
		studies[i].MRIFiles = append(studies[i].MRIFiles, series)
	}

	return studies
}

// seriesMetadata builds the download result from one accumulated record.
func seriesMetadata(r Record, now time.Time) *models.SeriesMetadata {
	return &models.SeriesMetadata{
		Patient: patientFromRecord(r),
		Study:   studyFromRecord(r, now),
		Series:  seriesFromRecord(r, now),
	}
}
