package pacs

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/LadislavGaza/neurai-api/pkg/dimse"
)

// Record holds attribute values keyed either by DICOM keyword (as extracted)
// or by output key (after FieldDict.Rename). Values are string, time.Time
// (dates) or TimeOfDay (times).
type Record map[string]any

// Field maps a DICOM attribute keyword to an output key.
type Field struct {
	Keyword string
	Key     string
}

// FieldDict is an ordered keyword to output key mapping.
type FieldDict []Field

var (
	patientFields = FieldDict{
		{"PatientID", "id"},
		{"PatientName", "name"},
		{"PatientBirthDate", "birth_date"},
	}
	studyFields = FieldDict{
		{"StudyInstanceUID", "study_uid"},
		{"StudyDescription", "name"},
		{"StudyDate", "created_at_date"},
		{"StudyTime", "created_at_time"},
	}
	seriesFields = FieldDict{
		{"SeriesInstanceUID", "series_uid"},
		{"SeriesDescription", "description"},
		{"ProtocolName", "filename"},
		{"SeriesDate", "created_at_date"},
		{"SeriesTime", "created_at_time"},
	}
)

// keywordTags resolves the keywords this package queries and reads.
var keywordTags = map[string]tag.Tag{
	"PatientID":          tag.PatientID,
	"PatientName":        tag.PatientName,
	"PatientBirthDate":   tag.PatientBirthDate,
	"StudyInstanceUID":   tag.StudyInstanceUID,
	"StudyDescription":   tag.StudyDescription,
	"StudyDate":          tag.StudyDate,
	"StudyTime":          tag.StudyTime,
	"SeriesInstanceUID":  tag.SeriesInstanceUID,
	"SeriesDescription":  tag.SeriesDescription,
	"ProtocolName":       tag.ProtocolName,
	"SeriesDate":         tag.SeriesDate,
	"SeriesTime":         tag.SeriesTime,
	"QueryRetrieveLevel": tag.QueryRetrieveLevel,
	"Modality":           tag.Modality,
	"SOPClassUID":        tag.SOPClassUID,
	"SOPInstanceUID":     tag.SOPInstanceUID,
}

var (
	dateKeywords = []string{"PatientBirthDate", "StudyDate", "SeriesDate"}
	timeKeywords = []string{"StudyTime", "SeriesTime"}
)

// PatientFields returns the patient-level dictionary.
func PatientFields() FieldDict { return slices.Clone(patientFields) }

// StudyFields returns the study-level dictionary.
func StudyFields() FieldDict { return slices.Clone(studyFields) }

// SeriesFields returns the series-level dictionary.
func SeriesFields() FieldDict { return slices.Clone(seriesFields) }

// Keywords returns the DICOM keywords of d in order.
func (d FieldDict) Keywords() []string {
	keywords := make([]string, len(d))
	for i, f := range d {
		keywords[i] = f.Keyword
	}
	return keywords
}

// Rename projects a keyword-keyed record onto d: every keyword of d present
// in r is copied under its output key, everything else is dropped.
func (d FieldDict) Rename(r Record) Record {
	out := make(Record, len(d))
	for _, f := range d {
		if v, ok := r[f.Keyword]; ok {
			out[f.Key] = v
		}
	}
	return out
}

// metadataKeywords is the full patient, study and series keyword set.
func metadataKeywords() []string {
	keywords := patientFields.Keywords()
	keywords = append(keywords, studyFields.Keywords()...)
	return append(keywords, seriesFields.Keywords()...)
}

// TimeOfDay is a parsed DICOM TM value.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// On returns the instant of t on the calendar day of date, in date's location.
func (t TimeOfDay) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, t.Second, 0, date.Location())
}

// ParseAttribute converts a raw attribute value: date keywords parse
// YYYYMMDD to a time.Time at midnight UTC, time keywords parse HHMMSS (also
// HH or HHMM, fractional seconds ignored) to a TimeOfDay, and everything else
// is returned as a trimmed string.
func ParseAttribute(keyword, raw string) (any, error) {
	value := strings.TrimSpace(raw)

	switch {
	case slices.Contains(dateKeywords, keyword):
		// ACR-NEMA style dates carry dots.
		d, err := time.Parse("20060102", strings.ReplaceAll(value, ".", ""))
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", keyword, raw, err)
		}
		return d, nil

	case slices.Contains(timeKeywords, keyword):
		return parseTime(keyword, value)
	}

	return value, nil
}

func parseTime(keyword, value string) (TimeOfDay, error) {
	if i := strings.IndexByte(value, '.'); i >= 0 {
		value = value[:i]
	}
	value = strings.ReplaceAll(value, ":", "")

	var layout string
	switch len(value) {
	case 2:
		layout = "15"
	case 4:
		layout = "1504"
	case 6:
		layout = "150405"
	default:
		return TimeOfDay{}, fmt.Errorf("invalid %s %q", keyword, value)
	}

	t, err := time.Parse(layout, value)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid %s %q: %w", keyword, value, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
}

// ExtractRecord reads keywords from ds into a keyword-keyed record. Absent,
// empty and unparseable attributes are omitted.
func ExtractRecord(ds dicom.Dataset, keywords []string) Record {
	r := make(Record, len(keywords))
	for _, keyword := range keywords {
		t, ok := keywordTags[keyword]
		if !ok {
			continue
		}
		raw, ok := dimse.StringValue(ds, t)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		value, err := ParseAttribute(keyword, raw)
		if err != nil {
			continue
		}
		r[keyword] = value
	}
	return r
}

func (r Record) str(key string) string {
	s, _ := r[key].(string)
	return s
}

func (r Record) date(key string) (time.Time, bool) {
	d, ok := r[key].(time.Time)
	return d, ok
}
