package pacs

import (
	"fmt"
	"slices"

	"github.com/suyashkumar/dicom"

	"github.com/LadislavGaza/neurai-api/internal/models"
)

// Query/Retrieve levels
const (
	LevelPatient = "PATIENT"
	LevelStudy   = "STUDY"
	LevelSeries  = "SERIES"
)

// wildcardName wraps a name for substring matching. Empty stays empty so the
// attribute remains an unconstrained return key.
func wildcardName(name string) string {
	if name == "" {
		return ""
	}
	return "*" + name + "*"
}

// filterValues maps a filter onto the keywords it constrains.
func filterValues(filter models.Filter) map[string]string {
	values := map[string]string{
		"PatientID":   filter.PatientID,
		"PatientName": wildcardName(filter.PatientName),
	}
	if filter.BirthDate != nil {
		values["PatientBirthDate"] = filter.BirthDate.Format("20060102")
	}
	return values
}

// buildIdentifier builds a query identifier at level requesting every
// keyword as a return key, constrained by values. Keywords missing from
// values are sent empty (universal match).
func buildIdentifier(level string, keywords []string, values map[string]string) (dicom.Dataset, error) {
	ds := dicom.Dataset{}

	add := func(keyword, value string) error {
		t, ok := keywordTags[keyword]
		if !ok {
			return fmt.Errorf("unknown keyword %q", keyword)
		}
		elem, err := dicom.NewElement(t, []string{value})
		if err != nil {
			return fmt.Errorf("failed to build %s: %w", keyword, err)
		}
		ds.Elements = append(ds.Elements, elem)
		return nil
	}

	if err := add("QueryRetrieveLevel", level); err != nil {
		return dicom.Dataset{}, err
	}
	for _, keyword := range keywords {
		if err := add(keyword, values[keyword]); err != nil {
			return dicom.Dataset{}, err
		}
	}
	// Constraints on keywords outside the return key set, e.g. Modality.
	for keyword, value := range values {
		if slices.Contains(keywords, keyword) {
			continue
		}
		if err := add(keyword, value); err != nil {
			return dicom.Dataset{}, err
		}
	}
	return ds, nil
}

// patientIdentifier queries patient-level keys only.
func patientIdentifier(filter models.Filter) (dicom.Dataset, error) {
	return buildIdentifier(LevelStudy, patientFields.Keywords(), filterValues(filter))
}

// seriesIdentifier queries the full field set of MR series.
func seriesIdentifier(filter models.Filter) (dicom.Dataset, error) {
	values := filterValues(filter)
	values["Modality"] = "MR"
	return buildIdentifier(LevelSeries, metadataKeywords(), values)
}

// retrieveIdentifier selects one series with the full field set.
func retrieveIdentifier(seriesUID string) (dicom.Dataset, error) {
	return buildIdentifier(LevelSeries, metadataKeywords(), map[string]string{
		"SeriesInstanceUID": seriesUID,
	})
}
