package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/LadislavGaza/neurai-api/internal/models"
)

func TestFilterJSONOmitsUnsetBirthDate(t *testing.T) {
	data, err := json.Marshal(models.Filter{PatientID: "P001"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if got := string(data); got != `{"patient_id":"P001"}` {
		t.Errorf("Unexpected filter JSON: %s", got)
	}

	birth := time.Date(1980, 1, 15, 0, 0, 0, 0, time.UTC)
	data, err = json.Marshal(models.Filter{PatientID: "P001", BirthDate: &birth})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if got := string(data); got != `{"patient_id":"P001","birth_date":"1980-01-15T00:00:00Z"}` {
		t.Errorf("Unexpected filter JSON: %s", got)
	}
}
