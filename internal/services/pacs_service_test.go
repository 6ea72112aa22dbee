package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LadislavGaza/neurai-api/internal/cache"
	"github.com/LadislavGaza/neurai-api/internal/models"
)

type fakeClient struct {
	patients    []models.Patient
	studies     []models.Study
	download    *models.SeriesMetadata
	err         error
	patientCall int
	studyCall   int
}

func (f *fakeClient) SearchPatients(ctx context.Context, filter models.Filter) ([]models.Patient, error) {
	f.patientCall++
	if f.err != nil {
		return make([]models.Patient, 0), f.err
	}
	return f.patients, nil
}

func (f *fakeClient) SearchStudiesByPatient(ctx context.Context, filter models.Filter, existing []models.ExistingStudy) ([]models.Study, error) {
	f.studyCall++
	if f.err != nil {
		return make([]models.Study, 0), f.err
	}
	return f.studies, nil
}

func (f *fakeClient) Download(ctx context.Context, seriesUID, outputDir string) (*models.SeriesMetadata, error) {
	return f.download, f.err
}

func (f *fakeClient) Verify(ctx context.Context) error { return f.err }

func (f *fakeClient) Node() models.PACSNode {
	return models.PACSNode{Host: "pacs.test", Port: 104, AETitle: "PACS"}
}

func newTestService(t *testing.T, client PACSClient) (*PACSService, *cache.MemoryCache) {
	t.Helper()
	mc := cache.NewMemoryCache(time.Hour)
	t.Cleanup(func() { _ = mc.Close() })
	return NewPACSService(client, mc, time.Hour), mc
}

func TestSearchPatientsCached(t *testing.T) {
	client := &fakeClient{patients: []models.Patient{{ID: "P001", Name: "Novak^Jozef"}}}
	svc, _ := newTestService(t, client)
	ctx := context.Background()
	filter := models.Filter{PatientName: "Jozef"}

	for range 3 {
		patients, err := svc.SearchPatients(ctx, filter)
		if err != nil {
			t.Fatalf("SearchPatients failed: %v", err)
		}
		if len(patients) != 1 || patients[0].ID != "P001" {
			t.Fatalf("Unexpected patients: %+v", patients)
		}
	}
	if client.patientCall != 1 {
		t.Errorf("Expected 1 PACS query, got %d", client.patientCall)
	}

	if _, err := svc.SearchPatients(ctx, models.Filter{PatientName: "Other"}); err != nil {
		t.Fatal(err)
	}
	if client.patientCall != 2 {
		t.Errorf("Different filter should miss the cache, got %d queries", client.patientCall)
	}
}

func TestSearchFailuresAreNotCached(t *testing.T) {
	notConnected := errors.New("not connected")
	client := &fakeClient{err: notConnected}
	svc, mc := newTestService(t, client)
	ctx := context.Background()

	patients, err := svc.SearchPatients(ctx, models.Filter{})
	if !errors.Is(err, notConnected) {
		t.Fatalf("Expected wrapped client error, got %v", err)
	}
	if patients == nil || len(patients) != 0 {
		t.Errorf("Expected empty non-nil result, got %#v", patients)
	}

	studies, err := svc.SearchStudiesByPatient(ctx, models.Filter{PatientID: "P001"}, nil)
	if !errors.Is(err, notConnected) || studies == nil {
		t.Errorf("Unexpected result %#v, %v", studies, err)
	}
	if mc.Len() != 0 {
		t.Errorf("Failed searches were cached: %d entries", mc.Len())
	}
}

func TestDownloadInvalidatesStudies(t *testing.T) {
	client := &fakeClient{
		studies:  []models.Study{{StudyUID: "1.2.3", MRIFiles: []models.Series{{SeriesUID: "1.2.3.4"}}}},
		download: &models.SeriesMetadata{Patient: models.Patient{ID: "P001"}, Files: []string{"MR.1"}},
	}
	svc, _ := newTestService(t, client)
	ctx := context.Background()
	filter := models.Filter{PatientID: "P001"}

	if _, err := svc.SearchStudiesByPatient(ctx, filter, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SearchStudiesByPatient(ctx, filter, nil); err != nil {
		t.Fatal(err)
	}
	if client.studyCall != 1 {
		t.Fatalf("Expected cached second search, got %d queries", client.studyCall)
	}

	existing := []models.ExistingStudy{{StudyUID: "1.2.3", MRIFiles: []models.ExistingSeries{{SeriesUID: "1.2.3.4"}}}}
	if _, err := svc.SearchStudiesByPatient(ctx, filter, existing); err != nil {
		t.Fatal(err)
	}
	if client.studyCall != 2 {
		t.Fatalf("Different existing list should miss the cache, got %d queries", client.studyCall)
	}

	result, err := svc.Download(ctx, "1.2.3.4", t.TempDir())
	if err != nil || result == nil {
		t.Fatalf("Download returned %+v, %v", result, err)
	}

	if _, err := svc.SearchStudiesByPatient(ctx, filter, nil); err != nil {
		t.Fatal(err)
	}
	if client.studyCall != 3 {
		t.Errorf("Expected study cache to be invalidated, got %d queries", client.studyCall)
	}
}

func TestServiceWithoutCache(t *testing.T) {
	client := &fakeClient{patients: []models.Patient{}}
	svc := NewPACSService(client, nil, time.Hour)

	for range 2 {
		patients, err := svc.SearchPatients(context.Background(), models.Filter{})
		if err != nil || patients == nil {
			t.Fatalf("Unexpected result %#v, %v", patients, err)
		}
	}
	if client.patientCall != 2 {
		t.Errorf("Expected every call to reach the PACS, got %d", client.patientCall)
	}
}

func TestTestConnection(t *testing.T) {
	svc := NewPACSService(&fakeClient{}, nil, 0)
	status, err := svc.TestConnection(context.Background())
	if err != nil {
		t.Fatalf("TestConnection failed: %v", err)
	}
	if !status.IsConnected || status.Node.AETitle != "PACS" || status.ErrorMessage != "" {
		t.Errorf("Unexpected status: %+v", status)
	}

	svc = NewPACSService(&fakeClient{err: errors.New("association rejected")}, nil, 0)
	status, err = svc.TestConnection(context.Background())
	if err == nil {
		t.Fatal("Expected error")
	}
	if status.IsConnected || status.ErrorMessage != "association rejected" {
		t.Errorf("Unexpected status: %+v", status)
	}
}
