package pacs

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/LadislavGaza/neurai-api/internal/models"
	"github.com/LadislavGaza/neurai-api/pkg/dimse"
	"github.com/LadislavGaza/neurai-api/pkg/dimse/dimsetest"
)

func newTestClient(dial dimse.DialFunc) *Client {
	return NewClient(Config{
		Host:           "pacs.test",
		Port:           104,
		CalledAETitle:  "PACS",
		ConnectTimeout: 5 * time.Second,
		DIMSETimeout:   5 * time.Second,
	}, WithDialer(dial), WithLogger(zerolog.Nop()), WithClock(func() time.Time { return fixedNow }))
}

func respondWith(t *testing.T, s *dimsetest.Session, req *dimsetest.Request, results []dicom.Dataset) error {
	t.Helper()
	for _, ds := range results {
		data, err := dimse.EncodeDataset(ds, req.TransferSyntax)
		if err != nil {
			return err
		}
		if err := s.Respond(req, dimse.StatusPending, data); err != nil {
			return err
		}
	}
	return s.Respond(req, dimse.StatusSuccess, nil)
}

func TestSearchPatients(t *testing.T) {
	srv := dimsetest.NewServer(t, func(s *dimsetest.Session, req *dimsetest.Request) error {
		if req.AbstractSyntax != dimse.PatientRootQueryRetrieveFind {
			return errors.New("unexpected abstract syntax " + req.AbstractSyntax)
		}
		query, err := dimse.DecodeDataset(req.Data, req.TransferSyntax)
		if err != nil {
			return err
		}
		if name, _ := dimse.StringValue(query, tag.PatientName); name != "*Jozef*" {
			t.Errorf("Expected wildcard name, got %q", name)
		}

		return respondWith(t, s, req, []dicom.Dataset{
			newDataset(t, map[tag.Tag]string{
				tag.PatientID:        "P001",
				tag.PatientName:      "Novak^Jozef",
				tag.PatientBirthDate: "19800115",
			}),
			newDataset(t, map[tag.Tag]string{
				tag.PatientID:   "P002",
				tag.PatientName: "Kral^Jozef",
			}),
		})
	})

	patients, err := newTestClient(srv.Dial).SearchPatients(context.Background(), models.Filter{PatientName: "Jozef"})
	if err != nil {
		t.Fatalf("SearchPatients failed: %v", err)
	}
	if len(patients) != 2 {
		t.Fatalf("Expected 2 patients, got %d", len(patients))
	}
	if patients[0].ID != "P001" || patients[0].BirthDate == nil || *patients[0].BirthDate != "15.01.1980" {
		t.Errorf("Unexpected first patient: %+v", patients[0])
	}
	if patients[1].BirthDate != nil {
		t.Errorf("Expected no birth date, got %q", *patients[1].BirthDate)
	}
	if proposed := srv.Proposed(); len(proposed) != 1 || proposed[0].AbstractSyntax != dimse.PatientRootQueryRetrieveFind {
		t.Errorf("Expected a single query context, got %+v", proposed)
	}
	if !srv.Released() {
		t.Error("Association was not released")
	}
}

func TestSearchStudiesByPatient(t *testing.T) {
	series := func(studyUID, seriesUID string) dicom.Dataset {
		return newDataset(t, map[tag.Tag]string{
			tag.PatientID:         "P001",
			tag.StudyInstanceUID:  studyUID,
			tag.StudyDescription:  "Brain",
			tag.StudyDate:         "20230401",
			tag.SeriesInstanceUID: seriesUID,
			tag.SeriesTime:        "0815",
		})
	}

	srv := dimsetest.NewServer(t, func(s *dimsetest.Session, req *dimsetest.Request) error {
		query, err := dimse.DecodeDataset(req.Data, req.TransferSyntax)
		if err != nil {
			return err
		}
		if modality, _ := dimse.StringValue(query, tag.Modality); modality != "MR" {
			t.Errorf("Expected MR modality constraint, got %q", modality)
		}
		return respondWith(t, s, req, []dicom.Dataset{
			series("A", "A1"), series("B", "B1"), series("A", "A2"), series("A", "A3"), series("B", "B2"),
		})
	})

	existing := []models.ExistingStudy{{StudyUID: "B", MRIFiles: []models.ExistingSeries{{SeriesUID: "B2"}}}}
	studies, err := newTestClient(srv.Dial).SearchStudiesByPatient(context.Background(), models.Filter{PatientID: "P001"}, existing)
	if err != nil {
		t.Fatalf("SearchStudiesByPatient failed: %v", err)
	}
	if len(studies) != 2 || len(studies[0].MRIFiles) != 3 || len(studies[1].MRIFiles) != 2 {
		t.Fatalf("Unexpected grouping: %+v", studies)
	}

	seriesCreated := studies[0].MRIFiles[0].CreatedAt
	if seriesCreated == nil || !seriesCreated.Equal(time.Date(2024, 6, 30, 8, 15, 0, 0, time.UTC)) {
		t.Errorf("Series without date should fall back to today, got %v", seriesCreated)
	}
	studyCreated := studies[0].CreatedAt
	if studyCreated == nil || !studyCreated.Equal(time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Study without time should be midnight, got %v", studyCreated)
	}
	if studies[1].MRIFiles[0].AlreadyDownloaded || !studies[1].MRIFiles[1].AlreadyDownloaded {
		t.Errorf("Unexpected already_downloaded flags: %+v", studies[1].MRIFiles)
	}
}

func TestOperationsWithoutAssociation(t *testing.T) {
	refused := func(ctx context.Context, network, address string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}
	rejecting := dimsetest.NewServer(t, nil, dimsetest.WithReject(0x01, 0x01, 0x03))

	for name, dial := range map[string]dimse.DialFunc{"refused": refused, "rejected": rejecting.Dial} {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(dial)
			ctx := context.Background()

			patients, err := client.SearchPatients(ctx, models.Filter{PatientName: "Jozef"})
			if patients == nil || len(patients) != 0 {
				t.Errorf("Expected empty non-nil patients, got %#v", patients)
			}
			if !errors.Is(err, ErrNotConnected) {
				t.Errorf("Expected ErrNotConnected, got %v", err)
			}

			studies, err := client.SearchStudiesByPatient(ctx, models.Filter{PatientID: "P001"}, nil)
			if studies == nil || len(studies) != 0 {
				t.Errorf("Expected empty non-nil studies, got %#v", studies)
			}
			if !errors.Is(err, ErrNotConnected) {
				t.Errorf("Expected ErrNotConnected, got %v", err)
			}

			result, err := client.Download(ctx, "1.2.3.4", t.TempDir())
			if result != nil {
				t.Errorf("Expected nil download result, got %+v", result)
			}
			if !errors.Is(err, ErrNotConnected) {
				t.Errorf("Expected ErrNotConnected, got %v", err)
			}

			if err := client.Verify(ctx); !errors.Is(err, ErrNotConnected) {
				t.Errorf("Expected ErrNotConnected, got %v", err)
			}
		})
	}
}

func TestDownload(t *testing.T) {
	for _, ts := range []string{dimse.ImplicitVRLittleEndian, dimse.DeflatedExplicitVRLittleEndian} {
		t.Run(ts, func(t *testing.T) {
			instances := []string{"1.2.3.4.1", "1.2.3.4.2"}
			var statuses []uint16

			srv := dimsetest.NewServer(t, func(s *dimsetest.Session, req *dimsetest.Request) error {
				if req.Command.CommandField != dimse.CGetRQ {
					return errors.New("expected C-GET-RQ")
				}
				query, err := dimse.DecodeDataset(req.Data, req.TransferSyntax)
				if err != nil {
					return err
				}
				if uid, _ := dimse.StringValue(query, tag.SeriesInstanceUID); uid != "1.2.3.4" {
					t.Errorf("Expected series 1.2.3.4, got %q", uid)
				}

				ctxID, storeTS, ok := s.ContextFor(dimse.MRImageStorage)
				if !ok {
					return errors.New("MR storage not negotiated")
				}
				for i, uid := range instances {
					data, err := dimse.EncodeDataset(mrObject(t, uid), storeTS)
					if err != nil {
						return err
					}
					err = s.Send(ctxID, &dimse.Command{
						CommandField:           dimse.CStoreRQ,
						MessageID:              s.NextMessageID(),
						AffectedSOPClassUID:    dimse.MRImageStorage,
						AffectedSOPInstanceUID: uid,
						Priority:               dimse.PriorityMedium,
					}, data)
					if err != nil {
						return err
					}
					rsp, err := s.Receive()
					if err != nil {
						return err
					}
					statuses = append(statuses, rsp.Command.Status)
					if err := s.Respond(req, dimse.StatusPending, nil, uint16(len(instances)-i-1), uint16(i+1), 0, 0); err != nil {
						return err
					}
				}
				return s.Respond(req, dimse.StatusSuccess, nil, 0, uint16(len(instances)), 0, 0)
			}, dimsetest.WithTransferSyntax(ts))

			dir := t.TempDir()
			result, err := newTestClient(srv.Dial).Download(context.Background(), "1.2.3.4", dir)
			if err != nil {
				t.Fatalf("Download failed: %v", err)
			}
			if result == nil {
				t.Fatal("Expected download metadata")
			}

			if !slices.Equal(statuses, []uint16{dimse.StatusSuccess, dimse.StatusSuccess}) {
				t.Errorf("Unexpected store statuses: %v", statuses)
			}
			if result.Completed != 2 || result.Failed != 0 {
				t.Errorf("Unexpected counters: %+v", result)
			}
			if result.Patient.ID != "P001" || result.Study.StudyUID != "1.2.3" || result.Series.SeriesUID != "1.2.3.4" {
				t.Errorf("Unexpected metadata: %+v", result)
			}
			if result.Series.Filename != "t1_mprage" {
				t.Errorf("Expected filename t1_mprage, got %q", result.Series.Filename)
			}

			want := []string{filepath.Join(dir, "MR.1.2.3.4.1"), filepath.Join(dir, "MR.1.2.3.4.2")}
			if !slices.Equal(result.Files, want) {
				t.Errorf("Expected files %v, got %v", want, result.Files)
			}
			for _, path := range want {
				if _, err := os.Stat(path); err != nil {
					t.Errorf("File %s missing: %v", path, err)
				}
			}

			roles := srv.RoleSelections()
			if !slices.Contains(roles, dimse.MRImageStorage) || slices.Contains(roles, dimse.EncapsulatedSTLStorage) {
				t.Errorf("Unexpected role selections: %d entries", len(roles))
			}
		})
	}
}

func TestDownloadNothingReceived(t *testing.T) {
	srv := dimsetest.NewServer(t, func(s *dimsetest.Session, req *dimsetest.Request) error {
		return s.Respond(req, dimse.StatusSuccess, nil, 0, 0, 0, 0)
	})

	result, err := newTestClient(srv.Dial).Download(context.Background(), "1.2.3.4", t.TempDir())
	if err != nil || result != nil {
		t.Errorf("Expected nil result and no error, got %+v, %v", result, err)
	}
}

func TestDownloadFallsBackToStudyRoot(t *testing.T) {
	var model string
	srv := dimsetest.NewServer(t, func(s *dimsetest.Session, req *dimsetest.Request) error {
		model = req.AbstractSyntax
		return s.Respond(req, dimse.StatusSuccess, nil, 0, 0, 0, 0)
	}, dimsetest.WithRejectedAbstractSyntax(dimse.PatientRootQueryRetrieveGet))

	if _, err := newTestClient(srv.Dial).Download(context.Background(), "1.2.3.4", t.TempDir()); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if model != dimse.StudyRootQueryRetrieveGet {
		t.Errorf("Expected Study Root C-GET, got %q", model)
	}
}

func TestVerify(t *testing.T) {
	srv := dimsetest.NewServer(t, func(s *dimsetest.Session, req *dimsetest.Request) error {
		return s.Respond(req, dimse.StatusSuccess, nil)
	})

	if err := newTestClient(srv.Dial).Verify(context.Background()); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
}
