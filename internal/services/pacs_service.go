package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LadislavGaza/neurai-api/internal/cache"
	"github.com/LadislavGaza/neurai-api/internal/models"
)

// PACSClient is the set of PACS operations the service builds on.
// *pacs.Client implements it.
type PACSClient interface {
	SearchPatients(ctx context.Context, filter models.Filter) ([]models.Patient, error)
	SearchStudiesByPatient(ctx context.Context, filter models.Filter, existing []models.ExistingStudy) ([]models.Study, error)
	Download(ctx context.Context, seriesUID, outputDir string) (*models.SeriesMetadata, error)
	Verify(ctx context.Context) error
	Node() models.PACSNode
}

// PACSService handles business logic for PACS operations. Search results
// are cached when a cache is configured; failed searches are never cached.
type PACSService struct {
	client PACSClient
	cache  cache.Cache
	ttl    time.Duration
	logger zerolog.Logger
}

// NewPACSService creates a new PACS service. c may be nil to disable caching.
func NewPACSService(client PACSClient, c cache.Cache, ttl time.Duration) *PACSService {
	return &PACSService{
		client: client,
		cache:  c,
		ttl:    ttl,
		logger: log.With().Str("component", "pacs_service").Logger(),
	}
}

func patientsKey(filter models.Filter) (string, error) {
	raw, err := json.Marshal(filter)
	if err != nil {
		return "", err
	}
	return cache.Key("patients", cache.Digest(raw)), nil
}

// studiesPrefix groups every cached study search of one patient so that a
// download can invalidate them together.
func studiesPrefix(patientID string) string {
	return cache.Key("studies", cache.Digest([]byte(patientID)))
}

func studiesKey(filter models.Filter, existing []models.ExistingStudy) (string, error) {
	raw, err := json.Marshal(struct {
		Filter   models.Filter          `json:"filter"`
		Existing []models.ExistingStudy `json:"existing"`
	}{filter, existing})
	if err != nil {
		return "", err
	}
	return studiesPrefix(filter.PatientID) + ":" + cache.Digest(raw), nil
}

// lookup decodes a cached value into dst and reports whether it was found.
// Cache failures are logged and treated as misses.
func (s *PACSService) lookup(ctx context.Context, key string, dst any) bool {
	if s.cache == nil {
		return false
	}

	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn().Err(err).Str("key", key).Msg("Cache lookup failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Discarding undecodable cache entry")
		_ = s.cache.Delete(ctx, key)
		return false
	}
	return true
}

func (s *PACSService) store(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}

	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to encode cache entry")
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to write cache entry")
	}
}

// SearchPatients returns patients matching filter. The result is never nil.
func (s *PACSService) SearchPatients(ctx context.Context, filter models.Filter) ([]models.Patient, error) {
	key, err := patientsKey(filter)
	if err != nil {
		return make([]models.Patient, 0), fmt.Errorf("failed to build cache key: %w", err)
	}

	var patients []models.Patient
	if s.lookup(ctx, key, &patients) && patients != nil {
		s.logger.Debug().Str("key", key).Int("count", len(patients)).Msg("Patients served from cache")
		return patients, nil
	}

	patients, err = s.client.SearchPatients(ctx, filter)
	if err != nil {
		return patients, fmt.Errorf("failed to search patients: %w", err)
	}

	s.store(ctx, key, patients)
	return patients, nil
}

// SearchStudiesByPatient returns the patient's MR studies with their series.
// The result is never nil.
func (s *PACSService) SearchStudiesByPatient(ctx context.Context, filter models.Filter, existing []models.ExistingStudy) ([]models.Study, error) {
	key, err := studiesKey(filter, existing)
	if err != nil {
		return make([]models.Study, 0), fmt.Errorf("failed to build cache key: %w", err)
	}

	var studies []models.Study
	if s.lookup(ctx, key, &studies) && studies != nil {
		s.logger.Debug().Str("key", key).Int("count", len(studies)).Msg("Studies served from cache")
		return studies, nil
	}

	studies, err = s.client.SearchStudiesByPatient(ctx, filter, existing)
	if err != nil {
		return studies, fmt.Errorf("failed to search studies: %w", err)
	}

	s.store(ctx, key, studies)
	return studies, nil
}

// Download retrieves a series into outputDir. Cached study searches of the
// downloaded patient are dropped since their already_downloaded flags may
// have changed for the caller.
func (s *PACSService) Download(ctx context.Context, seriesUID, outputDir string) (*models.SeriesMetadata, error) {
	result, err := s.client.Download(ctx, seriesUID, outputDir)

	if result != nil && result.Patient.ID != "" && s.cache != nil {
		pattern := studiesPrefix(result.Patient.ID) + ":*"
		if clearErr := s.cache.Clear(ctx, pattern); clearErr != nil {
			s.logger.Warn().Err(clearErr).Str("patient_id", result.Patient.ID).Msg("Failed to invalidate cached studies")
		}
	}

	if err != nil {
		return result, fmt.Errorf("failed to download series %s: %w", seriesUID, err)
	}
	return result, nil
}

// TestConnection verifies the PACS with C-ECHO and reports the outcome.
func (s *PACSService) TestConnection(ctx context.Context) (*models.ConnectionStatus, error) {
	start := time.Now()
	err := s.client.Verify(ctx)

	status := &models.ConnectionStatus{
		Node:         s.client.Node(),
		IsConnected:  err == nil,
		LastChecked:  start.UTC(),
		ResponseTime: time.Since(start).Milliseconds(),
	}
	if err != nil {
		status.ErrorMessage = err.Error()
		return status, err
	}
	return status, nil
}
