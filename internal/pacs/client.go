package pacs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/suyashkumar/dicom"

	"github.com/LadislavGaza/neurai-api/internal/metrics"
	"github.com/LadislavGaza/neurai-api/internal/models"
	"github.com/LadislavGaza/neurai-api/pkg/dimse"
)

// Default timeouts
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultDIMSETimeout   = 120 * time.Second
)

// DefaultCallingAETitle identifies this application to the PACS.
const DefaultCallingAETitle = "NEURAI"

// ErrNotConnected is returned together with an empty result when no
// association could be established with the PACS.
var ErrNotConnected = errors.New("pacs: not connected")

// Config holds the PACS connection parameters
type Config struct {
	Host           string
	Port           int
	CalledAETitle  string
	CallingAETitle string
	ConnectTimeout time.Duration
	DIMSETimeout   time.Duration
	MaxPDULength   uint32
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics records association and operation metrics on m.
func WithMetrics(m *metrics.Collectors) Option {
	return func(c *Client) { c.metrics = m }
}

// WithDialer replaces the TCP dialer, mainly for tests.
func WithDialer(dial dimse.DialFunc) Option {
	return func(c *Client) { c.dial = dial }
}

// WithClock sets the clock used for "today" when a date is missing.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithLogger sets the logger; the global zerolog logger is used otherwise.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client talks to one PACS node. Every operation opens and releases its own
// association; nothing is kept between calls.
type Client struct {
	config  Config
	metrics *metrics.Collectors
	dial    dimse.DialFunc
	now     func() time.Time
	logger  zerolog.Logger
}

// NewClient creates a new PACS client
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.CallingAETitle == "" {
		cfg.CallingAETitle = DefaultCallingAETitle
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.DIMSETimeout == 0 {
		cfg.DIMSETimeout = DefaultDIMSETimeout
	}

	c := &Client{
		config: cfg,
		now:    time.Now,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Node returns the configured PACS node.
func (c *Client) Node() models.PACSNode {
	return models.PACSNode{Host: c.config.Host, Port: c.config.Port, AETitle: c.config.CalledAETitle}
}

// associate opens an association proposing contexts. Failures are wrapped
// in ErrNotConnected.
func (c *Client) associate(ctx context.Context, logger zerolog.Logger, contexts []dimse.ContextRequest) (*dimse.Association, error) {
	assoc := dimse.NewAssociation(dimse.AssociationConfig{
		Host:         c.config.Host,
		Port:         c.config.Port,
		CallingAET:   c.config.CallingAETitle,
		CalledAET:    c.config.CalledAETitle,
		Timeout:      c.config.ConnectTimeout,
		DIMSETimeout: c.config.DIMSETimeout,
		MaxPDULength: c.config.MaxPDULength,
		Contexts:     contexts,
		Dial:         c.dial,
		Logger:       &logger,
	})

	if err := assoc.Connect(ctx); err != nil {
		var rejectErr *dimse.RejectError
		if errors.As(err, &rejectErr) {
			c.metrics.Association(metrics.AssociationRejected)
		} else {
			c.metrics.Association(metrics.AssociationFailed)
		}
		logger.Warn().Err(err).Msg("Association with PACS failed")
		return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}

	c.metrics.Association(metrics.AssociationEstablished)
	return assoc, nil
}

// release ends the association, aborting when the orderly release fails.
func release(ctx context.Context, logger zerolog.Logger, assoc *dimse.Association) {
	if err := assoc.Release(ctx); err != nil {
		logger.Warn().Err(err).Msg("Association release failed")
		_ = assoc.Abort()
	}
}

func (c *Client) operationLogger(operation string) zerolog.Logger {
	return c.logger.With().
		Str("operation", operation).
		Str("operation_id", uuid.NewString()).
		Logger()
}

func queryContexts(abstractSyntaxes ...string) []dimse.ContextRequest {
	contexts := make([]dimse.ContextRequest, 0, len(abstractSyntaxes))
	for _, uid := range abstractSyntaxes {
		contexts = append(contexts, dimse.ContextRequest{
			AbstractSyntax:   uid,
			TransferSyntaxes: dimse.QueryTransferSyntaxes(),
		})
	}
	return contexts
}

// retrieveContexts proposes Patient and Study Root C-GET plus one storage
// context with SCP role per standard storage class.
func retrieveContexts() []dimse.ContextRequest {
	contexts := queryContexts(dimse.PatientRootQueryRetrieveGet, dimse.StudyRootQueryRetrieveGet)
	for _, uid := range dimse.StorageSOPClasses() {
		if slices.Contains(excludedStorageClasses, uid) {
			continue
		}
		contexts = append(contexts, dimse.ContextRequest{
			AbstractSyntax:   uid,
			TransferSyntaxes: dimse.DefaultTransferSyntaxes(),
			SCPRole:          true,
		})
	}
	return contexts
}

// find runs one C-FIND on a fresh association.
func (c *Client) find(ctx context.Context, logger zerolog.Logger, identifier dicom.Dataset) ([]dicom.Dataset, error) {
	assoc, err := c.associate(ctx, logger, queryContexts(dimse.PatientRootQueryRetrieveFind))
	if err != nil {
		return nil, err
	}
	defer release(ctx, logger, assoc)

	rsp, err := assoc.CFind(ctx, dimse.CFindRequest{
		SOPClassUID: dimse.PatientRootQueryRetrieveFind,
		Priority:    dimse.PriorityMedium,
		Identifier:  identifier,
	})
	if err != nil {
		return nil, fmt.Errorf("C-FIND failed: %w", err)
	}
	return rsp.Results, nil
}

// SearchPatients finds patients matching filter. The result is never nil;
// when the PACS is unreachable it is empty and the error wraps ErrNotConnected.
func (c *Client) SearchPatients(ctx context.Context, filter models.Filter) ([]models.Patient, error) {
	start := time.Now()
	logger := c.operationLogger("search_patients")

	patients := make([]models.Patient, 0)

	identifier, err := patientIdentifier(filter)
	if err != nil {
		return patients, err
	}

	results, err := c.find(ctx, logger, identifier)
	c.metrics.Operation("search_patients", err, time.Since(start))
	if err != nil {
		return patients, err
	}

	for _, ds := range results {
		if len(ds.Elements) == 0 {
			continue
		}
		patients = append(patients, patientFromRecord(ExtractRecord(ds, patientFields.Keywords())))
	}

	logger.Info().
		Int("count", len(patients)).
		Dur("duration", time.Since(start)).
		Msg("C-FIND for patients completed successfully")

	return patients, nil
}

// SearchStudiesByPatient finds the MR series matching filter grouped into
// studies. Series listed in existing are flagged as already downloaded.
func (c *Client) SearchStudiesByPatient(ctx context.Context, filter models.Filter, existing []models.ExistingStudy) ([]models.Study, error) {
	start := time.Now()
	logger := c.operationLogger("search_studies")

	identifier, err := seriesIdentifier(filter)
	if err != nil {
		return make([]models.Study, 0), err
	}

	results, err := c.find(ctx, logger, identifier)
	c.metrics.Operation("search_studies", err, time.Since(start))
	if err != nil {
		return make([]models.Study, 0), err
	}

	records := make([]Record, 0, len(results))
	for _, ds := range results {
		if len(ds.Elements) == 0 {
			continue
		}
		records = append(records, ExtractRecord(ds, metadataKeywords()))
	}

	studies := groupStudies(records, existing, c.now())

	logger.Info().
		Str("patient_id", filter.PatientID).
		Int("series", len(records)).
		Int("studies", len(studies)).
		Dur("duration", time.Since(start)).
		Msg("C-FIND for studies completed successfully")

	return studies, nil
}

// Download retrieves a series with C-GET into outputDir. It returns nil
// when nothing was received; the error wraps ErrNotConnected when no
// association could be established.
func (c *Client) Download(ctx context.Context, seriesUID, outputDir string) (*models.SeriesMetadata, error) {
	start := time.Now()
	logger := c.operationLogger("download").With().Str("series_uid", seriesUID).Logger()

	identifier, err := retrieveIdentifier(seriesUID)
	if err != nil {
		return nil, err
	}

	assoc, err := c.associate(ctx, logger, retrieveContexts())
	if err != nil {
		c.metrics.Operation("download", err, time.Since(start))
		return nil, err
	}
	defer release(ctx, logger, assoc)

	acc := &accumulator{}
	handler := &storeHandler{
		outputDir: outputDir,
		acc:       acc,
		metrics:   c.metrics,
		logger:    logger,
	}

	req := dimse.CGetRequest{Priority: dimse.PriorityMedium, Identifier: identifier}
	var rsp *dimse.CGetResponse
	for _, model := range []string{dimse.PatientRootQueryRetrieveGet, dimse.StudyRootQueryRetrieveGet} {
		req.SOPClassUID = model
		rsp, err = assoc.CGet(ctx, req, handler)
		if !errors.Is(err, dimse.ErrNoPresentationContext) {
			break
		}
	}
	c.metrics.Operation("download", err, time.Since(start))
	if err != nil {
		logger.Error().Err(err).Int("received", len(acc.files)).Msg("C-GET failed")
		err = fmt.Errorf("C-GET failed: %w", err)
	}

	if len(acc.records) == 0 {
		if err != nil {
			return nil, err
		}
		logger.Warn().Msg("C-GET completed without any object")
		return nil, nil
	}

	result := seriesMetadata(acc.records[0], c.now())
	result.Files = acc.files
	if rsp != nil {
		result.Completed = rsp.Completed
		result.Failed = rsp.Failed
		result.Warning = rsp.Warning
	}

	logger.Info().
		Int("files", len(acc.files)).
		Uint16("failed", result.Failed).
		Dur("duration", time.Since(start)).
		Msg("C-GET for series completed")

	return result, err
}

// Verify checks connectivity with C-ECHO.
func (c *Client) Verify(ctx context.Context) error {
	start := time.Now()
	logger := c.operationLogger("echo")

	assoc, err := c.associate(ctx, logger, queryContexts(dimse.VerificationSOPClass))
	if err != nil {
		c.metrics.Operation("echo", err, time.Since(start))
		return err
	}
	defer release(ctx, logger, assoc)

	err = assoc.CEcho(ctx)
	c.metrics.Operation("echo", err, time.Since(start))
	if err != nil {
		return fmt.Errorf("C-ECHO failed: %w", err)
	}

	logger.Info().Dur("duration", time.Since(start)).Msg("C-ECHO completed successfully")
	return nil
}
