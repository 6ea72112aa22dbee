package pacs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/LadislavGaza/neurai-api/internal/metrics"
	"github.com/LadislavGaza/neurai-api/pkg/dimse"
)

// UnknownPrefix names files whose SOP class has no entry in the prefix table.
const UnknownPrefix = "UN"

// sopClassPrefixes maps storage SOP classes to filename prefixes.
var sopClassPrefixes = map[string]string{
	dimse.CTImageStorage:                  "CT",
	dimse.EnhancedCTImageStorage:          "CTE",
	dimse.MRImageStorage:                  "MR",
	dimse.EnhancedMRImageStorage:          "MRE",
	dimse.PETImageStorage:                 "PT",
	dimse.EnhancedPETImageStorage:         "PTE",
	dimse.RTImageStorage:                  "RI",
	dimse.RTDoseStorage:                   "RD",
	dimse.RTPlanStorage:                   "RP",
	dimse.RTStructureSetStorage:           "RS",
	dimse.ComputedRadiographyImageStorage: "CR",
	dimse.UltrasoundImageStorage:          "US",
	dimse.EnhancedUSVolumeStorage:         "USE",
	dimse.XRayAngiographicImageStorage:    "XA",
	dimse.EnhancedXAImageStorage:          "XAE",
	dimse.NuclearMedicineImageStorage:     "NM",
	dimse.SecondaryCaptureImageStorage:    "SC",
}

// excludedStorageClasses carry non-image payloads and are never negotiated.
var excludedStorageClasses = []string{
	dimse.EncapsulatedSTLStorage,
	dimse.EncapsulatedOBJStorage,
	dimse.EncapsulatedMTLStorage,
}

// Filename derives the output filename <Prefix>.<SOPInstanceUID>.
func Filename(sopClassUID, sopInstanceUID string) string {
	prefix, ok := sopClassPrefixes[sopClassUID]
	if !ok {
		prefix = UnknownPrefix
	}
	return prefix + "." + sopInstanceUID
}

// DecodeError reports an inbound object that could not be inspected.
type DecodeError struct {
	SOPInstanceUID string
	Err            error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode object %s: %v", e.SOPInstanceUID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// PersistError reports an object that was decoded but not written.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to persist %s: %v", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// IO reports whether the failure came from the filesystem.
func (e *PersistError) IO() bool {
	var pathErr *fs.PathError
	var linkErr *os.LinkError
	return errors.As(e.Err, &pathErr) || errors.As(e.Err, &linkErr)
}

// accumulator collects what one Download received. It is owned by a single
// call and touched only from the association's receive loop.
type accumulator struct {
	records []Record
	files   []string
}

// storeHandler persists objects pushed during C-GET.
type storeHandler struct {
	outputDir string
	acc       *accumulator
	metrics   *metrics.Collectors
	logger    zerolog.Logger
}

// HandleStore implements dimse.StoreHandler.
func (h *storeHandler) HandleStore(ctx context.Context, req *dimse.StoreRequest) dimse.StoreResponse {
	obj, err := decodeStoredObject(req)
	if err != nil {
		h.logger.Warn().Err(err).Str("sop_instance_uid", req.SOPInstanceUID).Msg("Rejecting undecodable object")
		h.metrics.StoredObject(metrics.StoreDecodeError)
		return dimse.StoreResponse{Status: dimse.StatusCannotUnderstand, ErrorComment: truncateComment(err.Error())}
	}

	h.acc.records = append(h.acc.records, ExtractRecord(obj.dataset, metadataKeywords()))

	path := filepath.Join(h.outputDir, Filename(obj.sopClassUID, obj.sopInstanceUID))
	if err := persist(path, obj); err != nil {
		var persistErr *PersistError
		status := dimse.StatusOutOfResourcesStore
		result := metrics.StorePersistError
		if errors.As(err, &persistErr) && persistErr.IO() {
			status = dimse.StatusOutOfResources
			result = metrics.StoreIOError
		}
		h.logger.Error().Err(err).Str("path", path).Uint16("status", status).Msg("Failed to store object")
		h.metrics.StoredObject(result)
		return dimse.StoreResponse{Status: status, ErrorComment: truncateComment(err.Error())}
	}

	h.acc.files = append(h.acc.files, path)
	h.metrics.StoredObject(metrics.StoreSuccess)
	h.logger.Debug().Str("path", path).Str("transfer_syntax", req.TransferSyntax).Msg("Stored object")

	return dimse.StoreResponse{Status: dimse.StatusSuccess}
}

type storedObject struct {
	sopClassUID    string
	sopInstanceUID string
	transferSyntax string
	dataset        dicom.Dataset
}

// decodeStoredObject parses the C-STORE data set and reads the identifying
// UIDs. File meta elements found in the data set are dropped.
func decodeStoredObject(req *dimse.StoreRequest) (*storedObject, error) {
	ds, err := dimse.DecodeObject(req.Data, req.TransferSyntax)
	if err != nil {
		return nil, &DecodeError{SOPInstanceUID: req.SOPInstanceUID, Err: err}
	}

	sopClassUID, ok := dimse.StringValue(ds, tag.SOPClassUID)
	if !ok || sopClassUID == "" {
		return nil, &DecodeError{SOPInstanceUID: req.SOPInstanceUID, Err: errors.New("missing SOPClassUID")}
	}
	sopInstanceUID, ok := dimse.StringValue(ds, tag.SOPInstanceUID)
	if !ok || sopInstanceUID == "" {
		return nil, &DecodeError{SOPInstanceUID: req.SOPInstanceUID, Err: errors.New("missing SOPInstanceUID")}
	}
	if strings.ContainsAny(sopInstanceUID, `/\`) || strings.Contains(sopInstanceUID, "..") {
		return nil, &DecodeError{SOPInstanceUID: sopInstanceUID, Err: errors.New("SOPInstanceUID is not a valid UID")}
	}

	return &storedObject{
		sopClassUID:    sopClassUID,
		sopInstanceUID: sopInstanceUID,
		transferSyntax: req.TransferSyntax,
		dataset:        ds,
	}, nil
}

// persist encodes obj as a Part-10 file and writes it to path.
func persist(path string, obj *storedObject) error {
	data, err := encodePart10(obj)
	if err != nil {
		return &PersistError{Path: path, Err: err}
	}
	if err := writeFileAtomic(path, data); err != nil {
		return &PersistError{Path: path, Err: err}
	}
	return nil
}

// encodePart10 produces preamble, "DICM", file meta and data set. dicom.Write
// refuses the deflated syntax, so its header is written alone and followed by
// the raw-deflated explicit little endian body.
func encodePart10(obj *storedObject) ([]byte, error) {
	meta, err := dimse.NewFileMeta(obj.sopClassUID, obj.sopInstanceUID, obj.transferSyntax)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if obj.transferSyntax == dimse.DeflatedExplicitVRLittleEndian {
		if err := dimse.WriteFileHeader(&buf, meta); err != nil {
			return nil, fmt.Errorf("failed to write file meta: %w", err)
		}
		body, err := dimse.EncodeDataset(obj.dataset, obj.transferSyntax)
		if err != nil {
			return nil, err
		}
		buf.Write(body)
		return buf.Bytes(), nil
	}

	elements := append(meta, dimse.SortedElements(obj.dataset)...)
	if err := dicom.Write(&buf, dicom.Dataset{Elements: elements}, dicom.SkipVRVerification()); err != nil {
		return nil, fmt.Errorf("failed to encode object: %w", err)
	}
	return buf.Bytes(), nil
}

// writeFileAtomic writes data next to path and renames it into place,
// creating the directory when needed.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// truncateComment fits an error into the 64 character LO Error Comment.
func truncateComment(s string) string {
	if len(s) > 64 {
		return s[:64]
	}
	return s
}
