package dimse

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// preambleLength is the Part-10 preamble plus the "DICM" prefix.
const preambleLength = 132

const fileMetaGroup uint16 = 0x0002

// placeholderUID fills the media storage elements of the synthetic file
// header used to drive the parser and writer over bare data sets.
const placeholderUID = "1.2.826.0.1.3680043.9.7433.1.0"

// NewFileMeta returns the group 0002 elements for a Part-10 file.
func NewFileMeta(sopClassUID, sopInstanceUID, transferSyntax string) ([]*dicom.Element, error) {
	values := []struct {
		t    tag.Tag
		data any
	}{
		{tag.FileMetaInformationVersion, []byte{0x00, 0x01}},
		{tag.MediaStorageSOPClassUID, []string{sopClassUID}},
		{tag.MediaStorageSOPInstanceUID, []string{sopInstanceUID}},
		{tag.TransferSyntaxUID, []string{transferSyntax}},
		{tag.ImplementationClassUID, []string{ImplementationClassUID}},
		{tag.ImplementationVersionName, []string{ImplementationVersionName}},
	}

	meta := make([]*dicom.Element, 0, len(values))
	for _, v := range values {
		elem, err := dicom.NewElement(v.t, v.data)
		if err != nil {
			return nil, fmt.Errorf("failed to build file meta element %s: %w", v.t, err)
		}
		meta = append(meta, elem)
	}
	return meta, nil
}

// WriteFileHeader writes the preamble, "DICM" and the encoded file meta group.
// The group is always explicit VR little endian, whatever transfer syntax it
// announces, so deflated files get a header as well.
func WriteFileHeader(w io.Writer, meta []*dicom.Element) error {
	var group bytes.Buffer
	gw, err := dicom.NewWriter(&group, dicom.SkipVRVerification())
	if err != nil {
		return err
	}
	gw.SetTransferSyntax(binary.LittleEndian, false)
	for _, elem := range meta {
		if elem.Tag == tag.FileMetaInformationGroupLength {
			continue
		}
		if err := gw.WriteElement(elem); err != nil {
			return fmt.Errorf("failed to encode file meta element %s: %w", elem.Tag, err)
		}
	}

	lengthElem, err := dicom.NewElement(tag.FileMetaInformationGroupLength, []int{group.Len()})
	if err != nil {
		return err
	}

	var header bytes.Buffer
	header.Write(make([]byte, 128))
	header.WriteString("DICM")
	hw, err := dicom.NewWriter(&header, dicom.SkipVRVerification())
	if err != nil {
		return err
	}
	hw.SetTransferSyntax(binary.LittleEndian, false)
	if err := hw.WriteElement(lengthElem); err != nil {
		return fmt.Errorf("failed to encode file meta group length: %w", err)
	}
	header.Write(group.Bytes())

	_, err = w.Write(header.Bytes())
	return err
}

// wireSyntax is the syntax a payload is parsed or produced in once any
// deflate layer has been handled by the caller.
func wireSyntax(transferSyntax string) string {
	if transferSyntax == DeflatedExplicitVRLittleEndian {
		return ExplicitVRLittleEndian
	}
	return transferSyntax
}

// EncodeDataset serialises ds (without preamble or file meta) in the given
// transfer syntax. Deflated Explicit VR Little Endian output is compressed
// with raw deflate.
func EncodeDataset(ds dicom.Dataset, transferSyntax string) ([]byte, error) {
	meta, err := NewFileMeta(placeholderUID, placeholderUID, wireSyntax(transferSyntax))
	if err != nil {
		return nil, err
	}

	body := make([]*dicom.Element, 0, len(ds.Elements))
	for _, elem := range SortedElements(ds) {
		if elem.Tag.Group != fileMetaGroup {
			body = append(body, elem)
		}
	}

	var buf bytes.Buffer
	if err := dicom.Write(&buf, dicom.Dataset{Elements: append(meta, body...)}, dicom.SkipVRVerification()); err != nil {
		return nil, fmt.Errorf("failed to encode dataset: %w", err)
	}

	raw, err := stripFileHeader(buf.Bytes())
	if err != nil {
		return nil, err
	}

	if transferSyntax == DeflatedExplicitVRLittleEndian {
		return Deflate(raw)
	}
	return raw, nil
}

// DecodeDataset parses a data set received over the network in the given
// transfer syntax, skipping pixel data. Deflated payloads are inflated first.
func DecodeDataset(data []byte, transferSyntax string) (dicom.Dataset, error) {
	return decodeDataset(data, transferSyntax, dicom.SkipPixelData())
}

// DecodeObject parses a composite object for persistence. Pixel data is
// kept as raw bytes so it can be written back unchanged.
func DecodeObject(data []byte, transferSyntax string) (dicom.Dataset, error) {
	return decodeDataset(data, transferSyntax, dicom.SkipProcessingPixelDataValue())
}

func decodeDataset(data []byte, transferSyntax string, opts ...dicom.ParseOption) (dicom.Dataset, error) {
	if transferSyntax == DeflatedExplicitVRLittleEndian {
		inflated, err := Inflate(data)
		if err != nil {
			return dicom.Dataset{}, err
		}
		data = inflated
	}

	meta, err := NewFileMeta(placeholderUID, placeholderUID, wireSyntax(transferSyntax))
	if err != nil {
		return dicom.Dataset{}, err
	}

	var buf bytes.Buffer
	if err := WriteFileHeader(&buf, meta); err != nil {
		return dicom.Dataset{}, fmt.Errorf("failed to build parser header: %w", err)
	}
	buf.Write(data)

	parsed, err := dicom.Parse(bytes.NewReader(buf.Bytes()), int64(buf.Len()), nil, opts...)
	if err != nil {
		return dicom.Dataset{}, fmt.Errorf("failed to parse dataset: %w", err)
	}

	ds := dicom.Dataset{Elements: make([]*dicom.Element, 0, len(parsed.Elements))}
	for _, elem := range parsed.Elements {
		if elem.Tag.Group != fileMetaGroup {
			ds.Elements = append(ds.Elements, elem)
		}
	}
	return ds, nil
}

// stripFileHeader drops the preamble and file meta group written by
// dicom.Write, leaving the bare data set.
func stripFileHeader(part10 []byte) ([]byte, error) {
	// (0002,0000) UL, explicit VR little endian: tag(4) VR(2) length(2) value(4).
	const groupLengthElement = 12
	if len(part10) < preambleLength+groupLengthElement || string(part10[128:132]) != "DICM" {
		return nil, fmt.Errorf("encoded dataset has no file header")
	}
	groupLength := int(binary.LittleEndian.Uint32(part10[preambleLength+8:]))
	start := preambleLength + groupLengthElement + groupLength
	if start > len(part10) {
		return nil, fmt.Errorf("file meta group length %d exceeds output", groupLength)
	}
	return part10[start:], nil
}

// Deflate compresses data with raw deflate (no zlib header), as required by
// the Deflated Explicit VR Little Endian transfer syntax.
func Deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("failed to create deflate writer: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to deflate dataset: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("failed to deflate dataset: %w", err)
	}
	return buf.Bytes(), nil
}

// Inflate reverses Deflate.
func Inflate(data []byte) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()

	out, err := io.ReadAll(fr)
	if err != nil {
		return nil, fmt.Errorf("failed to inflate dataset: %w", err)
	}
	return out, nil
}

// SortedElements returns the elements of ds in ascending tag order.
func SortedElements(ds dicom.Dataset) []*dicom.Element {
	elems := slices.Clone(ds.Elements)
	slices.SortStableFunc(elems, func(x, y *dicom.Element) int {
		if c := cmp.Compare(x.Tag.Group, y.Tag.Group); c != 0 {
			return c
		}
		return cmp.Compare(x.Tag.Element, y.Tag.Element)
	})
	return elems
}

// StringValue returns the first string value of t in ds. The second result
// is false when the element is absent, empty or not a string element.
func StringValue(ds dicom.Dataset, t tag.Tag) (string, bool) {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem == nil || elem.Value == nil {
		return "", false
	}
	values, ok := elem.Value.GetValue().([]string)
	if !ok || len(values) == 0 {
		return "", false
	}
	return strings.TrimRight(values[0], " \x00"), true
}
