package dimse_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/LadislavGaza/neurai-api/pkg/dimse"
)

func TestDatasetTransferSyntaxes(t *testing.T) {
	ds := dicom.Dataset{Elements: []*dicom.Element{
		mustElement(t, tag.SeriesInstanceUID, "1.2.3.4"),
		mustElement(t, tag.PatientID, "P001"),
		mustElement(t, tag.QueryRetrieveLevel, "SERIES"),
	}}

	for _, ts := range []string{
		dimse.ImplicitVRLittleEndian,
		dimse.ExplicitVRLittleEndian,
		dimse.DeflatedExplicitVRLittleEndian,
		dimse.ExplicitVRBigEndian,
	} {
		t.Run(ts, func(t *testing.T) {
			data, err := dimse.EncodeDataset(ds, ts)
			if err != nil {
				t.Fatalf("EncodeDataset failed: %v", err)
			}
			decoded, err := dimse.DecodeDataset(data, ts)
			if err != nil {
				t.Fatalf("DecodeDataset failed: %v", err)
			}
			if got, _ := dimse.StringValue(decoded, tag.PatientID); got != "P001" {
				t.Errorf("Expected PatientID P001, got %q", got)
			}
			if got, _ := dimse.StringValue(decoded, tag.SeriesInstanceUID); got != "1.2.3.4" {
				t.Errorf("Expected SeriesInstanceUID 1.2.3.4, got %q", got)
			}
		})
	}
}

func TestEncodeDatasetSortsTags(t *testing.T) {
	unsorted := dicom.Dataset{Elements: []*dicom.Element{
		mustElement(t, tag.SeriesInstanceUID, "1.2"),
		mustElement(t, tag.PatientID, "P"),
	}}
	sorted := dimse.SortedElements(unsorted)
	if sorted[0].Tag != tag.PatientID {
		t.Errorf("Expected PatientID first, got %v", sorted[0].Tag)
	}
	if unsorted.Elements[0].Tag != tag.SeriesInstanceUID {
		t.Error("SortedElements modified its input")
	}
}

func TestDeflateRoundTrip(t *testing.T) {
	input := bytes.Repeat([]byte("MR series "), 500)
	compressed, err := dimse.Deflate(input)
	if err != nil {
		t.Fatalf("Deflate failed: %v", err)
	}
	if len(compressed) >= len(input) {
		t.Errorf("Expected compression, got %d >= %d bytes", len(compressed), len(input))
	}
	out, err := dimse.Inflate(compressed)
	if err != nil {
		t.Fatalf("Inflate failed: %v", err)
	}
	if !bytes.Equal(out, input) {
		t.Error("Inflate did not restore input")
	}
}

func TestInflateGarbage(t *testing.T) {
	if _, err := dimse.DecodeDataset([]byte{0xff, 0xff, 0xff, 0xff}, dimse.DeflatedExplicitVRLittleEndian); err == nil {
		t.Error("Expected error decoding garbage deflate stream")
	}
}

func TestWriteFileHeaderDeflated(t *testing.T) {
	meta, err := dimse.NewFileMeta(dimse.MRImageStorage, "1.2.3", dimse.DeflatedExplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("NewFileMeta failed: %v", err)
	}

	var buf bytes.Buffer
	if err := dimse.WriteFileHeader(&buf, meta); err != nil {
		t.Fatalf("WriteFileHeader failed: %v", err)
	}

	raw := buf.Bytes()
	if len(raw) < 144 || string(raw[128:132]) != "DICM" {
		t.Fatal("Missing preamble or DICM prefix")
	}
	if !bytes.Equal(raw[132:138], []byte{0x02, 0x00, 0x00, 0x00, 'U', 'L'}) {
		t.Errorf("Expected (0002,0000) UL first, got % X", raw[132:138])
	}
	if groupLength := int(binary.LittleEndian.Uint32(raw[140:144])); groupLength != len(raw)-144 {
		t.Errorf("Group length %d does not match meta size %d", groupLength, len(raw)-144)
	}
	if !bytes.Contains(raw, []byte(dimse.DeflatedExplicitVRLittleEndian)) {
		t.Error("Transfer syntax UID not written")
	}
}

func TestWriteFileHeaderParses(t *testing.T) {
	meta, err := dimse.NewFileMeta(dimse.MRImageStorage, "1.2.3", dimse.ExplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("NewFileMeta failed: %v", err)
	}
	body, err := dimse.EncodeDataset(dicom.Dataset{Elements: []*dicom.Element{
		mustElement(t, tag.PatientID, "P001"),
	}}, dimse.ExplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("EncodeDataset failed: %v", err)
	}

	var buf bytes.Buffer
	if err := dimse.WriteFileHeader(&buf, meta); err != nil {
		t.Fatalf("WriteFileHeader failed: %v", err)
	}
	buf.Write(body)

	ds, err := dicom.Parse(bytes.NewReader(buf.Bytes()), int64(buf.Len()), nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got, _ := dimse.StringValue(ds, tag.MediaStorageSOPInstanceUID); got != "1.2.3" {
		t.Errorf("Expected media storage instance 1.2.3, got %q", got)
	}
	if got, _ := dimse.StringValue(ds, tag.PatientID); got != "P001" {
		t.Errorf("Expected PatientID P001, got %q", got)
	}
}
