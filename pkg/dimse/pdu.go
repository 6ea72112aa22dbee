package dimse

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// PDU types (PS3.8 section 9.3)
const (
	PDUAssociateRQ byte = 0x01
	PDUAssociateAC byte = 0x02
	PDUAssociateRJ byte = 0x03
	PDUPDataTF     byte = 0x04
	PDUReleaseRQ   byte = 0x05
	PDUReleaseRP   byte = 0x06
	PDUAbort       byte = 0x07
)

// Variable item types carried in A-ASSOCIATE PDUs
const (
	ItemApplicationContext    byte = 0x10
	ItemPresentationContextRQ byte = 0x20
	ItemPresentationContextAC byte = 0x21
	ItemAbstractSyntax        byte = 0x30
	ItemTransferSyntax        byte = 0x40
	ItemUserInformation       byte = 0x50
	ItemMaxLength             byte = 0x51
	ItemImplementationClass   byte = 0x52
	ItemRoleSelection         byte = 0x54
	ItemImplementationVersion byte = 0x55
)

// pduHeaderLength covers type, reserved byte and the 32-bit length.
const pduHeaderLength = 6

// maxAcceptedPDU bounds a single inbound PDU so a corrupt length field cannot
// make us allocate gigabytes.
const maxAcceptedPDU = 64 << 20

type pdu struct {
	Type    byte
	Payload []byte
}

// readPDU reads one PDU from r.
func readPDU(r io.Reader) (*pdu, error) {
	header := make([]byte, pduHeaderLength)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read PDU header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[2:6])
	if length > maxAcceptedPDU {
		return nil, fmt.Errorf("PDU length %d exceeds limit", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read PDU data: %w", err)
	}

	return &pdu{Type: header[0], Payload: payload}, nil
}

// writePDU frames payload as a PDU of the given type. Header and payload go
// out in a single write.
func writePDU(w io.Writer, pduType byte, payload []byte) error {
	buf := make([]byte, pduHeaderLength, pduHeaderLength+len(payload))
	buf[0] = pduType
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(payload)))
	buf = append(buf, payload...)

	_, err := w.Write(buf)
	return err
}

// appendItem appends a variable item (type, reserved, 16-bit length, value).
func appendItem(buf []byte, itemType byte, value []byte) []byte {
	buf = append(buf, itemType, 0x00)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(value)))
	return append(buf, value...)
}

// item is one decoded variable item.
type item struct {
	Type  byte
	Value []byte
}

// splitItems walks a run of variable items.
func splitItems(data []byte) ([]item, error) {
	var items []item
	offset := 0
	for offset < len(data) {
		if offset+4 > len(data) {
			return nil, fmt.Errorf("truncated item header at offset %d", offset)
		}
		length := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		end := offset + 4 + length
		if end > len(data) {
			return nil, fmt.Errorf("item 0x%02x length %d exceeds PDU", data[offset], length)
		}
		items = append(items, item{Type: data[offset], Value: data[offset+4 : end]})
		offset = end
	}
	return items, nil
}

// padAET pads AE Title to 16 bytes with spaces
func padAET(aet string) []byte {
	result := make([]byte, 16)
	copy(result, aet)
	for i := min(len(aet), 16); i < 16; i++ {
		result[i] = ' '
	}
	return result
}

// trimUID strips the NUL/space padding used for even-length UI values.
func trimUID(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00 ")
}
