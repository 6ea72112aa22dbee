package dimse

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// DIMSE command field values
const (
	CStoreRQ  uint16 = 0x0001
	CStoreRSP uint16 = 0x8001
	CGetRQ    uint16 = 0x0010
	CGetRSP   uint16 = 0x8010
	CFindRQ   uint16 = 0x0020
	CFindRSP  uint16 = 0x8020
	CMoveRQ   uint16 = 0x0021
	CMoveRSP  uint16 = 0x8021
	CEchoRQ   uint16 = 0x0030
	CEchoRSP  uint16 = 0x8030
	CCancelRQ uint16 = 0x0FFF
)

// Priority values
const (
	PriorityMedium uint16 = 0x0000
	PriorityHigh   uint16 = 0x0001
	PriorityLow    uint16 = 0x0002
)

// CommandDataSetType values
const (
	DataSetPresent uint16 = 0x0000
	NoDataSet      uint16 = 0x0101
)

// Command set element numbers, group 0x0000
const (
	elemGroupLength               uint16 = 0x0000
	elemAffectedSOPClassUID       uint16 = 0x0002
	elemCommandField              uint16 = 0x0100
	elemMessageID                 uint16 = 0x0110
	elemMessageIDBeingRespondedTo uint16 = 0x0120
	elemPriority                  uint16 = 0x0700
	elemCommandDataSetType        uint16 = 0x0800
	elemStatus                    uint16 = 0x0900
	elemErrorComment              uint16 = 0x0902
	elemAffectedSOPInstanceUID    uint16 = 0x1000
	elemRemainingSubOperations    uint16 = 0x1020
	elemCompletedSubOperations    uint16 = 0x1021
	elemFailedSubOperations       uint16 = 0x1022
	elemWarningSubOperations      uint16 = 0x1023
)

// Command is a decoded DIMSE command set.
type Command struct {
	CommandField              uint16
	MessageID                 uint16
	MessageIDBeingRespondedTo uint16
	AffectedSOPClassUID       string
	AffectedSOPInstanceUID    string
	Priority                  uint16
	CommandDataSetType        uint16
	Status                    uint16
	ErrorComment              string

	RemainingSubOperations *uint16
	CompletedSubOperations *uint16
	FailedSubOperations    *uint16
	WarningSubOperations   *uint16
}

// IsResponse reports whether the command field has the response bit set.
func (c *Command) IsResponse() bool {
	return c.CommandField&0x8000 != 0
}

// HasDataSet reports whether a data set follows the command.
func (c *Command) HasDataSet() bool {
	return c.CommandDataSetType != NoDataSet
}

func (c *Command) hasPriority() bool {
	switch c.CommandField {
	case CStoreRQ, CGetRQ, CFindRQ, CMoveRQ:
		return true
	}
	return false
}

// EncodeCommand serialises a command set in Implicit VR Little Endian with a
// leading group length element, as required for every DIMSE command.
func EncodeCommand(c *Command) []byte {
	var body []byte

	if c.AffectedSOPClassUID != "" {
		body = appendCommandString(body, elemAffectedSOPClassUID, c.AffectedSOPClassUID, 0x00)
	}
	body = appendCommandUint16(body, elemCommandField, c.CommandField)
	if c.IsResponse() {
		body = appendCommandUint16(body, elemMessageIDBeingRespondedTo, c.MessageIDBeingRespondedTo)
	} else {
		body = appendCommandUint16(body, elemMessageID, c.MessageID)
	}
	if c.hasPriority() {
		body = appendCommandUint16(body, elemPriority, c.Priority)
	}
	body = appendCommandUint16(body, elemCommandDataSetType, c.CommandDataSetType)
	if c.IsResponse() {
		body = appendCommandUint16(body, elemStatus, c.Status)
		if c.ErrorComment != "" {
			body = appendCommandString(body, elemErrorComment, c.ErrorComment, ' ')
		}
	}
	if c.AffectedSOPInstanceUID != "" {
		body = appendCommandString(body, elemAffectedSOPInstanceUID, c.AffectedSOPInstanceUID, 0x00)
	}
	for _, counter := range []struct {
		element uint16
		value   *uint16
	}{
		{elemRemainingSubOperations, c.RemainingSubOperations},
		{elemCompletedSubOperations, c.CompletedSubOperations},
		{elemFailedSubOperations, c.FailedSubOperations},
		{elemWarningSubOperations, c.WarningSubOperations},
	} {
		if counter.value != nil {
			body = appendCommandUint16(body, counter.element, *counter.value)
		}
	}

	out := make([]byte, 0, 12+len(body))
	out = appendCommandHeader(out, elemGroupLength, 4)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(body)))
	return append(out, body...)
}

// DecodeCommand parses an Implicit VR Little Endian command set.
func DecodeCommand(data []byte) (*Command, error) {
	c := &Command{CommandDataSetType: NoDataSet}
	seenField := false

	offset := 0
	for offset < len(data) {
		if offset+8 > len(data) {
			return nil, fmt.Errorf("truncated command element at offset %d", offset)
		}
		group := binary.LittleEndian.Uint16(data[offset:])
		element := binary.LittleEndian.Uint16(data[offset+2:])
		length := int(binary.LittleEndian.Uint32(data[offset+4:]))
		offset += 8
		if length < 0 || offset+length > len(data) {
			return nil, fmt.Errorf("command element (%04x,%04x) length %d exceeds buffer", group, element, length)
		}
		value := data[offset : offset+length]
		offset += length

		if group != 0x0000 {
			continue
		}

		switch element {
		case elemAffectedSOPClassUID:
			c.AffectedSOPClassUID = trimUID(value)
		case elemCommandField:
			c.CommandField = commandUint16(value)
			seenField = true
		case elemMessageID:
			c.MessageID = commandUint16(value)
		case elemMessageIDBeingRespondedTo:
			c.MessageIDBeingRespondedTo = commandUint16(value)
		case elemPriority:
			c.Priority = commandUint16(value)
		case elemCommandDataSetType:
			c.CommandDataSetType = commandUint16(value)
		case elemStatus:
			c.Status = commandUint16(value)
		case elemErrorComment:
			c.ErrorComment = strings.TrimRight(string(value), " \x00")
		case elemAffectedSOPInstanceUID:
			c.AffectedSOPInstanceUID = trimUID(value)
		case elemRemainingSubOperations:
			c.RemainingSubOperations = commandCounter(value)
		case elemCompletedSubOperations:
			c.CompletedSubOperations = commandCounter(value)
		case elemFailedSubOperations:
			c.FailedSubOperations = commandCounter(value)
		case elemWarningSubOperations:
			c.WarningSubOperations = commandCounter(value)
		}
	}

	if !seenField {
		return nil, fmt.Errorf("command set has no CommandField")
	}
	return c, nil
}

func appendCommandHeader(buf []byte, element uint16, length uint32) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, 0x0000)
	buf = binary.LittleEndian.AppendUint16(buf, element)
	return binary.LittleEndian.AppendUint32(buf, length)
}

func appendCommandUint16(buf []byte, element, value uint16) []byte {
	buf = appendCommandHeader(buf, element, 2)
	return binary.LittleEndian.AppendUint16(buf, value)
}

func appendCommandString(buf []byte, element uint16, value string, pad byte) []byte {
	raw := []byte(value)
	if len(raw)%2 != 0 {
		raw = append(raw, pad)
	}
	buf = appendCommandHeader(buf, element, uint32(len(raw)))
	return append(buf, raw...)
}

func commandUint16(value []byte) uint16 {
	if len(value) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(value)
}

func commandCounter(value []byte) *uint16 {
	if len(value) < 2 {
		return nil
	}
	v := binary.LittleEndian.Uint16(value)
	return &v
}

// Uint16Ptr is a convenience for populating sub-operation counters.
func Uint16Ptr(v uint16) *uint16 {
	return &v
}
