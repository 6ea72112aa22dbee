package dimse

import (
	"context"
	"encoding/binary"
	"fmt"
)

// PDV message control header bits
const (
	pdvCommand      byte = 0x01
	pdvLastFragment byte = 0x02
)

// pdvHeaderLength covers the PDV item length, context ID and control header.
const pdvHeaderLength = 6

// Message is one DIMSE message: a command set and its optional data set,
// both reassembled from P-DATA-TF fragments.
type Message struct {
	ContextID byte
	Command   *Command
	Data      []byte
}

// sendMessage encodes cmd and sends it, followed by data when present, on
// the given presentation context.
func (a *Association) sendMessage(ctx context.Context, contextID byte, cmd *Command, data []byte) error {
	if a.conn == nil {
		return ErrNotAssociated
	}

	if data != nil {
		cmd.CommandDataSetType = DataSetPresent
	} else {
		cmd.CommandDataSetType = NoDataSet
	}

	if err := a.sendPDataTF(ctx, contextID, EncodeCommand(cmd), true); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	if data != nil {
		if err := a.sendPDataTF(ctx, contextID, data, false); err != nil {
			return fmt.Errorf("failed to send data set: %w", err)
		}
	}

	return nil
}

// sendPDataTF fragments payload into P-DATA-TF PDUs no larger than the
// maximum length the peer announced.
func (a *Association) sendPDataTF(ctx context.Context, contextID byte, payload []byte, isCommand bool) error {
	maxPDU := a.peerMaxPDU
	if maxPDU == 0 {
		// Zero means the peer announced no limit.
		maxPDU = a.maxPDULength
	}
	maxFragment := int(maxPDU) - pdvHeaderLength
	if maxFragment <= 0 {
		return fmt.Errorf("peer maximum PDU length %d too small", maxPDU)
	}

	offset := 0
	for {
		end := min(offset+maxFragment, len(payload))
		fragment := payload[offset:end]

		control := byte(0x00)
		if isCommand {
			control |= pdvCommand
		}
		if end == len(payload) {
			control |= pdvLastFragment
		}

		pdv := make([]byte, 0, pdvHeaderLength+len(fragment))
		pdv = binary.BigEndian.AppendUint32(pdv, uint32(len(fragment)+2))
		pdv = append(pdv, contextID, control)
		pdv = append(pdv, fragment...)

		if err := a.setDeadline(ctx, a.dimseTimeout); err != nil {
			return err
		}
		if err := writePDU(a.conn, PDUPDataTF, pdv); err != nil {
			return err
		}

		offset = end
		if offset >= len(payload) {
			return nil
		}
	}
}

// receiveMessage reads P-DATA-TF PDUs until a complete command and, when
// announced, its complete data set have arrived. A peer A-ABORT or
// A-RELEASE-RQ ends the association and is reported as an error.
func (a *Association) receiveMessage(ctx context.Context) (*Message, error) {
	if a.conn == nil {
		return nil, ErrNotAssociated
	}

	var (
		commandBuf   []byte
		dataBuf      []byte
		msg          *Message
		commandDone  bool
		dataExpected bool
	)

	for {
		if err := a.setDeadline(ctx, a.dimseTimeout); err != nil {
			return nil, err
		}
		p, err := readPDU(a.conn)
		if err != nil {
			return nil, fmt.Errorf("failed to receive PDU: %w", err)
		}

		switch p.Type {
		case PDUPDataTF:
		case PDUAbort:
			a.isConnected = false
			a.closeConn()
			return nil, abortError(p.Payload)
		case PDUReleaseRQ:
			_ = writePDU(a.conn, PDUReleaseRP, make([]byte, 4))
			a.isConnected = false
			a.closeConn()
			return nil, ErrReleasedByPeer
		default:
			return nil, fmt.Errorf("%w: 0x%02x during data transfer", ErrUnexpectedPDU, p.Type)
		}

		payload := p.Payload
		for len(payload) > 0 {
			if len(payload) < pdvHeaderLength {
				return nil, fmt.Errorf("truncated PDV header")
			}
			itemLength := int(binary.BigEndian.Uint32(payload))
			if itemLength < 2 || 4+itemLength > len(payload) {
				return nil, fmt.Errorf("invalid PDV length %d", itemLength)
			}
			contextID := payload[4]
			control := payload[5]
			fragment := payload[pdvHeaderLength : 4+itemLength]
			payload = payload[4+itemLength:]

			if _, ok := a.contexts[contextID]; !ok {
				return nil, fmt.Errorf("PDV on unknown presentation context %d", contextID)
			}

			if control&pdvCommand != 0 {
				if commandDone {
					return nil, fmt.Errorf("command fragment after complete command")
				}
				commandBuf = append(commandBuf, fragment...)
				if control&pdvLastFragment == 0 {
					continue
				}
				cmd, err := DecodeCommand(commandBuf)
				if err != nil {
					return nil, fmt.Errorf("failed to decode command: %w", err)
				}
				commandDone = true
				dataExpected = cmd.HasDataSet()
				msg = &Message{ContextID: contextID, Command: cmd}
				if !dataExpected {
					return msg, nil
				}
				continue
			}

			if !commandDone {
				return nil, fmt.Errorf("data fragment before command")
			}
			dataBuf = append(dataBuf, fragment...)
			if control&pdvLastFragment != 0 {
				msg.Data = dataBuf
				return msg, nil
			}
		}
	}
}
