package dimse

import (
	"context"
	"fmt"

	"github.com/suyashkumar/dicom"
)

// CFindRequest represents a C-FIND request
type CFindRequest struct {
	// SOPClassUID selects the information model, e.g. PatientRootQueryRetrieveFind.
	SOPClassUID string
	Priority    uint16
	Identifier  dicom.Dataset
}

// CFindResponse represents the outcome of a C-FIND operation
type CFindResponse struct {
	Status       uint16
	ErrorComment string
	Results      []dicom.Dataset
}

// CFind performs a C-FIND operation and collects every pending identifier.
// Identifiers that cannot be decoded are logged and skipped.
func (a *Association) CFind(ctx context.Context, req CFindRequest) (*CFindResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isConnected {
		return nil, ErrNotAssociated
	}

	pc, err := a.AcceptedContext(req.SOPClassUID)
	if err != nil {
		return nil, err
	}

	identifier, err := EncodeDataset(req.Identifier, pc.TransferSyntax)
	if err != nil {
		return nil, fmt.Errorf("failed to encode C-FIND identifier: %w", err)
	}

	messageID := a.nextMessageID()
	command := &Command{
		CommandField:        CFindRQ,
		MessageID:           messageID,
		AffectedSOPClassUID: req.SOPClassUID,
		Priority:            req.Priority,
	}
	if err := a.sendMessage(ctx, pc.ID, command, identifier); err != nil {
		return nil, fmt.Errorf("failed to send C-FIND request: %w", err)
	}

	// Receive C-FIND-RSP (multiple responses)
	response := &CFindResponse{
		Results: make([]dicom.Dataset, 0),
	}

	for {
		msg, err := a.receiveMessage(ctx)
		if err != nil {
			return response, fmt.Errorf("failed to receive C-FIND response: %w", err)
		}

		rsp := msg.Command
		if rsp.CommandField != CFindRSP {
			return response, fmt.Errorf("%w: command 0x%04X while awaiting C-FIND-RSP", ErrUnexpectedPDU, rsp.CommandField)
		}
		if rsp.MessageIDBeingRespondedTo != messageID {
			a.logger.Warn().
				Uint16("expected", messageID).
				Uint16("received", rsp.MessageIDBeingRespondedTo).
				Msg("C-FIND response for unexpected message ID")
		}

		response.Status = rsp.Status
		response.ErrorComment = rsp.ErrorComment

		if IsPending(rsp.Status) {
			if len(msg.Data) == 0 {
				continue
			}
			ds, err := DecodeDataset(msg.Data, a.contexts[msg.ContextID].TransferSyntax)
			if err != nil {
				a.logger.Warn().Err(err).Msg("Skipping undecodable C-FIND identifier")
				continue
			}
			response.Results = append(response.Results, ds)
			continue
		}

		if IsFailure(rsp.Status) {
			return response, &StatusError{Command: "C-FIND", Status: rsp.Status, ErrorComment: rsp.ErrorComment}
		}
		return response, nil
	}
}
