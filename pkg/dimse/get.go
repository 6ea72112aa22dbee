package dimse

import (
	"context"
	"fmt"

	"github.com/suyashkumar/dicom"
)

// CGetRequest represents a C-GET request
type CGetRequest struct {
	// SOPClassUID selects the retrieve model, e.g. PatientRootQueryRetrieveGet.
	SOPClassUID string
	Priority    uint16
	Identifier  dicom.Dataset
}

// CGetResponse carries the final C-GET status and sub-operation counters.
type CGetResponse struct {
	Status       uint16
	ErrorComment string
	Remaining    uint16
	Completed    uint16
	Failed       uint16
	Warning      uint16
}

// StoreRequest is an inbound C-STORE sub-operation.
type StoreRequest struct {
	ContextID      byte
	MessageID      uint16
	SOPClassUID    string
	SOPInstanceUID string
	TransferSyntax string
	Data           []byte
}

// StoreResponse is what a StoreHandler reports back to the peer.
type StoreResponse struct {
	Status       uint16
	ErrorComment string
}

// StoreHandler handles C-STORE sub-operations received during C-GET.
type StoreHandler interface {
	HandleStore(ctx context.Context, req *StoreRequest) StoreResponse
}

// StoreHandlerFunc adapts a function to StoreHandler.
type StoreHandlerFunc func(ctx context.Context, req *StoreRequest) StoreResponse

// HandleStore calls f(ctx, req).
func (f StoreHandlerFunc) HandleStore(ctx context.Context, req *StoreRequest) StoreResponse {
	return f(ctx, req)
}

// CGet performs a C-GET operation. Every C-STORE-RQ the peer sends on this
// association is passed to handler and answered with its status; the call
// returns once the final C-GET-RSP arrives.
func (a *Association) CGet(ctx context.Context, req CGetRequest, handler StoreHandler) (*CGetResponse, error) {
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
		return nil, fmt.Errorf("failed to encode C-GET identifier: %w", err)
	}

	messageID := a.nextMessageID()
	command := &Command{
		CommandField:        CGetRQ,
		MessageID:           messageID,
		AffectedSOPClassUID: req.SOPClassUID,
		Priority:            req.Priority,
	}
	if err := a.sendMessage(ctx, pc.ID, command, identifier); err != nil {
		return nil, fmt.Errorf("failed to send C-GET request: %w", err)
	}

	response := &CGetResponse{}
	for {
		msg, err := a.receiveMessage(ctx)
		if err != nil {
			return response, fmt.Errorf("failed to receive C-GET response: %w", err)
		}

		switch msg.Command.CommandField {
		case CStoreRQ:
			if err := a.handleStore(ctx, msg, handler); err != nil {
				return response, err
			}

		case CGetRSP:
			rsp := msg.Command
			response.Status = rsp.Status
			response.ErrorComment = rsp.ErrorComment
			copyCounter(&response.Remaining, rsp.RemainingSubOperations)
			copyCounter(&response.Completed, rsp.CompletedSubOperations)
			copyCounter(&response.Failed, rsp.FailedSubOperations)
			copyCounter(&response.Warning, rsp.WarningSubOperations)

			if IsPending(rsp.Status) {
				a.logger.Debug().
					Uint16("status", rsp.Status).
					Uint16("remaining", response.Remaining).
					Uint16("completed", response.Completed).
					Msg("C-GET pending")
				continue
			}
			if IsFailure(rsp.Status) {
				return response, &StatusError{Command: "C-GET", Status: rsp.Status, ErrorComment: rsp.ErrorComment}
			}
			return response, nil

		default:
			return response, fmt.Errorf("%w: command 0x%04X during C-GET", ErrUnexpectedPDU, msg.Command.CommandField)
		}
	}
}

// handleStore dispatches one C-STORE-RQ and sends the C-STORE-RSP.
func (a *Association) handleStore(ctx context.Context, msg *Message, handler StoreHandler) error {
	rq := msg.Command
	storeReq := &StoreRequest{
		ContextID:      msg.ContextID,
		MessageID:      rq.MessageID,
		SOPClassUID:    rq.AffectedSOPClassUID,
		SOPInstanceUID: rq.AffectedSOPInstanceUID,
		TransferSyntax: a.contexts[msg.ContextID].TransferSyntax,
		Data:           msg.Data,
	}

	result := StoreResponse{Status: StatusSOPClassNotSupport}
	if handler != nil {
		result = handler.HandleStore(ctx, storeReq)
	}

	rsp := &Command{
		CommandField:              CStoreRSP,
		MessageIDBeingRespondedTo: rq.MessageID,
		AffectedSOPClassUID:       rq.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    rq.AffectedSOPInstanceUID,
		Status:                    result.Status,
		ErrorComment:              result.ErrorComment,
	}
	if err := a.sendMessage(ctx, msg.ContextID, rsp, nil); err != nil {
		return fmt.Errorf("failed to send C-STORE response: %w", err)
	}
	return nil
}

func copyCounter(dst *uint16, src *uint16) {
	if src != nil {
		*dst = *src
	}
}
