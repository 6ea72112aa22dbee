package dimse

import (
	"context"
	"fmt"
)

// CEcho performs a C-ECHO operation (DICOM ping)
func (a *Association) CEcho(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isConnected {
		return ErrNotAssociated
	}

	pc, err := a.AcceptedContext(VerificationSOPClass)
	if err != nil {
		return err
	}

	messageID := a.nextMessageID()
	command := &Command{
		CommandField:        CEchoRQ,
		MessageID:           messageID,
		AffectedSOPClassUID: VerificationSOPClass,
	}
	if err := a.sendMessage(ctx, pc.ID, command, nil); err != nil {
		return fmt.Errorf("failed to send C-ECHO request: %w", err)
	}

	msg, err := a.receiveMessage(ctx)
	if err != nil {
		return fmt.Errorf("failed to receive C-ECHO response: %w", err)
	}
	if msg.Command.CommandField != CEchoRSP {
		return fmt.Errorf("%w: command 0x%04X while awaiting C-ECHO-RSP", ErrUnexpectedPDU, msg.Command.CommandField)
	}

	// Check status
	if !IsSuccess(msg.Command.Status) {
		return &StatusError{Command: "C-ECHO", Status: msg.Command.Status, ErrorComment: msg.Command.ErrorComment}
	}

	return nil
}
