package dimse

import (
	"errors"
	"fmt"
)

var (
	// ErrAssociationFailed is returned when an association could not be
	// established (connection refused, timeout, malformed reply).
	ErrAssociationFailed = errors.New("association failed")
	// ErrNotAssociated is returned when a DIMSE operation is attempted on a
	// closed association.
	ErrNotAssociated = errors.New("association not established")
	// ErrAborted is returned when the peer sends A-ABORT.
	ErrAborted = errors.New("association aborted by peer")
	// ErrReleasedByPeer is returned when the peer requests release while we
	// are still waiting for a response.
	ErrReleasedByPeer = errors.New("association released by peer")
	// ErrNoPresentationContext is returned when no accepted context exists for
	// the requested abstract syntax.
	ErrNoPresentationContext = errors.New("no accepted presentation context")
	// ErrUnexpectedPDU is returned on a PDU that is invalid in the current state.
	ErrUnexpectedPDU = errors.New("unexpected PDU")
)

// DICOM Status codes
const (
	StatusSuccess             uint16 = 0x0000
	StatusPending             uint16 = 0xFF00
	StatusPendingWarning      uint16 = 0xFF01
	StatusCancel              uint16 = 0xFE00
	StatusOutOfResources      uint16 = 0xA700
	StatusOutOfResourcesStore uint16 = 0xA701
	StatusCannotUnderstand    uint16 = 0xC210
	StatusSOPClassNotSupport  uint16 = 0x0122
	StatusUnableToProcess     uint16 = 0xC000
	StatusSubOpsWarning       uint16 = 0xB000
)

// IsPending reports whether status is one of the pending codes.
func IsPending(status uint16) bool {
	return status == StatusPending || status == StatusPendingWarning
}

// IsSuccess reports whether status is Success.
func IsSuccess(status uint16) bool {
	return status == StatusSuccess
}

// IsWarning reports whether status falls in a warning range.
func IsWarning(status uint16) bool {
	return status == 0x0001 || status == 0x0107 || status == 0x0116 || status&0xF000 == 0xB000
}

// IsFailure reports whether status is neither success, warning, pending nor cancel.
func IsFailure(status uint16) bool {
	return !IsSuccess(status) && !IsWarning(status) && !IsPending(status) && status != StatusCancel
}

// RejectError carries the A-ASSOCIATE-RJ result, source and reason.
type RejectError struct {
	Result byte
	Source byte
	Reason byte
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("association rejected (result=%d, source=%d, reason=%d): %s",
		e.Result, e.Source, e.Reason, e.description())
}

// Unwrap lets errors.Is match ErrAssociationFailed.
func (e *RejectError) Unwrap() error {
	return ErrAssociationFailed
}

// Permanent reports whether the rejection is permanent (result 1) as opposed
// to transient (result 2).
func (e *RejectError) Permanent() bool {
	return e.Result == 0x01
}

func (e *RejectError) description() string {
	switch e.Source {
	case 0x01:
		switch e.Reason {
		case 0x01:
			return "no reason given"
		case 0x02:
			return "application context name not supported"
		case 0x03:
			return "calling AE title not recognized"
		case 0x07:
			return "called AE title not recognized"
		}
	case 0x02:
		switch e.Reason {
		case 0x01:
			return "no reason given"
		case 0x02:
			return "protocol version not supported"
		}
	case 0x03:
		switch e.Reason {
		case 0x01:
			return "temporary congestion"
		case 0x02:
			return "local limit exceeded"
		}
	}
	return "unknown reason"
}

// AbortError describes an A-ABORT received from the peer.
type AbortError struct {
	Source byte
	Reason byte
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("association aborted (source=%d, reason=%d)", e.Source, e.Reason)
}

// Unwrap lets errors.Is match ErrAborted.
func (e *AbortError) Unwrap() error {
	return ErrAborted
}

// StatusError is returned when a DIMSE operation completes with a failure status.
type StatusError struct {
	Command      string
	Status       uint16
	ErrorComment string
}

func (e *StatusError) Error() string {
	if e.ErrorComment != "" {
		return fmt.Sprintf("%s failed with status 0x%04X: %s", e.Command, e.Status, e.ErrorComment)
	}
	return fmt.Sprintf("%s failed with status 0x%04X", e.Command, e.Status)
}
