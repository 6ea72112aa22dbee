package dimse

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MaxPresentationContexts is the protocol limit of presentation contexts in a
// single A-ASSOCIATE-RQ (IDs are the odd numbers 1..255).
const MaxPresentationContexts = 128

// Presentation context negotiation results
const (
	ResultAcceptance             byte = 0x00
	ResultUserRejection          byte = 0x01
	ResultNoReason               byte = 0x02
	ResultAbstractSyntaxRejected byte = 0x03
	ResultTransferSyntaxRejected byte = 0x04
)

// DialFunc opens the transport connection for an association.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ContextRequest describes one presentation context to propose.
type ContextRequest struct {
	AbstractSyntax   string
	TransferSyntaxes []string
	// SCPRole adds an SCP/SCU role selection item asking that we act as SCP
	// for this abstract syntax (needed to receive C-STORE over C-GET).
	SCPRole bool
}

// PresentationContext is a negotiated presentation context.
type PresentationContext struct {
	ID             byte
	AbstractSyntax string
	TransferSyntax string
	Result         byte
}

// Accepted reports whether the peer accepted the context.
func (pc *PresentationContext) Accepted() bool {
	return pc.Result == ResultAcceptance
}

// Association represents a DICOM association
type Association struct {
	conn         net.Conn
	callingAET   string
	calledAET    string
	host         string
	port         int
	maxPDULength uint32
	peerMaxPDU   uint32
	timeout      time.Duration
	dimseTimeout time.Duration
	dial         DialFunc
	requests     []ContextRequest
	contexts     map[byte]*PresentationContext
	contextOrder []byte
	messageID    uint16
	logger       zerolog.Logger
	mu           sync.Mutex
	isConnected  bool
}

// AssociationConfig holds configuration for DICOM associations
type AssociationConfig struct {
	Host       string
	Port       int
	CallingAET string
	CalledAET  string
	// Timeout bounds the TCP connect and the association handshake.
	Timeout time.Duration
	// DIMSETimeout bounds each PDU read or write after association.
	DIMSETimeout time.Duration
	MaxPDULength uint32
	Contexts     []ContextRequest
	Dial         DialFunc
	Logger       *zerolog.Logger
}

// NewAssociation creates a new DICOM association
func NewAssociation(config AssociationConfig) *Association {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.DIMSETimeout == 0 {
		config.DIMSETimeout = 120 * time.Second
	}
	if config.MaxPDULength == 0 {
		config.MaxPDULength = 16384 // 16KB default
	}
	if config.Dial == nil {
		dialer := &net.Dialer{Timeout: config.Timeout}
		config.Dial = dialer.DialContext
	}

	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	logger = logger.With().
		Str("called_ae", config.CalledAET).
		Str("remote", net.JoinHostPort(config.Host, strconv.Itoa(config.Port))).
		Logger()

	return &Association{
		callingAET:   config.CallingAET,
		calledAET:    config.CalledAET,
		host:         config.Host,
		port:         config.Port,
		maxPDULength: config.MaxPDULength,
		timeout:      config.Timeout,
		dimseTimeout: config.DIMSETimeout,
		dial:         config.Dial,
		requests:     config.Contexts,
		contexts:     make(map[byte]*PresentationContext),
		logger:       logger,
	}
}

// Connect establishes a DICOM association
func (a *Association) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.isConnected {
		return nil
	}
	if len(a.requests) == 0 {
		return fmt.Errorf("%w: no presentation contexts requested", ErrAssociationFailed)
	}
	if len(a.requests) > MaxPresentationContexts {
		return fmt.Errorf("%w: %d presentation contexts exceed limit of %d",
			ErrAssociationFailed, len(a.requests), MaxPresentationContexts)
	}

	// Create TCP connection
	addr := net.JoinHostPort(a.host, strconv.Itoa(a.port))
	dialCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	conn, err := a.dial(dialCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: failed to connect to PACS: %v", ErrAssociationFailed, err)
	}
	a.conn = conn

	// Send A-ASSOCIATE-RQ
	if err := a.sendAssociateRequest(ctx); err != nil {
		a.closeConn()
		return fmt.Errorf("%w: failed to send associate request: %v", ErrAssociationFailed, err)
	}

	// Receive A-ASSOCIATE-AC
	if err := a.receiveAssociateResponse(ctx); err != nil {
		a.closeConn()
		var rejectErr *RejectError
		if errors.As(err, &rejectErr) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrAssociationFailed, err)
	}

	a.isConnected = true

	accepted := 0
	for _, pc := range a.contexts {
		if pc.Accepted() {
			accepted++
		}
	}
	a.logger.Debug().
		Int("proposed", len(a.requests)).
		Int("accepted", accepted).
		Uint32("peer_max_pdu", a.peerMaxPDU).
		Msg("Association established")

	return nil
}

// Release performs an orderly A-RELEASE and closes the connection.
func (a *Association) Release(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isConnected {
		return nil
	}
	a.isConnected = false
	defer a.closeConn()

	if err := a.setDeadline(ctx, a.timeout); err != nil {
		return err
	}
	if err := writePDU(a.conn, PDUReleaseRQ, make([]byte, 4)); err != nil {
		return fmt.Errorf("failed to send release request: %w", err)
	}

	for {
		p, err := readPDU(a.conn)
		if err != nil {
			return fmt.Errorf("failed to receive release response: %w", err)
		}
		switch p.Type {
		case PDUReleaseRP:
			return nil
		case PDUAbort:
			return abortError(p.Payload)
		case PDUPDataTF:
			// Late data from the peer is discarded while releasing.
			continue
		default:
			return fmt.Errorf("%w: 0x%02x while awaiting release", ErrUnexpectedPDU, p.Type)
		}
	}
}

// Abort sends A-ABORT and drops the connection.
func (a *Association) Abort() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		return nil
	}
	a.isConnected = false
	defer a.closeConn()

	_ = a.conn.SetWriteDeadline(time.Now().Add(a.timeout))
	// Reserved, reserved, source 0 (service user), reason 0.
	return writePDU(a.conn, PDUAbort, []byte{0x00, 0x00, 0x00, 0x00})
}

// Close releases the association if it is still active
func (a *Association) Close() error {
	if !a.IsConnected() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.closeConn()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.Release(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Error releasing association")
		return err
	}
	return nil
}

// IsConnected checks if the association is still active
func (a *Association) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isConnected
}

// PresentationContexts returns the negotiated contexts in proposal order.
func (a *Association) PresentationContexts() []PresentationContext {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]PresentationContext, 0, len(a.contextOrder))
	for _, id := range a.contextOrder {
		out = append(out, *a.contexts[id])
	}
	return out
}

// AcceptedContext returns the first accepted context for abstractSyntax.
func (a *Association) AcceptedContext(abstractSyntax string) (*PresentationContext, error) {
	for _, id := range a.contextOrder {
		pc := a.contexts[id]
		if pc.AbstractSyntax == abstractSyntax && pc.Accepted() {
			return pc, nil
		}
	}
	return nil, fmt.Errorf("%w for %s", ErrNoPresentationContext, abstractSyntax)
}

func (a *Association) closeConn() {
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
}

// setDeadline applies min(ctx deadline, now+timeout) to the connection.
func (a *Association) setDeadline(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.conn.SetDeadline(deadline)
}

func (a *Association) nextMessageID() uint16 {
	a.messageID++
	if a.messageID == 0 {
		a.messageID = 1
	}
	return a.messageID
}

// sendAssociateRequest sends A-ASSOCIATE-RQ PDU
func (a *Association) sendAssociateRequest(ctx context.Context) error {
	if err := a.setDeadline(ctx, a.timeout); err != nil {
		return err
	}
	return writePDU(a.conn, PDUAssociateRQ, a.buildAssociateRequestPDU())
}

// receiveAssociateResponse receives A-ASSOCIATE-AC PDU
func (a *Association) receiveAssociateResponse(ctx context.Context) error {
	if err := a.setDeadline(ctx, a.timeout); err != nil {
		return err
	}

	p, err := readPDU(a.conn)
	if err != nil {
		return err
	}

	switch p.Type {
	case PDUAssociateAC:
		return a.parseAssociateAccept(p.Payload)
	case PDUAssociateRJ:
		if len(p.Payload) < 4 {
			return fmt.Errorf("malformed A-ASSOCIATE-RJ")
		}
		return &RejectError{Result: p.Payload[1], Source: p.Payload[2], Reason: p.Payload[3]}
	case PDUAbort:
		return abortError(p.Payload)
	default:
		return fmt.Errorf("%w: 0x%02x", ErrUnexpectedPDU, p.Type)
	}
}

// parseAssociateAccept records the negotiated contexts and peer limits.
func (a *Association) parseAssociateAccept(payload []byte) error {
	// Protocol version (2), reserved (2), AE titles (32), reserved (32).
	const fixedFields = 68
	if len(payload) < fixedFields {
		return fmt.Errorf("A-ASSOCIATE-AC too short: %d bytes", len(payload))
	}

	items, err := splitItems(payload[fixedFields:])
	if err != nil {
		return fmt.Errorf("malformed A-ASSOCIATE-AC: %w", err)
	}

	proposed := make(map[byte]ContextRequest, len(a.requests))
	for i, req := range a.requests {
		proposed[contextID(i)] = req
	}

	for _, it := range items {
		switch it.Type {
		case ItemPresentationContextAC:
			if len(it.Value) < 4 {
				return fmt.Errorf("presentation context item too short")
			}
			id := it.Value[0]
			req, ok := proposed[id]
			if !ok {
				return fmt.Errorf("peer answered unknown presentation context %d", id)
			}
			pc := &PresentationContext{
				ID:             id,
				AbstractSyntax: req.AbstractSyntax,
				Result:         it.Value[2],
			}
			subItems, err := splitItems(it.Value[4:])
			if err != nil {
				return fmt.Errorf("malformed presentation context %d: %w", id, err)
			}
			for _, sub := range subItems {
				if sub.Type == ItemTransferSyntax {
					pc.TransferSyntax = trimUID(sub.Value)
				}
			}
			if _, seen := a.contexts[id]; !seen {
				a.contextOrder = append(a.contextOrder, id)
			}
			a.contexts[id] = pc

		case ItemUserInformation:
			subItems, err := splitItems(it.Value)
			if err != nil {
				return fmt.Errorf("malformed user information: %w", err)
			}
			for _, sub := range subItems {
				if sub.Type == ItemMaxLength && len(sub.Value) >= 4 {
					a.peerMaxPDU = binary.BigEndian.Uint32(sub.Value)
				}
			}
		}
	}

	return nil
}

// buildAssociateRequestPDU builds the A-ASSOCIATE-RQ variable part
func (a *Association) buildAssociateRequestPDU() []byte {
	// Protocol version, reserved
	pdu := []byte{0x00, 0x01, 0x00, 0x00}

	// Called AE Title, Calling AE Title (16 bytes each, padded with spaces)
	pdu = append(pdu, padAET(a.calledAET)...)
	pdu = append(pdu, padAET(a.callingAET)...)

	// Reserved (32 bytes)
	pdu = append(pdu, make([]byte, 32)...)

	pdu = a.buildApplicationContext(pdu)
	pdu = a.buildPresentationContexts(pdu)
	return a.buildUserInformation(pdu)
}

// buildApplicationContext appends the Application Context item
func (a *Association) buildApplicationContext(pdu []byte) []byte {
	return appendItem(pdu, ItemApplicationContext, []byte(ApplicationContextUID))
}

// buildPresentationContexts appends one Presentation Context item per request
func (a *Association) buildPresentationContexts(pdu []byte) []byte {
	for i, req := range a.requests {
		pdu = appendItem(pdu, ItemPresentationContextRQ, buildPresentationContext(contextID(i), req))
	}
	return pdu
}

// buildPresentationContext builds the value of a single Presentation Context item
func buildPresentationContext(id byte, req ContextRequest) []byte {
	// Presentation Context ID, then 3 reserved bytes
	value := []byte{id, 0x00, 0x00, 0x00}
	value = appendItem(value, ItemAbstractSyntax, []byte(req.AbstractSyntax))

	syntaxes := req.TransferSyntaxes
	if len(syntaxes) == 0 {
		syntaxes = DefaultTransferSyntaxes()
	}
	for _, ts := range syntaxes {
		value = appendItem(value, ItemTransferSyntax, []byte(ts))
	}
	return value
}

// buildUserInformation appends the User Information item
func (a *Association) buildUserInformation(pdu []byte) []byte {
	var value []byte

	maxLength := binary.BigEndian.AppendUint32(nil, a.maxPDULength)
	value = appendItem(value, ItemMaxLength, maxLength)
	value = appendItem(value, ItemImplementationClass, []byte(ImplementationClassUID))

	// SCP/SCU role selection: UID length, UID, SCU role, SCP role.
	seen := make(map[string]bool)
	for _, req := range a.requests {
		if !req.SCPRole || seen[req.AbstractSyntax] {
			continue
		}
		seen[req.AbstractSyntax] = true
		role := binary.BigEndian.AppendUint16(nil, uint16(len(req.AbstractSyntax)))
		role = append(role, req.AbstractSyntax...)
		role = append(role, 0x00, 0x01)
		value = appendItem(value, ItemRoleSelection, role)
	}

	value = appendItem(value, ItemImplementationVersion, []byte(ImplementationVersionName))
	return appendItem(pdu, ItemUserInformation, value)
}

// contextID maps a proposal index to its odd presentation context ID.
func contextID(index int) byte {
	return byte(2*index + 1)
}

func abortError(payload []byte) error {
	abort := &AbortError{}
	if len(payload) >= 4 {
		abort.Source = payload[2]
		abort.Reason = payload[3]
	}
	return abort
}
