// Package dimsetest provides an in-process DICOM SCP for protocol tests.
//
// A Server hands out net.Pipe connections through its Dial method, which
// plugs straight into dimse.AssociationConfig.Dial. Each connection is served
// by a goroutine that accepts the association and passes every DIMSE request
// to the test's HandlerFunc.
package dimsetest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/LadislavGaza/neurai-api/pkg/dimse"
)

// ErrReleased is returned by Session.Receive when the SCU released the association.
var ErrReleased = errors.New("association released")

// Request is a DIMSE message received by the fake SCP.
type Request struct {
	ContextID      byte
	AbstractSyntax string
	TransferSyntax string
	Command        *dimse.Command
	Data           []byte
}

// HandlerFunc answers one request. Returning an error aborts the association.
type HandlerFunc func(s *Session, req *Request) error

// ProposedContext is a presentation context from the last A-ASSOCIATE-RQ.
type ProposedContext struct {
	ID               byte
	AbstractSyntax   string
	TransferSyntaxes []string
}

// Option configures a Server.
type Option func(*Server)

// WithReject makes the server answer every A-ASSOCIATE-RQ with A-ASSOCIATE-RJ.
func WithReject(result, source, reason byte) Option {
	return func(s *Server) {
		s.reject = []byte{0x00, result, source, reason}
	}
}

// WithTransferSyntax makes the server accept ts whenever the SCU proposes it.
func WithTransferSyntax(ts string) Option {
	return func(s *Server) {
		s.preferred = ts
	}
}

// WithRejectedAbstractSyntax makes the server reject contexts for uid.
func WithRejectedAbstractSyntax(uid string) Option {
	return func(s *Server) {
		s.rejected = append(s.rejected, uid)
	}
}

// WithMaxPDU sets the maximum PDU length announced in the A-ASSOCIATE-AC.
func WithMaxPDU(n uint32) Option {
	return func(s *Server) {
		s.maxPDU = n
	}
}

// Server is a fake DICOM SCP.
type Server struct {
	t         testing.TB
	handler   HandlerFunc
	reject    []byte
	preferred string
	rejected  []string
	maxPDU    uint32

	mu       sync.Mutex
	proposed []ProposedContext
	roles    []string
	released bool

	wg sync.WaitGroup
}

// NewServer returns a Server that passes requests to handler. Serving
// goroutines are awaited when the test finishes.
func NewServer(t testing.TB, handler HandlerFunc, opts ...Option) *Server {
	s := &Server{t: t, handler: handler, maxPDU: 16384}
	for _, opt := range opts {
		opt(s)
	}
	t.Cleanup(s.wg.Wait)
	return s
}

// Dial satisfies dimse.DialFunc.
func (s *Server) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	client, server := net.Pipe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer server.Close()
		if err := s.serve(server); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
			s.t.Logf("dimsetest: %v", err)
		}
	}()
	return client, nil
}

// Proposed returns the presentation contexts of the last association request.
func (s *Server) Proposed() []ProposedContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.proposed)
}

// RoleSelections returns the abstract syntaxes for which the SCU asked the
// SCP role in the last association request.
func (s *Server) RoleSelections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.roles)
}

// Released reports whether the last association ended with A-RELEASE.
func (s *Server) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *Server) markReleased() {
	s.mu.Lock()
	s.released = true
	s.mu.Unlock()
}

func (s *Server) serve(conn net.Conn) error {
	pduType, payload, err := readPDU(conn)
	if err != nil {
		return err
	}
	if pduType != dimse.PDUAssociateRQ {
		return fmt.Errorf("expected A-ASSOCIATE-RQ, got 0x%02x", pduType)
	}

	rq, err := parseAssociateRQ(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.proposed = rq.contexts
	s.roles = rq.roles
	s.released = false
	s.mu.Unlock()

	if s.reject != nil {
		return writePDU(conn, dimse.PDUAssociateRJ, s.reject)
	}

	session := &Session{
		conn:      conn,
		contexts:  make(map[byte]acceptedContext),
		maxPDU:    rq.maxPDU,
		onRelease: s.markReleased,
	}
	if err := writePDU(conn, dimse.PDUAssociateAC, s.buildAccept(rq, session)); err != nil {
		return err
	}

	for {
		req, err := session.Receive()
		if errors.Is(err, ErrReleased) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.handler(session, req); err != nil {
			_ = writePDU(conn, dimse.PDUAbort, []byte{0, 0, 2, 0})
			return err
		}
	}
}

type associateRQ struct {
	aeTitles []byte
	contexts []ProposedContext
	roles    []string
	maxPDU   uint32
}

func parseAssociateRQ(payload []byte) (*associateRQ, error) {
	if len(payload) < 68 {
		return nil, fmt.Errorf("A-ASSOCIATE-RQ too short")
	}
	rq := &associateRQ{aeTitles: payload[4:36]}

	items, err := splitItems(payload[68:])
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		switch it.typ {
		case dimse.ItemPresentationContextRQ:
			pc := ProposedContext{ID: it.value[0]}
			subItems, err := splitItems(it.value[4:])
			if err != nil {
				return nil, err
			}
			for _, sub := range subItems {
				switch sub.typ {
				case dimse.ItemAbstractSyntax:
					pc.AbstractSyntax = trim(sub.value)
				case dimse.ItemTransferSyntax:
					pc.TransferSyntaxes = append(pc.TransferSyntaxes, trim(sub.value))
				}
			}
			rq.contexts = append(rq.contexts, pc)

		case dimse.ItemUserInformation:
			subItems, err := splitItems(it.value)
			if err != nil {
				return nil, err
			}
			for _, sub := range subItems {
				switch sub.typ {
				case dimse.ItemMaxLength:
					rq.maxPDU = binary.BigEndian.Uint32(sub.value)
				case dimse.ItemRoleSelection:
					n := int(binary.BigEndian.Uint16(sub.value))
					if sub.value[2+n+1] == 0x01 {
						rq.roles = append(rq.roles, string(sub.value[2:2+n]))
					}
				}
			}
		}
	}
	return rq, nil
}

func (s *Server) buildAccept(rq *associateRQ, session *Session) []byte {
	out := []byte{0x00, 0x01, 0x00, 0x00}
	out = append(out, rq.aeTitles...)
	out = append(out, make([]byte, 32)...)
	out = appendItem(out, dimse.ItemApplicationContext, []byte(dimse.ApplicationContextUID))

	for _, pc := range rq.contexts {
		result := dimse.ResultAcceptance
		ts := pc.TransferSyntaxes[0]
		if s.preferred != "" && slices.Contains(pc.TransferSyntaxes, s.preferred) {
			ts = s.preferred
		}
		if slices.Contains(s.rejected, pc.AbstractSyntax) {
			result = dimse.ResultAbstractSyntaxRejected
		} else {
			session.contexts[pc.ID] = acceptedContext{abstractSyntax: pc.AbstractSyntax, transferSyntax: ts}
		}

		value := []byte{pc.ID, 0x00, result, 0x00}
		value = appendItem(value, dimse.ItemTransferSyntax, []byte(ts))
		out = appendItem(out, dimse.ItemPresentationContextAC, value)
	}

	userInfo := appendItem(nil, dimse.ItemMaxLength, binary.BigEndian.AppendUint32(nil, s.maxPDU))
	return appendItem(out, dimse.ItemUserInformation, userInfo)
}

type acceptedContext struct {
	abstractSyntax string
	transferSyntax string
}

// Session is one accepted association as seen by the fake SCP.
type Session struct {
	conn      net.Conn
	contexts  map[byte]acceptedContext
	maxPDU    uint32
	messageID uint16

	// onRelease runs before A-RELEASE-RP is sent, so the SCU never sees
	// the reply ahead of the server recording the release.
	onRelease func()
}

// ContextFor returns the accepted context ID and transfer syntax for uid.
func (s *Session) ContextFor(uid string) (byte, string, bool) {
	ids := make([]byte, 0, len(s.contexts))
	for id := range s.contexts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if s.contexts[id].abstractSyntax == uid {
			return id, s.contexts[id].transferSyntax, true
		}
	}
	return 0, "", false
}

// NextMessageID returns a fresh message ID for SCP-initiated requests.
func (s *Session) NextMessageID() uint16 {
	s.messageID++
	return s.messageID
}

// Respond answers req with a response command carrying status and data.
func (s *Session) Respond(req *Request, status uint16, data []byte, counters ...uint16) error {
	rsp := &dimse.Command{
		CommandField:              req.Command.CommandField | 0x8000,
		MessageIDBeingRespondedTo: req.Command.MessageID,
		AffectedSOPClassUID:       req.Command.AffectedSOPClassUID,
		Status:                    status,
	}
	if len(counters) == 4 {
		rsp.RemainingSubOperations = dimse.Uint16Ptr(counters[0])
		rsp.CompletedSubOperations = dimse.Uint16Ptr(counters[1])
		rsp.FailedSubOperations = dimse.Uint16Ptr(counters[2])
		rsp.WarningSubOperations = dimse.Uint16Ptr(counters[3])
	}
	return s.Send(req.ContextID, rsp, data)
}

// Send writes cmd and optional data on contextID, fragmenting the data set
// to the SCU's maximum PDU length.
func (s *Session) Send(contextID byte, cmd *dimse.Command, data []byte) error {
	cmd.CommandDataSetType = dimse.NoDataSet
	if data != nil {
		cmd.CommandDataSetType = dimse.DataSetPresent
	}
	if err := s.sendPDV(contextID, 0x03, dimse.EncodeCommand(cmd)); err != nil {
		return err
	}
	if data == nil {
		return nil
	}

	maxFragment := len(data)
	if s.maxPDU > 6 {
		maxFragment = int(s.maxPDU) - 6
	}
	for offset := 0; ; {
		end := min(offset+maxFragment, len(data))
		control := byte(0x00)
		if end == len(data) {
			control = 0x02
		}
		if err := s.sendPDV(contextID, control, data[offset:end]); err != nil {
			return err
		}
		offset = end
		if offset >= len(data) {
			return nil
		}
	}
}

func (s *Session) sendPDV(contextID, control byte, fragment []byte) error {
	pdv := binary.BigEndian.AppendUint32(nil, uint32(len(fragment)+2))
	pdv = append(pdv, contextID, control)
	pdv = append(pdv, fragment...)
	return writePDU(s.conn, dimse.PDUPDataTF, pdv)
}

// Receive reads the next complete DIMSE message.
func (s *Session) Receive() (*Request, error) {
	var (
		commandBuf []byte
		dataBuf    []byte
		req        *Request
	)
	for {
		pduType, payload, err := readPDU(s.conn)
		if err != nil {
			return nil, err
		}
		switch pduType {
		case dimse.PDUReleaseRQ:
			if s.onRelease != nil {
				s.onRelease()
			}
			if err := writePDU(s.conn, dimse.PDUReleaseRP, make([]byte, 4)); err != nil {
				return nil, err
			}
			return nil, ErrReleased
		case dimse.PDUAbort:
			return nil, io.EOF
		case dimse.PDUPDataTF:
		default:
			return nil, fmt.Errorf("unexpected PDU 0x%02x", pduType)
		}

		for len(payload) > 0 {
			length := int(binary.BigEndian.Uint32(payload))
			contextID, control := payload[4], payload[5]
			fragment := payload[6 : 4+length]
			payload = payload[4+length:]

			if control&0x01 != 0 {
				commandBuf = append(commandBuf, fragment...)
				if control&0x02 == 0 {
					continue
				}
				cmd, err := dimse.DecodeCommand(commandBuf)
				if err != nil {
					return nil, err
				}
				pc := s.contexts[contextID]
				req = &Request{
					ContextID:      contextID,
					AbstractSyntax: pc.abstractSyntax,
					TransferSyntax: pc.transferSyntax,
					Command:        cmd,
				}
				if !cmd.HasDataSet() {
					return req, nil
				}
				continue
			}

			dataBuf = append(dataBuf, fragment...)
			if control&0x02 != 0 {
				req.Data = dataBuf
				return req, nil
			}
		}
	}
}

func readPDU(r io.Reader) (byte, []byte, error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	payload := make([]byte, binary.BigEndian.Uint32(header[2:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return header[0], payload, nil
}

func writePDU(w io.Writer, pduType byte, payload []byte) error {
	buf := []byte{pduType, 0x00}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	_, err := w.Write(append(buf, payload...))
	return err
}

type item struct {
	typ   byte
	value []byte
}

func splitItems(data []byte) ([]item, error) {
	var items []item
	for len(data) >= 4 {
		n := int(binary.BigEndian.Uint16(data[2:4]))
		if 4+n > len(data) {
			return nil, fmt.Errorf("item 0x%02x overruns PDU", data[0])
		}
		items = append(items, item{typ: data[0], value: data[4 : 4+n]})
		data = data[4+n:]
	}
	return items, nil
}

func appendItem(buf []byte, typ byte, value []byte) []byte {
	buf = append(buf, typ, 0x00)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(value)))
	return append(buf, value...)
}

func trim(b []byte) string {
	return strings.TrimRight(string(b), "\x00 ")
}
