package s7comm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/icsguard/honeypot/logstore"
	"github.com/icsguard/honeypot/memimage"
)

const inactivityTimeout = 30 * time.Second

// InteractionLogger is the subset of *logstore.Store the handler needs.
type InteractionLogger interface {
	Record(ctx context.Context, rec logstore.Record) error
}

// Server listens on one TCP port (default 102) and runs the COTP/S7
// connection state machine of spec §4.6 per accepted connection.
type Server struct {
	listener net.Listener
	img      *memimage.S7Image
	model    ModelProfile
	store    InteractionLogger
	log      *slog.Logger

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// Listen binds port for an S7 device backed by img and emulating model.
func Listen(port string, img *memimage.S7Image, model ModelProfile, store InteractionLogger, log *slog.Logger) (*Server, error) {
	l, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, fmt.Errorf("s7comm: listen on %s: %w", port, err)
	}
	return &Server{
		listener: l,
		img:      img,
		model:    model,
		store:    store,
		log:      log,
		shutdown: make(chan struct{}),
	}, nil
}

func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Start accepts connections until Stop is called.
func (s *Server) Start() {
	s.wg.Add(1)
	go s.acceptLoop()
}

// Stop closes the listener and waits for in-flight connections.
func (s *Server) Stop() {
	close(s.shutdown)
	s.listener.Close()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		tcpConn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				if s.log != nil {
					s.log.Warn("accept failed", "error", err)
				}
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c := &conn{
				tcp:   tcpConn,
				img:   s.img,
				model: s.model,
				store: s.store,
				log:   s.log,
			}
			c.serve()
		}()
	}
}

// conn is the per-connection state machine: Listen -> Connected.
type conn struct {
	tcp     net.Conn
	img     *memimage.S7Image
	model   ModelProfile
	store   InteractionLogger
	log     *slog.Logger
	srcRef  uint16
}

func (c *conn) serve() {
	defer c.tcp.Close()
	sourceIP, _, _ := net.SplitHostPort(c.tcp.RemoteAddr().String())
	ctx := context.Background()

	if !c.awaitConnect(ctx, sourceIP) {
		return
	}

	for {
		c.tcp.SetReadDeadline(time.Now().Add(inactivityTimeout))
		raw, err := readTPKTFrame(c.tcp)
		if err != nil {
			return
		}
		s7pdu, err := parseCOTPData(raw[tpktHdrLen:])
		if err != nil {
			continue
		}
		resp, meta := c.handleS7PDU(s7pdu)
		if resp == nil {
			continue
		}
		out := buildTPKT(buildCOTPDataHeader(resp))
		c.logInteraction(ctx, sourceIP, raw, out, meta)
		if _, err := c.tcp.Write(out); err != nil {
			return
		}
	}
}

// awaitConnect runs the Listen state: receive COTP CR, validate the
// requested slot, and reply CC or DR per spec §4.6.
func (c *conn) awaitConnect(ctx context.Context, sourceIP string) bool {
	raw, err := readTPKTFrame(c.tcp)
	if err != nil {
		return false
	}
	cotpBody := raw[tpktHdrLen:]
	if len(cotpBody) < 1 {
		return false
	}
	cr, err := parseCOTPConnect(cotpBody[1:])
	if err != nil {
		return false
	}
	c.srcRef = cr.srcRef

	if !cr.valid || !c.model.ValidSlots[cr.slot] {
		dr := buildTPKT(buildCOTPDisconnect(cr.srcRef, 0x01))
		meta := map[string]string{"s7.action": "reject_connection"}
		c.logInteraction(ctx, sourceIP, raw, dr, meta)
		c.tcp.Write(dr)
		return false
	}

	cc := buildTPKT(buildCOTPCC(cr.srcRef))
	meta := map[string]string{"s7.action": "accept_connection"}
	c.logInteraction(ctx, sourceIP, raw, cc, meta)
	_, err = c.tcp.Write(cc)
	return err == nil
}

func (c *conn) handleS7PDU(raw []byte) ([]byte, map[string]string) {
	header, body, err := parseS7Header(raw)
	if err != nil {
		return nil, map[string]string{"s7.action": "malformed_pdu"}
	}
	param := body[:header.paramLen]
	data := body[header.paramLen:]

	switch header.rosctr {
	case rosctrJob:
		return c.handleJob(header.pduRef, param, data)
	case rosctrUserData:
		meta := map[string]string{"s7.rosctr": "userdata"}
		resp := c.handleUserData(header.pduRef, param, data, meta)
		return resp, meta
	default:
		return nil, map[string]string{"s7.rosctr": "unsupported"}
	}
}

func (c *conn) logInteraction(ctx context.Context, sourceIP string, req, resp []byte, meta map[string]string) {
	if c.store == nil {
		return
	}
	meta["s7.tpkt_len"] = fmt.Sprintf("%d", len(req))
	rec := logstore.Record{
		Timestamp: time.Now(),
		SourceIP:  sourceIP,
		Protocol:  "s7comm",
		Request:   req,
		Response:  resp,
		Metadata:  meta,
	}
	if err := c.store.Record(ctx, rec); err != nil && c.log != nil {
		c.log.Error("failed to record interaction", "error", err)
	}
}

// readTPKTFrame reads one complete TPKT frame (header + payload).
func readTPKTFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, tpktHdrLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	total, err := tpktTotalLength(header)
	if err != nil {
		return nil, err
	}
	if total < tpktHdrLen {
		return nil, errShortFrame
	}
	rest := make([]byte, total-tpktHdrLen)
	if len(rest) > 0 {
		if _, err := io.ReadFull(r, rest); err != nil {
			return nil, err
		}
	}
	return append(header, rest...), nil
}
