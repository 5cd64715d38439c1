package ncp

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// ErrClosed is returned by requests on a closed or resetting NCP.
var ErrClosed = errors.New("ncp closed")

// Serial implements NCP over a ZBOSS NCP serial link.
type Serial struct {
	port   io.ReadWriteCloser
	open   func() (io.ReadWriteCloser, error)
	reader *bufio.Reader
	logger *slog.Logger

	// HL request/response tracking, keyed by TSN.
	tsn     atomic.Uint32
	pending map[uint8]chan *frame
	pendMu  sync.Mutex

	// LL packet sequencing and ACK.
	pktSeq  uint8
	seqMu   sync.Mutex
	ackCh   chan uint8
	writeMu sync.Mutex

	zclSeq atomic.Uint32
	zdoSeq atomic.Uint32

	handlerMu  sync.RWMutex
	onGPData   func(GPDataIndication)
	onGPSecReq func(GPSecRequest)
	onCluster  func(ClusterCommandEvent)
	onAnnounce func(DeviceAnnounceEvent)
	onReset    func()

	resetIndCh chan struct{}
	info       NCPInfo

	// lifecycleMu guards port, done, ackCh and closeOnce across resets.
	lifecycleMu sync.Mutex
	done        chan struct{}
	closeOnce   sync.Once
	closed      bool
	wg          sync.WaitGroup
}

// Open opens a serial port and starts the NCP read loop.
func Open(portName string, baudRate int, logger *slog.Logger) (*Serial, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	open := func() (io.ReadWriteCloser, error) {
		port, err := serial.Open(portName, mode)
		if err != nil {
			return nil, fmt.Errorf("ncp: open %s: %w", portName, err)
		}
		// CDC ACM firmware does not start sending until DTR is asserted.
		_ = port.SetDTR(true)
		_ = port.SetRTS(true)
		return port, nil
	}
	port, err := open()
	if err != nil {
		return nil, err
	}
	return newSerial(port, open, logger), nil
}

func newSerial(port io.ReadWriteCloser, open func() (io.ReadWriteCloser, error), logger *slog.Logger) *Serial {
	n := &Serial{
		port:       port,
		open:       open,
		reader:     bufio.NewReader(port),
		logger:     logger.With("component", "ncp"),
		pending:    make(map[uint8]chan *frame),
		ackCh:      make(chan uint8, 4),
		resetIndCh: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	n.wg.Add(1)
	go n.readLoop()
	return n
}

func (n *Serial) nextTSN() uint8    { return uint8(n.tsn.Add(1)) }
func (n *Serial) nextZCLSeq() uint8 { return uint8(n.zclSeq.Add(1)) }

// nextPktSeq advances the LL packet sequence (cycles 1→2→3→1).
func (n *Serial) nextPktSeq() uint8 {
	n.seqMu.Lock()
	defer n.seqMu.Unlock()
	n.pktSeq = n.pktSeq%3 + 1
	return n.pktSeq
}

const (
	ackTimeout  = 500 * time.Millisecond
	maxRetries  = 3
	respTimeout = 5 * time.Second
)

// request sends an HL request and waits for the HL response. A response
// with a non-OK status is returned together with an error.
func (n *Serial) request(ctx context.Context, callID uint16, payload []byte) (*frame, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, respTimeout)
		defer cancel()
	}
	tsn := n.nextTSN()
	ch := make(chan *frame, 1)
	n.pendMu.Lock()
	n.pending[tsn] = ch
	n.pendMu.Unlock()
	defer func() {
		n.pendMu.Lock()
		delete(n.pending, tsn)
		n.pendMu.Unlock()
	}()

	seq := n.nextPktSeq()
	name := callName(callID)
	if err := n.writeWithACK(ctx, encodeRequest(callID, tsn, seq, payload), seq); err != nil {
		return nil, fmt.Errorf("ncp write %s: %w", name, err)
	}
	n.logger.Debug("zboss TX", "cmd", name, "tsn", tsn, "payload", fmt.Sprintf("%X", payload))

	done := n.doneCh()
	select {
	case rsp := <-ch:
		if rsp == nil {
			return nil, fmt.Errorf("%s: %w", name, ErrClosed)
		}
		status := statusName(rsp.HL.StatusCat, rsp.HL.StatusCode)
		if !rsp.ok() {
			n.logger.Warn("zboss RX", "cmd", name, "tsn", tsn, "status", status)
			return rsp, fmt.Errorf("zboss %s: %s", name, status)
		}
		n.logger.Debug("zboss RX", "cmd", name, "tsn", tsn, "payload", fmt.Sprintf("%X", rsp.Payload))
		return rsp, nil
	case <-ctx.Done():
		n.logger.Warn("zboss timeout", "cmd", name, "tsn", tsn, "err", ctx.Err())
		return nil, ctx.Err()
	case <-done:
		return nil, ErrClosed
	}
}

func (n *Serial) doneCh() chan struct{} {
	n.lifecycleMu.Lock()
	defer n.lifecycleMu.Unlock()
	return n.done
}

// writeWithACK writes a frame and waits for the matching LL ACK, retrying
// on timeout.
func (n *Serial) writeWithACK(ctx context.Context, raw []byte, seq uint8) error {
	n.lifecycleMu.Lock()
	port, ackCh, done := n.port, n.ackCh, n.done
	n.lifecycleMu.Unlock()

	for attempt := 0; attempt <= maxRetries; attempt++ {
		n.writeMu.Lock()
		_, err := port.Write(raw)
		n.writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("serial write: %w", err)
		}

		deadline := time.NewTimer(ackTimeout)
	wait:
		for {
			select {
			case got := <-ackCh:
				if got == seq {
					deadline.Stop()
					return nil
				}
				n.logger.Debug("zboss stale ACK drained", "got", got, "want", seq)
			case <-deadline.C:
				n.logger.Warn("zboss ACK timeout", "attempt", attempt+1, "seq", seq)
				break wait
			case <-ctx.Done():
				deadline.Stop()
				return ctx.Err()
			case <-done:
				deadline.Stop()
				return ErrClosed
			}
		}
	}
	return fmt.Errorf("zboss ACK timeout after %d attempts", maxRetries+1)
}

func (n *Serial) sendACK(seq uint8) {
	n.writeMu.Lock()
	_, err := n.port.Write(encodeACK(seq))
	n.writeMu.Unlock()
	if err != nil {
		n.logger.Error("zboss send ACK failed", "err", err)
	}
}

func (n *Serial) readLoop() {
	defer n.wg.Done()

	backoff := 10 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		select {
		case <-n.done:
			return
		default:
		}

		raw, err := readRawFrame(n.reader)
		if err != nil {
			select {
			case <-n.done:
				return
			default:
			}
			if err != io.EOF && !strings.Contains(err.Error(), "closed") {
				n.logger.Error("ncp read error", "err", err)
			}
			select {
			case <-time.After(backoff):
			case <-n.done:
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = 10 * time.Millisecond

		f, err := decodeFrame(raw)
		if err != nil {
			n.logger.Warn("zboss decode error", "err", err)
			continue
		}
		if f.isACK() {
			select {
			case n.ackCh <- f.ackSeq():
			default:
			}
			continue
		}
		n.sendACK(f.pktSeq())

		switch f.HL.PacketType {
		case hlResponse:
			n.pendMu.Lock()
			ch, ok := n.pending[f.HL.TSN]
			n.pendMu.Unlock()
			if !ok {
				n.logger.Warn("zboss orphaned response", "cmd", callName(f.HL.CallID), "tsn", f.HL.TSN,
					"status", statusName(f.HL.StatusCat, f.HL.StatusCode))
				continue
			}
			select {
			case ch <- f:
			default:
			}
		case hlIndication:
			n.handleIndication(f)
		}
	}
}

// handleIndication dispatches an indication to its callback. Callbacks
// run on the read loop and must not issue requests synchronously.
func (n *Serial) handleIndication(f *frame) {
	n.handlerMu.RLock()
	onGPData, onGPSecReq, onCluster, onAnnounce, onReset := n.onGPData, n.onGPSecReq, n.onCluster, n.onAnnounce, n.onReset
	n.handlerMu.RUnlock()

	switch f.HL.CallID {
	case callGPDataInd:
		ind, err := parseGPDataInd(f.Payload)
		if err != nil {
			n.logger.Warn("bad GP data indication", "err", err, "payload", fmt.Sprintf("%X", f.Payload))
			return
		}
		if onGPData != nil {
			onGPData(ind)
		}

	case callGPSecReqInd:
		req, err := parseGPSecReq(f.Payload)
		if err != nil {
			n.logger.Warn("bad GP sec request", "err", err, "payload", fmt.Sprintf("%X", f.Payload))
			return
		}
		if onGPSecReq != nil {
			onGPSecReq(req)
		}

	case callGPDataCnfInd:
		if len(f.Payload) >= 2 {
			n.logger.Debug("GP data confirm", "status", f.Payload[0], "handle", f.Payload[1])
		}

	case callAPSDEDataInd:
		evt, err := parseAPSDEDataInd(f.Payload)
		if err != nil {
			n.logger.Warn("bad APSDE indication", "err", err)
			return
		}
		if onCluster != nil {
			onCluster(evt)
		}

	case callZDODevAnnceInd:
		// nwk_addr(2) + ieee(8) + capability(1)
		if onAnnounce != nil && len(f.Payload) >= 11 {
			evt := DeviceAnnounceEvent{
				ShortAddr:  binary.LittleEndian.Uint16(f.Payload[0:2]),
				Capability: f.Payload[10],
			}
			copy(evt.IEEEAddr[:], f.Payload[2:10])
			onAnnounce(evt)
		}

	case callNCPResetInd:
		n.logger.Warn("NCP reset indication")
		select {
		case n.resetIndCh <- struct{}{}:
		default:
		}
		if onReset != nil {
			onReset()
		}

	default:
		n.logger.Debug("zboss unhandled indication", "cmd", callName(f.HL.CallID), "payload", fmt.Sprintf("%X", f.Payload))
	}
}

// Reset reboots the NCP and reconnects once the USB device re-enumerates.
func (n *Serial) Reset(ctx context.Context) error {
	// The NCP's expected LL sequence is unknown after a host restart, so the
	// reset goes out with every sequence; only the matching one is taken.
	tsn := n.nextTSN()
	for _, seq := range []uint8{1, 2, 3} {
		n.writeMu.Lock()
		_, _ = n.port.Write(encodeRequest(callNCPReset, tsn, seq, []byte{0x00}))
		n.writeMu.Unlock()
	}
	time.Sleep(100 * time.Millisecond)
	n.logger.Info("NCP reset sent, waiting for reconnect")

	n.stopLoop(n.port)

	for attempt := 1; attempt <= 30; attempt++ {
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
		port, err := n.open()
		if err != nil {
			n.logger.Debug("waiting for NCP", "attempt", attempt, "err", err)
			continue
		}
		n.resetState(port)

		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		_, err = n.request(probeCtx, callGetModuleVersion, nil)
		cancel()
		if err == nil {
			n.logger.Info("NCP reconnected", "attempts", attempt)
			select {
			case <-n.resetIndCh:
			case <-time.After(3 * time.Second):
				n.logger.Warn("NCP reset indication not received, proceeding")
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		}
		n.logger.Debug("NCP not ready yet", "attempt", attempt, "err", err)
		n.stopLoop(port)
	}
	return errors.New("NCP did not recover after reset")
}

// stopLoop closes port and waits for the read loop to exit.
func (n *Serial) stopLoop(port io.Closer) {
	n.lifecycleMu.Lock()
	n.closeOnce.Do(func() { close(n.done) })
	_ = port.Close()
	n.lifecycleMu.Unlock()
	n.wg.Wait()
}

// resetState installs a new port and restarts the read loop. The previous
// read loop must have exited.
func (n *Serial) resetState(port io.ReadWriteCloser) {
	n.lifecycleMu.Lock()
	n.port = port
	n.reader = bufio.NewReader(port)
	n.done = make(chan struct{})
	n.ackCh = make(chan uint8, 4)
	n.resetIndCh = make(chan struct{}, 1)
	n.closeOnce = sync.Once{}
	n.lifecycleMu.Unlock()

	n.failPending()
	n.seqMu.Lock()
	n.pktSeq = 0
	n.seqMu.Unlock()
	n.tsn.Store(0)

	n.wg.Add(1)
	go n.readLoop()
}

func (n *Serial) failPending() {
	n.pendMu.Lock()
	defer n.pendMu.Unlock()
	for tsn, ch := range n.pending {
		close(ch)
		delete(n.pending, tsn)
	}
}

// Init reads the firmware version.
func (n *Serial) Init(ctx context.Context) error {
	rsp, err := n.request(ctx, callGetModuleVersion, nil)
	if err != nil {
		return err
	}
	if len(rsp.Payload) >= 12 {
		stack := binary.LittleEndian.Uint32(rsp.Payload[4:8])
		n.info = NCPInfo{
			FWVersion:       binary.LittleEndian.Uint32(rsp.Payload[0:4]),
			StackVersion:    fmt.Sprintf("%d.%d.%d.%d", stack>>24, (stack>>16)&0xFF, (stack>>8)&0xFF, stack&0xFF),
			ProtocolVersion: binary.LittleEndian.Uint32(rsp.Payload[8:12]),
		}
		n.logger.Info("NCP module version", "fw", n.info.FWVersion, "stack", n.info.StackVersion, "protocol", n.info.ProtocolVersion)
	}
	return nil
}

// StartNetwork resumes the commissioned network and registers the local
// endpoints.
func (n *Serial) StartNetwork(ctx context.Context, endpoints []SimpleDescriptor) error {
	if _, err := n.request(ctx, callNwkStartWithoutForm, nil); err != nil {
		return fmt.Errorf("start network: %w", err)
	}
	if _, err := n.request(ctx, callSetRxOnWhenIdle, []byte{0x01}); err != nil {
		return fmt.Errorf("set rx on when idle: %w", err)
	}
	for _, d := range endpoints {
		if _, err := n.request(ctx, callAFSetSimpleDesc, buildSimpleDescPayload(d)); err != nil {
			return fmt.Errorf("register endpoint %d: %w", d.Endpoint, err)
		}
	}
	return nil
}

// NetworkInfo queries channel, PAN ids and our short address.
func (n *Serial) NetworkInfo(ctx context.Context) (*NetworkInfo, error) {
	info := &NetworkInfo{}
	rsp, err := n.request(ctx, callGetChannel, nil)
	if err != nil {
		return nil, fmt.Errorf("network info: %w", err)
	}
	// channel_page(1) + channel(1)
	if len(rsp.Payload) >= 2 {
		info.Channel = rsp.Payload[1]
	}
	if rsp, err = n.request(ctx, callGetPanID, nil); err != nil {
		return nil, fmt.Errorf("network info: %w", err)
	}
	if len(rsp.Payload) >= 2 {
		info.PanID = binary.LittleEndian.Uint16(rsp.Payload)
	}
	if rsp, err = n.request(ctx, callGetExtPanID, nil); err == nil && len(rsp.Payload) >= 8 {
		copy(info.ExtPanID[:], rsp.Payload[:8])
	}
	ieee, err := n.GetLocalIEEE(ctx)
	if err != nil {
		return nil, err
	}
	if rsp, err = n.request(ctx, callNwkGetShortByIEEE, ieee[:]); err != nil {
		return nil, fmt.Errorf("network info: short address: %w", err)
	}
	if len(rsp.Payload) >= 2 {
		info.ShortAddr = binary.LittleEndian.Uint16(rsp.Payload)
	}
	return info, nil
}

// GetLocalIEEE returns our IEEE address, least significant byte first.
func (n *Serial) GetLocalIEEE(ctx context.Context) ([8]byte, error) {
	var ieee [8]byte
	// mac_interface_num(1) → mac_interface_num(1) + ieee(8)
	rsp, err := n.request(ctx, callGetLocalIEEE, []byte{0x00})
	if err != nil {
		return ieee, fmt.Errorf("get local ieee: %w", err)
	}
	if len(rsp.Payload) < 9 {
		return ieee, fmt.Errorf("get local ieee: %w", errShortPayload)
	}
	copy(ieee[:], rsp.Payload[1:9])
	return ieee, nil
}

// GetNwkKey returns the active network key.
func (n *Serial) GetNwkKey(ctx context.Context) ([16]byte, error) {
	var key [16]byte
	// nwk_key(16) + key_number(1), repeated; the first is active.
	rsp, err := n.request(ctx, callGetNwkKeys, nil)
	if err != nil {
		return key, fmt.Errorf("get nwk key: %w", err)
	}
	if len(rsp.Payload) < 16 {
		return key, fmt.Errorf("get nwk key: %w", errShortPayload)
	}
	copy(key[:], rsp.Payload[:16])
	return key, nil
}

// SetChannel moves the GP stub's transmit channel, used while answering a
// GPD channel request.
func (n *Serial) SetChannel(ctx context.Context, channel uint8) error {
	if channel < 11 || channel > 26 {
		return fmt.Errorf("set channel: %d out of range", channel)
	}
	_, err := n.request(ctx, callGPSetTxChannel, []byte{channel})
	return err
}

func (n *Serial) PermitJoin(ctx context.Context, duration uint8) error {
	// dest_short(2) + duration(1) + tc_significance(1)
	_, err := n.request(ctx, callZDOPermitJoiningReq, []byte{0xFC, 0xFF, duration, 0x01})
	return err
}

// SendAddrConflict broadcasts a NWK status reporting an address conflict.
func (n *Serial) SendAddrConflict(ctx context.Context, addr uint16) error {
	_, err := n.request(ctx, callNwkAddrConflict, binary.LittleEndian.AppendUint16(nil, addr))
	return err
}

// NewStochasticAddress makes the stack pick a new random short address
// and returns it.
func (n *Serial) NewStochasticAddress(ctx context.Context) (uint16, error) {
	rsp, err := n.request(ctx, callNwkNewStochastic, nil)
	if err != nil {
		return 0, err
	}
	if len(rsp.Payload) < 2 {
		return 0, fmt.Errorf("new stochastic address: %w", errShortPayload)
	}
	return binary.LittleEndian.Uint16(rsp.Payload), nil
}

func (n *Serial) AddGroup(ctx context.Context, group uint16, endpoint uint8) error {
	_, err := n.request(ctx, callAPSMEAddGroup, buildGroupReq(group, endpoint))
	return err
}

func (n *Serial) RemoveGroup(ctx context.Context, group uint16, endpoint uint8) error {
	_, err := n.request(ctx, callAPSMERemoveGroup, buildGroupReq(group, endpoint))
	return err
}

// SendZCL sends a ZCL frame through APSDE.
func (n *Serial) SendZCL(ctx context.Context, req ZCLRequest) error {
	_, err := n.request(ctx, callAPSDEDataReq, buildAPSDEDataReq(req))
	return err
}

// NextZCLSeq allocates a ZCL sequence number for frames built by callers.
func (n *Serial) NextZCLSeq() uint8 { return n.nextZCLSeq() }

// DeviceAnnounce broadcasts a Device_annce for alias, sent with alias as
// the NWK source.
func (n *Serial) DeviceAnnounce(ctx context.Context, alias uint16, ieee [8]byte) error {
	seq := uint8(n.zdoSeq.Add(1))
	return n.SendZCL(ctx, ZCLRequest{
		Mode:      AddrBroadcast,
		DstAddr:   broadcastRxOn,
		DstEP:     zdoEndpoint,
		SrcEP:     zdoEndpoint,
		ProfileID: zdoProfile,
		ClusterID: zdoClusterDevAnnc,
		Alias:     &Alias{Addr: alias, Seq: seq},
		Frame:     buildDevAnnce(seq, alias, ieee),
	})
}

func (n *Serial) GPDataRequest(ctx context.Context, req GPDataRequest) error {
	_, err := n.request(ctx, callGPDataReq, buildGPDataReq(req))
	return err
}

func (n *Serial) GPClearTxQueue(ctx context.Context) error {
	_, err := n.request(ctx, callGPClearTxQueue, nil)
	return err
}

func (n *Serial) GPSecResponse(ctx context.Context, rsp GPSecResponse) error {
	_, err := n.request(ctx, callGPSecRsp, buildGPSecRsp(rsp))
	return err
}

func (n *Serial) OnGPDataIndication(handler func(GPDataIndication)) {
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	n.onGPData = handler
}

func (n *Serial) OnGPSecRequest(handler func(GPSecRequest)) {
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	n.onGPSecReq = handler
}

func (n *Serial) OnClusterCommand(handler func(ClusterCommandEvent)) {
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	n.onCluster = handler
}

func (n *Serial) OnDeviceAnnounce(handler func(DeviceAnnounceEvent)) {
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	n.onAnnounce = handler
}

// OnNCPReset registers a callback for spontaneous NCP reset events.
func (n *Serial) OnNCPReset(handler func()) {
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	n.onReset = handler
}

// GetNCPInfo returns a copy of the cached version information.
func (n *Serial) GetNCPInfo() *NCPInfo {
	info := n.info
	return &info
}

// Close stops the read loop and closes the port.
func (n *Serial) Close() error {
	n.lifecycleMu.Lock()
	if n.closed {
		n.lifecycleMu.Unlock()
		return nil
	}
	n.closed = true
	n.closeOnce.Do(func() { close(n.done) })
	err := n.port.Close()
	n.lifecycleMu.Unlock()

	n.wg.Wait()
	n.failPending()
	return err
}
