package call

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/outcall/sipvox/internal/metrics"
	"github.com/outcall/sipvox/pkg/media"
	"github.com/outcall/sipvox/pkg/rtp"
	"github.com/outcall/sipvox/pkg/sip/auth"
	"github.com/outcall/sipvox/pkg/sip/dialog"
	"github.com/outcall/sipvox/pkg/sip/message"
	"github.com/outcall/sipvox/pkg/sip/transaction"
	"github.com/outcall/sipvox/pkg/sip/transaction/creator"
	"github.com/outcall/sipvox/pkg/sip/transport"
)

const maxAuthRetries = 2

// Call places and manages one outbound voice call: it wires the SIP
// dialog through to the RTP/media layer and exposes CallState/Events as
// its public surface. A Call is constructed with New (no I/O) and driven
// with Start/Stop.
type Call struct {
	*eventBus

	cfg       Config
	log       *slog.Logger
	targetURI *message.URI
	localURI  *message.URI
	localHost string
	sigPort   int

	transportMgr transport.Manager
	sigTransport transport.Transport
	txManager    transaction.Manager
	dialogMgr    dialog.Manager

	mu         sync.Mutex
	state      CallState
	dlg        dialog.Dialog
	authRetry  int
	mediaSess  *media.MediaSession
	rtpSession *rtp.RTPSession
	rtpTrans     *rtp.UDPTransport
	amd          *media.AMDDetector
	dtmfCollector *media.DTMFCollector

	stopOnce sync.Once
	stopped  atomic.Bool
	handler  *CallHandler
}

// New validates cfg and wires up the (unstarted) SIP stack for one
// call. It performs no network I/O; Start does that.
func New(cfg Config) (*Call, error) {
	cfg = DefaultConfig(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	targetURI, err := parseCalleeURI(cfg.Callee)
	if err != nil {
		return nil, fmt.Errorf("call: parse callee: %w", err)
	}

	localHost := cfg.LocalHost
	if localHost == "" {
		localHost, err = outboundIP(cfg.ProxyAddr)
		if err != nil {
			return nil, fmt.Errorf("call: determine local address: %w", err)
		}
	}

	callerID := cfg.CallerID
	if callerID == "" {
		callerID = cfg.Username
	}
	localURI := message.NewURI(callerID, localHost)

	transportMgr := transport.NewManager()

	var sigTransport transport.Transport
	switch cfg.Transport {
	case TransportTCP:
		sigTransport = transport.NewTCPTransport()
	case TransportTLS, TransportTLSv1:
		sigTransport = transport.NewTLSTransport(nil)
	default:
		sigTransport, err = transport.NewUDPTransport(net.JoinHostPort(localHost, "0"), nil)
		if err != nil {
			return nil, fmt.Errorf("call: open signaling transport: %w", err)
		}
	}
	if err := transportMgr.RegisterTransport(sigTransport); err != nil {
		return nil, fmt.Errorf("call: register signaling transport: %w", err)
	}

	sigPort := 5060
	if udpAddr, ok := sigTransport.LocalAddr().(*net.UDPAddr); ok {
		sigPort = udpAddr.Port
	}

	txManager := transaction.NewManagerWithCreator(transportMgr, creator.NewDefaultCreator())
	dialogMgr := dialog.NewManager(txManager, localHost, sigPort)

	c := &Call{
		eventBus:     &eventBus{},
		cfg:          cfg,
		log:          cfg.Logger,
		targetURI:    targetURI,
		localURI:     localURI,
		localHost:    localHost,
		sigPort:      sigPort,
		transportMgr: transportMgr,
		sigTransport: sigTransport,
		txManager:    txManager,
		dialogMgr:    dialogMgr,
		state:        StateInitializing,
	}
	c.dtmfCollector = media.NewDTMFCollector(nil)
	c.handler = &CallHandler{call: c}
	return c, nil
}

// Start sends the INVITE and drives the call asynchronously; it returns
// once the INVITE is in flight, not once the call is answered. Progress
// is reported through the Events registered on the Call.
func (c *Call) Start(ctx context.Context) error {
	go func() {
		if err := c.sigTransport.Listen(net.JoinHostPort(c.localHost, strconv.Itoa(c.sigPort))); err != nil {
			c.log.Warn("signaling transport listen exited", "error", err)
		}
	}()
	if err := c.transportMgr.Start(); err != nil {
		return fmt.Errorf("call: start transport: %w", err)
	}

	c.setState(StateDialing)
	return c.sendInvite(ctx, nil)
}

// sendInvite places (or re-places, on an auth challenge) the INVITE.
// retryAuth, when non-nil, is applied to the freshly built request to
// answer the previous attempt's 401/407 before it is sent.
func (c *Call) sendInvite(ctx context.Context, retryAuth *message.Response) error {
	offerSSRC, err := randomSSRC()
	if err != nil {
		return err
	}
	rtpPort, err := allocatePort(c.localHost, c.cfg.RTPPortMin, c.cfg.RTPPortMax)
	if err != nil {
		return fmt.Errorf("call: allocate RTP port: %w", err)
	}

	offer := message.BuildOffer(c.localHost, rtpPort, offerSSRC, message.DefaultPayloadTypes())
	sdpBody, err := offer.Marshal()
	if err != nil {
		return fmt.Errorf("call: marshal SDP offer: %w", err)
	}

	opts := []dialog.InviteOpts{
		func(req *message.Request) {
			req.SetBody("application/sdp", sdpBody)
		},
	}
	if retryAuth != nil {
		creds := auth.Credentials{Username: c.cfg.Username, Password: c.cfg.Password}
		opts = append(opts, func(req *message.Request) {
			if name, value, err := auth.Authorize(retryAuth, req.Method, req.RequestURI.String(), creds, c.authRetry); err == nil {
				req.SetHeader(name, value)
			} else {
				c.log.Warn("digest authorize failed", "error", err)
			}
		})
	}

	d, err := c.dialogMgr.NewInvite(ctx, c.targetURI, c.localURI, opts...)
	if err != nil {
		return fmt.Errorf("call: send INVITE: %w", err)
	}

	c.mu.Lock()
	c.dlg = d
	c.mu.Unlock()

	d.OnStateChange(func(s dialog.State) { c.onDialogStateChange(s) })
	d.OnResponse(func(resp *message.Response) { c.onDialogResponse(resp, rtpPort) })
	return nil
}

func (c *Call) onDialogStateChange(s dialog.State) {
	switch s {
	case dialog.StateEarly:
		c.setState(StateRinging)
	case dialog.StateConfirmed:
		c.setState(StateAnswered)
	case dialog.StateTerminated:
		c.mu.Lock()
		already := c.state == StateEnded || c.state == StateBusy || c.state == StateFailed
		c.mu.Unlock()
		if !already {
			c.setState(StateFailed)
			c.finish(newCallError(ErrCalleeUnreachable, "dialog terminated"))
		}
	}
}

func (c *Call) onDialogResponse(resp *message.Response, localRTPPort int) {
	if resp.StatusCode == 401 || resp.StatusCode == 407 {
		c.handleAuthChallenge(resp)
		return
	}
	if resp.StatusCode == 486 || resp.StatusCode == 600 || resp.StatusCode == 603 {
		c.setState(StateBusy)
		c.finish(newCallError(ErrBusy, resp.ReasonPhrase))
		return
	}
	if resp.IsSuccess() {
		c.onAnswered(resp, localRTPPort)
	}
}

func (c *Call) handleAuthChallenge(resp *message.Response) {
	c.mu.Lock()
	c.authRetry++
	retry := c.authRetry
	prevDlg := c.dlg
	c.mu.Unlock()

	if retry > maxAuthRetries {
		metrics.AuthRetries.WithLabelValues("exhausted").Inc()
		c.setState(StateFailed)
		c.finish(newCallError(ErrAuthFailed, "exceeded auth retry limit"))
		return
	}
	metrics.AuthRetries.WithLabelValues("retry").Inc()

	if prevDlg != nil {
		prevDlg.Terminate()
	}
	if err := c.sendInvite(context.Background(), resp); err != nil {
		c.setState(StateFailed)
		c.finish(newCallError(ErrTransportError, err.Error()))
	}
}

func (c *Call) onAnswered(resp *message.Response, localRTPPort int) {
	remoteSDP, err := message.ParseSDP(resp.Body())
	if err != nil {
		c.setState(StateFailed)
		c.finish(newCallError(ErrMalformedMessage, err.Error()))
		return
	}
	codec, ok := message.SelectCodec(remoteSDP, message.DefaultPayloadTypes())
	if !ok {
		c.setState(StateFailed)
		c.finish(newCallError(ErrNoSupportedCodec, "no codec in common with remote SDP"))
		return
	}

	remoteAddr := net.JoinHostPort(remoteSDP.ConnectionAddress, strconv.Itoa(remoteSDP.AudioPort))
	udpTransport, err := rtp.NewUDPTransport(rtp.TransportConfig{
		LocalAddr:  net.JoinHostPort(c.localHost, strconv.Itoa(localRTPPort)),
		RemoteAddr: remoteAddr,
		BufferSize: 1500,
	})
	if err != nil {
		c.setState(StateFailed)
		c.finish(newCallError(ErrTransportError, err.Error()))
		return
	}

	var amd *media.AMDDetector
	if c.cfg.AMDEnabled {
		amd = media.NewAMDDetector(8000, func(result media.AMDClassification) {
			c.fireAMD(translateAMD(result))
		})
	} else {
		c.fireAMD(AMDUnknown)
	}

	mediaSess, err := media.NewMediaSession(media.MediaSessionConfig{
		SessionID:             c.dlg.CallID(),
		Direction:             media.DirectionSendRecv,
		Ptime:                 20 * time.Millisecond,
		PayloadType:           media.PayloadType(codec.PayloadType),
		DTMFEnabled:           true,
		DTMFPayloadType:       101,
		PaceFactor:            c.cfg.PaceFactor,
		RecordingBufferFrames: c.cfg.RecordingBufferFrames,
		OnAudioReceived: func(data []byte, pt media.PayloadType, d time.Duration, sessionID string) {
			c.fireFrame(data)
			if amd != nil {
				if pcm, err := media.G711ToPCM(data, pt); err == nil {
					amd.Feed(pcm)
				}
			}
		},
		OnDTMFReceived: func(evt media.DTMFEvent, sessionID string) {
			digitRunes := []rune(evt.Digit.String())
			if len(digitRunes) > 0 {
				c.fireDTMF(digitRunes[0])
			}
			c.dtmfCollector.Feed(evt)
		},
		OnMediaError: func(err error, sessionID string) {
			c.log.Warn("media session error", "error", err, "call_id", c.dlg.CallID())
		},
	})
	if err != nil {
		udpTransport.Close()
		c.setState(StateFailed)
		c.finish(newCallError(ErrAudioStreamError, err.Error()))
		return
	}

	rtpSession, err := rtp.NewRTPSession(rtp.RTPSessionConfig{
		PayloadType: rtp.PayloadType(codec.PayloadType),
		ClockRate:   codec.ClockRate,
		Transport:   udpTransport,
	})
	if err != nil {
		udpTransport.Close()
		c.setState(StateFailed)
		c.finish(newCallError(ErrAudioStreamError, err.Error()))
		return
	}

	if err := mediaSess.AddRTPSession(c.dlg.CallID(), rtpSession); err != nil {
		c.log.Warn("add RTP session failed", "error", err)
	}
	if err := rtpSession.Start(); err != nil {
		c.log.Warn("start RTP session failed", "error", err)
	}
	if err := mediaSess.Start(); err != nil {
		c.log.Warn("start media session failed", "error", err)
	}

	c.mu.Lock()
	c.mediaSess = mediaSess
	c.rtpSession = rtpSession
	c.rtpTrans = udpTransport
	c.amd = amd
	c.mu.Unlock()
}

func (c *Call) setState(s CallState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.fireStateChanged(s)
	c.log.Info("call state changed", "state", s.String())
}

// State returns the call's current lifecycle state.
func (c *Call) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Handler returns the surface user code pushes outbound audio frames
// through and reads collected DTMF from.
func (c *Call) Handler() *CallHandler { return c.handler }

// ExportRecordedAudio writes the audio received during the call to a WAV
// file at path. It is only meaningful after the call has reached Answered.
func (c *Call) ExportRecordedAudio(path string) error {
	c.mu.Lock()
	mediaSess := c.mediaSess
	c.mu.Unlock()
	if mediaSess == nil {
		return newCallError(ErrAudioStreamError, "no media session established")
	}
	return mediaSess.ExportWAV(path)
}

func (c *Call) finish(err *CallError) {
	reason := "normal"
	if err != nil {
		reason = err.Reason
	}
	c.Stop(reason)
}

// Stop tears the call down in the order the media/signaling layers
// require: media send/receive first, then the RTP socket, then the SIP
// dialog, then the transport. It is idempotent: a call after the first
// logs a warning and returns nil.
func (c *Call) Stop(reason string) error {
	if c.stopped.Load() {
		c.log.Warn("call already stopped", "reason", reason)
		return nil
	}
	var stopErr error
	c.stopOnce.Do(func() {
		c.stopped.Store(true)

		c.mu.Lock()
		mediaSess := c.mediaSess
		rtpSession := c.rtpSession
		rtpTrans := c.rtpTrans
		dlg := c.dlg
		st := c.state
		c.mu.Unlock()

		if mediaSess != nil {
			_ = mediaSess.Stop()
		}
		if rtpSession != nil {
			_ = rtpSession.Stop()
		}
		if rtpTrans != nil {
			_ = rtpTrans.Close()
		}

		if dlg != nil && dlg.State() == dialog.StateConfirmed {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			stopErr = dlg.Bye(ctx, reason)
			cancel()
		} else if dlg != nil {
			dlg.Terminate()
		}

		_ = c.transportMgr.Stop()

		if st != StateEnded && st != StateBusy && st != StateFailed {
			c.setState(StateEnded)
		}
		c.fireHangup(reason)
	})
	return stopErr
}

func translateAMD(r media.AMDClassification) AMDState {
	switch r {
	case media.AMDResultHuman:
		return AMDHuman
	case media.AMDResultMachine:
		return AMDMachine
	default:
		return AMDUnknown
	}
}

func randomSSRC() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("call: generate SSRC: %w", err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// allocatePort probes the [min,max] range for a free UDP port by binding
// and immediately releasing it; the window between release and the RTP
// transport rebinding it is the same race every SIP stack accepts when
// it doesn't hold a dedicated port-reservation service.
func allocatePort(host string, min, max int) (int, error) {
	for port := min; port <= max; port++ {
		addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			continue
		}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			continue
		}
		conn.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free UDP port in [%d,%d]", min, max)
}

func parseCalleeURI(callee string) (*message.URI, error) {
	if !strings.Contains(callee, ":") {
		callee = "sip:" + callee
	} else if !strings.HasPrefix(callee, "sip:") && !strings.HasPrefix(callee, "sips:") {
		callee = "sip:" + callee
	}
	return message.ParseURI(callee)
}

// outboundIP discovers the local address the kernel would pick to reach
// proxyAddr, without actually sending anything (UDP "connect" just sets
// the route, no packet goes out).
func outboundIP(proxyAddr string) (string, error) {
	conn, err := net.Dial("udp", proxyAddr)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
