package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"biogate-server-go/internal/gateway/delivery"
	"biogate-server-go/internal/gateway/protocol"
	"biogate-server-go/internal/gateway/registry"
	"biogate-server-go/internal/platform/config"
	platformerrors "biogate-server-go/internal/platform/errors"
	"biogate-server-go/internal/platform/logging"
	"biogate-server-go/internal/util/work"
)

const logTag = "Dispatch"

// Connection state, for logging and the admin status surface.
const (
	StateConnected int32 = iota
	StateRegistered
	StateClosed
)

// pendingResponses bounds how many frames may be in flight per connection.
const pendingResponses = 64

// Conn is the subset of the websocket connection the handler needs.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	ID() string
	RemoteAddr() string
}

// Deps carries the collaborators every handler shares.
type Deps struct {
	Registry *registry.Registry
	Pipeline *delivery.Pipeline
	Workers  *work.WorkQueue[func()]
	Logger   *logging.Logger
	Policy   string
}

// Handler drives the command protocol for one terminal connection. Frames
// are answered strictly in receipt order even though log uploads are
// processed on the shared worker pool.
type Handler struct {
	conn Conn
	deps Deps

	ctx    context.Context
	cancel context.CancelFunc

	pending    chan chan *protocol.Response
	writerDone chan struct{}

	state      atomic.Int32
	removeOnce sync.Once
	closeOnce  sync.Once
}

func NewHandler(conn Conn, deps Deps) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		conn:       conn,
		deps:       deps,
		ctx:        ctx,
		cancel:     cancel,
		pending:    make(chan chan *protocol.Response, pendingResponses),
		writerDone: make(chan struct{}),
	}
	h.state.Store(StateConnected)
	return h
}

// GetSessionID implements ws.SessionHandler.
func (h *Handler) GetSessionID() string {
	return h.conn.ID()
}

// State returns the current connection state.
func (h *Handler) State() int32 {
	return h.state.Load()
}

// Handle runs the read loop until the terminal disconnects or the session
// is shut down.
func (h *Handler) Handle() {
	go h.writeLoop()

	for {
		_, raw, err := h.conn.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) {
				h.deps.Logger.WarnTag(logTag, "session %s read failed: %v", h.GetSessionID(), err)
			}
			break
		}
		h.dispatch(raw)
	}

	h.cancel()
	<-h.writerDone
}

// Close implements ws.SessionHandler. Safe to call more than once; the
// registry entry is removed exactly once.
func (h *Handler) Close() {
	h.closeOnce.Do(func() {
		h.state.Store(StateClosed)
		h.cancel()
		_ = h.conn.Close()
	})
	h.removeOnce.Do(func() {
		h.deps.Registry.Remove(h.GetSessionID())
	})
}

// dispatch claims the next response slot and routes the frame. Slot claiming
// happens on the read goroutine so responses flush in receipt order.
func (h *Handler) dispatch(raw []byte) {
	slot := make(chan *protocol.Response, 1)
	select {
	case h.pending <- slot:
	case <-h.ctx.Done():
		return
	}

	cmd, err := protocol.DecodeFrame(raw)
	if err != nil {
		h.deps.Logger.WarnTag(logTag, "session %s sent malformed frame: %v", h.GetSessionID(), err)
		slot <- &protocol.Response{
			Ret:    "error",
			Result: false,
			Reason: decodeReason(err),
		}
		return
	}

	switch {
	case cmd.Cmd == protocol.CmdRegister:
		slot <- h.handleRegister(cmd)
	case cmd.IsLogUpload():
		h.handleLogUpload(cmd, slot)
	default:
		slot <- h.handleUnknown(cmd)
	}
}

func (h *Handler) handleRegister(cmd *protocol.Command) *protocol.Response {
	result, err := h.deps.Registry.Register(h.GetSessionID(), h.conn.RemoteAddr(), cmd.Serial)
	if err != nil {
		if errors.Is(err, registry.ErrMissingSerial) {
			return &protocol.Response{
				Ret:    protocol.CmdRegister,
				Result: false,
				Reason: "Missing serial number",
			}
		}
		h.deps.Logger.ErrorTag(logTag, "session %s registration failed: %v", h.GetSessionID(), err)
		return &protocol.Response{
			Ret:    protocol.CmdRegister,
			Result: false,
			Reason: "registration failed",
		}
	}

	h.state.Store(StateRegistered)
	if result.Evicted {
		h.deps.Logger.InfoTag(logTag, "serial %s moved to session %s, evicted %s",
			result.Serial, h.GetSessionID(), result.EvictedSession)
	} else {
		h.deps.Logger.InfoTag(logTag, "device %s registered on session %s",
			result.Serial, h.GetSessionID())
	}

	return &protocol.Response{
		Ret:    protocol.CmdRegister,
		Result: true,
	}
}

// handleLogUpload runs the batch on the worker pool; the claimed slot keeps
// the response in order.
func (h *Handler) handleLogUpload(cmd *protocol.Command, slot chan *protocol.Response) {
	deviceID := h.deps.Registry.DeviceID(h.GetSessionID())
	ctx := h.ctx

	err := h.deps.Workers.Submit(func() {
		// Delivery and retry bookkeeping run to completion even if the
		// connection closes mid-batch; the writer just drops the response.
		slot <- h.deps.Pipeline.ProcessBatch(context.WithoutCancel(ctx), cmd.Cmd, cmd.Records, deviceID)
	}, 0)
	if err != nil {
		h.deps.Logger.ErrorTag(logTag, "session %s could not queue batch: %v", h.GetSessionID(), err)
		slot <- &protocol.Response{
			Ret:    cmd.Cmd,
			Result: false,
			Reason: "server busy",
		}
	}
}

func (h *Handler) handleUnknown(cmd *protocol.Command) *protocol.Response {
	if h.deps.Policy == config.UnknownCommandReject {
		h.deps.Logger.WarnTag(logTag, "session %s sent unsupported command %q", h.GetSessionID(), cmd.Cmd)
		return &protocol.Response{
			Ret:    cmd.Cmd,
			Result: false,
			Reason: "Unknown command",
		}
	}

	// Default policy: acknowledge so chatty firmware keeps working.
	h.deps.Logger.DebugTag(logTag, "session %s echoing unknown command %q", h.GetSessionID(), cmd.Cmd)
	return &protocol.Response{
		Ret:    cmd.Cmd,
		Result: true,
	}
}

// writeLoop flushes responses in the order their frames arrived.
func (h *Handler) writeLoop() {
	defer close(h.writerDone)

	for {
		select {
		case slot := <-h.pending:
			select {
			case resp := <-slot:
				data, err := protocol.EncodeResponse(resp)
				if err != nil {
					h.deps.Logger.ErrorTag(logTag, "session %s response encode failed: %v", h.GetSessionID(), err)
					continue
				}
				if err := h.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					h.deps.Logger.WarnTag(logTag, "session %s write failed: %v", h.GetSessionID(), err)
					// A dead writer means a dead connection; tear the
					// session down so the read side cannot wedge on a
					// full pending queue.
					h.Close()
					return
				}
			case <-h.ctx.Done():
				return
			}
		case <-h.ctx.Done():
			return
		}
	}
}

// decodeReason phrases a decode failure for the terminal.
func decodeReason(err error) string {
	var typed *platformerrors.Error
	if errors.As(err, &typed) {
		if typed.Cause != nil {
			return fmt.Sprintf("%s: %v", typed.Message, typed.Cause)
		}
		return typed.Message
	}
	return err.Error()
}

func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return true
	}
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}
