package ems

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and sizes for gateway communication.
const (
	defaultConnectTimeout    = 10 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	defaultReconnectInterval = 5 * time.Second
	maxReconnectInterval     = 2 * time.Minute

	// defaultTxQueueSize is the number of telegrams Submit can queue.
	defaultTxQueueSize = 32

	// defaultTxInterval spaces consecutive frames on the bus.
	defaultTxInterval = 100 * time.Millisecond

	// rxQueueSize buffers received telegrams for the callback worker.
	rxQueueSize = 100
)

// GatewayConfig holds gateway connection configuration.
type GatewayConfig struct {
	// Connection is the gateway URL; see parseConnectionURL.
	Connection string

	// Address is the bus address the bridge sends from. Frames carrying it
	// as source are echoes of our own writes and are dropped.
	// Default: AddrGateway.
	Address byte

	// ConnectTimeout bounds one dial. Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReconnectInterval is the initial reconnection delay. Default: 5 seconds.
	ReconnectInterval time.Duration

	// TxQueueSize bounds telegrams waiting to be sent. Default: 32.
	TxQueueSize int

	// TxInterval is the minimum gap between two transmitted frames.
	// Default: 100ms.
	TxInterval time.Duration
}

// GatewayStats holds operational statistics.
type GatewayStats struct {
	TelegramsTx      uint64
	TelegramsRx      uint64
	TelegramsDropped uint64 // Received telegrams dropped on a full queue
	TelegramsEcho    uint64 // Own frames echoed back by the bus
	ErrorsTotal      uint64
	ReconnectsTotal  uint64
	LastActivity     time.Time
	Connected        bool
	Reconnecting     bool
}

// Connector is a bus connection: it submits telegrams and delivers the
// ones it receives to a callback on a single goroutine.
type Connector interface {
	Transport
	SetOnTelegram(callback func(Telegram))
	IsConnected() bool
	Stats() GatewayStats
	Close() error
}

// Ensure Gateway implements Connector.
var _ Connector = (*Gateway)(nil)

// Gateway connects to an EMS bus gateway.
//
// Received telegrams are handed to the callback from one worker goroutine,
// in bus order. Submitted telegrams are queued and written by one transmit
// goroutine. When the connection drops the gateway reconnects with
// exponential backoff until Close is called.
type Gateway struct {
	cfg GatewayConfig
	ep  endpoint

	conn      frameConn
	connMu    sync.RWMutex
	connected bool

	reconnecting   atomic.Bool
	reconnectCount atomic.Int32

	onTelegram func(Telegram)
	callbackMu sync.RWMutex

	rxQueue chan Telegram
	txQueue chan Telegram

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	telegramsTx      atomic.Uint64
	telegramsRx      atomic.Uint64
	telegramsDropped atomic.Uint64
	telegramsEcho    atomic.Uint64
	errorsTotal      atomic.Uint64
	reconnectsTotal  atomic.Uint64
	lastActivity     atomic.Int64
}

// ConnectGateway dials the gateway and starts the receive, callback and
// transmit goroutines.
//
// Parameters:
//   - ctx: Context for the initial dial
//   - cfg: Connection configuration
//   - logger: Optional logger (may be nil)
//
// Returns:
//   - *Gateway: Connected gateway
//   - error: ErrConnectionFailed wrapping the cause
func ConnectGateway(ctx context.Context, cfg GatewayConfig, logger Logger) (*Gateway, error) {
	ep, err := parseConnectionURL(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	g := newGateway(cfg, ep, logger)

	dialCtx, cancel := context.WithTimeout(ctx, g.cfg.ConnectTimeout)
	defer cancel()

	conn, err := dial(dialCtx, ep)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	g.start(conn)
	return g, nil
}

func newGateway(cfg GatewayConfig, ep endpoint, logger Logger) *Gateway {
	if cfg.Address == 0 {
		cfg.Address = AddrGateway
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.TxQueueSize <= 0 {
		cfg.TxQueueSize = defaultTxQueueSize
	}
	if cfg.TxInterval == 0 {
		cfg.TxInterval = defaultTxInterval
	}
	return &Gateway{
		cfg:     cfg,
		ep:      ep,
		rxQueue: make(chan Telegram, rxQueueSize),
		txQueue: make(chan Telegram, cfg.TxQueueSize),
		done:    newCloseOnce(),
		logger:  loggerOrNop(logger),
	}
}

// start adopts an open connection and launches the worker goroutines.
func (g *Gateway) start(conn frameConn) {
	g.connMu.Lock()
	g.conn = conn
	g.connected = true
	g.connMu.Unlock()
	g.lastActivity.Store(time.Now().Unix())

	g.wg.Add(3) //nolint:mnd // receive, callback and transmit loops
	go g.receiveLoop()
	go g.callbackWorker()
	go g.transmitLoop()

	g.log().Info("gateway connected", "connection", g.cfg.Connection, "address", fmt.Sprintf("0x%02X", g.cfg.Address))
}

// receiveLoop reads frames until Close, reconnecting on connection loss.
func (g *Gateway) receiveLoop() {
	defer g.wg.Done()

	for {
		if g.isClosed() {
			return
		}

		g.connMu.RLock()
		conn := g.conn
		g.connMu.RUnlock()
		if conn == nil {
			if !g.reconnect() {
				return
			}
			continue
		}

		frame, err := conn.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrInvalidTelegram) {
				g.errorsTotal.Add(1)
				g.log().Debug("discarding malformed gateway line", "error", err)
				continue
			}
			if g.isClosed() {
				return
			}
			g.errorsTotal.Add(1)
			g.log().Error("gateway read failed", "error", err)
			g.handleDisconnect()
			if !g.reconnect() {
				return
			}
			continue
		}

		g.handleFrame(frame)
	}
}

// handleFrame parses one frame and queues it for the callback worker.
func (g *Gateway) handleFrame(frame []byte) {
	// single-byte polls and acks carry no telegram
	if len(frame) <= 2 { //nolint:mnd // poll/ack length
		return
	}

	t, err := ParseTelegram(frame)
	if err != nil {
		g.errorsTotal.Add(1)
		g.log().Debug("discarding malformed frame", "frame", EncodeHexFrame(frame), "error", err)
		return
	}
	if t.Source == g.cfg.Address {
		g.telegramsEcho.Add(1)
		return
	}
	if t.Dest == g.cfg.Address {
		// answer to one of our reads
		t.IsWrite = false
	}

	g.telegramsRx.Add(1)
	g.lastActivity.Store(time.Now().Unix())

	g.callbackMu.RLock()
	hasCallback := g.onTelegram != nil
	g.callbackMu.RUnlock()
	if !hasCallback {
		return
	}

	select {
	case g.rxQueue <- t:
	default:
		g.telegramsDropped.Add(1)
		g.errorsTotal.Add(1)
		g.log().Warn("receive queue full, dropping telegram", "telegram", t.String())
	}
}

// callbackWorker delivers received telegrams one at a time, preserving
// bus order.
func (g *Gateway) callbackWorker() {
	defer g.wg.Done()

	for {
		select {
		case <-g.done.Done():
			return
		case t := <-g.rxQueue:
			g.callbackMu.RLock()
			callback := g.onTelegram
			g.callbackMu.RUnlock()

			if callback != nil {
				func() {
					defer func() {
						if r := recover(); r != nil {
							g.errorsTotal.Add(1)
							g.log().Error("telegram callback panic", "panic", r)
						}
					}()
					callback(t)
				}()
			}
		}
	}
}

// transmitLoop writes queued telegrams, spaced by TxInterval.
func (g *Gateway) transmitLoop() {
	defer g.wg.Done()

	var last time.Time
	for {
		select {
		case <-g.done.Done():
			return
		case t := <-g.txQueue:
			if wait := g.cfg.TxInterval - time.Since(last); wait > 0 {
				select {
				case <-g.done.Done():
					return
				case <-time.After(wait):
				}
			}
			last = time.Now()
			g.write(t)
		}
	}
}

func (g *Gateway) write(t Telegram) {
	g.connMu.RLock()
	conn := g.conn
	g.connMu.RUnlock()

	if conn == nil {
		g.errorsTotal.Add(1)
		g.log().Warn("dropping telegram while disconnected", "telegram", t.String())
		return
	}
	if err := conn.WriteFrame(t.Encode()); err != nil {
		g.errorsTotal.Add(1)
		g.log().Error("gateway write failed", "telegram", t.String(), "error", err)
		return
	}
	g.telegramsTx.Add(1)
	g.lastActivity.Store(time.Now().Unix())
}

// Submit queues a telegram for transmission without waiting for the bus.
//
// Returns:
//   - error: ErrNotConnected when the gateway is down, ErrQueueFull when
//     the transmit queue is full
func (g *Gateway) Submit(t Telegram) error {
	if !g.IsConnected() {
		return ErrNotConnected
	}
	if t.Source == 0 {
		t.Source = g.cfg.Address
	}
	select {
	case g.txQueue <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// handleDisconnect marks the connection as lost.
func (g *Gateway) handleDisconnect() {
	g.connMu.Lock()
	wasConnected := g.connected
	g.connected = false
	if g.conn != nil {
		g.conn.Close()
		g.conn = nil
	}
	g.connMu.Unlock()

	if wasConnected {
		g.log().Info("gateway connection lost, will attempt reconnection")
	}
}

// reconnect dials until it succeeds or Close is called.
// Returns false on shutdown.
func (g *Gateway) reconnect() bool {
	if !g.reconnecting.CompareAndSwap(false, true) {
		return !g.isClosed()
	}
	defer g.reconnecting.Store(false)

	backoff := g.cfg.ReconnectInterval
	for {
		if g.isClosed() {
			return false
		}

		attempt := g.reconnectCount.Add(1)
		g.log().Info("attempting gateway reconnection", "attempt", attempt, "backoff", backoff.String())

		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.ConnectTimeout)
		conn, err := dial(ctx, g.ep)
		cancel()
		if err == nil {
			g.connMu.Lock()
			g.conn = conn
			g.connected = true
			g.connMu.Unlock()

			g.reconnectCount.Store(0)
			g.reconnectsTotal.Add(1)
			g.lastActivity.Store(time.Now().Unix())
			g.log().Info("gateway reconnection successful", "total_reconnects", g.reconnectsTotal.Load())
			return true
		}

		g.errorsTotal.Add(1)
		g.log().Error("gateway reconnect failed", "error", err)

		select {
		case <-g.done.Done():
			return false
		case <-time.After(backoff):
		}
		backoff = min(time.Duration(float64(backoff)*1.5), maxReconnectInterval) //nolint:mnd // backoff factor
	}
}

func (g *Gateway) isClosed() bool {
	select {
	case <-g.done.Done():
		return true
	default:
		return false
	}
}

// Close stops all goroutines and closes the connection. Safe to call more
// than once.
func (g *Gateway) Close() error {
	g.done.Close()

	g.connMu.Lock()
	g.connected = false
	if g.conn != nil {
		g.conn.Close()
		g.conn = nil
	}
	g.connMu.Unlock()

	g.wg.Wait()
	g.log().Info("gateway connection closed")
	return nil
}

// SetOnTelegram sets the callback for received telegrams.
func (g *Gateway) SetOnTelegram(callback func(Telegram)) {
	g.callbackMu.Lock()
	g.onTelegram = callback
	g.callbackMu.Unlock()
}

// SetLogger replaces the logger.
func (g *Gateway) SetLogger(logger Logger) {
	g.loggerMu.Lock()
	g.logger = loggerOrNop(logger)
	g.loggerMu.Unlock()
}

func (g *Gateway) log() Logger {
	g.loggerMu.RLock()
	defer g.loggerMu.RUnlock()
	return g.logger
}

// IsConnected returns true if the gateway connection is up.
func (g *Gateway) IsConnected() bool {
	g.connMu.RLock()
	defer g.connMu.RUnlock()
	return g.connected
}

// Stats returns current operational statistics.
func (g *Gateway) Stats() GatewayStats {
	return GatewayStats{
		TelegramsTx:      g.telegramsTx.Load(),
		TelegramsRx:      g.telegramsRx.Load(),
		TelegramsDropped: g.telegramsDropped.Load(),
		TelegramsEcho:    g.telegramsEcho.Load(),
		ErrorsTotal:      g.errorsTotal.Load(),
		ReconnectsTotal:  g.reconnectsTotal.Load(),
		LastActivity:     time.Unix(g.lastActivity.Load(), 0),
		Connected:        g.IsConnected(),
		Reconnecting:     g.reconnecting.Load(),
	}
}
