// Package websocket serves browser and softphone clients over a plain
// websocket. Audio travels as binary PCM16 mono messages; control and
// segment metadata travel as JSON text messages.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/harunnryd/sapa/pkg/audio"
	"github.com/harunnryd/sapa/pkg/errorsx"
	"github.com/harunnryd/sapa/pkg/frames"
	"github.com/harunnryd/sapa/pkg/logging"
	"github.com/harunnryd/sapa/pkg/transports"
)

var errConnClosed = errors.New("websocket connection closed")

type RTCConfig struct {
	STUNURLs       []string `mapstructure:"stun_urls"`
	TURNURL        string   `mapstructure:"turn_url"`
	TURNUsername   string   `mapstructure:"turn_username"`
	TURNCredential string   `mapstructure:"turn_credential"`
}

type Config struct {
	ServerAddr     string    `mapstructure:"server_addr"`
	Path           string    `mapstructure:"path"`
	RTCConfigPath  string    `mapstructure:"rtc_config_path"`
	SampleRate     int       `mapstructure:"sample_rate"`
	AllowAnyOrigin bool      `mapstructure:"allow_any_origin"`
	AllowedOrigins []string  `mapstructure:"allowed_origins"`
	RTC            RTCConfig `mapstructure:"rtc"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.Path == "" {
		c.Path = "/stream"
	}
	if c.RTCConfigPath == "" {
		c.RTCConfigPath = "/rtc-config"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Control is a JSON text message in either direction.
type Control struct {
	Type       string `json:"type"`
	StreamID   string `json:"stream_id,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Seq        int64  `json:"seq,omitempty"`
	Text       string `json:"text,omitempty"`
	Profile    string `json:"profile,omitempty"`
	Greeting   bool   `json:"greeting,omitempty"`
}

const (
	ControlReady   = "ready"
	ControlSegment = "segment"
	ControlHangup  = "hangup"
)

type outbound struct {
	kind int
	data []byte
}

type conn struct {
	ws     *websocket.Conn
	rate   int
	sendCh chan outbound
	done   chan struct{}
	once   sync.Once
	hungUp atomic.Bool
}

func (c *conn) enqueue(kind int, data []byte) error {
	select {
	case c.sendCh <- outbound{kind: kind, data: data}:
		return nil
	case <-c.done:
		return errConnClosed
	}
}

func (c *conn) loop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sendCh:
			if c.ws == nil {
				continue
			}
			if err := c.ws.WriteMessage(msg.kind, msg.data); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

type Transport struct {
	cfg      Config
	mux      *http.ServeMux
	server   *http.Server
	upgrader websocket.Upgrader
	recvCh   chan frames.Frame
	logger   *slog.Logger

	mu       sync.Mutex
	conns    map[string]*conn
	draining bool
	stopOnce sync.Once
}

func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg:    cfg,
		mux:    http.NewServeMux(),
		recvCh: make(chan frames.Frame, 512),
		logger: logging.NewComponentLogger(slog.Default(), "websocket_transport"),
		conns:  make(map[string]*conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
		},
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "websocket" }

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

func (t *Transport) Mount(pattern string, h http.Handler) {
	t.mux.Handle(pattern, h)
}

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"stream_path":     t.cfg.Path,
		"rtc_config_path": t.cfg.RTCConfigPath,
		"sample_rate":     t.cfg.SampleRate,
	}
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.mux.Handle(t.cfg.Path, t)
	t.mux.HandleFunc(t.cfg.RTCConfigPath, t.handleRTCConfig)
	t.mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           t.mux,
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("websocket_transport_server_error", "error", err.Error())
		}
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.draining = true
		conns := t.conns
		t.conns = make(map[string]*conn)
		t.mu.Unlock()
		if t.server != nil {
			_ = t.server.Close()
		}
		for _, c := range conns {
			c.close()
		}
		close(t.recvCh)
	})
	return nil
}

// ServeHTTP upgrades one client. The client may pass ?sample_rate= to
// choose the PCM rate used in both directions.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	draining := t.draining
	t.mu.Unlock()
	if draining {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	rate := t.cfg.SampleRate
	if v, err := strconv.Atoi(r.URL.Query().Get("sample_rate")); err == nil && v > 0 {
		rate = v
	}
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	streamID := uuid.NewString()
	traceID := uuid.NewString()
	c := &conn{ws: ws, rate: rate, sendCh: make(chan outbound, 256), done: make(chan struct{})}
	t.mu.Lock()
	t.conns[streamID] = c
	t.mu.Unlock()
	go c.loop()
	defer c.close()

	meta := map[string]string{
		frames.MetaStreamID: streamID,
		frames.MetaTraceID:  traceID,
		frames.MetaSource:   "websocket",
	}
	if b, err := json.Marshal(Control{Type: ControlReady, StreamID: streamID, SampleRate: rate}); err == nil {
		_ = c.enqueue(websocket.TextMessage, b)
	}
	t.emit(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SystemCallStart, meta))

	reason := "failed"
	var pts int64
	for {
		kind, msg, err := ws.ReadMessage()
		if err != nil {
			break
		}
		if kind == websocket.BinaryMessage {
			f := frames.NewAudioFrame(streamID, pts, msg, rate, 1, meta)
			pts += int64(f.Duration())
			t.emit(f)
			continue
		}
		var ctl Control
		if err := json.Unmarshal(msg, &ctl); err != nil {
			continue
		}
		if ctl.Type == ControlHangup {
			reason = "completed"
			break
		}
	}
	if c.hungUp.Load() {
		reason = "completed"
	}
	t.finish(streamID, meta, reason)
}

func (t *Transport) finish(streamID string, meta map[string]string, reason string) {
	end := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		end[k] = v
	}
	end[frames.MetaCallEndReason] = reason
	t.mu.Lock()
	c := t.conns[streamID]
	delete(t.conns, streamID)
	t.mu.Unlock()
	if c == nil {
		return
	}
	t.emit(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SystemCallEnd, end))
}

// Send writes a segment header followed by its audio at the client's rate.
func (t *Transport) Send(f frames.Frame) error {
	seg, ok := f.(frames.AudioSegment)
	if !ok {
		return nil
	}
	c := t.lookup(seg.StreamID)
	if c == nil {
		return nil
	}
	header, err := json.Marshal(Control{
		Type:       ControlSegment,
		StreamID:   seg.StreamID,
		SampleRate: c.rate,
		Seq:        seg.Seq,
		Text:       seg.Text,
		Profile:    seg.Profile,
		Greeting:   seg.Greeting,
	})
	if err != nil {
		return err
	}
	if err := c.enqueue(websocket.TextMessage, header); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	pcm := audio.Resample(seg.Audio, seg.SampleRate, c.rate)
	if err := c.enqueue(websocket.BinaryMessage, pcm); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	return nil
}

// Hangup tells the client the call is over and closes the socket.
func (t *Transport) Hangup(ctx context.Context, streamID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := t.lookup(streamID)
	if c == nil {
		return errors.New("unknown stream " + streamID)
	}
	c.hungUp.Store(true)
	if c.ws != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, ControlHangup)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	c.close()
	return nil
}

type iceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

func (t *Transport) handleRTCConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	servers := []iceServer{}
	var stun []string
	for _, u := range t.cfg.RTC.STUNURLs {
		if u = strings.TrimSpace(u); u != "" {
			stun = append(stun, u)
		}
	}
	if len(stun) > 0 {
		servers = append(servers, iceServer{URLs: stun})
	}
	if t.cfg.RTC.TURNURL != "" {
		servers = append(servers, iceServer{
			URLs:       []string{t.cfg.RTC.TURNURL},
			Username:   t.cfg.RTC.TURNUsername,
			Credential: t.cfg.RTC.TURNCredential,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"iceServers":  servers,
		"sample_rate": t.cfg.SampleRate,
	})
}

func (t *Transport) emit(f frames.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.draining {
		return
	}
	select {
	case t.recvCh <- f:
	default:
		t.logger.Debug("websocket_recv_full", "kind", f.Kind())
	}
}

func (t *Transport) lookup(streamID string) *conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[streamID]
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimRight(strings.TrimSpace(r.Header.Get("Origin")), "/")
	if origin == "" {
		return true
	}
	for _, allowed := range t.cfg.AllowedOrigins {
		if strings.EqualFold(strings.TrimRight(strings.TrimSpace(allowed), "/"), origin) {
			return true
		}
	}
	return false
}

var (
	_ transports.Transport      = (*Transport)(nil)
	_ transports.Hanger         = (*Transport)(nil)
	_ transports.HandlerMounter = (*Transport)(nil)
	_ transports.ReadyReporter  = (*Transport)(nil)
)
