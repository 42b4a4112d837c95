package twilio

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/harunnryd/sapa/pkg/audio"
	"github.com/harunnryd/sapa/pkg/errorsx"
	"github.com/harunnryd/sapa/pkg/frames"
	"github.com/harunnryd/sapa/pkg/logging"
	"github.com/harunnryd/sapa/pkg/transports"
	twilioclient "github.com/twilio/twilio-go/client"
)

// Media Streams carry 8 kHz mono mu-law in both directions.
const (
	mediaRate      = 8000
	bytesPerMillis = mediaRate / 1000
)

var errStreamClosed = errors.New("twilio stream closed")

type Config struct {
	ServerAddr         string   `mapstructure:"server_addr"`
	PublicURL          string   `mapstructure:"public_url"`
	AuthToken          string   `mapstructure:"auth_token"`
	AccountSID         string   `mapstructure:"account_sid"`
	VoicePath          string   `mapstructure:"voice_path"`
	WebsocketPath      string   `mapstructure:"ws_path"`
	StatusCallbackPath string   `mapstructure:"status_callback_path"`
	ChunkMillis        int      `mapstructure:"chunk_ms"`
	AllowAnyOrigin     bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.VoicePath == "" {
		c.VoicePath = "/voice"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.StatusCallbackPath == "" {
		c.StatusCallbackPath = "/status"
	}
	if c.ChunkMillis <= 0 {
		c.ChunkMillis = 20
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

type Transport struct {
	cfg      Config
	server   *http.Server
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	recvCh   chan frames.Frame
	logger   *slog.Logger

	updateClient callUpdater

	mu          sync.Mutex
	sessions    map[string]*session
	callSIDs    map[string]string
	callStreams map[string]string
	traceIDs    map[string]string
	fromNumbers map[string]string

	stopOnce sync.Once
	draining bool
}

func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg: cfg,
		mux: http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		recvCh:      make(chan frames.Frame, 512),
		logger:      logging.NewComponentLogger(slog.Default(), "twilio_transport"),
		sessions:    make(map[string]*session),
		callSIDs:    make(map[string]string),
		callStreams: make(map[string]string),
		traceIDs:    make(map[string]string),
		fromNumbers: make(map[string]string),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "twilio" }

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"webhook_url":         t.publicURL("https", t.cfg.VoicePath),
		"status_callback_url": t.publicURL("https", t.cfg.StatusCallbackPath),
	}
}

// Mount adds a handler to the transport's HTTP server.
func (t *Transport) Mount(pattern string, h http.Handler) {
	t.mux.Handle(pattern, h)
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.mux.HandleFunc(t.cfg.VoicePath, t.handleVoice)
	t.mux.Handle(t.cfg.WebsocketPath, t)
	t.mux.HandleFunc(t.cfg.StatusCallbackPath, t.handleStatusCallback)
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
			t.logger.Error("twilio_transport_server_error", "error", err.Error())
		}
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.draining = true
		sessions := t.sessions
		t.sessions = make(map[string]*session)
		t.mu.Unlock()
		if t.server != nil {
			_ = t.server.Close()
		}
		for _, sess := range sessions {
			_ = sess.close()
		}
		close(t.recvCh)
	})
	return nil
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	draining := t.draining
	t.mu.Unlock()
	if draining {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var streamID string
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var evt TwilioEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			continue
		}
		switch evt.Event {
		case "start":
			if evt.Start == nil {
				continue
			}
			streamID = evt.Start.StreamID
			callSID := evt.Start.CallSID
			traceID := uuid.NewString()
			if old := t.attach(streamID, callSID, traceID, evt.Start.From, conn); old != "" {
				t.endStream(old, "failed")
			}
			t.emit(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SystemCallStart, t.metaForStream(streamID)))
		case "media":
			if evt.Media == nil || streamID == "" {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(evt.Media.Payload)
			if err != nil {
				continue
			}
			meta := t.metaForStream(streamID)
			meta[frames.MetaEncoding] = "mulaw"
			pts, _ := strconv.ParseInt(evt.Media.Timestamp, 10, 64)
			t.emit(frames.NewAudioFrame(streamID, pts, audio.MuLawToPCM(payload), mediaRate, 1, meta))
		case "mark":
			if evt.Mark != nil {
				t.logger.Debug("twilio_mark_played", "stream_id", streamID, "mark", evt.Mark.Name)
			}
		case "stop":
			reason := ""
			if evt.Stop != nil {
				reason = normalizeCallEndReason(evt.Stop.Reason)
			}
			if reason == "" {
				reason = "completed"
			}
			t.endStream(streamID, reason)
			return
		}
	}
	if streamID != "" {
		t.endStream(streamID, normalizeCallEndReason("transport_closed"))
	}
}

// Send plays an AudioSegment on its stream. The PCM is resampled to 8 kHz,
// mu-law encoded and split into fixed-size media messages followed by a
// mark named after the segment.
func (t *Transport) Send(f frames.Frame) error {
	seg, ok := f.(frames.AudioSegment)
	if !ok {
		return nil
	}
	sess := t.session(seg.StreamID)
	if sess == nil {
		return nil
	}
	ulaw := audio.PCMToMuLaw(audio.Resample(seg.Audio, seg.SampleRate, mediaRate))
	chunk := t.cfg.ChunkMillis * bytesPerMillis
	for start := 0; start < len(ulaw); start += chunk {
		end := start + chunk
		if end > len(ulaw) {
			end = len(ulaw)
		}
		msg := map[string]any{
			"event":     "media",
			"streamSid": seg.StreamID,
			"media": map[string]any{
				"payload": base64.StdEncoding.EncodeToString(ulaw[start:end]),
			},
		}
		if err := sess.enqueue(msg); err != nil {
			return errorsx.Wrap(err, errorsx.ReasonTransportSend)
		}
	}
	mark := map[string]any{
		"event":     "mark",
		"streamSid": seg.StreamID,
		"mark":      map[string]any{"name": "segment-" + strconv.FormatInt(seg.Seq, 10)},
	}
	if err := sess.enqueue(mark); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	return nil
}

// Hangup completes the call behind streamID through the REST API.
func (t *Transport) Hangup(ctx context.Context, streamID string) error {
	t.mu.Lock()
	callSID := t.callSIDs[streamID]
	t.mu.Unlock()
	if callSID == "" {
		return errors.New("unknown stream " + streamID)
	}
	d := NewDialer(t.cfg)
	d.updater = t.updateClient
	return d.Hangup(ctx, callSID)
}

// Dial places an outbound call using Twilio REST API.
func (t *Transport) Dial(ctx context.Context, to, from, url string) (string, error) {
	return NewDialer(t.cfg).Dial(ctx, to, from, url)
}

func (t *Transport) handleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.cfg.AuthToken != "" && !t.validateTwilioRequest(r) {
		t.logger.Warn("twilio_invalid_signature", "reason_code", string(errorsx.ReasonTransportInvalidSignature))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	twiml := `<Response><Connect><Stream url="` + xmlEscape(t.websocketURL(r)) + `"/></Connect></Response>`
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(twiml))
}

func (t *Transport) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.cfg.AuthToken != "" && !t.validateTwilioRequest(r) {
		t.logger.Warn("twilio_status_invalid_signature", "reason_code", string(errorsx.ReasonTransportInvalidSignature))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	callSID := r.PostFormValue("CallSid")
	reason := normalizeCallEndReason(r.PostFormValue("CallStatus"))
	if reason == "" || callSID == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if streamID := t.streamForCall(callSID); streamID != "" {
		t.endStream(streamID, reason)
	}
	w.WriteHeader(http.StatusOK)
}

func (t *Transport) endStream(streamID, reason string) {
	meta := t.metaForStream(streamID)
	meta[frames.MetaCallEndReason] = reason
	t.emit(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SystemCallEnd, meta))
	t.detach(streamID)
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
		t.logger.Debug("twilio_recv_full", "kind", f.Kind())
	}
}

func (t *Transport) websocketURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return t.publicURL("wss", t.cfg.WebsocketPath)
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(t.cfg.ServerAddr, ":")
	}
	return "wss://" + host + t.cfg.WebsocketPath
}

func (t *Transport) publicURL(scheme, path string) string {
	if t.cfg.PublicURL != "" {
		return scheme + "://" + normalizePublicURL(t.cfg.PublicURL) + path
	}
	addr := t.cfg.ServerAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}

// attach registers a stream and returns the stream it replaces when the
// same call reconnects.
func (t *Transport) attach(streamID, callSID, traceID, from string, conn *websocket.Conn) string {
	sess := newSession(conn)
	var oldStream string
	t.mu.Lock()
	if callSID != "" {
		if existing := t.callStreams[callSID]; existing != "" && existing != streamID {
			oldStream = existing
		}
		t.callStreams[callSID] = streamID
	}
	t.sessions[streamID] = sess
	t.callSIDs[streamID] = callSID
	t.traceIDs[streamID] = traceID
	if from != "" {
		t.fromNumbers[streamID] = from
	}
	t.mu.Unlock()
	go sess.loop()
	return oldStream
}

func (t *Transport) detach(streamID string) {
	t.mu.Lock()
	sess := t.sessions[streamID]
	callSID := t.callSIDs[streamID]
	delete(t.sessions, streamID)
	delete(t.callSIDs, streamID)
	delete(t.traceIDs, streamID)
	delete(t.fromNumbers, streamID)
	if callSID != "" && t.callStreams[callSID] == streamID {
		delete(t.callStreams, callSID)
	}
	t.mu.Unlock()
	if sess != nil {
		_ = sess.close()
	}
}

func (t *Transport) session(streamID string) *session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[streamID]
}

func (t *Transport) streamForCall(callSID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.callStreams[callSID]
}

func (t *Transport) metaForStream(streamID string) map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	meta := map[string]string{
		frames.MetaStreamID: streamID,
		frames.MetaSource:   "twilio",
	}
	if v := t.callSIDs[streamID]; v != "" {
		meta[frames.MetaCallSID] = v
	}
	if v := t.traceIDs[streamID]; v != "" {
		meta[frames.MetaTraceID] = v
	}
	if v := t.fromNumbers[streamID]; v != "" {
		meta[frames.MetaFromNumber] = v
	}
	return meta
}

// validateTwilioRequest checks X-Twilio-Signature against the public URL
// and the POST form parameters.
func (t *Transport) validateTwilioRequest(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" || t.cfg.AuthToken == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	validator := twilioclient.NewRequestValidator(t.cfg.AuthToken)
	return validator.Validate(t.requestURL(r), params, signature)
}

func (t *Transport) requestURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		base := strings.TrimRight(t.cfg.PublicURL, "/")
		if !strings.Contains(base, "://") {
			base = "https://" + base
		}
		return base + r.URL.RequestURI()
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(t.cfg.ServerAddr, ":")
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimRight(strings.TrimSpace(r.Header.Get("Origin")), "/")
	if origin == "" {
		return true
	}
	originHost := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.Contains(a, "://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

func xmlEscape(in string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(in)
}

func normalizeCallEndReason(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return ""
	case "queued", "ringing", "in-progress", "inprogress":
		return ""
	case "completed", "call_ended", "call-ended", "completed_by_user", "hangup":
		return "completed"
	case "busy":
		return "busy"
	case "no_answer", "noanswer", "no-answer":
		return "no_answer"
	case "failed", "error", "canceled", "cancelled", "transport_closed":
		return "failed"
	default:
		return "unknown"
	}
}

func normalizePublicURL(v string) string {
	v = strings.TrimPrefix(strings.TrimPrefix(v, "https://"), "http://")
	return strings.TrimRight(v, "/")
}

// session serializes writes to one media stream websocket.
type session struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func newSession(conn *websocket.Conn) *session {
	return &session{conn: conn, sendCh: make(chan []byte, 1024), done: make(chan struct{})}
}

// enqueue waits for buffer space rather than dropping audio.
func (s *session) enqueue(msg map[string]any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case s.sendCh <- b:
		return nil
	case <-s.done:
		return errStreamClosed
	}
}

func (s *session) loop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.sendCh:
			if s.conn == nil {
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = s.close()
				return
			}
		}
	}
}

func (s *session) close() error {
	s.once.Do(func() { close(s.done) })
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

type TwilioStart struct {
	CallSID  string `json:"callSid"`
	StreamID string `json:"streamSid"`
	From     string `json:"from"`
}

type TwilioMedia struct {
	Payload   string `json:"payload"`
	Timestamp string `json:"timestamp"`
}

type TwilioMark struct {
	Name string `json:"name"`
}

type TwilioStop struct {
	Reason string `json:"reason"`
}

type TwilioEvent struct {
	Event string       `json:"event"`
	Start *TwilioStart `json:"start,omitempty"`
	Media *TwilioMedia `json:"media,omitempty"`
	Mark  *TwilioMark  `json:"mark,omitempty"`
	Stop  *TwilioStop  `json:"stop,omitempty"`
}

var (
	_ transports.Transport      = (*Transport)(nil)
	_ transports.OutboundDialer = (*Transport)(nil)
	_ transports.Hanger         = (*Transport)(nil)
	_ transports.HandlerMounter = (*Transport)(nil)
	_ transports.ReadyReporter  = (*Transport)(nil)
)
