package web

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/justestif/go-aiam/internal/audiocache"
	"github.com/justestif/go-aiam/internal/export"
	"github.com/justestif/go-aiam/internal/playback"
	"github.com/justestif/go-aiam/internal/readiness"
	"github.com/justestif/go-aiam/internal/storage"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second

	// Largest client message: {"type":"ended","seq":N}.
	maxClientMessage = 512
)

// Message types on the playback socket.
const (
	msgSession  = "session"
	msgPlay     = "play"
	msgPause    = "pause"
	msgResume   = "resume"
	msgStop     = "stop"
	msgState    = "state"
	msgError    = "error"
	msgCredits  = "credits"
	msgFinished = "finished"
	msgEnded    = "ended"
	msgFailed   = "failed"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// serverMessage is sent to the browser.
type serverMessage struct {
	Type             string `json:"type"`
	SessionID        string `json:"sessionId,omitempty"`
	Seq              int    `json:"seq,omitempty"`
	AffirmationID    string `json:"affirmationId,omitempty"`
	URL              string `json:"url,omitempty"`
	State            string `json:"state,omitempty"`
	Index            *int   `json:"index,omitempty"`
	Code             string `json:"code,omitempty"`
	Message          string `json:"message,omitempty"`
	Action           string `json:"action,omitempty"`
	CreditsRemaining *int   `json:"creditsRemaining,omitempty"`
	LowBalance       bool   `json:"lowBalance,omitempty"`
	Ready            *bool  `json:"ready,omitempty"`
	MissingCount     *int   `json:"missingCount,omitempty"`
	TotalCount       *int   `json:"totalCount,omitempty"`
}

// clientMessage is received from the browser.
type clientMessage struct {
	Type    string `json:"type"`
	Seq     int    `json:"seq"`
	Message string `json:"message,omitempty"`
}

// socket serializes writes to a websocket connection.
type socket struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *socket) send(msg serverMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(msg)
}

func (s *socket) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *socket) close(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = s.conn.Close()
}

// errDisconnected ends clips still playing when the browser goes away.
var errDisconnected = errors.New("player disconnected")

// remotePlayer plays clips in the browser on the other end of a socket.
// Each clip gets a sequence number; the browser reports ended or failed.
type remotePlayer struct {
	sock *socket

	mu     sync.Mutex
	seq    int
	active map[int]*remotePlayback
}

func newRemotePlayer(sock *socket) *remotePlayer {
	return &remotePlayer{sock: sock, active: make(map[int]*remotePlayback)}
}

// Play implements playback.Player.
func (p *remotePlayer) Play(_ context.Context, clip *playback.Clip) (playback.Playback, error) {
	url := clip.URL
	if url == "" {
		url = "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString(clip.Audio)
	}

	p.mu.Lock()
	p.seq++
	pb := &remotePlayback{player: p, seq: p.seq, done: make(chan error, 1)}
	p.active[pb.seq] = pb
	p.mu.Unlock()

	err := p.sock.send(serverMessage{
		Type:          msgPlay,
		Seq:           pb.seq,
		AffirmationID: clip.AffirmationID,
		URL:           url,
	})
	if err != nil {
		p.finish(pb.seq, nil)
		return nil, fmt.Errorf("sending clip: %w", err)
	}
	return pb, nil
}

// finish completes the clip with the given sequence number.
func (p *remotePlayer) finish(seq int, err error) {
	p.mu.Lock()
	pb, ok := p.active[seq]
	delete(p.active, seq)
	p.mu.Unlock()

	if ok {
		pb.done <- err
	}
}

// disconnect fails every clip still playing.
func (p *remotePlayer) disconnect() {
	p.mu.Lock()
	active := p.active
	p.active = make(map[int]*remotePlayback)
	p.mu.Unlock()

	for _, pb := range active {
		pb.done <- errDisconnected
	}
}

type remotePlayback struct {
	player *remotePlayer
	seq    int
	done   chan error
}

func (pb *remotePlayback) Done() <-chan error { return pb.done }

func (pb *remotePlayback) Pause() {
	_ = pb.player.sock.send(serverMessage{Type: msgPause, Seq: pb.seq})
}

func (pb *remotePlayback) Resume() {
	_ = pb.player.sock.send(serverMessage{Type: msgResume, Seq: pb.seq})
}

func (pb *remotePlayback) Stop() {
	_ = pb.player.sock.send(serverMessage{Type: msgStop, Seq: pb.seq})
	pb.player.finish(pb.seq, nil)
}

var (
	_ playback.Player   = (*remotePlayer)(nil)
	_ playback.Playback = (*remotePlayback)(nil)
)

// cacheSource acquires clips from the audio cache. Stored clips are sent
// as signed URLs; fresh ones inline until they are committed.
type cacheSource struct {
	audio  AudioCache
	urls   URLResolver
	userID string
	notify func(serverMessage)
}

// Acquire implements playback.ClipSource.
func (s *cacheSource) Acquire(ctx context.Context, item playback.Item, voiceID string) (*playback.Clip, error) {
	p, err := s.audio.Prepare(ctx, s.userID, audiocache.Item{AffirmationID: item.AffirmationID, Text: item.Text}, voiceID)
	if err != nil {
		return nil, err
	}

	clip := &playback.Clip{AffirmationID: item.AffirmationID}
	if !p.Generated() {
		if clip.URL, err = s.urls.ResolveURL(ctx, p.URI, storage.DefaultURLTTL); err != nil {
			return nil, fmt.Errorf("resolving clip url: %w", err)
		}
		return clip, nil
	}

	clip.Audio = p.Audio
	clip.Generated = true
	clip.Discard = p.Discard
	clip.Commit = func(ctx context.Context) error {
		res, err := p.Commit(ctx)
		if err != nil {
			return err
		}
		if res.CreditsRemaining != nil {
			s.notify(serverMessage{
				Type:             msgCredits,
				AffirmationID:    item.AffirmationID,
				CreditsRemaining: res.CreditsRemaining,
				LowBalance:       res.LowBalance,
			})
		}
		return nil
	}
	return clip, nil
}

var _ playback.ClipSource = (*cacheSource)(nil)

// Play streams a playlist to the browser over a websocket
// (GET /playlists/{playlistID}/play?userId=&voiceId=&from=).
func (h *Handlers) Play(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, voiceID := q.Get("userId"), q.Get("voiceId")
	playlistID := chi.URLParam(r, "playlistID")
	if userID == "" || voiceID == "" {
		writeError(w, r, h.logger, fmt.Errorf("%w: userId and voiceId are required", errBadRequest), CodeBadRequest)
		return
	}

	from := 0
	if v := q.Get("from"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, h.logger, fmt.Errorf("%w: invalid from %q", errBadRequest, v), CodeBadRequest)
			return
		}
		from = n
	}

	entries, err := h.loadPlaylist(r.Context(), userID, playlistID)
	if err != nil {
		writeError(w, r, h.logger, err, CodeInternal)
		return
	}

	// Slots whose affirmation was deleted are skipped.
	items := make([]playback.Item, 0, len(entries))
	for _, a := range entries {
		if a != nil {
			items = append(items, playback.Item{AffirmationID: a.ID, Text: a.Text})
		}
	}
	if len(items) == 0 {
		writeError(w, r, h.logger, export.ErrEmptyPlaylist, CodeEmptyPlaylist)
		return
	}
	if from < 0 || from >= len(items) {
		writeError(w, r, h.logger, fmt.Errorf("%w: from %d out of range", errBadRequest, from), CodeBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	sock := &socket{conn: conn}
	logger := h.logger.With("playlist_id", playlistID, "user_id", userID, "voice_id", voiceID)

	player := newRemotePlayer(sock)
	source := &cacheSource{
		audio:  h.audio,
		urls:   h.urls,
		userID: userID,
		notify: func(m serverMessage) { _ = sock.send(m) },
	}
	// The Idle event is the last one a session emits.
	ended := make(chan error, 1)
	engine := playback.New(source, player,
		playback.OnEvent(func(ev playback.Event) {
			index := ev.Index
			_ = sock.send(serverMessage{Type: msgState, State: ev.State.String(), Index: &index})
			if ev.Err != nil && !errors.Is(ev.Err, playback.ErrAborted) {
				resp := classify(ev.Err, CodeSynthesisFailed)
				logger.Error("playback ended with error", "error_code", resp.Code, "error", ev.Err)
				_ = sock.send(serverMessage{Type: msgError, Code: resp.Code, Message: resp.Error, Action: resp.Action})
			}
			if ev.State == playback.StateIdle {
				ended <- ev.Err
			}
		}),
		playback.WithLogger(logger),
	)

	session := h.sessions.Create(userID, playlistID, voiceID, engine)
	defer h.sessions.Delete(session.ID)
	logger = logger.With("session_id", session.ID)

	if err := sock.send(serverMessage{Type: msgSession, SessionID: session.ID}); err != nil {
		sock.close("")
		return
	}

	ctx := context.WithoutCancel(r.Context())
	if err := engine.Start(ctx, playback.Request{Items: items, VoiceID: voiceID, From: from}); err != nil {
		logger.Error("starting playback", "error", err)
		sock.close("")
		return
	}
	logger.Info("playback started", "items", len(items), "from", from)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		h.readControl(conn, engine, player, logger)
	}()

	stopPing := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := sock.ping(); err != nil {
					return
				}
			case <-stopPing:
				return
			}
		}
	}()

	err = <-ended
	close(stopPing)
	logger.Info("playback ended", "error", err)

	// Clips generated during the session may have completed the playlist.
	finished := serverMessage{Type: msgFinished}
	if entries, err := h.loadPlaylist(context.WithoutCancel(r.Context()), userID, playlistID); err == nil {
		report := readiness.Check(entries, voiceID)
		finished.Ready = &report.Ready
		finished.MissingCount = &report.MissingCount
		finished.TotalCount = &report.TotalCount
	} else {
		logger.Warn("re-checking readiness", "error", err)
	}
	_ = sock.send(finished)

	sock.close("playback finished")
	<-readDone
}

// readControl handles browser messages until the socket closes. A closed
// socket stops the session.
func (h *Handlers) readControl(conn *websocket.Conn, engine *playback.Engine, player *remotePlayer, logger *slog.Logger) {
	defer func() {
		engine.Stop()
		player.disconnect()
	}()

	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("playback socket closed", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case msgEnded:
			player.finish(msg.Seq, nil)
		case msgFailed:
			player.finish(msg.Seq, fmt.Errorf("browser could not play clip: %s", msg.Message))
		case msgPause:
			engine.Pause()
		case msgResume:
			engine.Resume()
		case msgStop:
			engine.Stop()
		default:
			logger.Debug("ignoring playback message", "type", msg.Type)
		}
	}
}
