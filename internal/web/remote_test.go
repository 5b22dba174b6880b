package web

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/justestif/go-aiam/internal/tts"
)

func (e *testEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg clientMessage) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
}

// readUntil reads messages until one has type typ, returning it and
// everything read before it.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) (serverMessage, []serverMessage) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var skipped []serverMessage
	for {
		var m serverMessage
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("waiting for %q: %v (read %+v)", typ, err, skipped)
		}
		if m.Type == typ {
			return m, skipped
		}
		skipped = append(skipped, m)
	}
}

func TestPlay_InOrderWithGeneratedClip(t *testing.T) {
	env := newTestEnv(t)
	env.lib.addAffirmation("a1", map[string]string{testVoice: env.storeClip(t, "a1")})
	env.lib.addAffirmation("a2", nil)
	env.lib.addPlaylist("p1", "a1", "deleted", "a2")

	conn := env.dial(t, "/playlists/p1/play?userId=user-1&voiceId=stock-voice")

	session, _ := readUntil(t, conn, msgSession)
	if session.SessionID == "" {
		t.Fatal("session message without id")
	}
	if env.server.Sessions().Get(session.SessionID) == nil {
		t.Error("session not registered")
	}

	first, _ := readUntil(t, conn, msgPlay)
	if first.AffirmationID != "a1" || first.Seq != 1 {
		t.Errorf("first play = %+v, want a1 seq 1", first)
	}
	if !strings.HasPrefix(first.URL, env.http.URL+"/media/") {
		t.Errorf("cached clip url = %s, want signed media url", first.URL)
	}
	send(t, conn, clientMessage{Type: msgEnded, Seq: first.Seq})

	second, _ := readUntil(t, conn, msgPlay)
	if second.AffirmationID != "a2" || second.Seq != 2 {
		t.Errorf("second play = %+v, want a2 seq 2", second)
	}
	data, ok := strings.CutPrefix(second.URL, "data:audio/mpeg;base64,")
	if !ok {
		t.Fatalf("generated clip url = %.40s, want data url", second.URL)
	}
	audio, err := base64.StdEncoding.DecodeString(data)
	if err != nil || string(audio) != "mp3:stock-voice:I am a2" {
		t.Errorf("generated clip = %q, %v", audio, err)
	}
	send(t, conn, clientMessage{Type: msgEnded, Seq: second.Seq})

	finished, _ := readUntil(t, conn, msgFinished)
	if finished.Ready == nil || *finished.Ready {
		t.Errorf("finished.ready = %v, want false (deleted slot)", finished.Ready)
	}
	if *finished.MissingCount != 1 || *finished.TotalCount != 3 {
		t.Errorf("finished counts = %d/%d, want 1/3", *finished.MissingCount, *finished.TotalCount)
	}

	if _, err := env.lib.AudioURL(context.Background(), "a2", testVoice); err != nil {
		t.Errorf("generated clip not cached: %v", err)
	}
	if got := env.synth.calls.Load(); got != 1 {
		t.Errorf("synthesis calls = %d, want 1", got)
	}
	eventually(t, func() bool { return env.server.Sessions().Len() == 0 }, "session not removed")
}

func TestPlay_ControlsOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.lib.addAffirmation("a1", map[string]string{testVoice: env.storeClip(t, "a1")})
	env.lib.addAffirmation("a2", map[string]string{testVoice: env.storeClip(t, "a2")})
	env.lib.addPlaylist("p1", "a1", "a2")

	conn := env.dial(t, "/playlists/p1/play?userId=user-1&voiceId=stock-voice")
	session, _ := readUntil(t, conn, msgSession)
	play, _ := readUntil(t, conn, msgPlay)
	base := "/playback/" + session.SessionID

	resp := env.do(t, http.MethodPost, base+"/pause", nil)
	if got := decode[sessionResponse](t, resp); got.State != "paused" || got.Index != 0 {
		t.Errorf("after pause = %+v, want paused at 0", got)
	}
	if m, _ := readUntil(t, conn, msgPause); m.Seq != play.Seq {
		t.Errorf("pause seq = %d, want %d", m.Seq, play.Seq)
	}

	resp = env.do(t, http.MethodGet, base, nil)
	if got := decode[sessionResponse](t, resp); got.State != "paused" || got.PlaylistID != "p1" {
		t.Errorf("status = %+v, want paused p1", got)
	}

	resp = env.do(t, http.MethodPost, base+"/resume", nil)
	if got := decode[sessionResponse](t, resp); got.State != "playing" {
		t.Errorf("after resume state = %s, want playing", got.State)
	}
	readUntil(t, conn, msgResume)

	env.do(t, http.MethodPost, base+"/stop", nil)
	readUntil(t, conn, msgStop)

	finished, before := readUntil(t, conn, msgFinished)
	for _, m := range before {
		if m.Type == msgPlay {
			t.Errorf("clip %s started after stop", m.AffirmationID)
		}
	}
	if finished.Ready == nil || !*finished.Ready {
		t.Error("finished.ready = false, want true")
	}

	eventually(t, func() bool { return env.server.Sessions().Len() == 0 }, "session not removed")
	if resp := env.do(t, http.MethodGet, base, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("status after end = %d, want 404", resp.StatusCode)
	}
}

func TestPlay_ControlsOverSocket(t *testing.T) {
	env := newTestEnv(t)
	env.lib.addAffirmation("a1", map[string]string{testVoice: env.storeClip(t, "a1")})
	env.lib.addAffirmation("a2", map[string]string{testVoice: env.storeClip(t, "a2")})
	env.lib.addPlaylist("p1", "a1", "a2")

	conn := env.dial(t, "/playlists/p1/play?userId=user-1&voiceId=stock-voice&from=1")
	play, _ := readUntil(t, conn, msgPlay)
	if play.AffirmationID != "a2" {
		t.Errorf("started at %s, want a2", play.AffirmationID)
	}

	send(t, conn, clientMessage{Type: msgPause})
	for {
		m, _ := readUntil(t, conn, msgState)
		if m.State == "paused" {
			break
		}
	}

	send(t, conn, clientMessage{Type: msgResume})
	send(t, conn, clientMessage{Type: msgEnded, Seq: play.Seq})
	readUntil(t, conn, msgFinished)
}

func TestPlay_BrowserFailure(t *testing.T) {
	env := newTestEnv(t)
	env.lib.addAffirmation("a1", map[string]string{testVoice: env.storeClip(t, "a1")})
	env.lib.addAffirmation("a2", map[string]string{testVoice: env.storeClip(t, "a2")})
	env.lib.addPlaylist("p1", "a1", "a2")

	conn := env.dial(t, "/playlists/p1/play?userId=user-1&voiceId=stock-voice")
	play, _ := readUntil(t, conn, msgPlay)
	send(t, conn, clientMessage{Type: msgFailed, Seq: play.Seq, Message: "decode error"})

	errMsg, before := readUntil(t, conn, msgError)
	if errMsg.Code == "" || errMsg.Message == "" {
		t.Errorf("error message = %+v", errMsg)
	}
	for _, m := range before {
		if m.Type == msgPlay {
			t.Error("next clip started after a failed clip")
		}
	}
	readUntil(t, conn, msgFinished)
}

func TestPlay_SynthesisErrors(t *testing.T) {
	tests := []struct {
		name       string
		voice      string
		balance    int
		synthErr   error
		wantCode   string
		wantAction string
	}{
		{
			name:       "unusual activity",
			voice:      testVoice,
			balance:    100,
			synthErr:   &tts.APIError{StatusCode: http.StatusUnauthorized, Status: tts.StatusUnusualActivity},
			wantCode:   CodeSynthesisRateLimited,
			wantAction: ActionUpgrade,
		},
		{
			name:       "insufficient credits",
			voice:      personalVoice,
			balance:    0,
			wantCode:   CodeInsufficientCredits,
			wantAction: ActionTopUp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.credits.setBalance(tt.balance)
			env.synth.setErr(tt.synthErr)
			env.lib.addAffirmation("a1", nil)
			env.lib.addPlaylist("p1", "a1")

			conn := env.dial(t, "/playlists/p1/play?userId=user-1&voiceId="+tt.voice)

			errMsg, _ := readUntil(t, conn, msgError)
			if errMsg.Code != tt.wantCode || errMsg.Action != tt.wantAction {
				t.Errorf("error = %+v, want code %s action %s", errMsg, tt.wantCode, tt.wantAction)
			}
			finished, _ := readUntil(t, conn, msgFinished)
			if finished.Ready == nil || *finished.Ready {
				t.Error("finished.ready = true, want false")
			}
		})
	}
}

func TestPlay_PersonalVoiceCredits(t *testing.T) {
	env := newTestEnv(t)
	env.credits.setBalance(15)
	env.lib.addAffirmation("a1", nil)
	env.lib.addPlaylist("p1", "a1")

	conn := env.dial(t, "/playlists/p1/play?userId=user-1&voiceId=my-voice")

	// The charge lands while the clip plays, so either message may come first.
	var play, credits serverMessage
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for play.Type == "" || credits.Type == "" {
		var m serverMessage
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		switch m.Type {
		case msgPlay:
			play = m
		case msgCredits:
			credits = m
		}
	}
	if credits.CreditsRemaining == nil || *credits.CreditsRemaining != 5 {
		t.Errorf("creditsRemaining = %v, want 5", credits.CreditsRemaining)
	}
	if credits.LowBalance {
		t.Error("lowBalance set with no use left")
	}

	send(t, conn, clientMessage{Type: msgEnded, Seq: play.Seq})
	readUntil(t, conn, msgFinished)
}

func TestPlay_DisconnectStopsSession(t *testing.T) {
	env := newTestEnv(t)
	env.lib.addAffirmation("a1", map[string]string{testVoice: env.storeClip(t, "a1")})
	env.lib.addPlaylist("p1", "a1")

	conn := env.dial(t, "/playlists/p1/play?userId=user-1&voiceId=stock-voice")
	readUntil(t, conn, msgPlay)
	if got := env.server.Sessions().Len(); got != 1 {
		t.Fatalf("sessions = %d, want 1", got)
	}

	conn.Close()
	eventually(t, func() bool { return env.server.Sessions().Len() == 0 }, "session survived disconnect")
}

func TestPlay_RejectedBeforeUpgrade(t *testing.T) {
	env := newTestEnv(t)
	env.lib.addAffirmation("a1", nil)
	env.lib.addPlaylist("p1", "a1")
	env.lib.addPlaylist("gone", "deleted-1", "deleted-2")

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantCode   string
	}{
		{"missing voice", "/playlists/p1/play?userId=user-1", http.StatusBadRequest, CodeBadRequest},
		{"bad from", "/playlists/p1/play?userId=user-1&voiceId=v&from=x", http.StatusBadRequest, CodeBadRequest},
		{"from out of range", "/playlists/p1/play?userId=user-1&voiceId=v&from=1", http.StatusBadRequest, CodeBadRequest},
		{"unknown playlist", "/playlists/nope/play?userId=user-1&voiceId=v", http.StatusNotFound, CodeNotFound},
		{"only deleted entries", "/playlists/gone/play?userId=user-1&voiceId=v", http.StatusBadRequest, CodeEmptyPlaylist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, tt.path, nil)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if got := decode[apiError](t, resp); got.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", got.Code, tt.wantCode)
			}
		})
	}
}
