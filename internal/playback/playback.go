// Package playback runs a playlist clip by clip: it resolves or generates
// each clip, plays it to completion, and supports pause, resume and abort.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultClipGap is the pause between consecutive clips.
const DefaultClipGap = 500 * time.Millisecond

var (
	// ErrAborted is returned by Wait when the session was stopped.
	ErrAborted = errors.New("playback aborted")

	// ErrBusy is returned by Start while a session is running.
	ErrBusy = errors.New("playback already running")
)

// State is the engine state.
type State int

const (
	StateIdle State = iota
	StatePlaying
	StatePaused
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Item is one playlist entry.
type Item struct {
	AffirmationID string
	Text          string
}

// Clip is playable audio for an item.
type Clip struct {
	AffirmationID string
	URL           string // fetchable URL; empty when only Audio is set
	Audio         []byte // encoded audio of a freshly generated clip
	Generated     bool

	// Commit persists a generated clip and charges for it. Discard drops it.
	// Both are nil for cached clips; otherwise exactly one is called.
	Commit  func(ctx context.Context) error
	Discard func()
}

// ClipSource resolves or generates the clip for an item.
type ClipSource interface {
	Acquire(ctx context.Context, item Item, voiceID string) (*Clip, error)
}

// Playback is a clip being played.
type Playback interface {
	// Done yields nil when the clip ends or an error if playback failed.
	Done() <-chan error
	Pause()
	Resume()
	Stop()
}

// Player is the audio sink.
type Player interface {
	Play(ctx context.Context, clip *Clip) (Playback, error)
}

// Event reports engine progress.
type Event struct {
	State         State
	Index         int
	AffirmationID string
	Clip          *Clip // set when a clip starts
	Err           error
}

// Request starts a session.
type Request struct {
	Items   []Item
	VoiceID string
	From    int // index to start at
}

// Engine is a sequential playback state machine. It runs one session at a time.
type Engine struct {
	source  ClipSource
	player  Player
	gap     time.Duration
	onEvent func(Event)
	logger  *slog.Logger

	mu      sync.Mutex
	state   State
	index   int
	cancel  context.CancelFunc
	resumed chan struct{} // closed unless paused
	current Playback
	done    chan struct{}
	err     error
}

// Option configures an Engine.
type Option func(*Engine)

// WithClipGap sets the pause between clips.
func WithClipGap(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.gap = d
		}
	}
}

// OnEvent registers a callback for state changes and clip starts.
// It is called synchronously from the engine.
func OnEvent(fn func(Event)) Option {
	return func(e *Engine) {
		e.onEvent = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an idle engine.
func New(source ClipSource, player Player, opts ...Option) *Engine {
	e := &Engine{
		source: source,
		player: player,
		gap:    DefaultClipGap,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "playback")
	return e
}

// Start begins playing req.Items from req.From. It returns immediately.
func (e *Engine) Start(ctx context.Context, req Request) error {
	if req.From < 0 || req.From >= len(req.Items) {
		if len(req.Items) == 0 {
			return errors.New("nothing to play")
		}
		return fmt.Errorf("start index %d out of range [0,%d)", req.From, len(req.Items))
	}

	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.state = StatePlaying
	e.index = req.From
	e.resumed = make(chan struct{})
	close(e.resumed)
	e.done = make(chan struct{})
	e.err = nil
	ev := e.eventLocked()
	e.mu.Unlock()

	e.emit(ev)
	go e.run(ctx, req)
	return nil
}

// Pause freezes the current clip without losing its position.
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.state != StatePlaying {
		e.mu.Unlock()
		return
	}
	e.state = StatePaused
	e.resumed = make(chan struct{})
	if e.current != nil {
		e.current.Pause()
	}
	ev := e.eventLocked()
	e.mu.Unlock()
	e.emit(ev)
}

// Resume continues a paused session.
func (e *Engine) Resume() {
	e.mu.Lock()
	if e.state != StatePaused {
		e.mu.Unlock()
		return
	}
	e.state = StatePlaying
	close(e.resumed)
	if e.current != nil {
		e.current.Resume()
	}
	ev := e.eventLocked()
	e.mu.Unlock()
	e.emit(ev)
}

// Stop halts the current clip and ends the session. No further clip starts.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != StatePlaying && e.state != StatePaused {
		e.mu.Unlock()
		return
	}
	e.state = StateAborted
	e.cancel()
	if e.current != nil {
		e.current.Stop()
	}
	ev := e.eventLocked()
	e.mu.Unlock()
	e.emit(ev)
}

// Wait blocks until the session ends. It returns nil when every clip
// played, ErrAborted after Stop, or the error that ended the session.
func (e *Engine) Wait() error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Index returns the position of the current or next clip.
func (e *Engine) Index() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index
}

func (e *Engine) run(ctx context.Context, req Request) {
	err := e.loop(ctx, req)

	e.mu.Lock()
	aborted := e.state == StateAborted || errors.Is(err, context.Canceled)
	switch {
	case aborted:
		err = ErrAborted
		e.index = 0
	case err == nil:
		e.index = 0
	}
	e.cancel()
	e.state = StateIdle
	e.current = nil
	e.err = err
	ev := e.eventLocked()
	ev.Err = err
	close(e.done)
	e.mu.Unlock()

	if err != nil && !aborted {
		e.logger.Error("playback failed", "index", ev.Index, "error", err)
	}
	e.emit(ev)
}

func (e *Engine) loop(ctx context.Context, req Request) error {
	for i := req.From; i < len(req.Items); i++ {
		item := req.Items[i]
		e.mu.Lock()
		e.index = i
		e.mu.Unlock()

		if err := e.waitResumed(ctx); err != nil {
			return err
		}

		clip, err := e.acquire(ctx, item, req.VoiceID)
		if err != nil {
			return err
		}

		// Persist while the clip plays; audible playback does not wait on storage.
		committed := make(chan error, 1)
		if clip.Commit != nil {
			go func() {
				committed <- clip.Commit(context.WithoutCancel(ctx))
			}()
		} else {
			committed <- nil
		}

		playErr := e.play(ctx, i, clip)

		if err := <-committed; err != nil {
			e.logger.Warn("caching clip failed", "affirmation_id", item.AffirmationID, "error", err)
		}
		if playErr != nil {
			return playErr
		}

		if i < len(req.Items)-1 && e.gap > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.gap):
			}
		}
	}
	return nil
}

// acquire resolves a clip, abandoning the call on cancellation. A clip that
// arrives after cancellation is discarded.
func (e *Engine) acquire(ctx context.Context, item Item, voiceID string) (*Clip, error) {
	type result struct {
		clip *Clip
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		clip, err := e.source.Acquire(ctx, item, voiceID)
		ch <- result{clip, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if ctx.Err() != nil {
			discard(r.clip)
			return nil, ctx.Err()
		}
		return r.clip, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				discard(r.clip)
			}
		}()
		return nil, ctx.Err()
	}
}

func discard(c *Clip) {
	if c != nil && c.Discard != nil {
		c.Discard()
	}
}

func (e *Engine) play(ctx context.Context, index int, clip *Clip) error {
	if err := e.waitResumed(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	aborted := e.state == StateAborted
	e.mu.Unlock()
	if aborted {
		return ErrAborted
	}

	pb, err := e.player.Play(ctx, clip)
	if err != nil {
		return fmt.Errorf("starting clip %d: %w", index, err)
	}

	e.mu.Lock()
	if e.state == StateAborted {
		e.mu.Unlock()
		pb.Stop()
		return ErrAborted
	}
	e.current = pb
	if e.state == StatePaused {
		pb.Pause()
	}
	ev := e.eventLocked()
	ev.AffirmationID = clip.AffirmationID
	ev.Clip = clip
	e.mu.Unlock()
	e.emit(ev)

	defer func() {
		e.mu.Lock()
		e.current = nil
		e.mu.Unlock()
	}()

	select {
	case err := <-pb.Done():
		if err != nil {
			return fmt.Errorf("playing clip %d: %w", index, err)
		}
		return nil
	case <-ctx.Done():
		pb.Stop()
		return ctx.Err()
	}
}

// waitResumed blocks while paused. Cancellation wins over a resumed engine.
func (e *Engine) waitResumed(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	resumed := e.resumed
	e.mu.Unlock()

	select {
	case <-resumed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) eventLocked() Event {
	return Event{State: e.state, Index: e.index}
}

func (e *Engine) emit(ev Event) {
	if e.onEvent != nil {
		e.onEvent(ev)
	}
}
