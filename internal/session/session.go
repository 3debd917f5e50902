// Package session keeps linked Figma files under watch.
//
// Each linked file gets one Session that periodically runs the modification
// check. The slides to check are reloaded from the store on every tick; a
// session ends by itself when its file has no linked slide left. After a
// manual sync, polling of that file pauses for a cooldown.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kataras/figma-slides/internal/apperr"
	"github.com/kataras/figma-slides/internal/clock"
	"github.com/kataras/figma-slides/internal/sse"
	"github.com/kataras/figma-slides/internal/store"
	"github.com/kataras/figma-slides/pkg/syncer"
)

// Defaults used by NewManager.
const (
	DefaultInterval = 30 * time.Second
	DefaultCooldown = 5 * time.Second
)

// ErrCheckInProgress is returned by CheckNow while the file is being checked.
var ErrCheckInProgress = fmt.Errorf("session: %w: check already in progress", apperr.ErrConflict)

// Source lists the stored slides. *slides.Service satisfies it.
type Source interface {
	ListByFile(ctx context.Context, fileKey string) ([]*store.Slide, error)
	LinkedFiles(ctx context.Context) ([]string, error)
}

// Checker runs the modification check. *syncer.Engine satisfies it.
type Checker interface {
	CheckIndividualSlideUpdates(ctx context.Context, records []syncer.SlideRecord) (*syncer.CheckResult, error)
}

// Publisher receives session events. *sse.Broker satisfies it.
type Publisher interface {
	Publish(event sse.Event)
}

// Status is a snapshot of a session.
type Status struct {
	FileKey       string               `json:"file_key"`
	Checking      bool                 `json:"checking"`
	Modified      []syncer.SlideRecord `json:"modified"`
	LastCheckedAt time.Time            `json:"last_checked_at,omitzero"`
	CooldownUntil time.Time            `json:"cooldown_until,omitzero"`
	Offline       bool                 `json:"offline"`
	LastError     string               `json:"last_error,omitempty"`
}

// Session watches one file. Its fields are guarded by mu.
type Session struct {
	m       *Manager
	fileKey string
	cancel  context.CancelFunc

	mu            sync.Mutex
	checking      bool
	modified      []syncer.SlideRecord
	lastCheckedAt time.Time
	cooldownUntil time.Time
	offline       bool
	lastError     string
	// syncGen counts manual syncs. A check started before the latest one
	// compared outdated hashes and its verdict is dropped.
	syncGen uint64
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		FileKey:       s.fileKey,
		Checking:      s.checking,
		Modified:      slices.Clone(s.modified),
		LastCheckedAt: s.lastCheckedAt,
		CooldownUntil: s.cooldownUntil,
		Offline:       s.offline,
		LastError:     s.lastError,
	}
}

func (s *Session) run(ctx context.Context) {
	defer s.m.forget(s)

	ticker := time.NewTicker(s.m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.inCooldown() {
				continue
			}
			_, linked, err := s.check(ctx)
			if errors.Is(err, ErrCheckInProgress) {
				continue
			}
			if !linked {
				s.m.logger.Info("sync session ended, no linked slides left", "file", s.fileKey)
				return
			}
		}
	}
}

func (s *Session) inCooldown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.clock.Now().Before(s.cooldownUntil)
}

func (s *Session) startCooldown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldownUntil = s.m.clock.Now().Add(s.m.cooldown)
	s.syncGen++
	// Verdicts predate the fresh hashes.
	s.modified = nil
}

// check reloads the linked slides and compares them with Figma. linked is
// false when the file has no linked slide anymore.
func (s *Session) check(ctx context.Context) (_ *syncer.CheckResult, linked bool, _ error) {
	s.mu.Lock()
	if s.checking {
		s.mu.Unlock()
		return nil, true, ErrCheckInProgress
	}
	s.checking = true
	gen := s.syncGen
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.checking = false
		s.mu.Unlock()
	}()

	slides, err := s.m.source.ListByFile(ctx, s.fileKey)
	if err != nil {
		s.m.logger.Warn("failed to load linked slides", "file", s.fileKey, "error", err)
		return nil, true, err
	}
	if len(slides) == 0 {
		return nil, false, nil
	}

	result, err := s.m.checker.CheckIndividualSlideUpdates(ctx, store.Records(slides))
	if err != nil {
		s.mu.Lock()
		if gen == s.syncGen {
			s.lastError = err.Error()
			s.offline = syncer.IsTransient(err)
		}
		s.mu.Unlock()
		return nil, true, err
	}

	s.apply(result, gen)
	return result, true, nil
}

func (s *Session) apply(result *syncer.CheckResult, gen uint64) {
	s.mu.Lock()
	if gen != s.syncGen {
		s.mu.Unlock()
		s.m.logger.Debug("check result dropped, file was synced meanwhile", "file", s.fileKey)
		return
	}
	changed := !sameSlides(s.modified, result.Modified)
	s.modified = slices.Clone(result.Modified)
	s.lastCheckedAt = s.m.clock.Now()
	s.lastError = ""
	// Every slide unchecked means Figma was unreachable.
	s.offline = result.Checked == 0 && len(result.Unchecked) > 0
	s.mu.Unlock()

	if changed && len(result.Modified) > 0 {
		ids := make([]string, len(result.Modified))
		for i, rec := range result.Modified {
			ids[i] = rec.ID
		}
		s.m.publisher.Publish(sse.Event{Type: sse.EventSlidesModified, Data: map[string]any{
			"file_key":  s.fileKey,
			"slide_ids": ids,
			"frame_ids": result.ModifiedFrameIDs(),
		}})
	}
}

func sameSlides(a, b []syncer.SlideRecord) bool {
	return slices.EqualFunc(a, b, func(x, y syncer.SlideRecord) bool { return x.ID == y.ID })
}

// Manager owns the sessions of all linked files.
type Manager struct {
	source    Source
	checker   Checker
	publisher Publisher
	clock     clock.Clock
	logger    syncer.Logger
	interval  time.Duration
	cooldown  time.Duration

	mu       sync.Mutex
	ctx      context.Context // nil until Run
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithCooldown sets how long polling pauses after a manual sync.
func WithCooldown(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.cooldown = d
		}
	}
}

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		if p != nil {
			m.publisher = p
		}
	}
}

// WithClock sets the clock used for cooldowns and check times.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l syncer.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(sse.Event) {}

// NewManager creates a session manager. Sessions start polling once Run is called.
func NewManager(source Source, checker Checker, opts ...Option) *Manager {
	m := &Manager{
		source:    source,
		checker:   checker,
		publisher: nopPublisher{},
		clock:     clock.RealClock{},
		logger:    syncer.NopLogger{},
		interval:  DefaultInterval,
		cooldown:  DefaultCooldown,
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run starts a session for every file that already has linked slides and
// blocks until ctx is done. All sessions are stopped before it returns.
func (m *Manager) Run(ctx context.Context) error {
	files, err := m.source.LinkedFiles(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.ctx = ctx
	for _, s := range m.sessions {
		m.startLocked(s)
	}
	for _, fileKey := range files {
		m.ensureLocked(fileKey)
	}
	m.mu.Unlock()

	m.logger.Info("sync sessions started", "files", len(files), "interval", m.interval.String())
	<-ctx.Done()

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.cancel != nil {
			s.cancel()
		}
	}
	m.mu.Unlock()
	m.wg.Wait()
	return nil
}

// Track makes sure fileKey has a session, e.g. after its first import.
func (m *Manager) Track(fileKey string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureLocked(fileKey)
}

// ManualSync records that fileKey was just synchronized by a user: the file
// is tracked and its polling pauses for the cooldown.
func (m *Manager) ManualSync(fileKey string) {
	m.Track(fileKey).startCooldown()
}

// CheckNow checks fileKey immediately, ignoring the cooldown. It returns
// apperr.ErrNotFound when the file has no linked slides.
func (m *Manager) CheckNow(ctx context.Context, fileKey string) (*syncer.CheckResult, error) {
	m.mu.Lock()
	s, ok := m.sessions[fileKey]
	m.mu.Unlock()
	if !ok {
		slides, err := m.source.ListByFile(ctx, fileKey)
		if err != nil {
			return nil, err
		}
		if len(slides) == 0 {
			return nil, apperr.ErrNotFound
		}
		s = m.Track(fileKey)
	}

	result, linked, err := s.check(ctx)
	if err != nil {
		return nil, err
	}
	if !linked {
		m.stop(s)
		return nil, apperr.ErrNotFound
	}
	return result, nil
}

// Status returns the status of the session watching fileKey.
func (m *Manager) Status(fileKey string) (Status, bool) {
	m.mu.Lock()
	s, ok := m.sessions[fileKey]
	m.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return s.Status(), true
}

// Files returns the keys of the watched files.
func (m *Manager) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (m *Manager) ensureLocked(fileKey string) *Session {
	if s, ok := m.sessions[fileKey]; ok {
		return s
	}
	s := &Session{m: m, fileKey: fileKey}
	m.sessions[fileKey] = s
	if m.ctx != nil {
		m.startLocked(s)
	}
	m.logger.Debug("sync session created", "file", fileKey)
	return s
}

func (m *Manager) startLocked(s *Session) {
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	s.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.run(ctx)
	}()
}

// stop ends s and removes it.
func (m *Manager) stop(s *Session) {
	m.mu.Lock()
	cancel := s.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		return // run removes it
	}
	m.forget(s)
}

func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.fileKey] == s {
		delete(m.sessions, s.fileKey)
	}
}
