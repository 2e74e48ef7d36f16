package application

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/example/daily-engagement/internal/lifecycle"
	"github.com/example/daily-engagement/internal/persistence"
)

type scheduleRepoStub struct {
	mu        sync.Mutex
	schedules map[string]persistence.OrganizationSchedule
	gets      int
	err       error
}

func newScheduleRepoStub(schedules ...persistence.OrganizationSchedule) *scheduleRepoStub {
	stub := &scheduleRepoStub{schedules: make(map[string]persistence.OrganizationSchedule)}
	for _, s := range schedules {
		if s.Version == 0 {
			s.Version = 1
		}
		stub.schedules[s.ID] = s
	}
	return stub
}

func (s *scheduleRepoStub) CreateSchedule(ctx context.Context, schedule persistence.OrganizationSchedule) (persistence.OrganizationSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return persistence.OrganizationSchedule{}, s.err
	}
	if _, ok := s.schedules[schedule.ID]; ok {
		return persistence.OrganizationSchedule{}, persistence.ErrDuplicate
	}
	schedule.Version = 1
	s.schedules[schedule.ID] = schedule
	return schedule, nil
}

func (s *scheduleRepoStub) UpdateSchedule(ctx context.Context, schedule persistence.OrganizationSchedule, expectedVersion int64) (persistence.OrganizationSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return persistence.OrganizationSchedule{}, s.err
	}
	current, ok := s.schedules[schedule.ID]
	if !ok {
		return persistence.OrganizationSchedule{}, persistence.ErrNotFound
	}
	if current.Version != expectedVersion {
		return persistence.OrganizationSchedule{}, persistence.ErrVersionConflict
	}
	schedule.Version = expectedVersion + 1
	s.schedules[schedule.ID] = schedule
	return schedule, nil
}

func (s *scheduleRepoStub) GetSchedule(ctx context.Context, id string) (persistence.OrganizationSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.err != nil {
		return persistence.OrganizationSchedule{}, s.err
	}
	schedule, ok := s.schedules[id]
	if !ok {
		return persistence.OrganizationSchedule{}, persistence.ErrNotFound
	}
	return schedule, nil
}

func (s *scheduleRepoStub) ListSchedules(ctx context.Context, filter persistence.ScheduleFilter) ([]persistence.OrganizationSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []persistence.OrganizationSchedule
	for _, schedule := range s.schedules {
		if filter.ActiveOnly && !schedule.Active {
			continue
		}
		if filter.ReminderEnabledOnly && !schedule.ReminderEnabled {
			continue
		}
		out = append(out, schedule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// sessionStoreStub implements both SessionMaterializer and SessionRepository.
type sessionStoreStub struct {
	mu        sync.Mutex
	sessions  map[string]persistence.Session
	conflicts int
	ensureErr error
}

func newSessionStoreStub(sessions ...persistence.Session) *sessionStoreStub {
	stub := &sessionStoreStub{sessions: make(map[string]persistence.Session)}
	for _, s := range sessions {
		if s.Version == 0 {
			s.Version = 1
		}
		stub.sessions[s.ID] = s
	}
	return stub
}

func (s *sessionStoreStub) EnsureSession(ctx context.Context, session persistence.Session) (persistence.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensureErr != nil {
		return persistence.Session{}, false, s.ensureErr
	}
	for _, existing := range s.sessions {
		if existing.ScheduleID == session.ScheduleID && existing.SessionDate == session.SessionDate {
			return existing, false, nil
		}
	}
	session.Version = 1
	s.sessions[session.ID] = session
	return session, true, nil
}

func (s *sessionStoreStub) GetSessionByDate(ctx context.Context, scheduleID, sessionDate string) (persistence.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.ScheduleID == scheduleID && existing.SessionDate == sessionDate {
			return existing, nil
		}
	}
	return persistence.Session{}, persistence.ErrNotFound
}

func (s *sessionStoreStub) MarkReminderSent(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return false, persistence.ErrNotFound
	}
	if session.ReminderSentAt != nil {
		return false, nil
	}
	session.ReminderSentAt = &at
	s.sessions[id] = session
	return true, nil
}

func (s *sessionStoreStub) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	return session, nil
}

func (s *sessionStoreStub) UpdateSessionStatus(ctx context.Context, session persistence.Session, expectedVersion int64) (persistence.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[session.ID]
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	if s.conflicts > 0 {
		s.conflicts--
		return persistence.Session{}, persistence.ErrVersionConflict
	}
	if current.Version != expectedVersion {
		return persistence.Session{}, persistence.ErrVersionConflict
	}
	current.Status = session.Status
	current.EndsAt = session.EndsAt
	current.UpdatedAt = session.UpdatedAt
	current.Version++
	s.sessions[session.ID] = current
	return current, nil
}

type attendanceRepoStub struct {
	mu          sync.Mutex
	records     map[string]persistence.AttendanceRecord
	duplicateOn int
	conflicts   int
	updateErr   error
	createCalls int
	updateCalls int
}

func newAttendanceRepoStub() *attendanceRepoStub {
	return &attendanceRepoStub{records: make(map[string]persistence.AttendanceRecord)}
}

func attendanceKey(sessionID, userID string) string {
	return sessionID + "|" + userID
}

func (a *attendanceRepoStub) CreateAttendance(ctx context.Context, record persistence.AttendanceRecord) (persistence.AttendanceRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.createCalls++
	key := attendanceKey(record.SessionID, record.UserID)
	if a.duplicateOn > 0 {
		// Simulate a concurrent first join that committed in between.
		a.duplicateOn--
		winner := record
		winner.ID = "winner"
		winner.Version = 1
		a.records[key] = winner
		return persistence.AttendanceRecord{}, persistence.ErrDuplicate
	}
	if _, ok := a.records[key]; ok {
		return persistence.AttendanceRecord{}, persistence.ErrDuplicate
	}
	record.Version = 1
	a.records[key] = record
	return record, nil
}

func (a *attendanceRepoStub) GetAttendance(ctx context.Context, sessionID, userID string) (persistence.AttendanceRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	record, ok := a.records[attendanceKey(sessionID, userID)]
	if !ok {
		return persistence.AttendanceRecord{}, persistence.ErrNotFound
	}
	return record, nil
}

func (a *attendanceRepoStub) UpdateAttendance(ctx context.Context, record persistence.AttendanceRecord, expectedVersion int64) (persistence.AttendanceRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updateCalls++
	if a.updateErr != nil {
		return persistence.AttendanceRecord{}, a.updateErr
	}
	key := attendanceKey(record.SessionID, record.UserID)
	current, ok := a.records[key]
	if !ok {
		return persistence.AttendanceRecord{}, persistence.ErrNotFound
	}
	if a.conflicts > 0 {
		a.conflicts--
		return persistence.AttendanceRecord{}, persistence.ErrVersionConflict
	}
	if current.Version != expectedVersion {
		return persistence.AttendanceRecord{}, persistence.ErrVersionConflict
	}
	record.Version = expectedVersion + 1
	a.records[key] = record
	return record, nil
}

func (a *attendanceRepoStub) ListAttendanceForSession(ctx context.Context, sessionID string) ([]persistence.AttendanceRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []persistence.AttendanceRecord
	for _, record := range a.records {
		if record.SessionID == sessionID {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

type engagementRepoStub struct {
	mu        sync.Mutex
	states    map[string]persistence.EngagementState
	forests   map[string][]persistence.ForestTree
	qualified map[string][]persistence.QualifiedDay
	conflicts int
	saveErr   error
}

func newEngagementRepoStub() *engagementRepoStub {
	return &engagementRepoStub{
		states:    make(map[string]persistence.EngagementState),
		forests:   make(map[string][]persistence.ForestTree),
		qualified: make(map[string][]persistence.QualifiedDay),
	}
}

func (e *engagementRepoStub) GetEngagement(ctx context.Context, userID string) (persistence.EngagementState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.states[userID]
	if !ok {
		return persistence.EngagementState{}, persistence.ErrNotFound
	}
	return state, nil
}

func (e *engagementRepoStub) write(state persistence.EngagementState, expectedVersion int64) (persistence.EngagementState, error) {
	if e.saveErr != nil {
		return persistence.EngagementState{}, e.saveErr
	}
	if e.conflicts > 0 {
		e.conflicts--
		return persistence.EngagementState{}, persistence.ErrVersionConflict
	}
	current := e.states[state.UserID]
	if current.Version != expectedVersion {
		return persistence.EngagementState{}, persistence.ErrVersionConflict
	}
	state.Version = expectedVersion + 1
	e.states[state.UserID] = state
	return state, nil
}

func (e *engagementRepoStub) SaveEngagement(ctx context.Context, state persistence.EngagementState, expectedVersion int64, matured []persistence.ForestTree) (persistence.EngagementState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	saved, err := e.write(state, expectedVersion)
	if err != nil {
		return persistence.EngagementState{}, err
	}
	e.forests[state.UserID] = append(e.forests[state.UserID], matured...)
	return saved, nil
}

func (e *engagementRepoStub) ReplaceEngagement(ctx context.Context, state persistence.EngagementState, expectedVersion int64, forest []persistence.ForestTree) (persistence.EngagementState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	saved, err := e.write(state, expectedVersion)
	if err != nil {
		return persistence.EngagementState{}, err
	}
	e.forests[state.UserID] = append([]persistence.ForestTree(nil), forest...)
	return saved, nil
}

func (e *engagementRepoStub) ListForest(ctx context.Context, userID string) ([]persistence.ForestTree, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]persistence.ForestTree{}, e.forests[userID]...), nil
}

func (e *engagementRepoStub) ListQualifiedDays(ctx context.Context, userID string) ([]persistence.QualifiedDay, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]persistence.QualifiedDay(nil), e.qualified[userID]...), nil
}

type notifierStub struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (n *notifierStub) Notify(ctx context.Context, event Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *notifierStub) types() []EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]EventType, 0, len(n.events))
	for _, event := range n.events {
		out = append(out, event.Type)
	}
	return out
}

type observerStub struct {
	nopObserver
	mu          sync.Mutex
	transitions []lifecycle.Action
	conflicts   map[string]int
	qualified   int
	matured     int
	failures    int
}

func (o *observerStub) SessionTransitioned(action lifecycle.Action, implicit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, action)
}

func (o *observerStub) ConflictRetried(operation string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.conflicts == nil {
		o.conflicts = make(map[string]int)
	}
	o.conflicts[operation]++
}

func (o *observerStub) AttendanceQualified() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.qualified++
}

func (o *observerStub) TreeMatured() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.matured++
}

func (o *observerStub) ProgressionFailed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures++
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(now time.Time) *fixedClock {
	return &fixedClock{now: now}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sequentialIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + "-" + strconv.Itoa(n)
	}
}
