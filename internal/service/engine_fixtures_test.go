package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/attendance-engine/internal/models"
	"github.com/noah-isme/attendance-engine/internal/repository"
	appErrors "github.com/noah-isme/attendance-engine/pkg/errors"
)

var fixtureStart = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func boolPtr(v bool) *bool { return &v }

func defaultSnapshot() models.SessionConfigSnapshot {
	return models.SessionConfigSnapshot{
		AttendanceWindowMinutes:          5,
		FaceIDVerificationTimeoutSeconds: 30,
		TotalAttendanceRounds:            1,
		AbsentReportGracePeriodHours:     72,
		ManualAdjustmentGracePeriodHours: 168,
		RSSIThreshold:                    -70,
		AnchorTrust:                      models.AnchorTrustAsymmetric,
		MaxHops:                          1,
		BiometricPolicy:                  models.BiometricPolicyNone,
		FaceIDThreshold:                  0.7,
		SessionPassFraction:              0.75,
	}
}

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	created  []models.Round
}

func newMemSessionStore(sessions ...models.Session) *memSessionStore {
	s := &memSessionStore{sessions: make(map[string]*models.Session)}
	for i := range sessions {
		session := sessions[i]
		s.sessions[session.ID] = &session
	}
	return s
}

func (s *memSessionStore) CreateWithRounds(ctx context.Context, session *models.Session, rounds []models.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copySession := *session
	s.sessions[session.ID] = &copySession
	s.created = append(s.created, rounds...)
	return nil
}

func (s *memSessionStore) FindByID(ctx context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := *session
	return &out, nil
}

func (s *memSessionStore) ListBySchedule(ctx context.Context, scheduleID string) ([]models.Session, error) {
	return s.filter(func(x *models.Session) bool { return x.ScheduleID == scheduleID }), nil
}

func (s *memSessionStore) ListByClassSection(ctx context.Context, classSectionID, courseID string) ([]models.Session, error) {
	return s.filter(func(x *models.Session) bool {
		return x.ClassSectionID == classSectionID && x.CourseID == courseID
	}), nil
}

func (s *memSessionStore) filter(keep func(*models.Session) bool) []models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Session
	for _, session := range s.sessions {
		if keep(session) {
			out = append(out, *session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (s *memSessionStore) UpdateStatus(ctx context.Context, id string, status models.SessionStatus, from ...models.SessionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if session.Status == f {
			session.Status = status
			return true, nil
		}
	}
	return len(from) == 0, nil
}

type memRoundStore struct {
	mu     sync.Mutex
	rounds map[string]*models.Round
}

func newMemRoundStore(rounds ...models.Round) *memRoundStore {
	s := &memRoundStore{rounds: make(map[string]*models.Round)}
	for i := range rounds {
		round := rounds[i]
		s.rounds[round.ID] = &round
	}
	return s
}

func (s *memRoundStore) FindByID(ctx context.Context, id string) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	round, ok := s.rounds[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := *round
	return &out, nil
}

func (s *memRoundStore) ListBySession(ctx context.Context, sessionID string) ([]models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Round
	for _, round := range s.rounds {
		if round.SessionID == sessionID {
			out = append(out, *round)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoundNumber < out[j].RoundNumber })
	return out, nil
}

func (s *memRoundStore) ListDue(ctx context.Context, now time.Time) ([]models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Round
	for _, round := range s.rounds {
		if (round.Status == models.RoundStatusPending && !now.Before(round.StartTime)) ||
			(round.Status == models.RoundStatusActive && !now.Before(round.EndTime)) {
			out = append(out, *round)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *memRoundStore) CompareAndSetStatus(ctx context.Context, id string, from, to models.RoundStatus, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.casLocked(id, from, to, now), nil
}

func (s *memRoundStore) casLocked(id string, from, to models.RoundStatus, now time.Time) bool {
	round, ok := s.rounds[id]
	if !ok || round.Status != from {
		return false
	}
	round.Status = to
	round.UpdatedAt = now
	if to == models.RoundStatusFinalized {
		round.FinalizedAt = &now
	}
	return true
}

func (s *memRoundStore) CancelOpenBySession(ctx context.Context, sessionID string, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, round := range s.rounds {
		if round.SessionID == sessionID && (round.Status == models.RoundStatusPending || round.Status == models.RoundStatusActive) {
			round.Status = models.RoundStatusCancelled
			round.UpdatedAt = now
			ids = append(ids, round.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memRoundStore) status(id string) models.RoundStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds[id].Status
}

type memEnrollmentStore struct {
	enrollments []models.Enrollment
}

func (s *memEnrollmentStore) ListByClassSection(ctx context.Context, classSectionID, courseID string) ([]models.Enrollment, error) {
	var out []models.Enrollment
	for _, e := range s.enrollments {
		if e.ClassSectionID == classSectionID && e.CourseID == courseID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memEnrollmentStore) FindByStudentCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	for _, e := range s.enrollments {
		if e.StudentID == studentID && e.CourseID == courseID {
			out := e
			return &out, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *memEnrollmentStore) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	for _, e := range s.enrollments {
		if e.ID == id {
			out := e
			return &out, nil
		}
	}
	return nil, sql.ErrNoRows
}

type memDeviceStore struct {
	devices []models.Device
}

func (s *memDeviceStore) ListActiveByUsers(ctx context.Context, userIDs []string) ([]models.Device, error) {
	want := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		want[id] = true
	}
	var out []models.Device
	for _, d := range s.devices {
		if want[d.UserID] && d.Status == models.DeviceStatusActive {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memDeviceStore) FindByID(ctx context.Context, id string) (*models.Device, error) {
	for _, d := range s.devices {
		if d.ID == id {
			out := d
			return &out, nil
		}
	}
	return nil, sql.ErrNoRows
}

type memScanStore struct {
	mu    sync.Mutex
	scans []models.BluetoothScan
	keys  map[string]bool
	err   error
}

func newMemScanStore(scans ...models.BluetoothScan) *memScanStore {
	s := &memScanStore{keys: make(map[string]bool)}
	for i := range scans {
		_, _ = s.Insert(context.Background(), &scans[i])
	}
	return s
}

func (s *memScanStore) Insert(ctx context.Context, scan *models.BluetoothScan) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	key := fmt.Sprintf("%s|%s|%s|%d", scan.DeviceID, scan.SessionID, scan.RoundID, scan.Timestamp.UnixNano())
	if s.keys[key] {
		return false, nil
	}
	s.keys[key] = true
	if scan.ID == "" {
		scan.ID = fmt.Sprintf("scan-%d", len(s.scans)+1)
	}
	s.scans = append(s.scans, *scan)
	return true, nil
}

func (s *memScanStore) ListBySessionWindow(ctx context.Context, sessionID string, from, to time.Time) ([]models.BluetoothScan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.BluetoothScan
	for _, scan := range s.scans {
		if scan.SessionID == sessionID && !scan.Timestamp.Before(from) && !scan.Timestamp.After(to) {
			out = append(out, scan)
		}
	}
	return out, nil
}

type memRecordStore struct {
	mu       sync.Mutex
	rounds   *memRoundStore
	sessions *memSessionStore
	records  []models.AttendanceRecord
	saves    int
	saveErr  error
}

func (s *memRecordStore) SaveRoundResults(ctx context.Context, roundID string, records []models.AttendanceRecord, finalize bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.rounds.status(roundID) != models.RoundStatusCompleted {
		return repository.ErrRoundNotCompleted
	}
	s.saves++
	for _, rec := range records {
		replaced := false
		for i := range s.records {
			if s.records[i].EnrollmentID == rec.EnrollmentID && s.records[i].RoundID == roundID && s.records[i].Version == 1 {
				rec.Version = 1
				s.records[i] = rec
				replaced = true
			}
		}
		if !replaced {
			rec.Version = 1
			s.records = append(s.records, rec)
		}
	}
	if finalize {
		s.rounds.mu.Lock()
		ok := s.rounds.casLocked(roundID, models.RoundStatusCompleted, models.RoundStatusFinalized, now)
		s.rounds.mu.Unlock()
		if !ok {
			return repository.ErrRoundNotCompleted
		}
	}
	return nil
}

func (s *memRecordStore) latest(keep func(models.AttendanceRecord) bool) []models.AttendanceRecord {
	newest := make(map[string]models.AttendanceRecord)
	for _, rec := range s.records {
		if !keep(rec) {
			continue
		}
		key := rec.EnrollmentID + "|" + rec.RoundID
		if cur, ok := newest[key]; !ok || rec.Version > cur.Version {
			newest[key] = rec
		}
	}
	out := make([]models.AttendanceRecord, 0, len(newest))
	for _, rec := range newest {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EnrollmentID == out[j].EnrollmentID {
			return out[i].RoundID < out[j].RoundID
		}
		return out[i].EnrollmentID < out[j].EnrollmentID
	})
	return out
}

func (s *memRecordStore) ListLatestByRound(ctx context.Context, roundID string) ([]models.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest(func(r models.AttendanceRecord) bool { return r.RoundID == roundID }), nil
}

func (s *memRecordStore) ListLatestBySession(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest(func(r models.AttendanceRecord) bool { return r.SessionID == sessionID }), nil
}

func (s *memRecordStore) FindLatest(ctx context.Context, enrollmentID, roundID string) (*models.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.latest(func(r models.AttendanceRecord) bool {
		return r.EnrollmentID == enrollmentID && r.RoundID == roundID
	})
	if len(list) == 0 {
		return nil, sql.ErrNoRows
	}
	return &list[0], nil
}

func (s *memRecordStore) AppendVersion(ctx context.Context, record *models.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	version := 0
	for _, rec := range s.records {
		if rec.EnrollmentID == record.EnrollmentID && rec.RoundID == record.RoundID && rec.Version > version {
			version = rec.Version
		}
	}
	record.Version = version + 1
	s.records = append(s.records, *record)
	return nil
}

func (s *memRecordStore) ListOutcomes(ctx context.Context, enrollment models.Enrollment) ([]models.RoundOutcome, error) {
	sessions, _ := s.sessions.ListByClassSection(ctx, enrollment.ClassSectionID, enrollment.CourseID)
	var out []models.RoundOutcome
	for _, session := range sessions {
		rounds, _ := s.rounds.ListBySession(ctx, session.ID)
		for _, round := range rounds {
			outcome := models.RoundOutcome{SessionID: session.ID, RoundID: round.ID, RoundStatus: round.Status}
			if rec, err := s.FindLatest(ctx, enrollment.ID, round.ID); err == nil {
				outcome.Present = boolPtr(rec.Present)
			}
			out = append(out, outcome)
		}
	}
	return out, nil
}

type memClaimStore struct {
	mu       sync.Mutex
	owners   map[string]string
	acquires int
}

func newMemClaimStore() *memClaimStore {
	return &memClaimStore{owners: make(map[string]string)}
}

func (s *memClaimStore) Acquire(ctx context.Context, roundID, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquires++
	if _, held := s.owners[roundID]; held {
		return false, nil
	}
	s.owners[roundID] = owner
	return true, nil
}

func (s *memClaimStore) Release(ctx context.Context, roundID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owners[roundID] == owner {
		delete(s.owners, roundID)
	}
	return nil
}

type memVerifyStore struct {
	mu       sync.Mutex
	requests map[string]*models.FaceVerifyRequest
	seq      int
}

func newMemVerifyStore() *memVerifyStore {
	return &memVerifyStore{requests: make(map[string]*models.FaceVerifyRequest)}
}

func (s *memVerifyStore) Create(ctx context.Context, req *models.FaceVerifyRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if req.ID == "" {
		req.ID = fmt.Sprintf("req-%d", s.seq)
	}
	req.Status = models.VerifyStatusPending
	out := *req
	s.requests[req.ID] = &out
	return nil
}

func (s *memVerifyStore) FindByID(ctx context.Context, id string) (*models.FaceVerifyRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := *req
	return &out, nil
}

func (s *memVerifyStore) Resolve(ctx context.Context, id string, status models.VerifyStatus, similarity *float64, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || req.Status != models.VerifyStatusPending {
		return false, nil
	}
	req.Status = status
	req.Similarity = similarity
	req.CompletedAt = &now
	return true, nil
}

func (s *memVerifyStore) CancelByGroup(ctx context.Context, groupID string, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, req := range s.requests {
		if req.GroupID == groupID && req.Status == models.VerifyStatusPending {
			req.Status = models.VerifyStatusCancelled
			req.CompletedAt = &now
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memVerifyStore) ExpireDue(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, req := range s.requests {
		if req.Status == models.VerifyStatusPending && !req.ExpiresAt.After(now) {
			req.Status = models.VerifyStatusExpired
			req.CompletedAt = &now
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memVerifyStore) pending() []models.FaceVerifyRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FaceVerifyRequest
	for _, req := range s.requests {
		if req.Status == models.VerifyStatusPending {
			out = append(out, *req)
		}
	}
	return out
}

type memCacheRepo struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemCache() *CacheService {
	return NewCacheService(&memCacheRepo{entries: make(map[string][]byte)}, nil, time.Minute, nil, true)
}

func (r *memCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(data, dest)
}

func (r *memCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = data
	return nil
}

func (r *memCacheRepo) Delete(ctx context.Context, keys ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range keys {
		delete(r.entries, key)
	}
	return nil
}

func (r *memCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(r.entries, key)
		}
	}
	return nil
}
