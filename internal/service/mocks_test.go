package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/eligibility"
	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/models"
	"github.com/sechachelebohang0-a11y/career-guidance-app/internal/repository"
	appErrors "github.com/sechachelebohang0-a11y/career-guidance-app/pkg/errors"
)

// memApplicationRepo is an in-memory application store with the same
// conditional-update semantics as the SQL repository, so workflow tests
// exercise real race outcomes.
type memApplicationRepo struct {
	mu       sync.Mutex
	apps     map[string]models.Application
	order    []string
	staleOps int
	nextID   int
}

func newMemApplicationRepo(apps ...models.Application) *memApplicationRepo {
	r := &memApplicationRepo{apps: make(map[string]models.Application)}
	for _, app := range apps {
		r.apps[app.ID] = app
		r.order = append(r.order, app.ID)
	}
	return r
}

func (r *memApplicationRepo) Create(ctx context.Context, app *models.Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if app.ID == "" {
		r.nextID++
		app.ID = "app-" + strconv.Itoa(r.nextID)
	}
	if app.Status == "" {
		app.Status = models.ApplicationStatusPending
	}
	r.apps[app.ID] = *app
	r.order = append(r.order, app.ID)
	return nil
}

func (r *memApplicationRepo) FindByID(ctx context.Context, id string) (*models.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if app, ok := r.apps[id]; ok {
		return &app, nil
	}
	return nil, sql.ErrNoRows
}

func (r *memApplicationRepo) FindDetailByID(ctx context.Context, id string) (*models.ApplicationDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if app, ok := r.apps[id]; ok {
		return &models.ApplicationDetail{Application: app}, nil
	}
	return nil, sql.ErrNoRows
}

func (r *memApplicationRepo) ListByStudent(ctx context.Context, studentID string) ([]models.ApplicationDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []models.ApplicationDetail
	for _, id := range r.order {
		if app := r.apps[id]; app.StudentID == studentID {
			list = append(list, models.ApplicationDetail{Application: app})
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].AppliedAt.After(list[j].AppliedAt) })
	return list, nil
}

func (r *memApplicationRepo) List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []models.ApplicationDetail
	for _, id := range r.order {
		app := r.apps[id]
		if filter.InstitutionID != "" && app.InstitutionID != filter.InstitutionID {
			continue
		}
		if filter.CourseID != "" && app.CourseID != filter.CourseID {
			continue
		}
		if filter.Status != "" && app.Status != filter.Status {
			continue
		}
		list = append(list, models.ApplicationDetail{Application: app})
	}
	return list, len(list), nil
}

func (r *memApplicationRepo) CountLive(ctx context.Context, studentID, institutionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, app := range r.apps {
		if app.StudentID == studentID && app.InstitutionID == institutionID && app.IsLive() {
			count++
		}
	}
	return count, nil
}

func (r *memApplicationRepo) ExistsLive(ctx context.Context, studentID, courseID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, app := range r.apps {
		if app.StudentID == studentID && app.CourseID == courseID && app.IsLive() {
			return true, nil
		}
	}
	return false, nil
}

func (r *memApplicationRepo) ListLiveByStudent(ctx context.Context, studentID string) ([]models.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []models.Application
	for _, id := range r.order {
		if app := r.apps[id]; app.StudentID == studentID && app.IsLive() {
			list = append(list, app)
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].AppliedAt.Before(list[j].AppliedAt) })
	return list, nil
}

func (r *memApplicationRepo) CountByCourseAndStatus(ctx context.Context, courseID string, status models.ApplicationStatus) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, app := range r.apps {
		if app.CourseID == courseID && app.Status == status {
			count++
		}
	}
	return count, nil
}

func (r *memApplicationRepo) Transition(ctx context.Context, id string, from, to models.ApplicationStatus, at time.Time, reason *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[id]
	if !ok || app.Status != from {
		return repository.ErrStaleStatus
	}
	app.Status = to
	switch to {
	case models.ApplicationStatusAdmitted:
		app.AdmittedAt = &at
	case models.ApplicationStatusAccepted:
		app.AcceptedAt = &at
	case models.ApplicationStatusDeclined:
		app.DeclinedAt = &at
		app.DeclineReason = reason
	case models.ApplicationStatusRejected:
		app.DeclinedAt = &at
	}
	r.apps[id] = app
	return nil
}

// failNextApply makes the next n ApplySelection calls report a lost race.
func (r *memApplicationRepo) failNextApply(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staleOps = n
}

func (r *memApplicationRepo) ApplySelection(ctx context.Context, acceptID string, declineIDs []string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.staleOps > 0 {
		r.staleOps--
		return repository.ErrStaleStatus
	}
	chosen, ok := r.apps[acceptID]
	if !ok || chosen.Status != models.ApplicationStatusAdmitted {
		return repository.ErrStaleStatus
	}
	chosen.Status = models.ApplicationStatusAccepted
	chosen.AcceptedAt = &at
	r.apps[acceptID] = chosen

	reason := models.DeclineReasonSuperseded
	for _, id := range declineIDs {
		app, ok := r.apps[id]
		if !ok || !app.IsLive() {
			continue
		}
		app.Status = models.ApplicationStatusDeclined
		app.DeclinedAt = &at
		app.DeclineReason = &reason
		r.apps[id] = app
	}
	return nil
}

func (r *memApplicationRepo) PromoteWaitlisted(ctx context.Context, courseID string, limit int, at time.Time) ([]models.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		return nil, nil
	}
	var waitlisted []models.Application
	for _, id := range r.order {
		if app := r.apps[id]; app.CourseID == courseID && app.Status == models.ApplicationStatusWaitlisted {
			waitlisted = append(waitlisted, app)
		}
	}
	sort.SliceStable(waitlisted, func(i, j int) bool { return waitlisted[i].AppliedAt.Before(waitlisted[j].AppliedAt) })
	if len(waitlisted) > limit {
		waitlisted = waitlisted[:limit]
	}
	source := models.AdmissionSourceWaitlist
	for i := range waitlisted {
		app := waitlisted[i]
		app.Status = models.ApplicationStatusAdmitted
		promotedAt := at
		app.AdmittedAt = &promotedAt
		app.AdmissionSource = &source
		r.apps[app.ID] = app
		waitlisted[i] = app
	}
	return waitlisted, nil
}

func (r *memApplicationRepo) get(id string) models.Application {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apps[id]
}

type memCourseRepo struct {
	courses map[string]models.Course
}

func newMemCourseRepo(courses ...models.Course) *memCourseRepo {
	r := &memCourseRepo{courses: make(map[string]models.Course)}
	for _, c := range courses {
		r.courses[c.ID] = c
	}
	return r
}

func (r *memCourseRepo) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := r.courses[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (r *memCourseRepo) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	var list []models.CourseDetail
	for _, c := range r.courses {
		if filter.Active != nil && c.Active != *filter.Active {
			continue
		}
		list = append(list, models.CourseDetail{Course: c})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, len(list), nil
}

func (r *memCourseRepo) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = "course-new"
	}
	r.courses[course.ID] = *course
	return nil
}

func (r *memCourseRepo) Update(ctx context.Context, course *models.Course) error {
	r.courses[course.ID] = *course
	return nil
}

type memInstitutions struct {
	byID map[string]models.Institution
}

func newMemInstitutions(list ...models.Institution) *memInstitutions {
	r := &memInstitutions{byID: make(map[string]models.Institution)}
	for _, inst := range list {
		r.byID[inst.ID] = inst
	}
	return r
}

func (r *memInstitutions) FindByID(ctx context.Context, id string) (*models.Institution, error) {
	if inst, ok := r.byID[id]; ok {
		return &inst, nil
	}
	return nil, sql.ErrNoRows
}

func (r *memInstitutions) FindByUserID(ctx context.Context, userID string) (*models.Institution, error) {
	for _, inst := range r.byID {
		if inst.UserID == userID {
			return &inst, nil
		}
	}
	return nil, sql.ErrNoRows
}

type memProfiles struct {
	byUser map[string]models.StudentProfile
}

func newMemProfiles(profiles ...models.StudentProfile) *memProfiles {
	r := &memProfiles{byUser: make(map[string]models.StudentProfile)}
	for _, p := range profiles {
		r.byUser[p.UserID] = p
	}
	return r
}

func (r *memProfiles) FindByUserID(ctx context.Context, userID string) (*models.StudentProfile, error) {
	if p, ok := r.byUser[userID]; ok {
		return &p, nil
	}
	return nil, sql.ErrNoRows
}

func (r *memProfiles) Upsert(ctx context.Context, profile *models.StudentProfile) error {
	r.byUser[profile.UserID] = *profile
	return nil
}

func profileWithGrades(userID string, grades eligibility.GradeSet) models.StudentProfile {
	raw, _ := json.Marshal(grades)
	return models.StudentProfile{
		UserID:            userID,
		Grades:            raw,
		EligibilityStatus: models.EligibilityStatusEligible,
	}
}

type notifyEvent struct {
	UserID  string
	Message string
	Type    models.NotificationType
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifyEvent
}

func (n *recordingNotifier) Notify(ctx context.Context, userID, message string, typ models.NotificationType) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notifyEvent{UserID: userID, Message: message, Type: typ})
}

func (n *recordingNotifier) forUser(userID string) []notifyEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifyEvent
	for _, e := range n.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

type recordingPromoter struct {
	mu      sync.Mutex
	courses []string
	err     error
}

func (p *recordingPromoter) Promote(ctx context.Context, courseID string) ([]models.Application, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.courses = append(p.courses, courseID)
	return nil, p.err
}

// memCache is a map-backed stand-in for the Redis catalog cache.
type memCache struct {
	mu          sync.Mutex
	entries     map[string][]byte
	invalidated int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

func (c *memCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

func (c *memCache) Invalidate(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]byte)
	c.invalidated++
	return nil
}

// fakeLock yields contention for the first busy acquisitions, then grants.
type fakeLock struct {
	mu       sync.Mutex
	busy     int
	acquired int
	released int
}

func (l *fakeLock) Acquire(ctx context.Context, studentID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy > 0 {
		l.busy--
		return nil, appErrors.ErrConcurrentModification
	}
	l.acquired++
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
	}, nil
}
