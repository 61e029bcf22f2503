package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-engine/internal/models"
	appErrors "github.com/noah-isme/timetable-engine/pkg/errors"
)

type sqlmockTxProvider struct {
	db *sqlx.DB
}

func (p sqlmockTxProvider) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return p.db.BeginTxx(ctx, opts)
}

func newMockTx(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlmockTxProvider{db: sqlx.NewDb(db, "sqlmock")}, mock
}

// memoryTimetableStore backs both timetable and slot repository contracts with maps.
type memoryTimetableStore struct {
	mu         sync.Mutex
	nextID     int64
	timetables map[int64]*models.Timetable
	slots      map[int64][]models.TimetableSlot
	clock      time.Time

	createErr error
	insertErr error
	slotErr   error
	// racer is committed when slotErr fires, standing in for the writer that won the cell.
	racer *models.TimetableSlot
}

func newMemoryTimetableStore() *memoryTimetableStore {
	return &memoryTimetableStore{
		timetables: make(map[int64]*models.Timetable),
		slots:      make(map[int64][]models.TimetableSlot),
		clock:      time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (m *memoryTimetableStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memoryTimetableStore) CreateVersioned(ctx context.Context, exec sqlx.ExtContext, timetable *models.Timetable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	version := 0
	for _, existing := range m.timetables {
		if derefString(existing.SemesterID) == derefString(timetable.SemesterID) &&
			derefString(existing.BatchID) == derefString(timetable.BatchID) && existing.Version > version {
			version = existing.Version
		}
	}
	m.nextID++
	timetable.ID = m.nextID
	timetable.Version = version + 1
	if timetable.Status == "" {
		timetable.Status = models.TimetableStatusDraft
	}
	timetable.CreatedAt = m.tick()
	stored := *timetable
	stored.Slots = nil
	m.timetables[timetable.ID] = &stored
	return nil
}

func (m *memoryTimetableStore) List(ctx context.Context, filter models.TimetableFilter) ([]models.Timetable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Timetable
	for _, item := range m.timetables {
		if filter.SemesterID != "" && derefString(item.SemesterID) != filter.SemesterID {
			continue
		}
		if filter.BatchID != "" && derefString(item.BatchID) != filter.BatchID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, item.Status) {
			continue
		}
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memoryTimetableStore) FindByID(ctx context.Context, exec sqlx.ExtContext, id int64) (*models.Timetable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.timetables[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *item
	return &clone, nil
}

func (m *memoryTimetableStore) LockByID(ctx context.Context, tx sqlx.ExtContext, id int64) (*models.Timetable, error) {
	return m.FindByID(ctx, tx, id)
}

func (m *memoryTimetableStore) Touch(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	return nil
}

func (m *memoryTimetableStore) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id int64, status models.TimetableStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.timetables[id]
	if !ok {
		return sql.ErrNoRows
	}
	item.Status = status
	return nil
}

func (m *memoryTimetableStore) Delete(ctx context.Context, exec sqlx.ExtContext, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.timetables[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.timetables, id)
	delete(m.slots, id)
	return nil
}

func (m *memoryTimetableStore) InsertBatch(ctx context.Context, exec sqlx.ExtContext, slots []models.TimetableSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	for i := range slots {
		if slots[i].ID == "" {
			slots[i].ID = uuid.NewString()
		}
		slots[i].CreatedAt = m.tick()
		m.slots[slots[i].TimetableID] = append(m.slots[slots[i].TimetableID], slots[i])
	}
	return nil
}

func (m *memoryTimetableStore) Create(ctx context.Context, exec sqlx.ExtContext, slot *models.TimetableSlot) error {
	if m.slotErr != nil {
		if m.racer != nil {
			racer := *m.racer
			m.racer = nil
			if err := m.InsertBatch(ctx, exec, []models.TimetableSlot{racer}); err != nil {
				return err
			}
		}
		return m.slotErr
	}
	batch := []models.TimetableSlot{*slot}
	if err := m.InsertBatch(ctx, exec, batch); err != nil {
		return err
	}
	*slot = batch[0]
	return nil
}

func (m *memoryTimetableStore) ListByTimetable(ctx context.Context, exec sqlx.ExtContext, timetableID int64) ([]models.TimetableSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]models.TimetableSlot(nil), m.slots[timetableID]...)
	sortSlots(out)
	return out, nil
}

func (m *memoryTimetableStore) ListByTimetables(ctx context.Context, timetableIDs []int64) ([]models.TimetableSlot, error) {
	var out []models.TimetableSlot
	for _, id := range timetableIDs {
		slots, _ := m.ListByTimetable(ctx, nil, id)
		out = append(out, slots...)
	}
	return out, nil
}

func (m *memoryTimetableStore) FindByIDSlot(timetableID int64, slotID string) (*models.TimetableSlot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, slot := range m.slots[timetableID] {
		if slot.ID == slotID {
			clone := slot
			return &clone, true
		}
	}
	return nil, false
}

func (m *memoryTimetableStore) FindByCell(ctx context.Context, exec sqlx.ExtContext, timetableID int64, dayOfWeek, slotIndex int) (*models.TimetableSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, slot := range m.slots[timetableID] {
		if slot.DayOfWeek == dayOfWeek && slot.SlotIndex == slotIndex {
			clone := slot
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryTimetableStore) Update(ctx context.Context, exec sqlx.ExtContext, slot *models.TimetableSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slotErr != nil {
		return m.slotErr
	}
	for i, existing := range m.slots[slot.TimetableID] {
		if existing.ID == slot.ID {
			m.slots[slot.TimetableID][i] = *slot
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memoryTimetableStore) DeleteSlot(timetableID int64, slotID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	slots := m.slots[timetableID]
	for i, existing := range slots {
		if existing.ID == slotID {
			m.slots[timetableID] = append(slots[:i], slots[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memoryTimetableStore) DeleteByTimetable(ctx context.Context, exec sqlx.ExtContext, timetableID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, timetableID)
	return nil
}

func (m *memoryTimetableStore) ListByTeacher(ctx context.Context, teacherID string, excluded models.TimetableStatus) ([]models.TimetableSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TimetableSlot
	for id, slots := range m.slots {
		if m.timetables[id] == nil || m.timetables[id].Status == excluded {
			continue
		}
		for _, slot := range slots {
			if slot.TeacherID == teacherID {
				out = append(out, slot)
			}
		}
	}
	sortSlots(out)
	return out, nil
}

// slotRepoAdapter exposes the slot editor contract, whose FindByID and Delete differ from the timetable ones.
type slotRepoAdapter struct {
	*memoryTimetableStore
}

func (a slotRepoAdapter) FindByID(ctx context.Context, exec sqlx.ExtContext, timetableID int64, slotID string) (*models.TimetableSlot, error) {
	slot, ok := a.FindByIDSlot(timetableID, slotID)
	if !ok {
		return nil, sql.ErrNoRows
	}
	return slot, nil
}

func (a slotRepoAdapter) Delete(ctx context.Context, exec sqlx.ExtContext, timetableID int64, slotID string) error {
	return a.DeleteSlot(timetableID, slotID)
}

func sortSlots(slots []models.TimetableSlot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].TimetableID != slots[j].TimetableID {
			return slots[i].TimetableID < slots[j].TimetableID
		}
		if slots[i].DayOfWeek != slots[j].DayOfWeek {
			return slots[i].DayOfWeek < slots[j].DayOfWeek
		}
		return slots[i].SlotIndex < slots[j].SlotIndex
	})
}

func containsStatus(statuses []models.TimetableStatus, status models.TimetableStatus) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

// memoryCacheRepo is an in-process CacheRepository.
type memoryCacheRepo struct {
	mu      sync.Mutex
	entries map[string]interface{}
	deleted []string
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{entries: make(map[string]interface{})}
}

func (r *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	value, ok := r.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, dest)
}

func (r *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = value
	return nil
}

func (r *memoryCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range r.entries {
		if strings.HasPrefix(key, prefix) {
			delete(r.entries, key)
		}
	}
	return nil
}

func (r *memoryCacheRepo) Incr(ctx context.Context, key string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, _ := r.entries[key].(int64)
	current++
	r.entries[key] = current
	return current, nil
}
