package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"storyforge/server/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store wraps the relational database holding stories, sessions,
// players, and the append-only event log.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database. Driver "mysql" is the
// production target; "sqlite" serves development and tests.
func Open(driver, dsn string) (*Store, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = "sqlite"
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case "mysql":
		db, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	case "sqlite":
		if dsn == "" {
			dsn = "storyforge.db"
		}
		if mkErr := ensureSQLiteDir(dsn); mkErr != nil {
			return nil, mkErr
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&models.Story{},
		&models.Character{},
		&models.Session{},
		&models.SessionPlayer{},
		&models.StoryEvent{},
	)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ConfigurePool applies connection pool limits (mysql deployments).
func (s *Store) ConfigurePool(maxOpen, maxIdle int, maxLifetime time.Duration) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(maxLifetime)
	return nil
}

// --- stories ---

// GetStory fetches a story by id.
func (s *Store) GetStory(ctx context.Context, id string) (*models.Story, error) {
	var story models.Story
	if err := s.db.WithContext(ctx).Take(&story, "id = ?", id).Error; err != nil {
		return nil, translate(err, "get story")
	}
	return &story, nil
}

// CreateStory inserts a story. Authoring flows live outside this
// service; this exists for seeding and tests.
func (s *Store) CreateStory(ctx context.Context, story *models.Story) error {
	if err := s.db.WithContext(ctx).Create(story).Error; err != nil {
		return fmt.Errorf("create story: %w", err)
	}
	return nil
}

// ListCharacters returns a story's characters in creation order.
func (s *Store) ListCharacters(ctx context.Context, storyID string) ([]models.Character, error) {
	var chars []models.Character
	err := s.db.WithContext(ctx).
		Where("story_id = ?", storyID).
		Order("created_at ASC").
		Find(&chars).Error
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	return chars, nil
}

// CreateCharacter inserts a character (seeding and tests).
func (s *Store) CreateCharacter(ctx context.Context, c *models.Character) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("create character: %w", err)
	}
	return nil
}

// --- sessions ---

// CreateSession inserts a session together with its initial membership
// rows in one transaction.
func (s *Store) CreateSession(ctx context.Context, sess *models.Session, players ...*models.SessionPlayer) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sess).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		for _, p := range players {
			if err := tx.Create(p).Error; err != nil {
				return fmt.Errorf("create session player: %w", err)
			}
		}
		return nil
	})
}

// CreateSessionWithOpening inserts a freshly started session, its host
// membership, and the opening narration event atomically.
func (s *Store) CreateSessionWithOpening(ctx context.Context, sess *models.Session, host *models.SessionPlayer, opening *models.StoryEvent) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sess).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		if err := tx.Create(host).Error; err != nil {
			return fmt.Errorf("create session host: %w", err)
		}
		if err := tx.Create(opening).Error; err != nil {
			return fmt.Errorf("create opening event: %w", err)
		}
		return nil
	})
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	if err := s.db.WithContext(ctx).Take(&sess, "id = ?", id).Error; err != nil {
		return nil, translate(err, "get session")
	}
	return &sess, nil
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	StoryID  string
	Status   string
	IsPublic *bool
	Limit    int
	Offset   int
}

// ListSessions returns sessions newest-first.
func (s *Store) ListSessions(ctx context.Context, f SessionFilter) ([]models.Session, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Session{})
	if f.StoryID != "" {
		q = q.Where("story_id = ?", f.StoryID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.IsPublic != nil {
		q = q.Where("is_public = ?", *f.IsPublic)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var sessions []models.Session
	if err := q.Order("created_at DESC").Find(&sessions).Error; err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, total, nil
}

// SaveSession persists session mutations outside of a turn commit
// (lifecycle transitions).
func (s *Store) SaveSession(ctx context.Context, sess *models.Session) error {
	if err := s.db.WithContext(ctx).Save(sess).Error; err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// DeleteSession removes a session with its membership and events.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&models.StoryEvent{}).Error; err != nil {
			return fmt.Errorf("delete session events: %w", err)
		}
		if err := tx.Where("session_id = ?", id).Delete(&models.SessionPlayer{}).Error; err != nil {
			return fmt.Errorf("delete session players: %w", err)
		}
		res := tx.Delete(&models.Session{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("delete session: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// --- players ---

// GetPlayer fetches a membership row, left members included.
func (s *Store) GetPlayer(ctx context.Context, sessionID, userID string) (*models.SessionPlayer, error) {
	var p models.SessionPlayer
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Take(&p).Error
	if err != nil {
		return nil, translate(err, "get session player")
	}
	return &p, nil
}

// CountActivePlayers counts members who have not left.
func (s *Store) CountActivePlayers(ctx context.Context, sessionID string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.SessionPlayer{}).
		Where("session_id = ? AND left_at IS NULL", sessionID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count players: %w", err)
	}
	return int(n), nil
}

// AddPlayer inserts a membership row.
func (s *Store) AddPlayer(ctx context.Context, p *models.SessionPlayer) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("add session player: %w", err)
	}
	return nil
}

// MarkPlayerLeft stamps a member's departure.
func (s *Store) MarkPlayerLeft(ctx context.Context, sessionID, userID string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.SessionPlayer{}).
		Where("session_id = ? AND user_id = ? AND left_at IS NULL", sessionID, userID).
		Update("left_at", at.UTC())
	if res.Error != nil {
		return fmt.Errorf("mark player left: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- events ---

// ListEvents pages a session's event log in creation order.
func (s *Store) ListEvents(ctx context.Context, sessionID string, limit, offset int) ([]models.StoryEvent, error) {
	q := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var events []models.StoryEvent
	if err := q.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// RecentEvents returns the last n events in chronological order.
func (s *Store) RecentEvents(ctx context.Context, sessionID string, n int) ([]models.StoryEvent, error) {
	var events []models.StoryEvent
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(n).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// CountEvents counts a session's persisted events.
func (s *Store) CountEvents(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.StoryEvent{}).
		Where("session_id = ?", sessionID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// CommitTurn appends a turn's events and persists the session's counter
// and state mutations in a single transaction. Either everything lands
// or nothing does.
func (s *Store) CommitTurn(ctx context.Context, sess *models.Session, events ...*models.StoryEvent) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range events {
			if err := tx.Create(e).Error; err != nil {
				return fmt.Errorf("append event: %w", err)
			}
		}
		if err := tx.Save(sess).Error; err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		return nil
	})
}

func translate(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func ensureSQLiteDir(dsn string) error {
	if strings.HasPrefix(dsn, ":memory:") || strings.HasPrefix(strings.ToLower(dsn), "file::memory:") {
		return nil
	}
	path := dsn
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	dir := filepath.Dir(strings.TrimPrefix(path, "file:"))
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sqlite db dir: %w", err)
	}
	return nil
}
