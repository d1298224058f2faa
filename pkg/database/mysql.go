package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aura-vibe/queue-sync/pkg/apperr"
	"github.com/aura-vibe/queue-sync/pkg/logger"
	"github.com/aura-vibe/queue-sync/pkg/models"
)

// GormDB implements Store on top of gorm. MySQL in production, SQLite for
// local runs and tests.
type GormDB struct {
	*gorm.DB
}

// NewMySQLDB connects with clientFoundRows so RowsAffected counts matched
// rows, which the not-found checks below rely on.
func NewMySQLDB(host, port, user, password, dbname string) (*GormDB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local&clientFoundRows=true",
		user, password, host, port, dbname)

	db, err := openGorm(mysql.Open(dsn))
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

func openGorm(dialector gorm.Dialector) (*GormDB, error) {
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &GormDB{DB: db}, nil
}

func autoMigrate(db *gorm.DB) error {
	logger.Info("running database migrations")

	return db.AutoMigrate(
		&models.Session{},
		&models.Participant{},
		&models.QueueItem{},
		&models.Vote{},
	)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.ErrNotFound
	}
	return err
}

// Session operations
func (db *GormDB) CreateSession(ctx context.Context, session *models.Session) error {
	return db.WithContext(ctx).Create(session).Error
}

func (db *GormDB) GetSession(ctx context.Context, code string) (*models.Session, error) {
	var session models.Session
	if err := db.WithContext(ctx).Where("code = ?", code).First(&session).Error; err != nil {
		return nil, notFound(err)
	}
	return &session, nil
}

func (db *GormDB) SessionCodeExists(ctx context.Context, code string) (bool, error) {
	var n int64
	if err := db.WithContext(ctx).Model(&models.Session{}).
		Where("code = ?", code).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (db *GormDB) UpdateSession(ctx context.Context, session *models.Session) error {
	return db.WithContext(ctx).Save(session).Error
}

// Participant operations
func (db *GormDB) AddParticipant(ctx context.Context, p *models.Participant) (bool, error) {
	created := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Participant
		err := tx.Where("session_code = ? AND user_id = ?", p.SessionCode, p.UserID).First(&existing).Error
		if err == nil {
			*p = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

func (db *GormDB) ListParticipants(ctx context.Context, sessionCode string) ([]*models.Participant, error) {
	participants := make([]*models.Participant, 0)
	if err := db.WithContext(ctx).
		Where("session_code = ?", sessionCode).
		Order("id ASC").
		Find(&participants).Error; err != nil {
		return nil, err
	}
	return participants, nil
}

// Queue operations
func (db *GormDB) AddQueueItem(ctx context.Context, item *models.QueueItem) error {
	return db.WithContext(ctx).Create(item).Error
}

func (db *GormDB) GetQueueItem(ctx context.Context, id int64) (*models.QueueItem, error) {
	var item models.QueueItem
	if err := db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

func (db *GormDB) ListUnplayed(ctx context.Context, sessionCode string) ([]*models.QueueItem, error) {
	var items []*models.QueueItem
	if err := db.WithContext(ctx).
		Where("session_code = ? AND played = ?", sessionCode, false).
		Order("votes DESC, id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (db *GormDB) CountQueueItems(ctx context.Context, sessionCode string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("session_code = ?", sessionCode).
		Count(&n).Error
	return n, err
}

func (db *GormDB) UpdateQueueItem(ctx context.Context, item *models.QueueItem) error {
	return db.WithContext(ctx).Save(item).Error
}

func (db *GormDB) SetPositions(ctx context.Context, sessionCode string, positions map[int64]int) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for id, pos := range positions {
			res := tx.Model(&models.QueueItem{}).
				Where("id = ? AND session_code = ?", id, sessionCode).
				Update("position", pos)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("queue item %d: %w", id, apperr.ErrNotFound)
			}
		}
		return nil
	})
}

func (db *GormDB) DeleteQueueItem(ctx context.Context, id int64) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("queue_item_id = ?", id).Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.QueueItem{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.ErrNotFound
		}
		return nil
	})
}

// Vote operations
func (db *GormDB) GetVote(ctx context.Context, userID string, queueItemID int64) (*models.Vote, error) {
	var vote models.Vote
	if err := db.WithContext(ctx).
		Where("user_id = ? AND queue_item_id = ?", userID, queueItemID).
		First(&vote).Error; err != nil {
		return nil, notFound(err)
	}
	return &vote, nil
}

func (db *GormDB) ListUserVotes(ctx context.Context, sessionCode, userID string) (map[int64]models.VoteType, error) {
	var votes []models.Vote
	if err := db.WithContext(ctx).
		Joins("JOIN queue_items ON queue_items.id = votes.queue_item_id").
		Where("votes.user_id = ? AND queue_items.session_code = ?", userID, sessionCode).
		Find(&votes).Error; err != nil {
		return nil, err
	}

	out := make(map[int64]models.VoteType, len(votes))
	for _, v := range votes {
		out[v.QueueItemID] = v.VoteType
	}
	return out, nil
}

func (db *GormDB) ApplyVote(ctx context.Context, change VoteChange) (int, error) {
	var count int
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		where := tx.Where("user_id = ? AND queue_item_id = ?", change.Vote.UserID, change.Vote.QueueItemID)

		var res *gorm.DB
		switch change.Op {
		case VoteInsert:
			v := change.Vote
			res = tx.Create(&v)
		case VoteUpdate:
			res = where.Model(&models.Vote{}).Update("vote_type", change.Vote.VoteType)
		case VoteDelete:
			res = where.Delete(&models.Vote{})
		default:
			return fmt.Errorf("unknown vote op %d", change.Op)
		}
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("vote %s: %w", change.Op, apperr.ErrNotFound)
		}

		res = tx.Model(&models.QueueItem{}).
			Where("id = ?", change.Vote.QueueItemID).
			Update("votes", gorm.Expr("votes + ?", change.Delta))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.ErrNotFound
		}

		var counts []int
		if err := tx.Model(&models.QueueItem{}).
			Where("id = ?", change.Vote.QueueItemID).
			Pluck("votes", &counts).Error; err != nil {
			return err
		}
		if len(counts) == 0 {
			return apperr.ErrNotFound
		}
		count = counts[0]
		return nil
	})
	return count, err
}

func (db *GormDB) SumVotes(ctx context.Context, queueItemID int64) (int, error) {
	var sum struct {
		Total int
	}

	if err := db.WithContext(ctx).Model(&models.Vote{}).
		Select("COALESCE(SUM(CASE vote_type WHEN ? THEN 1 WHEN ? THEN -1 ELSE 0 END), 0) AS total",
			models.VoteUp, models.VoteDown).
		Where("queue_item_id = ?", queueItemID).
		Scan(&sum).Error; err != nil {
		return 0, err
	}

	return sum.Total, nil
}

func (db *GormDB) SetVoteCount(ctx context.Context, queueItemID int64, votes int) error {
	res := db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("id = ?", queueItemID).
		Update("votes", votes)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (db *GormDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
