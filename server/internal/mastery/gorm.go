package mastery

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"skytrail/server/internal/logger"
)

type masteryRow struct {
	QuestionID   string    `gorm:"column:question_id;primaryKey"`
	Section      string    `gorm:"column:section;not null;default:''"`
	TimesSeen    int       `gorm:"column:times_seen;not null;default:0"`
	TimesCorrect int       `gorm:"column:times_correct;not null;default:0"`
	LastSeenAt   time.Time `gorm:"column:last_seen_at"`
}

func (masteryRow) TableName() string { return "user_mastery" }

// GormStore 与题库同库的 user_mastery 表。
type GormStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGormStore(db *gorm.DB, log *logger.Logger) *GormStore {
	return &GormStore{db: db, log: log.With("component", "mastery")}
}

func (s *GormStore) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&masteryRow{}); err != nil {
		s.log.Error("Mastery auto migration failed", "error", err)
		return fmt.Errorf("migrate mastery: %w", err)
	}
	return nil
}

// Record 以 upsert 累加计数，并发作答不会丢失。
func (s *GormStore) Record(ctx context.Context, a Attempt) error {
	correct := 0
	if a.Correct {
		correct = 1
	}
	row := masteryRow{
		QuestionID:   a.QuestionID,
		Section:      a.Section,
		TimesSeen:    1,
		TimesCorrect: correct,
		LastSeenAt:   a.At,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "question_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"times_seen":    gorm.Expr("user_mastery.times_seen + 1"),
			"times_correct": gorm.Expr("user_mastery.times_correct + ?", correct),
			"last_seen_at":  a.At,
			"section":       a.Section,
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("record mastery %s: %w", a.QuestionID, err)
	}
	return nil
}

func (s *GormStore) Entries(ctx context.Context) ([]Entry, error) {
	var rows []masteryRow
	if err := s.db.WithContext(ctx).Order("question_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list mastery: %w", err)
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, Entry{
			QuestionID:   r.QuestionID,
			Section:      r.Section,
			TimesSeen:    r.TimesSeen,
			TimesCorrect: r.TimesCorrect,
			LastSeenAt:   r.LastSeenAt,
		})
	}
	return out, nil
}
