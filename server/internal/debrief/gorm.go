package debrief

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"skytrail/server/internal/logger"
	"skytrail/server/internal/model"
)

type hopSessionRow struct {
	ID           string         `gorm:"column:id;primaryKey"`
	Mission      string         `gorm:"column:mission_type;not null"`
	Aircraft     string         `gorm:"column:aircraft;not null"`
	Status       string         `gorm:"column:status;not null"`
	StartedAt    time.Time      `gorm:"column:started_at"`
	EndedAt      time.Time      `gorm:"column:ended_at;index"`
	TotalCards   int            `gorm:"column:total_cards"`
	Answered     int            `gorm:"column:answered"`
	CorrectCount int            `gorm:"column:correct_count"`
	FinalRisk    int            `gorm:"column:final_risk"`
	BustReason   string         `gorm:"column:bust_reason"`
	PhaseAtEnd   string         `gorm:"column:phase_at_end"`
	QuestionIDs  datatypes.JSON `gorm:"column:question_ids"`
	Responses    datatypes.JSON `gorm:"column:responses"`
}

func (hopSessionRow) TableName() string { return "hop_sessions" }

// GormRecorder 写 hop_sessions 表；同一会话重复写入以最后一次为准。
type GormRecorder struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGormRecorder(db *gorm.DB, log *logger.Logger) *GormRecorder {
	return &GormRecorder{db: db, log: log.With("component", "debrief")}
}

func (r *GormRecorder) AutoMigrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&hopSessionRow{}); err != nil {
		r.log.Error("Debrief auto migration failed", "error", err)
		return fmt.Errorf("migrate debrief: %w", err)
	}
	return nil
}

func (r *GormRecorder) Record(ctx context.Context, rec Record) error {
	ids, err := json.Marshal(nonNil(rec.QuestionIDs))
	if err != nil {
		return fmt.Errorf("encode question ids: %w", err)
	}
	responses := rec.Responses
	if responses == nil {
		responses = []model.Response{}
	}
	resp, err := json.Marshal(responses)
	if err != nil {
		return fmt.Errorf("encode responses: %w", err)
	}
	row := hopSessionRow{
		ID:           rec.SessionID,
		Mission:      rec.Mission,
		Aircraft:     rec.Aircraft,
		Status:       rec.Status,
		StartedAt:    rec.StartedAt,
		EndedAt:      rec.EndedAt,
		TotalCards:   rec.TotalCards,
		Answered:     rec.Answered,
		CorrectCount: rec.CorrectCount,
		FinalRisk:    rec.FinalRisk,
		BustReason:   rec.BustReason,
		PhaseAtEnd:   string(rec.PhaseAtEnd),
		QuestionIDs:  datatypes.JSON(ids),
		Responses:    datatypes.JSON(resp),
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("record debrief %s: %w", rec.SessionID, err)
	}
	r.log.Info("Debrief recorded", "session_id", rec.SessionID, "status", rec.Status, "correct", rec.CorrectCount, "total", rec.TotalCards)
	return nil
}

// Recent 最近结束的 limit 条记录。
func (r *GormRecorder) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []hopSessionRow
	if err := r.db.WithContext(ctx).Order("ended_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list debriefs: %w", err)
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := Record{
			SessionID:    row.ID,
			Mission:      row.Mission,
			Aircraft:     row.Aircraft,
			Status:       row.Status,
			StartedAt:    row.StartedAt,
			EndedAt:      row.EndedAt,
			TotalCards:   row.TotalCards,
			Answered:     row.Answered,
			CorrectCount: row.CorrectCount,
			FinalRisk:    row.FinalRisk,
			BustReason:   row.BustReason,
			PhaseAtEnd:   model.Phase(row.PhaseAtEnd),
		}
		if len(row.QuestionIDs) > 0 {
			if err := json.Unmarshal(row.QuestionIDs, &rec.QuestionIDs); err != nil {
				return nil, fmt.Errorf("decode question ids %s: %w", row.ID, err)
			}
		}
		if len(row.Responses) > 0 {
			if err := json.Unmarshal(row.Responses, &rec.Responses); err != nil {
				return nil, fmt.Errorf("decode responses %s: %w", row.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
