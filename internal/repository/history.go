package repository

import (
	"dirmirror/internal/db"
	"dirmirror/internal/model"
	"time"
)

type HistoryRepository struct{}

func NewHistoryRepository() *HistoryRepository {
	return &HistoryRepository{}
}

func (r *HistoryRepository) Save(runID string, outcome model.ApplyOutcome) error {
	errMsg := ""
	if outcome.Err != nil {
		errMsg = outcome.Err.Error()
	}

	syncedAt := outcome.FinishedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}

	history := model.History{
		RunID:      runID,
		Result:     outcome.Result,
		EventKind:  string(outcome.Event.Kind),
		Path:       outcome.Event.Path,
		FromPath:   outcome.Event.From,
		Reason:     outcome.Reason,
		ErrMsg:     errMsg,
		Bytes:      outcome.Bytes,
		DurationUS: outcome.Duration.Microseconds(),
		SourceHash: outcome.SourceHash,
		TargetHash: outcome.TargetHash,
		SyncedAt:   syncedAt,
	}

	return db.DB.Create(&history).Error
}

type Stats struct {
	Total   int64 `json:"total"`
	Applied int64 `json:"applied"`
	Skipped int64 `json:"skipped"`
	Failed  int64 `json:"failed"`
}

func (r *HistoryRepository) GetStats() (Stats, error) {
	var stats Stats
	if err := db.DB.Model(&model.History{}).Count(&stats.Total).Error; err != nil {
		return stats, err
	}

	if err := db.DB.Model(&model.History{}).
		Where("result = ?", model.ResultApplied).
		Count(&stats.Applied).Error; err != nil {
		return stats, err
	}

	if err := db.DB.Model(&model.History{}).
		Where("result = ?", model.ResultSkipped).
		Count(&stats.Skipped).Error; err != nil {
		return stats, err
	}

	stats.Failed = stats.Total - stats.Applied - stats.Skipped
	return stats, nil
}

func (r *HistoryRepository) GetRecent(limit int) ([]model.History, error) {
	var histories []model.History
	result := db.DB.
		Order("synced_at desc, id desc").
		Limit(limit).
		Find(&histories)

	return histories, result.Error
}

func (r *HistoryRepository) GetFailed(limit int) ([]model.History, error) {
	var histories []model.History
	result := db.DB.
		Where("result = ?", model.ResultFailed).
		Order("synced_at desc, id desc").
		Limit(limit).
		Find(&histories)

	return histories, result.Error
}
