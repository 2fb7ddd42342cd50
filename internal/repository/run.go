package repository

import (
	"dirmirror/internal/db"
	"dirmirror/internal/model"
	"time"
)

type RunRepository struct{}

func NewRunRepository() *RunRepository {
	return &RunRepository{}
}

func (r *RunRepository) Add(runID, src, dst string, startedAt time.Time) (model.Run, error) {
	run := model.Run{
		RunID:     runID,
		Source:    src,
		Target:    dst,
		Status:    model.RunStatusBootstrapping,
		StartedAt: startedAt,
	}

	return run, db.DB.Create(&run).Error
}

func (r *RunRepository) GetAll() ([]model.Run, error) {
	var runs []model.Run
	return runs, db.DB.Order("started_at desc").Find(&runs).Error
}

func (r *RunRepository) GetByRunID(runID string) (model.Run, error) {
	var run model.Run
	return run, db.DB.Where("run_id = ?", runID).First(&run).Error
}

func (r *RunRepository) UpdateStatus(runID string, status model.RunStatus) error {
	updates := map[string]any{"status": status}
	if status == model.RunStatusStopped {
		updates["stopped_at"] = time.Now()
	}

	return db.DB.Model(&model.Run{}).
		Where("run_id = ?", runID).
		Updates(updates).Error
}
