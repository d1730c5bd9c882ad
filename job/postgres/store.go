package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pixelvault/moderation-server/job"
)

const jobTable = "moderation_jobs"

type pgStore struct {
	db *sqlx.DB
}

func NewInPostgres(db *sql.DB) job.Store {
	return &pgStore{
		db: sqlx.NewDb(db, "pgx"),
	}
}

func (s *pgStore) reset() {
	_, err := s.db.Exec(`DELETE FROM ` + jobTable)
	if err != nil {
		panic(err)
	}
}

type jobModel struct {
	ID                  string         `db:"id"`
	OwnerID             string         `db:"owner_id"`
	Status              string         `db:"status"`
	TotalImages         int            `db:"total_images"`
	ProcessedImages     int            `db:"processed_images"`
	NSFWDetected        int            `db:"nsfw_detected"`
	ExternalJobID       sql.NullString `db:"external_job_id"`
	TempStorageLocation string         `db:"temp_storage_location"`
	MinConfidence       float64        `db:"min_confidence"`
	ErrorMessage        sql.NullString `db:"error_message"`
	CreatedAt           time.Time      `db:"created_at"`
	CompletedAt         sql.NullTime   `db:"completed_at"`
}

func (m *jobModel) toJob() *job.Job {
	j := &job.Job{
		ID:                  m.ID,
		OwnerID:             m.OwnerID,
		Status:              job.Status(m.Status),
		TotalImages:         m.TotalImages,
		ProcessedImages:     m.ProcessedImages,
		NSFWDetected:        m.NSFWDetected,
		ExternalJobID:       m.ExternalJobID.String,
		TempStorageLocation: m.TempStorageLocation,
		MinConfidence:       m.MinConfidence,
		ErrorMessage:        m.ErrorMessage.String,
		CreatedAt:           m.CreatedAt,
	}
	if m.CompletedAt.Valid {
		at := m.CompletedAt.Time
		j.CompletedAt = &at
	}
	return j
}

func (s *pgStore) CreateJob(ctx context.Context, j *job.Job) error {
	query := `INSERT INTO ` + jobTable + `
		(id, owner_id, status, total_images, processed_images, nsfw_detected,
		 external_job_id, temp_storage_location, min_confidence, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, NULLIF($10, ''), $11)
		ON CONFLICT (id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		j.ID, j.OwnerID, string(j.Status), j.TotalImages, j.ProcessedImages,
		j.NSFWDetected, j.ExternalJobID, j.TempStorageLocation, j.MinConfidence,
		j.ErrorMessage, j.CreatedAt)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return job.ErrExists
	}
	return nil
}

func (s *pgStore) GetJob(ctx context.Context, id string) (*job.Job, error) {
	var m jobModel
	query := `SELECT * FROM ` + jobTable + ` WHERE id = $1`
	if err := s.db.GetContext(ctx, &m, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, job.ErrNotFound
		}
		return nil, err
	}
	return m.toJob(), nil
}

func (s *pgStore) SetExternalJob(ctx context.Context, id, externalJobID string) error {
	query := `UPDATE ` + jobTable + ` SET external_job_id = $2 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, id, externalJobID)
	if err != nil {
		return err
	}
	return mustAffect(res, job.ErrNotFound)
}

func (s *pgStore) AdvanceStatus(ctx context.Context, id string, from, to job.Status) error {
	if !job.CanAdvance(from, to) {
		return job.ErrInvalidTransition
	}

	query := `UPDATE ` + jobTable + ` SET status = $3 WHERE id = $1 AND status = $2`
	res, err := s.db.ExecContext(ctx, query, id, string(from), string(to))
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Distinguish a missing job from a stale transition.
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		return job.ErrInvalidTransition
	}
	return nil
}

func (s *pgStore) TryMarkCompleted(ctx context.Context, id string, processedImages, nsfwDetected int) (bool, error) {
	query := `UPDATE ` + jobTable + `
		SET status = $2, processed_images = $3, nsfw_detected = $4, completed_at = NOW()
		WHERE id = $1 AND status = $5`

	res, err := s.db.ExecContext(ctx, query,
		id, string(job.StatusCompleted), processedImages, nsfwDetected, string(job.StatusProcessing))
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *pgStore) MarkFailed(ctx context.Context, id, message string) error {
	query := `UPDATE ` + jobTable + `
		SET status = $2, error_message = $3
		WHERE id = $1 AND status NOT IN ($4, $5)`

	res, err := s.db.ExecContext(ctx, query,
		id, string(job.StatusFailed), message,
		string(job.StatusCompleted), string(job.StatusFailed))
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		return job.ErrInvalidTransition
	}
	return nil
}

func mustAffect(res sql.Result, missing error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return missing
	}
	return nil
}
