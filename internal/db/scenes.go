package db

import (
	"context"
	"fmt"

	"github.com/bobarin/beatframe/internal/models"
	"github.com/google/uuid"
)

// ReplaceScenes swaps a track's storyboard for scenes in one transaction.
func (db *DB) ReplaceScenes(ctx context.Context, trackID uuid.UUID, scenes []models.Scene) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scenes WHERE track_id = $1`, trackID); err != nil {
		return fmt.Errorf("failed to clear scenes: %w", err)
	}

	for _, s := range scenes {
		if _, err := tx.ExecContext(ctx, upsertSceneQuery, sceneArgs(trackID, s)...); err != nil {
			return fmt.Errorf("failed to insert scene %s: %w", models.FormatTimestamp(s.Timestamp), err)
		}
	}

	return tx.Commit()
}

// UpsertScene writes one scene, keyed by (track, timestamp).
func (db *DB) UpsertScene(ctx context.Context, trackID uuid.UUID, scene models.Scene) error {
	if _, err := db.ExecContext(ctx, upsertSceneQuery, sceneArgs(trackID, scene)...); err != nil {
		return fmt.Errorf("failed to upsert scene: %w", err)
	}
	return nil
}

const upsertSceneQuery = `
	INSERT INTO scenes (
		track_id, timestamp, prompt, duration, image_url, video_url,
		status, job_id, error_message, has_edited_artifact
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (track_id, timestamp) DO UPDATE SET
		prompt = EXCLUDED.prompt,
		duration = EXCLUDED.duration,
		image_url = EXCLUDED.image_url,
		video_url = EXCLUDED.video_url,
		status = EXCLUDED.status,
		job_id = EXCLUDED.job_id,
		error_message = EXCLUDED.error_message,
		has_edited_artifact = EXCLUDED.has_edited_artifact,
		updated_at = NOW()
`

func sceneArgs(trackID uuid.UUID, s models.Scene) []any {
	return []any{
		trackID, s.Timestamp, s.Prompt, s.Duration, s.ImageURL, s.VideoURL,
		s.Status, s.JobID, s.Error, s.HasEditedArtifact,
	}
}

// ListScenes returns a track's scenes in timestamp order.
func (db *DB) ListScenes(ctx context.Context, trackID uuid.UUID) ([]models.Scene, error) {
	query := `
		SELECT
			timestamp, prompt, duration, image_url, video_url,
			status, job_id, error_message, has_edited_artifact
		FROM scenes
		WHERE track_id = $1
		ORDER BY timestamp
	`

	rows, err := db.QueryContext(ctx, query, trackID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenes: %w", err)
	}
	defer rows.Close()

	var scenes []models.Scene
	for rows.Next() {
		var s models.Scene
		if err := rows.Scan(
			&s.Timestamp, &s.Prompt, &s.Duration, &s.ImageURL, &s.VideoURL,
			&s.Status, &s.JobID, &s.Error, &s.HasEditedArtifact,
		); err != nil {
			return nil, fmt.Errorf("failed to scan scene: %w", err)
		}
		scenes = append(scenes, s)
	}

	return scenes, rows.Err()
}

func (db *DB) DeleteScenes(ctx context.Context, trackID uuid.UUID) error {
	_, err := db.ExecContext(ctx, `DELETE FROM scenes WHERE track_id = $1`, trackID)
	return err
}
