package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bobarin/beatframe/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateTrack(ctx context.Context, track *models.Track) error {
	query := `
		INSERT INTO tracks (
			id, file_name, audio_url, sensitivity, tempo,
			overall_energy, duration_seconds, analysis
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		track.ID, track.FileName, track.AudioURL, track.Sensitivity,
		track.Tempo, track.OverallEnergy, track.DurationSeconds, track.Analysis,
	).Scan(&track.CreatedAt, &track.UpdatedAt)
}

func (db *DB) GetTrack(ctx context.Context, id uuid.UUID) (*models.Track, error) {
	query := `
		SELECT
			id, file_name, audio_url, sensitivity, tempo,
			overall_energy, duration_seconds, analysis, created_at, updated_at
		FROM tracks
		WHERE id = $1
	`

	track := &models.Track{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&track.ID, &track.FileName, &track.AudioURL, &track.Sensitivity,
		&track.Tempo, &track.OverallEnergy, &track.DurationSeconds,
		&track.Analysis, &track.CreatedAt, &track.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("track %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get track: %w", err)
	}

	return track, nil
}

// ListTracks returns tracks newest first.
func (db *DB) ListTracks(ctx context.Context, limit, offset int) ([]models.Track, error) {
	query := `
		SELECT
			id, file_name, audio_url, sensitivity, tempo,
			overall_energy, duration_seconds, analysis, created_at, updated_at
		FROM tracks
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}
	defer rows.Close()

	var tracks []models.Track
	for rows.Next() {
		var t models.Track
		if err := rows.Scan(
			&t.ID, &t.FileName, &t.AudioURL, &t.Sensitivity,
			&t.Tempo, &t.OverallEnergy, &t.DurationSeconds,
			&t.Analysis, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		tracks = append(tracks, t)
	}

	return tracks, rows.Err()
}
