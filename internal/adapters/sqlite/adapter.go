// Package sqlite provides the SQLite-backed implementation of the feature
// repository port.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ewilliams-labs/cadenza/internal/core/domain"
	"github.com/ewilliams-labs/cadenza/internal/core/ports"
	_ "github.com/mattn/go-sqlite3" // driver
)

// Adapter implements the feature repository port for SQLite.
type Adapter struct {
	db *sql.DB
}

var _ ports.FeatureRepository = (*Adapter)(nil)

// NewAdapter opens the database and runs the schema migration.
func NewAdapter(storagePath string) (*Adapter, error) {
	db, err := sql.Open("sqlite3", storagePath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	a := &Adapter{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return a, nil
}

// Close releases the database connection.
func (a *Adapter) Close() error {
	return a.db.Close()
}

const recordColumns = `
	track_id, isrc,
	essentia_bpm, essentia_bpm_raw, essentia_bpm_conf,
	essentia_key, essentia_scale, essentia_key_conf,
	aubio_bpm, aubio_bpm_raw, aubio_bpm_conf,
	aubio_key, aubio_scale, aubio_key_conf,
	tempo_source, key_source,
	manual_bpm, manual_key, manual_scale,
	provider, urls_tried, preview_url, identity_mismatch,
	error, trace, updated_at`

// Find prefers a lookup by ISRC, falling back to the track id, so two catalog
// ids for the same recording share one row. Stale or mismatch-flagged rows
// are returned as-is; validity is decided by the caller.
func (a *Adapter) Find(ctx context.Context, trackID, isrc string) (domain.FeatureRecord, error) {
	if isrc != "" {
		rec, err := a.findBy(ctx, "isrc", isrc)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.FeatureRecord{}, err
		}
	}
	return a.findBy(ctx, "track_id", trackID)
}

func (a *Adapter) findBy(ctx context.Context, column, value string) (domain.FeatureRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM track_features WHERE %s = ?", recordColumns, column)
	rec, err := scanRecord(a.db.QueryRowContext(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FeatureRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.FeatureRecord{}, fmt.Errorf("failed to load record: %w", err)
	}
	return rec, nil
}

// Upsert merges the record into the store. Algorithm values coalesce (new
// when present, else keep existing) so a later attempt that only fills in key
// data augments the row instead of erasing tempo data. Provenance and error
// always take the latest attempt. Manual pins are never written here, and a
// 'manual' serving source survives any automated source re-selection.
func (a *Adapter) Upsert(ctx context.Context, rec domain.FeatureRecord) error {
	urls, err := json.Marshal(rec.AttemptedURLs)
	if err != nil {
		return fmt.Errorf("failed to encode url list: %w", err)
	}

	query := `
	INSERT INTO track_features (
		track_id, isrc,
		essentia_bpm, essentia_bpm_raw, essentia_bpm_conf,
		essentia_key, essentia_scale, essentia_key_conf,
		aubio_bpm, aubio_bpm_raw, aubio_bpm_conf,
		aubio_key, aubio_scale, aubio_key_conf,
		tempo_source, key_source,
		provider, urls_tried, preview_url, identity_mismatch,
		error, trace, updated_at
	)
	VALUES (?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(track_id) DO UPDATE SET
		isrc              = COALESCE(excluded.isrc, track_features.isrc),
		essentia_bpm      = COALESCE(excluded.essentia_bpm, track_features.essentia_bpm),
		essentia_bpm_raw  = COALESCE(excluded.essentia_bpm_raw, track_features.essentia_bpm_raw),
		essentia_bpm_conf = COALESCE(excluded.essentia_bpm_conf, track_features.essentia_bpm_conf),
		essentia_key      = COALESCE(excluded.essentia_key, track_features.essentia_key),
		essentia_scale    = COALESCE(excluded.essentia_scale, track_features.essentia_scale),
		essentia_key_conf = COALESCE(excluded.essentia_key_conf, track_features.essentia_key_conf),
		aubio_bpm         = COALESCE(excluded.aubio_bpm, track_features.aubio_bpm),
		aubio_bpm_raw     = COALESCE(excluded.aubio_bpm_raw, track_features.aubio_bpm_raw),
		aubio_bpm_conf    = COALESCE(excluded.aubio_bpm_conf, track_features.aubio_bpm_conf),
		aubio_key         = COALESCE(excluded.aubio_key, track_features.aubio_key),
		aubio_scale       = COALESCE(excluded.aubio_scale, track_features.aubio_scale),
		aubio_key_conf    = COALESCE(excluded.aubio_key_conf, track_features.aubio_key_conf),
		tempo_source      = CASE
			WHEN track_features.tempo_source = 'manual' THEN 'manual'
			WHEN excluded.tempo_source != '' THEN excluded.tempo_source
			ELSE track_features.tempo_source END,
		key_source        = CASE
			WHEN track_features.key_source = 'manual' THEN 'manual'
			WHEN excluded.key_source != '' THEN excluded.key_source
			ELSE track_features.key_source END,
		provider          = excluded.provider,
		urls_tried        = excluded.urls_tried,
		preview_url       = excluded.preview_url,
		identity_mismatch = excluded.identity_mismatch,
		error             = excluded.error,
		trace             = excluded.trace,
		updated_at        = excluded.updated_at;
	`

	args := []any{
		rec.TrackID, rec.ISRC,
		tempoBPM(rec.Essentia.Tempo), tempoRaw(rec.Essentia.Tempo), tempoConf(rec.Essentia.Tempo),
		keyName(rec.Essentia.Key), keyScale(rec.Essentia.Key), keyConf(rec.Essentia.Key),
		tempoBPM(rec.Aubio.Tempo), tempoRaw(rec.Aubio.Tempo), tempoConf(rec.Aubio.Tempo),
		keyName(rec.Aubio.Key), keyScale(rec.Aubio.Key), keyConf(rec.Aubio.Key),
		string(rec.TempoSource), string(rec.KeySource),
		rec.Provider, string(urls), nullString(rec.PreviewURL), rec.IdentityMismatch,
		nullString(rec.Error), nullString(rec.Trace), rec.UpdatedAt.UTC(),
	}

	if _, err := a.db.ExecContext(ctx, query, args...); err != nil {
		// A second catalog id arriving for an already-cached recording
		// trips the unique ISRC index. Merge into that row instead.
		if isISRCConflict(err) {
			return a.mergeByISRC(ctx, rec, string(urls))
		}
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

// mergeByISRC applies the same merge semantics keyed by the recording id.
func (a *Adapter) mergeByISRC(ctx context.Context, rec domain.FeatureRecord, urls string) error {
	query := `
	UPDATE track_features SET
		essentia_bpm      = COALESCE(?, essentia_bpm),
		essentia_bpm_raw  = COALESCE(?, essentia_bpm_raw),
		essentia_bpm_conf = COALESCE(?, essentia_bpm_conf),
		essentia_key      = COALESCE(?, essentia_key),
		essentia_scale    = COALESCE(?, essentia_scale),
		essentia_key_conf = COALESCE(?, essentia_key_conf),
		aubio_bpm         = COALESCE(?, aubio_bpm),
		aubio_bpm_raw     = COALESCE(?, aubio_bpm_raw),
		aubio_bpm_conf    = COALESCE(?, aubio_bpm_conf),
		aubio_key         = COALESCE(?, aubio_key),
		aubio_scale       = COALESCE(?, aubio_scale),
		aubio_key_conf    = COALESCE(?, aubio_key_conf),
		tempo_source      = CASE
			WHEN tempo_source = 'manual' THEN 'manual'
			WHEN ? != '' THEN ?
			ELSE tempo_source END,
		key_source        = CASE
			WHEN key_source = 'manual' THEN 'manual'
			WHEN ? != '' THEN ?
			ELSE key_source END,
		provider          = ?,
		urls_tried        = ?,
		preview_url       = ?,
		identity_mismatch = ?,
		error             = ?,
		trace             = ?,
		updated_at        = ?
	WHERE isrc = ?
	`
	args := []any{
		tempoBPM(rec.Essentia.Tempo), tempoRaw(rec.Essentia.Tempo), tempoConf(rec.Essentia.Tempo),
		keyName(rec.Essentia.Key), keyScale(rec.Essentia.Key), keyConf(rec.Essentia.Key),
		tempoBPM(rec.Aubio.Tempo), tempoRaw(rec.Aubio.Tempo), tempoConf(rec.Aubio.Tempo),
		keyName(rec.Aubio.Key), keyScale(rec.Aubio.Key), keyConf(rec.Aubio.Key),
		string(rec.TempoSource), string(rec.TempoSource),
		string(rec.KeySource), string(rec.KeySource),
		rec.Provider, urls, nullString(rec.PreviewURL), rec.IdentityMismatch,
		nullString(rec.Error), nullString(rec.Trace), rec.UpdatedAt.UTC(),
		rec.ISRC,
	}
	if _, err := a.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to merge record by isrc: %w", err)
	}
	return nil
}

// SetManualOverride pins the given values, creating a bare row if the track
// was never resolved. Pinned fields switch the serving source to manual.
func (a *Adapter) SetManualOverride(ctx context.Context, trackID string, o domain.ManualOverride) error {
	query := `
	INSERT INTO track_features (track_id, manual_bpm, manual_key, manual_scale, tempo_source, key_source, updated_at)
	VALUES (?, ?, ?, ?,
		CASE WHEN ? THEN 'manual' ELSE '' END,
		CASE WHEN ? THEN 'manual' ELSE '' END,
		?)
	ON CONFLICT(track_id) DO UPDATE SET
		manual_bpm   = COALESCE(excluded.manual_bpm, track_features.manual_bpm),
		manual_key   = COALESCE(excluded.manual_key, track_features.manual_key),
		manual_scale = COALESCE(excluded.manual_scale, track_features.manual_scale),
		tempo_source = CASE WHEN excluded.manual_bpm IS NOT NULL THEN 'manual' ELSE track_features.tempo_source END,
		key_source   = CASE WHEN excluded.manual_key IS NOT NULL THEN 'manual' ELSE track_features.key_source END;
	`
	var scale *string
	if o.Scale != nil {
		s := string(*o.Scale)
		scale = &s
	}
	_, err := a.db.ExecContext(ctx, query,
		trackID, o.BPM, o.Key, scale,
		o.BPM != nil, o.Key != nil,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to set manual override: %w", err)
	}
	return nil
}

// ClearManualOverride removes every pin and re-selects the serving sources
// from the stored algorithm outcomes.
func (a *Adapter) ClearManualOverride(ctx context.Context, trackID string) error {
	rec, err := a.findBy(ctx, "track_id", trackID)
	if err != nil {
		return err
	}

	tempoSource := ""
	if src, ok := domain.SelectTempo(rec.Essentia.Tempo, rec.Aubio.Tempo); ok {
		tempoSource = string(src)
	}
	keySource := ""
	if src, ok := domain.SelectKey(rec.Essentia.Key, rec.Aubio.Key); ok {
		keySource = string(src)
	}

	query := `
	UPDATE track_features SET
		manual_bpm = NULL, manual_key = NULL, manual_scale = NULL,
		tempo_source = ?, key_source = ?
	WHERE track_id = ?
	`
	if _, err := a.db.ExecContext(ctx, query, tempoSource, keySource, trackID); err != nil {
		return fmt.Errorf("failed to clear manual override: %w", err)
	}
	return nil
}

// Stale returns records last updated before the cutoff, oldest first.
func (a *Adapter) Stale(ctx context.Context, cutoff time.Time, limit int) ([]domain.FeatureRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(
		"SELECT %s FROM track_features WHERE updated_at < ? ORDER BY updated_at ASC LIMIT ?",
		recordColumns,
	)
	rows, err := a.db.QueryContext(ctx, query, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale records: %w", err)
	}
	defer rows.Close()

	var records []domain.FeatureRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stale record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stale records: %w", err)
	}
	return records, nil
}

func (a *Adapter) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS track_features (
		track_id          TEXT PRIMARY KEY,
		isrc              TEXT,
		essentia_bpm      REAL,
		essentia_bpm_raw  REAL,
		essentia_bpm_conf REAL,
		essentia_key      TEXT,
		essentia_scale    TEXT,
		essentia_key_conf REAL,
		aubio_bpm         REAL,
		aubio_bpm_raw     REAL,
		aubio_bpm_conf    REAL,
		aubio_key         TEXT,
		aubio_scale       TEXT,
		aubio_key_conf    REAL,
		tempo_source      TEXT NOT NULL DEFAULT '',
		key_source        TEXT NOT NULL DEFAULT '',
		manual_bpm        REAL,
		manual_key        TEXT,
		manual_scale      TEXT,
		provider          TEXT NOT NULL DEFAULT '',
		urls_tried        TEXT NOT NULL DEFAULT '[]',
		preview_url       TEXT,
		identity_mismatch INTEGER NOT NULL DEFAULT 0,
		error             TEXT,
		trace             TEXT,
		updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_track_features_isrc
		ON track_features(isrc) WHERE isrc IS NOT NULL;
	`
	if _, err := a.db.Exec(query); err != nil {
		return err
	}
	return nil
}

func isISRCConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "track_features.isrc")
}
