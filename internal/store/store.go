// Package store persists slides in SQLite.
//
// A slide is either uploaded manually or linked to a frame of a Figma file.
// The pair (remote file, remote frame) is unique among linked slides; the
// schema enforces it with a partial unique index and UpsertRemote relies on it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/kataras/figma-slides/internal/apperr"
	"github.com/kataras/figma-slides/internal/store/migrations"
	"github.com/kataras/figma-slides/pkg/syncer"
)

// Slide is a stored slide. The image itself lives in the blob bucket under ImageKey.
type Slide struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Position      int       `json:"position"`
	RemoteFileID  string    `json:"remote_file_id,omitempty"`
	RemoteFrameID string    `json:"remote_frame_id,omitempty"`
	RemoteFileURL string    `json:"remote_file_url,omitempty"`
	ContentHash   string    `json:"content_hash,omitempty"`
	LastSyncedAt  time.Time `json:"last_synced_at,omitzero"`
	ImageKey      string    `json:"-"`
	ContentType   string    `json:"content_type,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Linked reports whether the slide points at a Figma frame.
func (s *Slide) Linked() bool {
	return s.RemoteFileID != "" && s.RemoteFrameID != ""
}

// Record returns the part of the slide the sync engine works with.
func (s *Slide) Record() syncer.SlideRecord {
	return syncer.SlideRecord{
		ID:            s.ID,
		RemoteFrameID: s.RemoteFrameID,
		RemoteFileID:  s.RemoteFileID,
		RemoteFileURL: s.RemoteFileURL,
		Name:          s.Name,
		ContentHash:   s.ContentHash,
		LastSyncedAt:  s.LastSyncedAt,
	}
}

// Records converts slides to engine records.
func Records(slides []*Slide) []syncer.SlideRecord {
	out := make([]syncer.SlideRecord, len(slides))
	for i, s := range slides {
		out[i] = s.Record()
	}
	return out
}

// slideRow maps the slides table.
type slideRow struct {
	ID            string       `db:"id"`
	Name          string       `db:"name"`
	Position      int          `db:"position"`
	RemoteFileID  string       `db:"remote_file_id"`
	RemoteFrameID string       `db:"remote_frame_id"`
	RemoteFileURL string       `db:"remote_file_url"`
	ContentHash   string       `db:"content_hash"`
	LastSyncedAt  sql.NullTime `db:"last_synced_at"`
	ImageKey      string       `db:"image_key"`
	ContentType   string       `db:"content_type"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func toRow(s *Slide) slideRow {
	return slideRow{
		ID:            s.ID,
		Name:          s.Name,
		Position:      s.Position,
		RemoteFileID:  s.RemoteFileID,
		RemoteFrameID: s.RemoteFrameID,
		RemoteFileURL: s.RemoteFileURL,
		ContentHash:   s.ContentHash,
		LastSyncedAt:  sql.NullTime{Time: s.LastSyncedAt.UTC(), Valid: !s.LastSyncedAt.IsZero()},
		ImageKey:      s.ImageKey,
		ContentType:   s.ContentType,
		CreatedAt:     s.CreatedAt.UTC(),
		UpdatedAt:     s.UpdatedAt.UTC(),
	}
}

func (r *slideRow) slide() *Slide {
	s := &Slide{
		ID:            r.ID,
		Name:          r.Name,
		Position:      r.Position,
		RemoteFileID:  r.RemoteFileID,
		RemoteFrameID: r.RemoteFrameID,
		RemoteFileURL: r.RemoteFileURL,
		ContentHash:   r.ContentHash,
		ImageKey:      r.ImageKey,
		ContentType:   r.ContentType,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.LastSyncedAt.Valid {
		s.LastSyncedAt = r.LastSyncedAt.Time
	}
	return s
}

const selectColumns = `SELECT id, name, position, remote_file_id, remote_frame_id, remote_file_url,
	content_hash, last_synced_at, image_key, content_type, created_at, updated_at FROM slides`

const nextPositionExpr = `(SELECT COALESCE(MAX(position), 0) + 1 FROM slides)`

// Store is the SQLite slide store.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at path and migrates it to the latest
// schema. path may be ":memory:".
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrations.Up(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create inserts a new slide. A zero Position appends the slide at the end.
// It returns apperr.ErrConflict when the slide's ID or remote frame is taken.
func (s *Store) Create(ctx context.Context, slide *Slide) error {
	if slide.ID == "" {
		return fmt.Errorf("%w: slide id is required", apperr.ErrInvalidInput)
	}

	if slide.Position == 0 {
		pos, err := s.NextPosition(ctx)
		if err != nil {
			return err
		}
		slide.Position = pos
	}

	row := toRow(slide)
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO slides (id, name, position, remote_file_id, remote_frame_id,
		remote_file_url, content_hash, last_synced_at, image_key, content_type, created_at, updated_at)
		VALUES (:id, :name, :position, :remote_file_id, :remote_frame_id, :remote_file_url, :content_hash,
		:last_synced_at, :image_key, :content_type, :created_at, :updated_at)`, row)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create slide %s: %w", slide.ID, apperr.ErrConflict)
		}
		return fmt.Errorf("create slide %s: %w", slide.ID, err)
	}
	return nil
}

// Get returns the slide with the given ID or apperr.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Slide, error) {
	var row slideRow
	if err := s.db.GetContext(ctx, &row, selectColumns+` WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("slide %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("get slide %s: %w", id, err)
	}
	return row.slide(), nil
}

// List returns every slide in presentation order.
func (s *Store) List(ctx context.Context) ([]*Slide, error) {
	return s.selectSlides(ctx, selectColumns+` ORDER BY position, created_at`)
}

// ListByFile returns the slides linked to frames of fileKey in presentation order.
func (s *Store) ListByFile(ctx context.Context, fileKey string) ([]*Slide, error) {
	return s.selectSlides(ctx, selectColumns+` WHERE remote_file_id = ? AND remote_frame_id <> '' ORDER BY position, created_at`, fileKey)
}

// LinkedFiles returns the distinct file keys that have at least one linked slide.
func (s *Store) LinkedFiles(ctx context.Context) ([]string, error) {
	keys := []string{}
	if err := s.db.SelectContext(ctx, &keys, `SELECT DISTINCT remote_file_id FROM slides
		WHERE remote_file_id <> '' AND remote_frame_id <> '' ORDER BY remote_file_id`); err != nil {
		return nil, fmt.Errorf("list linked files: %w", err)
	}
	return keys, nil
}

// FindByFrame returns the slide linked to the given frame or apperr.ErrNotFound.
func (s *Store) FindByFrame(ctx context.Context, fileKey, frameID string) (*Slide, error) {
	var row slideRow
	err := s.db.GetContext(ctx, &row, selectColumns+` WHERE remote_file_id = ? AND remote_frame_id = ?`, fileKey, frameID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("frame %s of %s: %w", frameID, fileKey, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("find slide by frame %s: %w", frameID, err)
	}
	return row.slide(), nil
}

// UpsertRemote writes linked slides in one transaction. A slide whose frame
// is already stored updates that row and keeps its ID, position and creation
// time; any other slide is appended. Every element of slides is refreshed
// with the stored row.
func (s *Store) UpsertRemote(ctx context.Context, slides []*Slide) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	for _, slide := range slides {
		if !slide.Linked() {
			return fmt.Errorf("%w: slide %q is not linked to a frame", apperr.ErrInvalidInput, slide.Name)
		}
		if slide.ID == "" {
			return fmt.Errorf("%w: slide id is required", apperr.ErrInvalidInput)
		}

		row := toRow(slide)
		_, err := tx.NamedExecContext(ctx, `INSERT INTO slides (id, name, position, remote_file_id, remote_frame_id,
			remote_file_url, content_hash, last_synced_at, image_key, content_type, created_at, updated_at)
			VALUES (:id, :name, `+nextPositionExpr+`, :remote_file_id, :remote_frame_id, :remote_file_url,
			:content_hash, :last_synced_at, :image_key, :content_type, :created_at, :updated_at)
			ON CONFLICT (remote_file_id, remote_frame_id) WHERE remote_frame_id <> '' DO UPDATE SET
				name = excluded.name,
				remote_file_url = excluded.remote_file_url,
				content_hash = excluded.content_hash,
				last_synced_at = excluded.last_synced_at,
				image_key = excluded.image_key,
				content_type = excluded.content_type,
				updated_at = excluded.updated_at`, row)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("upsert slide %s: %w", slide.ID, apperr.ErrConflict)
			}
			return fmt.Errorf("upsert slide %s: %w", slide.ID, err)
		}

		var stored slideRow
		if err := tx.GetContext(ctx, &stored, selectColumns+` WHERE remote_file_id = ? AND remote_frame_id = ?`,
			slide.RemoteFileID, slide.RemoteFrameID); err != nil {
			return fmt.Errorf("reload slide %s: %w", slide.ID, err)
		}
		*slide = *stored.slide()
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// Delete removes the slide with the given ID or returns apperr.ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM slides WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete slide %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete slide %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("slide %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// NextPosition returns the position after the last slide.
func (s *Store) NextPosition(ctx context.Context) (int, error) {
	var pos int
	if err := s.db.GetContext(ctx, &pos, `SELECT `+nextPositionExpr); err != nil {
		return 0, fmt.Errorf("next position: %w", err)
	}
	return pos, nil
}

func (s *Store) selectSlides(ctx context.Context, query string, args ...any) ([]*Slide, error) {
	var rows []slideRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list slides: %w", err)
	}
	out := make([]*Slide, len(rows))
	for i := range rows {
		out[i] = rows[i].slide()
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
