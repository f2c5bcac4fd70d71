// Package catalog tracks which content points exist and which branches can
// see them. Visibility is row flips in SQLite; embeddings and vectors are
// never touched when a branch gains or loses sight of a point.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/shirabe/internal/models"
)

// Catalog is the SQLite-backed bookkeeping layer of a collection.
type Catalog struct {
	db *sql.DB
}

// Open opens or creates the catalog database at dbPath and initializes the
// schema. Parent directories are created if they do not exist.
func Open(dbPath string) (*Catalog, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Catalog{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS points (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		content_id TEXT NOT NULL,
		start_byte INTEGER NOT NULL,
		end_byte INTEGER NOT NULL,
		start_line INTEGER NOT NULL DEFAULT 0,
		end_line INTEGER NOT NULL DEFAULT 0,
		language TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_points_path ON points(path);
	CREATE INDEX IF NOT EXISTS idx_points_file ON points(path, content_id);

	CREATE TABLE IF NOT EXISTS point_branches (
		point_id TEXT NOT NULL,
		branch TEXT NOT NULL,
		hidden INTEGER NOT NULL DEFAULT 0,
		origin TEXT NOT NULL DEFAULT 'committed',
		PRIMARY KEY (point_id, branch),
		FOREIGN KEY (point_id) REFERENCES points(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_point_branches_branch ON point_branches(branch, hidden);

	CREATE TABLE IF NOT EXISTS files (
		path TEXT NOT NULL,
		branch TEXT NOT NULL,
		origin TEXT NOT NULL DEFAULT 'committed',
		content_id TEXT NOT NULL,
		indexed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (path, branch, origin)
	);

	CREATE INDEX IF NOT EXISTS idx_files_branch ON files(branch, origin);
	`
	_, err := db.Exec(schema)
	return err
}

// UpsertPoints records point rows. Existing rows are left alone: points are
// immutable, so a second insert carries nothing new.
func (c *Catalog) UpsertPoints(ctx context.Context, points []*models.ContentPoint) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO points (id, path, content_id, start_byte, end_byte, start_line, end_line, language)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx,
			p.ID, p.Path, p.ContentID, p.StartByte, p.EndByte, p.StartLine, p.EndLine, p.Language,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PointsByIDs returns point metadata for the given ids, without vectors.
// Missing ids are silently skipped.
func (c *Catalog) PointsByIDs(ctx context.Context, ids []string) ([]*models.ContentPoint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, path, content_id, start_byte, end_byte, start_line, end_line, language
		 FROM points WHERE id IN (`+placeholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []*models.ContentPoint
	for rows.Next() {
		p := &models.ContentPoint{}
		if err := rows.Scan(&p.ID, &p.Path, &p.ContentID, &p.StartByte, &p.EndByte,
			&p.StartLine, &p.EndLine, &p.Language); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// HasFileVersion reports whether any points exist for the (path, contentID)
// pair. Used for the dedup check before re-embedding.
func (c *Catalog) HasFileVersion(ctx context.Context, path, contentID string) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM points WHERE path = ? AND content_id = ?`,
		path, contentID,
	).Scan(&n)
	return n > 0, err
}

// SetFileVisible makes every point of (path, contentID) visible on branch,
// flipping hidden rows back where they exist. Returns the number of points
// affected.
func (c *Catalog) SetFileVisible(ctx context.Context, path, contentID, branch string, origin models.Origin) (int, error) {
	res, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO point_branches (point_id, branch, hidden, origin)
		 SELECT id, ?, 0, ? FROM points WHERE path = ? AND content_id = ?`,
		branch, string(origin), path, contentID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to set %s visible on %s: %w", path, branch, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SetPointsVisible makes the given points visible on branch.
func (c *Catalog) SetPointsVisible(ctx context.Context, ids []string, branch string, origin models.Origin) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO point_branches (point_id, branch, hidden, origin)
		 VALUES (?, ?, 0, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id, branch, string(origin)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// HideFile occludes every point of path on branch, regardless of version or
// origin. Returns the number of rows flipped.
func (c *Catalog) HideFile(ctx context.Context, path, branch string) (int, error) {
	res, err := c.db.ExecContext(ctx,
		`UPDATE point_branches SET hidden = 1
		 WHERE branch = ? AND hidden = 0
		   AND point_id IN (SELECT id FROM points WHERE path = ?)`,
		branch, path,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to hide %s on %s: %w", path, branch, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// HideFileOrigin occludes the points of path on branch that were made visible
// with the given origin. A staged or unstaged override hides only the
// committed rows it shadows; the committed version resurfaces when the
// override is dropped.
func (c *Catalog) HideFileOrigin(ctx context.Context, path, branch string, origin models.Origin) (int, error) {
	res, err := c.db.ExecContext(ctx,
		`UPDATE point_branches SET hidden = 1
		 WHERE branch = ? AND hidden = 0 AND origin = ?
		   AND point_id IN (SELECT id FROM points WHERE path = ?)`,
		branch, string(origin), path,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to hide %s (%s) on %s: %w", path, origin, branch, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DropFileOrigin deletes the visibility rows of path on branch with the given
// origin. Unlike hiding, dropped rows leave the points prunable if nothing
// else sees them. Returns the number of rows removed.
func (c *Catalog) DropFileOrigin(ctx context.Context, path, branch string, origin models.Origin) (int, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM point_branches
		 WHERE branch = ? AND origin = ?
		   AND point_id IN (SELECT id FROM points WHERE path = ?)`,
		branch, string(origin), path,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to drop %s (%s) on %s: %w", path, origin, branch, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// LiveIDs returns every point visible on at least one branch. This is the
// set the approximate index must cover.
func (c *Catalog) LiveIDs(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT DISTINCT point_id FROM point_branches WHERE hidden = 0`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FilterVisible returns the subset of ids visible from branch: points on the
// branch itself (any origin, so its own working-tree overrides count) plus
// committed points on ancestor branches.
func (c *Catalog) FilterVisible(ctx context.Context, ids []string, branch string, ancestors []string) (map[string]struct{}, error) {
	visible := make(map[string]struct{})
	if len(ids) == 0 {
		return visible, nil
	}

	args := make([]interface{}, 0, len(ids)+len(ancestors)+1)
	args = append(args, branch)
	query := `SELECT DISTINCT point_id FROM point_branches
		WHERE hidden = 0 AND (branch = ?`
	if len(ancestors) > 0 {
		query += ` OR (origin = 'committed' AND branch IN (` + placeholders(len(ancestors)) + `))`
		for _, a := range ancestors {
			args = append(args, a)
		}
	}
	query += `) AND point_id IN (` + placeholders(len(ids)) + `)`
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to filter visibility: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		visible[id] = struct{}{}
	}
	return visible, rows.Err()
}

// PrunableIDs returns points visible on none of the live branches. Their
// records and labels can be removed for good.
func (c *Catalog) PrunableIDs(ctx context.Context, liveBranches []string) ([]string, error) {
	query := `SELECT p.id FROM points p WHERE NOT EXISTS (
		SELECT 1 FROM point_branches pb
		WHERE pb.point_id = p.id AND pb.hidden = 0`
	args := []interface{}{}
	if len(liveBranches) > 0 {
		query += ` AND pb.branch IN (` + placeholders(len(liveBranches)) + `)`
		for _, b := range liveBranches {
			args = append(args, b)
		}
	}
	query += `)`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeletePoints removes points and their visibility rows.
func (c *Catalog) DeletePoints(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	del, err := tx.PrepareContext(ctx, `DELETE FROM points WHERE id = ?`)
	if err != nil {
		return err
	}
	defer del.Close()
	delVis, err := tx.PrepareContext(ctx, `DELETE FROM point_branches WHERE point_id = ?`)
	if err != nil {
		return err
	}
	defer delVis.Close()

	for _, id := range ids {
		if _, err := delVis.ExecContext(ctx, id); err != nil {
			return err
		}
		if _, err := del.ExecContext(ctx, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// FileVersion returns the content identity recorded for (path, branch,
// origin), or empty when none is recorded.
func (c *Catalog) FileVersion(ctx context.Context, path, branch string, origin models.Origin) (string, error) {
	var contentID string
	err := c.db.QueryRowContext(ctx,
		`SELECT content_id FROM files WHERE path = ? AND branch = ? AND origin = ?`,
		path, branch, string(origin),
	).Scan(&contentID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return contentID, err
}

// SetFileVersion records the content identity a branch currently sees for path.
func (c *Catalog) SetFileVersion(ctx context.Context, path, branch string, origin models.Origin, contentID string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO files (path, branch, origin, content_id) VALUES (?, ?, ?, ?)`,
		path, branch, string(origin), contentID,
	)
	return err
}

// ClearFileVersions removes recorded versions of path on branch for the
// given origins; with no origins, all rows for the path go.
func (c *Catalog) ClearFileVersions(ctx context.Context, path, branch string, origins ...models.Origin) error {
	if len(origins) == 0 {
		_, err := c.db.ExecContext(ctx,
			`DELETE FROM files WHERE path = ? AND branch = ?`, path, branch)
		return err
	}
	for _, o := range origins {
		if _, err := c.db.ExecContext(ctx,
			`DELETE FROM files WHERE path = ? AND branch = ? AND origin = ?`,
			path, branch, string(o)); err != nil {
			return err
		}
	}
	return nil
}

// CommittedFiles maps path to committed content identity for branch.
// Plain mode diffs the live tree against this map.
func (c *Catalog) CommittedFiles(ctx context.Context, branch string) (map[string]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT path, content_id FROM files WHERE branch = ? AND origin = 'committed'`,
		branch,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := make(map[string]string)
	for rows.Next() {
		var path, contentID string
		if err := rows.Scan(&path, &contentID); err != nil {
			return nil, err
		}
		files[path] = contentID
	}
	return files, rows.Err()
}

// FileOverride is one staged or unstaged version recorded on a branch.
type FileOverride struct {
	Path   string
	Origin models.Origin
}

// Overrides lists the working-tree overrides currently recorded on branch.
func (c *Catalog) Overrides(ctx context.Context, branch string) ([]FileOverride, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT path, origin FROM files WHERE branch = ? AND origin != 'committed'`,
		branch,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overrides []FileOverride
	for rows.Next() {
		var o FileOverride
		var origin string
		if err := rows.Scan(&o.Path, &origin); err != nil {
			return nil, err
		}
		o.Origin = models.Origin(origin)
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// CountPoints returns the total number of recorded points.
func (c *Catalog) CountPoints(ctx context.Context) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM points`).Scan(&n)
	return n, err
}

// CountVisible returns the number of points visible from branch.
func (c *Catalog) CountVisible(ctx context.Context, branch string, ancestors []string) (int64, error) {
	query := `SELECT COUNT(DISTINCT point_id) FROM point_branches
		WHERE hidden = 0 AND (branch = ?`
	args := []interface{}{branch}
	if len(ancestors) > 0 {
		query += ` OR (origin = 'committed' AND branch IN (` + placeholders(len(ancestors)) + `))`
		for _, a := range ancestors {
			args = append(args, a)
		}
	}
	query += `)`
	var n int64
	err := c.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
