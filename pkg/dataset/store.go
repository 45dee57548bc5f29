// Package dataset persists localization datasets in SQLite and reads and
// writes their metadata as YAML.
package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"particlealign/internal/models"
)

// GeneratedBy is the info entry appended to every saved dataset.
const GeneratedBy = "particlealign"

// ErrNotFound is returned when no dataset has the requested name.
var ErrNotFound = errors.New("dataset not found")

const schema = `
CREATE TABLE IF NOT EXISTS datasets (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	has_z      INTEGER NOT NULL,
	has_group  INTEGER NOT NULL,
	info       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS localizations (
	dataset_id TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
	idx        INTEGER NOT NULL,
	x          REAL NOT NULL,
	y          REAL NOT NULL,
	z          REAL NOT NULL,
	grp        INTEGER NOT NULL,
	PRIMARY KEY (dataset_id, idx)
);`

// Summary describes a stored dataset without its localizations.
type Summary struct {
	ID        string
	Name      string
	HasZ      bool
	HasGroup  bool
	Points    int
	CreatedAt time.Time
}

// SaveOptions controls how an aligned dataset is written.
type SaveOptions struct {
	// MergeGroups stores every point as part of a single particle
	MergeGroups bool
}

// Store is a SQLite database of localization datasets.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// one connection keeps the per-connection pragmas in force
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes ds under name, replacing any dataset of the same name.
// Coordinates are moved from the particle-centered frame back into the
// camera frame using the Width and Height of the first info block, and a
// GeneratedBy info block is appended. It returns the new dataset id.
func (s *Store) Save(ctx context.Context, name string, ds *models.Dataset, opts SaveOptions) (string, error) {
	infos := append(append([]models.Info(nil), ds.Info...), models.Info{"Generated by": GeneratedBy})
	width, height := ds.FrameSize()
	offset := [2]float32{float32(width / 2), float32(height / 2)}
	return s.write(ctx, name, ds, infos, offset, opts.MergeGroups)
}

// Import stores a CSV localization table under name, replacing any
// dataset of the same name. Coordinates are kept in the camera frame as
// read. When infoPath is set its YAML blocks become the dataset metadata.
func (s *Store) Import(ctx context.Context, name string, locs io.Reader, infoPath string) (string, error) {
	ds, err := ReadLocalizations(locs)
	if err != nil {
		return "", fmt.Errorf("import %s: %w", name, err)
	}
	if infoPath != "" {
		if ds.Info, err = ReadInfo(infoPath); err != nil {
			return "", fmt.Errorf("import %s: %w", name, err)
		}
	}
	return s.write(ctx, name, ds, ds.Info, [2]float32{}, false)
}

// write replaces the dataset stored under name in a single transaction.
// offset is added to every lateral coordinate.
func (s *Store) write(ctx context.Context, name string, ds *models.Dataset, infos []models.Info, offset [2]float32, mergeGroups bool) (string, error) {
	if infos == nil {
		infos = []models.Info{}
	}
	infoYAML, err := yaml.Marshal(infos)
	if err != nil {
		return "", fmt.Errorf("encode info: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM localizations WHERE dataset_id IN (SELECT id FROM datasets WHERE name = ?)`, name); err != nil {
		return "", fmt.Errorf("replace %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM datasets WHERE name = ?`, name); err != nil {
		return "", fmt.Errorf("replace %s: %w", name, err)
	}

	id := uuid.New().String()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO datasets (id, name, has_z, has_group, info, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, flag(ds.HasZ), flag(!mergeGroups), string(infoYAML), time.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("insert dataset %s: %w", name, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO localizations (dataset_id, idx, x, y, z, grp) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, l := range ds.Locs {
		group := l.Group
		if mergeGroups {
			group = 0
		}
		_, err := stmt.ExecContext(ctx, id, int64(i),
			float64(l.X+offset[0]), float64(l.Y+offset[1]), float64(l.Z), int64(group))
		if err != nil {
			return "", fmt.Errorf("insert localization %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

func flag(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Load reads the dataset stored under name.
func (s *Store) Load(ctx context.Context, name string) (*models.Dataset, error) {
	var (
		id       string
		hasZ     bool
		infoYAML string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, has_z, info FROM datasets WHERE name = ?`, name).Scan(&id, &hasZ, &infoYAML)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}

	ds := &models.Dataset{HasZ: hasZ}
	if err := yaml.Unmarshal([]byte(infoYAML), &ds.Info); err != nil {
		return nil, fmt.Errorf("decode info of %s: %w", name, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT x, y, z, grp FROM localizations WHERE dataset_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("load localizations of %s: %w", name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var l models.Localization
		if err := rows.Scan(&l.X, &l.Y, &l.Z, &l.Group); err != nil {
			return nil, fmt.Errorf("scan localization: %w", err)
		}
		ds.Locs = append(ds.Locs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate localizations of %s: %w", name, err)
	}
	return ds, nil
}

// List returns every stored dataset, oldest first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.name, d.has_z, d.has_group, d.created_at,
		       (SELECT COUNT(*) FROM localizations l WHERE l.dataset_id = d.id)
		FROM datasets d
		ORDER BY d.created_at, d.name`)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum     Summary
			created int64
		)
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.HasZ, &sum.HasGroup, &created, &sum.Points); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		sum.CreatedAt = time.Unix(0, created)
		out = append(out, sum)
	}
	return out, rows.Err()
}
