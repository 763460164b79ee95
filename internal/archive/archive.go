// Package archive persists linking runs to a SQLite file so the phase and
// statistics stages can run without re-linking. Schema changes ship as
// embedded migrations and apply on open.
package archive

import (
	"database/sql"
	"embed"
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/sunspot-data/evolution.report/internal/contour"
	"github.com/sunspot-data/evolution.report/internal/geom"
	"github.com/sunspot-data/evolution.report/internal/monitoring"
	"github.com/sunspot-data/evolution.report/internal/segment"
	"github.com/sunspot-data/evolution.report/internal/timeutil"
	"github.com/sunspot-data/evolution.report/internal/tracking"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Archive is a handle to one track-archive file.
type Archive struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Run is one archived linking run.
type Run struct {
	ID        string
	CreatedAt time.Time
	Config    json.RawMessage
}

// Open opens (creating if needed) an archive file and applies pending
// migrations.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open archive")
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable foreign keys")
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Archive{db: db, clock: timeutil.RealClock{}}, nil
}

// SetClock overrides the clock used to stamp new runs. Tests use this to
// get deterministic created_at values.
func (a *Archive) SetClock(c timeutil.Clock) {
	a.clock = c
}

// Close releases the underlying database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errors.Wrap(err, "load embedded migrations")
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return errors.Wrap(err, "create sqlite migrate driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return errors.Wrap(err, "create migrate instance")
	}
	// Not closed: closing would also close the shared DB connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}

// SaveRun writes a complete linking result as a new run and returns its id.
// The tuning config is stored alongside so later stages can reproduce the
// run's parameters.
func (a *Archive) SaveRun(cfg json.RawMessage, result *tracking.LinkResult) (string, error) {
	runID := uuid.NewString()
	if len(cfg) == 0 {
		cfg = json.RawMessage("{}")
	}

	tx, err := a.db.Begin()
	if err != nil {
		return "", errors.Wrap(err, "begin save")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT INTO runs (id, created_at, config) VALUES (?, ?, ?)",
		runID, a.clock.Now().UnixNano(), string(cfg),
	); err != nil {
		return "", errors.Wrap(err, "insert run")
	}

	trackStmt, err := tx.Prepare(`INSERT INTO tracks
		(run_id, track_id, class, first_frame, last_frame, record_count, parent_ids, child_ids, outer_track_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", errors.Wrap(err, "prepare track insert")
	}
	defer trackStmt.Close()

	contourStmt, err := tx.Prepare(`INSERT INTO contours
		(run_id, track_id, frame, timestamp, class, polygon, measurements,
		 centroid_x, centroid_y, area, perimeter)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", errors.Wrap(err, "prepare contour insert")
	}
	defer contourStmt.Close()

	insertContour := func(trackID interface{}, r *contour.Record) error {
		poly, err := json.Marshal(r.Polygon)
		if err != nil {
			return errors.Wrap(err, "marshal polygon")
		}
		meas, err := json.Marshal(r.Measurements)
		if err != nil {
			return errors.Wrap(err, "marshal measurements")
		}
		_, err = contourStmt.Exec(
			runID, trackID, r.FrameIndex, r.Timestamp.UnixNano(), string(r.Class),
			string(poly), string(meas),
			r.Centroid.X, r.Centroid.Y, r.Area, r.Perimeter,
		)
		return errors.Wrap(err, "insert contour")
	}

	for _, id := range sortedTrackIDs(result.Tracks) {
		t := result.Tracks[id]
		first, last := t.FrameSpan()
		parents, _ := json.Marshal(idsOrEmpty(t.ParentIDs))
		children, _ := json.Marshal(idsOrEmpty(t.ChildIDs))
		var outer sql.NullInt64
		if oid, ok := result.NestedOuter[id]; ok {
			outer = sql.NullInt64{Int64: oid, Valid: true}
		}
		if _, err := trackStmt.Exec(
			runID, id, string(t.Class), first, last, t.Len(),
			string(parents), string(children), outer,
		); err != nil {
			return "", errors.Wrapf(err, "insert track %d", id)
		}
		for _, r := range t.Records() {
			if err := insertContour(id, r); err != nil {
				return "", errors.Wrapf(err, "track %d", id)
			}
		}
	}
	for _, r := range result.Unlinked {
		if err := insertContour(nil, r); err != nil {
			return "", errors.Wrap(err, "unlinked record")
		}
	}

	eventStmt, err := tx.Prepare(`INSERT INTO lineage_events
		(run_id, seq, kind, frame, parents, children) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", errors.Wrap(err, "prepare event insert")
	}
	defer eventStmt.Close()

	for seq, ev := range result.Events {
		parents, _ := json.Marshal(idsOrEmpty(ev.Parents))
		children, _ := json.Marshal(idsOrEmpty(ev.Children))
		if _, err := eventStmt.Exec(
			runID, seq, string(ev.Kind), ev.FrameIndex, string(parents), string(children),
		); err != nil {
			return "", errors.Wrapf(err, "insert event %d", seq)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", errors.Wrap(err, "commit save")
	}
	monitoring.Logf("archive: saved run %s (%d tracks, %d events, %d unlinked)",
		runID, len(result.Tracks), len(result.Events), len(result.Unlinked))
	return runID, nil
}

// LoadRun rebuilds the full linking result of an archived run.
func (a *Archive) LoadRun(runID string) (*tracking.LinkResult, error) {
	result := &tracking.LinkResult{
		Tracks:      make(map[int64]*tracking.Track),
		NestedOuter: make(map[int64]int64),
	}

	type trackMeta struct {
		parents, children []int64
	}
	meta := make(map[int64]trackMeta)

	rows, err := a.db.Query(
		"SELECT track_id, parent_ids, child_ids, outer_track_id FROM tracks WHERE run_id = ? ORDER BY track_id", runID)
	if err != nil {
		return nil, errors.Wrap(err, "query tracks")
	}
	for rows.Next() {
		var id int64
		var parentsJSON, childrenJSON string
		var outer sql.NullInt64
		if err := rows.Scan(&id, &parentsJSON, &childrenJSON, &outer); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan track")
		}
		if outer.Valid {
			result.NestedOuter[id] = outer.Int64
		}
		var m trackMeta
		if err := json.Unmarshal([]byte(parentsJSON), &m.parents); err != nil {
			rows.Close()
			return nil, errors.Wrapf(err, "track %d parent ids", id)
		}
		if err := json.Unmarshal([]byte(childrenJSON), &m.children); err != nil {
			rows.Close()
			return nil, errors.Wrapf(err, "track %d child ids", id)
		}
		meta[id] = m
	}
	if err := rows.Close(); err != nil {
		return nil, errors.Wrap(err, "read tracks")
	}

	records := make(map[int64][]*contour.Record)
	crows, err := a.db.Query(`SELECT track_id, frame, timestamp, class, polygon, measurements
		FROM contours WHERE run_id = ? ORDER BY track_id, frame`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "query contours")
	}
	for crows.Next() {
		var trackID sql.NullInt64
		var frame int
		var ts int64
		var class, polyJSON, measJSON string
		if err := crows.Scan(&trackID, &frame, &ts, &class, &polyJSON, &measJSON); err != nil {
			crows.Close()
			return nil, errors.Wrap(err, "scan contour")
		}
		var poly geom.Polygon
		if err := json.Unmarshal([]byte(polyJSON), &poly); err != nil {
			crows.Close()
			return nil, errors.Wrapf(err, "polygon at frame %d", frame)
		}
		var meas map[string]float64
		if err := json.Unmarshal([]byte(measJSON), &meas); err != nil {
			crows.Close()
			return nil, errors.Wrapf(err, "measurements at frame %d", frame)
		}
		rec, err := contour.NewRecord(frame, time.Unix(0, ts).UTC(), contour.FeatureClass(class), poly, meas)
		if err != nil {
			crows.Close()
			return nil, errors.Wrapf(err, "rebuild contour at frame %d", frame)
		}
		if trackID.Valid {
			records[trackID.Int64] = append(records[trackID.Int64], rec)
		} else {
			result.Unlinked = append(result.Unlinked, rec)
		}
	}
	if err := crows.Close(); err != nil {
		return nil, errors.Wrap(err, "read contours")
	}

	for id, m := range meta {
		t, err := tracking.RestoreTrack(id, m.parents, m.children, records[id])
		if err != nil {
			return nil, errors.Wrap(err, "restore track")
		}
		result.Tracks[id] = t
	}

	erows, err := a.db.Query(
		"SELECT kind, frame, parents, children FROM lineage_events WHERE run_id = ? ORDER BY seq", runID)
	if err != nil {
		return nil, errors.Wrap(err, "query events")
	}
	for erows.Next() {
		var kind string
		var frame int
		var parentsJSON, childrenJSON string
		if err := erows.Scan(&kind, &frame, &parentsJSON, &childrenJSON); err != nil {
			erows.Close()
			return nil, errors.Wrap(err, "scan event")
		}
		ev := tracking.Event{Kind: tracking.EventKind(kind), FrameIndex: frame}
		if err := json.Unmarshal([]byte(parentsJSON), &ev.Parents); err != nil {
			erows.Close()
			return nil, errors.Wrap(err, "event parent ids")
		}
		if err := json.Unmarshal([]byte(childrenJSON), &ev.Children); err != nil {
			erows.Close()
			return nil, errors.Wrap(err, "event child ids")
		}
		result.Events = append(result.Events, ev)
	}
	if err := erows.Close(); err != nil {
		return nil, errors.Wrap(err, "read events")
	}

	return result, nil
}

// ListRuns returns the archived runs, newest first.
func (a *Archive) ListRuns() ([]Run, error) {
	rows, err := a.db.Query("SELECT id, created_at, config FROM runs ORDER BY created_at DESC")
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var createdAt int64
		var cfg string
		if err := rows.Scan(&r.ID, &createdAt, &cfg); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		r.Config = json.RawMessage(cfg)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recently created run id.
func (a *Archive) LatestRun() (string, error) {
	var id string
	err := a.db.QueryRow("SELECT id FROM runs ORDER BY created_at DESC LIMIT 1").Scan(&id)
	if err != nil {
		return "", errors.Wrap(err, "no runs in archive")
	}
	return id, nil
}

// SavePhases replaces the phase rows of one (track, quantity) pair.
func (a *Archive) SavePhases(runID string, trackID int64, quantity string, phases []segment.Phase) error {
	tx, err := a.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin phase save")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"DELETE FROM phases WHERE run_id = ? AND track_id = ? AND quantity = ?",
		runID, trackID, quantity,
	); err != nil {
		return errors.Wrap(err, "clear phases")
	}

	stmt, err := tx.Prepare(`INSERT INTO phases
		(run_id, track_id, quantity, phase_index, label, start_index, end_index,
		 slope, intercept, relative_slope, ssr)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare phase insert")
	}
	defer stmt.Close()

	for i, p := range phases {
		var rel interface{}
		if !math.IsNaN(p.RelativeSlope) {
			rel = p.RelativeSlope
		}
		if _, err := stmt.Exec(
			runID, trackID, quantity, i, string(p.Label), p.StartIndex, p.EndIndex,
			p.Slope, p.Intercept, rel, p.SSR,
		); err != nil {
			return errors.Wrapf(err, "insert phase %d of track %d", i, trackID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit phase save")
}

// LoadPhases returns the phase rows of a run for one quantity, keyed by
// track id and ordered by phase index.
func (a *Archive) LoadPhases(runID, quantity string) (map[int64][]segment.Phase, error) {
	rows, err := a.db.Query(`SELECT track_id, label, start_index, end_index,
		slope, intercept, relative_slope, ssr
		FROM phases WHERE run_id = ? AND quantity = ?
		ORDER BY track_id, phase_index`, runID, quantity)
	if err != nil {
		return nil, errors.Wrap(err, "query phases")
	}
	defer rows.Close()

	out := make(map[int64][]segment.Phase)
	for rows.Next() {
		var trackID int64
		var label string
		var p segment.Phase
		var rel sql.NullFloat64
		if err := rows.Scan(&trackID, &label, &p.StartIndex, &p.EndIndex,
			&p.Slope, &p.Intercept, &rel, &p.SSR); err != nil {
			return nil, errors.Wrap(err, "scan phase")
		}
		p.Label = segment.Label(label)
		if rel.Valid {
			p.RelativeSlope = rel.Float64
		} else {
			p.RelativeSlope = math.NaN()
		}
		out[trackID] = append(out[trackID], p)
	}
	return out, rows.Err()
}

func sortedTrackIDs(m map[int64]*tracking.Track) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func idsOrEmpty(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
