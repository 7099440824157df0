// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package session reads and writes the single-file SQLite session artifact
// that conversions produce.
// Implements: prd004-session (R1-R5);
//
//	docs/ARCHITECTURE § Session Store.
package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/nwb-convert/pkg/types"
)

// Ext is the conventional artifact file extension.
const Ext = ".nwb.db"

// Writer manages one open session artifact.
type Writer struct {
	db          *sql.DB
	path        string
	compression types.Compression
}

// Create opens the artifact at path, creating it if needed. With overwrite
// an existing file is removed first; without it, new series are appended to
// the existing artifact (R1.3). The compression codec applies to chunks
// written through this Writer.
func Create(path string, overwrite bool, compression types.Compression) (*Writer, error) {
	if overwrite {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing existing artifact %s: %w", path, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening artifact: %w", err)
	}

	w := &Writer{db: db, path: path, compression: compression}
	if err := w.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating artifact schema: %w", err)
	}
	return w, nil
}

// Close releases the database connection.
func (w *Writer) Close() error {
	return w.db.Close()
}

// Path returns the artifact file path.
func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS session (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			identifier TEXT NOT NULL,
			description TEXT,
			start_time TEXT,
			session_id TEXT,
			experimenter TEXT,
			lab TEXT,
			institution TEXT,
			notes TEXT,
			subject TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS devices (
			name TEXT PRIMARY KEY,
			description TEXT,
			manufacturer TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS electrode_groups (
			name TEXT PRIMARY KEY,
			description TEXT,
			location TEXT,
			device TEXT NOT NULL REFERENCES devices(name)
		)`,
		`CREATE TABLE IF NOT EXISTS electrode_columns (
			name TEXT PRIMARY KEY,
			description TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS electrodes (
			idx INTEGER PRIMARY KEY,
			group_name TEXT NOT NULL REFERENCES electrode_groups(name),
			location TEXT,
			properties TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS series (
			name TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			description TEXT,
			unit TEXT,
			rate REAL,
			conversion REAL,
			channels INTEGER NOT NULL,
			frames INTEGER NOT NULL DEFAULT 0,
			dtype TEXT NOT NULL,
			compression TEXT NOT NULL,
			chunk_frames INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			series TEXT NOT NULL REFERENCES series(name),
			chunk_index INTEGER NOT NULL,
			start_frame INTEGER NOT NULL,
			frames INTEGER NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (series, chunk_index)
		)`,
		`CREATE TABLE IF NOT EXISTS unit_columns (
			name TEXT PRIMARY KEY,
			description TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS units (
			id INTEGER PRIMARY KEY,
			spike_times TEXT NOT NULL,
			properties TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS roi_masks (
			segmentation TEXT NOT NULL,
			roi_id INTEGER NOT NULL,
			height INTEGER NOT NULL,
			width INTEGER NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (segmentation, roi_id)
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TEXT NOT NULL,
			tool TEXT NOT NULL,
			interface TEXT NOT NULL,
			source TEXT,
			stub INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := w.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// SetSession writes the single session row (R2.1). A second call replaces
// the previous values, which is what append-mode conversions expect.
func (w *Writer) SetSession(meta types.SessionMetadata, subject *types.SubjectMetadata) error {
	experimenter, _ := json.Marshal(meta.Experimenter)
	subjectJSON := []byte("null")
	if subject != nil {
		subjectJSON, _ = json.Marshal(subject)
	}
	startTime := ""
	if !meta.StartTime.IsZero() {
		startTime = meta.StartTime.UTC().Format(time.RFC3339Nano)
	}

	_, err := w.db.Exec(
		`INSERT INTO session (id, identifier, description, start_time, session_id,
			experimenter, lab, institution, notes, subject)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			identifier=excluded.identifier, description=excluded.description,
			start_time=excluded.start_time, session_id=excluded.session_id,
			experimenter=excluded.experimenter, lab=excluded.lab,
			institution=excluded.institution, notes=excluded.notes,
			subject=excluded.subject`,
		meta.Identifier, meta.Description, startTime, meta.SessionID,
		string(experimenter), meta.Lab, meta.Institution, meta.Notes, string(subjectJSON),
	)
	if err != nil {
		return fmt.Errorf("writing session row: %w", err)
	}
	return nil
}

// AddDevice upserts a device record.
func (w *Writer) AddDevice(d types.Device) error {
	_, err := w.db.Exec(
		`INSERT INTO devices (name, description, manufacturer) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			description=excluded.description, manufacturer=excluded.manufacturer`,
		d.Name, d.Description, d.Manufacturer,
	)
	if err != nil {
		return fmt.Errorf("upserting device %s: %w", d.Name, err)
	}
	return nil
}

// AddElectrodeGroup upserts an electrode group. When the referenced device
// does not exist yet it is auto-created and a warning is printed to warn,
// matching the permissive behavior labs rely on when metadata is partial
// (R2.3).
func (w *Writer) AddElectrodeGroup(g types.ElectrodeGroup, warn io.Writer) error {
	device := g.Device
	if device == "" {
		device = "Device"
	}

	var exists int
	err := w.db.QueryRow(`SELECT count(*) FROM devices WHERE name = ?`, device).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking device %s: %w", device, err)
	}
	if exists == 0 {
		fmt.Fprintf(warn, "warning: device %q not found for electrode group %q, creating it\n",
			device, g.Name)
		if err := w.AddDevice(types.Device{Name: device}); err != nil {
			return err
		}
	}

	_, err = w.db.Exec(
		`INSERT INTO electrode_groups (name, description, location, device) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			description=excluded.description, location=excluded.location, device=excluded.device`,
		g.Name, g.Description, g.Location, device,
	)
	if err != nil {
		return fmt.Errorf("upserting electrode group %s: %w", g.Name, err)
	}
	return nil
}

// AddElectrodes writes electrode rows and the descriptions of any custom
// property columns they carry (R2.4).
func (w *Writer) AddElectrodes(rows []types.Electrode, columns []types.ElectrodeColumn) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, col := range columns {
		if _, err := tx.Exec(
			`INSERT INTO electrode_columns (name, description) VALUES (?, ?)
			 ON CONFLICT(name) DO UPDATE SET description=excluded.description`,
			col.Name, col.Description,
		); err != nil {
			return fmt.Errorf("upserting electrode column %s: %w", col.Name, err)
		}
	}

	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO electrodes (idx, group_name, location, properties)
		 VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing electrode insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		props, _ := json.Marshal(row.Properties)
		if _, err := stmt.Exec(row.Index, row.Group, row.Location, string(props)); err != nil {
			return fmt.Errorf("inserting electrode %d: %w", row.Index, err)
		}
	}
	return tx.Commit()
}

// CreateSeries registers a new signal series. Writing a series that
// already exists in the artifact is an error; use overwrite mode to
// replace a whole artifact (R3.2).
func (w *Writer) CreateSeries(spec types.SeriesSpec, channels int, dtype string, plan Plan) error {
	conversion := spec.Conversion
	if conversion == 0 {
		conversion = 1.0
	}
	_, err := w.db.Exec(
		`INSERT INTO series (name, kind, description, unit, rate, conversion,
			channels, frames, dtype, compression, chunk_frames)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		spec.Name, string(spec.Kind), spec.Description, spec.Unit, spec.Rate,
		conversion, channels, dtype, string(w.compression), plan.ChunkFrames,
	)
	if err != nil {
		return fmt.Errorf("creating series %q (already converted?): %w", spec.Name, err)
	}
	return nil
}

// AppendChunk compresses and stores one chunk of a series and advances the
// series frame count. Chunks must arrive in order (R3.3).
func (w *Writer) AppendChunk(series string, chunkIndex, startFrame, frames int, raw []byte) error {
	stored, err := encodeChunk(w.compression, raw)
	if err != nil {
		return err
	}

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO chunks (series, chunk_index, start_frame, frames, data) VALUES (?, ?, ?, ?, ?)`,
		series, chunkIndex, startFrame, frames, stored,
	); err != nil {
		return fmt.Errorf("inserting chunk %d of %s: %w", chunkIndex, series, err)
	}
	if _, err := tx.Exec(
		`UPDATE series SET frames = frames + ? WHERE name = ?`, frames, series,
	); err != nil {
		return fmt.Errorf("updating frame count of %s: %w", series, err)
	}
	return tx.Commit()
}

// AddUnits writes sorted spiking units and their property column
// descriptions (R2.5). Unit IDs already present are replaced.
func (w *Writer) AddUnits(units []types.Unit, columns []types.UnitColumn) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, col := range columns {
		if _, err := tx.Exec(
			`INSERT INTO unit_columns (name, description) VALUES (?, ?)
			 ON CONFLICT(name) DO UPDATE SET description=excluded.description`,
			col.Name, col.Description,
		); err != nil {
			return fmt.Errorf("upserting unit column %s: %w", col.Name, err)
		}
	}

	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO units (id, spike_times, properties) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing unit insert: %w", err)
	}
	defer stmt.Close()

	for _, u := range units {
		times, _ := json.Marshal(u.SpikeTimes)
		props, _ := json.Marshal(u.Properties)
		if _, err := stmt.Exec(u.ID, string(times), string(props)); err != nil {
			return fmt.Errorf("inserting unit %d: %w", u.ID, err)
		}
	}
	return tx.Commit()
}

// AddROIMasks writes segmentation masks under the named plane segmentation
// (R2.6). Mask pixel data is stored uncompressed as little-endian float32.
func (w *Writer) AddROIMasks(segmentation string, masks []types.ROIMask) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO roi_masks (segmentation, roi_id, height, width, data)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing mask insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range masks {
		if len(m.Data) != m.Height*m.Width {
			return fmt.Errorf("mask %d: %d pixels for %dx%d shape",
				m.ID, len(m.Data), m.Height, m.Width)
		}
		if _, err := stmt.Exec(segmentation, m.ID, m.Height, m.Width, float32Bytes(m.Data)); err != nil {
			return fmt.Errorf("inserting mask %d: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// RunRecord is one provenance row describing a conversion run (R5.1).
type RunRecord struct {
	Tool      string
	Interface string
	Source    map[string]any
	Stub      bool
	Status    types.ConversionStatus
}

// RecordRun appends a provenance row.
func (w *Writer) RecordRun(r RunRecord) error {
	source, _ := json.Marshal(r.Source)
	_, err := w.db.Exec(
		`INSERT INTO runs (created_at, tool, interface, source, stub, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		r.Tool, r.Interface, string(source), boolInt(r.Stub), string(r.Status),
	)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
