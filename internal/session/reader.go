// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package session

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/nwb-convert/pkg/types"
)

// Reader provides read access to an existing session artifact.
type Reader struct {
	db   *sql.DB
	path string
}

// Open opens an existing artifact for reading.
func Open(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening artifact: %w", err)
	}
	return &Reader{db: db, path: path}, nil
}

// Close releases the database connection.
func (r *Reader) Close() error {
	return r.db.Close()
}

// SeriesInfo summarizes one stored series.
type SeriesInfo struct {
	Name        string            `json:"name" yaml:"name"`
	Kind        string            `json:"kind" yaml:"kind"`
	Channels    int               `json:"channels" yaml:"channels"`
	Frames      int               `json:"frames" yaml:"frames"`
	Rate        float64           `json:"rate" yaml:"rate"`
	Dtype       string            `json:"dtype" yaml:"dtype"`
	Compression types.Compression `json:"compression" yaml:"compression"`
}

// Summary is the inspect-facing view of an artifact.
type Summary struct {
	Identifier   string       `json:"identifier" yaml:"identifier"`
	Description  string       `json:"description,omitempty" yaml:"description,omitempty"`
	SessionID    string       `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	StartTime    time.Time    `json:"start_time,omitzero" yaml:"start_time,omitempty"`
	Devices      []string     `json:"devices,omitempty" yaml:"devices,omitempty"`
	Groups       []string     `json:"electrode_groups,omitempty" yaml:"electrode_groups,omitempty"`
	Electrodes   int          `json:"electrodes" yaml:"electrodes"`
	Series       []SeriesInfo `json:"series,omitempty" yaml:"series,omitempty"`
	Units        int          `json:"units" yaml:"units"`
	ROIMasks     int          `json:"roi_masks" yaml:"roi_masks"`
	Runs         int          `json:"runs" yaml:"runs"`
}

// Summarize collects the artifact summary shown by the inspect command.
func (r *Reader) Summarize() (*Summary, error) {
	var s Summary
	var startTime string
	err := r.db.QueryRow(
		`SELECT identifier, description, session_id, start_time FROM session WHERE id = 1`,
	).Scan(&s.Identifier, &s.Description, &s.SessionID, &startTime)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("reading session row: %w", err)
	}
	if startTime != "" {
		if t, perr := time.Parse(time.RFC3339Nano, startTime); perr == nil {
			s.StartTime = t
		}
	}

	if s.Devices, err = r.stringColumn(`SELECT name FROM devices ORDER BY name`); err != nil {
		return nil, err
	}
	if s.Groups, err = r.stringColumn(`SELECT name FROM electrode_groups ORDER BY name`); err != nil {
		return nil, err
	}

	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT count(*) FROM electrodes`, &s.Electrodes},
		{`SELECT count(*) FROM units`, &s.Units},
		{`SELECT count(*) FROM roi_masks`, &s.ROIMasks},
		{`SELECT count(*) FROM runs`, &s.Runs},
	}
	for _, c := range counts {
		if err := r.db.QueryRow(c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("counting: %w", err)
		}
	}

	rows, err := r.db.Query(
		`SELECT name, kind, channels, frames, rate, dtype, compression FROM series ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing series: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var info SeriesInfo
		var codec string
		if err := rows.Scan(&info.Name, &info.Kind, &info.Channels, &info.Frames,
			&info.Rate, &info.Dtype, &codec); err != nil {
			return nil, fmt.Errorf("scanning series: %w", err)
		}
		info.Compression = types.Compression(codec)
		s.Series = append(s.Series, info)
	}
	return &s, rows.Err()
}

// ReadSeries returns the full decompressed sample data of a series in
// storage order. Intended for tests and small stub artifacts; full
// sessions should be read chunkwise.
func (r *Reader) ReadSeries(name string) ([]byte, error) {
	var codec string
	if err := r.db.QueryRow(
		`SELECT compression FROM series WHERE name = ?`, name,
	).Scan(&codec); err != nil {
		return nil, fmt.Errorf("series %q: %w", name, err)
	}

	rows, err := r.db.Query(
		`SELECT data FROM chunks WHERE series = ? ORDER BY chunk_index`, name)
	if err != nil {
		return nil, fmt.Errorf("reading chunks of %s: %w", name, err)
	}
	defer rows.Close()

	var out []byte
	for rows.Next() {
		var stored []byte
		if err := rows.Scan(&stored); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		raw, err := decodeChunk(types.Compression(codec), stored)
		if err != nil {
			return nil, err
		}
		out = append(out, raw...)
	}
	return out, rows.Err()
}

// ReadUnits returns all stored units ordered by ID.
func (r *Reader) ReadUnits() ([]types.Unit, error) {
	rows, err := r.db.Query(`SELECT id, spike_times, properties FROM units ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("reading units: %w", err)
	}
	defer rows.Close()

	var units []types.Unit
	for rows.Next() {
		var u types.Unit
		var times, props string
		if err := rows.Scan(&u.ID, &times, &props); err != nil {
			return nil, fmt.Errorf("scanning unit: %w", err)
		}
		if err := json.Unmarshal([]byte(times), &u.SpikeTimes); err != nil {
			return nil, fmt.Errorf("parsing spike times of unit %d: %w", u.ID, err)
		}
		if props != "" && props != "null" {
			if err := json.Unmarshal([]byte(props), &u.Properties); err != nil {
				return nil, fmt.Errorf("parsing properties of unit %d: %w", u.ID, err)
			}
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (r *Reader) stringColumn(query string) ([]string, error) {
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// float32Bytes encodes vals as little-endian float32.
func float32Bytes(vals []float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

// Int16FromBytes decodes little-endian int16 samples, the storage layout
// of recording series.
func Int16FromBytes(raw []byte) []int16 {
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return out
}
