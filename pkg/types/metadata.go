// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// SessionMetadata holds the session-level fields written to the artifact
// header. Per prd002-metadata R1.1: identifier, description, start time,
// and attribution fields.
type SessionMetadata struct {
	// Identifier is a globally unique ID for the converted session.
	// Auto-generated (UUID) when left empty.
	Identifier string `json:"identifier,omitempty" yaml:"identifier,omitempty"`

	// Description is a free-text summary of the session.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// StartTime is the session start in the acquisition system's clock.
	StartTime time.Time `json:"start_time,omitzero" yaml:"start_time,omitempty"`

	// SessionID is the lab-local session name (often the recording folder stem).
	SessionID string `json:"session_id,omitempty" yaml:"session_id,omitempty"`

	// Experimenter lists the people who ran the session.
	Experimenter []string `json:"experimenter,omitempty" yaml:"experimenter,omitempty"`

	Lab         string `json:"lab,omitempty" yaml:"lab,omitempty"`
	Institution string `json:"institution,omitempty" yaml:"institution,omitempty"`

	// Notes carries free-form acquisition notes (e.g. Intan header notes).
	Notes string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// SubjectMetadata describes the recorded subject.
type SubjectMetadata struct {
	SubjectID   string `json:"subject_id,omitempty" yaml:"subject_id,omitempty"`
	Species     string `json:"species,omitempty" yaml:"species,omitempty"`
	Sex         string `json:"sex,omitempty" yaml:"sex,omitempty"`
	Age         string `json:"age,omitempty" yaml:"age,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Device is an acquisition device record.
type Device struct {
	Name         string `json:"name" yaml:"name"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`
}

// ElectrodeGroup is a named group of electrodes tied to a device
// (e.g. one shank of a silicon probe).
type ElectrodeGroup struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Location    string `json:"location,omitempty" yaml:"location,omitempty"`
	Device      string `json:"device,omitempty" yaml:"device,omitempty"`
}

// ElectrodeColumn describes one custom column of the electrodes table.
// Per prd002-metadata R2.3: format interfaces declare the columns they
// populate (e.g. shank_electrode_number) with human-readable descriptions.
type ElectrodeColumn struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// SeriesKind distinguishes where a signal series is filed in the artifact.
type SeriesKind string

const (
	SeriesAcquisition SeriesKind = "acquisition"
	SeriesLFP         SeriesKind = "lfp"
	SeriesImaging     SeriesKind = "imaging"
)

// SeriesSpec describes one signal series to be written.
type SeriesSpec struct {
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Kind        SeriesKind `json:"kind,omitempty" yaml:"kind,omitempty"`

	// Unit is the physical unit of the stored samples (e.g. "volts").
	Unit string `json:"unit,omitempty" yaml:"unit,omitempty"`

	// Rate is the sampling rate in Hz.
	Rate float64 `json:"rate,omitempty" yaml:"rate,omitempty"`

	// Conversion scales stored integer samples to Unit.
	Conversion float64 `json:"conversion,omitempty" yaml:"conversion,omitempty"`
}

// EcephysMetadata groups extracellular electrophysiology metadata.
type EcephysMetadata struct {
	Devices         []Device          `json:"devices,omitempty" yaml:"devices,omitempty"`
	ElectrodeGroups []ElectrodeGroup  `json:"electrode_groups,omitempty" yaml:"electrode_groups,omitempty"`
	Electrodes      []ElectrodeColumn `json:"electrodes,omitempty" yaml:"electrodes,omitempty"`
	Series          []SeriesSpec      `json:"series,omitempty" yaml:"series,omitempty"`
}

// ImagingPlane describes an optical imaging plane.
type ImagingPlane struct {
	Name             string  `json:"name" yaml:"name"`
	Description      string  `json:"description,omitempty" yaml:"description,omitempty"`
	Device           string  `json:"device,omitempty" yaml:"device,omitempty"`
	ExcitationLambda float64 `json:"excitation_lambda,omitempty" yaml:"excitation_lambda,omitempty"`
	Indicator        string  `json:"indicator,omitempty" yaml:"indicator,omitempty"`
	Location         string  `json:"location,omitempty" yaml:"location,omitempty"`
}

// OphysMetadata groups optical physiology metadata.
type OphysMetadata struct {
	Devices       []Device       `json:"devices,omitempty" yaml:"devices,omitempty"`
	ImagingPlanes []ImagingPlane `json:"imaging_planes,omitempty" yaml:"imaging_planes,omitempty"`
	Series        []SeriesSpec   `json:"series,omitempty" yaml:"series,omitempty"`

	// PlaneSegmentation names the segmentation output for ROI masks.
	PlaneSegmentation string `json:"plane_segmentation,omitempty" yaml:"plane_segmentation,omitempty"`
}

// UnitColumn describes one custom column of the units table.
type UnitColumn struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Metadata is the full merged metadata tree for one conversion.
// Precedence when merging: user-supplied > interface-extracted > defaults.
// Per prd002-metadata R3.1-R3.4.
type Metadata struct {
	Session  SessionMetadata  `json:"session,omitzero" yaml:"session,omitempty"`
	Subject  *SubjectMetadata `json:"subject,omitempty" yaml:"subject,omitempty"`
	Ecephys  *EcephysMetadata `json:"ecephys,omitempty" yaml:"ecephys,omitempty"`
	Ophys    *OphysMetadata   `json:"ophys,omitempty" yaml:"ophys,omitempty"`
	Units    []UnitColumn     `json:"units,omitempty" yaml:"units,omitempty"`
}
