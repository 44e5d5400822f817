package model

import "time"

// Reference entities are small, slowly-changing dictionaries owned by
// configuration. The pipeline only reads them to resolve text to ids.

// Institute is a polling institute (e.g. Forsa).
type Institute struct {
	ID        int64  `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	ShortName string `json:"short_name,omitempty" yaml:"short_name,omitempty"`
}

// Party is a political party, with a display color for chart consumers.
type Party struct {
	ID        int64  `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	ShortName string `json:"short_name,omitempty" yaml:"short_name,omitempty"`
	Color     string `json:"color,omitempty" yaml:"color,omitempty"`
}

// Provider is the publication that commissioned or published a poll.
type Provider struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Method is a survey method (online, telephone, mixed, face-to-face).
type Method struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Election is an election a poll refers to. Date orders elections within a
// scope so "most recent matching scope" resolution is well-defined.
type Election struct {
	ID    int64     `json:"id" yaml:"id"`
	Name  string    `json:"name" yaml:"name"`
	Scope Scope     `json:"scope" yaml:"scope"`
	Date  time.Time `json:"date" yaml:"date"`
}

// EntityKind names a reference table for alias resolution.
type EntityKind string

const (
	KindInstitute EntityKind = "institute"
	KindParty     EntityKind = "party"
	KindProvider  EntityKind = "provider"
	KindMethod    EntityKind = "method"
	KindElection  EntityKind = "election"
)

// Alias maps one historical spelling to a reference entity.
type Alias struct {
	Kind     EntityKind `json:"kind"`
	EntityID int64      `json:"entity_id"`
	Text     string     `json:"text"`
}

// ReferenceSet is one aggregate snapshot of the five reference tables plus
// their alias rows, as loaded at batch start or exposed over the API.
type ReferenceSet struct {
	Institutes []Institute `json:"institutes"`
	Parties    []Party     `json:"parties"`
	Providers  []Provider  `json:"providers"`
	Methods    []Method    `json:"methods"`
	Elections  []Election  `json:"elections"`
	Aliases    []Alias     `json:"aliases,omitempty"`
}
