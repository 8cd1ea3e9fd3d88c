// Package models defines the typed records that flow through the
// ingestion pipeline, from parsed bulk-export rows to warehouse rows.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawRecord is one parsed row from a bulk export, with every field the
// warehouse cares about already typed. Which fields are populated
// depends on the source: contract awards fill ActionDate and Agency,
// lobbying filings fill FilingYear, FilingPeriod and Registrant.
type RawRecord struct {
	OrgName      string
	Amount       decimal.Decimal
	ActionDate   time.Time
	Agency       string
	Description  string
	FilingYear   int
	FilingPeriod string
	Registrant   string
}

// ResolvedRecord is a RawRecord whose organization name resolved to a
// stock ticker. A ResolvedRecord never exists with an empty ticker;
// unresolved rows are dropped before this type is constructed.
type ResolvedRecord struct {
	RawRecord
	Ticker string
}

// ReferenceEntry is one company in the ticker registry.
type ReferenceEntry struct {
	Name       string // canonical name as published by the registry
	Normalized string // resolver.Normalize(Name), precomputed at load
	Ticker     string
}
