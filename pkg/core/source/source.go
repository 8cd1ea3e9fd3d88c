// Package source defines the bulk-export feeds the pipeline knows how
// to ingest: where to request them, how their CSV columns map onto
// typed records, and how their rows are keyed in the warehouse.
package source

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"govsignal/pkg/models"
)

//go:embed mappings.yaml
var mappingsYAML []byte

// columnMapping names the CSV columns a feed uses for each record field.
// Fields a feed does not publish stay empty.
type columnMapping struct {
	Org          string `yaml:"org"`
	Amount       string `yaml:"amount"`
	Date         string `yaml:"date"`
	Agency       string `yaml:"agency"`
	Description  string `yaml:"description"`
	FilingYear   string `yaml:"filing_year"`
	FilingPeriod string `yaml:"filing_period"`
	Registrant   string `yaml:"registrant"`
}

// Column is one named, typed destination column.
type Column struct {
	Name string
	Type string
}

// Source describes one bulk-export feed end to end.
type Source struct {
	Name            string
	RequestURL      string
	Table           string
	Schema          []Column
	NaturalKey      []string
	UpdateColumns   []string // mutable fields refreshed on conflict
	AmountThreshold decimal.Decimal

	mapping columnMapping
	payload func(start, end time.Time) map[string]any
	values  func(rec models.ResolvedRecord) []any
}

const dateLayout = "2006-01-02"

var registry map[string]Source

func init() {
	var mappings map[string]columnMapping
	if err := yaml.Unmarshal(mappingsYAML, &mappings); err != nil {
		panic(fmt.Sprintf("source: embedded mappings.yaml is malformed: %v", err))
	}

	awards := Source{
		Name:       "awards",
		RequestURL: "https://api.usaspending.gov/api/v2/bulk_download/transactions/",
		Table:      "contract_awards",
		Schema: []Column{
			{Name: "ticker", Type: "TEXT"},
			{Name: "action_date", Type: "DATE"},
			{Name: "recipient_name", Type: "TEXT"},
			{Name: "amount", Type: "NUMERIC"},
			{Name: "agency", Type: "TEXT"},
			{Name: "description", Type: "TEXT"},
		},
		NaturalKey:      []string{"ticker", "action_date", "amount", "agency"},
		UpdateColumns:   []string{"recipient_name", "description"},
		AmountThreshold: decimal.NewFromInt(500000),
		mapping:         mappings["awards"],
		payload: func(start, end time.Time) map[string]any {
			return map[string]any{
				"filters": map[string]any{
					"award_types": []string{"contracts"},
					"date_range": map[string]string{
						"start_date": start.Format(dateLayout),
						"end_date":   end.Format(dateLayout),
					},
				},
				"format": "csv",
			}
		},
		values: func(rec models.ResolvedRecord) []any {
			return []any{rec.Ticker, rec.ActionDate, rec.OrgName, rec.Amount, rec.Agency, rec.Description}
		},
	}

	lobbying := Source{
		Name:       "lobbying",
		RequestURL: "https://api.usaspending.gov/api/v2/bulk_download/lobbying/",
		Table:      "lobbying_filings",
		Schema: []Column{
			{Name: "ticker", Type: "TEXT"},
			{Name: "filing_year", Type: "INTEGER"},
			{Name: "filing_period", Type: "TEXT"},
			{Name: "client_name", Type: "TEXT"},
			{Name: "registrant", Type: "TEXT"},
			{Name: "amount", Type: "NUMERIC"},
		},
		NaturalKey:      []string{"ticker", "filing_year", "filing_period", "registrant"},
		UpdateColumns:   []string{"client_name", "amount"},
		AmountThreshold: decimal.NewFromInt(50000),
		mapping:         mappings["lobbying"],
		payload: func(start, end time.Time) map[string]any {
			return map[string]any{
				"filters": map[string]any{
					"filing_type": "LD-2",
					"date_range": map[string]string{
						"start_date": start.Format(dateLayout),
						"end_date":   end.Format(dateLayout),
					},
				},
				"format": "csv",
			}
		},
		values: func(rec models.ResolvedRecord) []any {
			return []any{rec.Ticker, rec.FilingYear, rec.FilingPeriod, rec.OrgName, rec.Registrant, rec.Amount}
		},
	}

	registry = map[string]Source{
		awards.Name:   awards,
		lobbying.Name: lobbying,
	}
}

// ByName looks up a source definition.
func ByName(name string) (Source, error) {
	s, ok := registry[strings.ToLower(name)]
	if !ok {
		return Source{}, fmt.Errorf("unknown source %q (have: %s)", name, strings.Join(Names(), ", "))
	}
	return s, nil
}

// Names lists the registered sources in deterministic order.
func Names() []string {
	return []string{"awards", "lobbying"}
}

// All returns every registered source.
func All() []Source {
	out := make([]Source, 0, len(registry))
	for _, name := range Names() {
		out = append(out, registry[name])
	}
	return out
}

// BuildRequest produces the JSON payload for one export window.
func (s Source) BuildRequest(start, end time.Time) map[string]any {
	return s.payload(start, end)
}

// Values orders a resolved record's fields to match s.Schema, ready for
// a parameterized merge.
func (s Source) Values(rec models.ResolvedRecord) []any {
	return s.values(rec)
}

// HeaderIndex maps CSV header names to their positions.
func HeaderIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

// ParseRow converts one CSV row into a typed RawRecord using the
// source's column mapping. Rows with a missing organization name or a
// malformed amount, date, or year are rejected; the caller drops them.
func (s Source) ParseRow(idx map[string]int, row []string) (models.RawRecord, error) {
	var rec models.RawRecord

	get := func(col string) string {
		if col == "" {
			return ""
		}
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	rec.OrgName = get(s.mapping.Org)
	if rec.OrgName == "" {
		return rec, fmt.Errorf("row has no %s", s.mapping.Org)
	}

	rawAmount := strings.ReplaceAll(strings.TrimPrefix(get(s.mapping.Amount), "$"), ",", "")
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return rec, fmt.Errorf("malformed amount %q: %w", rawAmount, err)
	}
	rec.Amount = amount

	if s.mapping.Date != "" {
		d, err := time.Parse(dateLayout, get(s.mapping.Date))
		if err != nil {
			return rec, fmt.Errorf("malformed date: %w", err)
		}
		rec.ActionDate = d
	}
	if s.mapping.FilingYear != "" {
		y, err := strconv.Atoi(get(s.mapping.FilingYear))
		if err != nil {
			return rec, fmt.Errorf("malformed filing year: %w", err)
		}
		rec.FilingYear = y
	}

	rec.Agency = get(s.mapping.Agency)
	rec.Description = get(s.mapping.Description)
	rec.FilingPeriod = get(s.mapping.FilingPeriod)
	rec.Registrant = get(s.mapping.Registrant)
	return rec, nil
}
