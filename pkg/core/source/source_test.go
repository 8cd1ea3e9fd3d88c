package source

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govsignal/pkg/models"
)

func TestByName(t *testing.T) {
	for _, name := range Names() {
		s, err := ByName(name)
		require.NoError(t, err)
		assert.Equal(t, name, s.Name)
		assert.NotEmpty(t, s.Table)
		assert.NotEmpty(t, s.NaturalKey)
	}

	_, err := ByName("sec-filings")
	assert.Error(t, err)
}

func TestBuildRequestShape(t *testing.T) {
	awards, err := ByName("awards")
	require.NoError(t, err)

	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 7, 0, 0, 0, 0, time.UTC)
	payload := awards.BuildRequest(start, end)

	assert.Equal(t, "csv", payload["format"])
	filters, ok := payload["filters"].(map[string]any)
	require.True(t, ok)
	dr, ok := filters["date_range"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "2024-02-01", dr["start_date"])
	assert.Equal(t, "2024-02-07", dr["end_date"])
}

func TestParseRowAwards(t *testing.T) {
	awards, err := ByName("awards")
	require.NoError(t, err)

	header := []string{"recipient_name", "total_obligation", "action_date", "awarding_agency_name", "transaction_description"}
	idx := HeaderIndex(header)

	rec, err := awards.ParseRow(idx, []string{"Acme Corp", "$1,250,000.50", "2024-02-03", "DOD", "widgets"})
	require.NoError(t, err)

	assert.Equal(t, "Acme Corp", rec.OrgName)
	assert.True(t, rec.Amount.Equal(decimal.RequireFromString("1250000.50")))
	assert.Equal(t, time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC), rec.ActionDate)
	assert.Equal(t, "DOD", rec.Agency)
	assert.Equal(t, "widgets", rec.Description)
}

func TestParseRowRejectsMalformed(t *testing.T) {
	awards, err := ByName("awards")
	require.NoError(t, err)
	idx := HeaderIndex([]string{"recipient_name", "total_obligation", "action_date", "awarding_agency_name", "transaction_description"})

	cases := map[string][]string{
		"malformed amount": {"Acme Corp", "not-a-number", "2024-02-03", "DOD", ""},
		"empty amount":     {"Acme Corp", "", "2024-02-03", "DOD", ""},
		"malformed date":   {"Acme Corp", "100", "03/02/2024", "DOD", ""},
		"missing name":     {"", "100", "2024-02-03", "DOD", ""},
	}
	for label, row := range cases {
		_, err := awards.ParseRow(idx, row)
		assert.Error(t, err, label)
	}
}

func TestParseRowLobbying(t *testing.T) {
	lobbying, err := ByName("lobbying")
	require.NoError(t, err)

	header := []string{"client_name", "income_amount", "filing_year", "filing_period", "registrant_name"}
	rec, err := lobbying.ParseRow(HeaderIndex(header), []string{"BigCo Inc", "75000", "2024", "Q1", "Lobby LLC"})
	require.NoError(t, err)

	assert.Equal(t, "BigCo Inc", rec.OrgName)
	assert.Equal(t, 2024, rec.FilingYear)
	assert.Equal(t, "Q1", rec.FilingPeriod)
	assert.Equal(t, "Lobby LLC", rec.Registrant)
}

func TestHeaderIndexNormalizesNames(t *testing.T) {
	idx := HeaderIndex([]string{" Recipient_Name ", "TOTAL_OBLIGATION"})
	assert.Equal(t, 0, idx["recipient_name"])
	assert.Equal(t, 1, idx["total_obligation"])
}

func TestValuesMatchSchemaArity(t *testing.T) {
	rec := models.ResolvedRecord{Ticker: "AAPL"}
	for _, s := range All() {
		assert.Len(t, s.Values(rec), len(s.Schema), "source %s", s.Name)
	}
}
