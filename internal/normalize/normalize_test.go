package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casewatch/internal/cases/models"
	"casewatch/internal/source"
)

func dcDetail() *source.RawCaseDetail {
	return &source.RawCaseDetail{
		Source: models.SourceDistrictCourt,
		Identity: models.CaseIdentity{
			Source: models.SourceDistrictCourt,
			CNR:    "DLND010001232024",
		},
		Fields: map[string]string{
			"disposal_nature": "",
			"next_listing":    "12-09-2026",
			"decision_date":   "",
			"filing_date":     "10-01-2024",
			"pet_name":        "Asha Mehta",
			"res_name":        "State",
			"pet_adv":         "R. Gupta",
			"court_name":      "Saket Courts",
			"judges":          "District Judge",
		},
		Hearings: []map[string]string{
			{"judge": "District Judge", "business_date": "20-08-2026", "hearing_date": "12-09-2026", "purpose": "Evidence"},
		},
		Orders: []map[string]string{
			{"number": "1", "date": "20-08-2026", "description": "Order No: 1", "document_url": "/orders/1.pdf"},
		},
	}
}

func TestNormalizeDistrictCourt(t *testing.T) {
	now := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

	record, err := Normalize(dcDetail(), now)
	require.NoError(t, err)

	assert.Equal(t, "Pending", record.Status, "empty disposal nature means the case is still pending")
	assert.Equal(t, "Asha Mehta vs State", record.Title)
	assert.Equal(t, "Saket Courts", record.CourtName)
	require.NotNil(t, record.NextHearingDate)
	assert.Equal(t, time.Date(2026, 9, 12, 0, 0, 0, 0, time.UTC), *record.NextHearingDate)
	assert.Nil(t, record.DecisionDate)
	require.NotNil(t, record.FilingDate)
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), *record.FilingDate)
	assert.Equal(t, now, record.LastSyncedAt)

	require.Len(t, record.Hearings, 1)
	assert.Equal(t, "Evidence", record.Hearings[0].Purpose)
	require.Len(t, record.Orders, 1)
	assert.Equal(t, "/orders/1.pdf", record.Orders[0].DocumentURL)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	now := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

	first, err := Normalize(dcDetail(), now)
	require.NoError(t, err)
	second, err := Normalize(dcDetail(), now.Add(time.Hour))
	require.NoError(t, err)

	// Only the sync stamp may differ between identical inputs.
	second.LastSyncedAt = first.LastSyncedAt
	assert.Equal(t, first, second)
}

func TestNormalizeDisposedCase(t *testing.T) {
	detail := dcDetail()
	detail.Fields["disposal_nature"] = "Disposed - Contested"
	detail.Fields["decision_date"] = "20-08-2026"
	detail.Fields["next_listing"] = ""

	record, err := Normalize(detail, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Disposed - Contested", record.Status)
	assert.Nil(t, record.NextHearingDate)
	require.NotNil(t, record.DecisionDate)
}

func TestNormalizeSupremeCourtLabels(t *testing.T) {
	detail := &source.RawCaseDetail{
		Source: models.SourceSupremeCourt,
		Identity: models.CaseIdentity{
			Source: models.SourceSupremeCourt,
			Number: "12345",
			Year:   "2024",
		},
		Fields: map[string]string{
			"Status":               "PENDING",
			"Next Date of Listing": "15-09-2026",
			"Petitioner(s)":        "Union of India",
			"Respondent(s)":        "Oak Traders",
			"Coram":                "Hon. Justice Rao",
		},
	}

	record, err := Normalize(detail, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "PENDING", record.Status)
	assert.Equal(t, "Union of India vs Oak Traders", record.Title)
	assert.Equal(t, "Hon. Justice Rao", record.Judges)
}

func TestNormalizeNCLATFields(t *testing.T) {
	detail := &source.RawCaseDetail{
		Source: models.SourceNCLAT,
		Identity: models.CaseIdentity{
			Source:  models.SourceNCLAT,
			Number:  "45",
			Year:    "2024",
			Routing: map[string]string{"filing_no": "1234567890", "schema": "chennai"},
		},
		Fields: map[string]string{
			"status":         "Pending",
			"date_of_filing": "02.01.2024",
			"case_no":        "Company Appeal(AT)(Ins) 45/2024",
			"pet_name":       "Oak Infra Pvt Ltd",
			"res_name":       "Steel Creditors Consortium",
			"pet_adv":        "A. Sharma",
			"court_name":     "NCLAT",
			"bench_name":     "chennai",
		},
		Hearings: []map[string]string{
			{"hearing_date": "12/08/2024", "court_no": "2", "purpose": "Admission"},
		},
		Orders: []map[string]string{
			{"date": "10/06/2024", "description": "Interim Order", "document_url": "https://efiling.nclat.gov.in/nclat/order_view.php?path=abc.pdf"},
		},
	}

	record, err := Normalize(detail, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Pending", record.Status)
	assert.Equal(t, "Oak Infra Pvt Ltd vs Steel Creditors Consortium", record.Title)
	assert.Equal(t, "NCLAT", record.CourtName)
	assert.Equal(t, "chennai", record.BenchName)
	assert.Equal(t, "A. Sharma", record.Parties.PetitionerAdvocates)
	require.NotNil(t, record.FilingDate, "dotted day-first dates parse")
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), *record.FilingDate)
	require.Len(t, record.Hearings, 1)
	assert.Equal(t, "Admission", record.Hearings[0].Purpose)
	require.Len(t, record.Orders, 1)
	assert.Equal(t, "Interim Order", record.Orders[0].Description)
}

func TestNormalizeMissingStatusRejected(t *testing.T) {
	// Scraped sources have no disposal-nature convention; a missing status
	// field there is payload drift, not a pending case.
	detail := &source.RawCaseDetail{
		Source:   models.SourceSupremeCourt,
		Identity: models.CaseIdentity{Source: models.SourceSupremeCourt, Number: "1", Year: "2024"},
		Fields:   map[string]string{"Petitioner(s)": "A"},
	}
	_, err := Normalize(detail, time.Now())
	assert.Equal(t, source.KindValidation, source.KindOf(err))
}

func TestNormalizeUnparseableDateRejected(t *testing.T) {
	detail := dcDetail()
	detail.Fields["next_listing"] = "someday soon"
	_, err := Normalize(detail, time.Now())
	assert.Equal(t, source.KindValidation, source.KindOf(err))
}

func TestNormalizeInvalidIdentityRejected(t *testing.T) {
	detail := dcDetail()
	detail.Identity = models.CaseIdentity{Source: models.SourceDistrictCourt}
	_, err := Normalize(detail, time.Now())
	assert.Equal(t, source.KindValidation, source.KindOf(err))
}

func TestParseDateLayouts(t *testing.T) {
	want := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"02-09-2026", "02/09/2026", "02.09.2026", "2026-09-02", "02-Sep-2026", "02 September 2026", "2 September 2026"} {
		got, err := parseDate(in)
		require.NoError(t, err, in)
		require.NotNil(t, got, in)
		assert.Equal(t, want, *got, in)
	}
}

func TestParseDatePlaceholders(t *testing.T) {
	for _, in := range []string{"", "NA", "n/a", "-", "--", "null", "0000-00-00", "  "} {
		got, err := parseDate(in)
		require.NoError(t, err, in)
		assert.Nil(t, got, in)
	}
}
