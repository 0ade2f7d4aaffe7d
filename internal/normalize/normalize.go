// Package normalize maps raw, source-shaped case payloads into the canonical
// case schema. Field mappings are explicit per source, never inferred: when a
// source's markup or payload drifts, the symptom is a validation failure on a
// missing field, not a silently wrong record.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"casewatch/internal/cases/models"
	"casewatch/internal/source"
)

// mapping declares where each canonical field lives in a source's raw field
// map. Lookup tries keys in order and takes the first non-empty value.
type mapping struct {
	status      []string
	disposal    []string
	nextHearing []string
	decision    []string
	filing      []string
	petitioner  []string
	respondent  []string
	petAdv      []string
	resAdv      []string
	court       []string
	bench       []string
	judges      []string
}

var mappings = map[models.CourtSource]mapping{
	models.SourceDistrictCourt: {
		status:      []string{"disposal_nature"},
		disposal:    []string{"disposal_nature"},
		nextHearing: []string{"next_listing"},
		decision:    []string{"decision_date"},
		filing:      []string{"filing_date", "registration_date"},
		petitioner:  []string{"pet_name"},
		respondent:  []string{"res_name"},
		petAdv:      []string{"pet_adv"},
		resAdv:      []string{"res_adv"},
		court:       []string{"court_name"},
		bench:       []string{"bench_name"},
		judges:      []string{"judges"},
	},
	models.SourceHighCourt: {
		status:      []string{"disposal_nature"},
		disposal:    []string{"disposal_nature"},
		nextHearing: []string{"next_listing"},
		decision:    []string{"decision_date"},
		filing:      []string{"filing_date", "registration_date"},
		petitioner:  []string{"pet_name"},
		respondent:  []string{"res_name"},
		petAdv:      []string{"pet_adv"},
		resAdv:      []string{"res_adv"},
		court:       []string{"court_name"},
		bench:       []string{"bench_name"},
		judges:      []string{"judges"},
	},
	models.SourceSupremeCourt: {
		status:      []string{"Status", "Case Status", "Status/Stage"},
		nextHearing: []string{"Next Date of Listing", "Next Date of Hearing", "Tentatively Listed On"},
		decision:    []string{"Date of Disposal", "Disposed On"},
		filing:      []string{"Filed On", "Date of Filing"},
		petitioner:  []string{"Petitioner(s)", "Petitioner"},
		respondent:  []string{"Respondent(s)", "Respondent"},
		petAdv:      []string{"Petitioner Advocate(s)"},
		resAdv:      []string{"Respondent Advocate(s)"},
		court:       []string{"Court"},
		judges:      []string{"Coram", "Judges"},
	},
	models.SourceNCLT: {
		status:      []string{"status"},
		nextHearing: []string{"next_date"},
		decision:    []string{"disposal_date"},
		filing:      []string{"date_of_filing"},
		petitioner:  []string{"pet_name"},
		respondent:  []string{"res_name"},
		bench:       []string{"bench_name"},
	},
	models.SourceNCLAT: {
		status:     []string{"status"},
		filing:     []string{"date_of_filing", "registration_date"},
		petitioner: []string{"pet_name"},
		respondent: []string{"res_name"},
		petAdv:     []string{"pet_adv"},
		resAdv:     []string{"res_adv"},
		court:      []string{"court_name"},
		bench:      []string{"bench_name"},
	},
	models.SourceITAT: {
		status:      []string{"Case Status", "Status", "Order Status"},
		nextHearing: []string{"Date of Next Hearing", "Next Hearing Date"},
		decision:    []string{"Date of Order", "Order Date"},
		filing:      []string{"Date of Filing", "Filed On"},
		petitioner:  []string{"Appellant", "Appellant Name"},
		respondent:  []string{"Respondent", "Respondent Name"},
		bench:       []string{"Bench"},
	},
}

// dateLayouts covers the formats the sources emit. Day-first layouts come
// before year-first so "02-01-2024" reads as 2 January.
var dateLayouts = []string{
	"02-01-2006",
	"02/01/2006",
	"2006-01-02",
	"02.01.2006",
	"02-Jan-2006",
	"02 January 2006",
	"2 January 2006",
	"02-01-2006 15:04:05",
	"2006-01-02 15:04:05",
}

// emptyDateValues are the placeholders sources use for "no date".
var emptyDateValues = map[string]bool{
	"": true, "na": true, "n/a": true, "-": true, "--": true, "null": true, "0000-00-00": true,
}

// Normalize validates and maps one raw detail into a canonical CaseRecord.
// It is idempotent: the same detail yields the same record, except for
// LastSyncedAt which is stamped from now.
func Normalize(detail *source.RawCaseDetail, now time.Time) (*models.CaseRecord, error) {
	if detail == nil {
		return nil, validationErr("", "fetch", "nil detail")
	}
	m, ok := mappings[detail.Source]
	if !ok {
		return nil, validationErr(detail.Source, "fetch", "no mapping for source %q", detail.Source)
	}
	if err := detail.Identity.Validate(); err != nil {
		return nil, source.NewError(source.KindValidation, detail.Source, "normalize", err)
	}

	status := firstField(detail.Fields, m.status)
	if status == "" && len(m.disposal) > 0 {
		// Protocol sources encode "still pending" as an empty disposal nature.
		status = "Pending"
	}
	if status == "" {
		return nil, validationErr(detail.Source, "normalize", "status missing from payload")
	}

	nextHearing, err := parseDate(firstField(detail.Fields, m.nextHearing))
	if err != nil {
		return nil, validationErr(detail.Source, "normalize", "next hearing date: %v", err)
	}
	decision, err := parseDate(firstField(detail.Fields, m.decision))
	if err != nil {
		return nil, validationErr(detail.Source, "normalize", "decision date: %v", err)
	}
	filing, err := parseDate(firstField(detail.Fields, m.filing))
	if err != nil {
		return nil, validationErr(detail.Source, "normalize", "filing date: %v", err)
	}

	hearings, err := normalizeHearings(detail)
	if err != nil {
		return nil, err
	}
	orders, err := normalizeOrders(detail)
	if err != nil {
		return nil, err
	}

	record := &models.CaseRecord{
		Identity: detail.Identity,
		Status:   status,
		Parties: models.Parties{
			Petitioner:          firstField(detail.Fields, m.petitioner),
			Respondent:          firstField(detail.Fields, m.respondent),
			PetitionerAdvocates: firstField(detail.Fields, m.petAdv),
			RespondentAdvocates: firstField(detail.Fields, m.resAdv),
		},
		CourtName:       firstField(detail.Fields, m.court),
		BenchName:       firstField(detail.Fields, m.bench),
		Judges:          firstField(detail.Fields, m.judges),
		FilingDate:      filing,
		NextHearingDate: nextHearing,
		DecisionDate:    decision,
		Hearings:        hearings,
		Orders:          orders,
		LastSyncedAt:    now,
		Raw:             detail.Payload,
	}
	if record.Parties.Petitioner != "" || record.Parties.Respondent != "" {
		record.Title = strings.TrimSpace(record.Parties.Petitioner + " vs " + record.Parties.Respondent)
	}
	return record, nil
}

func normalizeHearings(detail *source.RawCaseDetail) ([]models.HearingEvent, error) {
	var out []models.HearingEvent
	for i, row := range detail.Hearings {
		hearing, err := parseDate(row["hearing_date"])
		if err != nil {
			return nil, validationErr(detail.Source, "normalize", "hearing %d date: %v", i, err)
		}
		business, err := parseDate(row["business_date"])
		if err != nil {
			return nil, validationErr(detail.Source, "normalize", "hearing %d business date: %v", i, err)
		}
		out = append(out, models.HearingEvent{
			Judge:        row["judge"],
			BusinessDate: business,
			HearingDate:  hearing,
			Purpose:      row["purpose"],
		})
	}
	return out, nil
}

func normalizeOrders(detail *source.RawCaseDetail) ([]models.OrderEvent, error) {
	var out []models.OrderEvent
	for i, row := range detail.Orders {
		date, err := parseDate(row["date"])
		if err != nil {
			return nil, validationErr(detail.Source, "normalize", "order %d date: %v", i, err)
		}
		out = append(out, models.OrderEvent{
			Date:        date,
			Description: row["description"],
			DocumentURL: row["document_url"],
		})
	}
	return out, nil
}

// firstField returns the first non-empty value among keys.
func firstField(fields map[string]string, keys []string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(fields[key]); v != "" {
			return v
		}
	}
	return ""
}

// parseDate handles every layout the sources emit. Placeholder values parse
// to nil without error; anything non-empty that matches no layout is an
// error, so format drift surfaces instead of silently dropping dates.
func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if emptyDateValues[strings.ToLower(s)] {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unparseable date %q", s)
}

func validationErr(src models.CourtSource, op, format string, args ...any) error {
	return source.Errorf(source.KindValidation, src, op, format, args...)
}
