package ecourts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"casewatch/internal/cases/models"
	"casewatch/internal/source"
)

// caseHistory mirrors the scalar fields of the protocol's case history
// payload. DC and HC responses carry slightly different keys for judges and
// court naming; both variants are declared and the adapter picks what is set.
type caseHistory struct {
	Cino           string `json:"cino"`
	RegNo          string `json:"reg_no"`
	FilNo          string `json:"fil_no"`
	CaseNo         string `json:"case_no"`
	DtRegis        string `json:"dt_regis"`
	DateOfFiling   string `json:"date_of_filing"`
	DateFirstList  string `json:"date_first_list"`
	DateNextList   string `json:"date_next_list"`
	DateLastList   string `json:"date_last_list"`
	DateOfDecision string `json:"date_of_decision"`
	CourtNo        string `json:"court_no"`
	DispNature     string `json:"disp_nature"`
	PurposeName    string `json:"purpose_name"`
	TypeName       string `json:"type_name"`
	PetName        string `json:"pet_name"`
	ResName        string `json:"res_name"`
	PetAdv         string `json:"pet_adv"`
	ResAdv         string `json:"res_adv"`

	CourtJudge   string `json:"court_judge"`   // HC
	DistrictName string `json:"district_name"` // HC bench
	StateName    string `json:"state_name"`    // HC court
	DesgName     string `json:"desgname"`      // DC judge designation
	CourtName    string `json:"court_name"`    // DC

	HearingHistory string `json:"historyOfCaseHearing"`
	InterimOrder   string `json:"interimOrder"`
	FinalOrder     string `json:"finalOrder"`
}

// convertDetail reshapes a decrypted case-history payload into the uniform
// RawCaseDetail. Hearing history and order lists arrive as HTML table
// fragments embedded in the JSON and are flattened into row maps here; date
// parsing is left to the normalizer.
func convertDetail(src models.CourtSource, identity models.CaseIdentity, payload json.RawMessage) (*source.RawCaseDetail, error) {
	var resp struct {
		History *caseHistory `json:"history"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, source.NewError(source.KindValidation, src, "caseHistory", fmt.Errorf("unmarshal history: %w", err))
	}
	if resp.History == nil {
		return nil, source.Errorf(source.KindNotFound, src, "caseHistory", "payload carries no history")
	}
	h := resp.History

	judges, bench, court := h.DesgName, h.DesgName, h.CourtName
	if src == models.SourceHighCourt {
		judges, bench, court = h.CourtJudge, h.DistrictName, h.StateName
	}

	fields := map[string]string{
		"cino":              h.Cino,
		"registration_no":   h.RegNo,
		"filing_no":         h.FilNo,
		"case_no":           h.CaseNo,
		"registration_date": h.DtRegis,
		"filing_date":       h.DateOfFiling,
		"first_listing":     h.DateFirstList,
		"next_listing":      h.DateNextList,
		"last_listing":      h.DateLastList,
		"decision_date":     h.DateOfDecision,
		"court_no":          h.CourtNo,
		"disposal_nature":   h.DispNature,
		"purpose_next":      h.PurposeName,
		"case_type":         h.TypeName,
		"pet_name":          h.PetName,
		"res_name":          h.ResName,
		"pet_adv":           h.PetAdv,
		"res_adv":           h.ResAdv,
		"judges":            judges,
		"bench_name":        bench,
		"court_name":        court,
	}

	if identity.CNR == "" {
		identity.CNR = h.Cino
	}

	hearings, err := parseHearingTable(h.HearingHistory, src == models.SourceHighCourt)
	if err != nil {
		return nil, source.NewError(source.KindValidation, src, "caseHistory", err)
	}
	var orders []map[string]string
	for _, fragment := range []string{h.InterimOrder, h.FinalOrder} {
		rows, err := parseOrderTable(fragment)
		if err != nil {
			return nil, source.NewError(source.KindValidation, src, "caseHistory", err)
		}
		orders = append(orders, rows...)
	}

	return &source.RawCaseDetail{
		Source:   src,
		Identity: identity,
		Fields:   fields,
		Hearings: hearings,
		Orders:   orders,
		Payload:  payload,
	}, nil
}

// parseHearingTable flattens the hearing-history HTML table. HC tables carry
// a leading serial column that DC tables lack.
func parseHearingTable(fragment string, leadingSerial bool) ([]map[string]string, error) {
	if strings.TrimSpace(fragment) == "" {
		return nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("parse hearing table: %w", err)
	}

	offset := 0
	if leadingSerial {
		offset = 1
	}

	var rows []map[string]string
	doc.Find("table tr").Each(func(i int, tr *goquery.Selection) {
		if i == 0 { // header row
			return
		}
		cols := tr.Find("td").Map(func(_ int, td *goquery.Selection) string {
			return strings.TrimSpace(td.Text())
		})
		if len(cols) < offset+4 {
			return
		}
		rows = append(rows, map[string]string{
			"judge":         cols[offset],
			"business_date": cols[offset+1],
			"hearing_date":  cols[offset+2],
			"purpose":       cols[offset+3],
		})
	})
	return rows, nil
}

// parseOrderTable flattens an interim/final order HTML table. The third
// column carries the order link; a row without one is still kept so the
// normalizer can surface the order text.
func parseOrderTable(fragment string) ([]map[string]string, error) {
	if strings.TrimSpace(fragment) == "" {
		return nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("parse order table: %w", err)
	}

	var rows []map[string]string
	doc.Find("table tr").Each(func(i int, tr *goquery.Selection) {
		if i == 0 {
			return
		}
		tds := tr.Find("td")
		if tds.Length() < 2 {
			return
		}
		row := map[string]string{
			"number": strings.TrimSpace(tds.Eq(0).Text()),
			"date":   strings.TrimSpace(tds.Eq(1).Text()),
		}
		if tds.Length() > 2 {
			link := tds.Eq(2)
			row["description"] = strings.TrimSpace(link.Text())
			if href, ok := link.Find("a").Attr("href"); ok {
				row["document_url"] = href
			}
		}
		if row["description"] == "" && row["number"] != "" {
			row["description"] = "Order No: " + row["number"]
		}
		rows = append(rows, row)
	})
	return rows, nil
}
