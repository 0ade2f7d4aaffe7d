// Package nclt talks to the company-law tribunal's e-filing JSON API. Unlike
// the court sources there is no session or CAPTCHA; the API is plain JSON
// keyed by bench codes and filing numbers.
package nclt

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"casewatch/internal/cases/models"
	"casewatch/internal/source"
)

const (
	defaultSearchURL  = "https://efiling.nclt.gov.in/caseHistoryoptional.drt"
	defaultDetailsURL = "https://efiling.nclt.gov.in/caseHistoryalldetails.drt"
	defaultOrdersURL  = "https://efiling.nclt.gov.in/ordersview.drt"
)

// benchCodes maps normalized bench-city names to the e-filing bench ids.
var benchCodes = map[string]string{
	"principal":  "10",
	"new delhi":  "10",
	"delhi":      "10",
	"mumbai":     "9",
	"cuttack":    "13",
	"ahmedabad":  "1",
	"amaravati":  "12",
	"chandigarh": "4",
	"kolkata":    "8",
	"jaipur":     "11",
	"bengaluru":  "3",
	"bangalore":  "3",
	"chennai":    "5",
	"guwahati":   "6",
	"hyderabad":  "7",
	"kochi":      "14",
	"indore":     "15",
	"allahabad":  "2",
	"prayagraj":  "2",
}

// BenchCode resolves a bench name to its e-filing id; unknown benches search
// across all ("0").
func BenchCode(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for key, code := range benchCodes {
		if strings.Contains(normalized, key) {
			return code
		}
	}
	return "0"
}

// Adapter implements source.Adapter for the NCLT.
type Adapter struct {
	http    *http.Client
	timeout time.Duration

	searchURL  string
	detailsURL string
	ordersURL  string
}

// Option tunes adapter construction.
type Option func(*Adapter)

// WithEndpoints overrides the API URLs, mainly for tests.
func WithEndpoints(search, details, orders string) Option {
	return func(a *Adapter) {
		a.searchURL, a.detailsURL, a.ordersURL = search, details, orders
	}
}

// New builds the NCLT adapter.
func New(client *http.Client, timeout time.Duration, opts ...Option) *Adapter {
	if client == nil {
		client = http.DefaultClient
	}
	a := &Adapter{
		http:       client,
		timeout:    timeout,
		searchURL:  defaultSearchURL,
		detailsURL: defaultDetailsURL,
		ordersURL:  defaultOrdersURL,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Source() models.CourtSource { return models.SourceNCLT }

// searchRow is one entry of the e-filing case list.
type searchRow struct {
	FilingNo     string `json:"filing_no"`
	CaseNo       string `json:"case_no"`
	CaseTitle1   string `json:"case_title1"`
	CaseTitle2   string `json:"case_title2"`
	Status       string `json:"status"`
	DateOfFiling string `json:"date_of_filing"`
	NextDate     string `json:"next_date"`
	BenchName    string `json:"bench_location_name"`
}

// Search queries the case list by case number, type and year within a bench.
func (a *Adapter) Search(ctx context.Context, criteria source.SearchCriteria) ([]source.RawCaseMatch, error) {
	ctx, cancel := source.WithTimeout(ctx, a.timeout)
	defer cancel()

	rows, err := a.post(ctx, "search", a.searchURL, map[string]string{
		"benchId":  BenchCode(criteria.CourtHint["bench"]),
		"caseType": criteria.CaseType,
		"caseNo":   criteria.NumberOrName,
		"caseYear": criteria.Year,
	})
	if err != nil {
		return nil, err
	}

	var list []searchRow
	if err := json.Unmarshal(rows, &list); err != nil {
		return nil, source.Errorf(source.KindValidation, models.SourceNCLT, "search", "unmarshal case list: %v", err)
	}
	if len(list) == 0 {
		return nil, source.Errorf(source.KindNotFound, models.SourceNCLT, "search", "no cases matched")
	}

	matches := make([]source.RawCaseMatch, 0, len(list))
	for _, row := range list {
		matches = append(matches, source.RawCaseMatch{
			Source: models.SourceNCLT,
			Identity: models.CaseIdentity{
				Source:   models.SourceNCLT,
				CaseType: criteria.CaseType,
				Number:   row.CaseNo,
				Year:     criteria.Year,
				Routing: map[string]string{
					"filing_no": row.FilingNo,
					"bench":     row.BenchName,
				},
			},
			Title:  strings.TrimSpace(row.CaseTitle1 + " vs " + row.CaseTitle2),
			Status: row.Status,
			Fields: map[string]string{
				"filing_no":      row.FilingNo,
				"date_of_filing": row.DateOfFiling,
				"next_date":      row.NextDate,
			},
		})
	}
	return matches, nil
}

// detailRow is the full-history payload keyed by filing number.
type detailRow struct {
	FilingNo     string `json:"filing_no"`
	CaseNo       string `json:"case_no"`
	CaseTitle1   string `json:"case_title1"`
	CaseTitle2   string `json:"case_title2"`
	Status       string `json:"status"`
	DateOfFiling string `json:"date_of_filing"`
	NextDate     string `json:"next_date"`
	DisposalDate string `json:"disposal_date"`
	BenchName    string `json:"bench_location_name"`
	CourtNo      string `json:"court_no"`
}

type orderRow struct {
	OrderDate string `json:"order_date"`
	OrderDesc string `json:"order_desc"`
	FilePath  string `json:"file_path"`
}

// Fetch retrieves case detail and its order list. Fetching needs the filing
// number, which search records in the identity routing.
func (a *Adapter) Fetch(ctx context.Context, identity models.CaseIdentity) (*source.RawCaseDetail, error) {
	ctx, cancel := source.WithTimeout(ctx, a.timeout)
	defer cancel()

	filingNo := identity.Routing["filing_no"]
	if filingNo == "" {
		return nil, source.Errorf(source.KindValidation, models.SourceNCLT, "fetch", "identity carries no filing number")
	}

	payload, err := a.post(ctx, "fetch", a.detailsURL, map[string]string{"filingNo": filingNo})
	if err != nil {
		return nil, err
	}
	var detail detailRow
	if err := json.Unmarshal(payload, &detail); err != nil {
		return nil, source.Errorf(source.KindValidation, models.SourceNCLT, "fetch", "unmarshal detail: %v", err)
	}
	if detail.FilingNo == "" && detail.CaseNo == "" {
		return nil, source.Errorf(source.KindNotFound, models.SourceNCLT, "fetch", "no detail for filing %s", filingNo)
	}

	orders, err := a.fetchOrders(ctx, filingNo)
	if err != nil {
		// Orders are supplementary; a missing order list must not fail the
		// whole fetch, the detail still carries status and hearing date.
		orders = nil
	}

	return &source.RawCaseDetail{
		Source:   models.SourceNCLT,
		Identity: identity,
		Fields: map[string]string{
			"filing_no":      detail.FilingNo,
			"case_no":        detail.CaseNo,
			"pet_name":       detail.CaseTitle1,
			"res_name":       detail.CaseTitle2,
			"status":         detail.Status,
			"date_of_filing": detail.DateOfFiling,
			"next_date":      detail.NextDate,
			"disposal_date":  detail.DisposalDate,
			"bench_name":     detail.BenchName,
			"court_no":       detail.CourtNo,
		},
		Orders:  orders,
		Payload: payload,
	}, nil
}

func (a *Adapter) fetchOrders(ctx context.Context, filingNo string) ([]map[string]string, error) {
	payload, err := a.post(ctx, "orders", a.ordersURL, map[string]string{"filingNo": filingNo})
	if err != nil {
		return nil, err
	}
	var list []orderRow
	if err := json.Unmarshal(payload, &list); err != nil {
		return nil, source.Errorf(source.KindValidation, models.SourceNCLT, "orders", "unmarshal orders: %v", err)
	}
	rows := make([]map[string]string, 0, len(list))
	for _, o := range list {
		rows = append(rows, map[string]string{
			"date":         o.OrderDate,
			"description":  o.OrderDesc,
			"document_url": o.FilePath,
		})
	}
	return rows, nil
}

func (a *Adapter) post(ctx context.Context, op, u string, body map[string]string) (json.RawMessage, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, source.NewError(source.KindValidation, models.SourceNCLT, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(encoded))
	if err != nil {
		return nil, source.NewError(source.KindValidation, models.SourceNCLT, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, source.NewError(source.KindNetwork, models.SourceNCLT, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, source.Errorf(source.KindRateLimited, models.SourceNCLT, op, "status %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, source.Errorf(source.KindUnavailable, models.SourceNCLT, op, "status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, source.Errorf(source.KindNetwork, models.SourceNCLT, op, "unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, source.NewError(source.KindNetwork, models.SourceNCLT, op, err)
	}
	return json.RawMessage(raw), nil
}
