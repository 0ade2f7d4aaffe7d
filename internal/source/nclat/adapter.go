// Package nclat scrapes the appellate company-law tribunal's e-filing case
// status. The status page blocks direct access, so every session bootstraps
// through an entry-page token before the CAPTCHA-gated AJAX search. Results
// and detail views are HTML tables keyed by a long numeric filing number.
package nclat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"casewatch/internal/cases/models"
	"casewatch/internal/source"
	"casewatch/internal/source/captcha"
)

const (
	defaultMainURL    = "https://efiling.nclat.gov.in/mainPage.drt"
	defaultStatusURL  = "https://efiling.nclat.gov.in/nclat/case_status.php"
	defaultAjaxURL    = "https://efiling.nclat.gov.in/nclat/ajax/ajax.php"
	defaultCaptchaURL = "https://efiling.nclat.gov.in/nclat/captcha.php"

	defaultCaptchaAttempts = 3
)

// caseTypeIDs maps the registry's case-type names to their form ids. Callers
// may also pass the numeric id directly.
var caseTypeIDs = map[string]string{
	"company appeal(at)":                   "32",
	"company appeal(at)(ins)":              "33",
	"competition appeal(at)":               "34",
	"interlocutory application":            "35",
	"compensation application":             "36",
	"contempt case(at)":                    "37",
	"review application":                   "38",
	"restoration application":              "39",
	"transfer appeal":                      "40",
	"transfer original petition (mrtp-at)": "61",
}

// filingNoRe matches the tribunal's filing numbers, ten or more digits.
var filingNoRe = regexp.MustCompile(`^\d{10,}$`)

// titleSplitRe splits a combined cause title on the VS separator in its
// various spellings (VS, V/S, V.S.).
var titleSplitRe = regexp.MustCompile(`(?i)\s+v[/.]?s\.?\s+`)

// Adapter implements source.Adapter for the NCLAT.
type Adapter struct {
	http     *http.Client
	resolver captcha.Resolver
	logger   *log.Logger

	mainURL    string
	statusURL  string
	ajaxURL    string
	captchaURL string
	attempts   int
	timeout    time.Duration
	onAttempt  func()
}

// Option tunes adapter construction.
type Option func(*Adapter)

// WithEndpoints overrides the scraped URLs, mainly for tests.
func WithEndpoints(mainURL, statusURL, ajaxURL, captchaURL string) Option {
	return func(a *Adapter) {
		a.mainURL, a.statusURL, a.ajaxURL, a.captchaURL = mainURL, statusURL, ajaxURL, captchaURL
	}
}

// WithCaptchaAttempts bounds the per-query CAPTCHA retry count.
func WithCaptchaAttempts(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.attempts = n
		}
	}
}

// WithAttemptHook registers a hook invoked per CAPTCHA submission, typically
// a metrics counter increment.
func WithAttemptHook(fn func()) Option {
	return func(a *Adapter) {
		a.onAttempt = fn
	}
}

// New builds the NCLAT adapter. The site tracks the bootstrapped session in a
// PHPSESSID cookie, so a client without a jar gets a jar-carrying copy.
func New(client *http.Client, resolver captcha.Resolver, timeout time.Duration, logger *log.Logger, opts ...Option) *Adapter {
	if client == nil {
		client = http.DefaultClient
	}
	if client.Jar == nil {
		jar, _ := cookiejar.New(nil)
		withJar := *client
		withJar.Jar = jar
		client = &withJar
	}
	a := &Adapter{
		http:       client,
		resolver:   resolver,
		logger:     logger,
		mainURL:    defaultMainURL,
		statusURL:  defaultStatusURL,
		ajaxURL:    defaultAjaxURL,
		captchaURL: defaultCaptchaURL,
		attempts:   defaultCaptchaAttempts,
		timeout:    timeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Source() models.CourtSource { return models.SourceNCLAT }

// Search runs the case-number search. The case type may be the registry's
// numeric id or one of its published names; the court hint selects the Delhi
// or Chennai schema.
func (a *Adapter) Search(ctx context.Context, criteria source.SearchCriteria) ([]source.RawCaseMatch, error) {
	ctx, cancel := source.WithTimeout(ctx, a.timeout)
	defer cancel()

	caseType := caseTypeID(criteria.CaseType)
	if caseType == "" {
		return nil, source.Errorf(source.KindValidation, models.SourceNCLAT, "search",
			"unknown case type %q", criteria.CaseType)
	}
	if strings.TrimSpace(criteria.NumberOrName) == "" {
		return nil, source.Errorf(source.KindValidation, models.SourceNCLAT, "search", "case number is required")
	}
	schema := schemaFor(criteria.CourtHint["bench"])

	year := strings.TrimSpace(criteria.Year)
	if year == "" {
		year = "All"
	}
	page, err := a.searchPage(ctx, url.Values{
		"action":      {"case_status_search"},
		"search_by":   {"3"},
		"case_type":   {caseType},
		"case_number": {strings.TrimSpace(criteria.NumberOrName)},
		"case_year":   {year},
		"schema_name": {schema},
	})
	if err != nil {
		return nil, err
	}
	return a.parseMatches(page, criteria, schema)
}

// Fetch loads the full detail view for a previously matched case. The filing
// number and schema are recorded in the identity routing by Search.
func (a *Adapter) Fetch(ctx context.Context, identity models.CaseIdentity) (*source.RawCaseDetail, error) {
	ctx, cancel := source.WithTimeout(ctx, a.timeout)
	defer cancel()

	filingNo := identity.Routing["filing_no"]
	if filingNo == "" {
		return nil, source.Errorf(source.KindValidation, models.SourceNCLAT, "fetch", "identity carries no filing number")
	}
	schema := identity.Routing["schema"]
	if schema == "" {
		schema = "delhi"
	}

	page, err := a.ajaxPost(ctx, "fetch", url.Values{
		"action":      {"case_status_case_details"},
		"filing_no":   {filingNo},
		"schema_name": {schema},
	})
	if err != nil {
		return nil, err
	}
	if directAccessBlocked(page) {
		return nil, source.Errorf(source.KindUnavailable, models.SourceNCLAT, "fetch", "detail request rejected, session not established")
	}
	return a.parseDetail(page, identity, schema)
}

// searchPage runs the CAPTCHA-gated AJAX search, retrying with a fresh
// challenge on rejection up to the configured cap.
func (a *Adapter) searchPage(ctx context.Context, form url.Values) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		guess, err := a.solveCaptcha(ctx)
		if err != nil {
			return "", err
		}
		form.Set("answer", guess)

		if a.onAttempt != nil {
			a.onAttempt()
		}
		page, err := a.ajaxPost(ctx, "search", form)
		if err != nil {
			return "", err
		}
		if !captchaRejected(page) {
			return page, nil
		}
		lastErr = fmt.Errorf("captcha guess %q rejected", guess)
		if a.logger != nil {
			a.logger.Printf("nclat: captcha rejected, attempt %d/%d", attempt, a.attempts)
		}
	}
	return "", source.NewError(source.KindCaptcha, models.SourceNCLAT, "search",
		fmt.Errorf("exhausted %d captcha attempts: %w", a.attempts, lastErr))
}

// solveCaptcha fetches a fresh CAPTCHA image and resolves it to a text guess.
// The bootstrap runs first so the image is issued against a live session.
func (a *Adapter) solveCaptcha(ctx context.Context) (string, error) {
	if err := a.ensureSession(ctx); err != nil {
		return "", err
	}

	imgURL := fmt.Sprintf("%s?_=%d", a.captchaURL, time.Now().UnixMilli())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imgURL, nil)
	if err != nil {
		return "", source.NewError(source.KindValidation, models.SourceNCLAT, "search", err)
	}
	req.Header.Set("Referer", a.statusURL)

	resp, err := a.http.Do(req)
	if err != nil {
		return "", source.NewError(source.KindNetwork, models.SourceNCLAT, "search", err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode, "search"); err != nil {
		return "", err
	}
	image, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", source.NewError(source.KindNetwork, models.SourceNCLAT, "search", err)
	}

	guess, err := a.resolver.Resolve(ctx, image)
	if err != nil {
		return "", source.NewError(source.KindCaptcha, models.SourceNCLAT, "search", err)
	}
	return guess, nil
}

// ensureSession bootstraps the case-status session once. The status page
// refuses direct access until the entry page's srfCaseStatus token has been
// posted back, which sets the PHPSESSID cookie the AJAX endpoint checks.
func (a *Adapter) ensureSession(ctx context.Context) error {
	if a.sessionLive() {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.mainURL, nil)
	if err != nil {
		return source.NewError(source.KindValidation, models.SourceNCLAT, "search", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return source.NewError(source.KindNetwork, models.SourceNCLAT, "search", err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode, "search"); err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return source.NewError(source.KindValidation, models.SourceNCLAT, "search", err)
	}
	token, _ := doc.Find(`form#form_casestatus input[name="srfCaseStatus"]`).Attr("value")
	if token == "" {
		return source.Errorf(source.KindValidation, models.SourceNCLAT, "search", "entry page carries no case-status token")
	}

	form := url.Values{"srfCaseStatus": {token}}
	postReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.statusURL, strings.NewReader(form.Encode()))
	if err != nil {
		return source.NewError(source.KindValidation, models.SourceNCLAT, "search", err)
	}
	postReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	postReq.Header.Set("Referer", a.mainURL)

	postResp, err := a.http.Do(postReq)
	if err != nil {
		return source.NewError(source.KindNetwork, models.SourceNCLAT, "search", err)
	}
	defer postResp.Body.Close()
	if err := classifyStatus(postResp.StatusCode, "search"); err != nil {
		return err
	}
	body, err := io.ReadAll(postResp.Body)
	if err != nil {
		return source.NewError(source.KindNetwork, models.SourceNCLAT, "search", err)
	}
	if directAccessBlocked(string(body)) {
		return source.Errorf(source.KindUnavailable, models.SourceNCLAT, "search", "case-status page still blocked after bootstrap")
	}
	return nil
}

// sessionLive reports whether the jar already carries the session cookie.
func (a *Adapter) sessionLive() bool {
	u, err := url.Parse(a.statusURL)
	if err != nil {
		return false
	}
	for _, c := range a.http.Jar.Cookies(u) {
		if c.Name == "PHPSESSID" && c.Value != "" {
			return true
		}
	}
	return false
}

// ajaxPost posts to the AJAX endpoint the way the site's own frontend does.
func (a *Adapter) ajaxPost(ctx context.Context, op string, form url.Values) (string, error) {
	if err := a.ensureSession(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.ajaxURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", source.NewError(source.KindValidation, models.SourceNCLAT, op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", a.statusURL)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", source.NewError(source.KindNetwork, models.SourceNCLAT, op, err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode, op); err != nil {
		return "", err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", source.NewError(source.KindNetwork, models.SourceNCLAT, op, err)
	}
	return string(body), nil
}

// parseMatches reads the search result table. Rows are keyed by the filing
// number in the second column; anything without one is decoration.
func (a *Adapter) parseMatches(page string, criteria source.SearchCriteria, schema string) ([]source.RawCaseMatch, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, source.NewError(source.KindValidation, models.SourceNCLAT, "search", err)
	}

	var matches []source.RawCaseMatch
	doc.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		cols := tr.Find("td").Map(func(_ int, td *goquery.Selection) string {
			return strings.TrimSpace(td.Text())
		})
		if len(cols) < 5 {
			return
		}
		filingNo := cols[1]
		if !filingNoRe.MatchString(filingNo) {
			return
		}
		matches = append(matches, source.RawCaseMatch{
			Source: models.SourceNCLAT,
			Identity: models.CaseIdentity{
				Source:   models.SourceNCLAT,
				CaseType: criteria.CaseType,
				Number:   criteria.NumberOrName,
				Year:     criteria.Year,
				Routing:  map[string]string{"filing_no": filingNo, "schema": schema},
			},
			Title: cols[3],
			Fields: map[string]string{
				"case_no":           cols[2],
				"registration_date": cols[4],
			},
		})
	})
	if len(matches) == 0 {
		return nil, source.Errorf(source.KindNotFound, models.SourceNCLAT, "search", "no rows in result table")
	}
	return matches, nil
}

// parseDetail reads the detail view: a label/value grid for the case header,
// two-column party and representative tables, and the order and hearing
// history grids.
func (a *Adapter) parseDetail(page string, identity models.CaseIdentity, schema string) (*source.RawCaseDetail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, source.NewError(source.KindValidation, models.SourceNCLAT, "fetch", err)
	}

	fields := map[string]string{}
	tables := doc.Find("table")

	tables.Each(func(_ int, t *goquery.Selection) {
		if !isCaseHeaderTable(t) {
			return
		}
		t.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			cells := cellTexts(tr)
			if len(cells) == 2 && normKey(cells[0]) == "status" {
				fields["status"] = cells[1]
				return
			}
			// The grid interleaves spacer cells, so labels and values are
			// read as a sliding pair window.
			for i := 0; i+1 < len(cells); {
				label, value := cells[i], cells[i+1]
				if label == "" || value == "" {
					i++
					continue
				}
				switch normKey(label) {
				case "filing no", "filing number":
					fields["filing_no"] = value
				case "date of filing":
					fields["date_of_filing"] = value
				case "case no", "case number":
					fields["case_no"] = value
				case "registration date":
					fields["registration_date"] = value
				}
				i += 2
			}
		})
	})

	// The site spells "Respondent" without the n in its table headers.
	petitioners := collectTwoColValues(tables, func(header string) bool {
		return strings.Contains(header, "applicant/appellant") && !strings.Contains(header, "legal representative")
	})
	respondents := collectTwoColValues(tables, func(header string) bool {
		return strings.Contains(header, "respodent") && !strings.Contains(header, "legal representative")
	})
	petAdvocates := collectTwoColValues(tables, func(header string) bool {
		return strings.Contains(header, "legal representative") && !strings.Contains(header, "respodent")
	})
	resAdvocates := collectTwoColValues(tables, func(header string) bool {
		return strings.Contains(header, "respodent") && strings.Contains(header, "legal representative")
	})

	if len(petitioners) == 0 || len(respondents) == 0 {
		// Fall back to the cause title above the grid.
		title := strings.TrimSpace(tables.First().Text())
		pet, res := splitTitle(title)
		if len(petitioners) == 0 && pet != "" {
			petitioners = []string{pet}
		}
		if len(respondents) == 0 && res != "" {
			respondents = []string{res}
		}
	}
	setJoined(fields, "pet_name", petitioners)
	setJoined(fields, "res_name", respondents)
	setJoined(fields, "pet_adv", petAdvocates)
	setJoined(fields, "res_adv", resAdvocates)

	if len(fields) == 0 {
		return nil, source.Errorf(source.KindNotFound, models.SourceNCLAT, "fetch", "detail page carries no fields")
	}
	fields["court_name"] = "NCLAT"
	fields["bench_name"] = schema

	orders := a.parseOrders(tables)
	hearings := parseHearings(tables)

	raw, _ := json.Marshal(fields)
	return &source.RawCaseDetail{
		Source:   models.SourceNCLAT,
		Identity: identity,
		Fields:   fields,
		Hearings: hearings,
		Orders:   orders,
		Payload:  raw,
	}, nil
}

// parseOrders reads the order-history grid. Document links point at
// order_view.php and are resolved against the AJAX base.
func (a *Adapter) parseOrders(tables *goquery.Selection) []map[string]string {
	base, _ := url.Parse(a.ajaxURL)
	var orders []map[string]string
	tables.EachWithBreak(func(_ int, t *goquery.Selection) bool {
		headers := headerText(t)
		if !strings.Contains(headers, "order date") || !strings.Contains(headers, "order type") {
			return true
		}
		t.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			cols := tr.Find("td").Map(func(_ int, td *goquery.Selection) string {
				return strings.TrimSpace(td.Text())
			})
			if len(cols) < 3 {
				return
			}
			docURL := ""
			if href, ok := tr.Find("a[href]").First().Attr("href"); ok {
				docURL = href
				if rel, err := url.Parse(href); err == nil && base != nil {
					docURL = base.ResolveReference(rel).String()
				}
			}
			description := cols[2]
			if description == "" {
				description = "Order"
			}
			orders = append(orders, map[string]string{
				"date":         cols[1],
				"description":  description,
				"document_url": docURL,
			})
		})
		return false
	})
	return orders
}

// parseHearings reads the hearing-history grid.
func parseHearings(tables *goquery.Selection) []map[string]string {
	var hearings []map[string]string
	tables.EachWithBreak(func(_ int, t *goquery.Selection) bool {
		headers := headerText(t)
		if !strings.Contains(headers, "hearing date") || !strings.Contains(headers, "purpose") {
			return true
		}
		t.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			cols := tr.Find("td").Map(func(_ int, td *goquery.Selection) string {
				return strings.TrimSpace(td.Text())
			})
			if len(cols) < 4 {
				return
			}
			hearings = append(hearings, map[string]string{
				"hearing_date": cols[1],
				"court_no":     cols[2],
				"purpose":      cols[3],
			})
		})
		return false
	})
	return hearings
}

// isCaseHeaderTable recognizes the label/value case grid and rejects the
// connected-cases listing, whose header row starts with a serial number.
func isCaseHeaderTable(t *goquery.Selection) bool {
	headers := headerText(t)
	if strings.Contains(headers, "sr. no") || strings.Contains(headers, "sr no") {
		return false
	}
	found := false
	t.Find("tr").EachWithBreak(func(i int, tr *goquery.Selection) bool {
		if i >= 3 {
			return false
		}
		cells := cellTexts(tr)
		if len(cells) >= 5 &&
			normKey(cells[0]) == "filing no" &&
			filingNoRe.MatchString(cells[1]) &&
			normKey(cells[3]) == "date of filing" &&
			cells[4] != "" {
			found = true
			return false
		}
		return true
	})
	return found
}

// collectTwoColValues gathers second-column values from tables whose header
// matches. "No data" placeholders are dropped.
func collectTwoColValues(tables *goquery.Selection, match func(header string) bool) []string {
	var out []string
	tables.Each(func(_ int, t *goquery.Selection) {
		if !match(headerText(t)) {
			return
		}
		t.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			tds := tr.Find("td")
			if tds.Length() < 2 {
				return
			}
			value := strings.TrimSpace(tds.Eq(1).Text())
			if value != "" && !strings.EqualFold(value, "no data") {
				out = append(out, value)
			}
		})
	})
	return out
}

func headerText(t *goquery.Selection) string {
	parts := t.Find("th").Map(func(_ int, th *goquery.Selection) string {
		return strings.ToLower(strings.TrimSpace(th.Text()))
	})
	return strings.Join(parts, " ")
}

func cellTexts(tr *goquery.Selection) []string {
	return tr.Find("th, td").Map(func(_ int, c *goquery.Selection) string {
		return strings.TrimSpace(c.Text())
	})
}

var normKeyRe = regexp.MustCompile(`[^a-z0-9]+`)

func normKey(s string) string {
	return strings.TrimSpace(normKeyRe.ReplaceAllString(strings.ToLower(s), " "))
}

func setJoined(fields map[string]string, key string, values []string) {
	if len(values) > 0 {
		fields[key] = strings.Join(values, ", ")
	}
}

func splitTitle(title string) (pet, res string) {
	parts := titleSplitRe.Split(title, 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}
	return strings.TrimSpace(title), ""
}

// caseTypeID resolves a case-type name or numeric id to the form id.
func caseTypeID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if isDigits(s) {
		return s
	}
	s = strings.Join(strings.Fields(s), " ")
	return caseTypeIDs[s]
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// schemaFor routes a bench hint to the Delhi or Chennai schema; Delhi is the
// principal bench and the default.
func schemaFor(bench string) string {
	if strings.Contains(strings.ToLower(bench), "chennai") {
		return "chennai"
	}
	return "delhi"
}

func captchaRejected(page string) bool {
	return strings.Contains(page, "Captch Value is incorrect")
}

func directAccessBlocked(page string) bool {
	return strings.Contains(page, "Direct access not allowed")
}

func classifyStatus(code int, op string) error {
	switch {
	case code == http.StatusTooManyRequests:
		return source.Errorf(source.KindRateLimited, models.SourceNCLAT, op, "status %d", code)
	case code >= 500:
		return source.Errorf(source.KindUnavailable, models.SourceNCLAT, op, "status %d", code)
	case code != http.StatusOK:
		return source.Errorf(source.KindNetwork, models.SourceNCLAT, op, "unexpected status %d", code)
	}
	return nil
}
