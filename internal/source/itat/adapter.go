// Package itat scrapes the income-tax appellate tribunal's case-status pages.
// Searches are CAPTCHA-gated form posts; results and detail views are plain
// HTML tables that are parsed field-by-field. Markup drift shows up as
// missing expected fields and is reported as a validation failure, never a
// crash.
package itat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"casewatch/internal/cases/models"
	"casewatch/internal/source"
	"casewatch/internal/source/captcha"
)

const (
	defaultFormURL   = "https://itat.gov.in/judicial/casestatus"
	defaultDetailURL = "https://itat.gov.in/judicial/judicialdetail"

	defaultCaptchaAttempts = 3
)

// Adapter implements source.Adapter for the ITAT.
type Adapter struct {
	http     *http.Client
	resolver captcha.Resolver
	logger   *log.Logger

	formURL   string
	detailURL string
	attempts  int
	timeout   time.Duration
	onAttempt func()
}

// Option tunes adapter construction.
type Option func(*Adapter)

// WithEndpoints overrides the scraped URLs, mainly for tests.
func WithEndpoints(formURL, detailURL string) Option {
	return func(a *Adapter) {
		a.formURL, a.detailURL = formURL, detailURL
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

// New builds the ITAT adapter.
func New(client *http.Client, resolver captcha.Resolver, timeout time.Duration, logger *log.Logger, opts ...Option) *Adapter {
	if client == nil {
		client = http.DefaultClient
	}
	a := &Adapter{
		http:      client,
		resolver:  resolver,
		logger:    logger,
		formURL:   defaultFormURL,
		detailURL: defaultDetailURL,
		attempts:  defaultCaptchaAttempts,
		timeout:   timeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Source() models.CourtSource { return models.SourceITAT }

// Search posts the case-status form. Bench and appeal type come from the
// court hint; both are ITAT-issued codes.
func (a *Adapter) Search(ctx context.Context, criteria source.SearchCriteria) ([]source.RawCaseMatch, error) {
	ctx, cancel := source.WithTimeout(ctx, a.timeout)
	defer cancel()

	page, err := a.searchPage(ctx, criteria)
	if err != nil {
		return nil, err
	}
	return a.parseMatches(page, criteria)
}

// Fetch loads the detail view for a previously matched case. The detail uid
// is recorded in the identity routing by Search.
func (a *Adapter) Fetch(ctx context.Context, identity models.CaseIdentity) (*source.RawCaseDetail, error) {
	ctx, cancel := source.WithTimeout(ctx, a.timeout)
	defer cancel()

	uid := identity.Routing["uid"]
	if uid == "" {
		return nil, source.Errorf(source.KindValidation, models.SourceITAT, "fetch", "identity carries no detail uid")
	}

	form := url.Values{"uid": {uid}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.detailURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, source.NewError(source.KindValidation, models.SourceITAT, "fetch", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, source.NewError(source.KindNetwork, models.SourceITAT, "fetch", err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode, "fetch"); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, source.NewError(source.KindNetwork, models.SourceITAT, "fetch", err)
	}

	return a.parseDetail(string(body), identity)
}

// searchPage runs the CAPTCHA-gated form post, retrying with a fresh
// challenge on rejection up to the configured cap.
func (a *Adapter) searchPage(ctx context.Context, criteria source.SearchCriteria) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		guess, csrf, err := a.solveChallenge(ctx)
		if err != nil {
			return "", err
		}

		form := url.Values{
			"csrf_test_name": {csrf},
			"bench1":         {criteria.CourtHint["bench"]},
			"appeal_type1":   {criteria.CaseType},
			"numbernew":      {criteria.NumberOrName},
			"yearnew":        {criteria.Year},
			"userCaptcha1":   {guess},
			"btnSubmit1":     {"submit1"},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.formURL, strings.NewReader(form.Encode()))
		if err != nil {
			return "", source.NewError(source.KindValidation, models.SourceITAT, "search", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		if a.onAttempt != nil {
			a.onAttempt()
		}
		resp, err := a.http.Do(req)
		if err != nil {
			return "", source.NewError(source.KindNetwork, models.SourceITAT, "search", err)
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err := classifyStatus(resp.StatusCode, "search"); err != nil {
			return "", err
		}
		if readErr != nil {
			return "", source.NewError(source.KindNetwork, models.SourceITAT, "search", readErr)
		}

		page := string(body)
		if !captchaRejected(page) {
			return page, nil
		}
		lastErr = fmt.Errorf("captcha guess %q rejected", guess)
		if a.logger != nil {
			a.logger.Printf("itat: captcha rejected, attempt %d/%d", attempt, a.attempts)
		}
	}
	return "", source.NewError(source.KindCaptcha, models.SourceITAT, "search",
		fmt.Errorf("exhausted %d captcha attempts: %w", a.attempts, lastErr))
}

// solveChallenge loads the form page, pulls the CSRF token and CAPTCHA image,
// and resolves the image to a text guess.
func (a *Adapter) solveChallenge(ctx context.Context) (guess, csrf string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.formURL, nil)
	if err != nil {
		return "", "", source.NewError(source.KindValidation, models.SourceITAT, "search", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return "", "", source.NewError(source.KindNetwork, models.SourceITAT, "search", err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode, "search"); err != nil {
		return "", "", err
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", "", source.NewError(source.KindValidation, models.SourceITAT, "search", err)
	}
	csrf, _ = doc.Find(`input[name="csrf_test_name"]`).Attr("value")
	imgSrc, ok := doc.Find("img[src*='captcha']").Attr("src")
	if !ok {
		return "", "", source.Errorf(source.KindValidation, models.SourceITAT, "search", "form page carries no captcha image")
	}

	imgURL := imgSrc
	if !strings.HasPrefix(imgSrc, "http") {
		base, _ := url.Parse(a.formURL)
		if rel, perr := url.Parse(imgSrc); perr == nil && base != nil {
			imgURL = base.ResolveReference(rel).String()
		}
	}

	imgReq, err := http.NewRequestWithContext(ctx, http.MethodGet, imgURL, nil)
	if err != nil {
		return "", "", source.NewError(source.KindValidation, models.SourceITAT, "search", err)
	}
	imgResp, err := a.http.Do(imgReq)
	if err != nil {
		return "", "", source.NewError(source.KindNetwork, models.SourceITAT, "search", err)
	}
	defer imgResp.Body.Close()
	image, err := io.ReadAll(imgResp.Body)
	if err != nil {
		return "", "", source.NewError(source.KindNetwork, models.SourceITAT, "search", err)
	}

	guess, err = a.resolver.Resolve(ctx, image)
	if err != nil {
		return "", "", source.NewError(source.KindCaptcha, models.SourceITAT, "search", err)
	}
	return guess, csrf, nil
}

// parseMatches reads the result table (class "searchtble") into matches.
func (a *Adapter) parseMatches(page string, criteria source.SearchCriteria) ([]source.RawCaseMatch, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, source.NewError(source.KindValidation, models.SourceITAT, "search", err)
	}

	var matches []source.RawCaseMatch
	doc.Find("table.searchtble tr").Each(func(i int, tr *goquery.Selection) {
		if i == 0 {
			return
		}
		cols := tr.Find("td").Map(func(_ int, td *goquery.Selection) string {
			return strings.TrimSpace(td.Text())
		})
		if len(cols) < 3 {
			return
		}
		uid, _ := tr.Find("a[href], input[name='uid']").First().Attr("value")
		if uid == "" {
			if href, ok := tr.Find("a[href]").First().Attr("href"); ok {
				uid = strings.TrimSpace(href[strings.LastIndex(href, "/")+1:])
			}
		}
		matches = append(matches, source.RawCaseMatch{
			Source: models.SourceITAT,
			Identity: models.CaseIdentity{
				Source:   models.SourceITAT,
				CaseType: criteria.CaseType,
				Number:   criteria.NumberOrName,
				Year:     criteria.Year,
				Routing:  map[string]string{"uid": uid, "bench": criteria.CourtHint["bench"]},
			},
			Title:  cols[1],
			Status: cols[2],
			Fields: map[string]string{"appeal_no": cols[0]},
		})
	})
	if len(matches) == 0 {
		return nil, source.Errorf(source.KindNotFound, models.SourceITAT, "search", "no rows in result table")
	}
	return matches, nil
}

// parseDetail reads the label/value rows of the detail view.
func (a *Adapter) parseDetail(page string, identity models.CaseIdentity) (*source.RawCaseDetail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, source.NewError(source.KindValidation, models.SourceITAT, "fetch", err)
	}

	fields := map[string]string{}
	doc.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("th, td")
		if cells.Length() < 2 {
			return
		}
		label := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(cells.Eq(0).Text()), ":"))
		value := strings.TrimSpace(cells.Eq(1).Text())
		if label != "" && value != "" {
			fields[label] = value
		}
	})
	if len(fields) == 0 {
		return nil, source.Errorf(source.KindNotFound, models.SourceITAT, "fetch", "detail page carries no fields")
	}

	var orders []map[string]string
	doc.Find("a[href$='.pdf']").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		orders = append(orders, map[string]string{
			"description":  strings.TrimSpace(s.Text()),
			"document_url": href,
		})
	})

	raw, _ := json.Marshal(fields)
	return &source.RawCaseDetail{
		Source:   models.SourceITAT,
		Identity: identity,
		Fields:   fields,
		Orders:   orders,
		Payload:  raw,
	}, nil
}

func captchaRejected(page string) bool {
	lower := strings.ToLower(page)
	return strings.Contains(lower, "invalid captcha") || strings.Contains(lower, "captcha mismatch")
}

func classifyStatus(code int, op string) error {
	switch {
	case code == http.StatusTooManyRequests:
		return source.Errorf(source.KindRateLimited, models.SourceITAT, op, "status %d", code)
	case code >= 500:
		return source.Errorf(source.KindUnavailable, models.SourceITAT, op, "status %d", code)
	case code != http.StatusOK:
		return source.Errorf(source.KindNetwork, models.SourceITAT, op, "unexpected status %d", code)
	}
	return nil
}
