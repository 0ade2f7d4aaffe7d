// Package sci scrapes the Supreme Court case-status interface. Every query is
// gated by an arithmetic CAPTCHA: the challenge image is read by an external
// resolver, the expression evaluated locally, and the answer submitted with
// the search form. Guesses are fallible, so each query retries with a fresh
// challenge up to a bounded count.
package sci

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"casewatch/internal/cases/models"
	"casewatch/internal/source"
	"casewatch/internal/source/captcha"
)

const (
	defaultTokenURL   = "https://www.sci.gov.in/case-status-case-no/"
	defaultCaptchaURL = "https://www.sci.gov.in/?_siwp_captcha&id="
	defaultDataURL    = "https://www.sci.gov.in/wp-admin/admin-ajax.php"

	defaultCaptchaAttempts = 3
)

// Adapter implements the source.Adapter contract for the Supreme Court.
type Adapter struct {
	http     *http.Client
	resolver captcha.Resolver
	logger   *log.Logger

	tokenURL   string
	captchaURL string
	dataURL    string

	attempts  int
	timeout   time.Duration
	onAttempt func()
}

// Option tunes adapter construction.
type Option func(*Adapter)

// WithEndpoints overrides the scraped URLs, mainly for tests.
func WithEndpoints(tokenURL, captchaURL, dataURL string) Option {
	return func(a *Adapter) {
		a.tokenURL, a.captchaURL, a.dataURL = tokenURL, captchaURL, dataURL
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

// New builds the Supreme Court adapter.
func New(client *http.Client, resolver captcha.Resolver, timeout time.Duration, logger *log.Logger, opts ...Option) *Adapter {
	if client == nil {
		client = http.DefaultClient
	}
	a := &Adapter{
		http:       client,
		resolver:   resolver,
		logger:     logger,
		tokenURL:   defaultTokenURL,
		captchaURL: defaultCaptchaURL,
		dataURL:    defaultDataURL,
		attempts:   defaultCaptchaAttempts,
		timeout:    timeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Source() models.CourtSource { return models.SourceSupremeCourt }

// challenge holds one solved CAPTCHA plus the form nonce scraped alongside it.
type challenge struct {
	scid       string
	nonceName  string
	nonceValue string
	answer     string
}

// Search queries by case number and year.
func (a *Adapter) Search(ctx context.Context, criteria source.SearchCriteria) ([]source.RawCaseMatch, error) {
	ctx, cancel := source.WithTimeout(ctx, a.timeout)
	defer cancel()

	form := url.Values{
		"action":      {"get_case_status"},
		"case_type":   {criteria.CaseType},
		"case_no":     {criteria.NumberOrName},
		"year":        {criteria.Year},
		"search_type": {"case_no"},
	}
	fragment, err := a.query(ctx, "search", form)
	if err != nil {
		return nil, err
	}
	return a.parseMatches(fragment, criteria)
}

// Fetch retrieves case detail by diary number.
func (a *Adapter) Fetch(ctx context.Context, identity models.CaseIdentity) (*source.RawCaseDetail, error) {
	ctx, cancel := source.WithTimeout(ctx, a.timeout)
	defer cancel()

	form := url.Values{
		"action":      {"get_case_status"},
		"diary_no":    {identity.Number},
		"diary_year":  {identity.Year},
		"search_type": {"diary_no"},
	}
	fragment, err := a.query(ctx, "fetch", form)
	if err != nil {
		return nil, err
	}
	return a.parseDetail(fragment, identity)
}

// query runs one CAPTCHA-gated request, retrying with a fresh challenge when
// the site rejects the guess, up to the configured attempt cap.
func (a *Adapter) query(ctx context.Context, op string, form url.Values) (string, error) {
	var lastErr error
	var prevNonce string
	for attempt := 1; attempt <= a.attempts; attempt++ {
		ch, err := a.solveChallenge(ctx, op)
		if err != nil {
			return "", err
		}

		// A fresh token page may rename the nonce field; drop the previous
		// attempt's key so stale parameters do not accumulate.
		if prevNonce != "" && prevNonce != ch.nonceName {
			form.Del(prevNonce)
		}
		prevNonce = ch.nonceName

		form.Set("scid", ch.scid)
		form.Set("siwp_captcha_value", ch.answer)
		form.Set(ch.nonceName, ch.nonceValue)

		if a.onAttempt != nil {
			a.onAttempt()
		}
		fragment, err := a.submit(ctx, op, form)
		if err == nil {
			return fragment, nil
		}
		if source.KindOf(err) != source.KindCaptcha {
			return "", err
		}
		lastErr = err
		if a.logger != nil {
			a.logger.Printf("sci: captcha rejected on %s, attempt %d/%d", op, attempt, a.attempts)
		}
	}
	return "", source.NewError(source.KindCaptcha, models.SourceSupremeCourt, op,
		fmt.Errorf("exhausted %d captcha attempts: %w", a.attempts, lastErr))
}

// solveChallenge scrapes the token page for the challenge id and form nonce,
// pulls the challenge image, and resolves it to an arithmetic answer.
func (a *Adapter) solveChallenge(ctx context.Context, op string) (*challenge, error) {
	page, err := a.get(ctx, op, a.tokenURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(page)))
	if err != nil {
		return nil, source.NewError(source.KindValidation, models.SourceSupremeCourt, op, err)
	}
	scid, ok := doc.Find(`input[name="scid"]`).Attr("value")
	if !ok || scid == "" {
		return nil, source.Errorf(source.KindValidation, models.SourceSupremeCourt, op, "token page carries no scid")
	}
	nonceName, nonceValue := "", ""
	doc.Find(`input[type="hidden"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name, _ := s.Attr("name")
		if strings.Contains(name, "nonce") || strings.HasPrefix(name, "es_ajax") {
			nonceName, _ = s.Attr("name")
			nonceValue, _ = s.Attr("value")
			return false
		}
		return true
	})
	if nonceName == "" {
		nonceName, nonceValue = "token", ""
	}

	image, err := a.get(ctx, op, a.captchaURL+scid)
	if err != nil {
		return nil, err
	}
	guess, err := a.resolver.Resolve(ctx, image)
	if err != nil {
		return nil, source.NewError(source.KindCaptcha, models.SourceSupremeCourt, op, err)
	}
	answer, err := evaluateExpression(guess)
	if err != nil {
		return nil, source.NewError(source.KindCaptcha, models.SourceSupremeCourt, op, err)
	}

	return &challenge{
		scid:       scid,
		nonceName:  nonceName,
		nonceValue: nonceValue,
		answer:     strconv.Itoa(answer),
	}, nil
}

// submit posts the form to the ajax endpoint and unwraps the HTML fragment.
// A rejected CAPTCHA surfaces as KindCaptcha so query can retry.
func (a *Adapter) submit(ctx context.Context, op string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.dataURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", source.NewError(source.KindValidation, models.SourceSupremeCourt, op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", source.NewError(source.KindNetwork, models.SourceSupremeCourt, op, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, op); err != nil {
		return "", err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", source.NewError(source.KindNetwork, models.SourceSupremeCourt, op, err)
	}

	var payload struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", source.Errorf(source.KindValidation, models.SourceSupremeCourt, op, "response is not JSON: %v", err)
	}

	var fragment string
	if err := json.Unmarshal(payload.Data, &fragment); err != nil {
		// A structured data object means the site returned a message, most
		// commonly a CAPTCHA rejection, instead of the result fragment.
		var msg struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload.Data, &msg)
		if strings.Contains(strings.ToLower(msg.Message), "captcha") {
			return "", source.Errorf(source.KindCaptcha, models.SourceSupremeCourt, op, "captcha rejected: %s", msg.Message)
		}
		return "", source.Errorf(source.KindValidation, models.SourceSupremeCourt, op, "unexpected message: %s", msg.Message)
	}
	if strings.Contains(strings.ToLower(fragment), "captcha") && strings.Contains(strings.ToLower(fragment), "invalid") {
		return "", source.Errorf(source.KindCaptcha, models.SourceSupremeCourt, op, "captcha rejected")
	}
	if strings.TrimSpace(fragment) == "" {
		return "", source.Errorf(source.KindNotFound, models.SourceSupremeCourt, op, "empty result fragment")
	}
	return fragment, nil
}

func (a *Adapter) parseMatches(fragment string, criteria source.SearchCriteria) ([]source.RawCaseMatch, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, source.NewError(source.KindValidation, models.SourceSupremeCourt, "search", err)
	}

	var matches []source.RawCaseMatch
	doc.Find("table tr").Each(func(i int, tr *goquery.Selection) {
		if i == 0 {
			return
		}
		cols := tr.Find("td").Map(func(_ int, td *goquery.Selection) string {
			return strings.TrimSpace(td.Text())
		})
		if len(cols) < 3 {
			return
		}
		diaryNo, diaryYear := splitDiary(cols[0])
		matches = append(matches, source.RawCaseMatch{
			Source: models.SourceSupremeCourt,
			Identity: models.CaseIdentity{
				Source:   models.SourceSupremeCourt,
				CaseType: criteria.CaseType,
				Number:   diaryNo,
				Year:     diaryYear,
			},
			Title:  cols[1],
			Status: cols[2],
			Fields: map[string]string{"diary": cols[0]},
		})
	})
	if len(matches) == 0 {
		return nil, source.Errorf(source.KindNotFound, models.SourceSupremeCourt, "search", "no matches in result fragment")
	}
	return matches, nil
}

// parseDetail reads the label/value detail table the status page renders.
func (a *Adapter) parseDetail(fragment string, identity models.CaseIdentity) (*source.RawCaseDetail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, source.NewError(source.KindValidation, models.SourceSupremeCourt, "fetch", err)
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
		return nil, source.Errorf(source.KindNotFound, models.SourceSupremeCourt, "fetch", "detail fragment carries no fields")
	}

	var hearings []map[string]string
	doc.Find("table.listing-history tr").Each(func(i int, tr *goquery.Selection) {
		if i == 0 {
			return
		}
		cols := tr.Find("td").Map(func(_ int, td *goquery.Selection) string {
			return strings.TrimSpace(td.Text())
		})
		if len(cols) < 2 {
			return
		}
		hearings = append(hearings, map[string]string{
			"hearing_date": cols[0],
			"purpose":      cols[1],
		})
	})

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
		Source:   models.SourceSupremeCourt,
		Identity: identity,
		Fields:   fields,
		Hearings: hearings,
		Orders:   orders,
		Payload:  raw,
	}, nil
}

func (a *Adapter) get(ctx context.Context, op, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, source.NewError(source.KindValidation, models.SourceSupremeCourt, op, err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, source.NewError(source.KindNetwork, models.SourceSupremeCourt, op, err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode, op); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, source.NewError(source.KindNetwork, models.SourceSupremeCourt, op, err)
	}
	return body, nil
}

func classifyStatus(code int, op string) error {
	switch {
	case code == http.StatusTooManyRequests:
		return source.Errorf(source.KindRateLimited, models.SourceSupremeCourt, op, "status %d", code)
	case code >= 500:
		return source.Errorf(source.KindUnavailable, models.SourceSupremeCourt, op, "status %d", code)
	case code != http.StatusOK:
		return source.Errorf(source.KindNetwork, models.SourceSupremeCourt, op, "unexpected status %d", code)
	}
	return nil
}

var (
	exprPattern  = regexp.MustCompile(`(\d+)\s*([+\-*/x×÷])\s*(\d+)`)
	diaryPattern = regexp.MustCompile(`(\d+)\s*[-/]\s*(\d{4})`)
)

// evaluateExpression solves the arithmetic challenge text the resolver reads
// off the image, e.g. "4 + 7 =" or "9 × 3".
func evaluateExpression(text string) (int, error) {
	m := exprPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, fmt.Errorf("unsupported captcha expression %q", text)
	}
	lhs, _ := strconv.Atoi(m[1])
	rhs, _ := strconv.Atoi(m[3])
	switch m[2] {
	case "+":
		return lhs + rhs, nil
	case "-":
		return lhs - rhs, nil
	case "*", "x", "×":
		return lhs * rhs, nil
	case "/", "÷":
		if rhs == 0 {
			return 0, fmt.Errorf("captcha divides by zero: %q", text)
		}
		return lhs / rhs, nil
	}
	return 0, fmt.Errorf("unsupported operator in %q", text)
}

// splitDiary splits "12345-2024" or "12345/2024" into number and year.
func splitDiary(s string) (string, string) {
	if m := diaryPattern.FindStringSubmatch(s); m != nil {
		return m[1], m[2]
	}
	return strings.TrimSpace(s), ""
}
