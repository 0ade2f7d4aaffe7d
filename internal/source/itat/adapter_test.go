package itat

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casewatch/internal/cases/models"
	"casewatch/internal/source"
	"casewatch/internal/source/captcha"
)

const formPage = `<html><body><form>
<input type="hidden" name="csrf_test_name" value="csrf-9">
<img src="/captcha/image.png">
</form></body></html>`

const resultPage = `<table class="searchtble">
<tr><th>Appeal No</th><th>Parties</th><th>Status</th></tr>
<tr><td>ITA 77/MUM/2022</td><td>Oak Traders vs ACIT</td><td>Pending</td><td><a href="/judicial/detail/uid-77">View</a></td></tr>
</table>`

const detailPage = `<table>
<tr><th>Case Status</th><td>Pending</td></tr>
<tr><th>Date of Next Hearing:</th><td>15-09-2026</td></tr>
<tr><th>Appellant</th><td>Oak Traders</td></tr>
<tr><th>Respondent</th><td>ACIT Circle 4</td></tr>
</table>
<a href="/orders/77.pdf">Order dated 01-07-2026</a>`

// itatServer fakes the tribunal site: the form page with its CAPTCHA, the
// image endpoint, the gated search post and the detail view.
func itatServer(t *testing.T, rejections int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var posts atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/casestatus", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, formPage)
			return
		}
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "csrf-9", r.PostFormValue("csrf_test_name"))
		assert.Equal(t, "submit1", r.PostFormValue("btnSubmit1"))
		if posts.Add(1) <= int64(rejections) || r.PostFormValue("userCaptcha1") != "x7k2p" {
			fmt.Fprint(w, `<html><body>Invalid Captcha, please retry</body></html>`)
			return
		}
		fmt.Fprint(w, resultPage)
	})
	mux.HandleFunc("/captcha/image.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("png-bytes"))
	})
	mux.HandleFunc("/judicialdetail", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostFormValue("uid") != "uid-77" {
			fmt.Fprint(w, `<html><body>No record found</body></html>`)
			return
		}
		fmt.Fprint(w, detailPage)
	})
	return httptest.NewServer(mux), &posts
}

func newTestAdapter(srv *httptest.Server, resolver captcha.Resolver) *Adapter {
	return New(srv.Client(), resolver, 5*time.Second, log.New(io.Discard, "", 0),
		WithEndpoints(srv.URL+"/casestatus", srv.URL+"/judicialdetail"))
}

func goodResolver(t *testing.T) captcha.Resolver {
	return captcha.Func(func(ctx context.Context, image []byte) (string, error) {
		assert.Equal(t, "png-bytes", string(image))
		return "x7k2p", nil
	})
}

func TestSearch(t *testing.T) {
	srv, posts := itatServer(t, 0)
	defer srv.Close()

	matches, err := newTestAdapter(srv, goodResolver(t)).Search(context.Background(), source.SearchCriteria{
		NumberOrName: "77",
		CaseType:     "ITA",
		Year:         "2022",
		CourtHint:    map[string]string{"bench": "MUM"},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)

	m := matches[0]
	assert.Equal(t, "Oak Traders vs ACIT", m.Title)
	assert.Equal(t, "Pending", m.Status)
	assert.Equal(t, "uid-77", m.Identity.Routing["uid"], "detail uid recorded for fetch")
	assert.Equal(t, "ITA 77/MUM/2022", m.Fields["appeal_no"])
	assert.Equal(t, int64(1), posts.Load())
}

func TestSearchRetriesRejectedCaptcha(t *testing.T) {
	srv, posts := itatServer(t, 2)
	defer srv.Close()

	_, err := newTestAdapter(srv, goodResolver(t)).Search(context.Background(), source.SearchCriteria{NumberOrName: "77"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), posts.Load())
}

func TestSearchReportsEveryAttempt(t *testing.T) {
	srv, _ := itatServer(t, 1)
	defer srv.Close()

	var attempts atomic.Int64
	a := New(srv.Client(), goodResolver(t), 5*time.Second, log.New(io.Discard, "", 0),
		WithEndpoints(srv.URL+"/casestatus", srv.URL+"/judicialdetail"),
		WithAttemptHook(func() { attempts.Add(1) }))

	_, err := a.Search(context.Background(), source.SearchCriteria{NumberOrName: "77"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), attempts.Load(), "one rejection plus the accepted submission")
}

func TestSearchExhaustsCaptchaAttempts(t *testing.T) {
	srv, posts := itatServer(t, 0)
	defer srv.Close()

	wrong := captcha.Func(func(ctx context.Context, image []byte) (string, error) {
		return "wrong", nil
	})
	_, err := newTestAdapter(srv, wrong).Search(context.Background(), source.SearchCriteria{NumberOrName: "77"})
	require.Error(t, err)
	assert.Equal(t, source.KindCaptcha, source.KindOf(err))
	assert.Equal(t, int64(3), posts.Load())
}

func TestFetch(t *testing.T) {
	srv, _ := itatServer(t, 0)
	defer srv.Close()

	identity := models.CaseIdentity{
		Source:   models.SourceITAT,
		CaseType: "ITA",
		Number:   "77",
		Year:     "2022",
		Routing:  map[string]string{"uid": "uid-77"},
	}
	detail, err := newTestAdapter(srv, goodResolver(t)).Fetch(context.Background(), identity)
	require.NoError(t, err)

	assert.Equal(t, "Pending", detail.Fields["Case Status"])
	assert.Equal(t, "15-09-2026", detail.Fields["Date of Next Hearing"], "trailing colon stripped from labels")
	assert.Equal(t, "Oak Traders", detail.Fields["Appellant"])
	require.Len(t, detail.Orders, 1)
	assert.Equal(t, "/orders/77.pdf", detail.Orders[0]["document_url"])
}

func TestFetchRequiresUID(t *testing.T) {
	srv, _ := itatServer(t, 0)
	defer srv.Close()

	identity := models.CaseIdentity{Source: models.SourceITAT, Number: "77", Year: "2022"}
	_, err := newTestAdapter(srv, goodResolver(t)).Fetch(context.Background(), identity)
	assert.Equal(t, source.KindValidation, source.KindOf(err))
}

func TestFetchUnknownUIDIsNotFound(t *testing.T) {
	srv, _ := itatServer(t, 0)
	defer srv.Close()

	identity := models.CaseIdentity{
		Source:  models.SourceITAT,
		Number:  "99",
		Year:    "2022",
		Routing: map[string]string{"uid": "uid-99"},
	}
	_, err := newTestAdapter(srv, goodResolver(t)).Fetch(context.Background(), identity)
	assert.Equal(t, source.KindNotFound, source.KindOf(err))
}

func TestCaptchaRejected(t *testing.T) {
	assert.True(t, captchaRejected("<body>Invalid Captcha</body>"))
	assert.True(t, captchaRejected("<body>CAPTCHA MISMATCH</body>"))
	assert.False(t, captchaRejected(resultPage))
}
