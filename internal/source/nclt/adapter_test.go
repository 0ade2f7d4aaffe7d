package nclt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casewatch/internal/cases/models"
	"casewatch/internal/source"
)

func TestBenchCode(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Principal Bench", "10"},
		{"NCLT Mumbai", "9"},
		{"bengaluru", "3"},
		{"Bangalore Bench", "3"},
		{"Allahabad (Prayagraj)", "2"},
		{"", "0"},
		{"Timbuktu", "0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BenchCode(tt.name), tt.name)
	}
}

func ncltServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "9", body["benchId"])
		assert.Equal(t, "44", body["caseNo"])
		fmt.Fprint(w, `[
			{"filing_no":"0900044/2023","case_no":"CP(IB) 44/2023","case_title1":"Oak Traders","case_title2":"Pine Finance","status":"Pending","date_of_filing":"02-03-2023","next_date":"15-09-2026","bench_location_name":"Mumbai"}
		]`)
	})
	mux.HandleFunc("/details", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["filingNo"] != "0900044/2023" {
			fmt.Fprint(w, `{}`)
			return
		}
		fmt.Fprint(w, `{"filing_no":"0900044/2023","case_no":"CP(IB) 44/2023","case_title1":"Oak Traders","case_title2":"Pine Finance","status":"Pending","date_of_filing":"02-03-2023","next_date":"15-09-2026","bench_location_name":"Mumbai","court_no":"II"}`)
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"order_date":"01-07-2026","order_desc":"Admission order","file_path":"/orders/44.pdf"}]`)
	})
	return httptest.NewServer(mux)
}

func newTestAdapter(srv *httptest.Server) *Adapter {
	return New(srv.Client(), 5*time.Second,
		WithEndpoints(srv.URL+"/search", srv.URL+"/details", srv.URL+"/orders"))
}

func TestSearch(t *testing.T) {
	srv := ncltServer(t)
	defer srv.Close()

	matches, err := newTestAdapter(srv).Search(context.Background(), source.SearchCriteria{
		NumberOrName: "44",
		CaseType:     "CP(IB)",
		Year:         "2023",
		CourtHint:    map[string]string{"bench": "Mumbai"},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)

	m := matches[0]
	assert.Equal(t, "Oak Traders vs Pine Finance", m.Title)
	assert.Equal(t, "Pending", m.Status)
	assert.Equal(t, "CP(IB) 44/2023", m.Identity.Number)
	assert.Equal(t, "0900044/2023", m.Identity.Routing["filing_no"], "filing number recorded for fetch")
}

func TestSearchNoMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	_, err := New(srv.Client(), 5*time.Second, WithEndpoints(srv.URL, srv.URL, srv.URL)).
		Search(context.Background(), source.SearchCriteria{NumberOrName: "44"})
	assert.Equal(t, source.KindNotFound, source.KindOf(err))
}

func TestFetch(t *testing.T) {
	srv := ncltServer(t)
	defer srv.Close()

	identity := models.CaseIdentity{
		Source:   models.SourceNCLT,
		CaseType: "CP(IB)",
		Number:   "44",
		Year:     "2023",
		Routing:  map[string]string{"filing_no": "0900044/2023"},
	}
	detail, err := newTestAdapter(srv).Fetch(context.Background(), identity)
	require.NoError(t, err)

	assert.Equal(t, "Pending", detail.Fields["status"])
	assert.Equal(t, "15-09-2026", detail.Fields["next_date"])
	assert.Equal(t, "Oak Traders", detail.Fields["pet_name"])
	assert.Equal(t, "Mumbai", detail.Fields["bench_name"])
	require.Len(t, detail.Orders, 1)
	assert.Equal(t, "/orders/44.pdf", detail.Orders[0]["document_url"])
}

func TestFetchRequiresFilingNumber(t *testing.T) {
	srv := ncltServer(t)
	defer srv.Close()

	identity := models.CaseIdentity{Source: models.SourceNCLT, Number: "44", Year: "2023"}
	_, err := newTestAdapter(srv).Fetch(context.Background(), identity)
	assert.Equal(t, source.KindValidation, source.KindOf(err))
}

func TestFetchUnknownFilingIsNotFound(t *testing.T) {
	srv := ncltServer(t)
	defer srv.Close()

	identity := models.CaseIdentity{
		Source:  models.SourceNCLT,
		Number:  "99",
		Year:    "2023",
		Routing: map[string]string{"filing_no": "0900099/2023"},
	}
	_, err := newTestAdapter(srv).Fetch(context.Background(), identity)
	assert.Equal(t, source.KindNotFound, source.KindOf(err))
}

func TestFetchSurvivesOrderEndpointFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/details", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"filing_no":"0900044/2023","case_no":"CP(IB) 44/2023","status":"Pending"}`)
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	adapter := New(srv.Client(), 5*time.Second,
		WithEndpoints(srv.URL+"/search", srv.URL+"/details", srv.URL+"/orders"))

	identity := models.CaseIdentity{
		Source:  models.SourceNCLT,
		Number:  "44",
		Year:    "2023",
		Routing: map[string]string{"filing_no": "0900044/2023"},
	}
	detail, err := adapter.Fetch(context.Background(), identity)
	require.NoError(t, err)
	assert.Equal(t, "Pending", detail.Fields["status"])
	assert.Empty(t, detail.Orders)
}

func TestPostStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		kind   source.Kind
	}{
		{http.StatusTooManyRequests, source.KindRateLimited},
		{http.StatusBadGateway, source.KindUnavailable},
		{http.StatusForbidden, source.KindNetwork},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := New(srv.Client(), 5*time.Second, WithEndpoints(srv.URL, srv.URL, srv.URL)).
				Search(context.Background(), source.SearchCriteria{NumberOrName: "44"})
			assert.Equal(t, tt.kind, source.KindOf(err))
		})
	}
}
