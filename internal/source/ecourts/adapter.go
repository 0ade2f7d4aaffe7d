package ecourts

import (
	"context"
	"encoding/json"
	"strings"

	"casewatch/internal/cases/models"
	"casewatch/internal/source"
)

// Protocol operation names, shared by the DC and HC backends.
const (
	opCaseHistory  = "caseHistoryWebService"
	opSearchByCase = "caseNumberSearch"
)

// Adapter serves the district- or high-court variant of the encrypted
// protocol. The two backends share operations; they differ in base URL,
// routing parameters and a few response keys.
type Adapter struct {
	client *Client
	src    models.CourtSource
}

// NewDistrictAdapter builds the district-court adapter.
func NewDistrictAdapter(client *Client) *Adapter {
	return &Adapter{client: client, src: models.SourceDistrictCourt}
}

// NewHighCourtAdapter builds the high-court adapter.
func NewHighCourtAdapter(client *Client) *Adapter {
	return &Adapter{client: client, src: models.SourceHighCourt}
}

func (a *Adapter) Source() models.CourtSource { return a.src }

// Search runs a case-number search. Routing codes (state, district, court)
// come from the criteria's court hint.
func (a *Adapter) Search(ctx context.Context, criteria source.SearchCriteria) ([]source.RawCaseMatch, error) {
	params := map[string]string{
		"case_number": criteria.NumberOrName,
		"case_type":   criteria.CaseType,
		"year":        criteria.Year,
		"state_code":  criteria.CourtHint["state_code"],
		"dist_code":   criteria.CourtHint["dist_code"],
		"court_code":  criteria.CourtHint["court_code"],
	}
	if a.src == models.SourceDistrictCourt {
		params["court_code_arr"] = criteria.CourtHint["court_code"]
		params["bilingual_flag"] = "0"
		params["language_flag"] = "english"
	}

	payload, err := a.client.Request(ctx, opSearchByCase, params)
	if err != nil {
		return nil, err
	}
	return a.parseSearch(payload, criteria)
}

// parseSearch handles both response shapes: DC nests the match list under a
// "0" envelope, HC returns it at the top level. Matches are '#'-separated
// rows of '~'-separated columns (cino, case number, party title).
func (a *Adapter) parseSearch(payload json.RawMessage, criteria source.SearchCriteria) ([]source.RawCaseMatch, error) {
	var caseNos string
	if a.src == models.SourceDistrictCourt {
		var resp map[string]struct {
			CaseNos string `json:"caseNos"`
		}
		if err := json.Unmarshal(payload, &resp); err != nil {
			return nil, source.Errorf(source.KindValidation, a.src, opSearchByCase,
				"unexpected search payload shape: %v", err)
		}
		caseNos = resp["0"].CaseNos
	} else {
		var resp struct {
			CaseNos string `json:"caseNos"`
		}
		if err := json.Unmarshal(payload, &resp); err != nil {
			return nil, source.Errorf(source.KindValidation, a.src, opSearchByCase,
				"unexpected search payload shape: %v", err)
		}
		caseNos = resp.CaseNos
	}
	if strings.TrimSpace(caseNos) == "" {
		return nil, source.Errorf(source.KindNotFound, a.src, opSearchByCase, "no matches for criteria")
	}

	var matches []source.RawCaseMatch
	for _, row := range strings.Split(caseNos, "#") {
		cols := strings.Split(row, "~")
		if len(cols) < 2 || strings.TrimSpace(cols[0]) == "" {
			continue
		}
		m := source.RawCaseMatch{
			Source: a.src,
			Identity: models.CaseIdentity{
				Source:   a.src,
				CNR:      strings.TrimSpace(cols[0]),
				CaseType: criteria.CaseType,
				Number:   criteria.NumberOrName,
				Year:     criteria.Year,
				Routing:  criteria.CourtHint,
			},
			Fields: map[string]string{"raw": row},
		}
		if len(cols) > 1 {
			m.Fields["case_no"] = strings.TrimSpace(cols[1])
		}
		if len(cols) > 2 {
			m.Title = strings.TrimSpace(cols[2])
		}
		matches = append(matches, m)
	}
	if len(matches) == 0 {
		return nil, source.Errorf(source.KindNotFound, a.src, opSearchByCase, "no usable rows in search result")
	}
	return matches, nil
}

// Fetch retrieves the full case history by CNR.
func (a *Adapter) Fetch(ctx context.Context, identity models.CaseIdentity) (*source.RawCaseDetail, error) {
	if identity.CNR == "" {
		return nil, source.Errorf(source.KindValidation, a.src, opCaseHistory, "identity carries no CNR")
	}

	params := map[string]string{
		"cinum":          identity.CNR,
		"language_flag":  "english",
		"bilingual_flag": "0",
	}
	if a.src == models.SourceHighCourt {
		params["state_code"] = identity.Routing["state_code"]
		params["court_code"] = identity.Routing["court_code"]
	}

	payload, err := a.client.Request(ctx, opCaseHistory, params)
	if err != nil {
		return nil, err
	}
	return convertDetail(a.src, identity, payload)
}
