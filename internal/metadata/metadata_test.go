package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProtocol struct {
	calls     int
	responses map[string]string
	err       error
}

func (f *fakeProtocol) Request(ctx context.Context, op string, params map[string]string) (json.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.responses[op]
	if !ok {
		return nil, errors.New("unexpected op " + op)
	}
	return json.RawMessage(body), nil
}

func TestStates(t *testing.T) {
	client := &fakeProtocol{responses: map[string]string{
		opStates: `{"states":[{"state_code":"1","state_name":"Maharashtra"},{"state_code":"26","state_name":"Delhi"}]}`,
	}}
	svc := New(client, nil, "test-uid")

	states, err := svc.States(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, State{Code: "1", Name: "Maharashtra"}, states[0])

	// Nil cache means every lookup goes upstream.
	_, err = svc.States(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
}

func TestDistricts(t *testing.T) {
	client := &fakeProtocol{responses: map[string]string{
		opDistricts: `{"districts":[{"dist_code":"4","dist_name":"Pune"}]}`,
	}}
	svc := New(client, nil, "test-uid")

	districts, err := svc.Districts(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, districts, 1)
	assert.Equal(t, District{Code: "4", Name: "Pune"}, districts[0])
}

func TestComplexes(t *testing.T) {
	client := &fakeProtocol{responses: map[string]string{
		opComplexes: `{"courtComplex":[{"njdg_est_code":"MHPU01","court_complex_name":"Shivajinagar Court Complex"}]}`,
	}}
	svc := New(client, nil, "test-uid")

	complexes, err := svc.Complexes(context.Background(), "1", "4")
	require.NoError(t, err)
	require.Len(t, complexes, 1)
	assert.Equal(t, CourtComplex{Code: "MHPU01", Name: "Shivajinagar Court Complex"}, complexes[0])
}

func TestCaseTypes(t *testing.T) {
	client := &fakeProtocol{responses: map[string]string{
		opCaseTypes: `{"case_types":[{"case_type":"1~CIVIL SUIT#2~CRIMINAL CASE#1~CIVIL SUIT"}]}`,
	}}
	svc := New(client, nil, "test-uid")

	types, err := svc.CaseTypes(context.Background(), "1", "4", "1")
	require.NoError(t, err)
	require.Len(t, types, 2, "duplicate ids collapse")
	assert.Equal(t, CaseType{ID: "1", Name: "CIVIL SUIT"}, types[0])
	assert.Equal(t, CaseType{ID: "2", Name: "CRIMINAL CASE"}, types[1])
}

func TestUpstreamErrorPropagates(t *testing.T) {
	client := &fakeProtocol{err: errors.New("session expired")}
	svc := New(client, nil, "test-uid")

	_, err := svc.States(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session expired")
}

func TestMalformedPayloadRejected(t *testing.T) {
	client := &fakeProtocol{responses: map[string]string{
		opStates: `["not", "an", "object"]`,
	}}
	svc := New(client, nil, "test-uid")

	_, err := svc.States(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal states")
}

func TestDecodeCaseTypes(t *testing.T) {
	lines := []struct {
		CaseType string `json:"case_type"`
	}{
		{CaseType: "7~WRIT PETITION#~MISSING ID#8~APPEAL"},
		{CaseType: "7~WRIT PETITION"},
		{CaseType: "no separator at all"},
	}

	out := decodeCaseTypes(lines)
	require.Len(t, out, 2)
	assert.Equal(t, "WRIT PETITION", out[0].Name)
	assert.Equal(t, "8", out[1].ID)
}
