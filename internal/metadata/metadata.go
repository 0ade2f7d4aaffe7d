// Package metadata serves the court directory data (states, districts, court
// complexes, case types) interactive search needs to build routing codes.
// Lookups go through the encrypted protocol and are cached in Redis so
// search traffic does not hammer the upstream directory endpoints.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"casewatch/internal/platform/config"
	"casewatch/internal/platform/redis"
)

// Protocol directory operations.
const (
	opStates    = "stateWebService"
	opDistricts = "districtWebService"
	opComplexes = "courtEstWebService"
	opCaseTypes = "caseNumberWebService"
)

// ProtocolClient is the slice of the ecourts client the directory needs.
type ProtocolClient interface {
	Request(ctx context.Context, op string, params map[string]string) (json.RawMessage, error)
}

// State is one state entry of the court directory.
type State struct {
	Code string `json:"state_code"`
	Name string `json:"state_name"`
}

// District is one district entry within a state.
type District struct {
	Code string `json:"dist_code"`
	Name string `json:"dist_name"`
}

// CourtComplex is one court establishment within a district.
type CourtComplex struct {
	Code string `json:"njdg_est_code"`
	Name string `json:"court_complex_name"`
}

// CaseType is one case-type code/name pair for a court.
type CaseType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Service resolves directory data with a Redis read-through cache. A nil
// cache disables caching; every call then hits the protocol.
type Service struct {
	client ProtocolClient
	cache  *redis.Client
	ttl    time.Duration
	uid    string
}

// New builds the directory service.
func New(client ProtocolClient, cache *redis.Client, uid string) *Service {
	return &Service{
		client: client,
		cache:  cache,
		ttl:    config.MetadataCacheTTL,
		uid:    uid,
	}
}

// States lists the states known to the district-court directory.
func (s *Service) States(ctx context.Context) ([]State, error) {
	var out []State
	err := s.cached(ctx, "metadata:states", &out, func() (any, error) {
		payload, err := s.client.Request(ctx, opStates, map[string]string{
			"action_code": "fillState",
		})
		if err != nil {
			return nil, err
		}
		var resp struct {
			States []State `json:"states"`
		}
		if err := json.Unmarshal(payload, &resp); err != nil {
			return nil, fmt.Errorf("unmarshal states: %w", err)
		}
		return resp.States, nil
	})
	return out, err
}

// Districts lists the districts of one state.
func (s *Service) Districts(ctx context.Context, stateCode string) ([]District, error) {
	var out []District
	err := s.cached(ctx, "metadata:districts:"+stateCode, &out, func() (any, error) {
		payload, err := s.client.Request(ctx, opDistricts, map[string]string{
			"action_code": "benches",
			"state_code":  stateCode,
			"uid":         s.uid,
		})
		if err != nil {
			return nil, err
		}
		var resp struct {
			Districts []District `json:"districts"`
		}
		if err := json.Unmarshal(payload, &resp); err != nil {
			return nil, fmt.Errorf("unmarshal districts: %w", err)
		}
		return resp.Districts, nil
	})
	return out, err
}

// Complexes lists the court establishments of one district.
func (s *Service) Complexes(ctx context.Context, stateCode, distCode string) ([]CourtComplex, error) {
	var out []CourtComplex
	key := fmt.Sprintf("metadata:complexes:%s:%s", stateCode, distCode)
	err := s.cached(ctx, key, &out, func() (any, error) {
		payload, err := s.client.Request(ctx, opComplexes, map[string]string{
			"action_code": "fillCourtComplex",
			"state_code":  stateCode,
			"dist_code":   distCode,
		})
		if err != nil {
			return nil, err
		}
		var resp struct {
			Complexes []CourtComplex `json:"courtComplex"`
		}
		if err := json.Unmarshal(payload, &resp); err != nil {
			return nil, fmt.Errorf("unmarshal court complexes: %w", err)
		}
		return resp.Complexes, nil
	})
	return out, err
}

// CaseTypes lists the case types a court accepts. The upstream encodes the
// list as '#'-separated 'id~name' pairs.
func (s *Service) CaseTypes(ctx context.Context, stateCode, distCode, courtCode string) ([]CaseType, error) {
	var out []CaseType
	key := fmt.Sprintf("metadata:casetypes:%s:%s:%s", stateCode, distCode, courtCode)
	err := s.cached(ctx, key, &out, func() (any, error) {
		payload, err := s.client.Request(ctx, opCaseTypes, map[string]string{
			"court_code": courtCode,
			"dist_code":  distCode,
			"state_code": stateCode,
		})
		if err != nil {
			return nil, err
		}
		var resp struct {
			CaseTypes []struct {
				CaseType string `json:"case_type"`
			} `json:"case_types"`
		}
		if err := json.Unmarshal(payload, &resp); err != nil {
			return nil, fmt.Errorf("unmarshal case types: %w", err)
		}
		return decodeCaseTypes(resp.CaseTypes), nil
	})
	return out, err
}

func decodeCaseTypes(lines []struct {
	CaseType string `json:"case_type"`
}) []CaseType {
	seen := map[string]bool{}
	var out []CaseType
	for _, line := range lines {
		for _, item := range strings.Split(line.CaseType, "#") {
			id, name, ok := strings.Cut(item, "~")
			if !ok || id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, CaseType{ID: id, Name: name})
		}
	}
	return out
}

// cached reads key from Redis into dest, or executes load and writes the
// result back with the configured TTL. Cache failures degrade to a direct
// load; the directory must keep working when Redis is down.
func (s *Service) cached(ctx context.Context, key string, dest any, load func() (any, error)) error {
	if s.cache != nil {
		if body, err := s.cache.Get(ctx, key).Bytes(); err == nil {
			if err := json.Unmarshal(body, dest); err == nil {
				return nil
			}
		}
	}

	value, err := load()
	if err != nil {
		return err
	}
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	if s.cache != nil {
		// Best effort: a failed cache write only costs the next lookup.
		_ = s.cache.Set(ctx, key, body, s.ttl).Err()
	}
	return nil
}
