//go:build integration

package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casewatch/internal/platform/redis"
	"casewatch/pkg/testutil/containers"
)

type countingProtocol struct {
	calls int
	body  string
}

func (p *countingProtocol) Request(ctx context.Context, op string, params map[string]string) (json.RawMessage, error) {
	p.calls++
	if p.body == "" {
		return nil, errors.New("no response configured")
	}
	return json.RawMessage(p.body), nil
}

func TestStatesServedFromCache(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	cache, err := redis.New(rc.URL)
	require.NoError(t, err)

	client := &countingProtocol{body: `{"states":[{"state_code":"1","state_name":"Maharashtra"}]}`}
	svc := New(client, cache, "test-uid")

	ctx := context.Background()
	first, err := svc.States(ctx)
	require.NoError(t, err)
	second, err := svc.States(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, client.calls, "second lookup served from redis")
}

func TestCacheFailureDegradesToDirectLoad(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	cache, err := redis.New(rc.URL)
	require.NoError(t, err)
	require.NoError(t, rc.Container.Terminate(context.Background()))

	client := &countingProtocol{body: `{"states":[{"state_code":"1","state_name":"Maharashtra"}]}`}
	svc := New(client, cache, "test-uid")

	states, err := svc.States(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, 1, client.calls)
}
