package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclewu3242592726/CosTalk/callbridge/internal/svc"
	"github.com/unclewu3242592726/CosTalk/callbridge/internal/types"
	"github.com/unclewu3242592726/CosTalk/callbridge/pkg/agentstore"
	"github.com/unclewu3242592726/CosTalk/callbridge/pkg/model"
)

type brokenLoader struct{}

func (brokenLoader) Load(context.Context, string) (*model.AgentConfig, error) {
	return nil, errors.New("redis: i/o timeout")
}

func TestGetAgent(t *testing.T) {
	svcCtx := &svc.ServiceContext{
		Agents: agentstore.NewStaticLoader([]model.AgentConfig{{ID: "demo", Greeting: "Hi", APIKey: "sk-secret"}}),
	}
	l := NewGetAgentLogic(context.Background(), svcCtx)

	resp, err := l.GetAgent(&types.AgentRequest{AgentID: "demo"})
	require.NoError(t, err)
	require.NotNil(t, resp.Data)
	assert.Equal(t, "Hi", resp.Data.Greeting)
	assert.Equal(t, "***", resp.Data.APIKey)
	assert.Equal(t, model.DefaultAgentConfig().Model, resp.Data.Model)

	resp, err = l.GetAgent(&types.AgentRequest{AgentID: "nope"})
	require.NoError(t, err)
	assert.Equal(t, 404, resp.Code)
	assert.Nil(t, resp.Data)
}

func TestGetAgentStoreError(t *testing.T) {
	l := NewGetAgentLogic(context.Background(), &svc.ServiceContext{Agents: brokenLoader{}})
	_, err := l.GetAgent(&types.AgentRequest{AgentID: "demo"})
	assert.Error(t, err)
}
