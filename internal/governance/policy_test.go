package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyEngine_Evaluate(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	ctx := context.Background()

	res, err := engine.Evaluate(ctx, Request{Tool: "search_knowledge"})
	require.NoError(t, err)
	assert.Equal(t, EffectAllow, res.Effect)

	engine.DenyTool("delete_entity")
	res, err = engine.Evaluate(ctx, Request{Tool: "delete_entity", Arguments: map[string]any{"entity_id": "e-1"}})
	require.NoError(t, err)
	assert.Equal(t, EffectDeny, res.Effect)
	assert.Contains(t, res.Reason, "delete_entity")
}

func TestDefaultPolicyEngine_DenyArguments(t *testing.T) {
	engine, err := NewPolicyEngine(nil, []string{`"url":"file:`})
	require.NoError(t, err)

	res, err := engine.Evaluate(context.Background(), Request{
		Tool:      "fetch_page",
		Arguments: map[string]any{"url": "file:///etc/passwd"},
	})
	require.NoError(t, err)
	assert.Equal(t, EffectDeny, res.Effect)

	res, err = engine.Evaluate(context.Background(), Request{
		Tool:      "fetch_page",
		Arguments: map[string]any{"url": "https://example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, EffectAllow, res.Effect)
}

func TestNewPolicyEngine_BadPattern(t *testing.T) {
	_, err := NewPolicyEngine([]string{"x"}, []string{"("})
	assert.Error(t, err)
}
