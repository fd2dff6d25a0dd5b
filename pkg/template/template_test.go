package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/veloflow/veloflow/pkg/models"
)

func testContext() *models.ExecutionContext {
	return &models.ExecutionContext{
		ID:          "exec-1",
		WorkflowID:  "wf-1",
		TriggerData: map[string]any{"email": "ops@example.com", "amount": 42.5},
		Variables:   map[string]any{"region": "eu-west", "tags": []any{"a", "b"}},
		StepResults: map[string]any{"fetch": map[string]any{"status": 200}},
	}
}

func TestRenderSinglePlaceholderKeepsType(t *testing.T) {
	ctx := testContext()

	assert.Equal(t, 42.5, Render("{{trigger.amount}}", ctx))
	assert.Equal(t, 200, Render("{{steps.fetch.status}}", ctx))
	assert.Equal(t, []any{"a", "b"}, Render("{{vars.tags}}", ctx))
}

func TestRenderInterpolatesIntoStrings(t *testing.T) {
	ctx := testContext()

	got := Render("charge {{trigger.amount}} in {{vars.region}}", ctx)
	assert.Equal(t, "charge 42.5 in eu-west", got)
}

func TestRenderLeavesUnresolvedPlaceholdersVerbatim(t *testing.T) {
	ctx := testContext()

	assert.Equal(t, "{{trigger.missing}}", Render("{{trigger.missing}}", ctx))
	assert.Equal(t, "to {{nobody.here}}", Render("to {{nobody.here}}", ctx))
}

func TestResolveConfigWalksNestedStructures(t *testing.T) {
	ctx := testContext()

	resolved := ResolveConfig(map[string]any{
		"url": "https://api.example.com/{{vars.region}}",
		"headers": map[string]any{
			"X-Amount": "{{trigger.amount}}",
		},
		"recipients": []any{"{{trigger.email}}", "audit@example.com"},
		"timeout":    30,
	}, ctx)

	assert.Equal(t, "https://api.example.com/eu-west", resolved["url"])
	assert.Equal(t, 42.5, resolved["headers"].(map[string]any)["X-Amount"])
	assert.Equal(t, []any{"ops@example.com", "audit@example.com"}, resolved["recipients"])
	assert.Equal(t, 30, resolved["timeout"])
}

func TestHasPlaceholders(t *testing.T) {
	assert.True(t, HasPlaceholders("{{vars.region}}"))
	assert.True(t, HasPlaceholders("prefix {{ trigger.email }} suffix"))
	assert.False(t, HasPlaceholders("no placeholders here"))
	assert.False(t, HasPlaceholders("{{}}"))
}
