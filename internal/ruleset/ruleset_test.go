package ruleset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vndarlan/chegou-autoads/internal/engine"
)

const sample = `
rules:
  - name: pause expensive
    primary_metric: cpa
    primary_operator: ">"
    primary_value: 25
    action_type: pause_campaign
    execution_mode: automatic
    execution_interval_hours: 6
  - name: scale winners
    is_composite: true
    primary_metric: roas
    primary_operator: ">="
    primary_value: 3
    secondary_metric: purchases
    secondary_operator: ">="
    secondary_value: 5
    join_operator: AND
    action_type: custom_budget_multiplier
    action_value: 1.2
    is_active: false
  - name: broken
    primary_metric: frequency
    primary_operator: ">"
    primary_value: 2
    action_type: pause_campaign
`

type memCreator struct{ drafts []engine.RuleDraft }

func (m *memCreator) CreateRule(_ context.Context, d engine.RuleDraft) (string, error) {
	if _, err := d.Rule(); err != nil {
		return "", err
	}
	m.drafts = append(m.drafts, d)
	return "id-" + d.Name, nil
}

func TestDecode(t *testing.T) {
	f, err := Decode(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, f.Rules, 3)

	first := f.Rules[0]
	assert.Equal(t, engine.MetricCPA, first.PrimaryMetric)
	assert.Equal(t, engine.OpGreater, first.PrimaryOperator)
	require.NotNil(t, first.PrimaryValue)
	assert.Equal(t, 25.0, *first.PrimaryValue)
	require.NotNil(t, first.ExecutionIntervalHours)
	assert.Equal(t, 6, *first.ExecutionIntervalHours)

	second := f.Rules[1]
	assert.True(t, second.IsComposite)
	assert.Equal(t, engine.JoinAnd, second.JoinOperator)
	require.NotNil(t, second.IsActive)
	assert.False(t, *second.IsActive)
}

func TestDecode_RejectsUnknownKeys(t *testing.T) {
	_, err := Decode(strings.NewReader("rules:\n  - name: x\n    primary_metrik: cpa\n"))
	assert.Error(t, err)
}

func TestDecode_Empty(t *testing.T) {
	f, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.Rules)
}

func TestLoadAndImport_ContinuesPastRejectedRule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	f, err := Load(path)
	require.NoError(t, err)

	c := &memCreator{}
	results := Import(context.Background(), c, f)
	require.Len(t, results, 3)
	assert.Equal(t, "id-pause expensive", results[0].ID)
	assert.NoError(t, results[1].Err)

	var verr *engine.ValidationError
	require.True(t, errors.As(results[2].Err, &verr))
	assert.Equal(t, "primary_metric", verr.Fields[0].Field)
	assert.Equal(t, 1, Failed(results))
	assert.Len(t, c.drafts, 2)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
