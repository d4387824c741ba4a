package ingestion

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFiling = `Item 7. Management's Discussion and Analysis of Financial Condition

Revenue for the quarter was $1,200.5 million, up 12% from the prior year.
Gross profit was $480.2 million.

Item 1A. Risk Factors

The company is subject to ongoing legal proceedings.`

func TestExtractFeatures(t *testing.T) {
	f := ExtractFeatures(sampleFiling)

	assert.Equal(t, len(sampleFiling), f.Length)
	assert.True(t, f.Sections["md&a"])
	assert.True(t, f.Sections["risk_factors"])
	assert.True(t, f.Sections["legal"])
	assert.False(t, f.Sections["notes"])
	assert.Greater(t, f.NumericDensity, 0.0)
	assert.Less(t, f.NumericDensity, 1.0)
}

func TestExtractFeaturesEmptyDocument(t *testing.T) {
	f := ExtractFeatures("")
	assert.Zero(t, f.Length)
	assert.Zero(t, f.NumericDensity)
	assert.Empty(t, f.Sections)
}

func TestNewTaskWithSidecar(t *testing.T) {
	sc := &Sidecar{
		RawFigures:  map[string]float64{"revenue": 1200.5, "gross_profit": 480.2},
		PriorDeltas: map[string]float64{"revenue": 0.12},
	}

	task := NewTask(sampleFiling, sc)
	assert.NotEmpty(t, task.ID)
	assert.False(t, task.CreatedAt.IsZero())
	assert.Equal(t, 1200.5, task.Features.RawFigures["revenue"])
	assert.Equal(t, 0.12, task.Features.PriorDeltas["revenue"])
}

func TestLoadTask(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "filing.txt")
	scPath := filepath.Join(dir, "filing.json")

	require.NoError(t, os.WriteFile(docPath, []byte(sampleFiling), 0o644))
	raw, err := json.Marshal(Sidecar{RawFigures: map[string]float64{"revenue": 1200.5}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(scPath, raw, 0o644))

	task, err := LoadTask(docPath, scPath)
	require.NoError(t, err)
	assert.Equal(t, sampleFiling, task.Document)
	assert.Equal(t, 1200.5, task.Features.RawFigures["revenue"])

	_, err = LoadTask(filepath.Join(dir, "missing.txt"), "")
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(scPath, []byte("not json"), 0o644))
	_, err = LoadTask(docPath, scPath)
	assert.Error(t, err)
}

func TestParseFigure(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"$1,234.5", 1234.5, false},
		{"12.3%", 12.3, false},
		{"-42", -42, false},
		{" 7 ", 7, false},
		{"n/a", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFigure(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
