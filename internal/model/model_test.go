package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchemaTypeValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		schema SchemaType
		want   bool
	}{
		{SchemaPricing, true},
		{SchemaFeatures, true},
		{SchemaCompany, true},
		{SchemaCompliance, true},
		{SchemaIntegrations, true},
		{SchemaType("roadmap"), false},
		{SchemaType(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.schema), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.schema.Valid())
		})
	}
}

func TestSchemaTypesOrder(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []SchemaType{"pricing", "features", "company", "compliance", "integrations"}, SchemaTypes)
}

func TestExtractionIsExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.False(t, (&Extraction{}).IsExpired(now))
	assert.True(t, (&Extraction{ExpiresAt: &past}).IsExpired(now))
	assert.False(t, (&Extraction{ExpiresAt: &future}).IsExpired(now))
}

func TestCriticalityRank(t *testing.T) {
	t.Parallel()

	assert.Less(t, CriticalityCritical.Rank(), CriticalityHigh.Rank())
	assert.Less(t, CriticalityHigh.Rank(), CriticalityMedium.Rank())
	assert.Less(t, CriticalityMedium.Rank(), CriticalityLow.Rank())
	assert.Equal(t, CriticalityLow.Rank(), Criticality("").Rank())
}

func TestEnumValid(t *testing.T) {
	t.Parallel()

	assert.True(t, WorkflowDiscovery.Valid())
	assert.True(t, WorkflowAnalysis.Valid())
	assert.False(t, Workflow("exploration").Valid())

	assert.True(t, CriticalityCritical.Valid())
	assert.True(t, CriticalityLow.Valid())
	assert.False(t, Criticality("").Valid())
	assert.False(t, Criticality("urgent").Valid())
}
