package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
)

func TestParse(t *testing.T) {
	st, err := Parse("pricing")
	require.NoError(t, err)
	assert.Equal(t, model.SchemaPricing, st)

	_, err = Parse("roadmap")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestValidate_PricingAppliesDefaults(t *testing.T) {
	raw := []byte(`{
		"tiers": [
			{"name": "Free", "price": 0, "billingCycle": "monthly", "features": ["1 project"]},
			{"name": "Enterprise", "price": null, "billingCycle": "annual", "features": [], "limits": {"seats": 500, "support": "24/7"}}
		],
		"hasFreeTier": true,
		"hasEnterprise": true,
		"extraneous": "dropped"
	}`)

	p, normalized, err := Validate(model.SchemaPricing, raw)
	require.NoError(t, err)

	pricing, ok := p.(*Pricing)
	require.True(t, ok)
	assert.Equal(t, "USD", pricing.Currency)
	assert.Equal(t, []string{"monthly"}, pricing.BillingCycles)
	require.Len(t, pricing.Tiers, 2)
	assert.Nil(t, pricing.Tiers[1].Price)
	require.NotNil(t, pricing.Tiers[0].Price)
	assert.InDelta(t, 0.0, *pricing.Tiers[0].Price, 0.0001)

	doc := gjson.ParseBytes(normalized)
	assert.Equal(t, "USD", doc.Get("currency").String())
	assert.False(t, doc.Get("extraneous").Exists())
	assert.Equal(t, gjson.Null, doc.Get("tiers.1.price").Type)
}

func TestValidate_PricingIssues(t *testing.T) {
	raw := []byte(`{
		"tiers": [{"name": "Pro", "price": "29", "billingCycle": "weekly", "features": [1]}],
		"hasFreeTier": "yes"
	}`)

	_, _, err := Validate(model.SchemaPricing, raw)
	require.Error(t, err)

	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Issues, "tiers[0].price: expected number or null")
	assert.Contains(t, ve.Issues, "tiers[0].billingCycle: must be one of monthly, annual, one-time, usage-based")
	assert.Contains(t, ve.Issues, "tiers[0].features[0]: expected string")
	assert.Contains(t, ve.Issues, "hasFreeTier: expected boolean")
	assert.Contains(t, ve.Issues, "hasEnterprise: required")
}

func TestValidate_NonObjectAndInvalidJSON(t *testing.T) {
	_, _, err := Validate(model.SchemaFeatures, []byte(`[1,2]`))
	assert.True(t, apperr.IsValidation(err))

	_, _, err = Validate(model.SchemaFeatures, []byte(`{not json`))
	assert.True(t, apperr.IsValidation(err))

	_, _, err = Validate(model.SchemaType("roadmap"), []byte(`{}`))
	assert.True(t, apperr.IsValidation(err))
}

func TestValidate_Features(t *testing.T) {
	raw := []byte(`{
		"categories": [{"name": "AI", "features": [{"name": "Autocomplete", "isNew": true}]}],
		"highlights": ["Fast"]
	}`)
	p, _, err := Validate(model.SchemaFeatures, raw)
	require.NoError(t, err)
	f := p.(*Features)
	require.Len(t, f.Categories, 1)
	require.NotNil(t, f.Categories[0].Features[0].IsNew)
	assert.True(t, *f.Categories[0].Features[0].IsNew)

	_, _, err = Validate(model.SchemaFeatures, []byte(`{"categories": [{"features": []}], "highlights": []}`))
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"categories[0].name: required"}, ve.Issues)
}

func TestValidate_Company(t *testing.T) {
	raw := []byte(`{
		"name": "Acme",
		"founded": "2019",
		"legalName": null,
		"funding": {"totalRaised": "$50M", "investors": ["Sequoia"]},
		"leadership": [{"name": "Jane Doe", "role": "CEO"}],
		"socialLinks": {"twitter": "https://x.com/acme"}
	}`)
	p, _, err := Validate(model.SchemaCompany, raw)
	require.NoError(t, err)
	c := p.(*Company)
	assert.Equal(t, "Acme", c.Name)
	assert.Equal(t, "", c.LegalName)
	require.NotNil(t, c.Funding)
	assert.Equal(t, []string{"Sequoia"}, c.Funding.Investors)

	_, _, err = Validate(model.SchemaCompany, []byte(`{"leadership": [{"name": "X"}], "socialLinks": {"x": 1}}`))
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.ElementsMatch(t, []string{
		"name: required",
		"leadership[0].role: required",
		"socialLinks.x: unsupported value type",
	}, ve.Issues)
}

func TestValidate_Compliance(t *testing.T) {
	raw := []byte(`{
		"certifications": [{"name": "SOC 2 Type II", "status": "certified"}],
		"securityFeatures": ["SSO"],
		"soc2": true
	}`)
	p, _, err := Validate(model.SchemaCompliance, raw)
	require.NoError(t, err)
	c := p.(*Compliance)
	require.NotNil(t, c.SOC2)
	assert.True(t, *c.SOC2)
	assert.Nil(t, c.GDPRCompliant)

	_, _, err = Validate(model.SchemaCompliance, []byte(`{"certifications": [{"name": "ISO", "status": "maybe"}], "securityFeatures": []}`))
	assert.True(t, apperr.IsValidation(err))
}

func TestValidate_Integrations(t *testing.T) {
	raw := []byte(`{
		"categories": [{"name": "CI/CD", "integrations": [{"name": "GitHub", "type": "native"}]}],
		"totalCount": 42,
		"hasApi": true,
		"hasWebhooks": false,
		"hasSdk": true,
		"sdkLanguages": ["go", "python"]
	}`)
	p, _, err := Validate(model.SchemaIntegrations, raw)
	require.NoError(t, err)
	in := p.(*Integrations)
	assert.InDelta(t, 42.0, in.TotalCount, 0.0001)
	assert.Equal(t, model.SchemaIntegrations, in.SchemaType())
}

func TestDecode_Lenient(t *testing.T) {
	p, err := Decode(model.SchemaPricing, []byte(`{"tiers": []}`))
	require.NoError(t, err)
	assert.Equal(t, model.SchemaPricing, p.SchemaType())

	_, err = Decode(model.SchemaPricing, []byte(`{"tiers": "nope"}`))
	assert.True(t, apperr.IsValidation(err))
}

func TestDescribeAndShape(t *testing.T) {
	for _, st := range model.SchemaTypes {
		assert.NotEmpty(t, Describe(st), st)
		assert.True(t, gjson.Valid(Shape(st)), st)
	}
}
