// Package schema defines the five structured-data shapes an extraction can
// take and validates raw JSON against them.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
)

// Payload is the typed form of an extraction's data. The concrete type is
// selected by SchemaType.
type Payload interface {
	SchemaType() model.SchemaType
}

var checks = map[model.SchemaType]func(*checker, gjson.Result){
	model.SchemaPricing:      checkPricing,
	model.SchemaFeatures:     checkFeatures,
	model.SchemaCompany:      checkCompany,
	model.SchemaCompliance:   checkCompliance,
	model.SchemaIntegrations: checkIntegrations,
}

// Parse converts s into a SchemaType, rejecting unknown names.
func Parse(s string) (model.SchemaType, error) {
	t := model.SchemaType(s)
	if !t.Valid() {
		return "", apperr.Validationf("unknown schema type %q", s)
	}
	return t, nil
}

// New returns an empty payload for t.
func New(t model.SchemaType) (Payload, error) {
	switch t {
	case model.SchemaPricing:
		return &Pricing{}, nil
	case model.SchemaFeatures:
		return &Features{}, nil
	case model.SchemaCompany:
		return &Company{}, nil
	case model.SchemaCompliance:
		return &Compliance{}, nil
	case model.SchemaIntegrations:
		return &Integrations{}, nil
	default:
		return nil, apperr.Validationf("unknown schema type %q", t)
	}
}

// Decode unmarshals raw into the payload variant for t without checking
// required fields. Use Validate for untrusted input.
func Decode(t model.SchemaType, raw []byte) (Payload, error) {
	p, err := New(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, apperr.Validation(fmt.Sprintf("%s data does not decode", t), err.Error())
	}
	return p, nil
}

// Validate checks raw against the schema for t and returns the typed payload
// plus its normalized JSON (defaults applied, unknown keys dropped).
func Validate(t model.SchemaType, raw []byte) (Payload, json.RawMessage, error) {
	check, ok := checks[t]
	if !ok {
		return nil, nil, apperr.Validationf("unknown schema type %q", t)
	}
	if !gjson.ValidBytes(raw) {
		return nil, nil, apperr.Validation(fmt.Sprintf("%s data is not valid JSON", t))
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, nil, apperr.Validation(fmt.Sprintf("%s data does not match schema", t), "root: expected object")
	}

	c := &checker{}
	check(c, root)
	if len(c.issues) > 0 {
		return nil, nil, apperr.Validation(fmt.Sprintf("%s data does not match schema", t), c.issues...)
	}

	p, err := Decode(t, raw)
	if err != nil {
		return nil, nil, err
	}
	applyDefaults(p)

	normalized, err := json.Marshal(p)
	if err != nil {
		return nil, nil, eris.Wrap(err, "schema: marshal normalized")
	}
	return p, normalized, nil
}

func applyDefaults(p Payload) {
	switch v := p.(type) {
	case *Pricing:
		if v.Currency == "" {
			v.Currency = "USD"
		}
		if len(v.BillingCycles) == 0 {
			v.BillingCycles = []string{"monthly"}
		}
		for i := range v.Tiers {
			if v.Tiers[i].Features == nil {
				v.Tiers[i].Features = []string{}
			}
		}
	case *Features:
		for i := range v.Categories {
			if v.Categories[i].Features == nil {
				v.Categories[i].Features = []Feature{}
			}
		}
	case *Compliance:
		if v.SecurityFeatures == nil {
			v.SecurityFeatures = []string{}
		}
		if v.Certifications == nil {
			v.Certifications = []Certification{}
		}
	}
}

var descriptions = map[model.SchemaType]string{
	model.SchemaPricing: `Extract pricing information:
- List all pricing tiers with names, prices, and billing cycles
- Note if there's a free tier
- Note if there's enterprise/custom pricing
- Include key features and limits for each tier`,

	model.SchemaFeatures: `Extract product features:
- Group features by category (AI, Security, Integrations, etc.)
- List the top 3-5 headline features
- Note which features are available in which tiers`,

	model.SchemaCompany: `Extract company information:
- Company name and legal name
- Founded date and headquarters
- Employee count range
- Funding information (total raised, last round, investors)
- Leadership team with roles`,

	model.SchemaCompliance: `Extract security and compliance information:
- List all certifications (SOC 2, ISO 27001, FedRAMP, etc.)
- Note certification status (certified, in_progress, planned, unknown)
- Data residency options
- GDPR, HIPAA compliance status
- Security features mentioned`,

	model.SchemaIntegrations: `Extract integration information:
- List all integrations grouped by category
- Note if they have a public API
- Note if they have webhooks
- List SDK languages if available
- Count total number of integrations`,
}

var shapes = map[model.SchemaType]string{
	model.SchemaPricing: `{"tiers":[{"name":"string","price":"number|null","billingCycle":"monthly|annual|one-time|usage-based","pricePerUnit":"string?","features":["string"],"limits":{"key":"string|number"}}],"currency":"USD","billingCycles":["string"],"hasFreeTier":"boolean","hasEnterprise":"boolean","lastUpdated":"string?"}`,

	model.SchemaFeatures: `{"categories":[{"name":"string","features":[{"name":"string","description":"string?","availability":"string?","isNew":"boolean?"}]}],"highlights":["string"]}`,

	model.SchemaCompany: `{"name":"string","legalName":"string?","founded":"string?","headquarters":"string?","employeeCount":"string?","funding":{"totalRaised":"string?","lastRound":"string?","lastRoundAmount":"string?","lastRoundDate":"string?","investors":["string"]},"leadership":[{"name":"string","role":"string","linkedIn":"string?"}],"socialLinks":{"platform":"url"}}`,

	model.SchemaCompliance: `{"certifications":[{"name":"string","status":"certified|in_progress|planned|unknown","validUntil":"string?","documentUrl":"string?"}],"securityFeatures":["string"],"dataResidency":["string"],"gdprCompliant":"boolean?","hipaaCompliant":"boolean?","soc2":"boolean?","fedRampStatus":"string?"}`,

	model.SchemaIntegrations: `{"categories":[{"name":"string","integrations":[{"name":"string","type":"native|plugin|api|webhook","docsUrl":"string?"}]}],"totalCount":"number","hasApi":"boolean","apiDocUrl":"string?","hasWebhooks":"boolean","hasSdk":"boolean","sdkLanguages":["string"]}`,
}

// Describe returns the extraction instructions for t.
func Describe(t model.SchemaType) string {
	return descriptions[t]
}

// Shape returns a compact JSON outline of the fields for t.
func Shape(t model.SchemaType) string {
	return shapes[t]
}
