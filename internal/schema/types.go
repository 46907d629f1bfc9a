package schema

import "github.com/sells-group/research-kb/internal/model"

// Pricing captures a product's pricing page.
type Pricing struct {
	Tiers         []PricingTier `json:"tiers"`
	Currency      string        `json:"currency"`
	BillingCycles []string      `json:"billingCycles"`
	HasFreeTier   bool          `json:"hasFreeTier"`
	HasEnterprise bool          `json:"hasEnterprise"`
	LastUpdated   string        `json:"lastUpdated,omitempty"`
}

// PricingTier is one plan. A nil Price means "contact sales".
type PricingTier struct {
	Name         string         `json:"name"`
	Price        *float64       `json:"price"`
	BillingCycle string         `json:"billingCycle"`
	PricePerUnit string         `json:"pricePerUnit,omitempty"`
	Features     []string       `json:"features"`
	Limits       map[string]any `json:"limits,omitempty"`
}

// Features captures a product's feature set.
type Features struct {
	Categories []FeatureCategory `json:"categories"`
	Highlights []string          `json:"highlights"`
}

// FeatureCategory groups related features.
type FeatureCategory struct {
	Name     string    `json:"name"`
	Features []Feature `json:"features"`
}

// Feature is a single capability.
type Feature struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Availability string `json:"availability,omitempty"`
	IsNew        *bool  `json:"isNew,omitempty"`
}

// Company captures corporate facts about the vendor.
type Company struct {
	Name          string            `json:"name"`
	LegalName     string            `json:"legalName,omitempty"`
	Founded       string            `json:"founded,omitempty"`
	Headquarters  string            `json:"headquarters,omitempty"`
	EmployeeCount string            `json:"employeeCount,omitempty"`
	Funding       *Funding          `json:"funding,omitempty"`
	Leadership    []Person          `json:"leadership,omitempty"`
	SocialLinks   map[string]string `json:"socialLinks,omitempty"`
}

// Funding summarizes investment history.
type Funding struct {
	TotalRaised     string   `json:"totalRaised,omitempty"`
	LastRound       string   `json:"lastRound,omitempty"`
	LastRoundAmount string   `json:"lastRoundAmount,omitempty"`
	LastRoundDate   string   `json:"lastRoundDate,omitempty"`
	Investors       []string `json:"investors,omitempty"`
}

// Person is a member of the leadership team.
type Person struct {
	Name     string `json:"name"`
	Role     string `json:"role"`
	LinkedIn string `json:"linkedIn,omitempty"`
}

// Compliance captures security certifications and posture.
type Compliance struct {
	Certifications   []Certification `json:"certifications"`
	SecurityFeatures []string        `json:"securityFeatures"`
	DataResidency    []string        `json:"dataResidency,omitempty"`
	GDPRCompliant    *bool           `json:"gdprCompliant,omitempty"`
	HIPAACompliant   *bool           `json:"hipaaCompliant,omitempty"`
	SOC2             *bool           `json:"soc2,omitempty"`
	FedRAMPStatus    string          `json:"fedRampStatus,omitempty"`
}

// Certification is one named certification and its status.
type Certification struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	ValidUntil  string `json:"validUntil,omitempty"`
	DocumentURL string `json:"documentUrl,omitempty"`
}

// Integrations captures the integration ecosystem.
type Integrations struct {
	Categories   []IntegrationCategory `json:"categories"`
	TotalCount   float64               `json:"totalCount"`
	HasAPI       bool                  `json:"hasApi"`
	APIDocURL    string                `json:"apiDocUrl,omitempty"`
	HasWebhooks  bool                  `json:"hasWebhooks"`
	HasSDK       bool                  `json:"hasSdk"`
	SDKLanguages []string              `json:"sdkLanguages,omitempty"`
}

// IntegrationCategory groups integrations.
type IntegrationCategory struct {
	Name         string        `json:"name"`
	Integrations []Integration `json:"integrations"`
}

// Integration is one third-party connection.
type Integration struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	DocsURL string `json:"docsUrl,omitempty"`
}

func (*Pricing) SchemaType() model.SchemaType      { return model.SchemaPricing }
func (*Features) SchemaType() model.SchemaType     { return model.SchemaFeatures }
func (*Company) SchemaType() model.SchemaType      { return model.SchemaCompany }
func (*Compliance) SchemaType() model.SchemaType   { return model.SchemaCompliance }
func (*Integrations) SchemaType() model.SchemaType { return model.SchemaIntegrations }

// Enumerations.
var (
	BillingCycles       = []string{"monthly", "annual", "one-time", "usage-based"}
	CertificationStates = []string{"certified", "in_progress", "planned", "unknown"}
	IntegrationTypes    = []string{"native", "plugin", "api", "webhook"}
)
