package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sells-group/research-kb/internal/schema"
)

// Claim is an assertion derived from extracted data.
type Claim struct {
	Text     string `json:"claim"`
	Category string `json:"category"`
}

// Claims derives the assertions worth recording from a payload. The list is
// empty when the payload carries nothing claim-worthy.
func Claims(p schema.Payload) []Claim {
	switch v := p.(type) {
	case *schema.Pricing:
		return pricingClaims(v)
	case *schema.Features:
		return featureClaims(v)
	case *schema.Company:
		return companyClaims(v)
	case *schema.Compliance:
		return complianceClaims(v)
	case *schema.Integrations:
		return integrationClaims(v)
	}
	return nil
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func pricingClaims(p *schema.Pricing) []Claim {
	var out []Claim
	if p.HasFreeTier {
		text := "Offers a free tier"
		for _, t := range p.Tiers {
			if t.Price != nil && *t.Price == 0 {
				if len(t.Features) > 0 {
					text += " with features: " + strings.Join(t.Features[:min(3, len(t.Features))], ", ")
				}
				break
			}
		}
		out = append(out, Claim{Text: text, Category: "pricing"})
	}

	for _, t := range p.Tiers {
		if t.Price == nil || *t.Price <= 0 {
			continue
		}
		price := fmt.Sprintf("$%s/%s", formatNumber(*t.Price), t.BillingCycle)
		if t.PricePerUnit != "" {
			price += " " + t.PricePerUnit
		}
		out = append(out, Claim{Text: t.Name + " plan: " + price, Category: "pricing"})
	}

	if p.HasEnterprise {
		out = append(out, Claim{Text: "Offers enterprise pricing (contact sales)", Category: "pricing"})
	}
	return out
}

func featureClaims(f *schema.Features) []Claim {
	var out []Claim
	for _, h := range f.Highlights[:min(5, len(f.Highlights))] {
		out = append(out, Claim{Text: "Key feature: " + h, Category: "feature"})
	}
	return out
}

func companyClaims(c *schema.Company) []Claim {
	var out []Claim
	add := func(format, value string) {
		if value != "" {
			out = append(out, Claim{Text: fmt.Sprintf(format, value), Category: "company"})
		}
	}
	add("Founded in %s", c.Founded)
	add("Headquartered in %s", c.Headquarters)
	if c.Funding != nil {
		add("Total funding raised: %s", c.Funding.TotalRaised)
	}
	add("Employee count: %s", c.EmployeeCount)
	return out
}

func complianceClaims(c *schema.Compliance) []Claim {
	var out []Claim
	for _, cert := range c.Certifications {
		if cert.Status == "certified" {
			out = append(out, Claim{Text: cert.Name + " certified", Category: "compliance"})
		}
	}
	if c.SOC2 != nil && *c.SOC2 {
		out = append(out, Claim{Text: "SOC 2 compliant", Category: "compliance"})
	}
	if c.FedRAMPStatus != "" && c.FedRAMPStatus != "None" {
		out = append(out, Claim{Text: "FedRAMP status: " + c.FedRAMPStatus, Category: "compliance"})
	}
	return out
}

func integrationClaims(in *schema.Integrations) []Claim {
	var out []Claim
	if in.TotalCount > 0 {
		out = append(out, Claim{Text: fmt.Sprintf("Offers %s+ integrations", formatNumber(in.TotalCount)), Category: "integration"})
	}
	if in.HasAPI {
		out = append(out, Claim{Text: "Provides public API", Category: "integration"})
	}
	if in.HasSDK && len(in.SDKLanguages) > 0 {
		out = append(out, Claim{Text: "SDK available for: " + strings.Join(in.SDKLanguages, ", "), Category: "integration"})
	}
	return out
}
