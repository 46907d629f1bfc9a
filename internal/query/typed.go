package query

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/research-kb/internal/apperr"
	"github.com/sells-group/research-kb/internal/model"
	"github.com/sells-group/research-kb/internal/schema"
	"github.com/sells-group/research-kb/internal/store"
)

// decodeRows decodes each row's data into a T, skipping rows that do not
// decode.
func decodeRows[T any](rows []row) ([]row, []*T) {
	keep := make([]row, 0, len(rows))
	out := make([]*T, 0, len(rows))
	for _, r := range rows {
		v := new(T)
		if err := json.Unmarshal(r.x.Data, v); err != nil {
			zap.L().Warn("query: skip undecodable extraction", zap.String("extraction_id", r.x.ID), zap.Error(err))
			continue
		}
		keep = append(keep, r)
		out = append(out, v)
	}
	return keep, out
}

// Count is a named tally.
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// topCounts orders tallies by count, then by first appearance, and keeps n.
func topCounts(order []string, counts map[string]int, n int) []Count {
	out := make([]Count, 0, len(order))
	for _, k := range order {
		out = append(out, Count{Name: k, Count: counts[k]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// PricingInput filters the pricing query. SortBy is name, price_asc or
// price_desc.
type PricingInput struct {
	ProjectID     string   `json:"projectId"`
	HasFreeTier   *bool    `json:"hasFreeTier,omitempty"`
	HasEnterprise *bool    `json:"hasEnterprise,omitempty"`
	MaxPrice      *float64 `json:"maxPrice,omitempty"`
	MinPrice      *float64 `json:"minPrice,omitempty"`
	SortBy        string   `json:"sortBy,omitempty"`
}

// PricingResult summarizes one entity's pricing.
type PricingResult struct {
	Entity
	HasFreeTier     bool                 `json:"hasFreeTier"`
	HasEnterprise   bool                 `json:"hasEnterprise"`
	LowestPaidPrice *float64             `json:"lowestPaidPrice"`
	HighestPrice    *float64             `json:"highestPrice"`
	TierCount       int                  `json:"tierCount"`
	Tiers           []schema.PricingTier `json:"tiers"`
	ExtractedAt     time.Time            `json:"extractedAt"`
	SourceURL       string               `json:"sourceUrl"`
}

// PriceRange is the span of lowest paid prices.
type PriceRange struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// PricingSummary aggregates PricingResults.
type PricingSummary struct {
	TotalWithPricing int        `json:"totalWithPricing"`
	WithFreeTier     int        `json:"withFreeTier"`
	WithEnterprise   int        `json:"withEnterprise"`
	PriceRange       PriceRange `json:"priceRange"`
}

// PricingResults is the response to Pricing.
type PricingResults struct {
	Results []PricingResult `json:"results"`
	Summary PricingSummary  `json:"summary"`
}

// Pricing compares pricing across a project. Price bounds apply to the
// lowest paid tier; entities without a paid tier always pass them.
func (s *Service) Pricing(ctx context.Context, in PricingInput) (*PricingResults, error) {
	switch in.SortBy {
	case "", "name", "price_asc", "price_desc":
	default:
		return nil, apperr.Validationf("unknown sortBy %q", in.SortBy)
	}
	rows, err := s.latest(ctx, in.ProjectID, model.SchemaPricing)
	if err != nil {
		return nil, err
	}
	rows, payloads := decodeRows[schema.Pricing](rows)

	out := &PricingResults{Results: []PricingResult{}}
	for i, p := range payloads {
		res := PricingResult{
			Entity:        entityOf(rows[i]),
			HasFreeTier:   p.HasFreeTier,
			HasEnterprise: p.HasEnterprise,
			TierCount:     len(p.Tiers),
			Tiers:         p.Tiers,
			ExtractedAt:   rows[i].x.ExtractedAt,
			SourceURL:     rows[i].x.SourceURL,
		}
		if res.Tiers == nil {
			res.Tiers = []schema.PricingTier{}
		}
		for _, t := range p.Tiers {
			if t.Price == nil || *t.Price <= 0 {
				continue
			}
			price := *t.Price
			if res.LowestPaidPrice == nil || price < *res.LowestPaidPrice {
				res.LowestPaidPrice = &price
			}
			if res.HighestPrice == nil || price > *res.HighestPrice {
				res.HighestPrice = &price
			}
		}

		if in.HasFreeTier != nil && res.HasFreeTier != *in.HasFreeTier {
			continue
		}
		if in.HasEnterprise != nil && res.HasEnterprise != *in.HasEnterprise {
			continue
		}
		if low := res.LowestPaidPrice; low != nil {
			if in.MaxPrice != nil && *low > *in.MaxPrice {
				continue
			}
			if in.MinPrice != nil && *low < *in.MinPrice {
				continue
			}
		}
		out.Results = append(out.Results, res)
	}

	switch in.SortBy {
	case "price_asc", "price_desc":
		desc := in.SortBy == "price_desc"
		sort.SliceStable(out.Results, func(i, j int) bool {
			a, b := out.Results[i].LowestPaidPrice, out.Results[j].LowestPaidPrice
			if a == nil || b == nil {
				return a != nil
			}
			if desc {
				return *a > *b
			}
			return *a < *b
		})
	default:
		byName(out.Results, func(r PricingResult) string { return r.EntityName })
	}

	sum := &out.Summary
	sum.TotalWithPricing = len(out.Results)
	for _, r := range out.Results {
		if r.HasFreeTier {
			sum.WithFreeTier++
		}
		if r.HasEnterprise {
			sum.WithEnterprise++
		}
		if low := r.LowestPaidPrice; low != nil {
			if sum.PriceRange.Min == nil || *low < *sum.PriceRange.Min {
				sum.PriceRange.Min = low
			}
			if sum.PriceRange.Max == nil || *low > *sum.PriceRange.Max {
				sum.PriceRange.Max = low
			}
		}
	}
	return out, nil
}

// ComplianceInput filters the compliance query. HasCertification matches
// certified certifications by case-insensitive substring.
type ComplianceInput struct {
	ProjectID        string `json:"projectId"`
	SOC2             *bool  `json:"soc2,omitempty"`
	FedRAMPStatus    string `json:"fedRampStatus,omitempty"`
	GDPRCompliant    *bool  `json:"gdprCompliant,omitempty"`
	HIPAACompliant   *bool  `json:"hipaaCompliant,omitempty"`
	HasCertification string `json:"hasCertification,omitempty"`
}

// ComplianceResult summarizes one entity's compliance posture.
type ComplianceResult struct {
	Entity
	SOC2             bool                   `json:"soc2"`
	FedRAMPStatus    string                 `json:"fedRampStatus,omitempty"`
	GDPRCompliant    bool                   `json:"gdprCompliant"`
	HIPAACompliant   bool                   `json:"hipaaCompliant"`
	Certifications   []schema.Certification `json:"certifications"`
	SecurityFeatures []string               `json:"securityFeatures"`
	ExtractedAt      time.Time              `json:"extractedAt"`
	SourceURL        string                 `json:"sourceUrl"`
}

// ComplianceSummary aggregates ComplianceResults. CertificationCounts
// covers every entity in the project, before filtering.
type ComplianceSummary struct {
	TotalWithCompliance int            `json:"totalWithCompliance"`
	WithSOC2            int            `json:"withSoc2"`
	WithFedRAMP         int            `json:"withFedRamp"`
	WithGDPR            int            `json:"withGdpr"`
	WithHIPAA           int            `json:"withHipaa"`
	CertificationCounts map[string]int `json:"certificationCounts"`
}

// ComplianceResults is the response to Compliance.
type ComplianceResults struct {
	Results []ComplianceResult `json:"results"`
	Summary ComplianceSummary  `json:"summary"`
}

func isTrue(b *bool) bool { return b != nil && *b }

// Compliance compares security certifications across a project.
func (s *Service) Compliance(ctx context.Context, in ComplianceInput) (*ComplianceResults, error) {
	rows, err := s.latest(ctx, in.ProjectID, model.SchemaCompliance)
	if err != nil {
		return nil, err
	}
	rows, payloads := decodeRows[schema.Compliance](rows)

	out := &ComplianceResults{
		Results: []ComplianceResult{},
		Summary: ComplianceSummary{CertificationCounts: map[string]int{}},
	}
	want := strings.ToLower(in.HasCertification)
	for i, c := range payloads {
		hasCert := false
		for _, cert := range c.Certifications {
			if cert.Status != "certified" {
				continue
			}
			out.Summary.CertificationCounts[cert.Name]++
			if want != "" && strings.Contains(strings.ToLower(cert.Name), want) {
				hasCert = true
			}
		}

		res := ComplianceResult{
			Entity:           entityOf(rows[i]),
			SOC2:             isTrue(c.SOC2),
			FedRAMPStatus:    c.FedRAMPStatus,
			GDPRCompliant:    isTrue(c.GDPRCompliant),
			HIPAACompliant:   isTrue(c.HIPAACompliant),
			Certifications:   c.Certifications,
			SecurityFeatures: c.SecurityFeatures,
			ExtractedAt:      rows[i].x.ExtractedAt,
			SourceURL:        rows[i].x.SourceURL,
		}
		if res.Certifications == nil {
			res.Certifications = []schema.Certification{}
		}
		if res.SecurityFeatures == nil {
			res.SecurityFeatures = []string{}
		}

		if in.SOC2 != nil && res.SOC2 != *in.SOC2 {
			continue
		}
		if in.FedRAMPStatus != "" && res.FedRAMPStatus != in.FedRAMPStatus {
			continue
		}
		if in.GDPRCompliant != nil && res.GDPRCompliant != *in.GDPRCompliant {
			continue
		}
		if in.HIPAACompliant != nil && res.HIPAACompliant != *in.HIPAACompliant {
			continue
		}
		if want != "" && !hasCert {
			continue
		}
		out.Results = append(out.Results, res)
	}
	byName(out.Results, func(r ComplianceResult) string { return r.EntityName })

	sum := &out.Summary
	sum.TotalWithCompliance = len(out.Results)
	for _, r := range out.Results {
		if r.SOC2 {
			sum.WithSOC2++
		}
		if r.FedRAMPStatus != "" && r.FedRAMPStatus != "None" {
			sum.WithFedRAMP++
		}
		if r.GDPRCompliant {
			sum.WithGDPR++
		}
		if r.HIPAACompliant {
			sum.WithHIPAA++
		}
	}
	return out, nil
}

// FeaturesInput filters the features query by a term in highlights or
// feature names, and by category name.
type FeaturesInput struct {
	ProjectID  string `json:"projectId"`
	SearchTerm string `json:"searchTerm,omitempty"`
	Category   string `json:"category,omitempty"`
}

// CategoryFeatures lists the feature names of one category.
type CategoryFeatures struct {
	Name         string   `json:"name"`
	FeatureCount int      `json:"featureCount"`
	Features     []string `json:"features"`
}

// FeatureResult summarizes one entity's features.
type FeatureResult struct {
	Entity
	Highlights    []string           `json:"highlights"`
	Categories    []CategoryFeatures `json:"categories"`
	TotalFeatures int                `json:"totalFeatures"`
	ExtractedAt   time.Time          `json:"extractedAt"`
	SourceURL     string             `json:"sourceUrl"`
}

// FeaturesSummary aggregates FeatureResults.
type FeaturesSummary struct {
	TotalWithFeatures   int     `json:"totalWithFeatures"`
	AverageFeatureCount int     `json:"averageFeatureCount"`
	CommonCategories    []Count `json:"commonCategories"`
}

// FeaturesResults is the response to Features.
type FeaturesResults struct {
	Results []FeatureResult `json:"results"`
	Summary FeaturesSummary `json:"summary"`
}

func containsFold(items []string, term string) bool {
	for _, it := range items {
		if strings.Contains(strings.ToLower(it), term) {
			return true
		}
	}
	return false
}

// Features compares feature sets across a project.
func (s *Service) Features(ctx context.Context, in FeaturesInput) (*FeaturesResults, error) {
	rows, err := s.latest(ctx, in.ProjectID, model.SchemaFeatures)
	if err != nil {
		return nil, err
	}
	rows, payloads := decodeRows[schema.Features](rows)

	var catOrder []string
	catCounts := map[string]int{}
	term := strings.ToLower(in.SearchTerm)
	category := strings.ToLower(in.Category)

	out := &FeaturesResults{Results: []FeatureResult{}}
	for i, f := range payloads {
		res := FeatureResult{
			Entity:      entityOf(rows[i]),
			Highlights:  f.Highlights,
			Categories:  []CategoryFeatures{},
			ExtractedAt: rows[i].x.ExtractedAt,
			SourceURL:   rows[i].x.SourceURL,
		}
		if res.Highlights == nil {
			res.Highlights = []string{}
		}
		for _, cat := range f.Categories {
			names := make([]string, 0, len(cat.Features))
			for _, feat := range cat.Features {
				names = append(names, feat.Name)
			}
			if _, ok := catCounts[cat.Name]; !ok {
				catOrder = append(catOrder, cat.Name)
			}
			catCounts[cat.Name]++
			res.Categories = append(res.Categories, CategoryFeatures{Name: cat.Name, FeatureCount: len(names), Features: names})
			res.TotalFeatures += len(names)
		}

		if term != "" {
			hit := containsFold(res.Highlights, term)
			for _, c := range res.Categories {
				hit = hit || containsFold(c.Features, term)
			}
			if !hit {
				continue
			}
		}
		if category != "" {
			hit := false
			for _, c := range res.Categories {
				hit = hit || strings.Contains(strings.ToLower(c.Name), category)
			}
			if !hit {
				continue
			}
		}
		out.Results = append(out.Results, res)
	}
	byName(out.Results, func(r FeatureResult) string { return r.EntityName })

	total := 0
	for _, r := range out.Results {
		total += r.TotalFeatures
	}
	out.Summary = FeaturesSummary{
		TotalWithFeatures: len(out.Results),
		CommonCategories:  topCounts(catOrder, catCounts, 10),
	}
	if n := len(out.Results); n > 0 {
		out.Summary.AverageFeatureCount = roundDiv(total, n)
	}
	return out, nil
}

func roundDiv(a, b int) int {
	return int(float64(a)/float64(b) + 0.5)
}

// IntegrationsInput filters the integrations query. SearchTerm matches
// integration names.
type IntegrationsInput struct {
	ProjectID  string `json:"projectId"`
	HasAPI     *bool  `json:"hasApi,omitempty"`
	HasSDK     *bool  `json:"hasSdk,omitempty"`
	SearchTerm string `json:"searchTerm,omitempty"`
}

// CategoryIntegrations lists the integration names of one category.
type CategoryIntegrations struct {
	Name         string   `json:"name"`
	Integrations []string `json:"integrations"`
}

// IntegrationResult summarizes one entity's integration ecosystem.
type IntegrationResult struct {
	Entity
	TotalCount   float64                `json:"totalCount"`
	HasAPI       bool                   `json:"hasApi"`
	HasWebhooks  bool                   `json:"hasWebhooks"`
	HasSDK       bool                   `json:"hasSdk"`
	SDKLanguages []string               `json:"sdkLanguages"`
	Categories   []CategoryIntegrations `json:"categories"`
	ExtractedAt  time.Time              `json:"extractedAt"`
	SourceURL    string                 `json:"sourceUrl"`
}

// IntegrationsSummary aggregates IntegrationResults.
type IntegrationsSummary struct {
	TotalWithIntegrations   int     `json:"totalWithIntegrations"`
	WithAPI                 int     `json:"withApi"`
	WithSDK                 int     `json:"withSdk"`
	WithWebhooks            int     `json:"withWebhooks"`
	AverageIntegrationCount int     `json:"averageIntegrationCount"`
	CommonIntegrations      []Count `json:"commonIntegrations"`
}

// IntegrationsResults is the response to Integrations.
type IntegrationsResults struct {
	Results []IntegrationResult `json:"results"`
	Summary IntegrationsSummary `json:"summary"`
}

// Integrations compares integration ecosystems across a project.
func (s *Service) Integrations(ctx context.Context, in IntegrationsInput) (*IntegrationsResults, error) {
	rows, err := s.latest(ctx, in.ProjectID, model.SchemaIntegrations)
	if err != nil {
		return nil, err
	}
	rows, payloads := decodeRows[schema.Integrations](rows)

	var order []string
	counts := map[string]int{}
	term := strings.ToLower(in.SearchTerm)

	out := &IntegrationsResults{Results: []IntegrationResult{}}
	for i, p := range payloads {
		res := IntegrationResult{
			Entity:       entityOf(rows[i]),
			TotalCount:   p.TotalCount,
			HasAPI:       p.HasAPI,
			HasWebhooks:  p.HasWebhooks,
			HasSDK:       p.HasSDK,
			SDKLanguages: p.SDKLanguages,
			Categories:   []CategoryIntegrations{},
			ExtractedAt:  rows[i].x.ExtractedAt,
			SourceURL:    rows[i].x.SourceURL,
		}
		if res.SDKLanguages == nil {
			res.SDKLanguages = []string{}
		}
		hit := false
		for _, cat := range p.Categories {
			names := make([]string, 0, len(cat.Integrations))
			for _, it := range cat.Integrations {
				names = append(names, it.Name)
				if _, ok := counts[it.Name]; !ok {
					order = append(order, it.Name)
				}
				counts[it.Name]++
			}
			hit = hit || (term != "" && containsFold(names, term))
			res.Categories = append(res.Categories, CategoryIntegrations{Name: cat.Name, Integrations: names})
		}

		if in.HasAPI != nil && res.HasAPI != *in.HasAPI {
			continue
		}
		if in.HasSDK != nil && res.HasSDK != *in.HasSDK {
			continue
		}
		if term != "" && !hit {
			continue
		}
		out.Results = append(out.Results, res)
	}
	byName(out.Results, func(r IntegrationResult) string { return r.EntityName })

	sum := IntegrationsSummary{
		TotalWithIntegrations: len(out.Results),
		CommonIntegrations:    topCounts(order, counts, 15),
	}
	total := 0.0
	for _, r := range out.Results {
		total += r.TotalCount
		if r.HasAPI {
			sum.WithAPI++
		}
		if r.HasSDK {
			sum.WithSDK++
		}
		if r.HasWebhooks {
			sum.WithWebhooks++
		}
	}
	if n := len(out.Results); n > 0 {
		sum.AverageIntegrationCount = int(total/float64(n) + 0.5)
	}
	out.Summary = sum
	return out, nil
}

var yearPattern = regexp.MustCompile(`\d{4}`)

// CompaniesInput filters the companies query by founding year. Entities
// with no parseable year always pass.
type CompaniesInput struct {
	ProjectID   string `json:"projectId"`
	MinFounding *int   `json:"minFounding,omitempty"`
	MaxFounding *int   `json:"maxFounding,omitempty"`
}

// CompanyResult summarizes one entity's company facts.
type CompanyResult struct {
	Entity
	CompanyName   string    `json:"companyName"`
	Founded       string    `json:"founded,omitempty"`
	Headquarters  string    `json:"headquarters,omitempty"`
	EmployeeCount string    `json:"employeeCount,omitempty"`
	TotalFunding  string    `json:"totalFunding,omitempty"`
	LastRound     string    `json:"lastRound,omitempty"`
	ExtractedAt   time.Time `json:"extractedAt"`
	SourceURL     string    `json:"sourceUrl"`
}

// YearRange is the span of founding years.
type YearRange struct {
	Earliest *int `json:"earliest"`
	Latest   *int `json:"latest"`
}

// LocationCount tallies headquarters.
type LocationCount struct {
	Location string `json:"location"`
	Count    int    `json:"count"`
}

// CompaniesSummary aggregates CompanyResults. Founding years and locations
// cover every entity in the project, before filtering.
type CompaniesSummary struct {
	TotalWithCompanyInfo int             `json:"totalWithCompanyInfo"`
	WithFunding          int             `json:"withFunding"`
	FoundingYearRange    YearRange       `json:"foundingYearRange"`
	HeadquarterLocations []LocationCount `json:"headquarterLocations"`
}

// CompaniesResults is the response to Companies.
type CompaniesResults struct {
	Results []CompanyResult  `json:"results"`
	Summary CompaniesSummary `json:"summary"`
}

// Companies compares company facts across a project.
func (s *Service) Companies(ctx context.Context, in CompaniesInput) (*CompaniesResults, error) {
	rows, err := s.latest(ctx, in.ProjectID, model.SchemaCompany)
	if err != nil {
		return nil, err
	}
	rows, payloads := decodeRows[schema.Company](rows)

	var locOrder []string
	locCounts := map[string]int{}
	var years YearRange

	out := &CompaniesResults{Results: []CompanyResult{}}
	for i, c := range payloads {
		year := 0
		if m := yearPattern.FindString(c.Founded); m != "" {
			year, _ = strconv.Atoi(m)
			if years.Earliest == nil || year < *years.Earliest {
				years.Earliest = &year
			}
			if years.Latest == nil || year > *years.Latest {
				years.Latest = &year
			}
		}
		if c.Headquarters != "" {
			if _, ok := locCounts[c.Headquarters]; !ok {
				locOrder = append(locOrder, c.Headquarters)
			}
			locCounts[c.Headquarters]++
		}

		res := CompanyResult{
			Entity:        entityOf(rows[i]),
			CompanyName:   c.Name,
			Founded:       c.Founded,
			Headquarters:  c.Headquarters,
			EmployeeCount: c.EmployeeCount,
			ExtractedAt:   rows[i].x.ExtractedAt,
			SourceURL:     rows[i].x.SourceURL,
		}
		if res.CompanyName == "" {
			res.CompanyName = res.EntityName
		}
		if c.Funding != nil {
			res.TotalFunding = c.Funding.TotalRaised
			res.LastRound = c.Funding.LastRound
		}

		if year != 0 && in.MinFounding != nil && year < *in.MinFounding {
			continue
		}
		if year != 0 && in.MaxFounding != nil && year > *in.MaxFounding {
			continue
		}
		out.Results = append(out.Results, res)
	}
	byName(out.Results, func(r CompanyResult) string { return r.EntityName })

	locations := make([]LocationCount, 0, len(locOrder))
	for _, c := range topCounts(locOrder, locCounts, 10) {
		locations = append(locations, LocationCount{Location: c.Name, Count: c.Count})
	}
	out.Summary = CompaniesSummary{
		TotalWithCompanyInfo: len(out.Results),
		FoundingYearRange:    years,
		HeadquarterLocations: locations,
	}
	for _, r := range out.Results {
		if r.TotalFunding != "" {
			out.Summary.WithFunding++
		}
	}
	return out, nil
}

// CompareInput names the entities to put side by side.
type CompareInput struct {
	EntityIDs  []string         `json:"entityIds"`
	SchemaType model.SchemaType `json:"schemaType"`
}

// CompareEntry is one entity's latest data, or HasData false.
type CompareEntry struct {
	Entity
	HasData     bool            `json:"hasData"`
	Data        json.RawMessage `json:"data"`
	ExtractedAt *time.Time      `json:"extractedAt"`
	SourceURL   string          `json:"sourceUrl,omitempty"`
}

// Comparison is the response to Compare.
type Comparison struct {
	SchemaType model.SchemaType `json:"schemaType"`
	Entities   []CompareEntry   `json:"entities"`
}

// compareConcurrency bounds parallel entity loads in Compare.
const compareConcurrency = 4

// Compare returns the latest completed extraction of schemaType for each
// entity, in input order. Unknown entity ids are skipped.
func (s *Service) Compare(ctx context.Context, in CompareInput) (*Comparison, error) {
	if !in.SchemaType.Valid() {
		return nil, apperr.Validationf("unknown schema type %q", in.SchemaType)
	}
	if len(in.EntityIDs) == 0 {
		return nil, apperr.Validation("entityIds is required")
	}

	entries := make([]*CompareEntry, len(in.EntityIDs))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(compareConcurrency)
	for i, id := range in.EntityIDs {
		g.Go(func() error {
			e, err := s.store.GetEntity(gctx, id)
			if apperr.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			xs, err := s.store.ListExtractions(gctx, store.ExtractionFilter{
				EntityID:   id,
				SchemaType: in.SchemaType,
				Status:     model.ExtractionStatusCompleted,
				Limit:      1,
			})
			if err != nil {
				return err
			}
			entry := &CompareEntry{Entity: Entity{EntityID: e.ID, EntityName: e.Name, EntityType: e.EntityType, EntityURL: e.URL}}
			if len(xs) > 0 {
				x := xs[0]
				entry.HasData = true
				entry.Data = x.Data
				entry.ExtractedAt = &x.ExtractedAt
				entry.SourceURL = x.SourceURL
			}
			mu.Lock()
			entries[i] = entry
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Comparison{SchemaType: in.SchemaType, Entities: []CompareEntry{}}
	for _, e := range entries {
		if e != nil {
			out.Entities = append(out.Entities, *e)
		}
	}
	return out, nil
}
