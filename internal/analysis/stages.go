package analysis

import (
	"fmt"
	"strconv"

	"github.com/kalambet/dealscope/internal/composer"
	"github.com/kalambet/dealscope/internal/search"
	"github.com/kalambet/dealscope/internal/structured"
)

// Stage names, in pipeline order.
const (
	StageExtraction     = "extraction"
	StageBenchmarking   = "benchmarking"
	StageRisk           = "risk"
	StageMarketResearch = "market_research"
	StageGrowth         = "growth"
	StageRecommendation = "recommendation"
)

// StageNames lists the stages in the order Stages returns them.
var StageNames = []string{
	StageExtraction,
	StageBenchmarking,
	StageRisk,
	StageMarketResearch,
	StageGrowth,
	StageRecommendation,
}

const (
	maxSalvagedFlags   = 5
	maxFlagDescription = 200
	defaultStage       = "Seed"
)

// Stages returns the six analysis stages in dependency order.
func Stages(env *Env) []Stage {
	return []Stage{
		extractionStage(env),
		benchmarkStage(env),
		riskStage(env),
		marketStage(env),
		growthStage(env),
		recommendationStage(env),
	}
}

// --- extraction ---

var extractionQueries = []Query{
	{Label: "company information", Question: "What is the company name, sector, industry, and location?", TopK: 3},
	{Label: "business model", Question: "What problem are they solving? What is their solution? Who are their target customers? What is their business model?", TopK: 5},
	{Label: "financial metrics", Question: "What are the financial metrics: revenue, MRR, ARR, growth rate, customers, burn rate, runway?", TopK: 5},
	{Label: "team", Question: "Who are the founders? What is the team size? What is their experience?", TopK: 3},
	{Label: "market", Question: "What is the market size? TAM, SAM, SOM? Market opportunity?", TopK: 3},
	{Label: "funding", Question: "How much funding have they raised? From which investors? What round?", TopK: 3},
}

const extractionRole = `You are a professional data extraction specialist for venture capital analysis.

Extract structured information from these startup documents and return ONLY valid JSON (no markdown, no explanation).`

const extractionInstructions = `Return this EXACT JSON structure:
{
  "company_info": {
    "name": "company name or Unknown",
    "sector": "SaaS/FinTech/HealthTech/E-commerce/AI/EdTech/etc or Unknown",
    "stage": "Pre-seed/Seed/Series A/Series B/etc or Unknown",
    "founded_year": year_number_or_null,
    "location": "City, Country or Unknown"
  },
  "business": {
    "problem": "brief problem description or Not stated",
    "solution": "brief solution description or Not stated",
    "target_market": "target customer description or Not stated",
    "business_model": "revenue model description or Not stated",
    "unique_value_prop": "what makes them unique or Not stated",
    "market_size_tam": "TAM value with currency or Not stated"
  },
  "metrics": {
    "mrr": number_or_null,
    "arr": number_or_null,
    "revenue": number_or_null,
    "growth_rate_monthly": "percentage_string_or_null",
    "customers": number_or_null,
    "burn_rate_monthly": number_or_null,
    "runway_months": number_or_null,
    "churn_rate": "percentage_string_or_null"
  },
  "team": {
    "founders": ["list", "of", "names"],
    "total_employees": number_or_null,
    "key_hires": ["list of key positions filled"]
  },
  "funding": {
    "total_raised": number_or_null,
    "last_round": "round_name_or_null",
    "last_round_amount": number_or_null,
    "investors": ["list", "of", "investors"]
  },
  "traction": {
    "product_status": "Idea/MVP/Beta/Live/Scaling or Unknown",
    "customer_examples": ["list of notable customers if mentioned"],
    "partnerships": ["list of partnerships if mentioned"],
    "awards": ["list of awards if mentioned"]
  }
}

Rules:
- Use null for missing numbers
- Use "Unknown" or "Not stated" for missing text
- Extract exact values when available
- Be conservative, don't make up data
- Return ONLY the JSON object, no other text`

func extractionStage(env *Env) Stage {
	return &stageDef[Extraction]{
		env:     env,
		name:    StageExtraction,
		queries: extractionQueries,
		prompt: func(c *composer.Composer, in Input) string {
			return c.Compose(extractionRole, chunkSections(in, extractionQueries), extractionInstructions)
		},
		fallback: func(*Artifacts) Extraction { return DefaultExtraction() },
		store: func(a *Artifacts, res structured.Result[Extraction]) {
			v := res.Value
			a.Extraction = &v
		},
	}
}

// --- benchmarking ---

var benchmarkQueries = []Query{
	{Label: "metrics context from documents", Question: "What are all the metrics: revenue, MRR, growth rate, team size, customers?", TopK: 5},
}

const benchmarkRole = "You are a venture capital benchmarking analyst."

const benchmarkInstructions = `Compare this startup against sector benchmarks and return ONLY valid JSON:

{
  "sector_benchmarks": {
    "sector": %q,
    "stage": %q,
    "avg_revenue_seed": "typical seed stage revenue or Unknown",
    "avg_growth_rate": "typical monthly growth %% or Unknown",
    "avg_team_size": "typical team size or Unknown",
    "avg_valuation_multiple": "typical revenue multiple or Unknown"
  },
  "comparisons": {
    "revenue": {
      "startup_value": "their revenue or Unknown",
      "sector_average": "sector avg or Unknown",
      "percentile": number_0_to_100_or_null,
      "status": "Above Average|Average|Below Average|Unknown",
      "notes": "Brief explanation"
    },
    "growth_rate": {
      "startup_value": "their growth rate or Unknown",
      "sector_average": "sector avg or Unknown",
      "percentile": number_0_to_100_or_null,
      "status": "Above Average|Average|Below Average|Unknown",
      "notes": "Brief explanation"
    },
    "team_size": {
      "startup_value": "their team size or Unknown",
      "sector_average": "sector avg or Unknown",
      "status": "Appropriate|Too Large|Too Small|Unknown",
      "notes": "Brief explanation"
    },
    "customer_count": {
      "startup_value": "their customers or Unknown",
      "sector_average": "sector avg or Unknown",
      "percentile": number_0_to_100_or_null,
      "status": "Above Average|Average|Below Average|Unknown",
      "notes": "Brief explanation"
    },
    "revenue_per_employee": {
      "startup_value": "calculated value or Unknown",
      "sector_average": "sector avg or Unknown",
      "status": "Efficient|Average|Inefficient|Unknown",
      "notes": "Brief explanation"
    }
  },
  "competitive_position": {
    "overall_ranking": "Top 25%%|Top 50%%|Bottom 50%%|Bottom 25%%|Unknown",
    "key_advantages": ["Advantage 1", "Advantage 2"],
    "key_gaps": ["Gap 1", "Gap 2"],
    "catch_up_difficulty": "Easy|Moderate|Difficult|Very Difficult"
  },
  "benchmark_score": number_from_0_to_100,
  "summary": "2-3 sentence summary of how they compare"
}

Guidelines:
- If data is missing, use "Unknown" and null
- Be realistic with percentiles based on actual data
- Consider stage appropriateness (seed vs Series A expectations differ)
- Focus on metrics relevant to their sector
- Return ONLY JSON`

// PlaceholderBenchmark stands in for a failed benchmark search.
var PlaceholderBenchmark = search.Result{
	Title:   "General Startup Metrics",
	Snippet: "Seed stage startups typically have 5-15 employees, $50K-500K ARR, 10-20% monthly growth",
	Link:    "placeholder",
}

// sectorAndStage reads the benchmark keys from the extraction.
func sectorAndStage(a *Artifacts) (string, string) {
	sector, stage := Unknown, defaultStage
	if a != nil && a.Extraction != nil {
		if s := a.Extraction.CompanyInfo.Sector; s != "" {
			sector = s
		}
		if s := a.Extraction.CompanyInfo.Stage; s != "" {
			stage = s
		}
	}
	return sector, stage
}

func benchmarkLookups(a *Artifacts) []Lookup {
	sector, stage := sectorAndStage(a)
	return []Lookup{
		{Label: "stage metrics", Query: fmt.Sprintf("%s %s stage average metrics 2024", sector, stage), Num: 3},
		{Label: "valuation multiples", Query: sector + " startup valuation multiples", Num: 3},
		{Label: "growth benchmarks", Query: sector + " startup growth rates benchmarks", Num: 3},
		{Label: "revenue benchmarks", Query: sector + " seed stage revenue benchmarks", Num: 3},
	}
}

func benchmarkStage(env *Env) Stage {
	return &stageDef[Benchmark]{
		env:      env,
		name:     StageBenchmarking,
		queries:  benchmarkQueries,
		lookups:  benchmarkLookups,
		noResult: func() []search.Result { return []search.Result{PlaceholderBenchmark} },
		prompt: func(c *composer.Composer, in Input) string {
			ex := extractionOf(in.Artifacts)
			sector, stage := sectorAndStage(in.Artifacts)

			var labels []string
			for _, l := range benchmarkLookups(in.Artifacts) {
				labels = append(labels, l.Label)
			}

			sections := []composer.Section{
				{Title: "Startup information", Body: fmt.Sprintf("Company: %s\nSector: %s\nStage: %s", ex.CompanyInfo.Name, sector, stage)},
				{Title: "Startup metrics", Body: composer.JSON(ex.Metrics) + fmt.Sprintf("\n\nTeam Size: %s\nCustomers: %s",
					formatNumber(ex.Team.TotalEmployees), formatNumber(ex.Metrics.Customers))},
				{Title: benchmarkQueries[0].Label, Chunks: in.Chunks(benchmarkQueries[0].Label)},
				{Title: "Industry benchmark data (from web search)", Body: composer.JSON(in.WebResults(labels...))},
			}
			return c.Compose(benchmarkRole, sections, fmt.Sprintf(benchmarkInstructions, sector, stage))
		},
		fallback: func(a *Artifacts) Benchmark {
			sector, stage := sectorAndStage(a)
			return DefaultBenchmark(sector, stage)
		},
		store: func(a *Artifacts, res structured.Result[Benchmark]) {
			v := res.Value
			a.Benchmark = &v
		},
	}
}

// --- risk ---

var riskQueries = []Query{
	{Label: "metrics across documents", Question: "Find all mentions of revenue, MRR, ARR, growth rate, customer count across all documents", TopK: 10},
	{Label: "market size claims", Question: "What market size, TAM, SAM claims are made? What is the addressable market?", TopK: 5},
	{Label: "financial health", Question: "What is the burn rate, runway, cash position, funding needs?", TopK: 5},
	{Label: "team information", Question: "Information about founders' experience, team composition, key roles filled", TopK: 5},
	{Label: "customer information", Question: "Customer retention, churn rate, customer satisfaction, feedback", TopK: 5},
}

const riskRole = `You are a risk assessment specialist for venture capital.

Analyze these documents for RED FLAGS and return ONLY valid JSON.`

const riskInstructions = `Detect these specific risks:

1. INCONSISTENT METRICS - Do numbers contradict across documents?
2. INFLATED MARKET SIZE - Is TAM unrealistic or too broad?
3. FINANCIAL DISTRESS - Burn rate too high? Running out of money soon?
4. TEAM RISKS - Missing critical roles? Lack of experience?
5. CUSTOMER/MARKET RISKS - High churn rate? Unclear product-market fit?
6. UNREALISTIC PROJECTIONS - Growth projections too aggressive?
7. EXECUTION RISKS - Product not launched yet but claiming traction?

CRITICAL INSTRUCTIONS:
- Return ONLY valid JSON, no other text
- Use double quotes for all strings
- Escape any quotes inside strings with backslash
- No trailing commas
- No comments in JSON

Return this EXACT JSON structure:
{
  "red_flags": [
    {
      "type": "inconsistent_metrics",
      "severity": "MEDIUM",
      "title": "Example Risk",
      "description": "Brief description without quotes or special characters",
      "evidence": ["Evidence point 1", "Evidence point 2"],
      "impact": "Why this matters"
    }
  ],
  "risk_score": 50,
  "overall_assessment": "Medium Risk"
}

Rules:
- Only flag risks with concrete evidence
- Be specific but keep descriptions simple
- Avoid quotes inside string values
- If NO red flags found, return empty array []
- Severity options: LOW, MEDIUM, HIGH, CRITICAL
- Return ONLY the JSON object, nothing else`

func riskStage(env *Env) Stage {
	return &stageDef[RiskAnalysis]{
		env:     env,
		name:    StageRisk,
		queries: riskQueries,
		prompt: func(c *composer.Composer, in Input) string {
			sections := append([]composer.Section{
				{Title: "Extracted structured data", Body: composer.JSON(extractionOf(in.Artifacts))},
			}, chunkSections(in, riskQueries)...)
			return c.Compose(riskRole, sections, riskInstructions)
		},
		fallback: func(*Artifacts) RiskAnalysis { return DefaultRiskAnalysis() },
		salvage:  SalvageRisk,
		store: func(a *Artifacts, res structured.Result[RiskAnalysis]) {
			v := res.Value
			if res.Provenance == structured.ProvenanceFallback {
				v.ErrorNote = "Risk detection encountered an error"
			}
			a.Risk = &v
		},
	}
}

// SalvageRisk builds red flags from severity keywords in unparseable output.
func SalvageRisk(raw string) (RiskAnalysis, bool) {
	hits := structured.ScanSeverity(raw)
	if len(hits) == 0 {
		return RiskAnalysis{}, false
	}

	flags := make([]RedFlag, 0, min(len(hits), maxSalvagedFlags))
	for _, h := range hits[:min(len(hits), maxSalvagedFlags)] {
		desc := []rune(h.Line)
		if len(desc) > maxFlagDescription {
			desc = desc[:maxFlagDescription]
		}
		flags = append(flags, RedFlag{
			Type:        "detected_issue",
			Severity:    h.Severity,
			Title:       "Detected Risk",
			Description: string(desc),
			Evidence:    []string{"Extracted from analysis"},
			Impact:      "Requires manual review",
		})
	}

	return RiskAnalysis{
		RedFlags:          flags,
		RiskScore:         float64(min(90, 40+10*len(hits))),
		OverallAssessment: "Manual Review Required",
		ParsingNote:       "JSON parsing failed, extracted partial information",
	}, true
}

// --- market research ---

const marketRole = "You are a market research analyst."

const marketInstructions = `Validate the startup's claims and return ONLY valid JSON:

{
  "validations": {
    "market_size": {
      "claimed": "What they claimed",
      "found": "What research shows",
      "status": "Verified|Inflated|Conservative|Unable to verify",
      "notes": "Explanation"
    },
    "competitors": {
      "claimed": "Their claim about competition",
      "found": ["List", "of", "actual", "competitors"],
      "status": "Accurate|Understated|Overstated",
      "notes": "Explanation"
    },
    "company_presence": {
      "found_online": true_or_false,
      "news_mentions": number,
      "credibility": "High|Medium|Low",
      "notes": "What was found"
    }
  },
  "market_insights": {
    "market_trend": "Growing|Stable|Declining|Emerging",
    "market_maturity": "Nascent|Growing|Mature|Saturated",
    "opportunity_score": number_from_1_to_10,
    "notes": "Key market insights"
  },
  "credibility_score": number_from_0_to_100
}

Return ONLY JSON.`

func marketLookups(a *Artifacts) []Lookup {
	sector, _ := sectorAndStage(a)
	return []Lookup{
		{Label: "company search results", Query: extractionOf(a).CompanyInfo.Name + " startup", Num: 5},
		{Label: "market size results", Query: sector + " market size 2024", Num: 5},
		{Label: "competitor results", Query: sector + " startups competitors", Num: 5},
	}
}

func marketStage(env *Env) Stage {
	return &stageDef[MarketResearch]{
		env:     env,
		name:    StageMarketResearch,
		lookups: marketLookups,
		prompt: func(c *composer.Composer, in Input) string {
			sections := []composer.Section{
				{Title: "Company claims (from pitch deck)", Body: composer.JSON(extractionOf(in.Artifacts))},
			}
			for _, l := range marketLookups(in.Artifacts) {
				sections = append(sections, composer.Section{Title: l.Label, Body: composer.JSON(in.WebResults(l.Label))})
			}
			return c.Compose(marketRole, sections, marketInstructions)
		},
		fallback: func(*Artifacts) MarketResearch { return DefaultMarketResearch() },
		store: func(a *Artifacts, res structured.Result[MarketResearch]) {
			v := res.Value
			a.Market = &v
		},
	}
}

// --- growth ---

var growthQueries = []Query{
	{Label: "product-market fit evidence", Question: "Evidence of product-market fit: customer feedback, retention, satisfaction, demand", TopK: 5},
	{Label: "competitive moat", Question: "What makes the product unique? Competitive advantages? Technology? Patents? Network effects?", TopK: 5},
	{Label: "scalability", Question: "Business model scalability? Unit economics? Expansion plans? International potential?", TopK: 5},
	{Label: "execution capability", Question: "Milestones achieved? Progress timeline? Execution speed? Team capabilities?", TopK: 5},
}

const growthRole = "You are a growth strategy analyst for venture capital."

const growthInstructions = `Assess growth potential across 5 dimensions and return ONLY valid JSON:

{
  "growth_scores": {
    "market_opportunity": {
      "score": number_from_1_to_10,
      "reasoning": "Why this score",
      "evidence": ["Evidence point 1", "Evidence point 2"]
    },
    "competitive_moat": {
      "score": number_from_1_to_10,
      "reasoning": "Why this score",
      "evidence": ["Evidence point 1", "Evidence point 2"],
      "moat_type": "Network Effects|Technology|Brand|Data|Switching Costs|None"
    },
    "product_innovation": {
      "score": number_from_1_to_10,
      "reasoning": "Why this score",
      "evidence": ["Evidence point 1", "Evidence point 2"],
      "innovation_level": "Breakthrough|Significant|Incremental|Me-too"
    },
    "scalability": {
      "score": number_from_1_to_10,
      "reasoning": "Why this score",
      "evidence": ["Evidence point 1", "Evidence point 2"],
      "bottlenecks": ["Bottleneck 1", "Bottleneck 2"]
    },
    "team_execution": {
      "score": number_from_1_to_10,
      "reasoning": "Why this score",
      "evidence": ["Evidence point 1", "Evidence point 2"],
      "key_strengths": ["Strength 1", "Strength 2"],
      "key_gaps": ["Gap 1", "Gap 2"]
    }
  },
  "overall_growth_score": number_from_1_to_10,
  "growth_trajectory": "Exponential|Linear|Stagnant|Declining",
  "time_to_scale": "< 2 years|2-4 years|4+ years|Unclear",
  "exit_potential": {
    "likely_outcome": "IPO|Acquisition|Strategic Sale|Other",
    "estimated_timeline": "years or Unknown",
    "potential_acquirers": ["Company 1", "Company 2"] or [],
    "exit_multiple_estimate": "range or Unknown"
  },
  "growth_plan_quality": {
    "score": number_from_1_to_10,
    "has_clear_strategy": true_or_false,
    "key_milestones": ["Milestone 1", "Milestone 2"],
    "risks_to_plan": ["Risk 1", "Risk 2"]
  },
  "recommendation_summary": "2-3 sentences on growth potential"
}

Scoring Guidelines:
- 9-10: Exceptional, top 5% potential
- 7-8: Strong, above average
- 5-6: Average, meets expectations
- 3-4: Below average, concerns
- 1-2: Weak, significant issues

Return ONLY JSON.`

func growthStage(env *Env) Stage {
	return &stageDef[GrowthAssessment]{
		env:     env,
		name:    StageGrowth,
		queries: growthQueries,
		prompt: func(c *composer.Composer, in Input) string {
			sections := append([]composer.Section{
				{Title: "Startup data", Body: composer.JSON(extractionOf(in.Artifacts))},
				{Title: "Benchmark comparison", Body: composer.JSON(benchmarkOf(in.Artifacts))},
			}, chunkSections(in, growthQueries)...)
			return c.Compose(growthRole, sections, growthInstructions)
		},
		fallback: func(*Artifacts) GrowthAssessment { return DefaultGrowthAssessment() },
		store: func(a *Artifacts, res structured.Result[GrowthAssessment]) {
			v := res.Value
			a.Growth = &v
		},
	}
}

// --- recommendation ---

const recommendationRole = "You are a senior venture capital partner making final investment decisions."

const recommendationInstructions = `Generate a comprehensive investment recommendation and return ONLY valid JSON:

{
  "decision": "PASS|MAYBE|INVEST",
  "confidence": number_from_0_to_100,
  "investment_thesis": "2-3 sentence summary of why invest or pass",
  "key_strengths": [
    "Strength 1",
    "Strength 2",
    "Strength 3"
  ],
  "key_concerns": [
    "Concern 1",
    "Concern 2",
    "Concern 3"
  ],
  "suggested_valuation": "Range or null if PASS",
  "suggested_investment": "Amount or null if PASS",
  "follow_up_questions": [
    "Question 1 for founders",
    "Question 2 for founders",
    "Question 3 for founders"
  ],
  "deal_score": number_from_0_to_100,
  "next_steps": "What should happen next"
}

Decision Guidelines:
- PASS: Any critical red flags OR risk_score > 70 OR deal_score < 40 OR growth_score < 4
- MAYBE: Some concerns but potential OR deal_score 40-65 OR growth_score 5-6
- INVEST: Strong opportunity, manageable risks, deal_score > 65 AND growth_score > 6

Deal Score Calculation (guide):
- Start with 50 base points
- Add up to +20 for strong growth score (>7)
- Add up to +15 for good benchmark score (>60)
- Add up to +15 for low risk score (<40)
- Subtract -10 for each HIGH severity red flag
- Subtract -25 for each CRITICAL red flag
- Add up to +10 for strong market validation
- Add up to +10 for exceptional team

Key Strengths should include:
- Specific metrics (e.g., "120% YoY revenue growth")
- Market advantages (e.g., "First mover in $2B market")
- Team strengths (e.g., "Founders have 15+ years industry experience")

Key Concerns should include:
- Specific risks with evidence
- Financial concerns (e.g., "Only 4 months runway remaining")
- Market/competitive concerns

Follow-up Questions should be:
- Specific and actionable
- Address key concerns or validate strengths
- Help make final investment decision

Return ONLY JSON, no markdown formatting.`

// MetricsSummary renders the headline numbers the recommendation is based on.
func MetricsSummary(a *Artifacts) string {
	risk := riskOf(a)
	return fmt.Sprintf(`- Risk Score: %s/100 (lower is better)
- Benchmark Score: %s/100 (higher is better)
- Growth Score: %s/10 (higher is better)
- Red Flags Count: %d
- Critical Red Flags: %d`,
		formatScore(risk.RiskScore),
		formatScore(benchmarkOf(a).BenchmarkScore),
		formatScore(growthOf(a).OverallGrowthScore),
		len(risk.RedFlags),
		risk.CriticalCount(),
	)
}

func recommendationStage(env *Env) Stage {
	return &stageDef[Recommendation]{
		env:  env,
		name: StageRecommendation,
		prompt: func(c *composer.Composer, in Input) string {
			a := in.Artifacts
			sections := []composer.Section{
				{Title: "Startup data", Body: composer.JSON(extractionOf(a))},
				{Title: "Risk analysis", Body: composer.JSON(riskOf(a))},
				{Title: "Market research", Body: composer.JSON(marketOf(a))},
				{Title: "Benchmark data", Body: composer.JSON(benchmarkOf(a))},
				{Title: "Growth assessment", Body: composer.JSON(growthOf(a))},
				{Title: "Key metrics summary", Body: MetricsSummary(a)},
			}
			return c.Compose(recommendationRole, sections, recommendationInstructions)
		},
		fallback: func(*Artifacts) Recommendation { return DefaultRecommendation() },
		store: func(a *Artifacts, res structured.Result[Recommendation]) {
			v := res.Value
			if res.Provenance == structured.ProvenanceFallback && res.Note != "" {
				v.KeyConcerns = append(v.KeyConcerns, "Error: "+res.Note)
			}
			a.Recommendation = &v
		},
	}
}

// --- helpers ---

func chunkSections(in Input, queries []Query) []composer.Section {
	sections := make([]composer.Section, len(queries))
	for i, q := range queries {
		sections[i] = composer.Section{Title: q.Label, Chunks: in.Chunks(q.Label)}
	}
	return sections
}

// Upstream accessors return the stage fallback when a stage has not run, so
// prompt builders always see complete artifacts.

func extractionOf(a *Artifacts) Extraction {
	if a != nil && a.Extraction != nil {
		return *a.Extraction
	}
	return DefaultExtraction()
}

func benchmarkOf(a *Artifacts) Benchmark {
	if a != nil && a.Benchmark != nil {
		return *a.Benchmark
	}
	sector, stage := sectorAndStage(a)
	return DefaultBenchmark(sector, stage)
}

func riskOf(a *Artifacts) RiskAnalysis {
	if a != nil && a.Risk != nil {
		return *a.Risk
	}
	return DefaultRiskAnalysis()
}

func marketOf(a *Artifacts) MarketResearch {
	if a != nil && a.Market != nil {
		return *a.Market
	}
	return DefaultMarketResearch()
}

func growthOf(a *Artifacts) GrowthAssessment {
	if a != nil && a.Growth != nil {
		return *a.Growth
	}
	return DefaultGrowthAssessment()
}

func formatNumber(v *float64) string {
	if v == nil {
		return Unknown
	}
	return formatScore(*v)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
