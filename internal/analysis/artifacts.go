package analysis

import "strings"

// Sentinels used when a value could not be determined.
const (
	Unknown   = "Unknown"
	NotStated = "Not stated"
)

// Decisions a recommendation can carry.
const (
	DecisionPass   = "PASS"
	DecisionMaybe  = "MAYBE"
	DecisionInvest = "INVEST"
)

// Extraction is the structured profile pulled from the documents.
type Extraction struct {
	CompanyInfo CompanyInfo `json:"company_info"`
	Business    Business    `json:"business"`
	Metrics     Metrics     `json:"metrics"`
	Team        Team        `json:"team"`
	Funding     Funding     `json:"funding"`
	Traction    Traction    `json:"traction"`
}

type CompanyInfo struct {
	Name        string `json:"name"`
	Sector      string `json:"sector"`
	Stage       string `json:"stage"`
	FoundedYear *int   `json:"founded_year"`
	Location    string `json:"location"`
}

type Business struct {
	Problem         string `json:"problem"`
	Solution        string `json:"solution"`
	TargetMarket    string `json:"target_market"`
	BusinessModel   string `json:"business_model"`
	UniqueValueProp string `json:"unique_value_prop"`
	MarketSizeTAM   string `json:"market_size_tam"`
}

// Metrics holds reported numbers; nil means not reported.
type Metrics struct {
	MRR               *float64 `json:"mrr"`
	ARR               *float64 `json:"arr"`
	Revenue           *float64 `json:"revenue"`
	GrowthRateMonthly *string  `json:"growth_rate_monthly"`
	Customers         *float64 `json:"customers"`
	BurnRateMonthly   *float64 `json:"burn_rate_monthly"`
	RunwayMonths      *float64 `json:"runway_months"`
	ChurnRate         *string  `json:"churn_rate"`
}

type Team struct {
	Founders       []string `json:"founders"`
	TotalEmployees *float64 `json:"total_employees"`
	KeyHires       []string `json:"key_hires"`
}

type Funding struct {
	TotalRaised     *float64 `json:"total_raised"`
	LastRound       *string  `json:"last_round"`
	LastRoundAmount *float64 `json:"last_round_amount"`
	Investors       []string `json:"investors"`
}

type Traction struct {
	ProductStatus    string   `json:"product_status"`
	CustomerExamples []string `json:"customer_examples"`
	Partnerships     []string `json:"partnerships"`
	Awards           []string `json:"awards"`
}

// DefaultExtraction returns the all-unknown extraction.
func DefaultExtraction() Extraction {
	return Extraction{
		CompanyInfo: CompanyInfo{Name: Unknown, Sector: Unknown, Stage: Unknown, Location: Unknown},
		Business: Business{
			Problem:         NotStated,
			Solution:        NotStated,
			TargetMarket:    NotStated,
			BusinessModel:   NotStated,
			UniqueValueProp: NotStated,
			MarketSizeTAM:   NotStated,
		},
		Team:     Team{Founders: []string{}, KeyHires: []string{}},
		Funding:  Funding{Investors: []string{}},
		Traction: Traction{ProductStatus: Unknown, CustomerExamples: []string{}, Partnerships: []string{}, Awards: []string{}},
	}
}

func (e *Extraction) Normalize() {
	nonNil(&e.Team.Founders)
	nonNil(&e.Team.KeyHires)
	nonNil(&e.Funding.Investors)
	nonNil(&e.Traction.CustomerExamples)
	nonNil(&e.Traction.Partnerships)
	nonNil(&e.Traction.Awards)
}

// Benchmark compares the company against sector peers.
type Benchmark struct {
	SectorBenchmarks    SectorBenchmarks    `json:"sector_benchmarks"`
	Comparisons         Comparisons         `json:"comparisons"`
	CompetitivePosition CompetitivePosition `json:"competitive_position"`
	BenchmarkScore      float64             `json:"benchmark_score"`
	Summary             string              `json:"summary"`
}

type SectorBenchmarks struct {
	Sector               string `json:"sector"`
	Stage                string `json:"stage"`
	AvgRevenueSeed       string `json:"avg_revenue_seed"`
	AvgGrowthRate        string `json:"avg_growth_rate"`
	AvgTeamSize          string `json:"avg_team_size"`
	AvgValuationMultiple string `json:"avg_valuation_multiple"`
}

type Comparisons struct {
	Revenue            PercentileComparison `json:"revenue"`
	GrowthRate         PercentileComparison `json:"growth_rate"`
	TeamSize           Comparison           `json:"team_size"`
	CustomerCount      PercentileComparison `json:"customer_count"`
	RevenuePerEmployee Comparison           `json:"revenue_per_employee"`
}

type Comparison struct {
	StartupValue  any    `json:"startup_value"`
	SectorAverage any    `json:"sector_average"`
	Status        string `json:"status"`
	Notes         string `json:"notes"`
}

type PercentileComparison struct {
	StartupValue  any      `json:"startup_value"`
	SectorAverage any      `json:"sector_average"`
	Percentile    *float64 `json:"percentile"`
	Status        string   `json:"status"`
	Notes         string   `json:"notes"`
}

type CompetitivePosition struct {
	OverallRanking    string   `json:"overall_ranking"`
	KeyAdvantages     []string `json:"key_advantages"`
	KeyGaps           []string `json:"key_gaps"`
	CatchUpDifficulty string   `json:"catch_up_difficulty"`
}

// DefaultBenchmark returns the neutral benchmark for a sector and stage.
func DefaultBenchmark(sector, stage string) Benchmark {
	unknown := PercentileComparison{StartupValue: Unknown, SectorAverage: Unknown, Status: Unknown, Notes: "Insufficient benchmark data"}
	return Benchmark{
		SectorBenchmarks: SectorBenchmarks{
			Sector:               sector,
			Stage:                stage,
			AvgRevenueSeed:       Unknown,
			AvgGrowthRate:        Unknown,
			AvgTeamSize:          Unknown,
			AvgValuationMultiple: Unknown,
		},
		Comparisons: Comparisons{
			Revenue:            unknown,
			GrowthRate:         unknown,
			TeamSize:           Comparison{StartupValue: Unknown, SectorAverage: Unknown, Status: Unknown, Notes: "Insufficient benchmark data"},
			CustomerCount:      unknown,
			RevenuePerEmployee: Comparison{StartupValue: Unknown, SectorAverage: Unknown, Status: Unknown, Notes: "Cannot calculate"},
		},
		CompetitivePosition: CompetitivePosition{
			OverallRanking:    Unknown,
			KeyAdvantages:     []string{},
			KeyGaps:           []string{},
			CatchUpDifficulty: Unknown,
		},
		BenchmarkScore: 50,
		Summary:        "Unable to benchmark due to insufficient data",
	}
}

func (b *Benchmark) Normalize() {
	nonNil(&b.CompetitivePosition.KeyAdvantages)
	nonNil(&b.CompetitivePosition.KeyGaps)
}

// RedFlag is one detected risk.
type RedFlag struct {
	Type        string   `json:"type"`
	Severity    string   `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Evidence    []string `json:"evidence"`
	Impact      string   `json:"impact"`
}

// RiskAnalysis lists red flags and an overall risk score (lower is better).
type RiskAnalysis struct {
	RedFlags          []RedFlag `json:"red_flags"`
	RiskScore         float64   `json:"risk_score"`
	OverallAssessment string    `json:"overall_assessment"`
	ParsingNote       string    `json:"parsing_note,omitempty"`
	ErrorNote         string    `json:"error_note,omitempty"`
}

// DefaultRiskAnalysis returns the neutral risk analysis.
func DefaultRiskAnalysis() RiskAnalysis {
	return RiskAnalysis{
		RedFlags:          []RedFlag{},
		RiskScore:         50,
		OverallAssessment: "Unable to assess - analysis error",
	}
}

// Normalize guarantees red_flags is a list.
func (r *RiskAnalysis) Normalize() {
	if r.RedFlags == nil {
		r.RedFlags = []RedFlag{}
	}
	for i := range r.RedFlags {
		nonNil(&r.RedFlags[i].Evidence)
	}
}

// CriticalCount returns the number of CRITICAL red flags.
func (r RiskAnalysis) CriticalCount() int {
	return CountSeverity(r.RedFlags, "CRITICAL")
}

// MarketResearch validates the company's claims against public sources.
type MarketResearch struct {
	Validations      Validations    `json:"validations"`
	MarketInsights   MarketInsights `json:"market_insights"`
	CredibilityScore float64        `json:"credibility_score"`
}

type Validations struct {
	MarketSize      ClaimCheck      `json:"market_size"`
	Competitors     CompetitorCheck `json:"competitors"`
	CompanyPresence CompanyPresence `json:"company_presence"`
}

type ClaimCheck struct {
	Claimed string `json:"claimed"`
	Found   string `json:"found"`
	Status  string `json:"status"`
	Notes   string `json:"notes"`
}

type CompetitorCheck struct {
	Claimed string   `json:"claimed"`
	Found   []string `json:"found"`
	Status  string   `json:"status"`
	Notes   string   `json:"notes"`
}

type CompanyPresence struct {
	FoundOnline  bool    `json:"found_online"`
	NewsMentions float64 `json:"news_mentions"`
	Credibility  string  `json:"credibility"`
	Notes        string  `json:"notes"`
}

type MarketInsights struct {
	MarketTrend      string  `json:"market_trend"`
	MarketMaturity   string  `json:"market_maturity"`
	OpportunityScore float64 `json:"opportunity_score"`
	Notes            string  `json:"notes"`
}

// DefaultMarketResearch returns the unverified market research.
func DefaultMarketResearch() MarketResearch {
	return MarketResearch{
		Validations: Validations{
			MarketSize:      ClaimCheck{Claimed: Unknown, Found: "Unable to verify", Status: "Unable to verify", Notes: "Research unavailable"},
			Competitors:     CompetitorCheck{Claimed: Unknown, Found: []string{}, Status: "Unable to verify", Notes: "Research unavailable"},
			CompanyPresence: CompanyPresence{FoundOnline: false, NewsMentions: 0, Credibility: "Low", Notes: "No online presence found"},
		},
		MarketInsights: MarketInsights{
			MarketTrend:      Unknown,
			MarketMaturity:   Unknown,
			OpportunityScore: 5,
			Notes:            "Insufficient data",
		},
		CredibilityScore: 50,
	}
}

func (m *MarketResearch) Normalize() {
	nonNil(&m.Validations.Competitors.Found)
}

// GrowthAssessment scores growth potential on five dimensions (1 to 10).
type GrowthAssessment struct {
	GrowthScores          GrowthScores      `json:"growth_scores"`
	OverallGrowthScore    float64           `json:"overall_growth_score"`
	GrowthTrajectory      string            `json:"growth_trajectory"`
	TimeToScale           string            `json:"time_to_scale"`
	ExitPotential         ExitPotential     `json:"exit_potential"`
	GrowthPlanQuality     GrowthPlanQuality `json:"growth_plan_quality"`
	RecommendationSummary string            `json:"recommendation_summary"`
}

type GrowthScores struct {
	MarketOpportunity DimensionScore     `json:"market_opportunity"`
	CompetitiveMoat   MoatScore          `json:"competitive_moat"`
	ProductInnovation InnovationScore    `json:"product_innovation"`
	Scalability       ScalabilityScore   `json:"scalability"`
	TeamExecution     TeamExecutionScore `json:"team_execution"`
}

type DimensionScore struct {
	Score     float64  `json:"score"`
	Reasoning string   `json:"reasoning"`
	Evidence  []string `json:"evidence"`
}

type MoatScore struct {
	DimensionScore
	MoatType string `json:"moat_type"`
}

type InnovationScore struct {
	DimensionScore
	InnovationLevel string `json:"innovation_level"`
}

type ScalabilityScore struct {
	DimensionScore
	Bottlenecks []string `json:"bottlenecks"`
}

type TeamExecutionScore struct {
	DimensionScore
	KeyStrengths []string `json:"key_strengths"`
	KeyGaps      []string `json:"key_gaps"`
}

type ExitPotential struct {
	LikelyOutcome        string   `json:"likely_outcome"`
	EstimatedTimeline    string   `json:"estimated_timeline"`
	PotentialAcquirers   []string `json:"potential_acquirers"`
	ExitMultipleEstimate string   `json:"exit_multiple_estimate"`
}

type GrowthPlanQuality struct {
	Score            float64  `json:"score"`
	HasClearStrategy bool     `json:"has_clear_strategy"`
	KeyMilestones    []string `json:"key_milestones"`
	RisksToPlan      []string `json:"risks_to_plan"`
}

// DefaultGrowthAssessment returns the neutral growth assessment.
func DefaultGrowthAssessment() GrowthAssessment {
	dim := func() DimensionScore {
		return DimensionScore{Score: 5, Reasoning: "Unable to assess", Evidence: []string{}}
	}
	return GrowthAssessment{
		GrowthScores: GrowthScores{
			MarketOpportunity: dim(),
			CompetitiveMoat:   MoatScore{DimensionScore: dim(), MoatType: "None"},
			ProductInnovation: InnovationScore{DimensionScore: dim(), InnovationLevel: "Incremental"},
			Scalability:       ScalabilityScore{DimensionScore: dim(), Bottlenecks: []string{}},
			TeamExecution:     TeamExecutionScore{DimensionScore: dim(), KeyStrengths: []string{}, KeyGaps: []string{}},
		},
		OverallGrowthScore: 5,
		GrowthTrajectory:   "Unclear",
		TimeToScale:        "Unclear",
		ExitPotential: ExitPotential{
			LikelyOutcome:        "Other",
			EstimatedTimeline:    Unknown,
			PotentialAcquirers:   []string{},
			ExitMultipleEstimate: Unknown,
		},
		GrowthPlanQuality: GrowthPlanQuality{
			Score:         5,
			KeyMilestones: []string{},
			RisksToPlan:   []string{},
		},
		RecommendationSummary: "Insufficient data for growth assessment",
	}
}

func (g *GrowthAssessment) Normalize() {
	s := &g.GrowthScores
	for _, ev := range []*[]string{
		&s.MarketOpportunity.Evidence,
		&s.CompetitiveMoat.Evidence,
		&s.ProductInnovation.Evidence,
		&s.Scalability.Evidence,
		&s.Scalability.Bottlenecks,
		&s.TeamExecution.Evidence,
		&s.TeamExecution.KeyStrengths,
		&s.TeamExecution.KeyGaps,
		&g.ExitPotential.PotentialAcquirers,
		&g.GrowthPlanQuality.KeyMilestones,
		&g.GrowthPlanQuality.RisksToPlan,
	} {
		nonNil(ev)
	}
}

// Recommendation is the final investment decision.
type Recommendation struct {
	Decision            string   `json:"decision"`
	Confidence          float64  `json:"confidence"`
	InvestmentThesis    string   `json:"investment_thesis"`
	KeyStrengths        []string `json:"key_strengths"`
	KeyConcerns         []string `json:"key_concerns"`
	SuggestedValuation  any      `json:"suggested_valuation"`
	SuggestedInvestment any      `json:"suggested_investment"`
	FollowUpQuestions   []string `json:"follow_up_questions"`
	DealScore           float64  `json:"deal_score"`
	NextSteps           string   `json:"next_steps"`
}

// DefaultRecommendation returns the manual-review recommendation.
func DefaultRecommendation() Recommendation {
	return Recommendation{
		Decision:         DecisionMaybe,
		Confidence:       50,
		InvestmentThesis: "Unable to generate recommendation due to processing error. Manual review required.",
		KeyStrengths:     []string{"Analysis data collected successfully"},
		KeyConcerns:      []string{"Analysis incomplete - technical error occurred"},
		FollowUpQuestions: []string{
			"Please rerun the analysis",
			"Verify all document uploads were successful",
			"Check system logs for detailed error information",
		},
		DealScore: 50,
		NextSteps: "Manual review required - rerun analysis or review documents manually",
	}
}

func (r *Recommendation) Normalize() {
	nonNil(&r.KeyStrengths)
	nonNil(&r.KeyConcerns)
	nonNil(&r.FollowUpQuestions)
}

// Artifacts is the bundle produced by a run. Each stage fills its own field;
// a nil field means the stage has not run.
type Artifacts struct {
	Extraction     *Extraction       `json:"extracted_data"`
	Benchmark      *Benchmark        `json:"benchmark_data"`
	Risk           *RiskAnalysis     `json:"risk_analysis"`
	Market         *MarketResearch   `json:"market_research"`
	Growth         *GrowthAssessment `json:"growth_assessment"`
	Recommendation *Recommendation   `json:"recommendation"`
}

// CountSeverity counts flags whose severity equals level, ignoring case.
func CountSeverity(flags []RedFlag, level string) int {
	n := 0
	for _, f := range flags {
		if strings.EqualFold(f.Severity, level) {
			n++
		}
	}
	return n
}

func nonNil(s *[]string) {
	if *s == nil {
		*s = []string{}
	}
}
