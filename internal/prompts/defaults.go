package prompts

// Template names used by the debrief engine.
const (
	NarrativeLeadChanged     = "narrative_lead_changed"
	NarrativeLeadHeld        = "narrative_lead_held"
	NarrativeIncidents       = "narrative_incidents"
	NarrativeStaffing        = "narrative_staffing"
	NarrativeComebacks       = "narrative_comebacks"
	NarrativeContrast        = "narrative_contrast"
	NarrativeFallback        = "narrative_fallback"
	SummaryPillarMoved       = "summary_pillar_moved"
	SummaryBacklogJump       = "summary_backlog_jump"
	SummaryDNAJump           = "summary_dna_jump"
	SummarySicknessJump      = "summary_sickness_jump"
	SummaryIncidents         = "summary_incidents"
	SummaryInvestments       = "summary_investments"
	TradeoffSafetyOverEquity = "tradeoff_safety_over_equity"
	TradeoffEquityOverSafety = "tradeoff_equity_over_safety"
	TradeoffBacklogOverStaff = "tradeoff_backlog_over_staff"
	TradeoffBankResilience   = "tradeoff_bank_resilience"
	TradeoffLearningBacklog  = "tradeoff_learning_backlog"
	TradeoffRemoteStaff      = "tradeoff_remote_staff"
)

var defaultTemplates = []Template{
	{Name: NarrativeLeadChanged, Content: "Lead changed hands multiple times throughout the game."},
	{Name: NarrativeLeadHeld, Content: "{{team}} maintained the lead throughout."},
	{Name: NarrativeIncidents, Content: "{{teams}} experienced significant safety incidents."},
	{Name: NarrativeStaffing, Content: "{{teams}} faced significant staffing challenges."},
	{Name: NarrativeComebacks, Content: "{{teams}} staged impressive comebacks."},
	{Name: NarrativeContrast, Content: "Teams took contrasting approaches - some balanced, others focused on specific pillars."},
	{Name: NarrativeFallback, Content: "A competitive game with varied strategies across teams."},

	{Name: SummaryPillarMoved, Content: "{{pillar}} {{direction}} by {{delta}} points to {{score}}"},
	{Name: SummaryBacklogJump, Content: "Backlog increased significantly to {{backlog}} women waiting"},
	{Name: SummaryDNAJump, Content: "DNA rate rose to {{dna_rate}}%"},
	{Name: SummarySicknessJump, Content: "Staff sickness increased to {{sickness}}%"},
	{Name: SummaryIncidents, Content: "{{count}} incident(s) occurred this cycle"},
	{Name: SummaryInvestments, Content: "Team focused investments in: {{categories}}"},

	{Name: TradeoffSafetyOverEquity, Content: "Safety improved but at the cost of equitable access - some groups were likely deprioritised"},
	{Name: TradeoffEquityOverSafety, Content: "Access expanded but safety mechanisms may have been compromised"},
	{Name: TradeoffBacklogOverStaff, Content: "Reduced backlog but team wellbeing suffered - sustainable?"},
	{Name: TradeoffBankResilience, Content: "Bank/agency provided immediate capacity but reduced financial resilience and continuity"},
	{Name: TradeoffLearningBacklog, Content: "Protected learning time invested in long-term capability but increased short-term waiting"},
	{Name: TradeoffRemoteStaff, Content: "Remote monitoring rollout consumed staff energy during implementation phase"},
}
