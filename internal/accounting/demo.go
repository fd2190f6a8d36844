package accounting

// ChartEntry is one account of a starter chart, optionally bound to a mapping.
type ChartEntry struct {
	Code   string
	Name   string
	Normal NormalBalance
	Module string
	Key    string
}

// DemoChart covers the mappings used by documents and CTRO postings.
var DemoChart = []ChartEntry{
	{"1000", "Cash at bank", NormalDebit, "", ""},
	{"1100", "Accounts receivable", NormalDebit, "AR", "control"},
	{"1150", "Withholding tax receivable", NormalDebit, "AR", "withholding_receivable"},
	{"1300", "CTRO inventory", NormalDebit, "CTRO", "inventory"},
	{"1400", "Advances to agents", NormalDebit, "CTRO", "advances_to_agents"},
	{"2000", "Accounts payable", NormalCredit, "AP", "control"},
	{"2150", "Withholding tax payable", NormalCredit, "AP", "withholding_payable"},
	{"2200", "Evacuation payable", NormalCredit, "CTRO", "evacuation_payable"},
	{"4000", "Sales", NormalCredit, "", ""},
	{"5000", "Purchases", NormalDebit, "", ""},
	{"5200", "Secondary evacuation cost", NormalDebit, "CTRO", "evacuation_cost"},
}
