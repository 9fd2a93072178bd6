package parser

import (
	"regexp"
	"strings"

	"github.com/crablduck/crm-spyder/internal/domain"
)

// contractLabels maps announcement field labels to ContractInfo setters.
// Labeled-line matching: a line starting with a known label yields that
// field's value up to line end. Order mirrors the portal's form.
var contractLabels = []struct {
	label string
	set   func(*domain.ContractInfo, string)
}{
	{"合同编号", func(c *domain.ContractInfo, v string) { c.ContractNumber = v }},
	{"合同名称", func(c *domain.ContractInfo, v string) { c.ContractName = v }},
	{"项目编号", func(c *domain.ContractInfo, v string) { c.ProjectNumber = v }},
	{"采购人(甲方)", func(c *domain.ContractInfo, v string) { c.Buyer = v }},
	{"供应商(乙方)", func(c *domain.ContractInfo, v string) { c.Supplier = v }},
	{"合同金额", func(c *domain.ContractInfo, v string) { c.Amount = v }},
	{"履约期限", func(c *domain.ContractInfo, v string) { c.PerformancePeriod = v }},
}

var labelExprs = buildLabelExprs()

func buildLabelExprs() []*regexp.Regexp {
	exprs := make([]*regexp.Regexp, len(contractLabels))
	for i, entry := range contractLabels {
		exprs[i] = regexp.MustCompile(regexp.QuoteMeta(entry.label) + `\s*[：:]\s*([^\n\r]+)`)
	}
	return exprs
}

// ParseContract extracts labeled fields from a contract section.
// Unmatched labels leave their fields empty; zero recognized fields
// yields an all-empty ContractInfo, never an error, since the presence
// of contract text is itself useful signal.
func ParseContract(text string) domain.ContractInfo {
	var info domain.ContractInfo
	for i, entry := range contractLabels {
		if m := labelExprs[i].FindStringSubmatch(text); m != nil {
			entry.set(&info, strings.TrimSpace(m[1]))
		}
	}
	return info
}
