package app

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/backoffice/internal/accounting"
	"github.com/odyssey-erp/backoffice/internal/periods"
	"github.com/odyssey-erp/backoffice/internal/rbac"
)

// SeedReport counts what SeedDemo created.
type SeedReport struct {
	Periods  int
	Accounts int
	Mappings int
}

// SeedDemo opens the months around today and loads accounting.DemoChart
// through the services. Existing periods and account codes are kept, so it
// can run against a database more than once.
func SeedDemo(ctx context.Context, s *Services, companyID, actorID int64, today time.Time) (SeedReport, error) {
	actor := rbac.Principal{UserID: actorID, CompanyID: companyID, Roles: []rbac.Role{rbac.RoleAdmin}}
	var report SeedReport

	existing, err := s.Periods.ListPeriods(ctx, companyID)
	if err != nil {
		return report, fmt.Errorf("seed: list periods: %w", err)
	}
	open := make(map[[2]int]bool, len(existing))
	for _, p := range existing {
		open[[2]int{p.Year, p.Month}] = true
	}
	for offset := -1; offset <= 1; offset++ {
		m := time.Date(today.Year(), today.Month()+time.Month(offset), 1, 0, 0, 0, 0, time.UTC)
		if open[[2]int{m.Year(), int(m.Month())}] {
			continue
		}
		if _, err := s.Periods.CreatePeriod(ctx, actor, periods.CreatePeriodInput{CompanyID: companyID, Year: m.Year(), Month: int(m.Month())}); err != nil {
			return report, fmt.Errorf("seed: period %04d-%02d: %w", m.Year(), m.Month(), err)
		}
		report.Periods++
	}

	accounts, err := s.Ledger.ListAccounts(ctx, companyID)
	if err != nil {
		return report, fmt.Errorf("seed: list accounts: %w", err)
	}
	byCode := make(map[string]accounting.Account, len(accounts))
	for _, a := range accounts {
		byCode[a.Code] = a
	}
	for _, entry := range accounting.DemoChart {
		acc, ok := byCode[entry.Code]
		if !ok {
			acc, err = s.Ledger.CreateAccount(ctx, actor, accounting.Account{
				CompanyID:     companyID,
				Code:          entry.Code,
				Name:          entry.Name,
				NormalBalance: entry.Normal,
				IsActive:      true,
			})
			if err != nil {
				return report, fmt.Errorf("seed: account %s: %w", entry.Code, err)
			}
			report.Accounts++
		}
		if entry.Module == "" {
			continue
		}
		mapping := accounting.AccountMapping{CompanyID: companyID, Module: entry.Module, Key: entry.Key, AccountID: acc.ID}
		if err := s.Ledger.SetAccountMapping(ctx, actor, mapping); err != nil {
			return report, fmt.Errorf("seed: mapping %s.%s: %w", entry.Module, entry.Key, err)
		}
		report.Mappings++
	}
	return report, nil
}
