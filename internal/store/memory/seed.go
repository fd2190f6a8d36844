package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/backoffice/internal/accounting"
	"github.com/odyssey-erp/backoffice/internal/periods"
)

// SeedPeriod stores an open calendar month.
func (s *Store) SeedPeriod(companyID int64, year, month int) periods.Period {
	in := periods.CreatePeriodInput{CompanyID: companyID, Year: year, Month: month}
	start, end := in.Bounds()
	var out periods.Period
	_ = s.withTx(context.Background(), func(ctx context.Context, t *tx) error {
		var err error
		out, err = t.InsertPeriod(ctx, periods.Period{CompanyID: companyID, Year: year, Month: month, StartDate: start, EndDate: end, Status: periods.StatusOpen})
		return err
	})
	return out
}

// SeedAccount stores an active account.
func (s *Store) SeedAccount(companyID int64, code, name string, normal accounting.NormalBalance) accounting.Account {
	var out accounting.Account
	_ = s.withTx(context.Background(), func(ctx context.Context, t *tx) error {
		var err error
		out, err = t.InsertAccount(ctx, accounting.Account{CompanyID: companyID, Code: code, Name: name, NormalBalance: normal, IsActive: true})
		return err
	})
	return out
}

// SeedMapping binds module.key to accountID.
func (s *Store) SeedMapping(companyID int64, module, key string, accountID int64) {
	module, key = accounting.NormalizeMappingKey(module, key)
	_ = s.withTx(context.Background(), func(ctx context.Context, t *tx) error {
		return t.UpsertAccountMapping(ctx, accounting.AccountMapping{CompanyID: companyID, Module: module, Key: key, AccountID: accountID})
	})
}

// SeedDemo loads a small chart with AR, AP and CTRO mappings plus open
// months around today, for the memory profile of the server.
func (s *Store) SeedDemo(companyID int64, today time.Time) {
	for offset := -1; offset <= 1; offset++ {
		m := time.Date(today.Year(), today.Month()+time.Month(offset), 1, 0, 0, 0, 0, time.UTC)
		s.SeedPeriod(companyID, m.Year(), int(m.Month()))
	}
	for _, c := range accounting.DemoChart {
		acc := s.SeedAccount(companyID, c.Code, c.Name, c.Normal)
		if c.Module != "" {
			s.SeedMapping(companyID, c.Module, c.Key, acc.ID)
		}
	}
}

// Describe summarises the store contents.
func (s *Store) Describe() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("periods=%d accounts=%d journals=%d documents=%d",
		len(s.st.periods), len(s.st.accounts), len(s.st.journals), len(s.st.documents))
}
