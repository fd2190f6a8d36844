package accounting

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/audit"
	"github.com/odyssey-erp/backoffice/internal/money"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// GetJournal returns a journal with its lines.
func (s *Service) GetJournal(ctx context.Context, id int64) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.GetJournal(ctx, id)
		return err
	})
	return entry, err
}

// ListJournals lists a company's journals, optionally within one period.
func (s *Service) ListJournals(ctx context.Context, companyID, periodID int64) ([]JournalEntry, error) {
	var entries []JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entries, err = tx.ListJournals(ctx, companyID, periodID)
		return err
	})
	return entries, err
}

// ListAccounts retrieves the chart of accounts of a company.
func (s *Service) ListAccounts(ctx context.Context, companyID int64) ([]Account, error) {
	var accounts []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.ListAccounts(ctx, companyID)
		return err
	})
	return accounts, err
}

// CreateAccount adds an account; the code is unique per company.
func (s *Service) CreateAccount(ctx context.Context, actor rbac.Principal, a Account) (Account, error) {
	if err := rbac.Authorize(actor, rbac.Target{}, rbac.ActionConfigure); err != nil {
		return Account{}, err
	}
	if err := sameCompany(actor, a.CompanyID); err != nil {
		return Account{}, err
	}
	a.Code = strings.TrimSpace(a.Code)
	a.Name = strings.TrimSpace(a.Name)
	if a.CompanyID == 0 || a.Code == "" || a.Name == "" {
		return Account{}, shared.Errorf(shared.KindValidation, "company, code and name are required")
	}
	if a.NormalBalance != NormalDebit && a.NormalBalance != NormalCredit {
		return Account{}, shared.Errorf(shared.KindValidation, "normal balance must be DEBIT or CREDIT")
	}
	var created Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertAccount(ctx, a)
		return err
	})
	if err != nil {
		return Account{}, err
	}
	s.audit.Record(ctx, audit.Change{Entity: "account", EntityID: created.ID, Action: "account.create", After: created, ActorID: actor.UserID})
	return created, nil
}

// UpdateAccount edits an account. Once a posted line references it, only the
// name and active flag may change.
func (s *Service) UpdateAccount(ctx context.Context, actor rbac.Principal, a Account) (Account, error) {
	if err := rbac.Authorize(actor, rbac.Target{}, rbac.ActionConfigure); err != nil {
		return Account{}, err
	}
	var before, after Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetAccounts(ctx, []int64{a.ID})
		if err != nil {
			return err
		}
		existing, ok := current[a.ID]
		if !ok || (actor.CompanyID != 0 && existing.CompanyID != actor.CompanyID) {
			return shared.Errorf(shared.KindNotFound, "account %d not found", a.ID)
		}
		used, err := tx.AccountHasPostedLines(ctx, a.ID)
		if err != nil {
			return err
		}
		if used && (a.Code != existing.Code || a.NormalBalance != existing.NormalBalance || a.IsControl != existing.IsControl) {
			return shared.Errorf(shared.KindInvalidStateTransition, "account %s has posted lines; only name and active flag can change", existing.Code)
		}
		before = existing
		a.CompanyID = existing.CompanyID
		a.CreatedAt = existing.CreatedAt
		a.UpdatedAt = s.now()
		after = a
		return tx.UpdateAccount(ctx, a)
	})
	if err != nil {
		return Account{}, err
	}
	s.audit.Record(ctx, audit.Change{Entity: "account", EntityID: after.ID, Action: "account.update", Before: before, After: after, ActorID: actor.UserID})
	return after, nil
}

// SetAccountMapping binds (module, key) to an account of the same company.
func (s *Service) SetAccountMapping(ctx context.Context, actor rbac.Principal, m AccountMapping) error {
	if err := rbac.Authorize(actor, rbac.Target{}, rbac.ActionConfigure); err != nil {
		return err
	}
	if err := sameCompany(actor, m.CompanyID); err != nil {
		return err
	}
	m.Module, m.Key = NormalizeMappingKey(m.Module, m.Key)
	if m.Module == "" || m.Key == "" || m.AccountID == 0 {
		return shared.Errorf(shared.KindValidation, "module, key and account are required")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		accounts, err := tx.GetAccounts(ctx, []int64{m.AccountID})
		if err != nil {
			return err
		}
		acc, ok := accounts[m.AccountID]
		if !ok {
			return shared.Errorf(shared.KindValidation, "account %d does not exist", m.AccountID)
		}
		if acc.CompanyID != m.CompanyID {
			return shared.Errorf(shared.KindForeignAccount, "account %s belongs to another company", acc.Code)
		}
		return tx.UpsertAccountMapping(ctx, m)
	})
	if err != nil {
		return err
	}
	s.audit.Record(ctx, audit.Change{Entity: "account_mapping", EntityID: m.Module + "." + m.Key, Action: "mapping.set", After: m, ActorID: actor.UserID})
	return nil
}

// ResolveMapping looks up a mapping inside tx.
func ResolveMapping(ctx context.Context, tx TxRepository, companyID int64, module, key string) (int64, error) {
	module, key = NormalizeMappingKey(module, key)
	m, err := tx.GetAccountMapping(ctx, companyID, module, key)
	if err != nil {
		if shared.KindOf(err) == shared.KindNotFound {
			return 0, shared.Errorf(shared.KindMissingAccountMapping, "account mapping %s.%s is not configured", module, key)
		}
		return 0, err
	}
	return m.AccountID, nil
}

// AccountBalance returns the posted activity of one account.
func (s *Service) AccountBalance(ctx context.Context, accountID int64) (AccountTotal, error) {
	var total AccountTotal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rows, err := tx.AccountTotals(ctx, LineFilter{AccountID: accountID})
		if err != nil {
			return err
		}
		total = AccountTotal{AccountID: accountID, Debit: decimal.Zero, Credit: decimal.Zero}
		for _, r := range rows {
			total.Debit = total.Debit.Add(r.Debit)
			total.Credit = total.Credit.Add(r.Credit)
		}
		return nil
	})
	return total, err
}

// TrialBalanceRow is one account of a trial balance.
type TrialBalanceRow struct {
	AccountID int64           `json:"account_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Balance   decimal.Decimal `json:"balance"`
}

// TrialBalance sums posted activity per account.
type TrialBalance struct {
	CompanyID   int64             `json:"company_id"`
	PeriodID    int64             `json:"period_id,omitempty"`
	Rows        []TrialBalanceRow `json:"rows"`
	TotalDebit  decimal.Decimal   `json:"total_debit"`
	TotalCredit decimal.Decimal   `json:"total_credit"`
	Balanced    bool              `json:"balanced"`
}

// TrialBalance aggregates posted lines of a company, optionally for one period.
func (s *Service) TrialBalance(ctx context.Context, companyID, periodID int64) (TrialBalance, error) {
	tb := TrialBalance{CompanyID: companyID, PeriodID: periodID, TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		totals, err := tx.AccountTotals(ctx, LineFilter{CompanyID: companyID, PeriodID: periodID})
		if err != nil {
			return err
		}
		accounts, err := tx.ListAccounts(ctx, companyID)
		if err != nil {
			return err
		}
		byID := make(map[int64]Account, len(accounts))
		for _, a := range accounts {
			byID[a.ID] = a
		}
		for _, t := range totals {
			acc := byID[t.AccountID]
			balance := t.Net()
			if acc.NormalBalance == NormalCredit {
				balance = balance.Neg()
			}
			tb.Rows = append(tb.Rows, TrialBalanceRow{AccountID: t.AccountID, Code: acc.Code, Name: acc.Name, Debit: t.Debit, Credit: t.Credit, Balance: balance})
			tb.TotalDebit = tb.TotalDebit.Add(t.Debit)
			tb.TotalCredit = tb.TotalCredit.Add(t.Credit)
		}
		return nil
	})
	if err != nil {
		return TrialBalance{}, err
	}
	sort.Slice(tb.Rows, func(i, j int) bool { return tb.Rows[i].Code < tb.Rows[j].Code })
	tb.Balanced = money.WithinCustom(tb.TotalDebit, tb.TotalCredit, s.tolerance)
	return tb, nil
}

// IntegrityScan lists ledger journals whose lines do not balance.
func (s *Service) IntegrityScan(ctx context.Context, companyID int64) ([]JournalTotal, error) {
	var offenders []JournalTotal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		totals, err := tx.JournalTotals(ctx, companyID)
		if err != nil {
			return err
		}
		for _, t := range totals {
			if !money.WithinCustom(t.Debit, t.Credit, s.tolerance) {
				offenders = append(offenders, t)
			}
		}
		return nil
	})
	return offenders, err
}
