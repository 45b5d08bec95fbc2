/*
currency.go - Currency administration

OPERATIONS:
  CreateCurrency  validate -> pre hook -> persist -> cache -> post hook
                  -> provision zero-balance accounts for every player
  EditCurrency    rename / restyle an existing currency
  DeleteCurrency  pre hook (with impact) -> cascade -> uncache -> post hook
  HasCurrency     cache lookup, no side effects

DELETE CASCADE:
  Deleting a currency removes every account holding it and nulls the
  currency reference on its audit entries (the identifier survives in the
  entry metadata). With a TxStore the three writes commit together. A plain
  Store runs them in order; a failure part way leaves the currency in
  place with fewer accounts, and the error is reported and logged.

  The audit queue is flushed before the cascade so entries already queued
  for this currency are written, and then scrubbed, with the rest.

SEE ALSO:
  - provision.go: ProvisionAccounts
  - registry.go: The cache kept in sync here
*/
package economy

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	actionCreateCurrency = "create_currency"
	actionEditCurrency   = "edit_currency"
	actionDeleteCurrency = "delete_currency"
)

// HasCurrency reports whether identifier names a registered currency.
// Blank identifiers are never registered.
func (e *Engine) HasCurrency(identifier string) bool {
	return e.registry.Has(identifier)
}

// =============================================================================
// CREATE
// =============================================================================

// CreateCurrency registers a new currency. The result is OK=false when the
// identifier is blank or taken, or when an observer vetoes the creation.
func (e *Engine) CreateCurrency(ctx context.Context, c Currency, actor string) *Future[ManagementResult] {
	c.Identifier = normalizeIdentifier(c.Identifier)
	if c.Identifier == "" {
		return Resolved(e.finishManagement(actionCreateCurrency, &c, actor, ErrInvalidIdentifier))
	}

	return e.manage(actionCreateCurrency, &c, actor, func() ManagementResult {
		return e.createCurrency(ctx, c, actor)
	})
}

// createCurrency fires the pre hook for every valid attempt, duplicates
// included, so observers see rejected creations too.
func (e *Engine) createCurrency(ctx context.Context, c Currency, actor string) ManagementResult {
	pre := &PreCreateCurrencyEvent{Currency: c, Actor: actor}
	if err := e.hooks.FirePreCreateCurrency(ctx, pre); err != nil {
		return e.finishManagement(actionCreateCurrency, &c, actor, fmt.Errorf("pre hook: %w", err))
	}
	if err := pre.err(); err != nil {
		return e.finishManagement(actionCreateCurrency, &c, actor, err)
	}

	if e.registry.Has(c.Identifier) {
		return e.finishManagement(actionCreateCurrency, &c, actor, ErrDuplicateIdentifier)
	}

	created, err := e.persistCurrency(ctx, c)
	if err != nil {
		return e.finishManagement(actionCreateCurrency, &c, actor, err)
	}

	post := PostCreateCurrencyEvent{Currency: created, Actor: actor, At: e.now()}
	if err := e.hooks.FirePostCreateCurrency(ctx, post); err != nil {
		e.logger.WithError(err).WithField("currency", created.Identifier).Warn("post create hook not delivered")
	}

	res := e.finishManagement(actionCreateCurrency, &created, actor, nil)

	provisioned, err := e.provision(ctx, created)
	if err != nil {
		// The currency exists; the repair job fills in missing accounts.
		e.logger.WithError(err).WithField("currency", created.Identifier).Error("account provisioning incomplete")
	}
	res.Accounts = provisioned
	return res
}

func (e *Engine) persistCurrency(ctx context.Context, c Currency) (Currency, error) {
	unlock, err := e.locks.Lock(ctx, currencyKey(c.Identifier))
	if err != nil {
		return Currency{}, fmt.Errorf("lock currency: %w", err)
	}
	defer unlock()

	existing, err := e.store.FindCurrency(ctx, c.Identifier)
	if err != nil {
		return Currency{}, fmt.Errorf("find currency: %w", err)
	}
	if existing != nil {
		e.registry.Put(*existing)
		return Currency{}, ErrDuplicateIdentifier
	}

	if c.CreatedAt.IsZero() {
		c.CreatedAt = e.now()
	}
	created, err := e.store.CreateCurrency(ctx, c)
	if err != nil {
		return Currency{}, fmt.Errorf("create currency: %w", err)
	}
	e.registry.Put(created)
	return created, nil
}

// =============================================================================
// EDIT
// =============================================================================

// EditCurrency applies patch to the currency named identifier.
func (e *Engine) EditCurrency(ctx context.Context, identifier string, patch CurrencyPatch, actor string) *Future[ManagementResult] {
	ref := &Currency{Identifier: normalizeIdentifier(identifier)}
	if ref.Identifier == "" {
		return Resolved(e.finishManagement(actionEditCurrency, ref, actor, ErrInvalidIdentifier))
	}
	if patch.Identifier != nil && normalizeIdentifier(*patch.Identifier) == "" {
		return Resolved(e.finishManagement(actionEditCurrency, ref, actor, ErrInvalidIdentifier))
	}

	return e.manage(actionEditCurrency, ref, actor, func() ManagementResult {
		return e.editCurrency(ctx, ref.Identifier, patch, actor)
	})
}

func (e *Engine) editCurrency(ctx context.Context, identifier string, patch CurrencyPatch, actor string) ManagementResult {
	cur, ok := e.registry.ByIdentifier(identifier)
	if !ok {
		return e.finishManagement(actionEditCurrency, &Currency{Identifier: identifier}, actor, ErrCurrencyNotFound)
	}
	updated := patch.apply(cur)

	// Lock both names in a fixed order so two renames cannot deadlock.
	keys := []string{currencyKey(cur.Identifier)}
	if updated.Identifier != cur.Identifier {
		keys = append(keys, currencyKey(updated.Identifier))
		sort.Strings(keys)
	}
	for _, key := range keys {
		unlock, err := e.locks.Lock(ctx, key)
		if err != nil {
			return e.finishManagement(actionEditCurrency, &cur, actor, fmt.Errorf("lock currency: %w", err))
		}
		defer unlock()
	}

	if updated.Identifier != cur.Identifier {
		taken, err := e.store.FindCurrency(ctx, updated.Identifier)
		if err != nil {
			return e.finishManagement(actionEditCurrency, &cur, actor, fmt.Errorf("find currency: %w", err))
		}
		if taken != nil && taken.ID != cur.ID {
			return e.finishManagement(actionEditCurrency, &cur, actor, ErrDuplicateIdentifier)
		}
	}

	if err := e.store.UpdateCurrency(ctx, updated); err != nil {
		return e.finishManagement(actionEditCurrency, &cur, actor, fmt.Errorf("update currency: %w", err))
	}
	e.registry.Put(updated)

	res := e.finishManagement(actionEditCurrency, &updated, actor, nil)
	if updated.Identifier != cur.Identifier {
		e.logger.WithFields(log.Fields{
			"from": cur.Identifier,
			"to":   updated.Identifier,
		}).Info("currency renamed")
	}
	return res
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteCurrency removes a currency and every account holding it.
// Unknown or blank identifiers resolve to OK=false without firing hooks.
func (e *Engine) DeleteCurrency(ctx context.Context, identifier string, actor string) *Future[ManagementResult] {
	ref := &Currency{Identifier: normalizeIdentifier(identifier)}
	if ref.Identifier == "" {
		return Resolved(e.finishManagement(actionDeleteCurrency, ref, actor, ErrInvalidIdentifier))
	}

	return e.manage(actionDeleteCurrency, ref, actor, func() ManagementResult {
		return e.deleteCurrency(ctx, ref.Identifier, actor)
	})
}

func (e *Engine) deleteCurrency(ctx context.Context, identifier string, actor string) ManagementResult {
	cur, ok := e.registry.ByIdentifier(identifier)
	if !ok {
		return e.finishManagement(actionDeleteCurrency, &Currency{Identifier: identifier}, actor, ErrCurrencyNotFound)
	}

	accounts, err := e.store.FindAccountsByCurrency(ctx, cur.ID)
	if err != nil {
		return e.finishManagement(actionDeleteCurrency, &cur, actor, fmt.Errorf("find accounts: %w", err))
	}
	total := decimal.Zero
	for _, a := range accounts {
		total = total.Add(decimal.NewFromFloat(a.Balance))
	}
	totalBalance, _ := total.Float64()

	pre := &PreDeleteCurrencyEvent{
		Currency:         cur,
		Actor:            actor,
		AffectedAccounts: len(accounts),
		TotalBalance:     totalBalance,
	}
	if err := e.hooks.FirePreDeleteCurrency(ctx, pre); err != nil {
		return e.finishManagement(actionDeleteCurrency, &cur, actor, fmt.Errorf("pre hook: %w", err))
	}
	if err := pre.err(); err != nil {
		return e.finishManagement(actionDeleteCurrency, &cur, actor, err)
	}

	removed, err := e.cascadeDelete(ctx, cur)
	if err != nil {
		return e.finishManagement(actionDeleteCurrency, &cur, actor, err)
	}
	e.registry.Remove(cur.ID)

	post := PostDeleteCurrencyEvent{
		Currency:         cur,
		Actor:            actor,
		AffectedAccounts: removed,
		TotalBalance:     totalBalance,
		At:               e.now(),
	}
	if err := e.hooks.FirePostDeleteCurrency(ctx, post); err != nil {
		e.logger.WithError(err).WithField("currency", cur.Identifier).Warn("post delete hook not delivered")
	}

	// The row is gone: reference it by identifier only.
	gone := Currency{Identifier: cur.Identifier}
	res := e.finishManagement(actionDeleteCurrency, &gone, actor, nil,
		"currency_id", strconv.FormatInt(int64(cur.ID), 10),
		"affected_accounts", strconv.Itoa(removed),
		"total_balance", total.String(),
	)
	res.Currency = &cur
	res.Accounts = removed
	return res
}

func (e *Engine) cascadeDelete(ctx context.Context, cur Currency) (int, error) {
	unlock, err := e.locks.Lock(ctx, currencyKey(cur.Identifier))
	if err != nil {
		return 0, fmt.Errorf("lock currency: %w", err)
	}
	defer unlock()

	if err := e.audit.Flush(ctx); err != nil {
		return 0, fmt.Errorf("flush audit log: %w", err)
	}

	var removed int
	cascade := func(s Store) error {
		n, err := s.DeleteAccountsByCurrency(ctx, cur.ID)
		if err != nil {
			return fmt.Errorf("delete accounts: %w", err)
		}
		removed = n
		if _, err := s.ScrubCurrencyLogs(ctx, cur.ID); err != nil {
			return fmt.Errorf("scrub logs: %w", err)
		}
		if err := s.DeleteCurrency(ctx, cur.ID); err != nil {
			return fmt.Errorf("delete currency: %w", err)
		}
		return nil
	}

	if tx, ok := e.store.(TxStore); ok {
		err = tx.WithTx(ctx, cascade)
	} else {
		err = cascade(e.store)
	}
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// =============================================================================
// SHARED
// =============================================================================

// manage runs a management action on the executor, converting panics and
// submit failures into an infrastructure failure.
func (e *Engine) manage(action string, ref *Currency, actor string, fn func() ManagementResult) *Future[ManagementResult] {
	f := newFuture[ManagementResult]()
	err := e.exec.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				f.resolve(e.finishManagement(action, ref, actor, fmt.Errorf("%s panicked: %v", action, r)), nil)
			}
		}()
		f.resolve(fn(), nil)
	})
	if err != nil {
		f.resolve(e.finishManagement(action, ref, actor, err), nil)
	}
	return f
}

// finishManagement queues the audit entry, logs and records the outcome.
// meta is an optional list of extra key/value metadata pairs.
func (e *Engine) finishManagement(action string, cur *Currency, actor string, err error, meta ...string) ManagementResult {
	entry := e.managementEntry(action, cur, actor, err)
	for i := 0; i+1 < len(meta); i += 2 {
		entry.Metadata[meta[i]] = meta[i+1]
	}
	e.audit.Append(entry)

	var res ManagementResult
	if err != nil {
		res = managementFailure(cur, err)
	} else {
		c := *cur
		res = ManagementResult{OK: true, Currency: &c}
	}

	fields := log.Fields{"action": action, "actor": actor}
	if cur != nil {
		fields["currency"] = cur.Identifier
	}
	switch KindOf(err) {
	case KindNone:
		e.logger.WithFields(fields).Info("currency action applied")
	case KindInfrastructure:
		e.logger.WithError(err).WithFields(fields).Error("currency action failed")
	default:
		e.logger.WithFields(fields).WithField("reason", err.Error()).Info("currency action refused")
	}
	return e.recordManagement(action, res)
}
