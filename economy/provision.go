package economy

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// =============================================================================
// PLAYERS AND ACCOUNT PROVISIONING
// =============================================================================
//
// Every player owns exactly one account per currency, created with a zero
// balance either when the player registers or when the currency is created.
// Deposit and Withdraw never create accounts. RepairAccounts closes any gap
// left by a failed provisioning run.

const (
	actionRegisterPlayer = "register_player"
	actionRemovePlayer   = "remove_player"
)

// RegisterPlayer saves the player and opens a zero-balance account in every
// registered currency. Registering an existing player only fills in the
// accounts it is missing.
func (e *Engine) RegisterPlayer(ctx context.Context, p Player) *Future[ManagementResult] {
	if p.ID == "" {
		return Resolved(e.finishPlayer(actionRegisterPlayer, &p, p.Name, 0, ErrInvalidPlayer))
	}
	return e.managePlayer(actionRegisterPlayer, &p, p.Name, func() ManagementResult {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = e.now()
		}
		created, err := e.store.SavePlayer(ctx, p)
		if err != nil {
			return e.finishPlayer(actionRegisterPlayer, &p, p.Name, 0, fmt.Errorf("save player: %w", err))
		}

		currencies := e.registry.List()
		accounts := make([]Account, 0, len(currencies))
		for _, c := range currencies {
			accounts = append(accounts, Account{PlayerID: p.ID, CurrencyID: c.ID, UpdatedAt: e.now()})
		}
		n, err := e.store.CreateAccounts(ctx, accounts)
		if err != nil {
			return e.finishPlayer(actionRegisterPlayer, &p, p.Name, 0, fmt.Errorf("create accounts: %w", err))
		}

		e.logger.WithFields(log.Fields{
			"player":  p.ID,
			"new":     created,
			"opened":  n,
			"covered": len(currencies),
		}).Debug("player accounts provisioned")
		return e.finishPlayer(actionRegisterPlayer, &p, p.Name, n, nil)
	})
}

// RemovePlayer deletes the player and every account it owns.
func (e *Engine) RemovePlayer(ctx context.Context, id PlayerID, actor string) *Future[ManagementResult] {
	p := &Player{ID: id}
	if id == "" {
		return Resolved(e.finishPlayer(actionRemovePlayer, p, actor, 0, ErrInvalidPlayer))
	}
	return e.managePlayer(actionRemovePlayer, p, actor, func() ManagementResult {
		found, err := e.store.FindPlayer(ctx, id)
		if err != nil {
			return e.finishPlayer(actionRemovePlayer, p, actor, 0, fmt.Errorf("find player: %w", err))
		}
		if found == nil {
			return e.finishPlayer(actionRemovePlayer, p, actor, 0, ErrPlayerNotFound)
		}

		owned, err := e.store.ListAccountsByPlayer(ctx, id)
		if err != nil {
			return e.finishPlayer(actionRemovePlayer, found, actor, 0, fmt.Errorf("list accounts: %w", err))
		}

		// Let in-flight transactions on these accounts finish first. Any that
		// reload afterwards find no account; saves never recreate one.
		unlock, err := e.lockAccounts(ctx, owned)
		if err != nil {
			return e.finishPlayer(actionRemovePlayer, found, actor, 0, fmt.Errorf("lock accounts: %w", err))
		}
		defer unlock()

		if err := e.store.DeletePlayer(ctx, id); err != nil {
			return e.finishPlayer(actionRemovePlayer, found, actor, 0, fmt.Errorf("delete player: %w", err))
		}
		return e.finishPlayer(actionRemovePlayer, found, actor, len(owned), nil)
	})
}

// lockAccounts takes the account keys in sorted order and returns one
// function releasing all of them.
func (e *Engine) lockAccounts(ctx context.Context, accounts []Account) (func(), error) {
	keys := make([]string, 0, len(accounts))
	for _, a := range accounts {
		keys = append(keys, accountKey(a.PlayerID, a.CurrencyID))
	}
	sort.Strings(keys)

	unlocks := make([]func(), 0, len(keys))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, k := range keys {
		unlock, err := e.locks.Lock(ctx, k)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

// ProvisionAccounts opens a zero-balance account in the given currency for
// every player that lacks one. It resolves to the number of accounts opened.
func (e *Engine) ProvisionAccounts(ctx context.Context, identifier string) *Future[int] {
	cur, ok := e.registry.ByIdentifier(identifier)
	if !ok {
		f := newFuture[int]()
		f.resolve(0, ErrCurrencyNotFound)
		return f
	}
	return e.run0(func() (int, error) { return e.provision(ctx, cur) })
}

// RepairAccounts provisions every registered currency. The scheduler runs
// it periodically.
func (e *Engine) RepairAccounts(ctx context.Context) *Future[int] {
	return e.run0(func() (int, error) {
		total := 0
		for _, cur := range e.registry.List() {
			n, err := e.provision(ctx, cur)
			total += n
			if err != nil {
				return total, fmt.Errorf("provision %s: %w", cur.Identifier, err)
			}
		}
		if total > 0 {
			e.logger.WithField("opened", total).Warn("repaired missing accounts")
		}
		return total, nil
	})
}

// provision pages through players and bulk-creates the missing accounts.
func (e *Engine) provision(ctx context.Context, cur Currency) (int, error) {
	created := 0
	for offset := 0; ; offset += e.provisionBatch {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		players, err := e.store.ListPlayers(ctx, offset, e.provisionBatch)
		if err != nil {
			return created, fmt.Errorf("list players: %w", err)
		}
		if len(players) == 0 {
			return created, nil
		}

		batch := make([]Account, 0, len(players))
		for _, p := range players {
			batch = append(batch, Account{PlayerID: p.ID, CurrencyID: cur.ID, UpdatedAt: e.now()})
		}
		n, err := e.store.CreateAccounts(ctx, batch)
		created += n
		if err != nil {
			return created, fmt.Errorf("create accounts: %w", err)
		}
		if len(players) < e.provisionBatch {
			return created, nil
		}
	}
}

// run0 runs fn on the executor, turning a panic into an error.
func (e *Engine) run0(fn func() (int, error)) *Future[int] {
	f := newFuture[int]()
	err := e.exec.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				f.resolve(0, fmt.Errorf("task panicked: %v", r))
			}
		}()
		f.resolve(fn())
	})
	if err != nil {
		f.resolve(0, err)
	}
	return f
}

func (e *Engine) managePlayer(action string, p *Player, actor string, fn func() ManagementResult) *Future[ManagementResult] {
	f := newFuture[ManagementResult]()
	err := e.exec.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				f.resolve(e.finishPlayer(action, p, actor, 0, fmt.Errorf("%s panicked: %v", action, r)), nil)
			}
		}()
		f.resolve(fn(), nil)
	})
	if err != nil {
		f.resolve(e.finishPlayer(action, p, actor, 0, err), nil)
	}
	return f
}

func (e *Engine) finishPlayer(action string, p *Player, actor string, accounts int, err error) ManagementResult {
	player := p.ID
	entry := e.managementEntry(action, nil, actor, err)
	entry.PlayerID = &player
	entry.Metadata["accounts"] = strconv.Itoa(accounts)
	if action == actionRegisterPlayer && err == nil {
		entry.LogType = LogSystem
	}
	e.audit.Append(entry)

	res := ManagementResult{OK: err == nil, Player: p, Accounts: accounts}
	if err != nil {
		res = managementFailure(nil, err)
		res.Player = p
	}

	fields := log.Fields{"action": action, "player": p.ID}
	if err != nil && KindOf(err) == KindInfrastructure {
		e.logger.WithError(err).WithFields(fields).Error("player action failed")
	} else if err != nil {
		e.logger.WithFields(fields).WithField("reason", err.Error()).Info("player action refused")
	} else {
		e.logger.WithFields(fields).WithField("accounts", accounts).Info("player action applied")
	}
	return e.recordManagement(action, res)
}
