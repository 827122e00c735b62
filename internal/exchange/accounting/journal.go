// Package accounting implements the double-entry journal (spec §4.6):
// every balance change in the exchange is an atomic, multi-leg posting
// where debits equal credits, replayable from its append-only log.
//
// Grounded on internal/architecture/cqrs/core/event.go's ksuid-keyed
// event envelope and EventStore interface shape for one posting's
// envelope.
package accounting

import (
	"strings"
	"sync"

	"github.com/segmentio/ksuid"

	"github.com/mnt-exchange/core/internal/exchange/exerrors"
	"github.com/mnt-exchange/core/internal/exchange/exlog"
	"github.com/mnt-exchange/core/internal/exchange/matching"
	"github.com/mnt-exchange/core/internal/exchange/money"
	"github.com/mnt-exchange/core/internal/exchange/orderbook"
	"github.com/mnt-exchange/core/internal/exchange/position"
)

var _ position.Ledger = (*Journal)(nil)

// AccountPath names one ledger account, e.g.
// "Liabilities:Customer:alice:Balance" or "Revenue:Fees". The segment
// before the first ':' fixes its normal balance side (spec §4.6
// chart-of-accounts sign discipline).
type AccountPath string

const (
	prefixAssets      = "Assets"
	prefixLiabilities = "Liabilities"
	prefixRevenue     = "Revenue"
	prefixExpenses    = "Expenses"
	prefixEquity      = "Equity"
)

// normalBalanceIsDebit reports whether an account of this path increases
// on the debit side (Assets, Expenses) rather than the credit side
// (Liabilities, Revenue, Equity).
func normalBalanceIsDebit(path AccountPath) bool {
	head := string(path)
	if i := strings.IndexByte(head, ':'); i >= 0 {
		head = head[:i]
	}
	switch head {
	case prefixAssets, prefixExpenses:
		return true
	case prefixLiabilities, prefixRevenue, prefixEquity:
		return false
	default:
		return true
	}
}

// RevenueFees, AssetCashOmnibus, etc. are the well-known accounts this
// package posts to; user-scoped accounts are built with UserCash and
// UserMargin.
const (
	RevenueFees        AccountPath = "Revenue:Fees"
	RevenueSpread      AccountPath = "Revenue:Spread"
	RevenueADL         AccountPath = "Revenue:ADL"
	LiabilityInsurance AccountPath = "Liabilities:Insurance"
	LiabilityVAT       AccountPath = "Liabilities:VAT"
	AssetCashOmnibus   AccountPath = "Assets:Cash:Omnibus"
	AssetInsuranceFund AccountPath = "Assets:InsuranceFund"
	ExpensesInsurance  AccountPath = "Expenses:Insurance"
)

// UserCash returns a user's available-balance account path (spec §4.6:
// "customer funds live as exchange liabilities"). This is the exchange's
// debt to the customer, not an asset the exchange owns.
func UserCash(userID string) AccountPath {
	return AccountPath("Liabilities:Customer:" + userID + ":Balance")
}

// UserMargin returns a user's locked-margin sub-account (spec §4.6):
// funds reclassified out of UserCash while reserved against a resting
// order or open position, reclassified back on release.
func UserMargin(userID string) AccountPath {
	return AccountPath("Liabilities:Customer:" + userID + ":Margin")
}

// RevenueFunding and ExpensesFunding are the per-symbol funding P&L
// accounts a PostFunding call recognizes against (spec §4.7 scenario 6:
// "Revenue:Funding:BTC-PERP"). Funding is tracked per symbol rather
// than pooled because each product's funding cycle settles and nets
// independently.
func RevenueFunding(symbol string) AccountPath {
	return AccountPath("Revenue:Funding:" + symbol)
}

func ExpensesFunding(symbol string) AccountPath {
	return AccountPath("Expenses:Funding:" + symbol)
}

// Leg is one side of a posting: exactly one of Debit/Credit is nonzero.
type Leg struct {
	Account AccountPath
	Debit   money.Micro
	Credit  money.Micro
}

// Posting is one atomic journal entry (spec §4.6 "atomic multi-leg
// postings"). Kind names the event; this package posts deposit,
// withdrawal, trade, trade_fee, margin_lock, margin_release, funding,
// insurance_absorption and adl_clawback.
type Posting struct {
	ID        string
	Seq       int64
	Timestamp int64
	Kind      string
	Ref       string
	Desc      string
	Legs      []Leg
}

func (p Posting) balanced() bool {
	var dr, cr money.Micro
	for _, l := range p.Legs {
		dr += l.Debit
		cr += l.Credit
	}
	return dr == cr
}

// Recorder is the append-only persistence surface a Journal writes
// through to (spec §6 persisted-state layout); ledgerfile.File
// implements it. Kept as a narrow interface so the journal has no
// hard dependency on the file format.
type Recorder interface {
	Append(Posting) error
}

// Journal is the in-memory double-entry ledger: current balances per
// account, rebuilt from (and mirrored to) an append-only Recorder.
type Journal struct {
	mu sync.Mutex

	balances map[AccountPath]money.Micro
	history  []Posting
	nextSeq  int64
	recorder Recorder
	logger   exlog.Logger

	reconcileEvery int
	sinceReconcile int
	onMismatch     func(path AccountPath, want, got money.Micro)
}

// New builds an empty Journal. reconcileEvery is the posting cadence at
// which the journal re-sums every account from its own leg history and
// compares against the cached balance (spec §4.6 "periodic
// reconciliation"); 0 disables it.
func New(recorder Recorder, logger exlog.Logger, reconcileEvery int) *Journal {
	return &Journal{
		balances:       make(map[AccountPath]money.Micro),
		recorder:       recorder,
		logger:         logger,
		reconcileEvery: reconcileEvery,
	}
}

// Post appends one balanced, atomic posting and applies its legs to the
// in-memory balances. Returns exerrors on an unbalanced posting — the
// journal never silently drops an invariant violation.
func (j *Journal) Post(kind, ref, desc string, legs ...Leg) (Posting, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	p := Posting{
		ID:   ksuid.New().String(),
		Seq:  j.nextSeq,
		Kind: kind,
		Ref:  ref,
		Desc: desc,
		Legs: legs,
	}
	if !p.balanced() {
		return Posting{}, exerrors.New("accounting", "UNBALANCED_POSTING", "sum(debits) != sum(credits)").
			WithDetail("kind", kind).WithDetail("ref", ref)
	}

	if j.recorder != nil {
		if err := j.recorder.Append(p); err != nil {
			return Posting{}, exerrors.New("accounting", "PERSISTENCE_FATAL", "journal append failed").WithCause(err)
		}
	}

	for _, l := range legs {
		j.applyLeg(l)
	}
	j.history = append(j.history, p)
	j.nextSeq++

	j.sinceReconcile++
	if j.reconcileEvery > 0 && j.sinceReconcile >= j.reconcileEvery {
		j.sinceReconcile = 0
		j.reconcile(legs)
	}
	return p, nil
}

func (j *Journal) applyLeg(l Leg) {
	delta := l.Debit - l.Credit
	if !normalBalanceIsDebit(l.Account) {
		delta = -delta
	}
	j.balances[l.Account] += delta
}

// Balance returns an account's current cached balance.
func (j *Journal) Balance(account AccountPath) money.Micro {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.balances[account]
}

// reconcile re-derives the touched accounts' balances from scratch by
// re-summing this process's own posting history and compares against
// the cached balance, flagging (never crashing) on mismatch (spec
// §4.6). Caller holds j.mu.
func (j *Journal) reconcile(touched []Leg) {
	seen := make(map[AccountPath]bool, len(touched))
	for _, l := range touched {
		if seen[l.Account] {
			continue
		}
		seen[l.Account] = true

		var recomputed money.Micro
		for _, p := range j.history {
			for _, hl := range p.Legs {
				if hl.Account == l.Account {
					recomputed += hl.Debit - hl.Credit
				}
			}
		}
		if !normalBalanceIsDebit(l.Account) {
			recomputed = -recomputed
		}

		if want, got := j.balances[l.Account], recomputed; want != got {
			if j.onMismatch != nil {
				j.onMismatch(l.Account, want, got)
			}
			if j.logger != nil {
				j.logger.Error("journal reconciliation mismatch", "account", string(l.Account), "cached", int64(want), "recomputed", int64(got))
			}
		}
	}
}

// OnMismatch registers a callback invoked when reconciliation detects a
// divergence (used by tests and by the composition root to page
// on-call rather than crash the process).
func (j *Journal) OnMismatch(fn func(path AccountPath, want, got money.Micro)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.onMismatch = fn
}

// Replay rebuilds balances and nextSeq from a previously recorded
// posting history (spec §4.6 "replay": re-read the journal in id
// order, reconstruct accounts/balances/next_id).
func (j *Journal) Replay(postings []Posting) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.balances = make(map[AccountPath]money.Micro)
	var maxSeq int64 = -1
	for _, p := range postings {
		for _, l := range p.Legs {
			j.applyLeg(l)
		}
		if p.Seq > maxSeq {
			maxSeq = p.Seq
		}
	}
	j.nextSeq = maxSeq + 1
}

// PostTrade implements matching.Ledger: posts a derivative trade's fee
// revenue, insurance contribution and VAT liability (spec §4.2/§4.6).
// Position P&L itself is posted by the position manager's own account
// mutation, not duplicated here — this journal records the house's
// side of the trade (fees, insurance, VAT), matching the teacher's
// separation of position state from the accounting ledger.
func (j *Journal) PostTrade(tc matching.TradeCommitted) error {
	legs := j.feeLegs(tc)
	if len(legs) == 0 {
		return nil
	}
	_, err := j.Post("trade_fee", tc.Trade.ID, "derivative trade fee/insurance/VAT", legs...)
	return err
}

// PostSpotTrade implements matching.Ledger (spec §9 resolved
// ambiguity: spot trades post no commodity-denominated leg, only the
// MNT cash legs — buyer's balance decreases, seller's increases, fees
// to revenue). UserCash is credit-normal, so the buyer leg is a Debit
// (decrease) and the seller leg a Credit (increase).
func (j *Journal) PostSpotTrade(tc matching.TradeCommitted) error {
	notional := money.MulQty(tc.Trade.Price, tc.Trade.Quantity)
	buyer, seller := tc.Trade.TakerUserID, tc.Trade.MakerUserID
	if tc.Trade.TakerSide == orderbook.Sell {
		buyer, seller = seller, buyer
	}
	legs := []Leg{
		{Account: UserCash(buyer), Debit: notional, Credit: 0},
		{Account: UserCash(seller), Debit: 0, Credit: notional},
	}
	legs = append(legs, j.feeLegs(tc)...)
	_, err := j.Post("trade", tc.Trade.ID, "spot trade settlement", legs...)
	return err
}

// feeLegs builds the revenue/insurance/VAT legs common to both spot and
// derivative trades, balanced against each counterparty's cash account.
// UserCash is credit-normal, so every Debit leg here decreases the
// payer's balance (spec §4.2 "deduct explicit fees from fee-bearing
// side(s)").
func (j *Journal) feeLegs(tc matching.TradeCommitted) []Leg {
	var legs []Leg
	if tc.Fees.SpreadRevenue > 0 {
		legs = append(legs,
			Leg{Account: UserCash(tc.Trade.TakerUserID), Credit: 0, Debit: tc.Fees.SpreadRevenue},
			Leg{Account: RevenueSpread, Credit: tc.Fees.SpreadRevenue},
		)
	}
	if tc.Fees.TakerFee > 0 {
		legs = append(legs,
			Leg{Account: UserCash(tc.Trade.TakerUserID), Debit: tc.Fees.TakerFee},
			Leg{Account: RevenueFees, Credit: tc.Fees.TakerFee},
		)
	}
	if tc.Fees.MakerFee > 0 {
		legs = append(legs,
			Leg{Account: UserCash(tc.Trade.MakerUserID), Debit: tc.Fees.MakerFee},
			Leg{Account: RevenueFees, Credit: tc.Fees.MakerFee},
		)
	}
	if tc.Fees.VAT > 0 {
		legs = append(legs,
			Leg{Account: RevenueFees, Debit: tc.Fees.VAT},
			Leg{Account: LiabilityVAT, Credit: tc.Fees.VAT},
		)
	}
	if tc.Fees.InsuranceCut > 0 {
		legs = append(legs,
			Leg{Account: RevenueFees, Debit: tc.Fees.InsuranceCut},
			Leg{Account: LiabilityInsurance, Credit: tc.Fees.InsuranceCut},
		)
	}
	return legs
}

// PostFunding journals one position's funding settlement (spec §4.7).
// payment is positive when the position owes the payment (a long under
// a positive funding rate) and negative when it receives one. Both
// UserCash and the per-symbol Revenue/Expenses account are
// credit-normal, so a single balanced two-leg entry moves the payment
// directly between them with no clearing leg needed.
func (j *Journal) PostFunding(userID, symbol string, payment money.Micro) error {
	if payment == 0 {
		return nil
	}
	if payment > 0 {
		_, err := j.Post("funding", symbol, "funding payment owed: "+userID,
			Leg{Account: UserCash(userID), Debit: payment},
			Leg{Account: RevenueFunding(symbol), Credit: payment},
		)
		return err
	}
	amount := -payment
	_, err := j.Post("funding", symbol, "funding payment received: "+userID,
		Leg{Account: ExpensesFunding(symbol), Debit: amount},
		Leg{Account: UserCash(userID), Credit: amount},
	)
	return err
}

// Deposit and Withdrawal post a user's cash movement against the
// exchange's own omnibus cash account (spec §4.6 event kinds): real
// money moving in/out of AssetCashOmnibus, offset against the
// customer's UserCash liability.
func (j *Journal) Deposit(userID string, amount money.Micro, ref string) error {
	_, err := j.Post("deposit", ref, "user deposit",
		Leg{Account: AssetCashOmnibus, Debit: amount},
		Leg{Account: UserCash(userID), Credit: amount},
	)
	return err
}

func (j *Journal) Withdrawal(userID string, amount money.Micro, ref string) error {
	_, err := j.Post("withdrawal", ref, "user withdrawal",
		Leg{Account: UserCash(userID), Debit: amount},
		Leg{Account: AssetCashOmnibus, Credit: amount},
	)
	return err
}

// PostMarginLock and PostMarginRelease reclassify a user's funds
// between their available balance and locked margin, both sub-accounts
// of the same Liabilities:Customer claim (spec §4.6 margin lock/release
// events). The total customer liability is unchanged; only which
// sub-account it sits in moves.
func (j *Journal) PostMarginLock(userID string, amount money.Micro) error {
	if amount == 0 {
		return nil
	}
	_, err := j.Post("margin_lock", userID, "order margin reserved",
		Leg{Account: UserCash(userID), Debit: amount},
		Leg{Account: UserMargin(userID), Credit: amount},
	)
	return err
}

func (j *Journal) PostMarginRelease(userID string, amount money.Micro) error {
	if amount == 0 {
		return nil
	}
	_, err := j.Post("margin_release", userID, "order margin released",
		Leg{Account: UserMargin(userID), Debit: amount},
		Leg{Account: UserCash(userID), Credit: amount},
	)
	return err
}

// PostInsuranceAbsorption records the insurance fund spending down to
// cover a bankrupt position's shortfall (spec §4.3): an expense is
// recognized against the fund asset, rather than the shortfall being
// silently written off.
func (j *Journal) PostInsuranceAbsorption(userID string, amount money.Micro) error {
	if amount == 0 {
		return nil
	}
	_, err := j.Post("insurance_absorption", userID, "insurance fund absorbed bankruptcy shortfall",
		Leg{Account: ExpensesInsurance, Debit: amount},
		Leg{Account: AssetInsuranceFund, Credit: amount},
	)
	return err
}

// PostADLClawback records one auto-deleveraged position's profit being
// clawed back to cover an outstanding default (spec §4.4: "one ADL
// journal entry per affected position").
func (j *Journal) PostADLClawback(userID string, amount money.Micro) error {
	if amount == 0 {
		return nil
	}
	_, err := j.Post("adl_clawback", userID, "auto-deleveraging clawback",
		Leg{Account: UserCash(userID), Debit: amount},
		Leg{Account: RevenueADL, Credit: amount},
	)
	return err
}
