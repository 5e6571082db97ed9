/*
incentive.go - The Target/Incentive Evaluator

PURPOSE:
  Pure read-side computation. For each configured week window of a month,
  sums each staff member's StaffDailySummary totals across the window's
  date range, compares against the configured target and, when the target
  is strictly exceeded and an incentive rate is set, computes the payout.

ELIGIBILITY:
  Strict inequality: achieved == target is NOT eligible. Ineligible staff
  carry a reason so reports are self-explanatory.
*/
package engine

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ineligibility reasons surfaced on incentive reports.
const (
	ReasonNoTarget     = "no target set"
	ReasonNoRate       = "no incentive rate set"
	ReasonTargetNotMet = "target not met"
)

// StaffIncentive is one staff member's result for one week window.
type StaffIncentive struct {
	StaffID      StaffID         `json:"staffId"`
	Name         string          `json:"name"`
	Target       decimal.Decimal `json:"target"`
	Achieved     decimal.Decimal `json:"achieved"`
	IncentivePct decimal.Decimal `json:"incentivePercentage"`
	Incentive    decimal.Decimal `json:"incentive"`
	Eligible     bool            `json:"eligible"`
	Reason       string          `json:"reason,omitempty"`
}

// WeekIncentives is one week window's evaluation.
type WeekIncentives struct {
	Window          WeekWindow       `json:"window"`
	OverallTarget   decimal.Decimal  `json:"overallTarget"`
	OverallAchieved decimal.Decimal  `json:"overallAchieved"`
	Staff           []StaffIncentive `json:"staff"`
}

// IncentiveReport is the full per-week, per-staff evaluation of a month.
type IncentiveReport struct {
	Month MonthKey         `json:"month"`
	Weeks []WeekIncentives `json:"weeks"`
}

// IncentiveEvaluator computes achievements and payouts. No write side
// effects.
type IncentiveEvaluator struct {
	Store Store
	Log   *zap.Logger
}

func NewIncentiveEvaluator(store Store, log *zap.Logger) *IncentiveEvaluator {
	if log == nil {
		log = zap.NewNop()
	}
	return &IncentiveEvaluator{Store: store, Log: log}
}

// WeeklyAchievement sums one staff member's daily totals over [from, to].
// Absent days contribute zero.
func (e *IncentiveEvaluator) WeeklyAchievement(ctx context.Context, staffID StaffID, from, to DayKey) (decimal.Decimal, error) {
	if to.Before(from) {
		return decimal.Zero, &ValidationError{Field: "range", Message: "end before start"}
	}

	total := decimal.Zero
	for _, day := range DaysBetween(from, to) {
		summary, err := e.Store.GetStaffDailySummary(ctx, day)
		if err != nil {
			return decimal.Zero, err
		}
		if summary == nil {
			continue
		}
		if bucket, ok := summary.Staff[staffID]; ok {
			total = Round2(total.Add(bucket.TotalValue))
		}
	}
	return total, nil
}

// EvaluateMonth builds the incentive report for a month's configured
// targets. A month with no target sheet fails with NotFoundError: absent
// configuration is an operator problem, not an empty report.
func (e *IncentiveEvaluator) EvaluateMonth(ctx context.Context, month MonthKey) (*IncentiveReport, error) {
	sheet, err := e.Store.GetWeeklyTargets(ctx, month)
	if err != nil {
		return nil, err
	}
	if sheet == nil {
		return nil, &NotFoundError{Kind: "weekly targets", Key: month.String()}
	}

	report := &IncentiveReport{Month: month}
	for _, week := range sheet.Weeks {
		achieved, err := e.achievementsByStaff(ctx, week.Window)
		if err != nil {
			return nil, err
		}

		wi := WeekIncentives{
			Window:        week.Window,
			OverallTarget: week.Overall,
		}
		for _, a := range achieved {
			wi.OverallAchieved = Round2(wi.OverallAchieved.Add(a.total))
		}

		// Evaluate every staff member that has either a target or sales in
		// the window.
		seen := make(map[StaffID]bool)
		for staffID, target := range week.Staff {
			seen[staffID] = true
			wi.Staff = append(wi.Staff, e.evaluate(staffID, target, achieved))
		}
		for _, a := range achieved {
			if !seen[a.id] {
				wi.Staff = append(wi.Staff, e.evaluate(a.id, StaffTarget{}, achieved))
			}
		}

		report.Weeks = append(report.Weeks, wi)
	}
	return report, nil
}

type staffAchievement struct {
	id    StaffID
	name  string
	total decimal.Decimal
}

func (e *IncentiveEvaluator) achievementsByStaff(ctx context.Context, w WeekWindow) (map[StaffID]staffAchievement, error) {
	achieved := make(map[StaffID]staffAchievement)
	for _, day := range DaysBetween(w.Start, w.End) {
		summary, err := e.Store.GetStaffDailySummary(ctx, day)
		if err != nil {
			return nil, err
		}
		if summary == nil {
			continue
		}
		for staffID, bucket := range summary.Staff {
			a := achieved[staffID]
			a.id = staffID
			if a.name == "" {
				a.name = bucket.Name
			}
			a.total = Round2(a.total.Add(bucket.TotalValue))
			achieved[staffID] = a
		}
	}
	return achieved, nil
}

func (e *IncentiveEvaluator) evaluate(staffID StaffID, target StaffTarget, achieved map[StaffID]staffAchievement) StaffIncentive {
	a := achieved[staffID]
	si := StaffIncentive{
		StaffID:      staffID,
		Name:         a.name,
		Target:       target.Target,
		Achieved:     a.total,
		IncentivePct: target.IncentivePct,
		Incentive:    decimal.Zero,
	}

	switch {
	case !target.Target.IsPositive():
		si.Reason = ReasonNoTarget
	case !target.IncentivePct.IsPositive():
		si.Reason = ReasonNoRate
	case !a.total.GreaterThan(target.Target):
		// Strict: achieved == target is not eligible.
		si.Reason = ReasonTargetNotMet
	default:
		si.Eligible = true
		si.Incentive = Round2(a.total.Mul(target.IncentivePct).Div(decimal.NewFromInt(100)))
	}
	return si
}
