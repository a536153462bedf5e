// Package statemachine provides an immutable finite-state transition table.
//
// A Table holds transitions keyed by [from state][event]. It never stores a
// "current" state: callers pass the state they loaded from storage, and Resolve
// returns the transition to apply. That keeps lifecycle decisions pure and lets
// any number of goroutines share one table without locking.
//
// # Usage
//
//	const (
//	    Draft     = statemachine.StringState("draft")
//	    InReview  = statemachine.StringState("in_review")
//	    Submit    = statemachine.StringEvent("submit")
//	)
//
//	table := statemachine.MustNew(
//	    statemachine.WithTransition(Draft, InReview, Submit,
//	        statemachine.WithEffects("notify_reviewers"),
//	    ),
//	)
//
//	tr, err := table.Resolve(ctx, Draft, Submit, nil)
//	// tr.To == InReview, tr.Effects == ["notify_reviewers"]
//
// # Guards and Effects
//
// Guards veto a transition based on runtime data; the first candidate whose
// guards all pass wins. Effects are plain labels that the caller interprets
// after persisting the new state, so no I/O ever happens inside the table.
//
// # Error Handling
//
//	if statemachine.IsNoTransitionAvailableError(err) { /* not defined */ }
//	if statemachine.IsTransitionRejectedError(err)   { /* guard said no */ }
package statemachine
