package domain

import (
	"strings"
	"time"
)

// rank orders statuses along incomplete -> active/past_due -> canceling -> canceled.
// active and past_due share a rank and may alternate.
func (s SubscriptionStatus) rank() int {
	switch s {
	case StatusIncomplete:
		return 0
	case StatusActive, StatusPastDue:
		return 1
	case StatusCanceling:
		return 2
	case StatusCanceled:
		return 3
	default:
		return -1
	}
}

// FromGatewayStatus maps a Stripe subscription status onto the local lifecycle.
// A live subscription scheduled to end at period end is reported as canceling.
func FromGatewayStatus(status string, cancelAtPeriodEnd bool) (SubscriptionStatus, bool) {
	var mapped SubscriptionStatus
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "incomplete":
		mapped = StatusIncomplete
	case "trialing", "active":
		mapped = StatusActive
	case "past_due", "unpaid":
		mapped = StatusPastDue
	case "canceled", "incomplete_expired":
		return StatusCanceled, true
	default:
		return "", false
	}
	if cancelAtPeriodEnd && mapped != StatusIncomplete {
		return StatusCanceling, true
	}
	return mapped, true
}

// Merge folds an incoming observation into the stored subscription and reports
// whether anything changed. Status never moves backwards and canceled is terminal.
// Within one rank the newer EventAt wins; equal stamps resolve the same way
// whatever order they arrive in.
func Merge(current *Subscription, incoming Subscription) (Subscription, bool) {
	if current == nil {
		next := incoming
		if next.Status == StatusCanceling {
			next.CancelAtPeriodEnd = true
		}
		return next, true
	}

	next := *current
	if current.Status == StatusCanceled {
		return next, false
	}

	currentRank, incomingRank := current.Status.rank(), incoming.Status.rank()
	newer := incoming.EventAt.After(current.EventAt)

	switch {
	case incomingRank < currentRank:
		return next, false
	case incomingRank > currentRank:
		next.Status = incoming.Status
		mergeDetails(&next, incoming, newer)
	case incoming.EventAt.Before(current.EventAt):
		return next, false
	case newer:
		next.Status = incoming.Status
		mergeDetails(&next, incoming, true)
	default:
		next.Status = tieBreak(current.Status, incoming.Status)
		if laterOf(incoming.CurrentPeriodEnd, current.CurrentPeriodEnd) == incoming.CurrentPeriodEnd {
			next.CurrentPeriodEnd = incoming.CurrentPeriodEnd
		}
		next.CancelAtPeriodEnd = current.CancelAtPeriodEnd || incoming.CancelAtPeriodEnd
		fillMissing(&next, incoming)
	}

	if newer {
		next.EventAt = incoming.EventAt
	}
	if next.Status == StatusCanceling {
		next.CancelAtPeriodEnd = true
	}
	return next, !sameState(*current, next)
}

func mergeDetails(next *Subscription, incoming Subscription, newer bool) {
	if newer {
		if incoming.CurrentPeriodEnd != nil {
			next.CurrentPeriodEnd = incoming.CurrentPeriodEnd
		}
		next.CancelAtPeriodEnd = incoming.CancelAtPeriodEnd
	} else if next.CurrentPeriodEnd == nil {
		next.CurrentPeriodEnd = incoming.CurrentPeriodEnd
	}
	fillMissing(next, incoming)
}

func fillMissing(next *Subscription, incoming Subscription) {
	if next.UserID == nil && incoming.UserID != nil {
		next.UserID = incoming.UserID
	}
	if next.PriceID == nil && incoming.PriceID != nil {
		next.PriceID = incoming.PriceID
	}
	if next.CustomerID == "" {
		next.CustomerID = incoming.CustomerID
	}
}

func tieBreak(a, b SubscriptionStatus) SubscriptionStatus {
	if a == StatusPastDue || b == StatusPastDue {
		return StatusPastDue
	}
	return a
}

func laterOf(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.After(*b):
		return a
	default:
		return b
	}
}

func sameState(a, b Subscription) bool {
	return a.Status == b.Status &&
		a.CustomerID == b.CustomerID &&
		a.CancelAtPeriodEnd == b.CancelAtPeriodEnd &&
		a.EventAt.Equal(b.EventAt) &&
		sameTime(a.CurrentPeriodEnd, b.CurrentPeriodEnd) &&
		sameString(a.UserID, b.UserID) &&
		sameString(a.PriceID, b.PriceID)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
