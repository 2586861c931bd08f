package ticket

import "flowops/internal/domain"

// allowed is the complete transition table. Anything absent is invalid,
// including every move out of closed.
var allowed = map[domain.TicketStatus][]domain.TicketStatus{
	domain.StatusOpen:       {domain.StatusInProgress, domain.StatusEscalated},
	domain.StatusInProgress: {domain.StatusEscalated, domain.StatusResolved},
	domain.StatusEscalated:  {domain.StatusResolved},
	domain.StatusResolved:   {domain.StatusClosed},
	domain.StatusClosed:     nil,
}

// CanTransition reports whether a ticket may move from one status to another.
func CanTransition(from, to domain.TicketStatus) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}
