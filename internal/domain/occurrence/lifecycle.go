package occurrence

import "fmt"

// adjacency es la única tabla de transiciones válidas.
// completed y not_applicable son terminales.
var adjacency = map[Status][]Status{
	StatusRegistered:       {StatusTriaging, StatusUnderReview, StatusNotApplicable},
	StatusTriaging:         {StatusUnderReview, StatusNotApplicable},
	StatusUnderReview:      {StatusActionInProgress, StatusNotApplicable},
	StatusActionInProgress: {StatusCompleted, StatusUnderReview, StatusNotApplicable},
	StatusCompleted:        {},
	StatusNotApplicable:    {},
}

func CanTransition(from, to Status) bool {
	for _, next := range adjacency[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition devuelve ErrInvalidTransition si el edge no existe.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// NextStatuses devuelve una copia de los destinos permitidos desde from.
func NextStatuses(from Status) []Status {
	out := make([]Status, len(adjacency[from]))
	copy(out, adjacency[from])
	return out
}

func AllStatuses() []Status {
	return []Status{
		StatusRegistered,
		StatusTriaging,
		StatusUnderReview,
		StatusActionInProgress,
		StatusCompleted,
		StatusNotApplicable,
	}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusNotApplicable
}
