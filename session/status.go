package session

import "fmt"

// Status is the coarse authentication state of a running client.
type Status int

const (
	Unauthenticated Status = iota
	Loading
	Authenticated
)

func (s Status) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Loading:
		return "loading"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// allowed lists the legal targets for each status.
var allowed = map[Status][]Status{
	Unauthenticated: {Unauthenticated, Loading},
	Loading:         {Loading, Authenticated, Unauthenticated},
	Authenticated:   {Authenticated, Unauthenticated, Loading},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
