package domain

// basic error that can occur
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	ErrLockHeld        Error = "lock held by another user"
	ErrUnauthenticated Error = "unauthenticated"
)
