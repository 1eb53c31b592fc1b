package store

// Status is the closed subscription status tag set.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusCanceled Status = "canceled"
	StatusPastDue  Status = "past_due"
	StatusUnpaid   Status = "unpaid"
	StatusTrialing Status = "trialing"
	StatusExpired  Status = "expired"
	StatusFree     Status = "free"
)

// Statuses lists every member of the closed set.
var Statuses = []Status{
	StatusActive,
	StatusInactive,
	StatusCanceled,
	StatusPastDue,
	StatusUnpaid,
	StatusTrialing,
	StatusExpired,
	StatusFree,
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether no further lifecycle transitions apply.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusExpired
}
