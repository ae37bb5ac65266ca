package orders

type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusPaid       Status = "PAID"
	StatusConfirmed  Status = "CONFIRMED"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
	StatusReturned   Status = "RETURNED"
)

var validNext = map[Status]map[Status]bool{
	StatusCreated:    {StatusPaid: true, StatusCancelled: true},
	StatusPaid:       {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:  {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:    {StatusDelivered: true},
	StatusDelivered:  {StatusReturned: true},
	StatusCancelled:  {},
	StatusReturned:   {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Cancellable lists the states the canceller and the sweeper may leave.
func (s Status) Cancellable() bool {
	return CanTransition(s, StatusCancelled)
}

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

var reservationNext = map[ReservationStatus]map[ReservationStatus]bool{
	ReservationPending:   {ReservationConfirmed: true, ReservationReleased: true, ReservationExpired: true},
	ReservationConfirmed: {ReservationReleased: true},
	ReservationReleased:  {},
	ReservationExpired:   {},
}

func CanTransitionReservation(from, to ReservationStatus) bool {
	return reservationNext[from][to]
}

// HoldsStock reports whether the reservation still owns its decremented quantity.
func (s ReservationStatus) HoldsStock() bool {
	return s == ReservationPending || s == ReservationConfirmed
}
