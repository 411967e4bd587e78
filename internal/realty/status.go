package realty

type ReservationState string

const (
	StatePending   ReservationState = "pending"
	StateConfirmed ReservationState = "confirmed"
	StateCancelled ReservationState = "cancelled"
	StateExpired   ReservationState = "expired"
)

var validNext = map[ReservationState]map[ReservationState]bool{
	StatePending:   {StatePending: true, StateConfirmed: true, StateCancelled: true, StateExpired: true},
	StateConfirmed: {StatePending: true, StateConfirmed: true, StateCancelled: true, StateExpired: true},
	StateCancelled: {},
	StateExpired:   {},
}

// ParseReservationState accepts only the four known states.
func ParseReservationState(s string) (ReservationState, bool) {
	st := ReservationState(s)
	_, ok := validNext[st]
	return st, ok
}

func CanTransition(from, to ReservationState) bool {
	return validNext[from][to]
}

// Live states keep a reservation active.
func (s ReservationState) Live() bool {
	return s == StatePending || s == StateConfirmed
}

func (s ReservationState) Terminal() bool {
	return s == StateCancelled || s == StateExpired
}

type PropertyStatus string

const (
	PropertyAvailable PropertyStatus = "available"
	PropertyReserved  PropertyStatus = "reserved"
	PropertyRented    PropertyStatus = "rented"
	PropertySold      PropertyStatus = "sold"
)

// Terminal statuses are owned by contracts and never rewritten by reservation logic.
func (s PropertyStatus) Terminal() bool {
	return s == PropertyRented || s == PropertySold
}

type ContractType string

const (
	ContractSale   ContractType = "sale"
	ContractRental ContractType = "rental"
)

func (t ContractType) Valid() bool {
	return t == ContractSale || t == ContractRental
}

// PropertyStatus is the status an active contract of this type imposes.
func (t ContractType) PropertyStatus() PropertyStatus {
	if t == ContractSale {
		return PropertySold
	}
	return PropertyRented
}

type PaymentMethod string

const (
	MethodTransfer   PaymentMethod = "transfer"
	MethodCash       PaymentMethod = "cash"
	MethodDebitCard  PaymentMethod = "debit_card"
	MethodCreditCard PaymentMethod = "credit_card"
	MethodCheque     PaymentMethod = "cheque"
	MethodWebpay     PaymentMethod = "webpay"
	MethodOther      PaymentMethod = "other"
)

var paymentMethods = map[PaymentMethod]bool{
	MethodTransfer: true, MethodCash: true, MethodDebitCard: true, MethodCreditCard: true,
	MethodCheque: true, MethodWebpay: true, MethodOther: true,
}

func (m PaymentMethod) Valid() bool { return paymentMethods[m] }

type NotificationKind string

const (
	KindReservation NotificationKind = "RESERVATION"
	KindPayment     NotificationKind = "PAYMENT"
	KindSystem      NotificationKind = "SYSTEM"
)

func (k NotificationKind) Valid() bool {
	return k == KindReservation || k == KindPayment || k == KindSystem
}

type Role string

const (
	RoleStaff  Role = "staff"
	RoleOwner  Role = "owner"
	RoleClient Role = "client"
)

func (r Role) Valid() bool {
	return r == RoleStaff || r == RoleOwner || r == RoleClient
}
