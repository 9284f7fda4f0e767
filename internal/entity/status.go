package entity

// Status is the buyer-facing order status.
type Status string

const (
	StatusToPay     Status = "to_pay"
	StatusToShip    Status = "to_ship"
	StatusToReceive Status = "to_receive"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) String() string { return string(s) }

// Valid reports whether s is a known buyer status.
func (s Status) Valid() bool {
	switch s {
	case StatusToPay, StatusToShip, StatusToReceive, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// SellerStatus is the seller-facing order status.
type SellerStatus string

const (
	SellerStatusUpcoming  SellerStatus = "upcoming"
	SellerStatusToShip    SellerStatus = "to_ship"
	SellerStatusShipped   SellerStatus = "shipped"
	SellerStatusCompleted SellerStatus = "completed"
	SellerStatusCancelled SellerStatus = "cancelled"
)

func (s SellerStatus) String() string { return string(s) }

// Valid reports whether s is a known seller status.
func (s SellerStatus) Valid() bool {
	switch s {
	case SellerStatusUpcoming, SellerStatusToShip, SellerStatusShipped, SellerStatusCompleted, SellerStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s SellerStatus) Terminal() bool {
	return s == SellerStatusCompleted || s == SellerStatusCancelled
}

// BuyerStatusFor maps a seller status to the buyer-facing status that must
// accompany it on the same transaction.
func BuyerStatusFor(s SellerStatus) Status {
	switch s {
	case SellerStatusUpcoming:
		return StatusToPay
	case SellerStatusToShip:
		return StatusToShip
	case SellerStatusShipped:
		return StatusToReceive
	case SellerStatusCompleted:
		return StatusCompleted
	case SellerStatusCancelled:
		return StatusCancelled
	}
	return ""
}

// SellerStatusFor maps a buyer status to the seller-facing status that must
// accompany it on the same transaction.
func SellerStatusFor(s Status) SellerStatus {
	switch s {
	case StatusToPay:
		return SellerStatusUpcoming
	case StatusToShip:
		return SellerStatusToShip
	case StatusToReceive:
		return SellerStatusShipped
	case StatusCompleted:
		return SellerStatusCompleted
	case StatusCancelled:
		return SellerStatusCancelled
	}
	return ""
}
