// Package stats defines the customer statistics snapshot the progression
// engine evaluates against, and the provider contract used to fetch it.
//
// Stat keys form a fixed, documented set. Catalogs may only reference keys
// from this set, and snapshots may only carry them, so a typo in a catalog or
// a provider is caught at load/construction time instead of silently reading
// as zero.
package stats

import "sort"

// Key names a customer statistic.
type Key string

// Kind is the value type of a statistic.
type Kind int

const (
	KindNumber Kind = iota + 1
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Tier inputs.
const (
	DaysSinceSignup  Key = "days_since_signup"
	TransactionCount Key = "transaction_count"
	TotalSpending    Key = "total_spending"
)

// Financial.
const (
	Balance                Key = "balance"
	AvgBalance             Key = "avg_balance"
	SavingsBalance         Key = "savings_balance"
	BillPayments           Key = "bill_payments"
	InternationalTransfers Key = "international_transfers"
)

// Travel.
const (
	Flights        Key = "flights"
	TotalFlights   Key = "total_flights"
	HotelNights    Key = "hotel_nights"
	TravelBookings Key = "travel_bookings"
)

// Social and engagement.
const (
	Referrals       Key = "referrals"
	SocialShares    Key = "social_shares"
	LoginStreakDays Key = "login_streak_days"
)

// Boolean flags.
const (
	ProfileCompleted     Key = "profile_completed"
	KYCVerified          Key = "kyc_verified"
	HasSavingsAccount    Key = "has_savings_account"
	NotificationsEnabled Key = "notifications_enabled"
)

// Definition documents a stat key.
type Definition struct {
	Key         Key
	Kind        Kind
	Description string
}

var registry = map[Key]Definition{
	DaysSinceSignup:        {DaysSinceSignup, KindNumber, "Whole days since the customer signed up"},
	TransactionCount:       {TransactionCount, KindNumber, "Lifetime number of card and account transactions"},
	TotalSpending:          {TotalSpending, KindNumber, "Lifetime spending in minor currency units"},
	Balance:                {Balance, KindNumber, "Current account balance"},
	AvgBalance:             {AvgBalance, KindNumber, "Average daily balance over the trailing 90 days"},
	SavingsBalance:         {SavingsBalance, KindNumber, "Current savings account balance"},
	BillPayments:           {BillPayments, KindNumber, "Bill payments made through the app"},
	InternationalTransfers: {InternationalTransfers, KindNumber, "Outbound international transfers"},
	Flights:                {Flights, KindNumber, "Flights flown in the current program year"},
	TotalFlights:           {TotalFlights, KindNumber, "Lifetime flights flown with partner airlines"},
	HotelNights:            {HotelNights, KindNumber, "Lifetime partner hotel nights"},
	TravelBookings:         {TravelBookings, KindNumber, "Trips booked through the travel portal"},
	Referrals:              {Referrals, KindNumber, "Referred customers who completed onboarding"},
	SocialShares:           {SocialShares, KindNumber, "Shares of program content on social networks"},
	LoginStreakDays:        {LoginStreakDays, KindNumber, "Consecutive days with an app login"},
	ProfileCompleted:       {ProfileCompleted, KindBool, "All mandatory profile fields are filled"},
	KYCVerified:            {KYCVerified, KindBool, "Identity verification passed"},
	HasSavingsAccount:      {HasSavingsAccount, KindBool, "Customer holds a savings account"},
	NotificationsEnabled:   {NotificationsEnabled, KindBool, "Push notifications are enabled"},
}

// Lookup returns the definition of k.
func Lookup(k Key) (Definition, bool) {
	d, ok := registry[k]
	return d, ok
}

// Keys returns every documented stat key, sorted.
func Keys() []Definition {
	out := make([]Definition, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
