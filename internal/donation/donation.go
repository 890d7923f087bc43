package donation

import (
	"fmt"
	"time"
)

// AnonymousSender is the sentinel display name for zaps whose sender
// could not be determined from the receipt.
const AnonymousSender = "Anónimo"

// Donation is one accepted zap, immutable once created.
type Donation struct {
	// ID is the zap receipt's event id. Two relays delivering the same
	// receipt produce the same ID, which is what the ledger dedups on.
	ID string `json:"id"`

	// Sender is a short display name: the first characters of the
	// sender's pubkey, or AnonymousSender.
	Sender string `json:"sender"`

	// AmountSats is the zapped amount in satoshis, always > 0.
	AmountSats int64 `json:"amount_sats"`

	// ReceivedAt is the receipt's created_at timestamp (unix seconds),
	// or local receipt time when the event carried none.
	ReceivedAt int64 `json:"received_at"`

	// LocalDate is the YYYY-MM-DD calendar date of ReceivedAt in local
	// time. Used only for grouping and daily totals, never for ordering.
	LocalDate string `json:"local_date"`
}

// Time returns the donation's receipt time
func (d *Donation) Time() time.Time {
	return time.Unix(d.ReceivedAt, 0)
}

// LocalDateOf formats a unix timestamp as a YYYY-MM-DD local date
func LocalDateOf(unixSeconds int64) string {
	return time.Unix(unixSeconds, 0).Format("2006-01-02")
}

// FormatSats formats satoshis for display
func FormatSats(sats int64) string {
	if sats == 0 {
		return "0 sats"
	}

	if sats < 1000 {
		return fmt.Sprintf("%d sats", sats)
	}

	if sats < 1000000 {
		return fmt.Sprintf("%.1fK sats", float64(sats)/1000)
	}

	return fmt.Sprintf("%.2fM sats", float64(sats)/1000000)
}
