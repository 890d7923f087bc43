package donation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/zapkiosk/zapkiosk/internal/ops"
)

// KindZapReceipt is the Nostr event kind for zap receipts
const KindZapReceipt = 9735

// senderDisplayLen is how many pubkey characters a sender name keeps
const senderDisplayLen = 8

// Normalizer validates raw zap receipt events and projects them into
// Donations. Events that fail validation are dropped, not errors:
// relays are untrusted and noise is expected.
type Normalizer struct {
	minSats int64
	now     func() time.Time
	log     *ops.Logger
}

// NewNormalizer creates a normalizer that rejects zaps below minSats
func NewNormalizer(minSats int, logger *ops.Logger) *Normalizer {
	return &Normalizer{
		minSats: int64(minSats),
		now:     time.Now,
		log:     logger.WithComponent("normalizer"),
	}
}

// Normalize turns a raw relay event into a Donation. The second return
// is false when the event was rejected.
func (n *Normalizer) Normalize(event *nostr.Event) (*Donation, bool) {
	if event == nil {
		return nil, false
	}

	if event.Kind != KindZapReceipt {
		n.log.LogEventRejected(event.ID, event.Kind, "unexpected kind")
		return nil, false
	}

	amount := n.parseAmount(event)
	if amount <= 0 {
		n.log.LogEventRejected(event.ID, event.Kind, "non-positive amount")
		return nil, false
	}
	if amount < n.minSats {
		// Below the configured noise floor, silently ignore
		return nil, false
	}

	receivedAt := int64(event.CreatedAt)
	if receivedAt <= 0 {
		receivedAt = n.now().Unix()
	}

	return &Donation{
		ID:         event.ID,
		Sender:     n.parseSender(event),
		AmountSats: amount,
		ReceivedAt: receivedAt,
		LocalDate:  LocalDateOf(receivedAt),
	}, true
}

// parseAmount extracts the zapped amount in satoshis. The amount tag
// carries millisatoshis; sats are the floor of msat/1000. Receipts
// without an amount tag fall back to the bolt11 invoice.
func (n *Normalizer) parseAmount(event *nostr.Event) int64 {
	for _, tag := range event.Tags {
		if len(tag) < 2 {
			continue
		}
		if tag[0] == "amount" {
			msats, err := strconv.ParseInt(tag[1], 10, 64)
			if err != nil {
				continue
			}
			return msats / 1000
		}
	}

	for _, tag := range event.Tags {
		if len(tag) < 2 {
			continue
		}
		if tag[0] == "bolt11" {
			if sats, err := parseInvoiceAmount(tag[1]); err == nil {
				return sats
			}
		}
	}

	return 0
}

// parseSender extracts the sender's display name. The uppercase P tag
// names the zap sender; older receipts only carry it inside the
// description tag's embedded zap request.
func (n *Normalizer) parseSender(event *nostr.Event) string {
	var pubkey string

	for _, tag := range event.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "P":
			pubkey = tag[1]
		case "description":
			if pubkey == "" {
				pubkey = parseZapRequestPubkey(tag[1])
			}
		}
	}

	if pubkey == "" {
		return AnonymousSender
	}
	if len(pubkey) > senderDisplayLen {
		return pubkey[:senderDisplayLen]
	}
	return pubkey
}

// parseZapRequestPubkey parses the zap request JSON embedded in the
// description tag and returns its pubkey, or empty on any failure.
func parseZapRequestPubkey(descJSON string) string {
	var zapRequest struct {
		Pubkey string `json:"pubkey"`
	}

	if err := json.Unmarshal([]byte(descJSON), &zapRequest); err != nil {
		return ""
	}

	return zapRequest.Pubkey
}

// Format: lnbc{amount}{multiplier}...
var invoiceRe = regexp.MustCompile(`lnbc(\d+)([munp]?)`)

// parseInvoiceAmount extracts the amount in satoshis from a bolt11 invoice.
// This is a simplified parser covering the standard hrp multipliers.
func parseInvoiceAmount(invoice string) (int64, error) {
	matches := invoiceRe.FindStringSubmatch(invoice)

	if len(matches) < 2 {
		return 0, fmt.Errorf("could not parse invoice amount")
	}

	amount, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, err
	}

	multiplier := ""
	if len(matches) >= 3 {
		multiplier = matches[2]
	}

	switch multiplier {
	case "m": // millibitcoin = 100,000 sats
		amount = amount * 100000
	case "u": // microbitcoin = 100 sats
		amount = amount * 100
	case "n": // nanobitcoin = 0.1 sats
		amount = amount / 10
	case "p": // picobitcoin = 0.0001 sats
		amount = amount / 10000
	default: // no multiplier = 1 bitcoin = 100,000,000 sats
		amount = amount * 100000000
	}

	return amount, nil
}
