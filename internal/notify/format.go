package notify

import (
	"fmt"
	"time"

	"serotonyl.ru/token-shop/internal/common"
)

// Text renders an event as a short human-readable message. Times are shown
// in loc.
func Text(e Event, loc *time.Location) string {
	p := e.Purchase
	switch e.Kind {
	case KindScheduled:
		release := "-"
		if e.ReleaseAt != nil {
			release = common.FormatDateTime(*e.ReleaseAt, loc)
		}
		return fmt.Sprintf("🕒 Tokens scheduled\nUser: %s\nGame #%d at %s\n%s for %s (%s)\nRelease: %s",
			p.UserID, p.GameID, p.Location,
			common.FormatTokens(p.Tokens), common.FormatCents(p.AmountCents, p.Currency), p.Provider,
			release)
	case KindCredited:
		return fmt.Sprintf("✅ Tokens credited\nUser: %s\nGame #%d at %s\n%s for %s (%s)",
			p.UserID, p.GameID, p.Location,
			common.FormatTokensDelta(p.Tokens), common.FormatCents(p.AmountCents, p.Currency), p.Provider)
	default:
		return fmt.Sprintf("%s: payment %s", e.Kind, p.PaymentID)
	}
}
