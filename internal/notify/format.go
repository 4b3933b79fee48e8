package notify

import (
	"fmt"
	"html"
	"strings"

	"github.com/eddiefleurent/putspread_sentinel/internal/models"
)

// OpportunityMessage formats the alert for the best screened candidate.
func OpportunityMessage(c models.SpreadCandidate) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "📈 <b>Bull Put Spread opportunity %s</b>\n", html.EscapeString(c.Symbol))
	fmt.Fprintf(&b, "📉 Short: %s | 📈 Long: %s\n", models.FormatStrike(c.ShortStrike), models.FormatStrike(c.LongStrike))
	fmt.Fprintf(&b, "💰 Credit: $%.2f | Δ: %.2f\n", c.Credit, c.ShortDelta)
	fmt.Fprintf(&b, "📅 Expires: %s (%d DTE)", html.EscapeString(c.ExpirationDate), c.DTE)
	return Message{Text: b.String(), Rich: true}
}

// CloseAlertMessage formats an exit alert for an evaluated position.
func CloseAlertMessage(e models.PositionEvaluation) Message {
	p := e.Position
	var b strings.Builder
	switch e.Alert {
	case models.AlertProfit:
		fmt.Fprintf(&b, "✅ <b>Take profit: %s</b>\n", html.EscapeString(p.Label()))
	case models.AlertLoss:
		fmt.Fprintf(&b, "🛑 <b>Stop loss: %s</b>\n", html.EscapeString(p.Label()))
	case models.AlertDeltaDrift:
		fmt.Fprintf(&b, "⚠️ <b>Delta drift: %s</b>\n", html.EscapeString(p.Label()))
	default:
		fmt.Fprintf(&b, "ℹ️ <b>%s</b>\n", html.EscapeString(p.Label()))
	}
	fmt.Fprintf(&b, "Entry: $%.2f | Estimated value: $%.2f\n", p.EntryPrice, e.CurrentValue)
	fmt.Fprintf(&b, "Estimated P&amp;L: %.2f%%", e.PnLPercent)
	if e.CurrentDelta != nil {
		fmt.Fprintf(&b, " | Short Δ: %.2f", *e.CurrentDelta)
	}
	fmt.Fprintf(&b, "\nDTE: %d | Reason: %s", e.DTE, reason(e.Alert))
	return Message{Text: b.String(), Rich: true}
}

func reason(k models.AlertKind) string {
	switch k {
	case models.AlertProfit:
		return "profit target reached"
	case models.AlertLoss:
		return "loss limit reached"
	case models.AlertDeltaDrift:
		return "short delta in warning band"
	default:
		return "none"
	}
}
