package alert

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// DefaultNote is shown on trading signals that carry no message.
const DefaultNote = "Manage position size responsibly"

const placeholder = "N/A"

var signalKeys = []string{"ticker", "action", "timeframe", "entry_price", "stop_loss"}

// genericKeys are rendered first, in this order, by the generic template.
var genericKeys = []string{"ticker", "strategy", "price", "action"}

var hundred = decimal.NewFromInt(100)

// Format renders p as a Markdown chat message. It is total: missing, null or
// mistyped fields degrade to placeholders. Payload values only appear inside
// code spans or escaped, so they cannot break the message's markup. A bare
// message is passed through as the sender wrote it.
func Format(p *Payload) string {
	if p == nil {
		p = &Payload{}
	}
	if isSignal(p) {
		return formatSignal(p)
	}
	if p.Len() == 1 {
		if v, ok := p.Get("message"); ok && !v.Blank() {
			return v.String()
		}
	}
	return formatGeneric(p)
}

func isSignal(p *Payload) bool {
	for _, k := range signalKeys {
		if !p.Has(k) {
			return false
		}
	}
	return true
}

type side int

const (
	sideNeutral side = iota
	sideLong
	sideShort
)

func sideOf(v Value) side {
	switch strings.ToLower(strings.TrimSpace(v.String())) {
	case "buy", "long":
		return sideLong
	case "sell", "short":
		return sideShort
	default:
		return sideNeutral
	}
}

func formatSignal(p *Payload) string {
	action := p.Lookup("action")
	s := sideOf(action)

	head := "📊"
	direction := ""
	switch s {
	case sideLong:
		head, direction = "📈", "Long 🟢"
	case sideShort:
		head, direction = "📉", "Short 🔴"
	default:
		if raw := strings.TrimSpace(action.String()); raw != "" {
			direction = escape(raw) + " (unknown)"
		} else {
			direction = "unknown"
		}
	}

	entry := p.Lookup("entry_price")
	stop := p.Lookup("stop_loss")

	note := DefaultNote
	if m, ok := p.Get("message"); ok && !m.Blank() {
		note = m.String()
	}

	var b strings.Builder
	b.WriteString(head + " *Trading Signal* - " + code(orPlaceholder(p.Lookup("ticker"))) + "\n\n")
	b.WriteString("📊 *Symbol:* " + code(orPlaceholder(p.Lookup("ticker"))) + "\n")
	b.WriteString("🎯 *Direction:* " + direction + "\n")
	b.WriteString("⏱ *Timeframe:* " + code(orPlaceholder(p.Lookup("timeframe"))) + "\n")
	b.WriteString("💰 *Entry:* " + code(formatPrice(entry)) + "\n")
	b.WriteString("🛑 *Stop Loss:* " + code(formatPrice(stop)) + "\n")
	b.WriteString("📉 *Risk:* " + code(riskPercent(entry, stop)) + "\n\n")
	b.WriteString("⚠️ " + escape(note))

	for _, k := range []string{"time", "timestamp"} {
		if v, ok := p.Get(k); ok && !v.Blank() {
			b.WriteString("\n⏰ " + code(v.String()))
			break
		}
	}
	return b.String()
}

func formatGeneric(p *Payload) string {
	var b strings.Builder
	b.WriteString("🔔 *TradingView Alert*\n")

	used := map[string]bool{"message": true}
	for _, k := range genericKeys {
		used[k] = true
		v, ok := p.Get(k)
		if !ok || v.Falsy() {
			continue
		}
		switch k {
		case "ticker":
			b.WriteString("\n📊 *Ticker:* " + code(v.String()))
		case "strategy":
			b.WriteString("\n📈 *Strategy:* " + code(v.String()))
		case "price":
			b.WriteString("\n💰 *Price:* " + code(v.String()))
		case "action":
			b.WriteString("\n" + actionIcon(sideOf(v)) + " *Action:* " + code(v.String()))
		}
	}

	for _, k := range p.Keys() {
		if used[k] {
			continue
		}
		v := p.Lookup(k)
		if v.IsNull() {
			continue
		}
		b.WriteString("\n" + escape(k) + ": " + code(v.String()))
	}

	if m, ok := p.Get("message"); ok && !m.Blank() {
		b.WriteString("\n\n💬 *Note:* " + escape(m.String()))
	}
	return b.String()
}

func actionIcon(s side) string {
	switch s {
	case sideLong:
		return "🟢"
	case sideShort:
		return "🔴"
	default:
		return "⚪"
	}
}

func orPlaceholder(v Value) string {
	if v.Blank() {
		return placeholder
	}
	return v.String()
}

// formatPrice renders numeric values as 45,000.5000 and passes anything else
// through unchanged.
func formatPrice(v Value) string {
	if v.IsNull() {
		return placeholder
	}
	d, ok := v.Decimal()
	if !ok {
		return v.String()
	}
	return humanize.FormatFloat("#,###.####", d.InexactFloat64())
}

// riskPercent is |entry - stop| / entry as a percentage, or N/A unless both
// sides are positive numbers.
func riskPercent(entry, stop Value) string {
	e, ok := entry.Decimal()
	if !ok || !e.IsPositive() {
		return placeholder
	}
	s, ok := stop.Decimal()
	if !ok || !s.IsPositive() {
		return placeholder
	}
	return e.Sub(s).Div(e).Abs().Mul(hundred).StringFixed(2) + "%"
}

// Telegram's legacy Markdown does not nest entities: inside a code span only a
// backtick is special, and outside any entity a backslash escapes the markers.
var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

func escape(s string) string { return markdownEscaper.Replace(s) }

// code wraps s in a code span. Backticks become a look-alike that cannot close it.
func code(s string) string {
	if s == "" {
		s = placeholder
	}
	return "`" + strings.ReplaceAll(s, "`", "ˋ") + "`"
}
