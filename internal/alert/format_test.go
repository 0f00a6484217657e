package alert

import (
	"strings"
	"testing"
	"time"
)

func TestFormatTradingSignal(t *testing.T) {
	t.Parallel()
	p := Parse([]byte(`{"ticker":"BTCUSDT","action":"BUY","timeframe":"1h","entry_price":45000.50,"stop_loss":44000.00}`))
	got := Format(p)

	for _, want := range []string{
		"BTCUSDT",
		"Long 🟢",
		"*Timeframe:* `1h`",
		"*Entry:* `45,000.5000`",
		"*Stop Loss:* `44,000.0000`",
		"*Risk:* `2.22%`",
		DefaultNote,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "⏰") {
		t.Fatalf("unexpected time line:\n%s", got)
	}
}

func TestFormatSignalDirection(t *testing.T) {
	t.Parallel()
	tests := []struct {
		action any
		want   string
	}{
		{action: "buy", want: "Long 🟢"},
		{action: "Long", want: "Long 🟢"},
		{action: "SELL", want: "Short 🔴"},
		{action: "short", want: "Short 🔴"},
		{action: "hold", want: "hold (unknown)"},
		{action: nil, want: "*Direction:* unknown"},
		{action: 3, want: "3 (unknown)"},
	}
	for _, tt := range tests {
		p := NewPayload("ticker", "X", "action", tt.action, "timeframe", "4h", "entry_price", 10, "stop_loss", 9)
		if got := Format(p); !strings.Contains(got, tt.want) {
			t.Fatalf("action %v: missing %q in:\n%s", tt.action, tt.want, got)
		}
	}
}

func TestFormatSignalDegradesOnBadNumbers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		entry     any
		stop      any
		wantEntry string
		wantStop  string
		wantRisk  string
	}{
		{name: "text entry", entry: "abc", stop: 9.5, wantEntry: "abc", wantStop: "9.5000", wantRisk: "N/A"},
		{name: "null stop", entry: 10, stop: nil, wantEntry: "10.0000", wantStop: "N/A", wantRisk: "N/A"},
		{name: "zero entry", entry: 0, stop: 1, wantEntry: "0.0000", wantStop: "1.0000", wantRisk: "N/A"},
		{name: "negative stop", entry: 10, stop: -1, wantEntry: "10.0000", wantStop: "-1.0000", wantRisk: "N/A"},
		{name: "bool entry", entry: true, stop: 1, wantEntry: "true", wantStop: "1.0000", wantRisk: "N/A"},
		{name: "numeric strings", entry: "100", stop: "110", wantEntry: "100.0000", wantStop: "110.0000", wantRisk: "10.00%"},
		{name: "nested", entry: map[string]int{"a": 1}, stop: 1, wantEntry: `{"a":1}`, wantStop: "1.0000", wantRisk: "N/A"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			p := NewPayload("ticker", "X", "action", "buy", "timeframe", "1h", "entry_price", tt.entry, "stop_loss", tt.stop)
			got := Format(p)
			for _, want := range []string{
				"*Entry:* `" + tt.wantEntry + "`\n",
				"*Stop Loss:* `" + tt.wantStop + "`\n",
				"*Risk:* `" + tt.wantRisk + "`\n",
			} {
				if !strings.Contains(got, want) {
					t.Fatalf("missing %q in:\n%s", want, got)
				}
			}
		})
	}
}

func TestFormatSignalTimeAndNote(t *testing.T) {
	t.Parallel()
	p := NewPayload(
		"ticker", "ETH", "action", "sell", "timeframe", "15m", "entry_price", 2000, "stop_loss", 2100,
		"timestamp", "ts-value", "time", "time-value", "message", "tight stop",
	)
	got := Format(p)
	if !strings.HasSuffix(got, "\n⏰ `time-value`") {
		t.Fatalf("time line should prefer time over timestamp:\n%s", got)
	}
	if !strings.Contains(got, "⚠️ tight stop") || strings.Contains(got, DefaultNote) {
		t.Fatalf("message should replace the default note:\n%s", got)
	}

	p = NewPayload("ticker", "ETH", "action", "sell", "timeframe", "15m", "entry_price", 2000, "stop_loss", 2100, "timestamp", 1700000000)
	if got := Format(p); !strings.HasSuffix(got, "\n⏰ `1700000000`") {
		t.Fatalf("timestamp fallback missing:\n%s", got)
	}
}

func TestFormatSignalRequiresAllKeys(t *testing.T) {
	t.Parallel()
	p := NewPayload("ticker", "X", "action", "buy", "timeframe", "1h", "entry_price", 1)
	if got := Format(p); strings.Contains(got, "Trading Signal") {
		t.Fatalf("partial signal should use the generic template:\n%s", got)
	}
	// presence is enough, even with nulls
	p = NewPayload("ticker", nil, "action", nil, "timeframe", nil, "entry_price", nil, "stop_loss", nil)
	if got := Format(p); !strings.Contains(got, "*Trading Signal* - `N/A`") {
		t.Fatalf("all-null signal should still use the signal template:\n%s", got)
	}
}

func TestFormatBareMessage(t *testing.T) {
	t.Parallel()
	if got := Format(Parse([]byte(`{"message":"hello"}`))); got != "hello" {
		t.Fatalf("Format = %q, want %q", got, "hello")
	}
	if got := Format(Parse([]byte("plain text alert"))); got != "plain text alert" {
		t.Fatalf("non-JSON body = %q", got)
	}
	// an empty message is not a bare message
	if got := Format(Parse([]byte(`{"message":""}`))); !strings.HasPrefix(got, "🔔") {
		t.Fatalf("empty message should fall through to generic:\n%s", got)
	}
}

func TestFormatGeneric(t *testing.T) {
	t.Parallel()
	got := Format(Parse([]byte(`{"ticker":"X","foo":"bar"}`)))
	if !strings.Contains(got, "*Ticker:* `X`") {
		t.Fatalf("missing ticker line:\n%s", got)
	}
	if !strings.Contains(got, "\nfoo: `bar`") {
		t.Fatalf("missing foo line:\n%s", got)
	}
}

func TestFormatGenericOrderAndActions(t *testing.T) {
	t.Parallel()
	p := Parse([]byte(`{"zeta":1,"action":"sell","alpha":null,"strategy":"MA","beta":[1, 2],"price":"12.5","message":"done"}`))
	got := Format(p)
	want := "🔔 *TradingView Alert*\n" +
		"\n📈 *Strategy:* `MA`" +
		"\n💰 *Price:* `12.5`" +
		"\n🔴 *Action:* `sell`" +
		"\nzeta: `1`" +
		"\nbeta: `[1,2]`" +
		"\n\n💬 *Note:* done"
	if got != want {
		t.Fatalf("Format =\n%s\nwant\n%s", got, want)
	}

	if got := Format(NewPayload("action", "hold")); !strings.Contains(got, "⚪ *Action:* `hold`") {
		t.Fatalf("neutral action missing:\n%s", got)
	}
	if got := Format(NewPayload("action", "Buy")); !strings.Contains(got, "🟢 *Action:* `Buy`") {
		t.Fatalf("long action missing:\n%s", got)
	}
}

func TestFormatEmptyPayload(t *testing.T) {
	t.Parallel()
	if got := Format(&Payload{}); got != "🔔 *TradingView Alert*\n" {
		t.Fatalf("Format(empty) = %q", got)
	}
	if got := Format(nil); got == "" {
		t.Fatal("Format(nil) should render a header")
	}
}

func TestFormatSignalHugeExponent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		entry string
	}{
		{name: "huge", entry: "1e999999999"},
		{name: "tiny", entry: "1e-999999999"},
		{name: "large exponent", entry: "1e20000000"},
		{name: "long digits", entry: "1" + strings.Repeat("0", 200)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			body := `{"ticker":"X","action":"buy","timeframe":"1h","entry_price":` + tt.entry + `,"stop_loss":1}`
			done := make(chan string, 1)
			go func() { done <- Format(Parse([]byte(body))) }()
			select {
			case got := <-done:
				if !strings.Contains(got, "*Entry:* `"+tt.entry+"`\n") || !strings.Contains(got, "*Risk:* `N/A`") {
					t.Fatalf("out-of-range entry should render raw with N/A risk:\n%s", got)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("Format did not return")
			}
		})
	}
}

func TestDecimalBounds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want bool
	}{
		{"45000.50", true},
		{"1e32", true},
		{"1e33", false},
		{"1e-32", true},
		{"0.000000000000000000000000000000001", false},
		{"1e999999999", false},
		{"abc", false},
	}
	for _, tt := range tests {
		if _, ok := StringValue(tt.in).Decimal(); ok != tt.want {
			t.Fatalf("Decimal(%q) ok = %v, want %v", tt.in, ok, tt.want)
		}
	}
}

// balancedMarkdown follows Telegram's legacy Markdown rules: entities do not
// nest, a backslash escapes a marker outside an entity, and every opened
// _ * ` entity must be closed by the same marker.
func balancedMarkdown(s string) bool {
	rs := []rune(s)
	for i := 0; i < len(rs); i++ {
		switch rs[i] {
		case '\\':
			i++
		case '[':
			return false
		case '_', '*', '`':
			end := rs[i]
			j := i + 1
			for j < len(rs) && rs[j] != end {
				j++
			}
			if j == len(rs) {
				return false
			}
			i = j
		}
	}
	return true
}

func TestFormatKeepsMarkdownBalanced(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "signal with underscores",
			body: `{"ticker":"1000_PEPEUSDT","action":"buy","timeframe":"1h","entry_price":1,"stop_loss":0.9,"message":"trail stop_loss"}`,
			want: []string{"`1000_PEPEUSDT`", `trail stop\_loss`},
		},
		{
			name: "signal with markers everywhere",
			body: "{\"ticker\":\"A*B`C\",\"action\":\"go_*\",\"timeframe\":\"[1h]\",\"entry_price\":\"x_y\",\"stop_loss\":1,\"time\":\"t`1\"}",
			want: []string{"`A*BˋC`", `go\_\*`, "`[1h]`", "`x_y`", "`tˋ1`"},
		},
		{
			name: "generic",
			body: `{"ticker":"1000_PEPE","strategy":"*ma*","odd_key":"a_b","message":"see [chart] _now"}`,
			want: []string{"`1000_PEPE`", "`*ma*`", "odd\\_key: `a_b`", `see \[chart] \_now`},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Format(Parse([]byte(tt.body)))
			if !balancedMarkdown(got) {
				t.Fatalf("unbalanced markdown:\n%s", got)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Fatalf("missing %q in:\n%s", w, got)
				}
			}
		})
	}
}

func TestFormatGenericSkipsFalsy(t *testing.T) {
	t.Parallel()
	got := Format(Parse([]byte(`{"ticker":"X","price":0,"strategy":"","action":false}`)))
	want := "🔔 *TradingView Alert*\n\n📊 *Ticker:* `X`"
	if got != want {
		t.Fatalf("Format =\n%q\nwant\n%q", got, want)
	}
	if got := Format(Parse([]byte(`{"price":"0.5"}`))); !strings.Contains(got, "*Price:* `0.5`") {
		t.Fatalf("non-zero price dropped:\n%s", got)
	}
}
