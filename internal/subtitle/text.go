package subtitle

import (
	"strings"
)

// assFields is the number of comma separated fields before the text in an
// ASS event as stored in a packet: ReadOrder, Layer, Style, Name, MarginL,
// MarginR, MarginV, Effect.
const assFields = 8

// Text extracts displayable text from a text subtitle packet. ASS and SSA
// events keep only their text field with override blocks removed.
func Text(codec string, data []byte) string {
	s := strings.TrimSpace(strings.TrimRight(string(data), "\x00"))
	switch strings.ToLower(codec) {
	case "ass", "ssa":
		return assText(s)
	default:
		return s
	}
}

func assText(line string) string {
	fields := assFields
	if rest, ok := strings.CutPrefix(line, "Dialogue:"); ok {
		// Full script lines carry Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect.
		line = strings.TrimSpace(rest)
		fields = 9
	}
	parts := strings.SplitN(line, ",", fields+1)
	if len(parts) <= fields {
		return ""
	}
	text := stripOverrides(parts[fields])
	text = strings.NewReplacer(`\N`, "\n", `\n`, "\n", `\h`, " ").Replace(text)
	return strings.TrimSpace(text)
}

// stripOverrides removes {...} override blocks.
func stripOverrides(s string) string {
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '{':
			depth++
		case r == '}' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
