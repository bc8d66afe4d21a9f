package risk

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// emphasis characters stripped around labels and values.
const emphasis = "*_`#"

var (
	scoreLine     = regexp.MustCompile(`(?i)^[#*_` + "`" + `>\s]*risk[ _]?score[*_` + "`" + `\s]*:(.*)$`)
	statusLine    = regexp.MustCompile(`(?i)^[#*_` + "`" + `>\s]*(?:risk[ _]?)?status[*_` + "`" + `\s]*:(.*)$`)
	reasoningLine = regexp.MustCompile(`(?i)^[#*_` + "`" + `>\s]*reasoning[*_` + "`" + `\s]*:(.*)$`)
	classHeader   = regexp.MustCompile(`(?i)^[#*_` + "`" + `>\s]*emergency[ _]classifications?[*_` + "`" + `\s]*(?::(.*))?$`)

	number    = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	fieldKey  = regexp.MustCompile(`(?i)\b(sku|emergency|reason)[*_` + "`" + `\s]*:`)
	bulletPfx = regexp.MustCompile(`^(?:[-*•+]|\d+[.)])\s+`)
)

// Parse turns a free-text oracle reply into a Verdict. It never fails:
// every field that cannot be read falls back to its default and is listed
// in Verdict.Defaults.
//
// Expected grammar:
//
//	Risk Score: <number>
//	Status: <Low Risk|Medium Risk|High Risk>
//	Reasoning: <free text, possibly multi-line>
//	Emergency Classifications:
//	- SKU: <sku>, Emergency: <True|False>, Reason: <free text>
func Parse(raw string) Verdict {
	v := Verdict{Classifications: []Classification{}}
	lines := splitLines(raw)

	var (
		haveScore, haveStatus bool
		inReasoning, inClass  bool
		sawReasoning, sawHdr  bool
		reasoning             []string
	)

	for _, line := range lines {
		if m := classHeader.FindStringSubmatch(line); m != nil {
			inReasoning, inClass, sawHdr = false, true, true
			if rest := strings.TrimSpace(m[1]); rest != "" {
				if c, ok := parseClassification(rest); ok {
					v.Classifications = append(v.Classifications, c)
				}
			}
			continue
		}
		if inClass {
			if c, ok := parseClassification(line); ok {
				v.Classifications = append(v.Classifications, c)
			}
			continue
		}
		// Once a field is captured, a line that looks like it inside the
		// reasoning block is reasoning text.
		if m := scoreLine.FindStringSubmatch(line); m != nil && !(inReasoning && haveScore) {
			inReasoning = false
			if !haveScore {
				if n := number.FindString(m[1]); n != "" {
					if f, err := strconv.ParseFloat(n, 64); err == nil {
						v.Score = clamp(f)
						haveScore = true
					}
				}
			}
			continue
		}
		if m := statusLine.FindStringSubmatch(line); m != nil && !(inReasoning && haveStatus) {
			inReasoning = false
			if !haveStatus {
				v.RawStatus = stripEmphasis(m[1])
				v.Status, haveStatus = normalizeStatus(v.RawStatus)
			}
			continue
		}
		if m := reasoningLine.FindStringSubmatch(line); m != nil && !sawReasoning {
			inReasoning, sawReasoning = true, true
			if first := stripEmphasis(m[1]); first != "" {
				reasoning = append(reasoning, first)
			}
			continue
		}
		if inReasoning {
			reasoning = append(reasoning, line)
		}
	}

	if !haveScore {
		v.Score = DefaultScore
		v.Defaults = append(v.Defaults, FieldScore)
	}
	if !haveStatus {
		v.Status = DefaultStatus
		v.Defaults = append(v.Defaults, FieldStatus)
	}
	v.Reasoning = stripEmphasis(strings.TrimSpace(strings.Join(reasoning, "\n")))
	if v.Reasoning == "" {
		v.Reasoning = NoReasoningGiven
		v.Defaults = append(v.Defaults, FieldReasoning)
	}
	if !sawHdr {
		v.Defaults = append(v.Defaults, FieldClassifications)
	}
	return v
}

// splitLines drops code fence lines and trims the rest. Blank lines inside
// the reasoning block are kept as paragraph breaks.
func splitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	var out []string
	for _, l := range strings.Split(raw, "\n") {
		l = strings.TrimSpace(l)
		if strings.HasPrefix(l, "```") {
			continue
		}
		out = append(out, l)
	}
	return out
}

func stripEmphasis(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, emphasis+" \t")
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	return strings.TrimSpace(s)
}

func clamp(f float64) float64 {
	return min(max(f, 0), 100)
}

// normalizeStatus maps the oracle's status wording onto the closed set.
// The second result is false when the text could not be mapped.
func normalizeStatus(s string) (Status, bool) {
	key := strings.ToLower(strings.Join(strings.Fields(s), " "))
	key = strings.Trim(key, ".!")
	switch key {
	case "low risk", "low", "minimal risk", "no risk":
		return LowRisk, true
	case "medium risk", "medium", "moderate risk", "moderate", "at risk", "elevated risk", "elevated":
		return MediumRisk, true
	case "high risk", "high", "critical risk", "critical", "severe risk", "severe":
		return HighRisk, true
	}
	return DefaultStatus, false
}

// parseClassification reads one "SKU: x, Emergency: True, Reason: y" line.
// Field order is free; SKU and a boolean Emergency are required.
func parseClassification(line string) (Classification, bool) {
	line = bulletPfx.ReplaceAllString(strings.TrimSpace(line), "")
	locs := fieldKey.FindAllStringSubmatchIndex(line, -1)
	if len(locs) == 0 {
		return Classification{}, false
	}

	var c Classification
	var haveSKU, haveEmergency, haveReason bool
	for i, loc := range locs {
		key := strings.ToLower(line[loc[2]:loc[3]])
		end := len(line)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		val := stripEmphasis(strings.TrimRight(strings.TrimSpace(line[loc[1]:end]), ",;"))

		switch key {
		case "sku":
			if !haveSKU && val != "" {
				c.SKU, haveSKU = val, true
			}
		case "emergency":
			if !haveEmergency {
				c.Emergency, haveEmergency = parseBool(val)
			}
		case "reason":
			if !haveReason {
				// Once SKU and Emergency are known the reason runs to the
				// end of the line, commas and all.
				if haveSKU && haveEmergency {
					val = stripEmphasis(strings.TrimSpace(line[loc[1]:]))
				}
				c.Reason, haveReason = val, true
			}
		}
		if haveReason && haveSKU && haveEmergency {
			break
		}
	}
	if !haveSKU || !haveEmergency {
		return Classification{}, false
	}
	return c, true
}

// parseBool reads the leading word, so "True (critical)" is true.
func parseBool(s string) (value, ok bool) {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool { return !unicode.IsLetter(r) })
	if len(words) == 0 {
		return false, false
	}
	switch words[0] {
	case "true", "yes", "y":
		return true, true
	case "false", "no", "n":
		return false, true
	}
	return false, false
}
