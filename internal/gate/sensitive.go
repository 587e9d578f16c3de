package gate

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/askdb/askdb/internal/schema"
)

var (
	identifierPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	fromPattern       = regexp.MustCompile(`(?i)\bFROM\b`)
)

// Matched against the identifier with separators removed.
var sensitiveFragments = []string{
	"password", "passwd", "passcode",
	"socialsecurity", "nationalid", "nationalinsurance",
	"driverslicense", "driverlicense", "drivinglicense", "driverlicence", "drivinglicence",
	"passport",
	"cardnumber", "creditcard", "debitcard", "securitycode",
	"bankaccount", "accountnumber", "routingnumber",
}

// Matched only as a whole identifier segment ("otp_code", "userSSN").
var sensitiveSegments = map[string]struct{}{
	"pwd": {}, "otp": {}, "totp": {}, "hotp": {}, "ssn": {},
	"cvv": {}, "cvv2": {}, "cvc": {}, "iban": {},
}

// IsSensitiveIdentifier reports whether a column or alias name refers to a
// denylisted field.
func IsSensitiveIdentifier(name string) bool {
	segments := splitIdentifier(name)
	if len(segments) == 0 {
		return false
	}
	joined := strings.Join(segments, "")
	for _, fragment := range sensitiveFragments {
		if strings.Contains(joined, fragment) {
			return true
		}
	}
	for _, segment := range segments {
		if _, ok := sensitiveSegments[segment]; ok {
			return true
		}
	}
	return false
}

func splitIdentifier(name string) []string {
	var (
		segments []string
		current  []rune
	)
	flush := func() {
		if len(current) > 0 {
			segments = append(segments, strings.ToLower(string(current)))
			current = current[:0]
		}
	}
	runes := []rune(name)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || unicode.IsSpace(r):
			flush()
		case unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]),
			unicode.IsUpper(r) && i > 0 && unicode.IsUpper(runes[i-1]) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
			flush()
			current = append(current, r)
		default:
			current = append(current, r)
		}
	}
	flush()
	return segments
}

type sensitiveScan struct {
	hits          []string
	onlySensitive bool
}

// scanSensitive matches every identifier in the statement, with star
// projections expanded against the referenced tables, against the
// denylist. Statements naming askdb's own tables are treated as wholly
// sensitive. statement must already have passed CheckSyntax.
func scanSensitive(statement string, snapshot schema.Snapshot) sensitiveScan {
	masked, ok := mask(statement, snapshot.Dialect)
	if !ok {
		return sensitiveScan{onlySensitive: true}
	}
	masked = strings.NewReplacer(`"`, " ", "`", " ", "[", " ", "]", " ").Replace(masked)

	identifiers := identifierPattern.FindAllString(masked, -1)
	for _, identifier := range identifiers {
		if schema.IsInternalTable(identifier) {
			return sensitiveScan{onlySensitive: true}
		}
	}
	referenced := referencedTables(identifiers, snapshot)
	starColumns := snapshot.ColumnNames(referenced...)
	if len(referenced) == 0 {
		starColumns = nil
	}

	hitSet := map[string]struct{}{}
	for _, identifier := range identifiers {
		if IsSensitiveIdentifier(identifier) {
			hitSet[strings.ToLower(identifier)] = struct{}{}
		}
	}

	items := projectionItems(masked)
	sensitiveItems := 0
	for _, item := range items {
		if isStarItem(item) {
			sensitiveCount := 0
			for _, column := range starColumns {
				if IsSensitiveIdentifier(column) {
					hitSet[column] = struct{}{}
					sensitiveCount++
				}
			}
			if len(starColumns) > 0 && sensitiveCount == len(starColumns) {
				sensitiveItems++
			}
			continue
		}
		for _, identifier := range identifierPattern.FindAllString(item, -1) {
			if IsSensitiveIdentifier(identifier) {
				sensitiveItems++
				break
			}
		}
	}

	hits := make([]string, 0, len(hitSet))
	for hit := range hitSet {
		hits = append(hits, hit)
	}
	sort.Strings(hits)
	return sensitiveScan{
		hits:          hits,
		onlySensitive: len(items) > 0 && sensitiveItems == len(items),
	}
}

func referencedTables(identifiers []string, snapshot schema.Snapshot) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0)
	for _, identifier := range identifiers {
		table, ok := snapshot.Table(identifier)
		if !ok {
			continue
		}
		if _, dup := seen[table.Name]; dup {
			continue
		}
		seen[table.Name] = struct{}{}
		out = append(out, table.Name)
	}
	return out
}

// projectionItems splits the select list at top-level commas.
func projectionItems(masked string) []string {
	body := strings.TrimSpace(masked)
	if len(body) < len("SELECT") {
		return nil
	}
	body = body[len("SELECT"):]

	end := len(body)
	for _, loc := range fromPattern.FindAllStringIndex(body, -1) {
		if depthAt(body, loc[0]) == 0 {
			end = loc[0]
			break
		}
	}
	list := body[:end]

	var (
		items []string
		depth int
		start int
	)
	for i, r := range list {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				items = append(items, strings.TrimSpace(list[start:i]))
				start = i + 1
			}
		}
	}
	items = append(items, strings.TrimSpace(list[start:]))

	out := items[:0]
	for _, item := range items {
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func depthAt(s string, offset int) int {
	depth := 0
	for _, r := range s[:offset] {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		}
	}
	return depth
}

func isStarItem(item string) bool {
	fields := strings.Fields(strings.ToUpper(item))
	if len(fields) == 0 {
		return false
	}
	last := fields[len(fields)-1]
	if last != "*" && !strings.HasSuffix(last, ".*") {
		return false
	}
	for _, field := range fields[:len(fields)-1] {
		if field != "DISTINCT" && field != "ALL" {
			return false
		}
	}
	return true
}
