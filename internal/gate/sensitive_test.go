package gate

import (
	"strings"
	"testing"

	"github.com/askdb/askdb/internal/database"
)

func TestIsSensitiveIdentifier(t *testing.T) {
	sensitive := []string{
		"password", "Password_Hash", "user_pwd", "otp", "otp_code", "OTPCode", "ssn", "userSSN",
		"national_id", "drivers_license_no", "passport_number", "card_number", "creditCard",
		"cvv", "bank_account", "account_number", "iban", "routing_number",
	}
	for _, name := range sensitive {
		if !IsSensitiveIdentifier(name) {
			t.Fatalf("IsSensitiveIdentifier(%q) = false", name)
		}
	}
	safe := []string{"name", "email", "hotpot", "lesson", "count", "created_at", "total", "sin", "card_type"}
	for _, name := range safe {
		if IsSensitiveIdentifier(name) {
			t.Fatalf("IsSensitiveIdentifier(%q) = true", name)
		}
	}
}

func TestScanSensitive(t *testing.T) {
	snapshot := testSnapshot()
	cases := []struct {
		statement     string
		hits          string
		onlySensitive bool
	}{
		{"SELECT name FROM users", "", false},
		{"SELECT count(*) FROM users", "", false},
		{"SELECT password FROM users", "password", true},
		{"SELECT name, password FROM users", "password", false},
		{"SELECT coalesce(password, name) AS x, name FROM users", "password", false},
		{"SELECT * FROM users", "password", false},
		{"SELECT u.* FROM users u JOIN orders o ON o.id = u.id", "password", false},
		{"SELECT * FROM orders", "", false},
		{"SELECT name FROM users WHERE password = 'x'", "password", false},
		{"SELECT \"Password\" FROM users", "password", true},
		{"SELECT name FROM users WHERE note = 'password'", "", false},
		{"SELECT (SELECT max(total) FROM orders) AS top, name FROM users", "", false},
		{"SELECT question, answer FROM conversation_turn", "", true},
		{"SELECT count(*) FROM public.\"conversation_turn\"", "", true},
		{"SELECT name FROM users WHERE note = 'conversation_turn'", "", false},
	}
	for _, tc := range cases {
		scan := scanSensitive(tc.statement, snapshot)
		if got := strings.Join(scan.hits, ","); got != tc.hits {
			t.Fatalf("scanSensitive(%q).hits = %q, want %q", tc.statement, got, tc.hits)
		}
		if scan.onlySensitive != tc.onlySensitive {
			t.Fatalf("scanSensitive(%q).onlySensitive = %v, want %v", tc.statement, scan.onlySensitive, tc.onlySensitive)
		}
	}
}

func TestScanSensitiveSeesPastQuoting(t *testing.T) {
	cases := []struct {
		dialect       database.Dialect
		statement     string
		hits          string
		onlySensitive bool
	}{
		{database.DialectPostgres, "SELECT $$'$$ AS a, password, $$'$$ AS b FROM users", "password", false},
		{database.DialectPostgres, "SELECT $q$'$q$ AS a, password FROM users", "password", false},
		{database.DialectPostgres, "SELECT E'\\'' AS a, password, E'\\'' AS b FROM users", "password", false},
		{database.DialectPostgres, "SELECT name /* /* */ ' */, password, '' AS x /* ' */ FROM users", "password", false},
		{database.DialectMySQL, "SELECT '\\'' AS a, password, '\\'' AS b FROM users", "password", false},
		{database.DialectMySQL, "SELECT name # '\n, password FROM users -- '", "password", false},
		{database.DialectMySQL, "SELECT name --1, password\nFROM users", "password", false},
		{database.DialectMySQL, "SELECT name /*!50000 , password */ FROM users", "", true},
	}
	for _, tc := range cases {
		snapshot := testSnapshot()
		snapshot.Dialect = tc.dialect
		scan := scanSensitive(tc.statement, snapshot)
		if got := strings.Join(scan.hits, ","); got != tc.hits {
			t.Fatalf("%s scanSensitive(%q).hits = %q, want %q", tc.dialect, tc.statement, got, tc.hits)
		}
		if scan.onlySensitive != tc.onlySensitive {
			t.Fatalf("%s scanSensitive(%q).onlySensitive = %v, want %v", tc.dialect, tc.statement, scan.onlySensitive, tc.onlySensitive)
		}
	}
}

func TestParseVerdict(t *testing.T) {
	verdict, err := ParseVerdict("Result:\n```json\n{\"verdict\":\"Partial\",\"allowed_columns\":[\"name\"],\"sql\":\"SELECT name FROM users\"}\n```")
	if err != nil {
		t.Fatalf("ParseVerdict() error = %v", err)
	}
	if verdict.Verdict != VerdictPartial || verdict.SQL != "SELECT name FROM users" || len(verdict.AllowedColumns) != 1 {
		t.Fatalf("verdict = %+v", verdict)
	}

	for _, reply := range []string{"", "safe", "{", `{"verdict":"safe"} {"verdict":"safe"}`, `{"verdict":1}`} {
		if _, err := ParseVerdict(reply); err == nil {
			t.Fatalf("ParseVerdict(%q) expected error", reply)
		}
	}
}
