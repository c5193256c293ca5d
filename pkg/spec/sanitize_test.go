package spec

import "testing"

func TestSanitize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"simple lowercase", "gyu-ri", "gyu-ri"},
		{"uppercase and spaces", "Gyu Ri", "gyu-ri"},
		{"collapses dash runs", "a---b", "a-b"},
		{"trims leading/trailing dashes", "-a-", "a"},
		{"empty becomes user", "", "user"},
		{"only symbols becomes user", "!!!", "user"},
		{"leading digit is fine", "7dev", "7dev"},
		{"leading dash is trimmed, not u-prefixed", "-dev", "dev"},
		{"very long name truncates to 63", longName(), ""},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Sanitize(c.in)
			if c.name == "very long name truncates to 63" {
				if len(got) > 63 {
					t.Fatalf("Sanitize(%q) length = %d, want <= 63", c.in, len(got))
				}
				return
			}
			if got != c.want {
				t.Fatalf("Sanitize(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestSanitizeConformsToDNS1123(t *testing.T) {
	inputs := []string{"Gyu Ri", "日本語テスト", "___", "A1_B2", ""}
	for _, in := range inputs {
		got := Sanitize(in)
		if !dns1123Pattern.MatchString(got) {
			t.Fatalf("Sanitize(%q) = %q, does not conform to DNS-1123 label grammar", in, got)
		}
		if len(got) > 63 {
			t.Fatalf("Sanitize(%q) = %q, length %d exceeds 63", in, got, len(got))
		}
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	inputs := []string{"Gyu Ri", "already-sane", "123abc", "  spaced  out  "}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		if once != twice {
			t.Fatalf("Sanitize not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func longName() string {
	b := make([]byte, 200)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
