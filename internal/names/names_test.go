package names

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain arabic", input: "ناروتو", want: "ناروتو"},
		{name: "trim whitespace", input: "  ساسكي  ", want: "ساسكي"},
		{name: "collapse internal whitespace", input: "مونكي   دي", want: "مونكي دي"},
		{name: "strip tashkeel", input: "سَاسُكِي", want: "ساسكي"},
		{name: "remove tatweel", input: "ناروتـــو", want: "ناروتو"},
		{name: "fold hamza alef", input: "إيتاشي", want: "ايتاشي"},
		{name: "fold madda alef", input: "آيزن", want: "ايزن"},
		{name: "fold alef maqsura", input: "موسى", want: "موسي"},
		{name: "fold ta marbuta", input: "هيناتة", want: "هيناته"},
		{name: "fold persian yeh and keheh", input: "کاکاشی", want: "كاكاشي"},
		{name: "lowercase latin", input: "  NARUTO  Uzumaki ", want: "naruto uzumaki"},
		{name: "empty string", input: "", want: ""},
		{name: "only whitespace", input: " \t\n ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"إيتاشي", "سَاسُكِي", "هيناتة", "  NARUTO  ", "ناروتـــو"}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize(Normalize(%q)) = %q, want %q", in, twice, once)
		}
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "single span", raw: "شاهدت *ناروتو/ساسكي* اليوم", want: "ناروتو/ساسكي"},
		{name: "no delimiters", raw: "hello world", want: ""},
		{name: "empty span ignored", raw: "** nothing here", want: ""},
		{name: "unterminated span", raw: "*ناروتو", want: ""},
		{name: "multiple spans joined", raw: "*ناروتو* ضد *ساسكي*", want: "ناروتو ساسكي"},
		{name: "emoji replaced by space", raw: "*ناروتو🔥ساسكي*", want: "ناروتو ساسكي"},
		{name: "emoji with variation selector", raw: "*⚔️ ناروتو*", want: "ناروتو"},
		{name: "whitespace collapsed", raw: "*  ناروتو    ساسكي  *", want: "ناروتو ساسكي"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.raw)
			if got != tt.want {
				t.Errorf("Extract(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "slash", in: "ناروتو/ساسكي", want: []string{"ناروتو", "ساسكي"}},
		{name: "mixed separators", in: "ايتاشي - مادارا | هيناته، ساكورا؛ كاكاشي", want: []string{"ايتاشي", "مادارا", "هيناته", "ساكورا", "كاكاشي"}},
		{name: "ascii punctuation", in: "a,b;c:d", want: []string{"a", "b", "c", "d"}},
		{name: "empty", in: "", want: nil},
		{name: "only separators", in: " / - | ", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Tokenize(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestIsTournament(t *testing.T) {
	assert.True(t, IsTournament("ناروتو/ساسكي"))
	assert.True(t, IsTournament("ناروتو ضد ساسكي"))
	assert.True(t, IsTournament("Naruto VS Sasuke"))
	assert.True(t, IsTournament("ايتاشي مادارا"))
	assert.False(t, IsTournament("ناروتو"))
	assert.False(t, IsTournament("   "))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		token         string
		wantCandidate bool
		wantConf      float64
	}{
		{name: "name-shaped token", token: "ساسكي", wantCandidate: true, wantConf: 1.0},
		{name: "stop word", token: "هذا", wantCandidate: false, wantConf: 0},
		{name: "non-name word", token: "كذلك", wantCandidate: false, wantConf: 0},
		{name: "stop word after folding", token: Normalize("على"), wantCandidate: false, wantConf: 0},
		{name: "latin script", token: "naruto", wantCandidate: false, wantConf: 0},
		{name: "digits", token: "1234", wantCandidate: false, wantConf: 0},
		{name: "too short", token: "علم", wantCandidate: false, wantConf: 0},
		{name: "too long", token: "ابتثجحخدذرز", wantCandidate: false, wantConf: 0},
		{name: "long token with no signals", token: "برتقلمسخط", wantCandidate: false, wantConf: 0},
		{name: "terminal vowel only sits at threshold", token: "برتقلمسخا", wantCandidate: false, wantConf: 0.6},
		{name: "empty", token: "", wantCandidate: false, wantConf: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.token)
			if got.IsCandidate != tt.wantCandidate {
				t.Errorf("Classify(%q).IsCandidate = %v, want %v", tt.token, got.IsCandidate, tt.wantCandidate)
			}
			assert.InDelta(t, tt.wantConf, got.Confidence, 1e-9, "Classify(%q).Confidence", tt.token)
		})
	}
}

func TestClassify_ConfidenceBounded(t *testing.T) {
	for _, tok := range []string{"ساسكي", "ناروتو", "ممممم", "منارو", "برتقلمسخط", "هيناته"} {
		c := Classify(tok)
		if c.Confidence < 0 || c.Confidence > 1 {
			t.Errorf("Classify(%q).Confidence = %v, want within [0,1]", tok, c.Confidence)
		}
		if c.IsCandidate != (c.Confidence > CandidateThreshold) {
			t.Errorf("Classify(%q) candidate flag inconsistent with confidence %v", tok, c.Confidence)
		}
	}
}
