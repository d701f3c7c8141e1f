package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactPII(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		changed bool
	}{
		{"email", "write to ops@corp.example", "write to [REDACTED_EMAIL]", true},
		{"ssn", "ssn 078-05-1120 on file", "ssn [REDACTED_SSN] on file", true},
		{"card before phone", "card 4111-1111-1111-1111", "card [REDACTED_CARD]", true},
		{"phone", "call 555 010 9999 today", "call [REDACTED_PHONE] today", true},
		{"phone with country code", "dial +1 555-010-9999 now", "dial [REDACTED_PHONE] now", true},
		{"phone with area code", "desk (555) 010-9999", "desk [REDACTED_PHONE]", true},
		{"clean", "nothing to hide here", "nothing to hide here", false},
		{"iso date", "The policy took effect on 2024-01-15.", "The policy took effect on 2024-01-15.", false},
		{"grouped number", "It covers 1 000 000 customers.", "It covers 1 000 000 customers.", false},
		{"year range", "Valid for 2019-2024 contracts.", "Valid for 2019-2024 contracts.", false},
		{"version", "Upgrade to release 10.2.3 first.", "Upgrade to release 10.2.3 first.", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, changed := RedactPII(tc.in)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.changed, changed)
		})
	}
}

func TestLexiconScorer(t *testing.T) {
	s := NewLexiconScorer(map[string]float64{"Bogus": 0.9})
	assert.Equal(t, 0.0, s.Score("The refund window is 14 days."))
	assert.InDelta(t, 0.9, s.Score("bogus bogus bogus"), 1e-9)
	assert.Equal(t, 1.0, s.Score("idiot moron scum"))
}

func TestLexiconScorerIgnoresOperationalVocabulary(t *testing.T) {
	s := NewLexiconScorer(nil)
	for _, text := range []string{
		"To stop the server, kill the worker process; otherwise it will die after the timeout.",
		"Shut down the node and trash the stale cache before you restart.",
		"Users hate waiting, so the job is killed after ten minutes.",
	} {
		assert.Zero(t, s.Score(text), text)
	}
}
