// Package markers decides whether an event carries high-risk lexical content
// that must escalate it out of the LOW_ENTROPY band regardless of projected
// entropy. Two engines are provided: a fixed-vocabulary matcher (always
// available, vocabulary injectable) and a Sigma-rule engine.
package markers

import "strings"

// Engine reports the markers an event triggers. An empty result means no
// escalation.
type Engine interface {
	Match(payloadText string, event map[string]interface{}) []string
}

// DefaultVocabulary is the built-in high-risk token list: credential-dumping
// tool names, technique identifiers, ransom/encryption terms, and
// prompt-injection phrases. Deployments tune it through configuration.
func DefaultVocabulary() []string {
	return []string{
		"mimikatz",
		"lsass",
		"dcsync",
		"domain admins",
		"krbtgt",
		"psexec",
		"wmic",
		"regsvr32",
		"rundll32",
		"certutil",
		"t1003",
		"t1059",
		"t1053",
		"4662",
		"4698",
		"4104",
		"ransom",
		"encrypt",
		"mass rename",
		"prompt injection",
		"ignore all previous",
		"twin-liar",
		"twin liar",
		"process_event",
		"flow_anomaly",
		"unrecognized protocol",
		"tls-z",
		"zero-latency-draft",
	}
}

// Vocabulary matches case-insensitive substrings against the payload text.
type Vocabulary struct {
	tokens []string
}

// NewVocabulary builds a vocabulary engine. Empty tokens fall back to the
// default list.
func NewVocabulary(tokens []string) *Vocabulary {
	if len(tokens) == 0 {
		tokens = DefaultVocabulary()
	}
	lowered := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok != "" {
			lowered = append(lowered, tok)
		}
	}
	return &Vocabulary{tokens: lowered}
}

// Match returns every vocabulary token found in the payload text.
func (v *Vocabulary) Match(payloadText string, _ map[string]interface{}) []string {
	s := strings.ToLower(payloadText)
	var hits []string
	for _, tok := range v.tokens {
		if strings.Contains(s, tok) {
			hits = append(hits, tok)
		}
	}
	return hits
}

// Multi runs several engines and concatenates their hits.
type Multi []Engine

// Match aggregates matches across all engines in order.
func (m Multi) Match(payloadText string, event map[string]interface{}) []string {
	var hits []string
	for _, e := range m {
		if e == nil {
			continue
		}
		hits = append(hits, e.Match(payloadText, event)...)
	}
	return hits
}
