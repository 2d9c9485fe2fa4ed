// Package entropy implements the information-theoretic estimators used by
// Stage-1 triage: bias-corrected byte entropy over templated payload text,
// and batch-relative projection surprise.
package entropy

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"forensicgraph/internal/canonical"
)

var (
	ipRe     = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)
	domainRe = regexp.MustCompile(`\b(?:[a-zA-Z0-9-]{1,63}\.)+(?:[a-zA-Z]{2,63})\b`)
	hexRe    = regexp.MustCompile(`\b[a-fA-F0-9]{16,}\b`)
	numRe    = regexp.MustCompile(`\b\d+\b`)
)

// TemplateText lowercases s and replaces volatile lexical classes (IPs,
// domains, long hex runs, decimal numbers) with class placeholders so the
// entropy estimate reflects structure, not identifier randomness.
// Replacement order matters: IPs before domains before hex before numbers.
func TemplateText(s string) string {
	s = strings.ToLower(s)
	s = ipRe.ReplaceAllString(s, "<ip>")
	s = domainRe.ReplaceAllString(s, "<domain>")
	s = hexRe.ReplaceAllString(s, "<hex>")
	s = numRe.ReplaceAllString(s, "<num>")
	return s
}

// MillerMadow returns the Miller-Madow bias-corrected Shannon entropy of the
// byte distribution of data: -sum(p*log2(p)) + (distinct-1)/(2n).
// Empty input has entropy 0.
func MillerMadow(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	n := float64(len(data))
	distinct := 0
	h := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		distinct++
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h + float64(distinct-1)/(2*n)
}

// payload text extraction: the first non-empty of each field group, joined
// with " | "; falls back to the canonical form of the whole event.
var textFieldGroups = [][]string{
	{"command_line", "commandline"},
	{"image", "process_name", "process"},
	{"message", "msg"},
	{"scriptblocktext", "powershell_script", "payload"},
	{"url", "uri", "request"},
}

// ExtractPayloadText builds the textual projection of a payload that raw
// entropy is computed over.
func ExtractPayloadText(payload interface{}) string {
	event, ok := payload.(map[string]interface{})
	if !ok {
		return stringify(payload)
	}
	lower := lowerKeyMap(event)

	var parts []string
	for _, group := range textFieldGroups {
		for _, key := range group {
			v, ok := lower[key]
			if !ok || v == nil {
				continue
			}
			s := strings.TrimSpace(stringify(v))
			if s != "" {
				parts = append(parts, s)
				break
			}
		}
	}
	if len(parts) == 0 {
		data, err := canonical.Marshal(event)
		if err != nil {
			return fmt.Sprintf("%v", event)
		}
		return string(data)
	}
	return strings.Join(parts, " | ")
}

// RawEntropy is the full raw-entropy path: extract text, template it, and
// estimate bias-corrected byte entropy.
func RawEntropy(payload interface{}) float64 {
	text := ExtractPayloadText(wrapScalar(payload))
	return MillerMadow([]byte(TemplateText(text)))
}

func wrapScalar(payload interface{}) interface{} {
	if _, ok := payload.(map[string]interface{}); ok {
		return payload
	}
	return map[string]interface{}{"payload": payload}
}

var commonPorts = map[int]struct{}{
	53: {}, 80: {}, 88: {}, 135: {}, 389: {}, 443: {}, 445: {}, 636: {}, 3389: {},
}

// BucketPort collapses ports into "common" service ports vs everything else.
func BucketPort(v interface{}) string {
	p, err := strconv.Atoi(strings.TrimSpace(stringify(v)))
	if err != nil {
		return "port:unknown"
	}
	if _, ok := commonPorts[p]; ok {
		return fmt.Sprintf("port:%d", p)
	}
	return "port:other"
}

// Keep-list of semantically stable fields, in projection order.
var projectionKeys = []string{
	"event_id", "eventid", "eventcode", "provider", "source", "stream",
	"event_type", "action", "status", "outcome", "severity",
	"technique", "technique_id", "rule_id",
	"process", "process_name", "image", "command_line", "commandline",
	"msg", "message",
	"user", "account", "accountname", "group",
	"src_ip", "dst_ip", "ip", "client_ip", "remote_ip",
	"sourceip", "destinationip", "sourceaddress", "destaddress",
	"src_port", "dst_port", "port", "sourceport", "destport",
}

var ipKeys = map[string]struct{}{
	"src_ip": {}, "dst_ip": {}, "ip": {}, "client_ip": {}, "remote_ip": {},
	"sourceip": {}, "destinationip": {}, "sourceaddress": {}, "destaddress": {},
}

var portKeys = map[string]struct{}{
	"src_port": {}, "dst_port": {}, "port": {}, "sourceport": {}, "destport": {},
}

// ProjectEvent reduces a payload to its canonical keep-list projection:
// identifiers and technique/rule ids kept, message heads truncated and
// templated, IP fields collapsed to a constant placeholder, ports bucketed.
// Identical projections within a batch mean "the same kind of event".
func ProjectEvent(payload interface{}) string {
	obj, ok := payload.(map[string]interface{})
	if !ok || len(obj) == 0 {
		return TemplateText(stringify(payload))
	}
	lower := lowerKeyMap(obj)

	var parts []string
	for _, k := range projectionKeys {
		v, present := lower[k]
		if !present || v == nil {
			continue
		}
		if k == "msg" || k == "message" {
			head := firstLine(stringify(v))
			if head != "" {
				if len(head) > 200 {
					head = head[:200]
				}
				parts = append(parts, k+"="+TemplateText(head))
			}
			continue
		}
		if _, isIP := ipKeys[k]; isIP {
			parts = append(parts, k+"=<ip>")
			continue
		}
		if _, isPort := portKeys[k]; isPort {
			parts = append(parts, BucketPort(v))
			continue
		}
		parts = append(parts, k+"="+TemplateText(stringify(v)))
	}
	if len(parts) == 0 {
		data, err := canonical.Marshal(obj)
		if err != nil {
			return TemplateText(fmt.Sprintf("%v", obj))
		}
		return TemplateText(string(data))
	}
	return strings.Join(parts, "|")
}

// BatchSurprise holds projection frequencies for one batch and answers the
// batch-relative surprise of each projection.
type BatchSurprise struct {
	freq map[string]int
	n    int
}

// NewBatchSurprise counts the frequency of each projection in a batch.
func NewBatchSurprise(projections []string) *BatchSurprise {
	freq := make(map[string]int, len(projections))
	for _, p := range projections {
		freq[p]++
	}
	n := len(projections)
	if n < 1 {
		n = 1
	}
	return &BatchSurprise{freq: freq, n: n}
}

// Surprise returns -log2(max(1/N, freq/N)): how unexpected it is that this
// projection recurs within the batch, floored at the uniform baseline so no
// event scores below it.
func (b *BatchSurprise) Surprise(projection string) float64 {
	count := b.freq[projection]
	if count < 1 {
		count = 1
	}
	p := math.Max(1/float64(b.n), float64(count)/float64(b.n))
	return -math.Log2(p)
}

// Count returns how many events in the batch share this projection.
func (b *BatchSurprise) Count(projection string) int {
	c := b.freq[projection]
	if c < 1 {
		return 1
	}
	return c
}

func lowerKeyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Deterministic winner when two keys differ only by case.
	sort.Strings(keys)
	for _, k := range keys {
		lk := strings.ToLower(k)
		if _, exists := out[lk]; !exists {
			out[lk] = m[k]
		}
	}
	return out
}

func firstLine(s string) string {
	if idx := strings.IndexAny(s, "\r\n"); idx >= 0 {
		return s[:idx]
	}
	return s
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", v)
	}
}
