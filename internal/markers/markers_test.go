package markers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVocabularyMatchesCaseInsensitive(t *testing.T) {
	v := NewVocabulary(nil)
	hits := v.Match("Invoke-Mimikatz -DumpCreds against LSASS", nil)
	require.Contains(t, hits, "mimikatz")
	require.Contains(t, hits, "lsass")
}

func TestVocabularyNoMatchOnBenignText(t *testing.T) {
	v := NewVocabulary(nil)
	require.Empty(t, v.Match("user login", nil))
}

func TestVocabularyMatchesProtocolAnomalyTokens(t *testing.T) {
	v := NewVocabulary(nil)

	hits := v.Match("TLS-Z handshake rejected: zero-latency-draft extension from twin-liar peer", nil)
	require.Contains(t, hits, "tls-z")
	require.Contains(t, hits, "zero-latency-draft")
	require.Contains(t, hits, "twin-liar")

	require.Contains(t, v.Match("suspected twin liar relay", nil), "twin liar")
	require.Contains(t, v.Match("orphan process_event stream", nil), "process_event")
}

func TestVocabularyIsInjectable(t *testing.T) {
	v := NewVocabulary([]string{"custom-tool"})
	require.Empty(t, v.Match("mimikatz", nil))
	require.Equal(t, []string{"custom-tool"}, v.Match("ran CUSTOM-TOOL here", nil))
}

func TestMultiAggregates(t *testing.T) {
	m := Multi{NewVocabulary([]string{"alpha"}), NewVocabulary([]string{"beta"}), nil}
	hits := m.Match("alpha then beta", nil)
	require.Equal(t, []string{"alpha", "beta"}, hits)
}

func TestSigmaEngineMatchesSimpleRule(t *testing.T) {
	dir := t.TempDir()
	rule := `title: Credential Dump Tool
id: 11111111-1111-1111-1111-111111111111
logsource:
  product: windows
detection:
  selection:
    Image|endswith: '\mimikatz.exe'
  condition: selection
level: high
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cred.yml"), []byte(rule), 0o644))

	eng, stats, err := NewSigmaEngine(dir)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Loaded)

	hits := eng.Match("", map[string]interface{}{"Image": `C:\tools\mimikatz.exe`})
	require.Equal(t, []string{"Credential Dump Tool"}, hits)

	require.Empty(t, eng.Match("", map[string]interface{}{"Image": `C:\Windows\notepad.exe`}))
}
