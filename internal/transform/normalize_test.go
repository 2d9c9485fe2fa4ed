package transform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopePassesThrough(t *testing.T) {
	in := map[string]interface{}{
		"source_id":        "sensor-1",
		"event_id":         "evt-1",
		"source_timestamp": "2025-06-01T10:00:00Z",
		"raw_payload":      map[string]interface{}{"command_line": "whoami"},
	}

	out, ok := Normalize(in)
	require.True(t, ok)
	require.Equal(t, in, out)
}

func TestWinlogShapeIsMapped(t *testing.T) {
	in := map[string]interface{}{
		"@timestamp": "2025-06-01T10:00:00.123Z",
		"agent":      map[string]interface{}{"id": "agent-7"},
		"host":       map[string]interface{}{"name": "WS5"},
		"winlog": map[string]interface{}{
			"record_id": "443112",
			"event_id":  float64(1),
			"channel":   "Microsoft-Windows-Sysmon/Operational",
			"event_data": map[string]interface{}{
				"CommandLine": "powershell -enc SQBFAFgA",
				"ParentImage": `C:\Windows\explorer.exe`,
			},
		},
	}

	out, ok := Normalize(in)
	require.True(t, ok)
	require.Equal(t, "agent-7", out["source_id"])
	require.Equal(t, "443112", out["event_id"])
	require.Equal(t, "2025-06-01T10:00:00.123Z", out["source_timestamp"])

	payload := out["raw_payload"].(map[string]interface{})
	require.Equal(t, "powershell -enc SQBFAFgA", payload["command_line"])
	require.Equal(t, `C:\Windows\explorer.exe`, payload["parent_image"])
	require.Equal(t, "WS5", payload["hostname"])
	require.Equal(t, "1", payload["event_code"])
}

func TestMissingIdentityIsDropped(t *testing.T) {
	out := NormalizeBatch([]map[string]interface{}{
		{"@timestamp": "2025-06-01T10:00:00Z"},
		{
			"source_id":        "sensor-1",
			"event_id":         "evt-1",
			"source_timestamp": "2025-06-01T10:00:00Z",
			"raw_payload":      map[string]interface{}{},
		},
	})
	require.Len(t, out, 1)
	require.Equal(t, "evt-1", out[0]["event_id"])
}

func TestSnakeCaseHandlesAcronymRuns(t *testing.T) {
	require.Equal(t, "command_line", snakeCase("CommandLine"))
	require.Equal(t, "parent_process_id", snakeCase("ParentProcessId"))
	require.Equal(t, "utc_time", snakeCase("UtcTime"))
	require.Equal(t, "sha256", snakeCase("SHA256"))
}
