package evidence

import (
	"strings"
	"time"

	"forensicgraph/pkg/models"
)

// Relationship vocabulary of the star schema.
const (
	RelHasFileHash        = "HAS_FILE_HASH"
	RelHasFileName        = "HAS_FILE_NAME"
	RelHasFilePath        = "HAS_FILE_PATH"
	RelOnHost             = "ON_HOST"
	RelObservedUser       = "OBSERVED_USER"
	RelObservedProcess    = "OBSERVED_PROCESS"
	RelObservedParent     = "OBSERVED_PARENT"
	RelObservedCommand    = "OBSERVED_COMMAND"
	RelHasSourceIP        = "HAS_SOURCE_IP"
	RelHasDestIP          = "HAS_DEST_IP"
	RelTargets            = "TARGETS"
	RelIdentifiedFamily   = "IDENTIFIED_AS_FAMILY"
	RelHasRuleIntent      = "HAS_RULE_INTENT"
	RelIndicatesTech      = "INDICATES_TECHNIQUE"
	RelMappedTo           = "MAPPED_TO"
	RelUsesTechnique      = "USES_TECHNIQUE"
	RelEnrichedByVT       = "ENRICHED_BY_VT"
	RelEnrichedByOTX      = "ENRICHED_BY_OTX"
	RelMaliciousIP        = "MALICIOUS_IP"
	RelDiscoveredArtifact = "DISCOVERED_ARTIFACT"
)

// Node types of the star schema.
const (
	TypeAlert     = "Alert"
	TypeSHA256    = "SHA256"
	TypeFileName  = "FileName"
	TypeFilePath  = "FilePath"
	TypeHost      = "Host"
	TypeUser      = "User"
	TypeProcess   = "Process"
	TypeCommand   = "CommandLine"
	TypeIP        = "IP"
	TypeMalware   = "MalwareFamily"
	TypeRule      = "RuleIntent"
	TypeTechnique = "MITRE_Technique"
	TypeEFI       = "EFI"
)

// Alert is the flattened entity view of one admitted event, the unit the
// star-schema construction consumes.
type Alert struct {
	EventID        string
	FileHashSHA256 string
	FileName       string
	FilePath       string
	Hostname       string
	User           string
	ProcessImage   string
	ParentProcess  string
	CommandLine    string
	SourceIP       string
	DestinationIP  string
	MalwareFamily  string
	RuleIntent     string
}

// AlertFromEvent extracts the graph-relevant entities from a normalized
// event payload. Missing fields stay empty and produce no nodes.
func AlertFromEvent(e models.Event) Alert {
	payload, _ := e.PayloadForAnalysis().(map[string]interface{})
	a := Alert{
		EventID:        e.EventID,
		FileHashSHA256: str(payload, "file_hash_sha256", "sha256"),
		FileName:       str(payload, "file_name"),
		FilePath:       str(payload, "file_path"),
		Hostname:       str(payload, "hostname", "host"),
		User:           str(payload, "user", "username"),
		ProcessImage:   str(payload, "process_image", "image", "process_name"),
		ParentProcess:  str(payload, "parent_process", "parent_image"),
		CommandLine:    str(payload, "command_line", "commandline"),
		MalwareFamily:  str(payload, "malware_family"),
		RuleIntent:     str(payload, "rule_intent"),
	}
	a.SourceIP = firstIP(payload, "alarm_source_ips", "source_ip", "src_ip")
	a.DestinationIP = firstIP(payload, "alarm_destination_ips", "destination_ip", "dst_ip")
	return a
}

// AddToGraph composes one alert into the shared evidence graph: the alert
// node in the center, one spoke per extracted entity, plus technique
// mappings derived from the entities themselves.
func AddToGraph(g *Graph, a Alert) {
	alertNode := "Alert:" + a.EventID
	g.AddNode(alertNode, TypeAlert, a.EventID)

	if a.FileHashSHA256 != "" {
		id := "Hash:" + a.FileHashSHA256
		g.AddNode(id, TypeSHA256, a.FileHashSHA256)
		g.SetEdge(alertNode, id, RelHasFileHash)
	}
	if a.FileName != "" {
		id := "File:" + a.FileName
		g.AddNode(id, TypeFileName, a.FileName)
		g.SetEdge(alertNode, id, RelHasFileName)
	}
	if a.FilePath != "" {
		id := "Path:" + a.FilePath
		g.AddNode(id, TypeFilePath, a.FilePath)
		g.SetEdge(alertNode, id, RelHasFilePath)
	}
	if a.Hostname != "" {
		id := "Host:" + a.Hostname
		g.AddNode(id, TypeHost, a.Hostname)
		g.SetEdge(alertNode, id, RelOnHost)
	}
	if a.User != "" {
		id := "User:" + a.User
		g.AddNode(id, TypeUser, a.User)
		g.SetEdge(alertNode, id, RelObservedUser)
	}
	if a.ProcessImage != "" {
		id := "Process:" + a.ProcessImage
		g.AddNode(id, TypeProcess, a.ProcessImage)
		g.SetEdge(alertNode, id, RelObservedProcess)
	}
	if a.ParentProcess != "" {
		id := "Process:" + a.ParentProcess
		g.AddNode(id, TypeProcess, a.ParentProcess)
		g.SetEdge(alertNode, id, RelObservedParent)
	}
	if a.CommandLine != "" {
		id := "Command:" + a.CommandLine
		g.AddNode(id, TypeCommand, a.CommandLine)
		g.SetEdge(alertNode, id, RelObservedCommand)
	}
	if a.SourceIP != "" {
		id := "IP:" + a.SourceIP
		g.AddNode(id, TypeIP, a.SourceIP)
		g.SetEdge(alertNode, id, RelHasSourceIP)
	}
	if a.DestinationIP != "" {
		id := "IP:" + a.DestinationIP
		g.AddNode(id, TypeIP, a.DestinationIP)
		g.SetEdge(alertNode, id, RelHasDestIP)
		if a.SourceIP != "" {
			g.SetEdge("IP:"+a.SourceIP, id, RelTargets)
		}
	}
	if a.MalwareFamily != "" {
		id := "Malware:" + a.MalwareFamily
		g.AddNode(id, TypeMalware, a.MalwareFamily)
		g.SetEdge(alertNode, id, RelIdentifiedFamily)
	}
	if a.RuleIntent != "" {
		id := "Rule:" + a.RuleIntent
		g.AddNode(id, TypeRule, a.RuleIntent)
		g.SetEdge(alertNode, id, RelHasRuleIntent)
	}

	mapTechniques(g, alertNode, a)
}

func addTechnique(g *Graph, id, name, tactic string) {
	g.AddNode(id, TypeTechnique, "")
	g.SetAttr(id, "name", name)
	g.SetAttr(id, "tactic", tactic)
}

// mapTechniques attaches technique nodes inferred from entity heuristics:
// scripting interpreters, staging paths, encoded PowerShell, discovery
// binaries, and family-specific behavior.
func mapTechniques(g *Graph, alertNode string, a Alert) {
	cmd := strings.ToLower(a.CommandLine)
	fileName := strings.ToLower(a.FileName)
	process := strings.ToLower(a.ProcessImage)

	if fileName != "" && strings.HasSuffix(fileName, ".js") {
		tech := "MITRE:T1059.007"
		addTechnique(g, tech, "Command and Scripting Interpreter: JavaScript", "Execution")
		g.SetEdge(alertNode, tech, RelIndicatesTech)
		fileNode := "File:" + a.FileName
		g.AddNode(fileNode, TypeFileName, a.FileName)
		g.SetEdge(alertNode, fileNode, RelHasFileName)
		g.SetEdge(fileNode, tech, RelMappedTo)
	}

	if a.FilePath != "" {
		lower := strings.ToLower(a.FilePath)
		if strings.Contains(lower, "temp") || strings.Contains(lower, "tmp") {
			tech := "MITRE:T1074.001"
			addTechnique(g, tech, "Data Staged: Local Data Staging", "Collection")
			g.SetEdge(alertNode, tech, RelIndicatesTech)
			pathNode := "Path:" + a.FilePath
			g.AddNode(pathNode, TypeFilePath, a.FilePath)
			g.SetEdge(alertNode, pathNode, RelHasFilePath)
			g.SetEdge(pathNode, tech, RelMappedTo)
		}
	}

	if strings.HasSuffix(fileName, ".vbs") ||
		strings.Contains(cmd, "wscript.exe") || strings.Contains(cmd, "cscript.exe") ||
		strings.Contains(process, "wscript.exe") {
		tech := "MITRE:T1059.005"
		addTechnique(g, tech, "Command and Scripting Interpreter: Visual Basic", "Execution")
		g.SetEdge(alertNode, tech, RelIndicatesTech)
	}

	if strings.Contains(cmd, "powershell.exe") &&
		(strings.Contains(cmd, " -enc") || strings.Contains(cmd, " -encodedcommand") || strings.Contains(cmd, " -nop")) {
		tech := "MITRE:T1059.001"
		addTechnique(g, tech, "Command and Scripting Interpreter: PowerShell", "Execution")
		g.SetEdge(alertNode, tech, RelIndicatesTech)
	}

	if strings.Contains(cmd, "whoami.exe") || fileName == "whoami.exe" {
		tech := "MITRE:T1082"
		addTechnique(g, tech, "System Information Discovery", "Discovery")
		g.SetEdge(alertNode, tech, RelIndicatesTech)
	}

	if a.MalwareFamily == "ChatGPTStealer" {
		tech := "MITRE:T1555"
		addTechnique(g, tech, "Credentials from Password Stores", "Credential Access")
		g.SetEdge("Malware:"+a.MalwareFamily, tech, RelUsesTechnique)
	}

	if a.MalwareFamily == "BlackCat" || a.RuleIntent == "Ransomware Deployment" {
		enc := "MITRE:T1486"
		addTechnique(g, enc, "Data Encrypted for Impact", "Impact")
		g.SetEdge(alertNode, enc, RelIndicatesTech)

		if a.DestinationIP != "" {
			lat := "MITRE:T1021"
			addTechnique(g, lat, "Remote Services", "Lateral Movement")
			g.SetEdge(alertNode, lat, RelIndicatesTech)
		}
		if a.MalwareFamily != "" {
			g.SetEdge("Malware:"+a.MalwareFamily, enc, RelUsesTechnique)
		}
	}
}

// Meta is the per-alert context used by traversal and verification: parsed
// timestamp plus the host/user/process/command fields in their raw form.
type Meta struct {
	EventID   string
	Timestamp string
	TS        time.Time
	HasTS     bool
	Host      string
	User      string
	Process   string
	Command   string
}

// BuildMeta indexes admitted events by their alert node id.
func BuildMeta(events []models.Event) map[string]Meta {
	meta := make(map[string]Meta, len(events))
	for _, e := range events {
		payload, _ := e.PayloadForAnalysis().(map[string]interface{})
		ts := str(payload, "event_time", "timestamp")
		if ts == "" {
			ts = e.SourceTimestamp
		}
		m := Meta{
			EventID:   e.EventID,
			Timestamp: ts,
			Host:      str(payload, "hostname", "host"),
			User:      str(payload, "user", "username"),
			Process:   str(payload, "process_image", "image", "process_name"),
			Command:   str(payload, "command_line", "commandline"),
		}
		if parsed, ok := ParseTimestamp(ts); ok {
			m.TS = parsed
			m.HasTS = true
		}
		meta["Alert:"+e.EventID] = m
	}
	return meta
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses the timestamp formats sources actually emit,
// normalizing to UTC. Naive timestamps are taken as UTC.
func ParseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func str(m map[string]interface{}, keys ...string) string {
	if m == nil {
		return ""
	}
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

func firstIP(m map[string]interface{}, keys ...string) string {
	if m == nil {
		return ""
	}
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			if strings.TrimSpace(val) != "" {
				return val
			}
		case []interface{}:
			if len(val) > 0 {
				if s, ok := val[0].(string); ok && strings.TrimSpace(s) != "" {
					return s
				}
			}
		}
	}
	return ""
}
