package appcmd

import (
	"regexp"
	"strings"

	"github.com/core-tools/hsu-iiswatch/pkg/domain"
)

// RawState is the closed set of states the adapter reports
type RawState string

const (
	StateRunning RawState = "Running"
	StateStopped RawState = "Stopped"
	StateUnknown RawState = "Unknown"
)

func (s RawState) EntityState() domain.EntityState {
	switch s {
	case StateRunning:
		return domain.EntityStateRunning
	case StateStopped:
		return domain.EntityStateStopped
	default:
		return domain.EntityStateUnknown
	}
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeRunning
	outcomeStopped
	outcomeTransitional
	outcomeDenied
	outcomeNotFound
)

type rule struct {
	token   string // lower case
	outcome outcome
}

// errorRules are checked first, and only when the tool failed or printed an ERROR line
var errorRules = []rule{
	{`error ( hresult:80070005`, outcomeDenied},
	{`access is denied`, outcomeDenied},
	{`access denied`, outcomeDenied},
	{`error ( hresult:80070002`, outcomeNotFound},
	{`cannot find`, outcomeNotFound},
	{`not found`, outcomeNotFound},
}

// stateRules are checked in order; transitional states map to Unknown
var stateRules = []rule{
	{`state:started`, outcomeRunning},
	{`state:stopped`, outcomeStopped},
	{`state:starting`, outcomeTransitional},
	{`state:stopping`, outcomeTransitional},
	{`"started"`, outcomeRunning},
	{`"stopped"`, outcomeStopped},
}

func match(rules []rule, output string) outcome {
	lower := strings.ToLower(output)
	for _, r := range rules {
		if strings.Contains(lower, r.token) {
			return r.outcome
		}
	}
	return outcomeNone
}

func isErrorOutput(result Result) bool {
	return result.ExitCode != 0 || strings.Contains(strings.ToLower(result.Output), "error (")
}

// classifyError maps a failed invocation to an error outcome, or outcomeNone for generic failures
func classifyError(result Result) outcome {
	if !isErrorOutput(result) {
		return outcomeNone
	}
	return match(errorRules, result.Output)
}

// ParseState maps query output to a RawState. Unrecognized output is Unknown.
func ParseState(output string) RawState {
	switch match(stateRules, output) {
	case outcomeRunning:
		return StateRunning
	case outcomeStopped:
		return StateStopped
	default:
		return StateUnknown
	}
}

// SiteInfo is one line of the tool's site listing
type SiteInfo struct {
	Name     string   `json:"name"`
	ID       string   `json:"id"`
	Bindings string   `json:"bindings"`
	State    RawState `json:"state"`
}

// AppPoolInfo is one line of the tool's app pool listing
type AppPoolInfo struct {
	Name           string   `json:"name"`
	RuntimeVersion string   `json:"runtime_version"`
	PipelineMode   string   `json:"pipeline_mode"`
	State          RawState `json:"state"`
}

var (
	siteLinePattern    = regexp.MustCompile(`^SITE "([^"]+)" \(id:(\d+),bindings:([^)]*),state:(\w+)\)`)
	appPoolLinePattern = regexp.MustCompile(`^APPPOOL "([^"]+)" \(MgdVersion:([^,]*),MgdMode:([^,]*),state:(\w+)\)`)
	appPoolNamePattern = regexp.MustCompile(`^APPPOOL "([^"]+)"`)
	bindingsPattern    = regexp.MustCompile(`bindings:([^)]*)`)
	bindingPattern     = regexp.MustCompile(`(https?)/([^:,]*):(\d+):`)
	appPoolAttrPattern = regexp.MustCompile(`applicationPool:"?([^",)]+)"?`)
)

func parseStateWord(word string) RawState {
	return ParseState("state:" + word)
}

func ParseSites(output string) []SiteInfo {
	var sites []SiteInfo
	for _, line := range splitLines(output) {
		m := siteLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		sites = append(sites, SiteInfo{Name: m[1], ID: m[2], Bindings: m[3], State: parseStateWord(m[4])})
	}
	return sites
}

// ParseAppPools keeps pools whose attribute list has an unexpected shape, with Unknown state
func ParseAppPools(output string) []AppPoolInfo {
	var pools []AppPoolInfo
	for _, line := range splitLines(output) {
		if m := appPoolLinePattern.FindStringSubmatch(line); m != nil {
			pools = append(pools, AppPoolInfo{Name: m[1], RuntimeVersion: m[2], PipelineMode: m[3], State: parseStateWord(m[4])})
			continue
		}
		if m := appPoolNamePattern.FindStringSubmatch(line); m != nil {
			pools = append(pools, AppPoolInfo{Name: m[1], RuntimeVersion: "Unknown", PipelineMode: "Unknown", State: StateUnknown})
		}
	}
	return pools
}

// ParseBindingURL returns the URL of the first http binding, falling back to https.
// A wildcard or empty host maps to localhost.
func ParseBindingURL(output string) (string, bool) {
	m := bindingsPattern.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	bindings := bindingPattern.FindAllStringSubmatch(m[1], -1)
	for _, scheme := range []string{"http", "https"} {
		for _, b := range bindings {
			if b[1] != scheme {
				continue
			}
			host := b[2]
			if host == "*" || host == "" {
				host = "localhost"
			}
			return scheme + "://" + host + ":" + b[3], true
		}
	}
	return "", false
}

func ParseApplicationPool(output string) (string, bool) {
	m := appPoolAttrPattern.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func splitLines(output string) []string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
