// Package antihallucination rejects LLM responses that suggest CLI
// commands instead of driving the host through a registered tool.
package antihallucination

import (
	"fmt"
	"strings"
)

// Pattern pairs a forbidden CLI substring with the tool the LLM should
// have used instead.
type Pattern struct {
	Pattern     string
	Alternative string
}

// forbiddenPatterns is the closed set of CLI substrings that indicate the
// model is describing a shell command rather than having executed a tool.
// Reproduced from the anti-hallucination design this module implements,
// adapted to the tool names this registry exposes.
var forbiddenPatterns = []Pattern{
	{"ovs-vsctl", "ovs_create_bridge / ovs_list_bridges / OVSDB tools"},
	{"ovs-ofctl", "ovs_add_flow / ovs_dump_flows"},
	{"ovs-dpctl", "ovs_list_datapaths"},
	{"ovsdb-client", "OVSDB transact tools"},
	{"systemctl", "systemd_start_unit / systemd_stop_unit / systemd_restart_unit"},
	{"service ", "systemd_start_unit"},
	{"journalctl", "systemd_list_units"},
	{"ip addr", "netlink_list_interfaces"},
	{"ip link", "netlink_list_interfaces"},
	{"ip route", "netlink_list_routes"},
	{"ifconfig", "netlink_list_interfaces"},
	{"nmcli", "netlink_list_interfaces"},
	{"apt install", "packagekit_install"},
	{"apt-get install", "packagekit_install"},
	{"apt remove", "packagekit_remove"},
	{"apt-get remove", "packagekit_remove"},
	{"yum install", "packagekit_install"},
	{"dnf install", "packagekit_install"},
	{"sudo ", "a native tool; operations should not require privilege escalation at the shell"},
	{"su -", "a native tool; operations should not require a shell session"},
	{"> /etc/", "plugin apply_diff"},
	{"rm -rf", "plugin apply_diff with a Delete operation"},
	{"docker ", "lxc_* agent-proxy tools"},
	{"lxc-", "lxc_* agent-proxy tools"},
	{"lxc ", "lxc_* agent-proxy tools"},
}

// suggestionPatterns indicate advisory, rather than executing, phrasing.
var suggestionPatterns = []string{
	"you can run",
	"try running",
	"execute the command",
	"here is the command",
	"you could use",
	"run this command",
	"use the command",
}

// ForbiddenHit is one matched forbidden pattern with surrounding context.
type ForbiddenHit struct {
	Pattern     string
	Alternative string
	Context     string
}

// Verdict is the result of checking one response.
type Verdict struct {
	Detected      []ForbiddenHit
	HasSuggestion bool
	ShouldReject  bool
}

const contextWindow = 30

func extractContext(lower, pattern string) string {
	idx := strings.Index(lower, pattern)
	if idx < 0 {
		return ""
	}
	start := idx - contextWindow
	if start < 0 {
		start = 0
	}
	end := idx + len(pattern) + contextWindow
	if end > len(lower) {
		end = len(lower)
	}
	return lower[start:end]
}

// Check evaluates response text R against the forbidden and suggestion
// pattern tables, per spec.md §4.E's verdict formula.
func Check(response string) Verdict {
	lower := strings.ToLower(response)

	var detected []ForbiddenHit
	for _, p := range forbiddenPatterns {
		if strings.Contains(lower, p.Pattern) {
			detected = append(detected, ForbiddenHit{
				Pattern:     p.Pattern,
				Alternative: p.Alternative,
				Context:     extractContext(lower, p.Pattern),
			})
		}
	}

	hasSuggestion := false
	for _, s := range suggestionPatterns {
		if strings.Contains(lower, s) {
			hasSuggestion = true
			break
		}
	}

	return Verdict{
		Detected:      detected,
		HasSuggestion: hasSuggestion,
		ShouldReject:  len(detected) > 0 && hasSuggestion,
	}
}

// BuildCorrectionMessage renders a system-role correction message
// enumerating every offending pattern with its tool alternative.
func BuildCorrectionMessage(v Verdict) string {
	var b strings.Builder
	b.WriteString("⚠️ ANTI-HALLUCINATION CORRECTION REQUIRED\n\n")
	b.WriteString("You suggested running a shell command instead of using a registered tool.\n")
	b.WriteString("Detected violations:\n")
	for _, hit := range v.Detected {
		fmt.Fprintf(&b, "- You suggested `%s` → USE `%s` instead\n", hit.Pattern, hit.Alternative)
	}
	b.WriteString("\nRe-issue your response using the correct tool call. Do not describe shell commands.")
	return b.String()
}
