package gateway

import "strings"

var riskyFragments = []string{
	"rm -rf",
	"rm -f /",
	"dd if=",
	"mkfs",
	"format",
	"shutdown",
	"reboot",
	"kill -9",
	"chmod 777",
	":(){:|:&};:",
}

// RiskScore is a heuristic in [0,1] shown next to a generated command
func RiskScore(command string) float64 {
	lower := strings.ToLower(command)

	risk := 0.0
	for _, fragment := range riskyFragments {
		if strings.Contains(lower, fragment) {
			risk += 0.8
		}
	}
	if strings.Contains(lower, "sudo") {
		risk += 0.3
	}
	if strings.Contains(lower, "rm ") && strings.Contains(lower, "*") {
		risk += 0.5
	}

	if risk > 1.0 {
		return 1.0
	}
	return risk
}
