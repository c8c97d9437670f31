package secretdetect

import "regexp"

type pattern struct {
	name string
	re   *regexp.Regexp
}

// Token formats of common providers and private key headers.
var defaultPatterns = []pattern{
	{"aws-access-key-id", regexp.MustCompile(`(A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}`)},
	{"openai-project-key", regexp.MustCompile(`sk-proj-[a-zA-Z0-9_\-]{32,}`)},
	{"anthropic-key", regexp.MustCompile(`sk-ant-api03-[a-zA-Z0-9_\-]{20,}`)},
	{"openai-key", regexp.MustCompile(`sk-[a-zA-Z0-9]{32,}`)},
	{"google-api-key", regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`)},
	{"github-pat", regexp.MustCompile(`ghp_[a-zA-Z0-9]{36}`)},
	{"github-oauth", regexp.MustCompile(`gho_[a-zA-Z0-9]{36}`)},
	{"slack-bot-token", regexp.MustCompile(`xoxb-[0-9]{10,12}-[0-9]{10,12}-[a-zA-Z0-9]{24}`)},
	{"slack-user-token", regexp.MustCompile(`xoxp-[0-9]{10,12}-[0-9]{10,12}-[0-9]{10,12}-[a-zA-Z0-9]{32}`)},
	{"private-key", regexp.MustCompile(`-----BEGIN (?:RSA |OPENSSH |PGP |EC |)PRIVATE KEY(?: BLOCK)?-----`)},
}

// Environment variable names whose values are never kept.
var sensitiveKeyFragments = []string{
	"KEY", "TOKEN", "SECRET", "PASSWORD", "PASSWD", "CREDENTIAL", "AUTH", "COOKIE", "SESSION",
}
