// Package classify assigns answer quality tiers using keyword heuristics.
package classify

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/Michdriod/RCA-AI/internal/domain"
)

// unknownPhrases are matched exactly after normalization.
var unknownPhrases = map[string]struct{}{
	"i dont know": {}, "dont know": {}, "i do not know": {}, "do not know": {},
	"idk": {}, "dunno": {}, "i dunno": {},
	"not sure": {}, "im not sure": {}, "i am not sure": {}, "unsure": {},
	"cant say": {}, "i cant say": {}, "cannot say": {}, "i cannot say": {},
	"no idea": {}, "i have no idea": {}, "no clue": {}, "i have no clue": {},
	"unknown": {}, "not certain": {}, "i dont know why": {},
}

// technicalTerms name components, resources and metrics.
var technicalTerms = map[string]struct{}{
	"api": {}, "apis": {}, "endpoint": {}, "endpoints": {}, "server": {}, "servers": {},
	"database": {}, "db": {}, "query": {}, "queries": {}, "index": {}, "indexes": {},
	"schema": {}, "table": {}, "transaction": {}, "transactions": {}, "deadlock": {},
	"cpu": {}, "memory": {}, "ram": {}, "disk": {}, "heap": {}, "swap": {}, "gc": {},
	"thread": {}, "threads": {}, "process": {}, "processes": {}, "kernel": {},
	"pool": {}, "connection": {}, "connections": {}, "socket": {}, "sockets": {},
	"timeout": {}, "timeouts": {}, "latency": {}, "throughput": {}, "bandwidth": {},
	"cache": {}, "caching": {}, "queue": {}, "queues": {}, "buffer": {}, "lock": {}, "mutex": {},
	"network": {}, "dns": {}, "tls": {}, "ssl": {}, "certificate": {}, "proxy": {},
	"container": {}, "pod": {}, "pods": {}, "node": {}, "nodes": {}, "cluster": {}, "replica": {},
	"config": {}, "configuration": {}, "setting": {}, "parameter": {}, "flag": {},
	"usage": {}, "load": {}, "leak": {}, "bug": {}, "exception": {}, "error": {}, "errors": {},
	"request": {}, "requests": {}, "response": {}, "retry": {}, "retries": {},
	"ms": {}, "milliseconds": {}, "seconds": {}, "gb": {}, "mb": {},
}

var technicalPhrases = []string{
	"connection pool", "load balancer", "garbage collection", "rate limit",
	"memory leak", "race condition", "disk space", "file descriptor",
}

// vagueWords carry evaluation without naming anything concrete.
var vagueWords = map[string]struct{}{
	"improved": {}, "improve": {}, "better": {}, "worse": {}, "enhanced": {}, "enhance": {},
	"changed": {}, "change": {}, "changes": {}, "things": {}, "stuff": {}, "optimized": {},
	"good": {}, "bad": {}, "fine": {}, "nicer": {}, "issues": {}, "problems": {},
	"broken": {}, "fixed": {}, "poor": {}, "messy": {}, "weird": {},
}

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "it": {}, "they": {}, "them": {}, "we": {}, "was": {},
	"is": {}, "were": {}, "are": {}, "be": {}, "been": {}, "of": {}, "to": {}, "and": {},
	"our": {}, "their": {}, "its": {}, "this": {}, "that": {}, "more": {}, "much": {},
	"very": {}, "some": {}, "just": {}, "got": {},
}

var (
	percentPattern = regexp.MustCompile(`\d+(\.\d+)?\s*%`)
	// CamelCase identifiers such as WindowServer or NullPointerException.
	identifierPattern = regexp.MustCompile(`\b[A-Z][a-z0-9]+[A-Z][A-Za-z0-9]*\b`)
	apostrophes       = strings.NewReplacer("'", "", "’", "", "`", "")
)

// Classify returns the quality tier of an answer.
// Precedence is UNKNOWN, MECHANISM, VAGUE, then CONTEXT, which also serves
// as the fallback so every input yields a tier.
func Classify(text string) domain.Tier {
	raw := strings.TrimSpace(text)
	lower := strings.ToLower(raw)
	words := tokenize(lower)

	if isUnknown(lower, words) {
		return domain.TierUnknown
	}
	if isMechanism(raw, lower, words) {
		return domain.TierMechanism
	}
	if isVague(words) {
		return domain.TierVague
	}
	return domain.TierContext
}

// DepthScore counts MECHANISM answers. Repeated answers each count.
func DepthScore(answers []string) int {
	n := 0
	for _, a := range answers {
		if Classify(a) == domain.TierMechanism {
			n++
		}
	}
	return n
}

// NextStreak returns the consecutive UNKNOWN count after an answer of the given tier.
func NextStreak(prev int, tier domain.Tier) int {
	if tier == domain.TierUnknown {
		return prev + 1
	}
	return 0
}

func tokenize(lower string) []string {
	cleaned := apostrophes.Replace(lower)
	return strings.FieldsFunc(cleaned, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '%'
	})
}

func isUnknown(lower string, words []string) bool {
	if strings.Trim(lower, "? ") == "" && strings.Contains(lower, "?") {
		return true
	}
	_, ok := unknownPhrases[strings.Join(words, " ")]
	return ok
}

func isMechanism(raw, lower string, words []string) bool {
	hasMetric := percentPattern.MatchString(lower)
	hasTerm := hasMetric || identifierPattern.MatchString(raw)
	if !hasTerm {
		for _, p := range technicalPhrases {
			if strings.Contains(lower, p) {
				hasTerm = true
				break
			}
		}
	}
	if !hasTerm {
		for _, w := range words {
			if _, ok := technicalTerms[w]; ok {
				hasTerm = true
				break
			}
		}
	}
	if !hasTerm {
		return false
	}
	return hasMetric || !adjectiveOnly(words)
}

// adjectiveOnly reports whether every content word is either evaluative or a
// bare technical noun, e.g. "Better API".
func adjectiveOnly(words []string) bool {
	sawVague := false
	for _, w := range words {
		if _, ok := stopWords[w]; ok {
			continue
		}
		if _, ok := vagueWords[w]; ok {
			sawVague = true
			continue
		}
		if _, ok := technicalTerms[w]; ok {
			continue
		}
		return false
	}
	return sawVague
}

func isVague(words []string) bool {
	if len(words) == 0 || len(words) > 8 {
		return false
	}
	for _, w := range words {
		if _, ok := vagueWords[w]; ok {
			return true
		}
	}
	return false
}
