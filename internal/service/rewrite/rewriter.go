// Package rewrite post-processes model replies with ordered regex rules.
package rewrite

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/tavern-link/backend/internal/config"
)

const matchTimeout = 200 * time.Millisecond

type compiledRule struct {
	name    string
	re      *regexp2.Regexp
	replace string
	global  bool
}

// Rewriter applies rules in order. Rules use JavaScript regex syntax and
// replacement strings ($1, ${name}, $&).
type Rewriter struct {
	mu     sync.RWMutex
	rules  []compiledRule
	logger zerolog.Logger
}

// New compiles rules; invalid rules are skipped and reported in the returned error.
func New(rules []config.ReplyRule) (*Rewriter, error) {
	r := &Rewriter{logger: log.With().Str("component", "rewrite").Logger()}
	err := r.SetRules(rules)
	return r, err
}

// SetRules swaps the active rule set. Valid rules are installed even when some fail.
func (r *Rewriter) SetRules(rules []config.ReplyRule) error {
	compiled := make([]compiledRule, 0, len(rules))
	var failures []string

	for i, rule := range rules {
		if rule.Disabled {
			continue
		}
		opts, global, err := parseFlags(rule.Flags)
		if err != nil {
			failures = append(failures, fmt.Sprintf("rule %d (%s): %v", i, rule.Name, err))
			continue
		}
		re, err := regexp2.Compile(rule.Find, opts)
		if err != nil {
			failures = append(failures, fmt.Sprintf("rule %d (%s): %v", i, rule.Name, err))
			continue
		}
		re.MatchTimeout = matchTimeout
		compiled = append(compiled, compiledRule{name: rule.Name, re: re, replace: rule.Replace, global: global})
	}

	r.mu.Lock()
	r.rules = compiled
	r.mu.Unlock()

	if len(failures) > 0 {
		return fmt.Errorf("invalid reply rules: %s", strings.Join(failures, "; "))
	}
	return nil
}

// Len returns the number of active rules.
func (r *Rewriter) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// Process never fails: a rule that errors (e.g. match timeout) is skipped.
func (r *Rewriter) Process(text string) string {
	r.mu.RLock()
	rules := r.rules
	r.mu.RUnlock()

	for _, rule := range rules {
		count := 1
		if rule.global {
			count = -1
		}
		out, err := rule.re.Replace(text, rule.replace, -1, count)
		if err != nil {
			r.logger.Warn().Err(err).Str("rule", rule.name).Msg("reply rule skipped")
			continue
		}
		text = out
	}
	return strings.TrimSpace(text)
}

func parseFlags(flags string) (regexp2.RegexOptions, bool, error) {
	opts := regexp2.RegexOptions(regexp2.ECMAScript)
	global := false
	for _, f := range flags {
		switch f {
		case 'g':
			global = true
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			// ECMAScript mode rejects Singleline, so dotall drops it.
			opts = opts&^regexp2.ECMAScript | regexp2.Singleline
		case 'u', 'y':
		default:
			return 0, false, fmt.Errorf("unsupported flag %q", f)
		}
	}
	return opts, global, nil
}
