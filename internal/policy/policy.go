// Package policy evaluates access statements against requested commands.
// Evaluation is pure: effective statements in, decision out, no I/O.
package policy

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/models"
)

const patternCacheSize = 1024

// patternCache interns parsed resource patterns by their raw text. Policies
// repeat the same handful of patterns on every request, so parsing each one
// once is enough.
var patternCache = mustCache()

func mustCache() *lru.Cache[string, pattern] {
	c, err := lru.New[string, pattern](patternCacheSize)
	if err != nil {
		panic(err)
	}
	return c
}

// pattern is one parsed resource form:
//
//	*               every command of the module
//	cmd             terminal command at the root of the tree
//	group:*         every command under the group, any depth
//	group:cmd       command directly under the group
//	group/sub:*     every command under the nested group, any depth
//	group/sub:cmd   command directly under the nested group
type pattern struct {
	matchAll bool
	groups   []string
	command  string
	anyDepth bool
}

func parsePattern(raw string) (pattern, error) {
	if raw == "*" {
		return pattern{matchAll: true}, nil
	}
	head, cmd, hasColon := strings.Cut(raw, ":")
	if !hasColon {
		if head == "" || strings.ContainsAny(head, "/*") {
			return pattern{}, fmt.Errorf("invalid resource pattern %q", raw)
		}
		return pattern{command: head}, nil
	}
	if head == "" || cmd == "" {
		return pattern{}, fmt.Errorf("invalid resource pattern %q", raw)
	}
	groups := strings.Split(head, "/")
	for _, g := range groups {
		if g == "" || g == "*" {
			return pattern{}, fmt.Errorf("invalid resource pattern %q", raw)
		}
	}
	if cmd == "*" {
		return pattern{groups: groups, anyDepth: true}, nil
	}
	if strings.ContainsAny(cmd, "/*") {
		return pattern{}, fmt.Errorf("invalid resource pattern %q", raw)
	}
	return pattern{groups: groups, command: cmd}, nil
}

func compile(raw string) (pattern, error) {
	if p, ok := patternCache.Get(raw); ok {
		return p, nil
	}
	p, err := parsePattern(raw)
	if err != nil {
		return pattern{}, err
	}
	patternCache.Add(raw, p)
	return p, nil
}

func (p pattern) matches(path []string) bool {
	if p.matchAll {
		return len(path) > 0
	}
	if len(p.groups) == 0 {
		return len(path) == 1 && path[0] == p.command
	}
	if len(path) < len(p.groups) {
		return false
	}
	for i, g := range p.groups {
		if path[i] != g {
			return false
		}
	}
	if p.anyDepth {
		return len(path) > len(p.groups)
	}
	return len(path) == len(p.groups)+1 && path[len(path)-1] == p.command
}

// Statement couples a policy statement with the policy it came from, so a
// decision can name its source.
type Statement struct {
	models.PolicyStatement
	Policy string
}

// Decision is the evaluation outcome. Matched is nil when nothing matched and
// the default-deny rule applied.
type Decision struct {
	Allowed bool
	Matched *Statement
}

// Evaluate applies the effective statements to one requested command.
// Any matching Deny statement wins; with no match at all the default is deny.
func Evaluate(statements []Statement, module string, commandPath []string) Decision {
	var allowed *Statement
	for i := range statements {
		st := &statements[i]
		if st.Module != "*" && st.Module != module {
			continue
		}
		for _, raw := range st.Resources {
			p, err := compile(raw)
			if err != nil {
				continue
			}
			if !p.matches(commandPath) {
				continue
			}
			if st.Effect == models.EffectDeny {
				return Decision{Allowed: false, Matched: st}
			}
			if allowed == nil {
				allowed = st
			}
			break
		}
	}
	if allowed != nil {
		return Decision{Allowed: true, Matched: allowed}
	}
	return Decision{}
}

// ValidateStatements rejects statements the engine could never honor. Called
// when a policy is created or updated so malformed patterns never reach
// evaluation.
func ValidateStatements(statements []models.PolicyStatement) error {
	if len(statements) == 0 {
		return apierr.New(apierr.KindInvalidPayload, "policy must carry at least one statement")
	}
	for i, st := range statements {
		if st.Effect != models.EffectAllow && st.Effect != models.EffectDeny {
			return apierr.Newf(apierr.KindInvalidPayload,
				"statement %d: effect must be %q or %q, got %q", i, models.EffectAllow, models.EffectDeny, st.Effect)
		}
		if st.Module == "" {
			return apierr.Newf(apierr.KindInvalidPayload, "statement %d: module is required", i)
		}
		if len(st.Resources) == 0 {
			return apierr.Newf(apierr.KindInvalidPayload, "statement %d: resources must not be empty", i)
		}
		for _, raw := range st.Resources {
			if _, err := parsePattern(raw); err != nil {
				return apierr.Wrap(apierr.KindInvalidPayload, err, fmt.Sprintf("statement %d", i))
			}
		}
	}
	return nil
}
