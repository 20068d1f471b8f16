package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epam/modular-api/internal/apierr"
	"github.com/epam/modular-api/internal/models"
)

func allow(module string, resources ...string) Statement {
	return Statement{
		PolicyStatement: models.PolicyStatement{
			Effect:    models.EffectAllow,
			Module:    module,
			Resources: resources,
		},
		Policy: "test-policy",
	}
}

func deny(module string, resources ...string) Statement {
	return Statement{
		PolicyStatement: models.PolicyStatement{
			Effect:    models.EffectDeny,
			Module:    module,
			Resources: resources,
		},
		Policy: "test-policy",
	}
}

func TestPatternGrammar(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*", "version", true},
		{"*", "report/push", true},
		{"*", "report/jobs/submit", true},

		{"version", "version", true},
		{"version", "report/version", false},
		{"version", "versions", false},

		{"report:*", "report/push", true},
		{"report:*", "report/jobs/submit", true},
		{"report:*", "report", false},
		{"report:*", "billing/push", false},

		{"report:push", "report/push", true},
		{"report:push", "report/jobs/push", false},
		{"report:push", "push", false},

		{"report/jobs:*", "report/jobs/submit", true},
		{"report/jobs:*", "report/jobs/retry/all", true},
		{"report/jobs:*", "report/push", false},

		{"report/jobs:submit", "report/jobs/submit", true},
		{"report/jobs:submit", "report/jobs/retry", false},
		{"report/jobs:submit", "report/submit", false},
	}
	for _, tc := range tests {
		t.Run(tc.pattern+"_vs_"+tc.path, func(t *testing.T) {
			p, err := parsePattern(tc.pattern)
			require.NoError(t, err)
			assert.Equal(t, tc.want, p.matches(strings.Split(tc.path, "/")))
		})
	}
}

func TestParsePatternRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		":",
		"group:",
		":cmd",
		"*:cmd",
		"group/*:cmd",
		"group//sub:cmd",
		"group:sub/cmd",
		"group:**",
		"group/sub",
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := parsePattern(raw)
			assert.Error(t, err)
		})
	}
}

func TestEvaluateDefaultDeny(t *testing.T) {
	d := Evaluate(nil, "m3sa", []string{"report", "push"})
	assert.False(t, d.Allowed)
	assert.Nil(t, d.Matched)

	d = Evaluate([]Statement{allow("billing", "*")}, "m3sa", []string{"report", "push"})
	assert.False(t, d.Allowed, "statements for other modules never match")
	assert.Nil(t, d.Matched)
}

func TestEvaluateAllow(t *testing.T) {
	statements := []Statement{allow("m3sa", "report:*")}

	d := Evaluate(statements, "m3sa", []string{"report", "push"})
	assert.True(t, d.Allowed)
	require.NotNil(t, d.Matched)
	assert.Equal(t, "test-policy", d.Matched.Policy)
}

func TestEvaluateDenyPrecedence(t *testing.T) {
	statements := []Statement{
		allow("m3sa", "*"),
		deny("m3sa", "report:push"),
	}

	d := Evaluate(statements, "m3sa", []string{"report", "push"})
	assert.False(t, d.Allowed)
	require.NotNil(t, d.Matched)
	assert.Equal(t, models.EffectDeny, d.Matched.Effect)

	d = Evaluate(statements, "m3sa", []string{"report", "pull"})
	assert.True(t, d.Allowed)
}

func TestEvaluateDenyWinsRegardlessOfOrder(t *testing.T) {
	forward := []Statement{deny("*", "jobs:*"), allow("m3sa", "*")}
	reverse := []Statement{allow("m3sa", "*"), deny("*", "jobs:*")}

	for _, statements := range [][]Statement{forward, reverse} {
		d := Evaluate(statements, "m3sa", []string{"jobs", "submit"})
		assert.False(t, d.Allowed)
	}
}

func TestEvaluateWildcardModule(t *testing.T) {
	statements := []Statement{allow("*", "version")}

	assert.True(t, Evaluate(statements, "m3sa", []string{"version"}).Allowed)
	assert.True(t, Evaluate(statements, "billing", []string{"version"}).Allowed)
	assert.False(t, Evaluate(statements, "billing", []string{"report", "version"}).Allowed)
}

// Adding statements can only widen an allow set through Allow effects; any new
// Deny can only shrink it. A decision that is denied stays denied when more
// Allow statements arrive for other paths.
func TestEvaluateUnionProperty(t *testing.T) {
	base := []Statement{
		allow("m3sa", "report:*"),
		deny("m3sa", "report:purge"),
	}
	widened := append([]Statement{
		allow("m3sa", "jobs:*"),
		allow("billing", "*"),
	}, base...)

	paths := [][]string{
		{"report", "push"},
		{"report", "purge"},
		{"jobs", "submit"},
	}
	for _, path := range paths {
		before := Evaluate(base, "m3sa", path)
		after := Evaluate(widened, "m3sa", path)
		if before.Allowed {
			assert.True(t, after.Allowed, "widening removed an allow for %v", path)
		}
		if !before.Allowed && before.Matched != nil {
			assert.False(t, after.Allowed, "widening overrode a deny for %v", path)
		}
	}
}

func TestValidateStatements(t *testing.T) {
	valid := []models.PolicyStatement{
		{Effect: models.EffectAllow, Module: "*", Resources: []string{"*"}},
		{Effect: models.EffectDeny, Module: "m3sa", Resources: []string{"report:push", "jobs/retry:*"}},
	}
	require.NoError(t, ValidateStatements(valid))

	cases := []struct {
		name       string
		statements []models.PolicyStatement
	}{
		{"empty", nil},
		{"bad effect", []models.PolicyStatement{{Effect: "allow", Module: "*", Resources: []string{"*"}}}},
		{"no module", []models.PolicyStatement{{Effect: models.EffectAllow, Resources: []string{"*"}}}},
		{"no resources", []models.PolicyStatement{{Effect: models.EffectAllow, Module: "*"}}},
		{"bad pattern", []models.PolicyStatement{{Effect: models.EffectAllow, Module: "*", Resources: []string{"group/"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateStatements(tc.statements)
			require.Error(t, err)
			assert.Equal(t, apierr.KindInvalidPayload, apierr.KindOf(err))
		})
	}
}

func TestPatternInterning(t *testing.T) {
	patternCache.Purge()

	statements := []Statement{allow("m3sa", "report:*")}
	for i := 0; i < 3; i++ {
		Evaluate(statements, "m3sa", []string{"report", "push"})
	}
	assert.Equal(t, 1, patternCache.Len())
}
