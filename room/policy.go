package room

import (
	"fmt"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
)

/*
AdmissionEnv is the environment an admission rule is evaluated in. Once rules are deployed, fields must not be
renamed, otherwise configured rules stop compiling.
*/
type AdmissionEnv struct {
	RoomId       string
	UserId       string
	OrganizerId  string
	QueueLength  int
	TotalEntered int
}

// AdmissionPolicy is an optional boolean expression deciding whether a user may enter a queue, f.e.
// `QueueLength < 50` caps the line. A nil policy admits everybody.
type AdmissionPolicy struct {
	rule    string
	program *vm.Program
}

// NewAdmissionPolicy compiles rule. An empty rule yields a nil policy.
func NewAdmissionPolicy(rule string) (*AdmissionPolicy, error) {
	if rule == "" {
		return nil, nil
	}
	prog, err := expr.Compile(rule, expr.Env(AdmissionEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("could not compile admission rule %q: %w", rule, err)
	}
	return &AdmissionPolicy{rule: rule, program: prog}, nil
}

func (p *AdmissionPolicy) String() string {
	if p == nil {
		return ""
	}
	return p.rule
}

// Allows evaluates the rule. A rule that fails at runtime refuses the admission.
func (p *AdmissionPolicy) Allows(env AdmissionEnv) bool {
	if p == nil {
		return true
	}
	res, err := expr.Run(p.program, env)
	if err != nil {
		return false
	}
	ok, _ := res.(bool)
	return ok
}
