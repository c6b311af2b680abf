package authz

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

const casbinModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`

// Enforcer serves the matrix through casbin so HTTP guards share one
// decision point with any policy tooling that speaks casbin.
type Enforcer struct {
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer loads every grant of the default matrix as a casbin policy.
func NewEnforcer() (*Enforcer, error) {
	m, err := model.NewModelFromString(casbinModel)
	if err != nil {
		return nil, fmt.Errorf("load casbin model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	if rules := Policies(); len(rules) > 0 {
		if _, err := e.AddPolicies(rules); err != nil {
			return nil, fmt.Errorf("load matrix policies: %w", err)
		}
	}
	return &Enforcer{enforcer: e}, nil
}

// Policies flattens the matrix into casbin (sub, obj, act) rules.
func Policies() [][]string {
	var rules [][]string
	for _, r := range Roles() {
		for _, mod := range Modules() {
			for _, a := range defaultMatrix.Grants(r, mod).Actions() {
				rules = append(rules, []string{r.String(), mod.String(), a.String()})
			}
		}
	}
	return rules
}

// Allow reports whether role may perform action on module. Enforcement
// errors deny.
func (e *Enforcer) Allow(r Role, mod Module, a Action) bool {
	if e == nil || !r.Valid() || !mod.Valid() || !a.Valid() {
		return false
	}
	ok, err := e.enforcer.Enforce(r.String(), mod.String(), a.String())
	if err != nil {
		return false
	}
	return ok
}
