package domain

// ---------------- Operadores ----------------

type Operator string

const (
	OpEq    Operator = "="
	OpNe    Operator = "!="
	OpGt    Operator = ">"
	OpGte   Operator = ">="
	OpLt    Operator = "<"
	OpLte   Operator = "<="
	OpILike Operator = "ILIKE" // contiene, sin distinguir mayúsculas
	OpIn    Operator = "IN"    // Value es una lista; en campos lista basta un elemento
)

type LogicalOperator string

const (
	OpAnd LogicalOperator = "AND"
	OpOr  LogicalOperator = "OR"
)

// ---------------- Criterion ----------------

// Criterion describe una condición neutral de filtrado. Con Any es una
// disyunción: se cumple si se cumplen todas las condiciones de algún grupo.
type Criterion struct {
	Field string
	Op    Operator
	Value interface{}
	Any   [][]Criterion
}

// ---------------- Criteria interface ----------------

// Criteria permite transformar filtros a condiciones neutrales
type Criteria interface {
	ToConditions() []Criterion
}

// ---------------- Composite Criteria ----------------

type CompositeCriteria struct {
	Operator  LogicalOperator
	Criterias []Criteria
}

func (c CompositeCriteria) ToConditions() []Criterion {
	var groups [][]Criterion
	for _, crit := range c.Criterias {
		if crit == nil {
			continue
		}
		if conds := crit.ToConditions(); len(conds) > 0 {
			groups = append(groups, conds)
		}
	}

	if c.Operator == OpOr && len(groups) > 1 {
		return []Criterion{{Any: groups}}
	}
	var all []Criterion
	for _, g := range groups {
		all = append(all, g...)
	}
	return all
}

// ---------------- Helpers ----------------

// And crea un CompositeCriteria con operador AND
func And(criterias ...Criteria) CompositeCriteria {
	return CompositeCriteria{Operator: OpAnd, Criterias: criterias}
}

// Or crea un CompositeCriteria con operador OR
func Or(criterias ...Criteria) CompositeCriteria {
	return CompositeCriteria{Operator: OpOr, Criterias: criterias}
}
