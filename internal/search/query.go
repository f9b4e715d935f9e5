package search

import (
	"fmt"
	"strings"
	"time"

	"logalert/internal/domain"
)

// BuildQuery assembles the bool query body for one rule tick.
// Params: condition list and half-open evaluation window [from, to).
// Returns: request body map or condition error.
func BuildQuery(conditions domain.QueryConditions, from, to time.Time) (map[string]any, error) {
	mustClauses := []map[string]any{
		{
			"range": map[string]any{
				"@timestamp": map[string]any{
					"gte":    from.UTC().Format(time.RFC3339),
					"lt":     to.UTC().Format(time.RFC3339),
					"format": "strict_date_optional_time",
				},
			},
		},
	}

	conditionClauses, err := buildConditionClauses(conditions)
	if err != nil {
		return nil, err
	}
	mustClauses = append(mustClauses, conditionClauses...)

	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": mustClauses,
			},
		},
		"sort": []map[string]any{
			{"@timestamp": map[string]any{"order": "asc"}},
		},
	}, nil
}

// buildConditionClauses groups conditions by logic into must plus one should group.
// Params: condition list.
// Returns: ordered clause list ("and" first, "or" group last) or error.
func buildConditionClauses(conditions domain.QueryConditions) ([]map[string]any, error) {
	var (
		andClauses []map[string]any
		orClauses  []map[string]any
	)

	for i, condition := range conditions {
		clause, err := buildCondition(condition)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}

		if condition.EffectiveLogic() == "and" {
			andClauses = append(andClauses, clause)
		} else {
			orClauses = append(orClauses, clause)
		}
	}

	result := andClauses
	if len(orClauses) > 0 {
		result = append(result, map[string]any{
			"bool": map[string]any{
				"should":               orClauses,
				"minimum_should_match": 1,
			},
		})
	}
	return result, nil
}

// buildCondition converts one condition into a query clause.
// Params: condition with operator or legacy type hint.
// Returns: clause map or unsupported-condition error.
func buildCondition(condition domain.QueryCondition) (map[string]any, error) {
	if operator := condition.EffectiveOperator(); operator != "" {
		return buildOperatorClause(condition.Field, operator, condition.Value)
	}
	return buildTypeClause(condition)
}

// buildOperatorClause maps comparison operators onto query DSL clauses.
// Params: field path, operator spelling, and condition value.
// Returns: clause map or unsupported-operator error.
func buildOperatorClause(field, operator string, value any) (map[string]any, error) {
	switch operator {
	case domain.OpEqual, domain.OpEqualAlt, domain.OpEquals:
		return map[string]any{"term": map[string]any{field: value}}, nil
	case domain.OpNotEqual, domain.OpNotEquals:
		return mustNot(map[string]any{"term": map[string]any{field: value}}), nil
	case domain.OpGreater, domain.OpGreaterAlt:
		return rangeClause(field, "gt", value), nil
	case domain.OpGreaterEqual, domain.OpGreaterEqualAlt:
		return rangeClause(field, "gte", value), nil
	case domain.OpLess, domain.OpLessAlt:
		return rangeClause(field, "lt", value), nil
	case domain.OpLessEqual, domain.OpLessEqualAlt:
		return rangeClause(field, "lte", value), nil
	case domain.OpContains:
		return containsClause(field, value), nil
	case domain.OpNotContains:
		if text, ok := value.(string); ok {
			return mustNot(wildcardClause(field, text)), nil
		}
		return mustNot(map[string]any{"match": map[string]any{field: value}}), nil
	case domain.OpExists:
		return map[string]any{"exists": map[string]any{"field": field}}, nil
	default:
		return nil, fmt.Errorf("unsupported operator %q", operator)
	}
}

// buildTypeClause maps legacy type hints onto query DSL clauses.
// Params: condition with type hint (empty means match_phrase).
// Returns: clause map or unsupported-type error.
func buildTypeClause(condition domain.QueryCondition) (map[string]any, error) {
	queryType := condition.Type
	if queryType == "" {
		queryType = "match_phrase"
	}

	switch queryType {
	case "match", "match_phrase", "term", "terms", "regexp", "wildcard":
		return map[string]any{
			queryType: map[string]any{condition.Field: condition.Value},
		}, nil
	case "range":
		bounds, ok := condition.Value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("range condition on %q requires an object value", condition.Field)
		}
		return map[string]any{"range": map[string]any{condition.Field: bounds}}, nil
	case "exists":
		return map[string]any{"exists": map[string]any{"field": condition.Field}}, nil
	default:
		return nil, fmt.Errorf("unsupported query type %q", queryType)
	}
}

// containsClause builds a case-insensitive substring match.
// Params: field path and condition value.
// Returns: wildcard clause for strings, match clause otherwise.
func containsClause(field string, value any) map[string]any {
	if text, ok := value.(string); ok {
		return wildcardClause(field, text)
	}
	return map[string]any{"match": map[string]any{field: value}}
}

// wildcardClause wraps the escaped literal in a *value* wildcard query.
// Params: field path and literal substring.
// Returns: wildcard clause map.
func wildcardClause(field, literal string) map[string]any {
	return map[string]any{
		"wildcard": map[string]any{
			field: map[string]any{
				"value":            "*" + escapeWildcardLiteral(literal) + "*",
				"case_insensitive": true,
			},
		},
	}
}

// rangeClause builds a single-bound range query.
// Params: field path, bound key (gt/gte/lt/lte), and bound value.
// Returns: range clause map.
func rangeClause(field, bound string, value any) map[string]any {
	return map[string]any{
		"range": map[string]any{field: map[string]any{bound: value}},
	}
}

// mustNot negates one clause.
// Params: clause to negate.
// Returns: bool must_not wrapper.
func mustNot(clause map[string]any) map[string]any {
	return map[string]any{
		"bool": map[string]any{
			"must_not": []map[string]any{clause},
		},
	}
}

// escapeWildcardLiteral escapes wildcard metacharacters so the literal matches itself.
// Params: raw substring.
// Returns: substring with \ * ? escaped.
func escapeWildcardLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `*`, `\*`)
	s = strings.ReplaceAll(s, `?`, `\?`)
	return s
}
