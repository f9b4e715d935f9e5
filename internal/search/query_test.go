package search

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"logalert/internal/domain"
)

var (
	windowFrom = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	windowTo   = time.Date(2026, 8, 24, 10, 5, 0, 0, time.UTC)
)

func mustClauses(t *testing.T, query map[string]any) []map[string]any {
	t.Helper()

	boolQuery, ok := query["query"].(map[string]any)["bool"].(map[string]any)
	if !ok {
		t.Fatalf("missing bool query: %v", query)
	}
	clauses, ok := boolQuery["must"].([]map[string]any)
	if !ok {
		t.Fatalf("missing must clauses: %v", boolQuery)
	}
	return clauses
}

func TestBuildQueryTimeRangeFirst(t *testing.T) {
	t.Parallel()

	query, err := BuildQuery(nil, windowFrom, windowTo)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	clauses := mustClauses(t, query)
	if len(clauses) != 1 {
		t.Fatalf("expected only the time range clause, got %d", len(clauses))
	}

	bounds := clauses[0]["range"].(map[string]any)["@timestamp"].(map[string]any)
	if bounds["gte"] != "2026-08-24T10:00:00Z" || bounds["lt"] != "2026-08-24T10:05:00Z" {
		t.Fatalf("unexpected window bounds: %v", bounds)
	}
	if bounds["format"] != "strict_date_optional_time" {
		t.Fatalf("expected strict_date_optional_time format, got %v", bounds["format"])
	}

	sorts := query["sort"].([]map[string]any)
	if sorts[0]["@timestamp"].(map[string]any)["order"] != "asc" {
		t.Fatalf("expected ascending timestamp sort")
	}
}

func TestBuildOperatorClauseMatrix(t *testing.T) {
	t.Parallel()

	cases := []struct {
		operator string
		value    any
		want     map[string]any
	}{
		{"=", "err", map[string]any{"term": map[string]any{"level": "err"}}},
		{"==", "err", map[string]any{"term": map[string]any{"level": "err"}}},
		{"equals", "err", map[string]any{"term": map[string]any{"level": "err"}}},
		{">", 500, map[string]any{"range": map[string]any{"level": map[string]any{"gt": 500}}}},
		{"gt", 500, map[string]any{"range": map[string]any{"level": map[string]any{"gt": 500}}}},
		{">=", 500, map[string]any{"range": map[string]any{"level": map[string]any{"gte": 500}}}},
		{"gte", 500, map[string]any{"range": map[string]any{"level": map[string]any{"gte": 500}}}},
		{"<", 500, map[string]any{"range": map[string]any{"level": map[string]any{"lt": 500}}}},
		{"lt", 500, map[string]any{"range": map[string]any{"level": map[string]any{"lt": 500}}}},
		{"<=", 500, map[string]any{"range": map[string]any{"level": map[string]any{"lte": 500}}}},
		{"lte", 500, map[string]any{"range": map[string]any{"level": map[string]any{"lte": 500}}}},
		{"exists", nil, map[string]any{"exists": map[string]any{"field": "level"}}},
	}

	for _, tc := range cases {
		got, err := buildOperatorClause("level", tc.operator, tc.value)
		if err != nil {
			t.Fatalf("operator %q: %v", tc.operator, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("operator %q: got %v want %v", tc.operator, got, tc.want)
		}
	}
}

func TestBuildOperatorClauseNegations(t *testing.T) {
	t.Parallel()

	clause, err := buildOperatorClause("level", "!=", "info")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	negated := clause["bool"].(map[string]any)["must_not"].([]map[string]any)
	if !reflect.DeepEqual(negated[0], map[string]any{"term": map[string]any{"level": "info"}}) {
		t.Fatalf("unexpected negated clause: %v", negated[0])
	}

	clause, err = buildOperatorClause("message", "not_contains", "timeout")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	negated = clause["bool"].(map[string]any)["must_not"].([]map[string]any)
	wildcard := negated[0]["wildcard"].(map[string]any)["message"].(map[string]any)
	if wildcard["value"] != "*timeout*" {
		t.Fatalf("unexpected wildcard value: %v", wildcard["value"])
	}
}

func TestContainsEscapesWildcardMetacharacters(t *testing.T) {
	t.Parallel()

	clause, err := buildOperatorClause("message", "contains", `50% o*f c:\tmp?`)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	wildcard := clause["wildcard"].(map[string]any)["message"].(map[string]any)
	want := `*50% o\*f c:\\tmp\?*`
	if wildcard["value"] != want {
		t.Fatalf("got %q want %q", wildcard["value"], want)
	}
	if wildcard["case_insensitive"] != true {
		t.Fatalf("expected case-insensitive wildcard")
	}
}

func TestContainsOnNonStringFallsBackToMatch(t *testing.T) {
	t.Parallel()

	clause, err := buildOperatorClause("status", "contains", 500)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !reflect.DeepEqual(clause, map[string]any{"match": map[string]any{"status": 500}}) {
		t.Fatalf("expected match fallback, got %v", clause)
	}
}

func TestBuildTypeClauseLegacyHints(t *testing.T) {
	t.Parallel()

	clause, err := buildCondition(domain.QueryCondition{Field: "message", Value: "boom"})
	if err != nil {
		t.Fatalf("build default hint: %v", err)
	}
	if _, ok := clause["match_phrase"]; !ok {
		t.Fatalf("expected match_phrase default, got %v", clause)
	}

	clause, err = buildCondition(domain.QueryCondition{
		Field: "latency",
		Type:  "range",
		Value: map[string]any{"gte": 100, "lt": 200},
	})
	if err != nil {
		t.Fatalf("build range hint: %v", err)
	}
	bounds := clause["range"].(map[string]any)["latency"].(map[string]any)
	if bounds["gte"] != 100 || bounds["lt"] != 200 {
		t.Fatalf("unexpected range bounds: %v", bounds)
	}

	if _, err := buildCondition(domain.QueryCondition{Field: "latency", Type: "range", Value: "oops"}); err == nil {
		t.Fatalf("expected range with scalar value to fail")
	}
	if _, err := buildCondition(domain.QueryCondition{Field: "x", Type: "fuzzy", Value: "y"}); err == nil {
		t.Fatalf("expected unsupported type to fail")
	}
	if _, err := buildCondition(domain.QueryCondition{Field: "x", Operator: "~=", Value: "y"}); err == nil {
		t.Fatalf("expected unsupported operator to fail")
	}
}

func TestBuildQueryGroupsOrConditions(t *testing.T) {
	t.Parallel()

	conditions := domain.QueryConditions{
		{Field: "level", Operator: "=", Value: "error", Logic: "and"},
		{Field: "service", Operator: "=", Value: "api", Logic: "or"},
		{Field: "service", Operator: "=", Value: "worker"},
	}

	query, err := BuildQuery(conditions, windowFrom, windowTo)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	clauses := mustClauses(t, query)
	if len(clauses) != 3 {
		t.Fatalf("expected time range, and-clause, and or-group, got %d", len(clauses))
	}

	shouldGroup := clauses[2]["bool"].(map[string]any)
	should := shouldGroup["should"].([]map[string]any)
	if len(should) != 2 {
		t.Fatalf("expected 2 should clauses, got %d", len(should))
	}
	if shouldGroup["minimum_should_match"] != 1 {
		t.Fatalf("expected minimum_should_match 1")
	}
}

func TestBuildQueryIsDeterministic(t *testing.T) {
	t.Parallel()

	conditions := domain.QueryConditions{
		{Field: "level", Operator: "=", Value: "error", Logic: "and"},
		{Field: "message", Operator: "contains", Value: "timeout"},
	}

	first, err := BuildQuery(conditions, windowFrom, windowTo)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	second, err := BuildQuery(conditions, windowFrom, windowTo)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if !strings.EqualFold(string(a), string(b)) {
		t.Fatalf("expected identical bodies:\n%s\n%s", a, b)
	}
}
