package routing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/payments-platform/services/payments/internal/domain"
)

func testRequest() Request {
	return Request{
		PaymentID:          "pay-1",
		Tenant:             domain.TenantContext{TenantID: "T1", BusinessUnitID: "B1"},
		Amount:             decimal.RequireFromString("15000.00"),
		Currency:           "ZAR",
		PaymentType:        "RTGS",
		SourceAccount:      "12345678901",
		DestinationAccount: "98765432101",
		Priority:           "NORMAL",
		CreatedAt:          time.Now().UTC(),
		Metadata:           map[string]string{"channel": "mobile"},
	}
}

func TestEvalCondition_Operators(t *testing.T) {
	req := testRequest()

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		// Строковое равенство — без учёта регистра.
		{"equals_currency", Condition{FieldName: "currency", Operator: OpEquals, Value: "zar"}, true},
		{"not_equals_currency", Condition{FieldName: "currency", Operator: OpNotEquals, Value: "USD"}, true},
		// Числовое равенство — decimal: "15000" == "15000.00".
		{"equals_amount_scale", Condition{FieldName: "amount", Operator: OpEquals, Value: "15000"}, true},
		// Числовые сравнения — decimal с произвольной точностью.
		{"greater_than", Condition{FieldName: "amount", Operator: OpGreaterThan, Value: "10000"}, true},
		{"greater_than_false", Condition{FieldName: "amount", Operator: OpGreaterThan, Value: "15000.00"}, false},
		{"less_than", Condition{FieldName: "amount", Operator: OpLessThan, Value: "20000"}, true},
		{"gte_boundary", Condition{FieldName: "amount", Operator: OpGreaterThanOrEquals, Value: "15000.00"}, true},
		{"lte_boundary", Condition{FieldName: "amount", Operator: OpLessThanOrEquals, Value: "15000.00"}, true},
		// CONTAINS — подстрока без учёта регистра.
		{"contains", Condition{FieldName: "sourceAccount", Operator: OpContains, Value: "4567"}, true},
		{"not_contains", Condition{FieldName: "sourceAccount", Operator: OpNotContains, Value: "0000"}, true},
		// IN / NOT_IN — список через запятую, пробелы обрезаются.
		{"in_list", Condition{FieldName: "paymentType", Operator: OpIn, Value: "EFT, RTGS, INSTANT"}, true},
		{"in_list_miss", Condition{FieldName: "paymentType", Operator: OpIn, Value: "EFT,INSTANT"}, false},
		{"not_in_list", Condition{FieldName: "currency", Operator: OpNotIn, Value: "USD,EUR"}, true},
		// REGEX — полное совпадение, частичное не считается.
		{"regex_full_match", Condition{FieldName: "sourceAccount", Operator: OpRegex, Value: `\d{11}`}, true},
		{"regex_partial_no_match", Condition{FieldName: "sourceAccount", Operator: OpRegex, Value: `\d{4}`}, false},
		{"not_regex", Condition{FieldName: "currency", Operator: OpNotRegex, Value: `[0-9]+`}, true},
		// IS_NULL / IS_NOT_NULL — единственные операторы для отсутствующих полей.
		{"is_null_missing_field", Condition{FieldName: "metadata.batch", Operator: OpIsNull}, true},
		{"is_not_null_present", Condition{FieldName: "currency", Operator: OpIsNotNull}, true},
		// Метаданные адресуются и с префиксом, и голым ключом.
		{"metadata_prefixed", Condition{FieldName: "metadata.channel", Operator: OpEquals, Value: "mobile"}, true},
		{"metadata_bare_key", Condition{FieldName: "channel", Operator: OpEquals, Value: "MOBILE"}, true},
		// Отсутствующее поле не проходит содержательные операторы.
		{"missing_field_equals", Condition{FieldName: "unknownField", Operator: OpEquals, Value: "x"}, false},
		// Negated инвертирует результат.
		{"negated_equals", Condition{FieldName: "currency", Operator: OpEquals, Value: "USD", Negated: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evalCondition(req, tt.cond)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Неоцениваемые условия возвращают ошибку, а не тихий false.
func TestEvalCondition_Errors(t *testing.T) {
	req := testRequest()

	_, err := evalCondition(req, Condition{FieldName: "currency", Operator: OpGreaterThan, Value: "100"})
	assert.Error(t, err, "нечисловое значение поля при числовом операторе")

	_, err = evalCondition(req, Condition{FieldName: "currency", Operator: OpRegex, Value: "("})
	assert.Error(t, err, "битое регулярное выражение")
}

func TestMatchRule_LogicalOperators(t *testing.T) {
	req := testRequest()

	t.Run("and_all_true", func(t *testing.T) {
		rule := Rule{Conditions: []Condition{
			{FieldName: "currency", Operator: OpEquals, Value: "ZAR", ConditionOrder: 1},
			{FieldName: "amount", Operator: OpGreaterThan, Value: "10000", LogicalOperator: LogicalAnd, ConditionOrder: 2},
		}}
		matched, err := matchRule(req, &rule)
		require.NoError(t, err)
		assert.True(t, matched)
	})

	t.Run("and_short_circuit_false", func(t *testing.T) {
		// Первое условие false, второе — битое: AND замыкается до его оценки.
		rule := Rule{Conditions: []Condition{
			{FieldName: "currency", Operator: OpEquals, Value: "USD", ConditionOrder: 1},
			{FieldName: "currency", Operator: OpRegex, Value: "(", LogicalOperator: LogicalAnd, ConditionOrder: 2},
		}}
		matched, err := matchRule(req, &rule)
		require.NoError(t, err)
		assert.False(t, matched)
	})

	t.Run("or_short_circuit_true", func(t *testing.T) {
		// Первое условие true, второе — битое: OR замыкается до его оценки.
		rule := Rule{Conditions: []Condition{
			{FieldName: "currency", Operator: OpEquals, Value: "ZAR", ConditionOrder: 1},
			{FieldName: "currency", Operator: OpRegex, Value: "(", LogicalOperator: LogicalOr, ConditionOrder: 2},
		}}
		matched, err := matchRule(req, &rule)
		require.NoError(t, err)
		assert.True(t, matched)
	})

	t.Run("conditions_ordered_by_condition_order", func(t *testing.T) {
		// Объявлены в обратном порядке: первым оценивается conditionOrder=1.
		rule := Rule{Conditions: []Condition{
			{FieldName: "amount", Operator: OpGreaterThan, Value: "10000", LogicalOperator: LogicalAnd, ConditionOrder: 2},
			{FieldName: "currency", Operator: OpEquals, Value: "ZAR", ConditionOrder: 1},
		}}
		matched, err := matchRule(req, &rule)
		require.NoError(t, err)
		assert.True(t, matched)
	})

	t.Run("no_conditions_always_matches", func(t *testing.T) {
		rule := Rule{}
		matched, err := matchRule(req, &rule)
		require.NoError(t, err)
		assert.True(t, matched)
	})
}
