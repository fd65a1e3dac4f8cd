package routing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// Извлечение полей запроса
// Неизвестное поле и пустые метаданные дают nil: отсутствующее значение
// проходит только IS_NULL / IS_NOT_NULL, все прочие операторы дают false.
// =============================================================================

// fieldValue извлекает значение поля запроса для оценки условия.
// Сначала известные поля платежа, затем ключи метаданных
// (как "metadata.key", так и голый ключ).
func fieldValue(req Request, fieldName string) (string, bool) {
	switch fieldName {
	case "paymentId":
		return req.PaymentID, true
	case "tenantId":
		return req.Tenant.TenantID, true
	case "businessUnitId":
		return req.Tenant.BusinessUnitID, true
	case "amount":
		return req.Amount.String(), true
	case "currency":
		return req.Currency, true
	case "paymentType":
		return req.PaymentType, true
	case "sourceAccount":
		return req.SourceAccount, true
	case "destinationAccount":
		return req.DestinationAccount, true
	case "priority":
		return req.Priority, true
	}

	key := strings.TrimPrefix(fieldName, "metadata.")
	if v, ok := req.Metadata[key]; ok {
		return v, true
	}
	return "", false
}

// evalCondition оценивает одно условие против запроса.
// Ошибка означает неоцениваемое условие (битый regex, не-числовое значение
// при числовом операторе); вызывающий решает, валить ли всё правило.
func evalCondition(req Request, c Condition) (bool, error) {
	value, present := fieldValue(req, c.FieldName)

	var matched bool
	switch c.Operator {
	case OpIsNull:
		matched = !present || value == ""
	case OpIsNotNull:
		matched = present && value != ""
	default:
		// Отсутствующее значение не проходит ни один содержательный оператор.
		if !present {
			matched = false
			break
		}
		var err error
		matched, err = applyOperator(c.Operator, value, c.Value)
		if err != nil {
			return false, err
		}
	}

	if c.Negated {
		matched = !matched
	}
	return matched, nil
}

// applyOperator применяет содержательный оператор к значению поля.
func applyOperator(op Operator, fieldVal, condVal string) (bool, error) {
	switch op {
	case OpEquals:
		return equalsLoose(fieldVal, condVal), nil
	case OpNotEquals:
		return !equalsLoose(fieldVal, condVal), nil

	case OpGreaterThan, OpLessThan, OpGreaterThanOrEquals, OpLessThanOrEquals:
		cmp, err := numericCompare(fieldVal, condVal)
		if err != nil {
			return false, err
		}
		switch op {
		case OpGreaterThan:
			return cmp > 0, nil
		case OpLessThan:
			return cmp < 0, nil
		case OpGreaterThanOrEquals:
			return cmp >= 0, nil
		default:
			return cmp <= 0, nil
		}

	case OpContains:
		return strings.Contains(strings.ToLower(fieldVal), strings.ToLower(condVal)), nil
	case OpNotContains:
		return !strings.Contains(strings.ToLower(fieldVal), strings.ToLower(condVal)), nil

	case OpIn:
		return inList(fieldVal, condVal), nil
	case OpNotIn:
		return !inList(fieldVal, condVal), nil

	case OpRegex:
		return regexMatch(fieldVal, condVal)
	case OpNotRegex:
		matched, err := regexMatch(fieldVal, condVal)
		if err != nil {
			return false, err
		}
		return !matched, nil
	}

	return false, fmt.Errorf("неизвестный оператор условия: %s", op)
}

// equalsLoose сравнивает значения: как числа, если оба разбираются
// как decimal (чтобы "100" и "100.00" были равны), иначе как строки
// без учёта регистра.
func equalsLoose(a, b string) bool {
	da, errA := decimal.NewFromString(strings.TrimSpace(a))
	db, errB := decimal.NewFromString(strings.TrimSpace(b))
	if errA == nil && errB == nil {
		return da.Equal(db)
	}
	return strings.EqualFold(a, b)
}

// numericCompare сравнивает значения как decimal с произвольной точностью.
// float здесь запрещён: суммы обязаны сравниваться точно.
func numericCompare(a, b string) (int, error) {
	da, err := decimal.NewFromString(strings.TrimSpace(a))
	if err != nil {
		return 0, fmt.Errorf("значение поля не является числом: %q", a)
	}
	db, err := decimal.NewFromString(strings.TrimSpace(b))
	if err != nil {
		return 0, fmt.Errorf("значение условия не является числом: %q", b)
	}
	return da.Cmp(db), nil
}

// inList проверяет вхождение значения в список, разделённый запятыми.
// Элементы списка обрезаются по пробелам и сравниваются без учёта регистра.
func inList(fieldVal, condVal string) bool {
	for _, item := range strings.Split(condVal, ",") {
		if strings.EqualFold(strings.TrimSpace(item), strings.TrimSpace(fieldVal)) {
			return true
		}
	}
	return false
}

// regexMatch сопоставляет значение с шаблоном целиком: шаблон без якорей
// оборачивается в ^(?:...)$, частичное совпадение не считается.
func regexMatch(fieldVal, pattern string) (bool, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return false, fmt.Errorf("некорректное регулярное выражение условия: %w", err)
	}
	return re.MatchString(fieldVal), nil
}

// =============================================================================
// Сопоставление правила
// =============================================================================

// matchRule оценивает условия правила слева направо в порядке conditionOrder.
// Каждое условие присоединяется к накопленному результату своим
// logicalOperator; OR коротко замыкается на true, AND — на false.
// Правило без условий совпадает всегда.
func matchRule(req Request, rule *Rule) (bool, error) {
	conditions := rule.SortedConditions()
	if len(conditions) == 0 {
		return true, nil
	}

	result, err := evalCondition(req, conditions[0])
	if err != nil {
		return false, err
	}

	for _, c := range conditions[1:] {
		if c.LogicalOperator == LogicalOr {
			if result {
				return true, nil
			}
		} else {
			if !result {
				return false, nil
			}
		}

		matched, err := evalCondition(req, c)
		if err != nil {
			return false, err
		}
		if c.LogicalOperator == LogicalOr {
			result = result || matched
		} else {
			result = result && matched
		}
	}

	return result, nil
}
