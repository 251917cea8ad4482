package criterion

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/c360/semtwin/snapshot"
)

// ApproxEpsilon is the absolute tolerance of numeric APPROX comparisons
const ApproxEpsilon = 1e-4

// Operator is a value comparison operator
type Operator int

// Operators
const (
	OpEquals Operator = iota
	OpApprox
	OpGreaterThan
	OpGreaterOrEqual
	OpLessThan
	OpLessOrEqual
	OpIsSet
	OpRegex
	OpRegexRegion
)

var operatorNames = []string{
	"EQUALS", "APPROX", "GREATER_THAN", "GREATER_THAN_OR_EQUAL",
	"LESS_THAN", "LESS_THAN_OR_EQUAL", "IS_SET", "REGEX", "REGEX_REGION",
}

var operatorSymbols = []string{"==", "~=", ">", ">=", "<", "<=", "is set", "=~", "contains"}

func (o Operator) String() string {
	if o < 0 || int(o) >= len(operatorNames) {
		return "Operator(" + strconv.Itoa(int(o)) + ")"
	}
	return operatorNames[o]
}

// ParseOperator parses an operator name. PRESENT is an alias of IS_SET and
// the empty string is EQUALS.
func ParseOperator(s string) (Operator, error) {
	switch strings.ToUpper(s) {
	case "":
		return OpEquals, nil
	case "PRESENT":
		return OpIsSet, nil
	}
	for i, name := range operatorNames {
		if strings.EqualFold(s, name) {
			return Operator(i), nil
		}
	}
	return OpEquals, fmt.Errorf("%w: operator %q", ErrUnknownOperator, s)
}

// CheckType selects which aspect of a resource value is compared
type CheckType int

// Check types
const (
	CheckValue CheckType = iota
	CheckSize
	CheckTimestamp
)

var checkTypeNames = []string{"VALUE", "SIZE", "TIMESTAMP"}

func (c CheckType) String() string {
	if c < 0 || int(c) >= len(checkTypeNames) {
		return "CheckType(" + strconv.Itoa(int(c)) + ")"
	}
	return checkTypeNames[c]
}

// ParseCheckType parses a check type name. The empty string is VALUE.
func ParseCheckType(s string) (CheckType, error) {
	if s == "" {
		return CheckValue, nil
	}
	for i, name := range checkTypeNames {
		if strings.EqualFold(s, name) {
			return CheckType(i), nil
		}
	}
	return CheckValue, fmt.Errorf("%w: check type %q", ErrUnknownOperator, s)
}

// ValueTest compares a resource value against one or more operands. The
// test passes when any element of the value matches any operand.
type ValueTest struct {
	Op       Operator
	Check    CheckType
	Operands []string
	Negate   bool

	nums    []float64
	numeric []bool
	res     []*regexp.Regexp
}

// NewValueTest compiles a value test. Timestamp operands may be epoch
// milliseconds or RFC 3339 instants.
func NewValueTest(op Operator, check CheckType, operands ...string) (ValueTest, error) {
	vt := ValueTest{Op: op, Check: check}
	if op < 0 || int(op) >= len(operatorNames) {
		return vt, fmt.Errorf("%w: operator %d", ErrUnknownOperator, int(op))
	}
	if check < 0 || int(check) >= len(checkTypeNames) {
		return vt, fmt.Errorf("%w: check type %d", ErrUnknownOperator, int(check))
	}
	vt.Operands = make([]string, len(operands))
	vt.nums = make([]float64, len(operands))
	vt.numeric = make([]bool, len(operands))
	for i, operand := range operands {
		if check == CheckTimestamp {
			if t, err := time.Parse(time.RFC3339Nano, operand); err == nil {
				operand = strconv.FormatInt(t.UnixMilli(), 10)
			}
		}
		vt.Operands[i] = operand
		vt.nums[i], vt.numeric[i] = parseNumber(operand)
	}
	if op == OpRegex || op == OpRegexRegion {
		vt.res = make([]*regexp.Regexp, len(operands))
		for i, operand := range operands {
			expr := operand
			if op == OpRegex {
				expr = "^(?:" + operand + ")$"
			}
			if err := checkPatternComplexity(operand); err != nil {
				return vt, err
			}
			re, err := compilePattern(expr)
			if err != nil {
				return vt, err
			}
			vt.res[i] = re
		}
	}
	return vt, nil
}

// Not returns the negated test
func (vt ValueTest) Not() ValueTest {
	vt.Negate = !vt.Negate
	return vt
}

// Test evaluates the test on r. Negation flips the outcome after the
// positive test has run, so a negated comparison passes on an unset
// resource.
func (vt ValueTest) Test(r *snapshot.ResourceSnapshot) bool {
	if vt.Op == OpIsSet {
		return r.IsSet() != vt.Negate
	}
	if !r.IsSet() {
		return vt.Negate
	}
	return vt.positive(vt.extract(r)) != vt.Negate
}

func (vt ValueTest) positive(raw any) bool {
	if raw == nil {
		for _, o := range vt.Operands {
			if o == "null" {
				return true
			}
		}
		return false
	}
	for _, v := range elements(raw) {
		for i := range vt.Operands {
			if vt.compare(v, i) {
				return true
			}
		}
	}
	return false
}

func (vt ValueTest) extract(r *snapshot.ResourceSnapshot) any {
	switch vt.Check {
	case CheckSize:
		return sizeOf(r.Value.Value)
	case CheckTimestamp:
		return r.Value.Timestamp.UnixMilli()
	default:
		return r.Value.Value
	}
}

func (vt ValueTest) compare(v any, i int) bool {
	operand := vt.Operands[i]
	switch vt.Op {
	case OpRegex, OpRegexRegion:
		return vt.res[i].MatchString(Stringify(v))
	}

	fv, isNum := AsFloat(v)
	isNum = isNum && vt.numeric[i]
	switch vt.Op {
	case OpEquals:
		if isNum {
			return fv == vt.nums[i]
		}
		return Stringify(v) == operand
	case OpApprox:
		if isNum {
			return math.Abs(fv-vt.nums[i]) <= ApproxEpsilon
		}
		return strings.EqualFold(strings.TrimSpace(Stringify(v)), strings.TrimSpace(operand))
	}

	var cmp int
	if isNum {
		switch {
		case fv < vt.nums[i]:
			cmp = -1
		case fv > vt.nums[i]:
			cmp = 1
		}
	} else {
		cmp = strings.Compare(Stringify(v), operand)
	}
	switch vt.Op {
	case OpGreaterThan:
		return cmp > 0
	case OpGreaterOrEqual:
		return cmp >= 0
	case OpLessThan:
		return cmp < 0
	case OpLessOrEqual:
		return cmp <= 0
	}
	return false
}

func (vt ValueTest) String() string {
	var b strings.Builder
	if vt.Negate {
		b.WriteString("not ")
	}
	if vt.Check != CheckValue {
		b.WriteString(strings.ToLower(vt.Check.String()))
		b.WriteString(" ")
	}
	b.WriteString(operatorSymbols[vt.Op])
	if vt.Op == OpIsSet {
		return b.String()
	}
	b.WriteString(" ")
	if len(vt.Operands) == 1 {
		b.WriteString(strconv.Quote(vt.Operands[0]))
	} else {
		quoted := make([]string, len(vt.Operands))
		for i, o := range vt.Operands {
			quoted[i] = strconv.Quote(o)
		}
		b.WriteString("[" + strings.Join(quoted, ", ") + "]")
	}
	return b.String()
}

// AsFloat converts numbers and numeric strings to float64
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		return parseNumber(n.String())
	case string:
		return parseNumber(n)
	default:
		return 0, false
	}
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// Stringify renders a value the way string comparisons see it
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

// elements flattens slices, arrays and map values into a list. Other values
// are returned as a single element.
func elements(v any) []any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return []any{v}
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	case reflect.Map:
		out := make([]any, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out = append(out, iter.Value().Interface())
		}
		return out
	default:
		return []any{v}
	}
}

// sizeOf returns the length of strings and collections and the absolute
// value of numbers
func sizeOf(v any) any {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		return utf8.RuneCountInString(s)
	}
	if f, ok := AsFloat(v); ok {
		return math.Abs(f)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len()
	}
	return nil
}
