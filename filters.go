package redom

import "strconv"

// mapFilter resolves one filter expression against the declared index
// type of its field. TAG fields take eq/bool, NUMERIC fields take
// eq/range, TEXT fields take the text operators (with eq falling back to
// prefix semantics).
func mapFilter(descriptor *EntityDescriptor, fd FilterDescriptor) (FilterCondition, error) {
	var index *IndexField
	for i := range descriptor.IndexFields {
		if descriptor.IndexFields[i].FieldName == fd.Field {
			index = &descriptor.IndexFields[i]
			break
		}
	}
	if index == nil {
		return FilterCondition{}, invalidRequestf("unknown filter field: %s", fd.Field)
	}

	switch index.Type {
	case IndexTag:
		return buildTagFilter(fd, index.FieldName)
	case IndexNumeric:
		return buildNumericFilter(fd, index.FieldName)
	case IndexText:
		return buildTextFilter(fd, index.FieldName)
	}
	return FilterCondition{}, invalidRequestf("unsupported index type for field %s", fd.Field)
}

func buildTagFilter(fd FilterDescriptor, field string) (FilterCondition, error) {
	switch fd.Operator {
	case OperatorEq:
		if len(fd.Values) == 0 {
			return FilterCondition{}, invalidRequestf("filter on %s requires a value", field)
		}
		return TagIn(field, fd.Values...), nil
	case OperatorBool:
		if len(fd.Values) == 0 {
			return FilterCondition{}, invalidRequestf("filter on %s requires a value", field)
		}
		flag, err := parseBool(fd.Values[0])
		if err != nil {
			return FilterCondition{}, invalidRequestf("invalid boolean value for %s: %s", field, fd.Values[0])
		}
		return BoolEq(field, flag), nil
	}
	return FilterCondition{}, invalidRequestf("operator is not supported for TAG field %s", field)
}

// buildNumericFilter maps eq to a degenerate range and range to its
// bounds; empty or "*" bounds stay open.
func buildNumericFilter(fd FilterDescriptor, field string) (FilterCondition, error) {
	switch fd.Operator {
	case OperatorEq:
		if len(fd.Values) == 0 {
			return FilterCondition{}, invalidRequestf("numeric filter on %s requires a value", field)
		}
		value, err := strconv.ParseFloat(fd.Values[0], 64)
		if err != nil {
			return FilterCondition{}, invalidRequestf("invalid numeric value: %s", fd.Values[0])
		}
		return NumericEq(field, value), nil
	case OperatorRange:
		min, err := parseNumericBound(fd.Values, 0)
		if err != nil {
			return FilterCondition{}, err
		}
		max, err := parseNumericBound(fd.Values, 1)
		if err != nil {
			return FilterCondition{}, err
		}
		return NumericRange(field, min, max), nil
	case OperatorBool:
		return FilterCondition{}, invalidRequestf("boolean operator is not supported for numeric field %s", field)
	}
	return FilterCondition{}, invalidRequestf("text operators are not supported for numeric field %s", field)
}

func buildTextFilter(fd FilterDescriptor, field string) (FilterCondition, error) {
	if len(fd.Values) == 0 || fd.Values[0] == "" {
		return FilterCondition{}, invalidRequestf("filter on %s requires a value", field)
	}
	value := fd.Values[0]
	switch fd.Operator {
	case OperatorPrefix, OperatorEq:
		// eq on TEXT keeps prefix semantics.
		return TextPrefix(field, value), nil
	case OperatorContains:
		return TextContains(field, value), nil
	case OperatorExact:
		return TextExact(field, value), nil
	case OperatorFuzzy:
		return TextFuzzy(field, value), nil
	}
	return FilterCondition{}, invalidRequestf("operator is not supported for TEXT field %s", field)
}

func parseNumericBound(values []string, index int) (*float64, error) {
	if index >= len(values) {
		return nil, nil
	}
	raw := values[index]
	if raw == "" || raw == "*" {
		return nil, nil
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, invalidRequestf("invalid numeric bound: %s", raw)
	}
	return &parsed, nil
}

func parseBool(raw string) (bool, error) {
	switch raw {
	case "true", "True", "TRUE", "1":
		return true, nil
	case "false", "False", "FALSE", "0":
		return false, nil
	}
	return false, strconv.ErrSyntax
}
