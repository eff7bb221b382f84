package redom

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ValidationScope selects whether a rule applies to the field value or to
// each element of an array field.
type ValidationScope int

const (
	ScopeField ValidationScope = iota
	ScopeEachElement
)

// Validation rule names.
const (
	RuleLength = "length"
	RuleRange  = "range"
	RuleRegex  = "regex"
	RuleEnum   = "enum"
	RuleEmail  = "email"
	RuleURL    = "url"
	RuleUUID   = "uuid"
)

// ValidationDescriptor attaches one rule to a field.
type ValidationDescriptor struct {
	Scope ValidationScope
	Rule  ValidationRule
}

// ValidationRule is a declarative pre-flight rule. Min/Max serve both the
// length and range rules; Pattern serves regex; Allowed serves enum.
type ValidationRule struct {
	Name            string
	Min             *float64
	Max             *float64
	Pattern         string
	Allowed         []string
	CaseInsensitive bool
}

// validateEntity checks a candidate document against the descriptor's
// declared fields and rules. Non-optional fields must be present, non-null
// and not an empty string unless they are auto-managed or relation slices.
func validateEntity(descriptor *EntityDescriptor, payload map[string]any) *ValidationError {
	var issues []ValidationIssue
	for i := range descriptor.Fields {
		field := &descriptor.Fields[i]
		value, present := payload[field.Name]
		missing := !present || value == nil || value == ""
		if missing && !field.Optional && !field.AutoCreated && !field.AutoUpdated && !field.IsRelationSlice {
			issues = append(issues, ValidationIssue{
				Field:   field.Name,
				Code:    "validation.required",
				Message: "field is required",
			})
			continue
		}
		if !present {
			continue
		}
		issues = append(issues, validateFieldValue(field, value)...)
	}
	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}

func validateFieldValue(field *FieldDescriptor, value any) []ValidationIssue {
	var issues []ValidationIssue
	for _, descriptor := range field.Validations {
		switch descriptor.Scope {
		case ScopeField:
			issues = append(issues, checkRule(field.Name, field.Type, descriptor.Rule, value)...)
		case ScopeEachElement:
			elements, ok := value.([]any)
			if !ok {
				continue
			}
			for _, element := range elements {
				issues = append(issues, checkRule(field.Name, field.ElementType, descriptor.Rule, element)...)
			}
		}
	}
	return issues
}

func checkRule(fieldName string, fieldType FieldType, rule ValidationRule, value any) []ValidationIssue {
	var issues []ValidationIssue
	fail := func(code, message string) {
		issues = append(issues, ValidationIssue{Field: fieldName, Code: code, Message: message})
	}

	switch rule.Name {
	case RuleLength:
		length, ok := lengthOf(fieldType, value)
		if !ok {
			break
		}
		if rule.Min != nil && float64(length) < *rule.Min {
			fail("validation.length", fmt.Sprintf("length must be at least %d", int(*rule.Min)))
		}
		if rule.Max != nil && float64(length) > *rule.Max {
			fail("validation.length", fmt.Sprintf("length must be at most %d", int(*rule.Max)))
		}
	case RuleRange:
		candidate, ok := numericOf(value)
		if !ok {
			break
		}
		if rule.Min != nil && candidate < *rule.Min {
			fail("validation.range", fmt.Sprintf("value must be at least %v", *rule.Min))
		}
		if rule.Max != nil && candidate > *rule.Max {
			fail("validation.range", fmt.Sprintf("value must be at most %v", *rule.Max))
		}
	case RuleRegex:
		candidate, ok := value.(string)
		if !ok {
			break
		}
		pattern, err := regexp.Compile(rule.Pattern)
		if err == nil && !pattern.MatchString(candidate) {
			fail("validation.regex", "value does not match pattern "+rule.Pattern)
		}
	case RuleEnum:
		candidate, ok := value.(string)
		if !ok {
			break
		}
		if !enumAllows(rule, candidate) {
			fail("validation.enum", fmt.Sprintf("value must be one of %v", rule.Allowed))
		}
	case RuleEmail:
		candidate, ok := value.(string)
		if ok {
			if _, err := mail.ParseAddress(candidate); err != nil {
				fail("validation.email", "value must be a valid email address")
			}
		}
	case RuleURL:
		candidate, ok := value.(string)
		if ok {
			parsed, err := url.Parse(candidate)
			if err != nil || parsed.Scheme == "" {
				fail("validation.url", "value must be a valid URL")
			}
		}
	case RuleUUID:
		candidate, ok := value.(string)
		if ok {
			if _, err := uuid.Parse(candidate); err != nil {
				fail("validation.uuid", "value must be a valid UUID")
			}
		}
	}
	return issues
}

func enumAllows(rule ValidationRule, candidate string) bool {
	for _, allowed := range rule.Allowed {
		if rule.CaseInsensitive {
			if strings.EqualFold(allowed, candidate) {
				return true
			}
		} else if allowed == candidate {
			return true
		}
	}
	return false
}

func lengthOf(fieldType FieldType, value any) (int, bool) {
	switch fieldType {
	case FieldString, FieldDateTime:
		if s, ok := value.(string); ok {
			return len([]rune(s)), true
		}
	case FieldArray:
		if arr, ok := value.([]any); ok {
			return len(arr), true
		}
	}
	return 0, false
}

func numericOf(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}
