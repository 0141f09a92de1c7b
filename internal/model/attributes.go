package model

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
)

// ValidateAttributes checks attrs against an item type's attribute-validation
// schema. Attributes without a rule are accepted. Returns a *ValidationError
// listing every violation, or nil.
func ValidateAttributes(attrs map[string]string, rules map[string]AttributeRule) error {
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	var ve ValidationError
	for _, name := range names {
		rule := rules[name]
		val, present := attrs[name]
		if !present || val == "" {
			if rule.Required {
				ve.Errors = append(ve.Errors, FieldError{
					Field:   "attributes." + name,
					Message: "is required",
				})
			}
			continue
		}
		if err := validateAttributeValue(rule, val); err != nil {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   "attributes." + name,
				Message: err.Error(),
			})
		}
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

func validateAttributeValue(rule AttributeRule, val string) error {
	if rule.Pattern != "" {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("schema pattern %q does not compile", rule.Pattern)
		}
		if !re.MatchString(val) {
			return fmt.Errorf("value %q does not match %q", val, rule.Pattern)
		}
	}
	if len(rule.AllowedValues) > 0 && !slices.Contains(rule.AllowedValues, val) {
		return fmt.Errorf("must be one of %v", rule.AllowedValues)
	}
	return nil
}
