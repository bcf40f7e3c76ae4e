// Package mapping transforms remote record values into internal attributes
// through the tenant's configured app, field and value mappings. Everything
// here is pure: the engine never touches the database or the network.
package mapping

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/Gobusters/ectolinq"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
)

// Stringify renders a raw remote value the way rule matching sees it.
// JSON decoding hands us float64 for every number, so integral floats
// render without a decimal point.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// MapValue resolves one raw value through an ordered rule set. The first
// active rule whose source value equals the stringified input wins. Inactive
// rules never match, and an unmapped value passes through unchanged; unmapped
// is a normal case, not an error.
func MapValue(raw any, rules []models.ValueMappingRule) any {
	if len(rules) == 0 {
		return raw
	}

	active := ectolinq.Filter(rules, func(rule models.ValueMappingRule) bool {
		return rule.IsActive
	})
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].SortOrder < active[j].SortOrder
	})

	source := Stringify(raw)
	for _, rule := range active {
		if rule.SourceValue == source {
			return rule.TargetValue
		}
	}
	return raw
}

// MappedRecord is the result of mapping one remote record
type MappedRecord struct {
	// Attributes hold the mapped values keyed by internal field name
	Attributes map[string]any

	// UpdateKeys are the subset of attributes whose field mapping is marked
	// as an update key, used to match existing internal records
	UpdateKeys map[string]any
}

// HasUpdateKey reports whether any update-key field carries a non-empty value
func (m *MappedRecord) HasUpdateKey() bool {
	for _, value := range m.UpdateKeys {
		if Stringify(value) != "" {
			return true
		}
	}
	return false
}

// MapRecord applies the declared field mappings to one remote record. Fields
// without a mapping are dropped; mapped fields run through their value rules.
// A declared field missing from the record maps to nil.
func MapRecord(record providers.RemoteRecord, fieldMappings []models.FieldMapping, rulesByField map[string][]models.ValueMappingRule) *MappedRecord {
	mapped := &MappedRecord{
		Attributes: make(map[string]any, len(fieldMappings)),
		UpdateKeys: make(map[string]any),
	}

	ordered := make([]models.FieldMapping, len(fieldMappings))
	copy(ordered, fieldMappings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SortOrder < ordered[j].SortOrder
	})

	for _, fm := range ordered {
		raw, ok := record.Fields[fm.SourceCode]
		if !ok {
			mapped.Attributes[fm.TargetField] = nil
			continue
		}

		value := MapValue(raw, rulesByField[fm.TargetField])
		mapped.Attributes[fm.TargetField] = value
		if fm.IsUpdateKey {
			mapped.UpdateKeys[fm.TargetField] = value
		}
	}
	return mapped
}

// InferFieldType resolves a field code against the cached remote schema when
// a mapping is created. Unknown codes infer as unknown rather than failing
// the creation.
func InferFieldType(fields []models.RemoteField, code string) models.FieldType {
	for _, f := range fields {
		if f.Code == code {
			return f.FieldType
		}
	}
	return models.FieldTypeUnknown
}

// GroupRulesByField indexes value rules by their internal target field, the
// shape MapRecord consumes
func GroupRulesByField(rules []models.ValueMappingRule) map[string][]models.ValueMappingRule {
	grouped := make(map[string][]models.ValueMappingRule)
	for _, rule := range rules {
		grouped[rule.TargetField] = append(grouped[rule.TargetField], rule)
	}
	return grouped
}
