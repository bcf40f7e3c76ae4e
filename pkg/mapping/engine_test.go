package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
)

func rule(source, target string, active bool, order int) models.ValueMappingRule {
	return models.ValueMappingRule{
		TargetField: "status",
		SourceValue: source,
		TargetValue: target,
		IsActive:    active,
		SortOrder:   order,
	}
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "hello", Stringify("hello"))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "42", Stringify(float64(42)))
	assert.Equal(t, "42.5", Stringify(42.5))
	assert.Equal(t, "7", Stringify(7))
	assert.Equal(t, "1000000", Stringify(float64(1000000)))
}

func TestMapValueFirstActiveMatchWins(t *testing.T) {
	rules := []models.ValueMappingRule{
		rule("open", "first", true, 0),
		rule("open", "second", true, 1),
	}

	assert.Equal(t, "first", MapValue("open", rules))
}

func TestMapValueSkipsInactiveRules(t *testing.T) {
	rules := []models.ValueMappingRule{
		rule("open", "inactive wins", false, 0),
		rule("open", "active wins", true, 1),
		rule("closed", "done", false, 2),
	}

	assert.Equal(t, "active wins", MapValue("open", rules))
	// only an inactive rule matches, so the value passes through
	assert.Equal(t, "closed", MapValue("closed", rules))
}

func TestMapValuePassThrough(t *testing.T) {
	rules := []models.ValueMappingRule{
		rule("open", "mapped", true, 0),
	}

	assert.Equal(t, "no rule", MapValue("no rule", rules))
	assert.Equal(t, 42.5, MapValue(42.5, rules))
	assert.Nil(t, MapValue(nil, nil))
}

func TestMapValueMatchesStringifiedNumbers(t *testing.T) {
	rules := []models.ValueMappingRule{
		rule("1", "approved", true, 0),
	}

	assert.Equal(t, "approved", MapValue(float64(1), rules))
	assert.Equal(t, "approved", MapValue("1", rules))
}

func TestMapValueJapaneseStatusScenario(t *testing.T) {
	rules := []models.ValueMappingRule{
		rule("営業_企業情報待ち", "書類準備中", true, 0),
		rule("申請中", "申請中", true, 1),
	}

	assert.Equal(t, "書類準備中", MapValue("営業_企業情報待ち", rules))
	assert.Equal(t, "申請中", MapValue("申請中", rules))
	assert.Equal(t, "未知の値", MapValue("未知の値", rules))
}

func TestMapValueRespectsSortOrderRegardlessOfSliceOrder(t *testing.T) {
	rules := []models.ValueMappingRule{
		rule("open", "later", true, 5),
		rule("open", "earlier", true, 1),
	}

	assert.Equal(t, "earlier", MapValue("open", rules))
}

func TestMapRecord(t *testing.T) {
	record := providers.RemoteRecord{
		ID: "101",
		Fields: map[string]any{
			"氏名":        "山田太郎",
			"status":    "営業_企業情報待ち",
			"email":     "taro@example.com",
			"unrelated": "dropped",
		},
	}

	fieldMappings := []models.FieldMapping{
		{SourceCode: "氏名", TargetField: "name", SortOrder: 0},
		{SourceCode: "status", TargetField: "status", SortOrder: 1},
		{SourceCode: "email", TargetField: "email", IsUpdateKey: true, SortOrder: 2},
		{SourceCode: "missing_code", TargetField: "phone", SortOrder: 3},
	}

	rules := GroupRulesByField([]models.ValueMappingRule{
		rule("営業_企業情報待ち", "書類準備中", true, 0),
	})

	mapped := MapRecord(record, fieldMappings, rules)

	assert.Equal(t, map[string]any{
		"name":   "山田太郎",
		"status": "書類準備中",
		"email":  "taro@example.com",
		"phone":  nil,
	}, mapped.Attributes)
	assert.NotContains(t, mapped.Attributes, "unrelated")

	assert.Equal(t, map[string]any{"email": "taro@example.com"}, mapped.UpdateKeys)
	assert.True(t, mapped.HasUpdateKey())
}

func TestMapRecordWithoutUpdateKeyValue(t *testing.T) {
	record := providers.RemoteRecord{
		Fields: map[string]any{"name": "anonymous"},
	}

	fieldMappings := []models.FieldMapping{
		{SourceCode: "name", TargetField: "name", SortOrder: 0},
		{SourceCode: "email", TargetField: "email", IsUpdateKey: true, SortOrder: 1},
	}

	mapped := MapRecord(record, fieldMappings, nil)

	assert.False(t, mapped.HasUpdateKey())
	assert.Nil(t, mapped.Attributes["email"])
}

func TestInferFieldType(t *testing.T) {
	fields := []models.RemoteField{
		{Code: "name", FieldType: models.FieldTypeText},
		{Code: "status", FieldType: models.FieldTypeChoice},
	}

	assert.Equal(t, models.FieldTypeChoice, InferFieldType(fields, "status"))
	assert.Equal(t, models.FieldTypeUnknown, InferFieldType(fields, "nonexistent"))
}

func TestGroupRulesByField(t *testing.T) {
	rules := []models.ValueMappingRule{
		{TargetField: "status", SourceValue: "a", SortOrder: 0},
		{TargetField: "kind", SourceValue: "b", SortOrder: 0},
		{TargetField: "status", SourceValue: "c", SortOrder: 1},
	}

	grouped := GroupRulesByField(rules)
	assert.Len(t, grouped["status"], 2)
	assert.Len(t, grouped["kind"], 1)
}
