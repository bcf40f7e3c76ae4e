package remote

import (
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

// kintoneFieldTypes maps kintone form field type codes to internal kinds
var kintoneFieldTypes = map[string]models.FieldType{
	"SINGLE_LINE_TEXT": models.FieldTypeText,
	"MULTI_LINE_TEXT":  models.FieldTypeText,
	"RICH_TEXT":        models.FieldTypeText,
	"LINK":             models.FieldTypeText,
	"NUMBER":           models.FieldTypeNumber,
	"CALC":             models.FieldTypeNumber,
	"DATE":             models.FieldTypeDate,
	"DATETIME":         models.FieldTypeDateTime,
	"CREATED_TIME":     models.FieldTypeDateTime,
	"UPDATED_TIME":     models.FieldTypeDateTime,
	"DROP_DOWN":        models.FieldTypeChoice,
	"RADIO_BUTTON":     models.FieldTypeChoice,
	"CHECK_BOX":        models.FieldTypeChoice,
	"MULTI_SELECT":     models.FieldTypeChoice,
	"STATUS":           models.FieldTypeChoice,
	"USER_SELECT":      models.FieldTypeUser,
	"CREATOR":          models.FieldTypeUser,
	"MODIFIER":         models.FieldTypeUser,
}

// salesforceFieldTypes maps salesforce describe type codes to internal kinds
var salesforceFieldTypes = map[string]models.FieldType{
	"string":    models.FieldTypeText,
	"textarea":  models.FieldTypeText,
	"phone":     models.FieldTypeText,
	"email":     models.FieldTypeText,
	"url":       models.FieldTypeText,
	"id":        models.FieldTypeText,
	"int":       models.FieldTypeNumber,
	"double":    models.FieldTypeNumber,
	"currency":  models.FieldTypeNumber,
	"percent":   models.FieldTypeNumber,
	"date":      models.FieldTypeDate,
	"datetime":  models.FieldTypeDateTime,
	"picklist":  models.FieldTypeChoice,
	"boolean":   models.FieldTypeChoice,
	"reference": models.FieldTypeUser,
}

// ClassifyFieldType resolves a provider's raw type code to an internal kind.
// Unrecognized codes classify as unknown rather than failing the schema sync;
// the raw code is preserved alongside for operators to inspect.
func ClassifyFieldType(provider, rawType string) models.FieldType {
	var table map[string]models.FieldType
	switch provider {
	case "kintone":
		table = kintoneFieldTypes
		rawType = strings.ToUpper(rawType)
	case "salesforce":
		table = salesforceFieldTypes
		rawType = strings.ToLower(rawType)
	default:
		return models.FieldTypeUnknown
	}

	if kind, ok := table[rawType]; ok {
		return kind
	}
	return models.FieldTypeUnknown
}
