package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const valueRulesTable = "value_mapping_rules"

var valueRuleStruct = database.NewStruct(new(models.ValueMappingRule))

// ValueRuleRepository handles the ordered value mapping rules under an app
// mapping. Rule order is load-bearing: evaluation picks the first active match.
type ValueRuleRepository struct {
	*Repository
}

// NewValueRuleRepository creates a new value rule repository
func NewValueRuleRepository(db database.DB, logger ectologger.Logger) *ValueRuleRepository {
	return &ValueRuleRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create appends a rule at the end of the order for its target field
func (r *ValueRuleRepository) Create(ctx context.Context, rule *models.ValueMappingRule) error {
	ctx, span := tracing.StartSpan(ctx, "ValueRuleRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	rule.TenantID = tenantID

	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(valueRulesTable).
		Cols("id", "tenant_id", "app_mapping_id", "target_field", "source_value", "target_value",
			"is_active", "sort_order", "created_at", "updated_at").
		Values(rule.ID, rule.TenantID, rule.AppMappingID, rule.TargetField, rule.SourceValue, rule.TargetValue,
			rule.IsActive,
			sqlbuilder.Buildf("COALESCE((SELECT MAX(sort_order) + 1 FROM value_mapping_rules WHERE tenant_id = %v AND app_mapping_id = %v AND target_field = %v), 0)",
				tenantID, rule.AppMappingID, rule.TargetField),
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("sort_order", "created_at", "updated_at")

	query, args := ib.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&rule.SortOrder, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"app_mapping_id": rule.AppMappingID,
			"target_field":   rule.TargetField,
		}).Error("failed to create value mapping rule")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create value mapping rule")
	}

	return nil
}

// Update updates a rule's values and active flag
func (r *ValueRuleRepository) Update(ctx context.Context, rule *models.ValueMappingRule) error {
	ctx, span := tracing.StartSpan(ctx, "ValueRuleRepository.Update")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(valueRulesTable).
		Set(
			ub.Assign("source_value", rule.SourceValue),
			ub.Assign("target_value", rule.TargetValue),
			ub.Assign("is_active", rule.IsActive),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", rule.ID))
	ub.SQL("RETURNING updated_at")

	query, args := ub.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&rule.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "value mapping rule %s does not exist", rule.ID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"rule_id": rule.ID,
		}).Error("failed to update value mapping rule")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update value mapping rule")
	}

	return nil
}

// Delete removes a rule
func (r *ValueRuleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "ValueRuleRepository.Delete")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(valueRulesTable).
		Where(db.Equal("tenant_id", tenantID), db.Equal("id", id))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"rule_id": id,
		}).Error("failed to delete value mapping rule")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete value mapping rule")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete value mapping rule")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "value mapping rule %s does not exist", id)
	}

	return nil
}

// List retrieves all rules under an app mapping in evaluation order
func (r *ValueRuleRepository) List(ctx context.Context, appMappingID uuid.UUID) ([]models.ValueMappingRule, error) {
	ctx, span := tracing.StartSpan(ctx, "ValueRuleRepository.List")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := valueRuleStruct.SelectFrom(valueRulesTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("app_mapping_id", appMappingID))
	sb.OrderBy("target_field", "sort_order")

	query, args := sb.Build()
	var rules []models.ValueMappingRule
	if err := r.DB().SelectContext(ctx, &rules, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"app_mapping_id": appMappingID,
		}).Error("failed to list value mapping rules")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list value mapping rules")
	}

	return rules, nil
}

// Reorder rewrites the sort order for one target field's rules. ruleIDs must
// contain every rule of that field exactly once.
func (r *ValueRuleRepository) Reorder(ctx context.Context, appMappingID uuid.UUID, targetField string, ruleIDs []uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "ValueRuleRepository.Reorder")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	sb := valueRuleStruct.SelectFrom(valueRulesTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("app_mapping_id", appMappingID), sb.Equal("target_field", targetField))
	query, args := sb.Build()

	var existing []models.ValueMappingRule
	if err := r.DB().SelectContext(ctx, &existing, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"app_mapping_id": appMappingID,
			"target_field":   targetField,
		}).Error("failed to load rules for reorder")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to reorder value mapping rules")
	}

	if len(ruleIDs) != len(existing) {
		return httperror.NewHTTPErrorf(http.StatusBadRequest,
			"reorder must include all %d rules for field %q", len(existing), targetField)
	}
	known := make(map[uuid.UUID]bool, len(existing))
	for _, rule := range existing {
		known[rule.ID] = true
	}
	for _, id := range ruleIDs {
		if !known[id] {
			return httperror.NewHTTPErrorf(http.StatusBadRequest, "rule %s does not belong to field %q", id, targetField)
		}
		delete(known, id)
	}

	txCtx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to reorder value mapping rules")
	}
	defer tx.Rollback(ctx)

	for position, id := range ruleIDs {
		ub := database.NewUpdateBuilder()
		ub.Update(valueRulesTable).
			Set(
				ub.Assign("sort_order", position),
				ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
			).
			Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", id))

		query, args := ub.Build()
		if _, err := tx.ExecContext(txCtx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"rule_id": id,
			}).Error("failed to reorder value mapping rule")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to reorder value mapping rules")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to reorder value mapping rules")
	}

	return nil
}
