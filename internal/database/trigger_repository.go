package database

import (
	"encoding/json"
	"fmt"
)

// ListEnabledFlows returns a tenant's AutoEngagementFlows ordered by
// priority ascending, the evaluation order for the Trigger Evaluator's
// first-match-wins rule (§4.10).
func (r *Repository) ListEnabledFlows(tenantID int64) ([]*AutoEngagementFlow, error) {
	const q = `
		SELECT id, tenant_id, name, priority, enabled, conditions, actions, created_at
		FROM auto_engagement_flows WHERE tenant_id = $1 AND enabled = true
		ORDER BY priority ASC, id ASC
	`
	rows, err := r.conn.DB.Query(q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing enabled flows for tenant %d: %w", tenantID, err)
	}
	defer rows.Close()

	var out []*AutoEngagementFlow
	for rows.Next() {
		var f AutoEngagementFlow
		var conditions, actions []byte
		if err := rows.Scan(&f.ID, &f.TenantID, &f.Name, &f.Priority, &f.Enabled, &conditions, &actions, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning flow: %w", err)
		}
		if err := json.Unmarshal(conditions, &f.Conditions); err != nil {
			return nil, fmt.Errorf("decoding flow %d conditions: %w", f.ID, err)
		}
		if err := json.Unmarshal(actions, &f.Actions); err != nil {
			return nil, fmt.Errorf("decoding flow %d actions: %w", f.ID, err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}
