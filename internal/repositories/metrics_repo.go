package repositories

import (
	"context"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MetricsRepo aggregates the daily performance import. It implements
// metrics.Provider.
type MetricsRepo struct {
	pool *pgxpool.Pool
}

func NewMetricsRepo(pool *pgxpool.Pool) *MetricsRepo {
	return &MetricsRepo{pool: pool}
}

// GetMetrics sums each entity's rows in rng. Recent holds the last day of the
// range only, and descriptive columns come from the entity's latest row.
func (r *MetricsRepo) GetMetrics(ctx context.Context, profileID string, scope models.EntityType, rng models.DateRange) ([]models.EntityMetrics, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT m.entity_id,
		       count(*)::int,
		       COALESCE(sum(m.spend), 0), COALESCE(sum(m.sales), 0),
		       COALESCE(sum(m.clicks), 0), COALESCE(sum(m.impressions), 0), COALESCE(sum(m.conversions), 0),
		       COALESCE(max(m.budget_utilization), 0),
		       COALESCE(sum(m.spend) FILTER (WHERE m.date = $4), 0),
		       COALESCE(sum(m.sales) FILTER (WHERE m.date = $4), 0),
		       COALESCE(sum(m.clicks) FILTER (WHERE m.date = $4), 0),
		       COALESCE(sum(m.impressions) FILTER (WHERE m.date = $4), 0),
		       COALESCE(sum(m.conversions) FILTER (WHERE m.date = $4), 0),
		       COALESCE(max(m.budget_utilization) FILTER (WHERE m.date = $4), 0),
		       l.campaign_id, l.ad_group_id, l.name, l.state, l.keyword_text, l.match_type,
		       l.current_bid_micros, l.current_budget_micros
		FROM entity_metrics_daily m
		JOIN LATERAL (
			SELECT campaign_id, ad_group_id, name, state, keyword_text, match_type,
			       current_bid_micros, current_budget_micros
			FROM entity_metrics_daily x
			WHERE x.profile_id = m.profile_id AND x.entity_type = m.entity_type AND x.entity_id = m.entity_id
			  AND x.date BETWEEN $3 AND $4
			ORDER BY x.date DESC
			LIMIT 1
		) l ON true
		WHERE m.profile_id = $1 AND m.entity_type = $2 AND m.date BETWEEN $3 AND $4
		GROUP BY m.entity_id, l.campaign_id, l.ad_group_id, l.name, l.state, l.keyword_text, l.match_type,
		         l.current_bid_micros, l.current_budget_micros
		ORDER BY m.entity_id
	`, profileID, scope, rng.From, rng.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EntityMetrics
	for rows.Next() {
		e := models.EntityMetrics{EntityType: scope}
		if err := rows.Scan(&e.EntityID, &e.Days,
			&e.Metrics.Spend, &e.Metrics.Sales, &e.Metrics.Clicks, &e.Metrics.Impressions, &e.Metrics.Conversions,
			&e.Metrics.BudgetUtilization,
			&e.Recent.Spend, &e.Recent.Sales, &e.Recent.Clicks, &e.Recent.Impressions, &e.Recent.Conversions,
			&e.Recent.BudgetUtilization,
			&e.CampaignID, &e.AdGroupID, &e.Name, &e.State, &e.KeywordText, &e.MatchType,
			&e.CurrentBidMicros, &e.CurrentBudgetMicros); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
