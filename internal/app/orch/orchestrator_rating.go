package orch

import (
	"context"

	"github.com/dkeye/Tasting/internal/core"
	"github.com/dkeye/Tasting/internal/domain"
	"github.com/dkeye/Tasting/internal/metrics"
	"github.com/rs/zerolog/log"
)

// UpdateRating stores the caller's score for one product and broadcasts
// the new average. Presence only reflects ratings the store accepted.
func (o *Orchestrator) UpdateRating(ctx context.Context, c *core.Client, cmd UpdateRating) error {
	if cmd.Rating == nil {
		return domain.Validation("invalid_rating", "Rating is required")
	}
	value := *cmd.Rating
	if value < 0 || value > 10 {
		return domain.Validation("invalid_rating", "Rating must be between 0 and 10")
	}
	idx := 0
	if cmd.ProductIndex != nil {
		idx = *cmd.ProductIndex
	}

	unlock := o.Registry.Lock(cmd.SessionID)
	defer unlock()

	s, err := o.joinedSession(ctx, c, cmd.SessionID)
	if err != nil {
		return err
	}
	if o.refuseKicked(c, s.ID, "update_rating") {
		return nil
	}
	now := o.now()
	if s.IsReadOnly(now, o.opts.ReadOnlyAfter) {
		return errReadOnly
	}
	if !s.HasProduct(idx) {
		return domain.Validation("invalid_product", "Unknown product")
	}

	err = o.Store.UpsertRating(ctx, domain.Rating{
		SessionID:    s.ID,
		UserID:       c.User.ID,
		ProductIndex: idx,
		Value:        value,
		UpdatedAt:    now,
	})
	if err != nil {
		return domain.Persistence("Could not save rating", err)
	}
	o.Registry.Presence.UpdateRating(s.ID, c.User.ID, idx, value)

	avg, err := o.Store.AverageRating(ctx, s.ID, idx)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("session", string(s.ID)).Int("product", idx).Msg("average rating")
	} else {
		o.broadcast(s.ID, RatingUpdated{
			Type:         EvRatingUpdated,
			SessionID:    s.ID,
			UserID:       c.User.ID,
			ProductIndex: idx,
			Average:      avg.Average,
			Count:        avg.Count,
		})
	}
	o.touch(ctx, s.ID)
	metrics.RecordCommand("update_rating", metrics.OutcomeOK)
	return nil
}
