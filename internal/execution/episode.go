package execution

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/jadfawaz742/ai-trader-alchemy-sub004/internal/models"
)

// OpenEpisode builds the open episode recorded when a signal executes.
// Returns nil when there is no usable entry price.
func OpenEpisode(sig models.Signal, exec *models.Execution, order Order, at time.Time) *models.Episode {
	if exec == nil || !exec.ExecutedPrice.IsPositive() {
		return nil
	}
	qty := exec.ExecutedQty
	if !qty.IsPositive() {
		qty = order.Qty
	}
	meta := models.EpisodeMetadata{Confidence: sig.Confidence}
	if sig.Annotation != nil {
		meta.Annotation = *sig.Annotation
	}
	if exec.Status == models.ExecutionStatusDuplicate {
		meta.Annotation = models.AnnotationDuplicate
	}
	raw, _ := json.Marshal(meta)
	return &models.Episode{
		SignalID:   sig.ID,
		UserID:     sig.UserID,
		Asset:      sig.Asset,
		Version:    sig.ModelVersion,
		Mode:       exec.Mode,
		Side:       sig.Side,
		Status:     models.EpisodeStatusOpen,
		Qty:        qty,
		EntryPrice: exec.ExecutedPrice,
		SL:         order.SL,
		TP:         order.TP,
		StartTS:    at,
		Metadata:   datatypes.JSON(raw),
	}
}
