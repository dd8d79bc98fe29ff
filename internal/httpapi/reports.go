package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"campaign-engine/internal/reporting"
	"campaign-engine/pkg/logger"

	"github.com/gin-gonic/gin"
)

type ReportService interface {
	CampaignSummary(ctx context.Context, req reporting.SummaryRequest) (reporting.CampaignSummary, error)
}

const defaultSummaryWindow = 24 * time.Hour

// Summary reports a campaign's outcome over ?from=&to= (RFC 3339), defaulting
// to the last day.
func (h Handlers) Summary(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	camp, ok := h.campaign(c, id)
	if !ok {
		return
	}
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "reporting not configured"})
		return
	}

	now := time.Now().UTC()
	tr := reporting.TimeRange{From: now.Add(-defaultSummaryWindow), To: now}
	for param, dst := range map[string]*time.Time{"from": &tr.From, "to": &tr.To} {
		v := c.Query(param)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": param + " must be RFC 3339"})
			return
		}
		*dst = t.UTC()
	}

	out, err := h.Reports.CampaignSummary(c.Request.Context(), reporting.SummaryRequest{
		WorkspaceID: id.WorkspaceID,
		CampaignID:  camp.ID,
		Range:       tr,
	})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("campaign summary failed", "campaign_id", camp.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}
