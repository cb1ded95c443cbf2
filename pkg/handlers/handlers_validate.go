package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arnavshah/shift-planner/pkg/models"
	"github.com/arnavshah/shift-planner/pkg/scheduler"
)

// ValidateTemplate checks a template definition without storing it and,
// when valid, reports what one week of it would produce
func (h *Handler) ValidateTemplate(c *gin.Context) {
	var tmpl models.ShiftTemplate
	if err := c.ShouldBindJSON(&tmpl); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	policy := h.Planner.Policy()
	if err := scheduler.ValidateTemplate(tmpl, policy.Handover); err != nil {
		c.JSON(http.StatusOK, gin.H{
			"valid":  false,
			"error":  err.Error(),
			"reason": scheduler.ReasonOf(err),
		})
		return
	}

	skills, err := h.Planner.Skills(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	for _, r := range tmpl.RequiredSkills {
		if _, ok := skills.Lookup(r.SkillID); !ok {
			c.JSON(http.StatusOK, gin.H{"valid": false, "error": "Unknown skill: " + r.SkillID, "reason": scheduler.ReasonMissingSkill})
			return
		}
	}

	// preview the coming week
	from := models.DayOf(h.now().In(policy.Location))
	instances, err := scheduler.Expand(tmpl, models.Period{From: from, To: from.AddDate(0, 0, 7)}, skills, policy.Handover, policy.Location)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error(), "reason": scheduler.ReasonOf(err)})
		return
	}

	var hours float64
	for _, inst := range instances {
		hours += inst.Window().Hours()
	}
	c.JSON(http.StatusOK, gin.H{
		"valid": true,
		"stats": gin.H{
			"instances_per_week": len(instances),
			"hours_per_week":     hours,
			"week_credit":        scheduler.WeekCredit(tmpl),
			"category_weight":    scheduler.CategoryWeight(tmpl, skills),
			"preview_from":       from.Format(time.DateOnly),
		},
	})
}
