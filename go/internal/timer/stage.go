package timer

import (
	"github.com/directorio/directorio/go/internal/models"
)

// DefaultBackground is used when a stage has no color thresholds.
const DefaultBackground = "#111827"

// Stage is the runtime view of a configured stage.
type Stage struct {
	Title        string                  `json:"title"`
	DurationSec  int                     `json:"durationSec"`
	Colors       []models.ColorThreshold `json:"colors,omitempty"`
	AlertColor   string                  `json:"alertColor,omitempty"`
	AlertLeadSec int                     `json:"alertLeadSec,omitempty"`
}

// StagesFromModels converts persisted stages, assumed ordered by order index.
func StagesFromModels(in []models.Stage) []Stage {
	out := make([]Stage, 0, len(in))
	for _, s := range in {
		st := Stage{
			Title:       s.Title,
			DurationSec: s.DurationSec,
			Colors:      s.Colors,
		}
		if st.DurationSec < 0 {
			st.DurationSec = 0
		}
		if s.AlertColor != nil {
			st.AlertColor = *s.AlertColor
		}
		if s.AlertLeadSec != nil {
			st.AlertLeadSec = *s.AlertLeadSec
		}
		out = append(out, st)
	}
	return out
}

// ColorAt returns the background for a stage given the seconds elapsed and
// remaining in it. The alert color wins inside the alert window; otherwise
// the threshold with the greatest value not exceeding elapsed applies.
func (s Stage) ColorAt(elapsed, remaining int, fallback string) string {
	if s.AlertColor != "" && s.AlertLeadSec > 0 && remaining <= s.AlertLeadSec {
		return s.AlertColor
	}

	color := fallback
	best := -1
	for _, c := range s.Colors {
		at := c.At
		if c.Unit == models.ThresholdUnitPercent {
			at = c.At * s.DurationSec / 100
		}
		if at <= elapsed && at >= best {
			best = at
			color = c.Color
		}
	}
	return color
}
