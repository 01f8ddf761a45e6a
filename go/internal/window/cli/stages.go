package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/directorio/directorio/go/internal/meetings"
	"github.com/directorio/directorio/go/internal/timer"
)

// loadStagesCSV reads a title,duration file.
func loadStagesCSV(path string) ([]timer.Stage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stages file: %w", err)
	}
	defer f.Close()

	reqs, err := meetings.ParseStagesCSV(f)
	if err != nil {
		return nil, err
	}
	out := make([]timer.Stage, 0, len(reqs))
	for _, r := range reqs {
		st := timer.Stage{
			Title:       r.Title,
			DurationSec: r.DurationSec,
			Colors:      r.Colors,
		}
		if r.AlertColor != nil {
			st.AlertColor = *r.AlertColor
		}
		if r.AlertLeadSec != nil {
			st.AlertLeadSec = *r.AlertLeadSec
		}
		out = append(out, st)
	}
	return out, nil
}

// fetchStages loads the ordered stages of a meeting from the meetings API.
func fetchStages(ctx context.Context, client *http.Client, apiURL string, meetingID uuid.UUID) ([]timer.Stage, error) {
	url := strings.TrimRight(apiURL, "/") + "/api/meetings/" + meetingID.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch meeting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		if body.Error != "" {
			return nil, fmt.Errorf("fetch meeting: %s (%d)", body.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("fetch meeting: unexpected status %d", resp.StatusCode)
	}

	var m meetings.MeetingWithStages
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode meeting: %w", err)
	}
	return timer.StagesFromModels(m.Stages), nil
}
