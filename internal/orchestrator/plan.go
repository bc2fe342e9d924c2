package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mbranton/hive/internal/bus"
	"github.com/mbranton/hive/pkg/models"
)

// planDoc is the product owner's decomposition, reported as a JSON object in
// its completion summary.
type planDoc struct {
	Epics []planEpic `json:"epics"`
}

type planEpic struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Priority    string      `json:"priority,omitempty"`
	Stories     []planStory `json:"stories"`
}

type planStory struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	StoryPoints        int      `json:"story_points,omitempty"`
	Priority           string   `json:"priority,omitempty"`
	DependsOn          []string `json:"depends_on,omitempty"`
	Foundation         bool     `json:"foundation,omitempty"`
}

// parsePlan extracts the JSON plan from the product owner's completion
// summary, tolerating surrounding prose and markdown fences.
func parsePlan(summary string) (*planDoc, error) {
	start := strings.Index(summary, "{")
	end := strings.LastIndex(summary, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("plan output contains no JSON object")
	}

	var doc planDoc
	if err := json.Unmarshal([]byte(summary[start:end+1]), &doc); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if len(doc.Epics) == 0 {
		return nil, fmt.Errorf("plan contains no epics")
	}
	return &doc, nil
}

// applyPlan loads the decomposition into the backlog and announces each epic
// and story on the bus. Stories are inserted in dependency order, so a plan
// may list a story before the stories it depends on.
func (s *Session) applyPlan(doc *planDoc) error {
	epicSeq := 0
	storySeq := 0

	type pending struct {
		epicID string
		story  planStory
	}
	var remaining []pending

	for i := range doc.Epics {
		pe := &doc.Epics[i]
		epicSeq++
		if pe.ID == "" {
			pe.ID = fmt.Sprintf("epic-%d", epicSeq)
		}
		epic := &models.Epic{
			ID:          pe.ID,
			Title:       pe.Title,
			Description: pe.Description,
			Priority:    parsePriority(pe.Priority),
		}
		if err := s.Backlog.AddEpic(epic); err != nil {
			return err
		}
		s.emit(bus.EpicCreated{Stamp: bus.Now(), EpicID: epic.ID, Title: epic.Title})

		for j := range pe.Stories {
			ps := pe.Stories[j]
			storySeq++
			if ps.ID == "" {
				ps.ID = fmt.Sprintf("story-%d", storySeq)
			}
			remaining = append(remaining, pending{epicID: epic.ID, story: ps})
		}
	}

	inserted := make(map[string]bool, len(remaining))
	for len(remaining) > 0 {
		progress := false
		var blocked []pending

		for _, p := range remaining {
			ready := true
			for _, depID := range p.story.DependsOn {
				if !inserted[depID] {
					ready = false
					break
				}
			}
			if !ready {
				blocked = append(blocked, p)
				continue
			}

			story := &models.Story{
				ID:                 p.story.ID,
				EpicID:             p.epicID,
				Title:              p.story.Title,
				Description:        p.story.Description,
				AcceptanceCriteria: p.story.AcceptanceCriteria,
				StoryPoints:        p.story.StoryPoints,
				Priority:           parsePriority(p.story.Priority),
				Status:             models.StoryStatusPending,
				DependsOn:          p.story.DependsOn,
				Foundation:         p.story.Foundation,
			}
			if err := s.Backlog.AddStory(story); err != nil {
				return err
			}
			inserted[story.ID] = true
			progress = true
			s.emit(bus.TaskCreated{Stamp: bus.Now(), ID: story.ID, Title: story.Title, Status: story.Status})
		}

		if !progress {
			ids := make([]string, 0, len(blocked))
			for _, p := range blocked {
				ids = append(ids, p.story.ID)
			}
			return fmt.Errorf("plan has unknown or circular dependencies among %s", strings.Join(ids, ", "))
		}
		remaining = blocked
	}

	return nil
}

func parsePriority(p string) models.Priority {
	pr := models.Priority(strings.ToLower(strings.TrimSpace(p)))
	if pr.Valid() {
		return pr
	}
	return models.PriorityMedium
}
