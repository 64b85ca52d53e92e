package engine

import (
	"context"
	"time"

	"fieldsync/internal/domain"
)

// FilterOptions narrows the organization's work items to a caller's
// downloadable working set. Categories combine with AND; values within
// a category with OR. Empty categories pass everything.
type FilterOptions struct {
	Scopes      []string // me, team, all
	Statuses    []string
	DateRange   string // today, week, month, all
	TemplateIDs []string
}

// AvailableItem is a work item enriched with its resolved template
// name for display in the client's download picker.
type AvailableItem struct {
	domain.WorkItem
	TemplateName string `json:"template_name,omitempty"`
}

var horizonDays = map[string]int{
	"today": 0,
	"week":  7,
	"month": 30,
}

// ListAvailable applies the availability filter over the caller's
// organization. Pure selection; no side effects.
func (e *Engine) ListAvailable(ctx context.Context, p Principal, opts FilterOptions) ([]AvailableItem, error) {
	items, err := e.Repo.ListOrgWorkItems(ctx, p.OrgID)
	if err != nil {
		return nil, err
	}
	var teamIDs []string
	for _, s := range opts.Scopes {
		if s == "team" {
			teamIDs, err = e.Repo.ListUserTeamIDs(ctx, p.UserID)
			if err != nil {
				return nil, err
			}
			break
		}
	}
	now := e.Now().UTC()

	var selected []domain.WorkItem
	for _, item := range items {
		if !matchesScope(item, p.UserID, opts.Scopes, teamIDs) {
			continue
		}
		if !matchesSet(item.Status, opts.Statuses) {
			continue
		}
		if !matchesHorizon(item.DueDate, now, opts.DateRange) {
			continue
		}
		if !matchesTemplate(item, opts.TemplateIDs) {
			continue
		}
		selected = append(selected, item)
	}

	templateNames := map[string]string{}
	result := make([]AvailableItem, 0, len(selected))
	for _, item := range selected {
		enriched := AvailableItem{WorkItem: item}
		if id := templateIDOf(item); id != "" {
			name, seen := templateNames[id]
			if !seen {
				if t, err := e.Repo.GetWorkflowTemplate(ctx, id); err == nil {
					name = t.Name
				}
				templateNames[id] = name
			}
			enriched.TemplateName = name
		}
		result = append(result, enriched)
	}
	return result, nil
}

func matchesScope(item domain.WorkItem, userID string, scopes, teamIDs []string) bool {
	if len(scopes) == 0 {
		return true
	}
	for _, scope := range scopes {
		switch scope {
		case "all":
			return true
		case "me":
			if item.AssignedTo != nil && *item.AssignedTo == userID {
				return true
			}
		case "team":
			if item.AssignedTo != nil && *item.AssignedTo == userID {
				return true
			}
			if item.TeamID != nil {
				for _, t := range teamIDs {
					if *item.TeamID == t {
						return true
					}
				}
			}
		}
	}
	return false
}

func matchesSet(value string, set []string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == value {
			return true
		}
	}
	return false
}

// matchesHorizon passes undated items; dated items must fall within
// the horizon's day count from now. Overdue items always pass.
func matchesHorizon(dueDate *string, now time.Time, dateRange string) bool {
	days, ok := horizonDays[dateRange]
	if !ok {
		return true
	}
	if dueDate == nil {
		return true
	}
	due, err := time.Parse(time.RFC3339, *dueDate)
	if err != nil {
		return true
	}
	diff := int(due.Sub(now).Hours() / 24)
	return diff <= days
}

// matchesTemplate is restrictive when the allow-list is non-empty and
// matches either template-identifying field on the item.
func matchesTemplate(item domain.WorkItem, templateIDs []string) bool {
	if len(templateIDs) == 0 {
		return true
	}
	for _, id := range templateIDs {
		if item.WorkflowTemplateID != nil && *item.WorkflowTemplateID == id {
			return true
		}
		if item.TemplateID != nil && *item.TemplateID == id {
			return true
		}
	}
	return false
}

func templateIDOf(item domain.WorkItem) string {
	if item.WorkflowTemplateID != nil {
		return *item.WorkflowTemplateID
	}
	if item.TemplateID != nil {
		return *item.TemplateID
	}
	return ""
}
