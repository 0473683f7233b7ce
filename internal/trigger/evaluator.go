// Package trigger implements the Trigger Evaluator (§4.10, optional
// component L): matches a newly created contact against a tenant's
// AutoEngagementFlows, first-match-wins by priority, and executes the
// matched flow's action sequence.
package trigger

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sddhantjaiii/callorch/internal/database"
	"github.com/sddhantjaiii/callorch/internal/queue"
)

// Evaluator matches contacts to flows and executes their actions.
type Evaluator struct {
	repo  *database.Repository
	queue *queue.Queue
}

// New constructs an Evaluator.
func New(repo *database.Repository, q *queue.Queue) *Evaluator {
	return &Evaluator{repo: repo, queue: q}
}

// Evaluate runs every enabled flow for contact.TenantID in priority order
// and executes the first one whose conditions all match (§4.10: AND within
// a flow, first-match-wins across flows). A do-not-call contact short
// circuits before any flow is considered (§12).
func (e *Evaluator) Evaluate(contact *database.Contact) error {
	if contact.IsDNC() {
		log.Debug().Int64("contact_id", contact.ID).Msg("contact is do-not-call, skipping trigger evaluation")
		return nil
	}

	flows, err := e.repo.ListEnabledFlows(contact.TenantID)
	if err != nil {
		return fmt.Errorf("listing flows for tenant %d: %w", contact.TenantID, err)
	}

	for _, flow := range flows {
		if matches(flow.Conditions, contact) {
			return e.execute(flow, contact)
		}
	}
	return nil
}

// matches reports whether every TriggerCondition holds for contact (AND
// semantics, §4.10).
func matches(conditions []database.TriggerCondition, contact *database.Contact) bool {
	for _, c := range conditions {
		if !matchOne(c, contact) {
			return false
		}
	}
	return true
}

func fieldValue(field string, contact *database.Contact) interface{} {
	switch field {
	case "name":
		return contact.Name
	case "email":
		return contact.Email
	case "company":
		return contact.Company
	case "phone":
		return contact.Phone
	case "tags":
		return contact.Tags
	case "auto_creation_source":
		return contact.AutoCreationSource
	default:
		return nil
	}
}

func matchOne(cond database.TriggerCondition, contact *database.Contact) bool {
	actual := fieldValue(cond.Field, contact)
	switch cond.Operator {
	case "equals":
		s, ok := actual.(string)
		want, wok := cond.Value.(string)
		return ok && wok && s == want
	case "not-equals":
		s, ok := actual.(string)
		want, wok := cond.Value.(string)
		return ok && wok && s != want
	case "contains":
		s, ok := actual.(string)
		want, wok := cond.Value.(string)
		return ok && wok && strings.Contains(s, want)
	case "any":
		tags, ok := actual.([]string)
		want, wok := cond.Value.(string)
		if !ok || !wok {
			return false
		}
		for _, t := range tags {
			if t == want {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// execute runs a flow's actions in order. A "wait" action ends execution
// for this pass; the remaining steps are not modeled as a durable
// schedule in this component (§4.10 Non-goals: no persisted multi-step
// campaign state machine here, only the immediate dispatch actions).
func (e *Evaluator) execute(flow *database.AutoEngagementFlow, contact *database.Contact) error {
	for _, action := range flow.Actions {
		switch action.Kind {
		case database.ActionCall:
			if _, err := e.queue.EnqueueDirect(queue.EnqueueDirectRequest{
				TenantID:  contact.TenantID,
				ContactID: &contact.ID,
				Phone:     contact.Phone,
			}); err != nil {
				return fmt.Errorf("enqueuing trigger call for contact %d: %w", contact.ID, err)
			}
		case database.ActionMessage, database.ActionEmail:
			log.Info().Int64("contact_id", contact.ID).Str("kind", action.Kind).Msg("trigger action kind not yet wired to a delivery channel")
		case database.ActionWait:
			log.Debug().Int64("contact_id", contact.ID).Str("flow", flow.Name).Msg("flow reached a wait step, stopping this pass")
			return nil
		}
	}
	return nil
}
