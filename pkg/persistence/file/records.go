package file

import (
	"context"
	"sort"

	"github.com/marketloop/funneld/pkg/models"
	"github.com/marketloop/funneld/pkg/persistence"
)

func (p *Persistence) SaveGoalConversion(_ context.Context, conversion *models.GoalConversion) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.write("conversions", conversion.ID, conversion)
}

func (p *Persistence) GoalConversionsByFunnel(_ context.Context, funnelID string) ([]*models.GoalConversion, error) {
	var conversions []*models.GoalConversion

	err := readAll(p, "conversions", func(conversion *models.GoalConversion) {
		if conversion.FunnelID == funnelID {
			conversions = append(conversions, conversion)
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(conversions, func(i, j int) bool {
		return conversions[i].ConvertedAt.Before(conversions[j].ConvertedAt)
	})

	return conversions, nil
}

func (p *Persistence) SaveExternalTask(_ context.Context, task *models.ExternalTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// One record per (funnel, subscriber, task); re-completion overwrites.
	return p.write("tasks", task.FunnelID+"-"+task.SubscriberID+"-"+task.TaskID, task)
}

func (p *Persistence) ExternalTask(_ context.Context, funnelID, subscriberID, taskID string) (*models.ExternalTask, error) {
	var found *models.ExternalTask

	err := readAll(p, "tasks", func(task *models.ExternalTask) {
		if task.FunnelID == funnelID && task.SubscriberID == subscriberID && task.TaskID == taskID {
			found = task
		}
	})
	if err != nil {
		return nil, err
	}

	if found == nil {
		return nil, persistence.ErrExternalTaskNotFound
	}

	return found, nil
}

func (p *Persistence) ExternalTasks(_ context.Context, funnelID, subscriberID string) ([]models.ExternalTask, error) {
	var tasks []models.ExternalTask

	err := readAll(p, "tasks", func(task *models.ExternalTask) {
		if task.FunnelID == funnelID && task.SubscriberID == subscriberID {
			tasks = append(tasks, *task)
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CompletedAt.Before(tasks[j].CompletedAt)
	})

	return tasks, nil
}
