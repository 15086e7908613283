// Package config provides configuration loading for funnel definition files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/marketloop/funneld/pkg/models"
)

// FunnelFile is the YAML shape of a funnel definition file. It mirrors the
// gateway's create payload, so the same definition can be seeded from disk
// or posted over HTTP.
type FunnelFile struct {
	Name         string     `yaml:"name"`
	Slug         string     `yaml:"slug"`
	Description  string     `yaml:"description"`
	AllowReentry bool       `yaml:"allow_reentry"`
	Steps        []StepFile `yaml:"steps"`
}

// StepFile is one step entry in a funnel definition file.
type StepFile struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"`

	DelayValue int    `yaml:"delay_value"`
	DelayUnit  string `yaml:"delay_unit"`

	Condition *ConditionFile `yaml:"condition"`

	ActionKind    string         `yaml:"action_kind"`
	ActionConfig  map[string]any `yaml:"action_config"`
	FailureStepID string         `yaml:"failure_step_id"`

	GoalName  string  `yaml:"goal_name"`
	GoalKind  string  `yaml:"goal_kind"`
	GoalValue float64 `yaml:"goal_value"`

	NextStepID string `yaml:"next_step_id"`
	YesStepID  string `yaml:"yes_step_id"`
	NoStepID   string `yaml:"no_step_id"`
}

// ConditionFile is the YAML shape of a CONDITION step's predicate.
type ConditionFile struct {
	Kind     string `yaml:"kind"`
	Tag      string `yaml:"tag"`
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    any    `yaml:"value"`
	TaskID   string `yaml:"task_id"`
}

// LoadFunnel loads and validates a single funnel definition from a YAML
// file. The resulting funnel is created in draft status; activation is a
// separate, deliberate transition.
func LoadFunnel(path string) (*models.Funnel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read funnel file %s: %w", path, err)
	}

	var file FunnelFile

	err = yaml.Unmarshal(data, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse funnel file %s: %w", path, err)
	}

	funnel, err := file.ToFunnel()
	if err != nil {
		return nil, fmt.Errorf("invalid funnel definition in %s: %w", path, err)
	}

	return funnel, nil
}

// LoadFunnelDir loads every *.yaml and *.yml funnel definition under dir,
// in lexical order.
func LoadFunnelDir(dir string) ([]*models.Funnel, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read funnel directory %s: %w", dir, err)
	}

	var paths []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}

	sort.Strings(paths)

	funnels := make([]*models.Funnel, 0, len(paths))

	for _, path := range paths {
		funnel, err := LoadFunnel(path)
		if err != nil {
			return nil, err
		}

		funnels = append(funnels, funnel)
	}

	return funnels, nil
}

// ToFunnel converts the file representation into a validated draft funnel.
// The first listed step is the start step.
func (f *FunnelFile) ToFunnel() (*models.Funnel, error) {
	if len(f.Steps) == 0 {
		return nil, fmt.Errorf("%w: funnel has no steps", models.ErrInvalidFunnelGraph)
	}

	now := time.Now().UTC()

	funnel := &models.Funnel{
		ID:           uuid.New().String(),
		Name:         f.Name,
		Slug:         f.Slug,
		Description:  f.Description,
		Status:       models.FunnelStatusDraft,
		StartStepID:  f.Steps[0].ID,
		AllowReentry: f.AllowReentry,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	funnel.Steps = make([]*models.Step, 0, len(f.Steps))

	for _, stepFile := range f.Steps {
		step := &models.Step{
			ID:            stepFile.ID,
			FunnelID:      funnel.ID,
			Type:          models.StepType(stepFile.Type),
			DelayValue:    stepFile.DelayValue,
			DelayUnit:     models.DelayUnit(stepFile.DelayUnit),
			ActionKind:    models.ActionKind(stepFile.ActionKind),
			ActionConfig:  stepFile.ActionConfig,
			FailureStepID: stepFile.FailureStepID,
			GoalName:      stepFile.GoalName,
			GoalKind:      stepFile.GoalKind,
			GoalValue:     stepFile.GoalValue,
			NextStepID:    stepFile.NextStepID,
			YesStepID:     stepFile.YesStepID,
			NoStepID:      stepFile.NoStepID,
		}

		if stepFile.Condition != nil {
			step.Condition = &models.Condition{
				Kind:     models.ConditionKind(stepFile.Condition.Kind),
				Tag:      stepFile.Condition.Tag,
				Field:    stepFile.Condition.Field,
				Operator: models.FieldOperator(stepFile.Condition.Operator),
				Value:    stepFile.Condition.Value,
				TaskID:   stepFile.Condition.TaskID,
			}
		}

		funnel.Steps = append(funnel.Steps, step)
	}

	err := funnel.Validate()
	if err != nil {
		return nil, err
	}

	return funnel, nil
}
