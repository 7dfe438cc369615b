package trigger

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/caseworks/docpipe/internal/model"
)

// packFile is the on-disk YAML shape of a trigger pack.
type packFile struct {
	ID       string        `yaml:"id"`
	Name     string        `yaml:"name"`
	Triggers []triggerSpec `yaml:"triggers"`
}

type triggerSpec struct {
	ID        string     `yaml:"id"`
	Type      string     `yaml:"type"`
	Name      string     `yaml:"name"`
	Condition clauseSpec `yaml:"condition"`
	Action    actionSpec `yaml:"action"`
}

type clauseSpec struct {
	Field     string  `yaml:"field"`
	Category  string  `yaml:"category"`
	Operator  string  `yaml:"operator"`
	Value     string  `yaml:"value"`
	Threshold float64 `yaml:"threshold"`
	Days      int     `yaml:"days"`
}

type actionSpec struct {
	Type      string `yaml:"type"`
	Title     string `yaml:"title"`
	Detail    string `yaml:"detail"`
	DueInDays int    `yaml:"due_in_days"`
}

// LoadPackDir parses every .yaml/.yml file in dir into triggers. Files are
// read in lexical order so pack precedence is stable. Individual malformed
// triggers are logged and skipped; a malformed file fails the whole load.
func LoadPackDir(dir string) ([]Trigger, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrap(err, "trigger: reading pack directory")
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var triggers []Trigger
	for _, name := range names {
		loaded, err := LoadPack(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, loaded...)
	}
	return triggers, nil
}

// LoadPack parses a single pack file.
func LoadPack(path string) ([]Trigger, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "trigger: reading pack file")
	}

	var pf packFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, eris.Wrapf(err, "trigger: parsing pack file %s", filepath.Base(path))
	}

	triggers := make([]Trigger, 0, len(pf.Triggers))
	for _, spec := range pf.Triggers {
		tr, err := buildTrigger(pf.ID, spec)
		if err != nil {
			zap.L().Warn("trigger: skipping malformed trigger",
				zap.String("pack", pf.ID),
				zap.String("trigger", spec.ID),
				zap.Error(err))
			continue
		}
		triggers = append(triggers, tr)
	}
	return triggers, nil
}

func buildTrigger(packID string, spec triggerSpec) (Trigger, error) {
	if spec.ID == "" {
		return Trigger{}, eris.New("missing trigger id")
	}
	if spec.Condition.Field == "" {
		return Trigger{}, eris.New("missing condition field")
	}

	clause, err := buildClause(spec.Condition)
	if err != nil {
		return Trigger{}, err
	}

	actionType := model.ActionType(spec.Action.Type)
	switch actionType {
	case model.ActionTask, model.ActionDeadline, model.ActionAlert:
	default:
		return Trigger{}, eris.Errorf("unknown action type %q", spec.Action.Type)
	}
	if spec.Action.Title == "" {
		return Trigger{}, eris.New("missing action title")
	}

	return Trigger{
		ID:          spec.ID,
		PackID:      packID,
		TriggerType: spec.Type,
		Name:        spec.Name,
		Condition: Condition{
			FieldKey:    spec.Condition.Field,
			CategoryKey: spec.Condition.Category,
			Clause:      clause,
		},
		Action: ActionTemplate{
			ActionType: actionType,
			Title:      spec.Action.Title,
			Detail:     spec.Action.Detail,
			DueInDays:  spec.Action.DueInDays,
		},
		Deterministic: true,
	}, nil
}

func buildClause(c clauseSpec) (Clause, error) {
	switch Operator(c.Operator) {
	case OpExists:
		return ExistsClause{}, nil
	case OpEquals:
		if c.Value == "" {
			return nil, eris.New("equals requires a value")
		}
		return EqualsClause{Value: c.Value}, nil
	case OpContains:
		if c.Value == "" {
			return nil, eris.New("contains requires a value")
		}
		return ContainsClause{Value: c.Value}, nil
	case OpGreaterThan:
		return GreaterThanClause{Threshold: c.Threshold}, nil
	case OpDateWithinDays:
		if c.Days <= 0 {
			return nil, eris.New("date_within_days requires a positive day count")
		}
		return DateWithinClause{Days: c.Days}, nil
	default:
		return nil, eris.Errorf("unknown operator %q", c.Operator)
	}
}
