package drawer

import (
	"github.com/pkg/errors"

	"github.com/askiada/go-orchestrator/pkg/pipeline"
	"github.com/askiada/go-orchestrator/pkg/pipeline/measure"
	"github.com/askiada/go-orchestrator/pkg/pipeline/model"
)

const (
	StartStep = "start"
	EndStep   = "end"
)

// StepID returns the vertex of a step. It matches the metric name of the step.
func StepID(step model.StepInfo) string {
	return measure.Name(step)
}

// CaseID returns the vertex of a branch case.
func CaseID(branchID, key string) string {
	return branchID + "#" + key
}

// AddLayout adds the steps of a layout between a start and an end vertex.
func AddLayout(d Drawer, nodes []model.Node) error {
	err := d.AddStep(StartStep, model.StepInfo{Name: StartStep})
	if err != nil {
		return errors.Wrap(err, "unable to add start step to drawer")
	}

	tails := []string{StartStep}
	for _, node := range nodes {
		tails, err = addNode(d, "", node, tails)
		if err != nil {
			return err
		}
	}

	err = d.AddStep(EndStep, model.StepInfo{Name: EndStep})
	if err != nil {
		return errors.Wrap(err, "unable to add end step to drawer")
	}

	return link(d, tails, EndStep)
}

// addNode adds node after the vertices in prev and returns the vertices the next step follows.
func addNode(d Drawer, parent string, node model.Node, prev []string) ([]string, error) {
	info := node.Info
	info.Parent = parent
	id := StepID(info)
	if err := d.AddStep(id, info); err != nil {
		return nil, err
	}
	if err := link(d, prev, id); err != nil {
		return nil, err
	}

	switch info.Kind {
	case model.BranchKind:
		return addBranch(d, id, node)
	case model.ParallelKind:
		var tails []string
		for _, child := range node.Children {
			childTails, err := addNode(d, info.Name, child, []string{id})
			if err != nil {
				return nil, err
			}
			tails = append(tails, childTails...)
		}
		if len(tails) == 0 {
			tails = []string{id}
		}

		return tails, nil
	default:
		return []string{id}, nil
	}
}

// addBranch adds one path per case. Without a default case the branch itself may be the last step run.
func addBranch(d Drawer, id string, node model.Node) ([]string, error) {
	var (
		tails       []string
		hasFallback bool
	)
	for _, c := range node.Children {
		caseID := CaseID(id, c.Info.Name)
		if err := d.AddStep(caseID, c.Info); err != nil {
			return nil, err
		}
		if err := d.AddLink(id, caseID); err != nil {
			return nil, err
		}
		if c.Info.Name == pipeline.DefaultBranchKey {
			hasFallback = true
		}
		prev := []string{caseID}
		for _, child := range c.Children {
			var err error
			// operations of a case report the branch as their parent
			prev, err = addNode(d, node.Info.Name, child, prev)
			if err != nil {
				return nil, err
			}
		}
		tails = append(tails, prev...)
	}
	if !hasFallback {
		tails = append(tails, id)
	}

	return tails, nil
}

func link(d Drawer, parents []string, child string) error {
	for _, parent := range parents {
		if err := d.AddLink(parent, child); err != nil {
			return err
		}
	}

	return nil
}
