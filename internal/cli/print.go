package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/askiada/go-orchestrator/pkg/checkpoint"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

// row is the printed form of a checkpoint. The state is left out.
type row struct {
	ID           string            `json:"id" yaml:"id"`
	ExecutionID  string            `json:"execution_id" yaml:"execution_id"`
	PipelineName string            `json:"pipeline" yaml:"pipeline"`
	StepIndex    int               `json:"step_index" yaml:"step_index"`
	StepName     string            `json:"step_name" yaml:"step_name"`
	Status       checkpoint.Status `json:"status" yaml:"status"`
	Error        string            `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt    time.Time         `json:"created_at" yaml:"created_at"`
	Metadata     map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func printCheckpoints(w io.Writer, output string, cps []*checkpoint.Checkpoint) error {
	rows := make([]row, len(cps))
	for i, cp := range cps {
		rows[i] = row{
			ID:           cp.ID,
			ExecutionID:  cp.ExecutionID,
			PipelineName: cp.PipelineName,
			StepIndex:    cp.StepIndex,
			StepName:     cp.StepName,
			Status:       cp.Status,
			Error:        cp.Error,
			CreatedAt:    cp.CreatedAt,
			Metadata:     cp.Metadata,
		}
	}

	switch output {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return errors.Wrap(enc.Encode(rows), "unable to encode checkpoints")
	case outputYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()

		return errors.Wrap(enc.Encode(rows), "unable to encode checkpoints")
	default:
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tEXECUTION\tPIPELINE\tSTEP\tSTATUS\tCREATED\tERROR")
		for _, r := range rows {
			step := strconv.Itoa(r.StepIndex)
			if r.StepName != "" {
				step += ":" + r.StepName
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.ExecutionID, r.PipelineName, step, r.Status, r.CreatedAt.Format(time.RFC3339), r.Error)
		}

		return errors.Wrap(tw.Flush(), "unable to print checkpoints")
	}
}
