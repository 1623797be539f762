package drawer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"text/template"
	"time"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
	"gopkg.in/go-playground/colors.v1" //nolint

	"github.com/askiada/go-orchestrator/internal/graphstore"
	"github.com/askiada/go-orchestrator/pkg/pipeline/measure"
	"github.com/askiada/go-orchestrator/pkg/pipeline/model"
)

// DOTDrawer renders the pipeline graph in the DOT language.
type DOTDrawer struct {
	graph graph.Graph[string, string]
	store graphstore.CustomStore[string, string]
}

// NewDOTDrawer creates a new DOT drawer.
func NewDOTDrawer() *DOTDrawer {
	s := graphstore.NewMemoryStore[string, string]()

	return &DOTDrawer{
		graph: graph.NewWithStore(graph.StringHash, s, graph.Directed()),
		store: s,
	}
}

var shapes = map[model.StepKind]string{
	model.BranchKind:   "diamond",
	model.CaseKind:     "note",
	model.ParallelKind: "parallelogram",
}

// AddStep adds a step to the pipeline graph. Adding a step twice keeps the first one.
func (d *DOTDrawer) AddStep(id string, info model.StepInfo) error {
	opts := []func(*graph.VertexProperties){graph.VertexAttribute("label", info.Name)}
	if shape, ok := shapes[info.Kind]; ok {
		opts = append(opts, graph.VertexAttribute("shape", shape))
	}
	if id == StartStep || id == EndStep {
		opts = append(opts, graph.VertexAttribute("shape", "circle"))
	}
	err := d.graph.AddVertex(id, opts...)
	if err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
		return errors.Wrapf(err, "unable to add vertex %s", id)
	}

	return nil
}

// AddLink adds a link between parent and children steps.
func (d *DOTDrawer) AddLink(parentID, childID string) error {
	err := d.graph.AddEdge(parentID, childID)
	if err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
		return errors.Wrapf(err, "unable to add edge from %s to %s", parentID, childID)
	}

	return nil
}

var statusColours = map[model.Status][3]uint8{
	model.StatusSucceeded: {144, 238, 144},
	model.StatusFailed:    {255, 99, 71},
	model.StatusSkipped:   {211, 211, 211},
	model.StatusCancelled: {255, 165, 0},
	model.StatusPaused:    {135, 206, 250},
}

// SetStatus fills the vertex with the colour of status.
func (d *DOTDrawer) SetStatus(id string, status model.Status) error {
	rgb, ok := statusColours[status]
	if !ok {
		return errors.Errorf("unknown status %q", status)
	}
	colour, err := colors.RGB(rgb[0], rgb[1], rgb[2])
	if err != nil {
		return errors.Wrap(err, "unable to get colour")
	}

	return d.update(id, func(attributes map[string]string) {
		attributes["style"] = "filled"
		attributes["fillcolor"] = colour.ToHEX().String()
		attributes["tooltip"] = string(status)
	})
}

// SetTotalTime sets the total time for the step.
func (d *DOTDrawer) SetTotalTime(id string, elapsed time.Duration) error {
	return d.update(id, func(attributes map[string]string) {
		attributes["xlabel"] = elapsed.String()
	})
}

func (d *DOTDrawer) update(id string, fn func(attributes map[string]string)) error {
	err := d.store.UpdateVertex(id, func(p *graph.VertexProperties) {
		fn(p.Attributes)
	})

	return errors.Wrapf(err, "unable to update vertex %s", id)
}

const maxRGB = 240

// AddMeasure labels every measured step with its average duration, and colours its border from blue,
// the fastest step, to red, the slowest. Branch edges are labelled with the number of times each
// case was selected.
func (d *DOTDrawer) AddMeasure(msr measure.Measure) error {
	metrics := msr.AllMetrics()
	sortedElapsed := []time.Duration{}
	for _, mt := range metrics {
		if avg := mt.AVGDuration(); avg > 0 {
			sortedElapsed = append(sortedElapsed, avg)
		}
	}
	sort.Slice(sortedElapsed, func(i, j int) bool {
		return sortedElapsed[i] > sortedElapsed[j]
	})

	var maxValue, minValue time.Duration
	if len(sortedElapsed) > 0 {
		maxValue = sortedElapsed[0]
		minValue = sortedElapsed[len(sortedElapsed)-1]
	}

	for name, mt := range metrics {
		if _, _, err := d.store.Vertex(name); err != nil {
			// the run metric or a step missing from the layout
			continue
		}
		if err := d.updateMetric(name, mt, minValue, maxValue); err != nil {
			return err
		}
		for key, total := range mt.Matches() {
			err := d.graph.UpdateEdge(name, CaseID(name, key),
				graph.EdgeAttribute("label", strconv.FormatInt(total, 10)),
				graph.EdgeAttribute("fontcolor", "blue"),
			)
			if err != nil && !errors.Is(err, graph.ErrEdgeNotFound) {
				return errors.Wrap(err, "unable to update edge")
			}
		}
	}

	return nil
}

func (d *DOTDrawer) updateMetric(name string, mt measure.Metric, minValue, maxValue time.Duration) error {
	stepAvg := mt.AVGDuration()
	if stepAvg == 0 {
		return nil
	}
	fraction := 1.0
	if maxValue > minValue {
		fraction = float64(stepAvg-minValue) / float64(maxValue-minValue)
	}
	red := maxRGB * fraction
	blue := maxRGB - red

	colour, err := colors.RGB(uint8(red), 0, uint8(blue)) //nolint
	if err != nil {
		return errors.Wrap(err, "unable to get colour")
	}

	return d.update(name, func(attributes map[string]string) {
		xlabel := "avg: " + stepAvg.String()
		if failures := mt.Failures(); failures > 0 {
			xlabel += ", failed: " + strconv.FormatInt(failures, 10)
		}
		attributes["xlabel"] = xlabel
		attributes["color"] = colour.ToHEX().String()
	})
}

// Render writes the pipeline graph to w.
func (d *DOTDrawer) Render(w io.Writer) error {
	desc, err := d.generateDOT()
	if err != nil {
		return errors.Wrap(err, "failed to generate DOT description")
	}

	return renderDOT(w, desc)
}

// DrawFile creates a file with the pipeline graph.
func (d *DOTDrawer) DrawFile(fileName string) error {
	file, err := os.Create(fileName)
	if err != nil {
		return errors.Wrapf(err, "unable to create file %s", fileName)
	}
	defer file.Close()

	err = d.Render(file)
	if err != nil {
		return errors.Wrapf(err, "unable to create dot file %s", fileName)
	}

	return nil
}

//nolint:lll //this is a template
const dotTemplate = `strict {{.GraphType}} {
	{{range $k, $v := .Attributes}}
		{{$k}}="{{$v}}";
	{{end}}
	{{range $s := .Statements}}
		"{{.Source}}" {{if .Target}}{{$.EdgeOperator}} "{{.Target}}" [ {{range $k, $v := .EdgeAttributes}}{{$k}}="{{$v}}", {{end}} weight={{.EdgeWeight}} ]{{else}}[ {{range $k, $v := .HTMLAttributes}}{{$k}}={{$v}}, {{end}} {{range $k, $v := .SourceAttributes}}{{$k}}="{{$v}}", {{end}} weight={{.SourceWeight}} ]{{end}};
	{{end}}
	}
	`

type description struct {
	GraphType    string
	Attributes   map[string]string
	EdgeOperator string
	Statements   []statement
}

type statement struct {
	Source           interface{}
	Target           interface{}
	SourceAttributes map[string]string
	HTMLAttributes   map[string]string
	EdgeAttributes   map[string]string
	SourceWeight     int
	EdgeWeight       int
}

// generateDOT lists every vertex followed by its outgoing edges, in insertion order.
func (d *DOTDrawer) generateDOT() (description, error) {
	desc := description{
		GraphType:    "digraph",
		Attributes:   map[string]string{"rankdir": "LR"},
		EdgeOperator: "->",
		Statements:   make([]statement, 0),
	}

	vertices, err := d.store.ListVertices()
	if err != nil {
		return desc, errors.Wrap(err, "unable to list vertices")
	}
	edges, err := d.store.ListEdges()
	if err != nil {
		return desc, errors.Wrap(err, "unable to list edges")
	}
	outEdges := make(map[string][]graph.Edge[string])
	for _, edge := range edges {
		outEdges[edge.Source] = append(outEdges[edge.Source], edge)
	}

	for _, vertex := range vertices {
		_, sourceProperties, err := d.store.Vertex(vertex)
		if err != nil {
			return desc, errors.Wrap(err, "unable to get vertex properties")
		}

		htmlAttributes := make(map[string]string)
		if xlabel, ok := sourceProperties.Attributes["xlabel"]; ok {
			htmlAttributes["label"] = fmt.Sprintf(`<%s <BR /> <FONT POINT-SIZE="12">%s</FONT>>`, sourceProperties.Attributes["label"], xlabel)

			delete(sourceProperties.Attributes, "xlabel")
			delete(sourceProperties.Attributes, "label")
		}

		desc.Statements = append(desc.Statements, statement{
			Source:           vertex,
			SourceWeight:     sourceProperties.Weight,
			SourceAttributes: sourceProperties.Attributes,
			HTMLAttributes:   htmlAttributes,
		})

		for _, edge := range outEdges[vertex] {
			desc.Statements = append(desc.Statements, statement{
				Source:         vertex,
				Target:         edge.Target,
				EdgeWeight:     edge.Properties.Weight,
				EdgeAttributes: edge.Properties.Attributes,
			})
		}
	}

	return desc, nil
}

func renderDOT(wrt io.Writer, desc description) error {
	tpl, err := template.New("dotTemplate").Parse(dotTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	err = tpl.Execute(wrt, desc)
	if err != nil {
		return errors.Wrap(err, "unable to execute template")
	}

	return nil
}

var _ Drawer = (*DOTDrawer)(nil)
