// Package model provides the data structures shared by the pipeline package and its observers.
// It defines the step descriptions handed to observers, the layout nodes used to draw a pipeline,
// and the Observer hooks invoked while a pipeline runs.
package model
