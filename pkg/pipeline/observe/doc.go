// Package observe provides observers logging the events of a run, and Multi to report the events to
// several observers.
package observe
