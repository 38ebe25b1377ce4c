// Package temporal implements flow.Engine on Temporal.
//
// Every instance runs as one workflow execution whose workflow ID is the
// instance ID and whose run ID is the trace ID recorded on the instance.
// Form submissions are delivered as signals and Terminate maps to
// TerminateWorkflow. Flow-graph definitions are versioned in a Pulse
// replicated map so that workers and API nodes observe the same graphs.
//
// The workers executing flow graphs are deployed separately; this package
// only acts as their client.
package temporal
