// Package composition plans and runs multi-step tool workflows.
//
// ComposeWorkflow turns an intent such as "research the topic then post a
// summary" into a Plan: either by instantiating a matching Template or by
// splitting the intent into stages and resolving each sub-intent through
// discovery. Steps pass data with placeholders:
//
//	{{params.topic}}          compose-time parameter
//	{{steps.research.data}}   output of an earlier step
//
// A step referencing another step depends on it. Plans are ordered
// topologically and rejected when their dependencies form a cycle.
//
// ExecuteComposition runs ready steps concurrently through a Dispatcher
// (normally a *routing.Router) and stops at the first failed required
// step. AdaptWorkflow produces a new plan version when tools become
// unavailable, recording the change as a JSON Patch.
package composition
