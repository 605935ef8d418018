// Package types defines the core domain model shared across mailflow:
// work items, workflow states, approval decisions, notification
// preferences, and the provider error taxonomy.
package types
