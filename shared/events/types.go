/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package events provides an in-process event bus. Credential tasks publish
// lifecycle events when a credential is refreshed, fails to refresh, expires or
// is destroyed, so dependents can react without holding a reference to the task.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is the base interface for all domain events.
// Each event type must implement this interface to be publishable.
type Event interface {
	// ID returns a unique identifier for this occurrence
	ID() string
	// Type returns the unique event type identifier (e.g., "credential.refreshed")
	Type() string
	// Timestamp returns when the event occurred
	Timestamp() time.Time
}

// BaseEvent provides common fields for all domain events.
// Embed this in concrete event types to get default implementations.
type BaseEvent struct {
	EventID    string
	EventType  string
	OccurredAt time.Time
}

// ID returns the event identifier.
func (e BaseEvent) ID() string {
	return e.EventID
}

// Type returns the event type identifier.
func (e BaseEvent) Type() string {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// NewBaseEvent creates a BaseEvent with a fresh ID and the current timestamp.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		OccurredAt: time.Now(),
	}
}

// CredentialInfo identifies the task and cache entry an event is about.
type CredentialInfo struct {
	// Task is the task name
	Task string
	// CacheKey is the key the credential is cached under
	CacheKey string
}
