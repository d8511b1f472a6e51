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

package events

// Credential event type constants.
const (
	CredentialRefreshedType     = "credential.refreshed"
	CredentialRefreshFailedType = "credential.refresh_failed"
	CredentialExpiredType       = "credential.expired"
	CredentialDestroyedType     = "credential.destroyed"
)

// Refresh methods reported by CredentialRefreshed and CredentialRefreshFailed.
const (
	MethodInitialize = "initialize"
	MethodInvalidate = "invalidate"
)

// CredentialRefreshed is published when a task commits a newly fetched credential.
// The credential itself is never carried on the bus.
type CredentialRefreshed struct {
	BaseEvent
	CredentialInfo
	// Method is how the credential was obtained: "initialize" or "invalidate"
	Method string
	// Attempts is how many fetch attempts were made
	Attempts int
}

// Type returns the event type identifier.
func (e CredentialRefreshed) Type() string {
	return CredentialRefreshedType
}

// NewCredentialRefreshed creates a CredentialRefreshed event.
func NewCredentialRefreshed(info CredentialInfo, method string, attempts int) CredentialRefreshed {
	return CredentialRefreshed{
		BaseEvent:      NewBaseEvent(CredentialRefreshedType),
		CredentialInfo: info,
		Method:         method,
		Attempts:       attempts,
	}
}

// CredentialRefreshFailed is published when a fetch exhausts its retry budget.
type CredentialRefreshFailed struct {
	BaseEvent
	CredentialInfo
	// Method is the operation that failed: "initialize" or "invalidate"
	Method string
	// Error describes what went wrong
	Error string
	// Attempts is how many fetch attempts were made
	Attempts int
}

// Type returns the event type identifier.
func (e CredentialRefreshFailed) Type() string {
	return CredentialRefreshFailedType
}

// NewCredentialRefreshFailed creates a CredentialRefreshFailed event.
func NewCredentialRefreshFailed(info CredentialInfo, method, errMsg string, attempts int) CredentialRefreshFailed {
	return CredentialRefreshFailed{
		BaseEvent:      NewBaseEvent(CredentialRefreshFailedType),
		CredentialInfo: info,
		Method:         method,
		Error:          errMsg,
		Attempts:       attempts,
	}
}

// CredentialExpired is published when the cache reports a credential expired,
// before the task starts refetching it.
type CredentialExpired struct {
	BaseEvent
	CredentialInfo
}

// Type returns the event type identifier.
func (e CredentialExpired) Type() string {
	return CredentialExpiredType
}

// NewCredentialExpired creates a CredentialExpired event.
func NewCredentialExpired(info CredentialInfo) CredentialExpired {
	return CredentialExpired{
		BaseEvent:      NewBaseEvent(CredentialExpiredType),
		CredentialInfo: info,
	}
}

// CredentialDestroyed is published once when a task is destroyed.
type CredentialDestroyed struct {
	BaseEvent
	CredentialInfo
}

// Type returns the event type identifier.
func (e CredentialDestroyed) Type() string {
	return CredentialDestroyedType
}

// NewCredentialDestroyed creates a CredentialDestroyed event.
func NewCredentialDestroyed(info CredentialInfo) CredentialDestroyed {
	return CredentialDestroyed{
		BaseEvent:      NewBaseEvent(CredentialDestroyedType),
		CredentialInfo: info,
	}
}
