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

// Package task manages the lifecycle of a single cached credential.
//
// # State Machine
//
//	PENDING --Initialize--> READY --Invalidate--> UPDATING --> READY
//	   any state --Destroy--> DESTROYED
//
// A task fetches through a Fetcher wrapped in a retry.Policy, stores the result
// in a shared cache manager and asks to be told when it expires. The expiry
// notification invalidates the task, which refetches in the background.
//
// # Usage
//
//	secrets := cache.NewManager(cache.FixedTTL(5*time.Minute))
//	newTask := task.Secret[Env](secrets, vaultSource, "secret/data/db", task.Options{
//	    Retry: retry.DefaultPolicy(),
//	})
//	t := newTask(task.Confidant[Env]{Logger: log, Context: env})
//	password, err := t.Initialize(ctx)
//	...
//	t.Destroy(ctx)
package task
