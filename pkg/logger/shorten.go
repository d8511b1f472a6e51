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

package logger

import "strings"

// shortenKeep is how many characters are kept at each end of a shortened value.
const shortenKeep = 4

// Shorten masks a credential for logging, keeping only a few characters
// at each end. Values too short to mask safely are fully starred.
func Shorten(value string) string {
	if len(value) <= shortenKeep*3 {
		return strings.Repeat("*", len(value))
	}
	return value[:shortenKeep] + "..." + value[len(value)-shortenKeep:]
}
