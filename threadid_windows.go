// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chained

import "golang.org/x/sys/windows"

func gettid() uint64 {
	return uint64(windows.GetCurrentThreadId())
}

// Windows thread ids are DWORDs unique among live threads.
func threadIDEqual(a, b ThreadID) bool {
	return uint32(a.id) == uint32(b.id)
}
