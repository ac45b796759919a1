// Copyright 2026 bdpdx
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

package plan

// compareVersions 版本序比较：(sys_updated_on, sys_mod_count, __time, event_id)。
// 任一侧缺 sys_mod_count 时退化为 (sys_updated_on, __time, event_id)。
func compareVersions(a, b VersionTuple) int {
	if a.SysUpdatedOn != b.SysUpdatedOn {
		if a.SysUpdatedOn < b.SysUpdatedOn {
			return -1
		}
		return 1
	}
	if a.SysModCount != nil && b.SysModCount != nil && *a.SysModCount != *b.SysModCount {
		if *a.SysModCount < *b.SysModCount {
			return -1
		}
		return 1
	}
	if a.EventTime != b.EventTime {
		if a.EventTime < b.EventTime {
			return -1
		}
		return 1
	}
	if a.EventID != b.EventID {
		if a.EventID < b.EventID {
			return -1
		}
		return 1
	}
	return 0
}

// ResolvePIT 对每个候选选出最新版本
func ResolvePIT(candidates []PITCandidate) []PITResolution {
	out := make([]PITResolution, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Versions) == 0 {
			continue
		}
		winner := c.Versions[0]
		for _, v := range c.Versions[1:] {
			if compareVersions(v, winner) > 0 {
				winner = v
			}
		}
		out = append(out, PITResolution{
			RowID:               c.RowID,
			Table:               c.Table,
			RecordSysID:         c.RecordSysID,
			WinningEventID:      winner.EventID,
			WinningSysUpdatedOn: winner.SysUpdatedOn,
			WinningSysModCount:  winner.SysModCount,
			WinningEventTime:    winner.EventTime,
		})
	}
	return out
}
