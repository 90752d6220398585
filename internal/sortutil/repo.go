// SPDX-License-Identifier: MIT

// Package sortutil holds the ordering rules shared by status and sync output.
package sortutil

import (
	"sort"
	"strings"

	"github.com/skaphos/forkkeeper/internal/model"
	"github.com/skaphos/forkkeeper/internal/registry"
)

// LessNamePath orders case-insensitively by display name, then by path for
// working copies sharing a name.
func LessNamePath(nameI, pathI, nameJ, pathJ string) bool {
	li, lj := strings.ToLower(nameI), strings.ToLower(nameJ)
	if li == lj {
		return pathI < pathJ
	}
	return li < lj
}

// SortRepoStatuses orders status rows by Name, then Path.
func SortRepoStatuses(statuses []model.RepoStatus) {
	sort.SliceStable(statuses, func(i, j int) bool {
		return LessNamePath(statuses[i].Name, statuses[i].Path, statuses[j].Name, statuses[j].Path)
	})
}

// SortRegistryEntries orders registry entries by display name, then Path.
func SortRegistryEntries(entries []registry.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return LessNamePath(entries[i].DisplayName(), entries[i].Path, entries[j].DisplayName(), entries[j].Path)
	})
}
