package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/beatmap-tools/packgrab/internal/config"
)

// selection is the raw pack choice from the command line.
type selection struct {
	Start       int
	End         int
	Packs       string
	RetryFailed bool
}

// selectPacks expands the selection into the sorted, deduplicated list
// of packs to fetch this run. Packs completed in earlier runs are
// filtered out unless the run is explicitly retrying failures.
func selectPacks(sel selection, state *config.State) ([]int, error) {
	seen := make(map[int]bool)

	var packs []int

	add := func(pack int) {
		if !seen[pack] {
			seen[pack] = true

			packs = append(packs, pack)
		}
	}

	if sel.Start > 0 || sel.End > 0 {
		if sel.Start > sel.End {
			return nil, fmt.Errorf("start pack %d is greater than end pack %d", sel.Start, sel.End)
		}

		// Pack numbers start at 1; a zero start means the flag was
		// left at its default.
		first := sel.Start
		if first < 1 {
			first = 1
		}

		for pack := first; pack <= sel.End; pack++ {
			add(pack)
		}
	}

	if sel.Packs != "" {
		for _, field := range strings.Split(sel.Packs, ",") {
			pack, err := strconv.Atoi(strings.TrimSpace(field))
			if err != nil {
				return nil, fmt.Errorf("invalid pack number %q", field)
			}

			add(pack)
		}
	}

	if sel.RetryFailed {
		for _, pack := range state.FailedPacks {
			add(pack)
		}
	}

	if !sel.RetryFailed {
		filtered := packs[:0]

		for _, pack := range packs {
			if !state.IsCompleted(pack) {
				filtered = append(filtered, pack)
			}
		}

		packs = filtered
	}

	sort.Ints(packs)

	return packs, nil
}
