package main

import (
	"testing"

	"github.com/beatmap-tools/packgrab/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectPacks(t *testing.T) {
	tests := []struct {
		name    string
		sel     selection
		state   *config.State
		want    []int
		wantErr bool
	}{
		{
			name:  "range",
			sel:   selection{Start: 3, End: 6},
			state: &config.State{},
			want:  []int{3, 4, 5, 6},
		},
		{
			name:  "zero start clamps to pack one",
			sel:   selection{End: 3},
			state: &config.State{},
			want:  []int{1, 2, 3},
		},
		{
			name:  "explicit list with spaces",
			sel:   selection{Packs: "9, 2,5"},
			state: &config.State{},
			want:  []int{2, 5, 9},
		},
		{
			name:  "range and list deduplicated",
			sel:   selection{Start: 1, End: 3, Packs: "2,4"},
			state: &config.State{},
			want:  []int{1, 2, 3, 4},
		},
		{
			name:  "completed packs filtered out",
			sel:   selection{Start: 1, End: 5},
			state: &config.State{CompletedPacks: []int{2, 4}},
			want:  []int{1, 3, 5},
		},
		{
			name:  "retry failed keeps everything",
			sel:   selection{Start: 1, End: 2, RetryFailed: true},
			state: &config.State{CompletedPacks: []int{1}, FailedPacks: []int{7}},
			want:  []int{1, 2, 7},
		},
		{
			name:    "inverted range",
			sel:     selection{Start: 9, End: 3},
			state:   &config.State{},
			wantErr: true,
		},
		{
			name:    "malformed list",
			sel:     selection{Packs: "1,two,3"},
			state:   &config.State{},
			wantErr: true,
		},
		{
			name:  "nothing selected",
			sel:   selection{},
			state: &config.State{},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectPacks(tt.sel, tt.state)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
