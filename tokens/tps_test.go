package tokens

import (
	"testing"

	"github.com/coder/cmux-sub012/streaming"
)

func TestCalculateTPS(t *testing.T) {
	tests := []struct {
		name   string
		deltas []DeltaRecord
		nowMS  int64
		want   int
	}{
		{
			name:   "no deltas",
			deltas: nil,
			nowMS:  10000,
			want:   0,
		},
		{
			name: "all deltas older than window",
			deltas: []DeltaRecord{
				{Tokens: 50, TimestampMS: 1000},
				{Tokens: 50, TimestampMS: 2000},
			},
			nowMS: 60000,
			want:  0,
		},
		{
			name: "window rate from earliest in window",
			deltas: []DeltaRecord{
				{Tokens: 6, TimestampMS: 0},
				{Tokens: 4, TimestampMS: 5000},
			},
			nowMS: 10000,
			want:  1, // round(10 / 10)
		},
		{
			name: "old deltas excluded from rate",
			deltas: []DeltaRecord{
				{Tokens: 1000, TimestampMS: 0},
				{Tokens: 30, TimestampMS: 55000},
				{Tokens: 30, TimestampMS: 60000},
			},
			nowMS: 60000,
			want:  12, // round(60 / 5), lifetime average would be far lower
		},
		{
			name: "single delta at measurement instant",
			deltas: []DeltaRecord{
				{Tokens: 10, TimestampMS: 10000},
			},
			nowMS: 10000,
			want:  0,
		},
		{
			name: "rounding",
			deltas: []DeltaRecord{
				{Tokens: 5, TimestampMS: 7000, Kind: streaming.DeltaText},
				{Tokens: 5, TimestampMS: 10000, Kind: streaming.DeltaText},
			},
			nowMS: 10000,
			want:  3, // round(10 / 3)
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateTPS(tt.deltas, tt.nowMS); got != tt.want {
				t.Errorf("CalculateTPS() = %d, want %d", got, tt.want)
			}
		})
	}
}
