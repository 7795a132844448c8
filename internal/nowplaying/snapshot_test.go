package nowplaying

import (
	"math"
	"testing"
)

func TestRatingRecomputeMatchesWeightedMean(t *testing.T) {
	r := Rating{Distribution: map[int]int{1: 2, 3: 1, 5: 3}}
	r.Recompute()

	if r.Total != 6 {
		t.Errorf("expected total 6, got %d", r.Total)
	}
	want := float64(1*2+3*1+5*3) / 6.0
	if math.Abs(r.Average-want) > 1e-9 {
		t.Errorf("expected average %f, got %f", want, r.Average)
	}
}

func TestRatingEmptyDistributionAveragesZero(t *testing.T) {
	r := Rating{}
	r.Recompute()

	if r.Average != 0 || r.Total != 0 {
		t.Errorf("expected zero aggregate, got average=%f total=%d", r.Average, r.Total)
	}
}

func TestRatingAddVoteSequencesKeepInvariant(t *testing.T) {
	sequences := [][]int{
		{5},
		{1, 1, 1, 1},
		{1, 2, 3, 4, 5},
		{5, 5, 5, 1},
		{3, 3, 3, 3, 3, 3, 3},
	}

	for _, seq := range sequences {
		r := Rating{}
		for _, star := range seq {
			r.AddVote(star)
		}

		// Recompute the expected aggregate independently from the distribution.
		total := 0
		weighted := 0
		for star, count := range r.Distribution {
			total += count
			weighted += star * count
		}
		if r.Total != total {
			t.Errorf("sequence %v: total %d does not match distribution sum %d", seq, r.Total, total)
		}
		want := 0.0
		if total > 0 {
			want = float64(weighted) / float64(total)
		}
		if math.Abs(r.Average-want) > 1e-9 {
			t.Errorf("sequence %v: average %f, want %f", seq, r.Average, want)
		}
	}
}

func TestRatingAddVoteIgnoresOutOfRange(t *testing.T) {
	r := Rating{}
	r.AddVote(0)
	r.AddVote(6)
	r.AddVote(-3)

	if r.Total != 0 {
		t.Errorf("expected out-of-range votes to be ignored, got total %d", r.Total)
	}
}

func TestSameSongComparesByID(t *testing.T) {
	a := &Snapshot{Song: Song{ID: "abc123", Title: "First Cut"}}
	b := &Snapshot{Song: Song{ID: "abc123", Title: "Retitled"}}
	c := &Snapshot{Song: Song{ID: "def456"}}

	if !a.SameSong(b) {
		t.Error("snapshots with the same song id should match regardless of metadata")
	}
	if a.SameSong(c) {
		t.Error("snapshots with different song ids should not match")
	}
	if a.SameSong(nil) {
		t.Error("nil snapshot should never match")
	}
}
