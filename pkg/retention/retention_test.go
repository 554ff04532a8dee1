package retention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xenbak/xenbakd/pkg/artifact"
)

var now = time.Date(2024, 2, 9, 12, 0, 0, 0, time.UTC)

func artifactAgedBy(age time.Duration) artifact.Artifact {
	return artifact.New("xen01", artifact.KindVmBackup, "mail-server", now.Add(-age))
}

func names(artifacts []artifact.Artifact) []string {
	result := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		result = append(result, a.Name())
	}
	return result
}

// region Test: flat rotation

func TestPlan_FlatKeepsNewest(t *testing.T) {
	artifacts := []artifact.Artifact{
		artifactAgedBy(1 * time.Hour),
		artifactAgedBy(5 * time.Hour),
		artifactAgedBy(3 * time.Hour),
		artifactAgedBy(4 * time.Hour),
		artifactAgedBy(2 * time.Hour),
	}

	deletions := Plan(artifacts, Policy{KeepLast: 3}, now)

	assert.ElementsMatch(t, []string{
		artifactAgedBy(4 * time.Hour).Name(),
		artifactAgedBy(5 * time.Hour).Name(),
	}, names(deletions))
}

func TestPlan_FlatBoundary(t *testing.T) {
	artifacts := []artifact.Artifact{
		artifactAgedBy(1 * time.Hour),
		artifactAgedBy(2 * time.Hour),
		artifactAgedBy(3 * time.Hour),
	}

	assert.Empty(t, Plan(artifacts, Policy{KeepLast: 3}, now))
	assert.Empty(t, Plan(artifacts, Policy{KeepLast: 4}, now))
	assert.Len(t, Plan(artifacts, Policy{KeepLast: 2}, now), 1)
}

func TestPlan_FlatIsIdempotent(t *testing.T) {
	artifacts := []artifact.Artifact{
		artifactAgedBy(1 * time.Hour),
		artifactAgedBy(2 * time.Hour),
		artifactAgedBy(3 * time.Hour),
		artifactAgedBy(4 * time.Hour),
	}

	deletions := Plan(artifacts, Policy{KeepLast: 2}, now)
	assert.Len(t, deletions, 2)

	deleted := map[string]bool{}
	for _, a := range deletions {
		deleted[a.Name()] = true
	}

	var survivors []artifact.Artifact
	for _, a := range artifacts {
		if !deleted[a.Name()] {
			survivors = append(survivors, a)
		}
	}

	assert.Empty(t, Plan(survivors, Policy{KeepLast: 2}, now))
}

func TestPlan_FlatDoesNotCrossIdentities(t *testing.T) {
	mail := artifact.New("xen01", artifact.KindVmBackup, "mail-server", now.Add(-2*time.Hour))
	web1 := artifact.New("xen01", artifact.KindVmBackup, "web-server", now.Add(-1*time.Hour))
	web2 := artifact.New("xen01", artifact.KindVmBackup, "web-server", now.Add(-3*time.Hour))
	otherHost := artifact.New("xen02", artifact.KindVmBackup, "web-server", now.Add(-4*time.Hour))

	deletions := Plan([]artifact.Artifact{mail, web1, web2, otherHost}, Policy{KeepLast: 1}, now)

	// only web-server on xen01 has more artifacts than the policy keeps
	assert.Equal(t, []string{web2.Name()}, names(deletions))
}

// endregion

// region Test: tiered rotation

func TestPlan_TieredBucketBoundaries(t *testing.T) {
	exactlyDaily := artifactAgedBy(24 * time.Hour)
	justOverDaily := artifactAgedBy(24*time.Hour + time.Second)

	// both buckets keep nothing, so classification decides deletion reasons
	deletions := Plan([]artifact.Artifact{exactlyDaily, justOverDaily}, Policy{Daily: 1, Weekly: 0}, now)

	// the 24h artifact still counts as daily and survives; the one just
	// past the bound falls into the weekly bucket, which keeps zero
	assert.Equal(t, []string{justOverDaily.Name()}, names(deletions))
}

func TestPlan_TieredKeepsOldestPerBucket(t *testing.T) {
	oldest := artifactAgedBy(20 * time.Hour)
	middle := artifactAgedBy(12 * time.Hour)
	newest := artifactAgedBy(2 * time.Hour)

	deletions := Plan([]artifact.Artifact{newest, oldest, middle}, Policy{Daily: 1}, now)

	// the walk is oldest first, so the artifacts that push the counter
	// past the limit are the newer ones
	assert.ElementsMatch(t, []string{middle.Name(), newest.Name()}, names(deletions))
}

func TestPlan_TieredClassifiesAcrossBuckets(t *testing.T) {
	daily := artifactAgedBy(10 * time.Hour)
	weekly := artifactAgedBy(3 * 24 * time.Hour)
	monthly := artifactAgedBy(20 * 24 * time.Hour)
	yearly := artifactAgedBy(100 * 24 * time.Hour)

	artifacts := []artifact.Artifact{daily, weekly, monthly, yearly}

	// every bucket keeps one artifact, nothing is deleted
	assert.Empty(t, Plan(artifacts, Policy{Daily: 1, Weekly: 1, Monthly: 1, Yearly: 1}, now))

	// dropping the weekly quota to zero deletes only the weekly artifact
	deletions := Plan(artifacts, Policy{Daily: 1, Weekly: 0, Monthly: 1, Yearly: 1}, now)
	assert.Equal(t, []string{weekly.Name()}, names(deletions))
}

func TestPlan_TieredLeavesAncientArtifactsAlone(t *testing.T) {
	ancient := artifactAgedBy(2 * 365 * 24 * time.Hour)
	justPastYearly := artifactAgedBy(365*24*time.Hour + time.Hour)
	exactlyYearly := artifactAgedBy(365 * 24 * time.Hour)

	deletions := Plan(
		[]artifact.Artifact{ancient, justPastYearly, exactlyYearly},
		Policy{Daily: 1, Weekly: 1, Monthly: 1, Yearly: 0},
		now,
	)

	// only the artifact still inside the yearly bound is subject to its
	// (zero) quota; anything older survives rotation entirely
	assert.Equal(t, []string{exactlyYearly.Name()}, names(deletions))
}

// endregion

// region Test: policy

func TestPlan_ZeroPolicyPlansNothing(t *testing.T) {
	artifacts := []artifact.Artifact{
		artifactAgedBy(1 * time.Hour),
		artifactAgedBy(400 * 24 * time.Hour),
	}

	assert.Empty(t, Plan(artifacts, Policy{}, now))
}

func TestPolicy_Validate(t *testing.T) {
	assert.Nil(t, Policy{}.Validate())
	assert.Nil(t, Policy{KeepLast: 5}.Validate())
	assert.Nil(t, Policy{Daily: 7, Weekly: 4, Monthly: 6, Yearly: 1}.Validate())

	assert.NotNil(t, Policy{KeepLast: 5, Daily: 7}.Validate())
	assert.NotNil(t, Policy{KeepLast: -1}.Validate())
	assert.NotNil(t, Policy{Weekly: -2}.Validate())
}

func TestPolicy_IsZero(t *testing.T) {
	assert.True(t, Policy{}.IsZero())
	assert.False(t, Policy{KeepLast: 1}.IsZero())
	assert.False(t, Policy{Yearly: 1}.IsZero())
}

// endregion
