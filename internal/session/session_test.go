package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewAndValid(t *testing.T) {
	s := NewStore(10, time.Minute)
	now := time.Unix(1700000000, 0)
	id := s.New(now)
	require.True(t, s.Valid(id, now), "freshly minted session should be valid")
	require.False(t, s.Valid("not-a-real-id", now), "unknown id should not be valid")
}

func TestExpiry(t *testing.T) {
	s := NewStore(10, time.Minute)
	now := time.Unix(1700000000, 0)
	id := s.New(now)
	later := now.Add(2 * time.Minute)
	require.False(t, s.Valid(id, later), "session should have expired")
}

func TestCapacityEviction(t *testing.T) {
	s := NewStore(2, time.Hour)
	now := time.Unix(1700000000, 0)
	a := s.New(now)
	_ = s.New(now.Add(time.Second))
	_ = s.New(now.Add(2 * time.Second))
	require.False(t, s.Valid(a, now.Add(2*time.Second)), "oldest session should have been evicted at capacity")
}
