package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/model"
)

func TestFanout_DeliversByChannel(t *testing.T) {
	f := newFanout()
	a1 := f.add("GI_year1")
	a2 := f.add("GI_year1")
	b := f.add("GE_year2")

	assert.True(t, f.wants("GI_year1"))
	assert.False(t, f.wants("TM_year1"))

	f.publish(model.Message{ID: "m1", ChannelKey: "GI_year1"})
	assert.Equal(t, "m1", (<-a1).ID)
	assert.Equal(t, "m1", (<-a2).ID)
	assert.Empty(t, b)

	assert.Equal(t, 2, f.remove("GI_year1", a1))
	_, open := <-a1
	assert.False(t, open)
	// Removing twice is harmless.
	assert.Equal(t, 2, f.remove("GI_year1", a1))

	assert.Equal(t, 1, f.remove("GI_year1", a2))
	assert.False(t, f.wants("GI_year1"))
	assert.Equal(t, 0, f.remove("GE_year2", b))
}

func TestFanout_SlowSubscriberDoesNotBlock(t *testing.T) {
	f := newFanout()
	ch := f.add("GI_year1")
	for i := 0; i < subscriberBuffer+5; i++ {
		f.publish(model.Message{ChannelKey: "GI_year1"})
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestFanout_CloseAll(t *testing.T) {
	f := newFanout()
	a := f.add("GI_year1")
	b := f.add("GE_year2")

	f.closeAll()
	_, open := <-a
	require.False(t, open)
	_, open = <-b
	require.False(t, open)
	assert.Equal(t, 0, f.remove("GI_year1", a))
}
