package alertengine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rivengate/skinwatch/internal/store"
)

func TestDedupeAlertsKeepsFirstOccurrence(t *testing.T) {
	alerts := []store.Alert{
		{ItemID: "a", ChannelID: "c1"},
		{ItemID: "b", ChannelID: "c1"},
		{ItemID: "a", ChannelID: "c2"},
	}

	got := dedupeAlerts(alerts)

	assert.Len(t, got, 2)
	assert.Equal(t, store.ChannelID("c1"), got[0].ChannelID, "first occurrence of a duplicate ItemID must win")
}

func TestIntersectReturnsOnlyOfferedAlerts(t *testing.T) {
	alerts := []store.Alert{
		{ItemID: "a", ChannelID: "c1"},
		{ItemID: "b", ChannelID: "c1"},
		{ItemID: "c", ChannelID: "c1"},
	}
	offered := []store.ItemID{"b", "c", "z"}

	got := intersect(alerts, offered)

	ids := make([]string, len(got))
	for i, a := range got {
		ids[i] = string(a.ItemID)
	}
	assert.ElementsMatch(t, []string{"b", "c"}, ids)
}

func TestIntersectReturnsNilWhenNothingMatches(t *testing.T) {
	alerts := []store.Alert{{ItemID: "a", ChannelID: "c1"}}
	got := intersect(alerts, []store.ItemID{"z"})
	assert.Empty(t, got)
}
