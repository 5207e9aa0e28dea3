package metrics

import (
	"testing"
	"time"
)

func TestMembershipsFeedProgress(t *testing.T) {
	c := New()
	c.IncMembership("historical", "ok")
	c.IncMembership("regular", "ok")
	c.IncMembership("regular", "error")

	if got := c.GetProgressTracker().GetStatus().Memberships; got != 2 {
		t.Errorf("progress memberships = %d, want 2", got)
	}
}

func TestMessageCountersFeedProgress(t *testing.T) {
	c := New()
	c.IncSent()
	c.IncFailed()
	c.IncSkipped("bot")
	c.ChannelDone()
	c.ObserveAPICall(50 * time.Millisecond)

	st := c.GetProgressTracker().GetStatus()
	if st.SentMessages != 1 || st.FailedMessages != 1 || st.SkippedMessages != 1 {
		t.Errorf("sent/failed/skipped = %d/%d/%d, want 1/1/1",
			st.SentMessages, st.FailedMessages, st.SkippedMessages)
	}
	if st.ChannelsDone != 1 {
		t.Errorf("channels done = %d, want 1", st.ChannelsDone)
	}
}
