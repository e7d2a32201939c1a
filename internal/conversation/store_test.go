package conversation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"paperchat/internal/models"
)

func turn(q string) models.Turn {
	return models.Turn{Question: q, Answer: "a-" + q}
}

func questions(turns []models.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Question
	}
	return out
}

func TestCommitOrderFollowsTicketOrder(t *testing.T) {
	s := NewStore(5, time.Hour)
	first := s.Begin("s1")
	second := s.Begin("s1")
	third := s.Begin("s1")

	third.Commit(turn("q3"))
	second.Commit(turn("q2"))
	require.Empty(t, s.History("s1"))

	first.Commit(turn("q1"))
	require.Equal(t, []string{"q1", "q2", "q3"}, questions(s.History("s1")))
}

func TestAbortedTicketIsSkipped(t *testing.T) {
	s := NewStore(5, time.Hour)
	first := s.Begin("s1")
	second := s.Begin("s1")
	second.Commit(turn("q2"))
	first.Abort()
	first.Commit(turn("ignored"))
	require.Equal(t, []string{"q2"}, questions(s.History("s1")))
}

func TestHistoryIsCappedOldestFirst(t *testing.T) {
	s := NewStore(2, time.Hour)
	for i := 1; i <= 4; i++ {
		s.Begin("s1").Commit(turn(fmt.Sprintf("q%d", i)))
	}
	require.Equal(t, []string{"q3", "q4"}, questions(s.History("s1")))

	tk := s.Begin("s1")
	require.Equal(t, []string{"q3", "q4"}, questions(tk.History()))
	tk.Abort()
}

func TestSessionsAreIndependent(t *testing.T) {
	s := NewStore(5, time.Hour)
	blocked := s.Begin("a")
	s.Begin("b").Commit(turn("b1"))
	require.Equal(t, []string{"b1"}, questions(s.History("b")))
	blocked.Abort()
	require.Empty(t, s.History("a"))
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	s := NewStore(5, time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }
	s.Begin("idle").Commit(turn("q"))
	pending := s.Begin("busy")

	now = now.Add(2 * time.Minute)
	require.Equal(t, 1, s.Sweep())
	require.Nil(t, s.History("idle"))
	require.Equal(t, 1, s.Len())

	pending.Commit(turn("late"))
	require.Equal(t, []string{"late"}, questions(s.History("busy")))
}

func TestConcurrentTicketsKeepOrder(t *testing.T) {
	s := NewStore(100, time.Hour)
	tickets := make([]*Ticket, 50)
	for i := range tickets {
		tickets[i] = s.Begin("s")
	}
	var wg sync.WaitGroup
	for i := len(tickets) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tickets[i].Commit(turn(fmt.Sprintf("%02d", i)))
		}(i)
	}
	wg.Wait()
	got := questions(s.History("s"))
	require.Len(t, got, 50)
	for i, q := range got {
		require.Equal(t, fmt.Sprintf("%02d", i), q)
	}
	require.NotEqual(t, NewSessionID(), NewSessionID())
}
