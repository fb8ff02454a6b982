// Package storetest is a behavioural suite shared by every app.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dkeye/Tasting/internal/app"
	"github.com/dkeye/Tasting/internal/domain"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

// Run executes the suite; open must return an empty store per call.
func Run(t *testing.T, open func(t *testing.T) app.Store) {
	t.Run("Sessions", func(t *testing.T) { testSessions(t, open(t)) })
	t.Run("Participants", func(t *testing.T) { testParticipants(t, open(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, open(t)) })
	t.Run("Messages", func(t *testing.T) { testMessages(t, open(t)) })
	t.Run("Ratings", func(t *testing.T) { testRatings(t, open(t)) })
}

func newSession(t *testing.T, s app.Store, id domain.SessionID) *domain.Session {
	t.Helper()
	sess, err := domain.NewSession(id, "host", "Islay night", []domain.Product{{Name: "Laphroaig 10"}, {Name: "Ardbeg Uigeadail", Type: "whisky"}}, base)
	require.NoError(t, err)
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

func testSessions(t *testing.T, s app.Store) {
	ctx := context.Background()
	newSession(t, s, "s1")

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, domain.UserID("host"), got.HostID)
	require.Len(t, got.Products, 2)
	require.Equal(t, "whisky", got.Products[1].Type)
	require.Empty(t, got.CustomTags)
	require.True(t, got.StartedAt.Equal(base))

	_, err = s.GetSession(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	sentinel := errors.New("abort")
	_, err = s.MutateSession(ctx, "s1", func(sess *domain.Session) error {
		sess.Title = "changed"
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	got, _ = s.GetSession(ctx, "s1")
	require.Equal(t, "Islay night", got.Title, "aborted mutation must not persist")

	updated, err := s.MutateSession(ctx, "s1", func(sess *domain.Session) error {
		if err := sess.SetCustomTags([]string{"peat", "smoke"}); err != nil {
			return err
		}
		return sess.End(base.Add(time.Hour))
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusEnded, updated.Status)
	got, _ = s.GetSession(ctx, "s1")
	require.Equal(t, []string{"peat", "smoke"}, got.CustomTags)
	require.NotNil(t, got.EndedAt)
	require.True(t, got.EndedAt.Equal(base.Add(time.Hour)))

	_, err = s.MutateSession(ctx, "missing", func(*domain.Session) error { return nil })
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	newSession(t, s, "s2")
	newSession(t, s, "s3")
	require.NoError(t, s.TouchActivity(ctx, "s3", base.Add(2*time.Hour)))
	require.NoError(t, s.TouchActivity(ctx, "s3", base.Add(time.Hour)), "older touch is ignored")
	got, _ = s.GetSession(ctx, "s3")
	require.True(t, got.LastActivityAt.Equal(base.Add(2*time.Hour)))

	idle, err := s.ListIdleSessions(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	require.Equal(t, []domain.SessionID{"s2"}, idle, "ended and recently active sessions are not idle")

	require.NoError(t, s.SaveSummary(ctx, "s1", "Smoky all round."))
	got, _ = s.GetSession(ctx, "s1")
	require.Equal(t, "Smoky all round.", got.Summary)
	require.ErrorIs(t, s.SaveSummary(ctx, "missing", "x"), domain.ErrSessionNotFound)
}

func testParticipants(t *testing.T, s app.Store) {
	ctx := context.Background()
	newSession(t, s, "s1")
	require.NoError(t, s.UpsertUser(ctx, domain.User{ID: "u1", DisplayName: "Una"}))

	require.NoError(t, s.UpsertParticipant(ctx, "s1", "u1", base))
	require.NoError(t, s.UpsertParticipant(ctx, "s1", "u1", base.Add(time.Minute)))
	banned, err := s.IsBanned(ctx, "s1", "u1")
	require.NoError(t, err)
	require.False(t, banned)

	require.NoError(t, s.SetBanned(ctx, "s1", "u1", true))
	require.NoError(t, s.SetBanned(ctx, "s1", "ghost", true), "users that never joined can be banned")
	banned, _ = s.IsBanned(ctx, "s1", "u1")
	require.True(t, banned)
	banned, _ = s.IsBanned(ctx, "s2", "u1")
	require.False(t, banned, "bans are per session")

	require.NoError(t, s.UpsertParticipant(ctx, "s1", "u1", base.Add(2*time.Minute)))
	banned, _ = s.IsBanned(ctx, "s1", "u1")
	require.True(t, banned, "rejoining does not clear a ban")

	list, err := s.ListBanned(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, domain.UserID("ghost"), list[0].ID)
	require.Equal(t, "Una", list[1].DisplayName)

	require.NoError(t, s.SetBanned(ctx, "s1", "u1", false))
	list, _ = s.ListBanned(ctx, "s1")
	require.Len(t, list, 1)
}

func testUsers(t *testing.T, s app.Store) {
	ctx := context.Background()
	_, err := s.GetUser(ctx, "u1")
	require.ErrorIs(t, err, domain.ErrUserNotFound)

	require.NoError(t, s.UpsertUser(ctx, domain.User{ID: "u1", DisplayName: "Una"}))
	require.NoError(t, s.UpsertUser(ctx, domain.User{ID: "u1", DisplayName: "Una B.", Avatar: "https://img/u1.png"}))
	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "Una B.", u.DisplayName)
	require.Equal(t, "https://img/u1.png", u.Avatar)

	ok, err := s.IsAutoModerator(ctx, "host", "u1")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, s.SetAutoModerator(ctx, "host", "u1", true))
	require.NoError(t, s.SetAutoModerator(ctx, "host", "u1", true))
	ok, _ = s.IsAutoModerator(ctx, "host", "u1")
	require.True(t, ok)
	ok, _ = s.IsAutoModerator(ctx, "other", "u1")
	require.False(t, ok)
	require.NoError(t, s.SetAutoModerator(ctx, "host", "u1", false))
	ok, _ = s.IsAutoModerator(ctx, "host", "u1")
	require.False(t, ok)
}

func message(i int, sid domain.SessionID, author domain.UserID) *domain.Message {
	return &domain.Message{
		ID:        domain.MessageID(fmt.Sprintf("m%02d", i)),
		SessionID: sid,
		AuthorID:  author,
		Content:   fmt.Sprintf("note %d", i),
		CreatedAt: base.Add(time.Duration(i) * time.Second),
	}
}

func testMessages(t *testing.T, s app.Store) {
	ctx := context.Background()
	newSession(t, s, "s1")
	newSession(t, s, "s2")

	for i := 1; i <= 6; i++ {
		author := domain.UserID("u1")
		if i%2 == 0 {
			author = "u2"
		}
		require.NoError(t, s.CreateMessage(ctx, message(i, "s1", author)))
	}
	idx := 1
	m := message(7, "s1", "u1")
	m.ProductIndex = &idx
	m.Phase = "finish"
	require.NoError(t, s.CreateMessage(ctx, m))
	require.NoError(t, s.CreateMessage(ctx, message(8, "s2", "u1")))

	got, err := s.GetMessage(ctx, "m07")
	require.NoError(t, err)
	require.NotNil(t, got.ProductIndex)
	require.Equal(t, 1, *got.ProductIndex)
	require.Equal(t, "finish", got.Phase)
	require.Nil(t, got.EditedAt)

	list, err := s.ListMessages(ctx, "s1", 3)
	require.NoError(t, err)
	require.Equal(t, []domain.MessageID{"m05", "m06", "m07"}, ids(list), "newest window in ascending order")

	require.NoError(t, s.UpdateMessageContent(ctx, "m05", "edited", base.Add(time.Minute)))
	got, _ = s.GetMessage(ctx, "m05")
	require.Equal(t, "edited", got.Content)
	require.NotNil(t, got.EditedAt)

	require.NoError(t, s.HideMessage(ctx, "m06"))
	_, err = s.GetMessage(ctx, "m06")
	require.ErrorIs(t, err, domain.ErrMessageNotFound)
	require.ErrorIs(t, s.UpdateMessageContent(ctx, "m06", "x", base), domain.ErrMessageNotFound)
	require.ErrorIs(t, s.HideMessage(ctx, "nope"), domain.ErrMessageNotFound)

	hidden, err := s.HideMessagesByAuthor(ctx, "s1", "u2")
	require.NoError(t, err)
	require.Equal(t, []domain.MessageID{"m02", "m04"}, hidden, "already hidden messages are not reported")

	list, _ = s.ListMessages(ctx, "s1", 50)
	require.Equal(t, []domain.MessageID{"m01", "m03", "m05", "m07"}, ids(list))

	list, _ = s.ListMessages(ctx, "s2", 50)
	require.Equal(t, []domain.MessageID{"m08"}, ids(list))
}

func ids(msgs []domain.Message) []domain.MessageID {
	out := make([]domain.MessageID, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func testRatings(t *testing.T, s app.Store) {
	ctx := context.Background()
	newSession(t, s, "s1")

	avg, err := s.AverageRating(ctx, "s1", 0)
	require.NoError(t, err)
	require.Zero(t, avg.Count)
	require.Zero(t, avg.Average)

	rate := func(uid domain.UserID, idx int, v float64) {
		require.NoError(t, s.UpsertRating(ctx, domain.Rating{SessionID: "s1", UserID: uid, ProductIndex: idx, Value: v, UpdatedAt: base}))
	}
	rate("u1", 0, 8)
	rate("u2", 0, 6)
	rate("u2", 0, 5)
	rate("u1", 1, 9.5)

	avg, err = s.AverageRating(ctx, "s1", 0)
	require.NoError(t, err)
	require.Equal(t, 2, avg.Count)
	require.InDelta(t, 6.5, avg.Average, 1e-9)

	mine, err := s.UserRatings(ctx, "s1", "u1")
	require.NoError(t, err)
	require.Equal(t, map[int]float64{0: 8, 1: 9.5}, mine)

	none, err := s.UserRatings(ctx, "s1", "nobody")
	require.NoError(t, err)
	require.Empty(t, none)
}
