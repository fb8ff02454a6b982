package orch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Tasting/internal/adapters/store/memstore"
	"github.com/dkeye/Tasting/internal/app"
	"github.com/dkeye/Tasting/internal/app/orch"
	"github.com/dkeye/Tasting/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin_HeadcountDedupesTabs(t *testing.T) {
	h := newHarness(t)
	_, host := h.joined("host")
	h.joined("alice")
	h.joined("alice")
	h.joined("alice")
	h.joined("bob")

	ev := host.last(t, orch.EvActiveUsers)
	assert.Equal(t, 3.0, ev.num("count"))
	assert.ElementsMatch(t, []string{"host", "alice", "bob"}, userIDs(ev))

	joined := host.events(t, orch.EvUserJoined)
	require.Len(t, joined, 2, "extra tabs are not announced")
	assert.Equal(t, 3.0, joined[1].num("count"))
}

func TestJoin_JoinerDoesNotSeeOwnJoin(t *testing.T) {
	h := newHarness(t)
	h.joined("host")
	_, alice := h.joined("alice")

	assert.Empty(t, alice.events(t, orch.EvUserJoined))
	hist := alice.last(t, orch.EvMessageHistory)
	assert.Equal(t, false, hist["isReadOnly"])
	assert.Equal(t, false, hist["isModerator"])
}

func TestJoin_UnknownSession(t *testing.T) {
	h := newHarness(t)
	c, fc := h.client("alice")

	err := h.o.JoinSession(h.ctx, c, "nope")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.Empty(t, fc.events(t, orch.EvMessageHistory))
	assert.Zero(t, h.reg.Presence.SessionCount())
}

func TestMessages_HistoryReplayIsAscending(t *testing.T) {
	h := newHarness(t)
	host, _ := h.joined("host")
	h.say(host, "A")
	h.say(host, "B")
	h.say(host, "C")

	_, late := h.joined("late")
	assert.Equal(t, []string{"A", "B", "C"}, contents(late.last(t, orch.EvMessageHistory)))
}

func TestMessages_BroadcastCarriesAuthor(t *testing.T) {
	h := newHarness(t)
	host, _ := h.joined("host")
	_, alice := h.joined("alice")

	h.say(host, "  peat and smoke  ")
	ev := alice.last(t, orch.EvNewMessage)
	msg := ev["message"].(map[string]any)
	assert.Equal(t, "peat and smoke", msg["content"])
	assert.Equal(t, "Host", msg["displayName"])
	assert.Equal(t, "host", msg["userId"])
}

func TestMessages_ContentValidation(t *testing.T) {
	h := newHarness(t)
	host, _ := h.joined("host")

	err := h.o.SendMessage(h.ctx, host, orch.SendMessage{SessionID: h.sid, Content: "   "})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	long := make([]byte, domain.MaxMessageLen+1)
	for i := range long {
		long[i] = 'x'
	}
	err = h.o.SendMessage(h.ctx, host, orch.SendMessage{SessionID: h.sid, Content: string(long)})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Empty(t, h.history())
}

func TestMessages_NotJoined(t *testing.T) {
	h := newHarness(t)
	c, _ := h.client("alice")

	err := h.o.SendMessage(h.ctx, c, orch.SendMessage{SessionID: h.sid, Content: "hi"})
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
}

func TestMessages_RateLimitBlocksAndReports(t *testing.T) {
	h := newHarness(t)
	alice, fc := h.joined("alice")

	for i := 0; i < 15; i++ {
		require.NoError(t, h.o.SendMessage(h.ctx, alice, orch.SendMessage{SessionID: h.sid, Content: "dram"}))
	}
	err := h.o.SendMessage(h.ctx, alice, orch.SendMessage{SessionID: h.sid, Content: "one more"})
	require.Equal(t, domain.KindRateLimit, domain.KindOf(err))
	assert.Len(t, h.history(), 15)

	h.o.Reject(alice, "send_message", h.sid, err)
	ev := fc.last(t, orch.EvError)
	assert.Equal(t, 60.0, ev.num("remainingSeconds"))
	assert.Equal(t, "rate_limited", ev.str("code"))
}

func TestMessages_EditOwnOnly(t *testing.T) {
	h := newHarness(t)
	host, hostConn := h.joined("host")
	alice, _ := h.joined("alice")
	h.say(host, "nose: brine")
	id := h.history()[0].ID

	err := h.o.EditMessage(h.ctx, alice, orch.EditMessage{SessionID: h.sid, MessageID: id, Content: "hacked"})
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))

	require.NoError(t, h.o.EditMessage(h.ctx, host, orch.EditMessage{SessionID: h.sid, MessageID: id, Content: "nose: brine, iodine"}))
	assert.Equal(t, "nose: brine, iodine", hostConn.last(t, orch.EvMessageUpdated).str("content"))
	assert.Equal(t, "nose: brine, iodine", h.history()[0].Content)
}

func TestMessages_DeleteRequiresModerator(t *testing.T) {
	h := newHarness(t)
	host, _ := h.joined("host")
	alice, aliceConn := h.joined("alice")
	h.say(alice, "spam")
	id := h.history()[0].ID

	err := h.o.DeleteMessage(h.ctx, alice, orch.DeleteMessage{SessionID: h.sid, MessageID: id})
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))

	require.NoError(t, h.o.DeleteMessage(h.ctx, host, orch.DeleteMessage{SessionID: h.sid, MessageID: id}))
	assert.Equal(t, "Host", aliceConn.last(t, orch.EvMessageDeleted).str("deletedBy"))
	assert.Empty(t, h.history())
}

func TestMessages_DeleteChecksSession(t *testing.T) {
	h := newHarness(t)
	other := h.session("s2", "host")
	host, _ := h.joined("host")
	require.NoError(t, h.o.JoinSession(h.ctx, host, other))
	require.NoError(t, h.o.SendMessage(h.ctx, host, orch.SendMessage{SessionID: other, Content: "elsewhere"}))
	msgs, err := h.mem.ListMessages(h.ctx, other, 10)
	require.NoError(t, err)

	err = h.o.DeleteMessage(h.ctx, host, orch.DeleteMessage{SessionID: h.sid, MessageID: msgs[0].ID})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestSpoilers_HostRevealsForEveryone(t *testing.T) {
	h := newHarness(t)
	host, _ := h.joined("host")
	alice, aliceConn := h.joined("alice")
	_, bobConn := h.joined("bob")
	h.say(host, "one")
	h.say(host, "two")
	h.say(host, "three")
	msgs := h.history()

	require.NoError(t, h.o.RevealSpoilers(h.ctx, alice, orch.RevealSpoilers{SessionID: h.sid, UpToMessageID: msgs[1].ID}))
	ev := aliceConn.last(t, orch.EvSpoilersRevealed)
	assert.Equal(t, false, ev["isGlobal"])
	assert.Equal(t, []string{string(msgs[0].ID), string(msgs[1].ID)}, ids(ev, "messageIds"))
	assert.Empty(t, bobConn.events(t, orch.EvSpoilersRevealed))

	require.NoError(t, h.o.RevealSpoilers(h.ctx, host, orch.RevealSpoilers{SessionID: h.sid, UpToMessageID: msgs[2].ID}))
	ev = bobConn.last(t, orch.EvSpoilersRevealed)
	assert.Equal(t, true, ev["isGlobal"])
	assert.Len(t, ids(ev, "messageIds"), 3)

	err := h.o.RevealSpoilers(h.ctx, host, orch.RevealSpoilers{SessionID: h.sid, UpToMessageID: "missing"})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestSpoilers_RequireJoinedSession(t *testing.T) {
	h := newHarness(t)
	host, _ := h.joined("host")
	h.say(host, "finish: long")
	id := h.history()[0].ID

	outsider, outsiderConn := h.client("eve")
	err := h.o.RevealSpoilers(h.ctx, outsider, orch.RevealSpoilers{SessionID: h.sid, UpToMessageID: id})
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
	assert.Empty(t, outsiderConn.events(t, orch.EvSpoilersRevealed))
}

func TestReadyCheck_Ratio(t *testing.T) {
	h := newHarness(t)
	host, hostConn := h.joined("host")
	a, _ := h.joined("a")
	b, _ := h.joined("b")
	h.joined("c")
	ref := orch.SessionRef{SessionID: h.sid}

	require.NoError(t, h.o.StartReadyCheck(h.ctx, host, ref))
	assert.Len(t, hostConn.events(t, orch.EvReadyCheckStarted), 1)

	require.NoError(t, h.o.MarkReady(h.ctx, host, ref))
	require.NoError(t, h.o.MarkReady(h.ctx, a, ref))
	require.NoError(t, h.o.MarkReady(h.ctx, b, ref))
	st := hostConn.last(t, orch.EvReadyCheckState)
	assert.Equal(t, 0.75, st.num("ratio"))
	assert.Equal(t, 4.0, st.num("total"))

	require.NoError(t, h.o.MarkUnready(h.ctx, b, ref))
	assert.Equal(t, 0.5, hostConn.last(t, orch.EvReadyCheckState).num("ratio"))

	require.NoError(t, h.o.EndReadyCheck(h.ctx, host, ref))
	assert.Len(t, hostConn.events(t, orch.EvReadyCheckEnded), 1)
	require.NoError(t, h.o.StartReadyCheck(h.ctx, host, ref))
	st = hostConn.last(t, orch.EvReadyCheckState)
	assert.Equal(t, 0.0, st.num("ratio"))
	assert.Equal(t, 4.0, st.num("total"))
	assert.Empty(t, ids(st, "readyUserIds"))
}

func TestReadyCheck_RestartAndInactive(t *testing.T) {
	h := newHarness(t)
	host, _ := h.joined("host")
	alice, aliceConn := h.joined("alice")
	ref := orch.SessionRef{SessionID: h.sid}

	require.NoError(t, h.o.MarkReady(h.ctx, alice, ref), "marking without a round is a no-op")
	assert.Empty(t, aliceConn.events(t, orch.EvUserReady))

	err := h.o.EndReadyCheck(h.ctx, host, ref)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	require.NoError(t, h.o.StartReadyCheck(h.ctx, host, ref))
	err = h.o.StartReadyCheck(h.ctx, host, ref)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestReadyCheck_SnapshotOnJoinAndLeave(t *testing.T) {
	h := newHarness(t)
	host, hostConn := h.joined("host")
	alice, _ := h.joined("alice")
	ref := orch.SessionRef{SessionID: h.sid}
	require.NoError(t, h.o.StartReadyCheck(h.ctx, host, ref))
	require.NoError(t, h.o.MarkReady(h.ctx, alice, ref))

	_, late := h.joined("late")
	st := late.last(t, orch.EvReadyCheckState)
	assert.Equal(t, 3.0, st.num("total"))
	assert.Equal(t, []string{"alice"}, ids(st, "readyUserIds"))

	h.o.Disconnect(h.ctx, alice)
	st = hostConn.last(t, orch.EvReadyCheckState)
	assert.Equal(t, 2.0, st.num("total"))
	assert.Empty(t, ids(st, "readyUserIds"))
}

func TestHostOnly_NoStateChange(t *testing.T) {
	h := newHarness(t)
	host, _ := h.joined("host")
	alice, _ := h.joined("alice")
	h.joined("bob")

	err := h.o.StartReadyCheck(h.ctx, alice, orch.SessionRef{SessionID: h.sid})
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
	assert.False(t, h.reg.Ready.IsActive(h.sid))

	err = h.o.MakeModerator(h.ctx, alice, orch.TargetUser{SessionID: h.sid, UserID: "bob"})
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
	assert.Empty(t, h.reg.Moderation.ListModerators(h.sid))

	err = h.o.KickUser(h.ctx, alice, orch.Sanction{SessionID: h.sid, UserID: "bob"})
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
	banned, err := h.mem.IsBanned(h.ctx, h.sid, "bob")
	require.NoError(t, err)
	assert.False(t, banned)

	require.NoError(t, h.o.MakeModerator(h.ctx, host, orch.TargetUser{SessionID: h.sid, UserID: "alice"}))
	require.NoError(t, h.o.KickUser(h.ctx, alice, orch.Sanction{SessionID: h.sid, UserID: "bob"}))
	err = h.o.UnkickUser(h.ctx, alice, orch.TargetUser{SessionID: h.sid, UserID: "bob"})
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err), "moderators cannot lift a ban")
	assert.True(t, h.reg.Moderation.IsKicked(h.sid, "bob"))
}

func TestHostOnly_HostNeverInModeratorSet(t *testing.T) {
	h := newHarness(t)
	host, _ := h.joined("host")

	err := h.o.MakeModerator(h.ctx, host, orch.TargetUser{SessionID: h.sid, UserID: "host"})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	err = h.o.UnmodUser(h.ctx, host, orch.TargetUser{SessionID: h.sid, UserID: "host"})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Empty(t, h.reg.Moderation.ListModerators(h.sid))
}

func TestModerators_GrantAndRevoke(t *testing.T) {
	h := newHarness(t)
	host, _ := h.joined("host")
	_, aliceConn := h.joined("alice")

	require.NoError(t, h.o.MakeModerator(h.ctx, host, orch.TargetUser{SessionID: h.sid, UserID: "alice"}))
	ev := aliceConn.last(t, orch.EvModeratorAdded)
	assert.Equal(t, "Alice", ev.str("displayName"))
	assert.Equal(t, []string{"alice"}, ids(ev, "moderators"))
	assert.NotEmpty(t, aliceConn.events(t, orch.EvBannedUsersList), "new moderators get the ban list")

	require.NoError(t, h.o.UnmodUser(h.ctx, host, orch.TargetUser{SessionID: h.sid, UserID: "alice"}))
	assert.Empty(t, ids(aliceConn.last(t, orch.EvModeratorRemoved), "moderators"))
}

func TestModeration_MuteBlocksSend(t *testing.T) {
	h := newHarness(t)
	host, _ := h.joined("host")
	alice, aliceConn := h.joined("alice")
	_, bobConn := h.joined("bob")

	require.NoError(t, h.o.MuteUser(h.ctx, host, orch.Sanction{SessionID: h.sid, UserID: "alice"}))
	assert.Len(t, aliceConn.events(t, orch.EvYouWereMuted), 1)
	assert.Equal(t, "Alice", bobConn.last(t, orch.EvUserMuted).str("displayName"))
	assert.Empty(t, bobConn.events(t, orch.EvYouWereMuted))

	bobConn.reset()
	require.NoError(t, h.o.SendMessage(h.ctx, alice, orch.SendMessage{SessionID: h.sid, Content: "let me talk"}))
	assert.Len(t, aliceConn.events(t, orch.EvYouWereMuted), 2)
	assert.Empty(t, bobConn.events(t, orch.EvNewMessage))
	assert.Empty(t, h.history())

	h.o.Disconnect(h.ctx, alice)
	again, _ := h.joined("alice")
	require.NoError(t, h.o.SendMessage(h.ctx, again, orch.SendMessage{SessionID: h.sid, Content: "new tab"}))
	assert.Empty(t, h.history(), "mute survives reconnect")

	require.NoError(t, h.o.UnmuteUser(h.ctx, host, orch.TargetUser{SessionID: h.sid, UserID: "alice"}))
	h.say(again, "thanks")
	assert.Len(t, h.history(), 1)
}

func TestModeration_MuteRequiresPresence(t *testing.T) {
	h := newHarness(t)
	host, _ := h.joined("host")

	err := h.o.MuteUser(h.ctx, host, orch.Sanction{SessionID: h.sid, UserID: "ghost"})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.False(t, h.reg.Moderation.IsMuted(h.sid, "ghost"))
}

func TestModeration_KickBlocksRejoin(t *testing.T) {
	h := newHarness(t)
	host, hostConn := h.joined("host")
	bob, bobConn := h.joined("bob")
	h.say(bob, "first")
	h.say(bob, "second")

	require.NoError(t, h.o.KickUser(h.ctx, host, orch.Sanction{SessionID: h.sid, UserID: "bob", EraseMessages: true}))
	assert.Len(t, bobConn.events(t, orch.EvYouWereKicked), 1)
	assert.Len(t, ids(hostConn.last(t, orch.EvMessagesErased), "messageIds"), 2)
	assert.Empty(t, h.history())
	assert.True(t, h.reg.Presence.IsJoined(h.sid, bob.ID), "eviction waits for the grace delay")

	h.flush()
	assert.False(t, h.reg.Presence.IsJoined(h.sid, bob.ID))
	assert.Equal(t, "bob", hostConn.last(t, orch.EvUserLeft).str("userId"))

	banned, err := h.mem.IsBanned(h.ctx, h.sid, "bob")
	require.NoError(t, err)
	assert.True(t, banned)

	hostConn.reset()
	back, backConn := h.client("bob")
	require.NoError(t, h.o.JoinSession(h.ctx, back, h.sid))
	assert.Len(t, backConn.events(t, orch.EvYouWereKicked), 1)
	assert.Empty(t, backConn.events(t, orch.EvMessageHistory))
	assert.Empty(t, hostConn.events(t, orch.EvActiveUsers))
	assert.False(t, h.reg.Presence.HasUser(h.sid, "bob"))
}

func TestModeration_KickedUserSilencedDuringGrace(t *testing.T) {
	h := newHarness(t)
	host, hostConn := h.joined("host")
	bob, bobConn := h.joined("bob")
	h.say(bob, "before")
	id := h.history()[0].ID

	require.NoError(t, h.o.KickUser(h.ctx, host, orch.Sanction{SessionID: h.sid, UserID: "bob"}))
	require.True(t, h.reg.Presence.IsJoined(h.sid, bob.ID))
	hostConn.reset()
	bobConn.reset()

	seven := 7.0
	require.NoError(t, h.o.SendMessage(h.ctx, bob, orch.SendMessage{SessionID: h.sid, Content: "still here"}))
	require.NoError(t, h.o.EditMessage(h.ctx, bob, orch.EditMessage{SessionID: h.sid, MessageID: id, Content: "rewritten"}))
	require.NoError(t, h.o.UpdateRating(h.ctx, bob, orch.UpdateRating{SessionID: h.sid, Rating: &seven}))
	require.NoError(t, h.o.RevealSpoilers(h.ctx, bob, orch.RevealSpoilers{SessionID: h.sid, UpToMessageID: id}))

	assert.Len(t, bobConn.events(t, orch.EvYouWereKicked), 4)
	assert.Empty(t, bobConn.events(t, orch.EvSpoilersRevealed))
	assert.Empty(t, hostConn.events(t, orch.EvNewMessage))
	assert.Empty(t, hostConn.events(t, orch.EvMessageUpdated))
	assert.Empty(t, hostConn.events(t, orch.EvRatingUpdated))
	require.Len(t, h.history(), 1)
	assert.Equal(t, "before", h.history()[0].Content)
	mine, err := h.mem.UserRatings(h.ctx, h.sid, "bob")
	require.NoError(t, err)
	assert.Empty(t, mine)

	h.flush()
	assert.False(t, h.reg.Presence.IsJoined(h.sid, bob.ID))
}

func TestModeration_MuteBlocksEdit(t *testing.T) {
	h := newHarness(t)
	host, hostConn := h.joined("host")
	alice, aliceConn := h.joined("alice")
	h.say(alice, "palate: honey")
	id := h.history()[0].ID

	require.NoError(t, h.o.MuteUser(h.ctx, host, orch.Sanction{SessionID: h.sid, UserID: "alice"}))
	hostConn.reset()
	aliceConn.reset()

	require.NoError(t, h.o.EditMessage(h.ctx, alice, orch.EditMessage{SessionID: h.sid, MessageID: id, Content: "spam while muted"}))
	assert.Len(t, aliceConn.events(t, orch.EvYouWereMuted), 1)
	assert.Empty(t, hostConn.events(t, orch.EvMessageUpdated))
	assert.Equal(t, "palate: honey", h.history()[0].Content)
	assert.Nil(t, h.history()[0].EditedAt)

	require.NoError(t, h.o.UnmuteUser(h.ctx, host, orch.TargetUser{SessionID: h.sid, UserID: "alice"}))
	require.NoError(t, h.o.EditMessage(h.ctx, alice, orch.EditMessage{SessionID: h.sid, MessageID: id, Content: "palate: heather honey"}))
	assert.Equal(t, "palate: heather honey", hostConn.last(t, orch.EvMessageUpdated).str("content"))
}

func TestModeration_KickSurvivesRestart(t *testing.T) {
	h := newHarness(t)
	host, _ := h.joined("host")
	require.NoError(t, h.o.KickUser(h.ctx, host, orch.Sanction{SessionID: h.sid, UserID: "carol"}))

	// a fresh registry has no in-memory kick; the durable ban still applies
	h.reg.EndSession(h.sid)
	c, fc := h.client("carol")
	require.NoError(t, h.o.JoinSession(h.ctx, c, h.sid))
	assert.Len(t, fc.events(t, orch.EvYouWereKicked), 1)
	assert.False(t, h.reg.Presence.HasUser(h.sid, "carol"))
}

func TestModeration_UnkickDuringGraceKeepsUser(t *testing.T) {
	h := newHarness(t)
	host, _ := h.joined("host")
	bob, _ := h.joined("bob")

	require.NoError(t, h.o.KickUser(h.ctx, host, orch.Sanction{SessionID: h.sid, UserID: "bob"}))
	require.NoError(t, h.o.UnkickUser(h.ctx, host, orch.TargetUser{SessionID: h.sid, UserID: "bob"}))
	h.flush()
	assert.True(t, h.reg.Presence.IsJoined(h.sid, bob.ID))
}

func TestModeration_ModeratorCannotTargetModeratorOrHost(t *testing.T) {
	h := newHarness(t)
	host, _ := h.joined("host")
	alice, _ := h.joined("alice")
	h.joined("bob")
	require.NoError(t, h.o.MakeModerator(h.ctx, host, orch.TargetUser{SessionID: h.sid, UserID: "alice"}))
	require.NoError(t, h.o.MakeModerator(h.ctx, host, orch.TargetUser{SessionID: h.sid, UserID: "bob"}))

	err := h.o.MuteUser(h.ctx, alice, orch.Sanction{SessionID: h.sid, UserID: "bob"})
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
	err = h.o.KickUser(h.ctx, alice, orch.Sanction{SessionID: h.sid, UserID: "host"})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.False(t, h.reg.Moderation.IsKicked(h.sid, "host"))
}

func TestModeration_BanListGoesToModeratorsOnly(t *testing.T) {
	h := newHarness(t)
	host, hostConn := h.joined("host")
	_, aliceConn := h.joined("alice")
	bob, bobConn := h.joined("bob")
	require.NoError(t, h.o.MakeModerator(h.ctx, host, orch.TargetUser{SessionID: h.sid, UserID: "alice"}))
	aliceConn.reset()

	require.NoError(t, h.o.MuteUser(h.ctx, host, orch.Sanction{SessionID: h.sid, UserID: "bob"}))
	ev := hostConn.last(t, orch.EvBannedUsersList)
	muted := ev["muted"].([]any)
	require.Len(t, muted, 1)
	assert.Equal(t, "Bob", muted[0].(map[string]any)["displayName"])
	assert.Len(t, aliceConn.events(t, orch.EvBannedUsersList), 1)
	assert.Empty(t, bobConn.events(t, orch.EvBannedUsersList))

	err := h.o.GetBannedUsers(h.ctx, bob, orch.SessionRef{SessionID: h.sid})
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
}

func TestRating_BroadcastsAverage(t *testing.T) {
	h := newHarness(t)
	host, hostConn := h.joined("host")
	alice, _ := h.joined("alice")
	one := 1

	eight, six := 8.0, 6.0
	require.NoError(t, h.o.UpdateRating(h.ctx, host, orch.UpdateRating{SessionID: h.sid, Rating: &eight, ProductIndex: &one}))
	require.NoError(t, h.o.UpdateRating(h.ctx, alice, orch.UpdateRating{SessionID: h.sid, Rating: &six, ProductIndex: &one}))

	ev := hostConn.last(t, orch.EvRatingUpdated)
	assert.Equal(t, 7.0, ev.num("average"))
	assert.Equal(t, 2.0, ev.num("count"))
	assert.Equal(t, 1.0, ev.num("productIndex"))

	conn, ok := h.reg.Presence.Connection(h.sid, alice.ID)
	require.True(t, ok)
	assert.Equal(t, 6.0, conn.Member.Ratings[1])

	three := 3
	err := h.o.UpdateRating(h.ctx, host, orch.UpdateRating{SessionID: h.sid, Rating: &eight, ProductIndex: &three})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

type failingRatings struct {
	*memstore.Store
}

func (failingRatings) UpsertRating(context.Context, domain.Rating) error {
	return errors.New("db down")
}

func TestRating_PersistenceFailureKeepsPresence(t *testing.T) {
	h := newHarnessWithStore(t, func(m *memstore.Store) app.Store { return failingRatings{m} })
	alice, fc := h.joined("alice")
	nine := 9.0

	err := h.o.UpdateRating(h.ctx, alice, orch.UpdateRating{SessionID: h.sid, Rating: &nine})
	require.Equal(t, domain.KindPersistence, domain.KindOf(err))

	conn, ok := h.reg.Presence.Connection(h.sid, alice.ID)
	require.True(t, ok)
	assert.NotContains(t, conn.Member.Ratings, 0)
	assert.Empty(t, fc.events(t, orch.EvRatingUpdated))
}

func TestJoin_RestoresPriorRatings(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.joined("alice")
	seven := 7.5
	require.NoError(t, h.o.UpdateRating(h.ctx, alice, orch.UpdateRating{SessionID: h.sid, Rating: &seven}))
	h.o.Disconnect(h.ctx, alice)

	_, fc := h.joined("alice")
	mine := fc.last(t, orch.EvMessageHistory)["myRatings"].(map[string]any)
	assert.Equal(t, 7.5, mine["0"])
}

func TestReadOnly_EndedSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.mem.MutateSession(h.ctx, h.sid, func(s *domain.Session) error { return s.End(h.now) })
	require.NoError(t, err)

	c, fc := h.client("alice")
	require.NoError(t, h.o.JoinSession(h.ctx, c, h.sid))
	assert.Equal(t, true, fc.last(t, orch.EvMessageHistory)["isReadOnly"])
	assert.Len(t, fc.events(t, orch.EvSessionEnded), 1)
	assert.Empty(t, fc.events(t, orch.EvActiveUsers))
	assert.False(t, h.reg.Presence.IsJoined(h.sid, c.ID))
}

func TestReadOnly_ExpiredSession(t *testing.T) {
	h := newHarness(t)
	_, hostConn := h.joined("host")
	h.now = h.now.Add(6*time.Hour + time.Minute)
	hostConn.reset()

	c, fc := h.client("alice")
	require.NoError(t, h.o.JoinSession(h.ctx, c, h.sid))
	assert.Equal(t, true, fc.last(t, orch.EvMessageHistory)["isReadOnly"])
	assert.Len(t, fc.events(t, orch.EvSessionEnded), 1)
	assert.Empty(t, hostConn.events(t, orch.EvUserJoined))
	assert.False(t, h.reg.Presence.HasUser(h.sid, "alice"))

	// a read-only connection never joined, so its disconnect is silent
	h.o.Disconnect(h.ctx, c)
	assert.Empty(t, hostConn.events(t, orch.EvUserLeft))
}

func TestReadOnly_RejectsWrites(t *testing.T) {
	h := newHarness(t)
	host, _ := h.joined("host")
	h.now = h.now.Add(7 * time.Hour)

	err := h.o.SendMessage(h.ctx, host, orch.SendMessage{SessionID: h.sid, Content: "late"})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestDisconnect_LeavesEverySession(t *testing.T) {
	h := newHarness(t)
	other := h.session("s2", "host")
	_, host1 := h.joined("host")
	host2, host2Conn := h.client("host")
	require.NoError(t, h.o.JoinSession(h.ctx, host2, other))

	alice, _ := h.client("alice")
	require.NoError(t, h.o.JoinSession(h.ctx, alice, h.sid))
	require.NoError(t, h.o.JoinSession(h.ctx, alice, other))

	h.o.Disconnect(h.ctx, alice)
	assert.Equal(t, "alice", host1.last(t, orch.EvUserLeft).str("userId"))
	assert.Equal(t, "alice", host2Conn.last(t, orch.EvUserLeft).str("userId"))
	assert.Equal(t, 1.0, host2Conn.last(t, orch.EvActiveUsers).num("count"))
	assert.Empty(t, h.reg.Presence.FindSessionsFor(alice.ID))
	assert.Zero(t, h.reg.LockCount())
}

func TestDisconnect_OtherTabKeepsUserPresent(t *testing.T) {
	h := newHarness(t)
	_, hostConn := h.joined("host")
	tab1, _ := h.joined("alice")
	h.joined("alice")

	h.o.Disconnect(h.ctx, tab1)
	assert.Empty(t, hostConn.events(t, orch.EvUserLeft))
	assert.Equal(t, 2.0, hostConn.last(t, orch.EvActiveUsers).num("count"))
}

func TestLeave_KeepsConnectionOpen(t *testing.T) {
	h := newHarness(t)
	h.joined("host")
	alice, fc := h.joined("alice")

	require.NoError(t, h.o.LeaveSession(h.ctx, alice, h.sid))
	assert.Len(t, fc.events(t, orch.EvLeftSession), 1)
	assert.False(t, fc.isClosed())

	err := h.o.LeaveSession(h.ctx, alice, h.sid)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
}

func TestBackpressure_SlowConsumerClosed(t *testing.T) {
	h := newHarness(t)
	host, _ := h.joined("host")
	_, slow := h.joined("slow")
	slow.full = true

	h.say(host, "tasting notes")
	assert.True(t, slow.isClosed())
	assert.Len(t, h.history(), 1)
}

func TestAutoModerator_GrantedOnJoin(t *testing.T) {
	h := newHarness(t)
	_, hostConn := h.joined("host")
	require.NoError(t, h.mem.SetAutoModerator(h.ctx, "host", "friend", true))

	_, fc := h.joined("friend")
	assert.True(t, h.reg.Moderation.IsModerator(h.sid, "friend"))
	assert.Equal(t, true, fc.last(t, orch.EvMessageHistory)["isModerator"])
	assert.Equal(t, "friend", hostConn.last(t, orch.EvModeratorAdded).str("userId"))
}

func TestLifecycleNotifications(t *testing.T) {
	h := newHarness(t)
	life := app.NewLifecycle(h.store, 6*time.Hour).WithClock(func() time.Time { return h.now })
	life.SetNotifier(h.o)
	host, hostConn := h.joined("host")
	_, aliceConn := h.joined("alice")
	require.NoError(t, h.o.MakeModerator(h.ctx, host, orch.TargetUser{SessionID: h.sid, UserID: "alice"}))

	_, err := life.TransferHost(h.ctx, h.sid, "host", "alice")
	require.NoError(t, err)
	ev := aliceConn.last(t, orch.EvHostTransferred)
	assert.Equal(t, "alice", ev.str("to"))
	assert.False(t, h.reg.Moderation.IsModerator(h.sid, "alice"), "the new host is an implicit moderator")

	_, err = life.UpdateTags(h.ctx, h.sid, "alice", []string{"peated"})
	require.NoError(t, err)
	assert.Equal(t, []string{"peated"}, ids(hostConn.last(t, orch.EvCustomTagsUpdated), "tags"))

	_, err = life.End(h.ctx, h.sid, "alice")
	require.NoError(t, err)
	assert.Len(t, hostConn.events(t, orch.EvSessionEnded), 1)
	assert.Empty(t, h.reg.Moderation.ListModerators(h.sid))
}

func TestInjectMessage(t *testing.T) {
	h := newHarness(t)
	_, hostConn := h.joined("host")

	msg, err := h.o.InjectMessage(h.ctx, h.sid, domain.User{ID: "bot", DisplayName: "Sommelier"}, "Try it neat first.", "nose")
	require.NoError(t, err)
	assert.Equal(t, "nose", msg.Phase)
	assert.Equal(t, "Sommelier", hostConn.last(t, orch.EvNewMessage)["message"].(map[string]any)["displayName"])
}

func TestReject_ScopedToCaller(t *testing.T) {
	h := newHarness(t)
	_, hostConn := h.joined("host")
	alice, aliceConn := h.joined("alice")

	h.o.Reject(alice, "kick_user", h.sid, domain.Forbidden("not_moderator", "nope"))
	ev := aliceConn.last(t, orch.EvError)
	assert.Equal(t, "not_moderator", ev.str("code"))
	assert.Equal(t, "kick_user", ev.str("command"))
	assert.Empty(t, hostConn.events(t, orch.EvError))

	h.o.Reject(alice, "send_message", h.sid, errors.New("boom"))
	assert.Equal(t, "internal", aliceConn.last(t, orch.EvError).str("code"))
}
