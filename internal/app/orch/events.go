package orch

import (
	"time"

	"github.com/dkeye/Tasting/internal/core"
	"github.com/dkeye/Tasting/internal/domain"
)

// Server -> client event types.
const (
	EvMessageHistory    = "message_history"
	EvNewMessage        = "new_message"
	EvMessageUpdated    = "message_updated"
	EvMessageDeleted    = "message_deleted"
	EvMessagesErased    = "messages_erased"
	EvActiveUsers       = "active_users"
	EvUserJoined        = "user_joined"
	EvUserLeft          = "user_left"
	EvYouWereKicked     = "you_were_kicked"
	EvYouWereMuted      = "you_were_muted"
	EvYouWereUnmuted    = "you_were_unmuted"
	EvUserMuted         = "user_muted"
	EvUserUnmuted       = "user_unmuted"
	EvUserKicked        = "user_kicked"
	EvUserUnkicked      = "user_unkicked"
	EvBannedUsersList   = "banned_users_list"
	EvModeratorAdded    = "moderator_added"
	EvModeratorRemoved  = "moderator_removed"
	EvSpoilersRevealed  = "spoilers_revealed"
	EvRatingUpdated     = "rating_updated"
	EvReadyCheckStarted = "ready_check_started"
	EvReadyCheckEnded   = "ready_check_ended"
	EvReadyCheckState   = "ready_check_state"
	EvUserReady         = "user_ready"
	EvSessionEnded      = "session_ended"
	EvHostTransferred   = "host_transferred"
	EvLivestreamUpdated = "livestream_updated"
	EvCustomTagsUpdated = "custom_tags_updated"
	EvLeftSession       = "left_session"
	EvError             = "error"
	EvPong              = "pong"
)

// SessionInfo is the session header sent with the history replay.
type SessionInfo struct {
	ID            domain.SessionID     `json:"id"`
	HostID        domain.UserID        `json:"hostId"`
	Title         string               `json:"title,omitempty"`
	Status        domain.SessionStatus `json:"status"`
	Products      []domain.Product     `json:"products"`
	CustomTags    []string             `json:"customTags"`
	LivestreamURL string               `json:"livestreamUrl,omitempty"`
	StartedAt     time.Time            `json:"startedAt"`
}

func sessionInfo(s *domain.Session) SessionInfo {
	return SessionInfo{
		ID:            s.ID,
		HostID:        s.HostID,
		Title:         s.Title,
		Status:        s.Status,
		Products:      s.Products,
		CustomTags:    s.CustomTags,
		LivestreamURL: s.LivestreamURL,
		StartedAt:     s.StartedAt,
	}
}

type MessageHistory struct {
	Type        string           `json:"type"`
	SessionID   domain.SessionID `json:"sessionId"`
	Session     SessionInfo      `json:"session"`
	Messages    []domain.Message `json:"messages"`
	IsReadOnly  bool             `json:"isReadOnly"`
	MyRatings   map[int]float64  `json:"myRatings,omitempty"`
	IsModerator bool             `json:"isModerator"`
}

type NewMessage struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
	Message   domain.Message   `json:"message"`
}

type MessageUpdated struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
	MessageID domain.MessageID `json:"messageId"`
	Content   string           `json:"content"`
	EditedAt  time.Time        `json:"editedAt"`
}

type MessageDeleted struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
	MessageID domain.MessageID `json:"messageId"`
	DeletedBy string           `json:"deletedBy"`
}

type MessagesErased struct {
	Type       string             `json:"type"`
	SessionID  domain.SessionID   `json:"sessionId"`
	UserID     domain.UserID      `json:"userId"`
	MessageIDs []domain.MessageID `json:"messageIds"`
}

// ActiveUser is one deduplicated participant.
type ActiveUser struct {
	UserID      domain.UserID   `json:"userId"`
	DisplayName string          `json:"displayName"`
	Avatar      string          `json:"avatar,omitempty"`
	Ratings     map[int]float64 `json:"ratings,omitempty"`
	IsHost      bool            `json:"isHost"`
	IsModerator bool            `json:"isModerator"`
}

type ActiveUsers struct {
	Type       string           `json:"type"`
	SessionID  domain.SessionID `json:"sessionId"`
	Users      []ActiveUser     `json:"users"`
	Count      int              `json:"count"`
	Moderators []domain.UserID  `json:"moderators"`
}

type UserJoined struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
	User      domain.User      `json:"user"`
	Count     int              `json:"count"`
}

type UserLeft struct {
	Type        string           `json:"type"`
	SessionID   domain.SessionID `json:"sessionId"`
	UserID      domain.UserID    `json:"userId"`
	DisplayName string           `json:"displayName"`
	Count       int              `json:"count"`
}

// Notice is a direct "you were acted upon" event.
type Notice struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
	By        string           `json:"by,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// ModerationAction is the session-wide announcement of a mute or kick.
type ModerationAction struct {
	Type        string             `json:"type"`
	SessionID   domain.SessionID   `json:"sessionId"`
	UserID      domain.UserID      `json:"userId"`
	DisplayName string             `json:"displayName"`
	By          string             `json:"by"`
	Erased      []domain.MessageID `json:"erasedMessageIds,omitempty"`
}

type BannedUsersList struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
	Kicked    []core.Sanction  `json:"kicked"`
	Muted     []core.Sanction  `json:"muted"`
}

type ModeratorChanged struct {
	Type        string           `json:"type"`
	SessionID   domain.SessionID `json:"sessionId"`
	UserID      domain.UserID    `json:"userId"`
	DisplayName string           `json:"displayName"`
	Moderators  []domain.UserID  `json:"moderators"`
}

type SpoilersRevealed struct {
	Type       string             `json:"type"`
	SessionID  domain.SessionID   `json:"sessionId"`
	MessageIDs []domain.MessageID `json:"messageIds"`
	IsGlobal   bool               `json:"isGlobal"`
	By         string             `json:"by"`
}

type RatingUpdated struct {
	Type         string           `json:"type"`
	SessionID    domain.SessionID `json:"sessionId"`
	UserID       domain.UserID    `json:"userId"`
	ProductIndex int              `json:"productIndex"`
	Average      float64          `json:"average"`
	Count        int              `json:"count"`
}

// SessionEvent carries events that only name the session.
type SessionEvent struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
}

type ReadyCheckState struct {
	Type           string           `json:"type"`
	SessionID      domain.SessionID `json:"sessionId"`
	Active         bool             `json:"active"`
	ReadyUserIDs   []domain.UserID  `json:"readyUserIds"`
	ReadyCount     int              `json:"readyCount"`
	Total          int              `json:"total"`
	Ratio          float64          `json:"ratio"`
	NearlyComplete bool             `json:"nearlyComplete"`
}

func readyCheckState(sid domain.SessionID, st core.ReadyState) ReadyCheckState {
	return ReadyCheckState{
		Type:           EvReadyCheckState,
		SessionID:      sid,
		Active:         st.Active,
		ReadyUserIDs:   st.Ready,
		ReadyCount:     len(st.Ready),
		Total:          st.Total,
		Ratio:          st.Ratio(),
		NearlyComplete: st.NearlyComplete(),
	}
}

type UserReady struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
	UserID    domain.UserID    `json:"userId"`
	Ready     bool             `json:"ready"`
}

type SessionEnded struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
	EndedAt   *time.Time       `json:"endedAt,omitempty"`
}

type HostTransferred struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
	From      domain.UserID    `json:"from"`
	To        domain.UserID    `json:"to"`
}

type LivestreamUpdated struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
	URL       string           `json:"url"`
}

type CustomTagsUpdated struct {
	Type      string           `json:"type"`
	SessionID domain.SessionID `json:"sessionId"`
	Tags      []string         `json:"tags"`
}

// ErrorEvent is the only shape a failed command produces.
type ErrorEvent struct {
	Type             string           `json:"type"`
	Message          string           `json:"message"`
	Code             string           `json:"code,omitempty"`
	RemainingSeconds int              `json:"remainingSeconds,omitempty"`
	Command          string           `json:"command,omitempty"`
	SessionID        domain.SessionID `json:"sessionId,omitempty"`
}
