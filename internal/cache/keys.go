package cache

import "fmt"

// Record key builders. Format: "<entity-kind>:<id>".

// UserKey returns the field-map key for a user snapshot.
func UserKey(userID string) string { return "users:" + userID }

// PostKey returns the field-map key for a post snapshot.
func PostKey(postID string) string { return "posts:" + postID }

// CommentsKey returns the comment list key for a post.
func CommentsKey(postID string) string { return "comments:" + postID }

// ReactionsKey returns the reaction list key for a post.
func ReactionsKey(postID string) string { return "reactions:" + postID }

// MessagesKey returns the message list key for a conversation.
func MessagesKey(conversationID string) string { return "messages:" + conversationID }

// ChatListKey returns the conversation list key for a user.
func ChatListKey(userID string) string { return "chatlist:" + userID }

// FollowersKey returns the follower list key for a user.
func FollowersKey(userID string) string { return "followers:" + userID }

// FollowingKey returns the following list key for a user.
func FollowingKey(userID string) string { return "following:" + userID }

// NotificationsKey returns the notification list key for a user.
func NotificationsKey(userID string) string { return "notifications:" + userID }

// Sorted index names. Members are entity ids, scores are uids.
const (
	PostIndex = "post"
	UserIndex = "user"
)

// IndexMembership names one (index, member) pair a record participates in,
// so deletion can strip every reference in one shot.
type IndexMembership struct {
	Index  string
	Member string
}

// Member returns an IndexMembership for key removal lists.
func Member(index, member string) IndexMembership {
	return IndexMembership{Index: index, Member: member}
}

func (m IndexMembership) String() string { return fmt.Sprintf("%s[%s]", m.Index, m.Member) }
